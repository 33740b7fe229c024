package container

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/docflow/internal/application/workflow"
	"github.com/garyjia/docflow/internal/config"
	"github.com/garyjia/docflow/internal/directory"
	"github.com/garyjia/docflow/internal/domain/entity"
	domainwf "github.com/garyjia/docflow/internal/domain/workflow"
)

func testConfig(driver, path string) *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080},
		Database: config.DatabaseConfig{Driver: driver, Path: path, MaxOpenConns: 1},
		Engine:   config.EngineConfig{MaxAttempts: 5, RetryBackoff: time.Millisecond},
		Notify:   config.NotifyConfig{MaxAttempts: 1, BaseBackoff: time.Millisecond},
		Push:     config.PushConfig{Enabled: true, BufferSize: 4},
		Reminder: config.ReminderConfig{Enabled: true, Schedule: "0 9 * * *"},
		Directory: config.DirectoryConfig{Users: []directory.User{
			{Name: "Li", Role: domainwf.RoleFinance, PushTarget: "console-li"},
		}},
	}
}

func TestContainer_Lifecycle(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(t *testing.T) *config.Config
	}{
		{name: "memory", cfg: func(*testing.T) *config.Config { return testConfig(config.DriverMemory, "") }},
		{name: "sqlite", cfg: func(t *testing.T) *config.Config {
			return testConfig(config.DriverSQLite, filepath.Join(t.TempDir(), "docflow.db"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := zap.NewDevelopment()
			c, err := NewContainer(tt.cfg(t), logger)
			require.NoError(t, err)

			ctx := context.Background()
			require.NoError(t, c.Start(ctx))
			assert.True(t, c.Ready())
			assert.Error(t, c.Start(ctx))

			doc, err := c.Engine().Create(ctx, workflow.CreateRequest{Type: domainwf.TypePaymentOrder, ID: "42", ActorName: "Req"})
			require.NoError(t, err)
			assert.Equal(t, domainwf.StatePending, doc.Status)

			health := c.Health(ctx)
			assert.True(t, health.Overall, "%+v", health.Components)
			assert.Equal(t, 1, c.Workers().Count())
			assert.ElementsMatch(t, []entity.Channel{entity.ChannelPush}, c.Notify().Sender.Channels())

			require.NoError(t, c.Close())
			assert.False(t, c.Ready())
			assert.Error(t, c.Close())
			assert.Error(t, c.Start(ctx))
		})
	}
}

func TestNewContainer_Validation(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	_, err := NewContainer(nil, logger)
	assert.Error(t, err)

	_, err = NewContainer(testConfig(config.DriverMemory, ""), nil)
	assert.Error(t, err)

	_, err = NewContainer(testConfig("postgres", ""), logger)
	assert.Error(t, err)
}

func TestConvertToZapFields(t *testing.T) {
	fields := convertToZapFields("id", "42", 7, "skipped", "error", assert.AnError, "dangling")
	require.Len(t, fields, 2)
	assert.Equal(t, "id", fields[0].Key)
	assert.Equal(t, "error", fields[1].Key)
}
