package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/docflow/internal/directory"
	"github.com/garyjia/docflow/internal/domain/workflow"
)

const sampleConfig = `
server:
  port: 9090
database:
  driver: memory
lark:
  enabled: true
  app_id: cli_a1
reminder:
  enabled: true
  schedule: "30 8 * * *"
  types: [payment_order, ExitPermit]
directory:
  users:
    - name: Li
      role: finance
      lark_open_id: ou_li
    - name: Ma
      role: manager
      telegram_chat_id: 200
    - name: Wang
      role: ceo
      push_target: console-wang
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("LARK_APP_SECRET", "from-env")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, "from-env", cfg.Lark.AppSecret)
	assert.Equal(t, 5, cfg.Engine.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Notify.BaseBackoff)
	assert.True(t, cfg.Push.Enabled)
	assert.Equal(t, []workflow.DocumentType{workflow.TypePaymentOrder, workflow.TypeExitPermit}, cfg.ReminderTypes())

	require.Len(t, cfg.Directory.Users, 3)
	assert.Equal(t, directory.User{Name: "Ma", Role: workflow.RoleManager, TelegramChatID: 200}, cfg.Directory.Users[1])
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func validConfig() Config {
	return Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Driver: DriverSQLite, Path: "data/docflow.db"},
		Engine:   EngineConfig{MaxAttempts: 5},
		Notify:   NotifyConfig{MaxAttempts: 3},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "postgres" }, wantErr: "database.driver"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database.path"},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "no engine attempts", mutate: func(c *Config) { c.Engine.MaxAttempts = 0 }, wantErr: "engine.max_attempts"},
		{name: "lark without secret", mutate: func(c *Config) {
			c.Lark = LarkConfig{Enabled: true, AppID: "cli_a1"}
		}, wantErr: "lark.app_secret"},
		{name: "telegram without token", mutate: func(c *Config) { c.Telegram.Enabled = true }, wantErr: "telegram.token"},
		{name: "unknown reminder type", mutate: func(c *Config) {
			c.Reminder = ReminderConfig{Enabled: true, Schedule: "0 9 * * *", Types: []string{"invoice"}}
		}, wantErr: "reminder.types"},
		{name: "bad directory role", mutate: func(c *Config) {
			c.Directory.Users = []directory.User{{Name: "Li", Role: "cashier"}}
		}, wantErr: "directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
