// Package container provides dependency injection and lifecycle management
// for the document approval service.
package container

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/garyjia/docflow/internal/application/dispatcher"
	"github.com/garyjia/docflow/internal/application/notify"
	"github.com/garyjia/docflow/internal/application/port"
	"github.com/garyjia/docflow/internal/application/workflow"
	"github.com/garyjia/docflow/internal/config"
	"github.com/garyjia/docflow/internal/directory"
	domainwf "github.com/garyjia/docflow/internal/domain/workflow"
	infraLark "github.com/garyjia/docflow/internal/infrastructure/external/lark"
	"github.com/garyjia/docflow/internal/infrastructure/external/telegram"
	"github.com/garyjia/docflow/internal/infrastructure/persistence/memory"
	"github.com/garyjia/docflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/docflow/internal/infrastructure/push"
	"github.com/garyjia/docflow/internal/infrastructure/worker"
	"github.com/garyjia/docflow/pkg/database"
)

// StoreBundle holds the persistence ports of the engine.
type StoreBundle struct {
	Documents port.DocumentStore
	Days      port.DayStore
	History   port.HistoryRepository
	Tx        port.TransactionManager
	Health    port.HealthChecker

	// DB is nil for the memory driver
	DB *database.DB
}

// ChannelBundle holds the notification channels. Disabled channels are nil.
type ChannelBundle struct {
	LarkClient     *infraLark.Client
	LarkSender     *infraLark.Sender
	TelegramBot    *tgbotapi.BotAPI
	TelegramSender *telegram.Sender
	Push           *push.Hub
}

// Senders returns the enabled channel senders
func (b *ChannelBundle) Senders() []port.Sender {
	var out []port.Sender
	if b.Push != nil {
		out = append(out, b.Push)
	}
	if b.LarkSender != nil {
		out = append(out, b.LarkSender)
	}
	if b.TelegramSender != nil {
		out = append(out, b.TelegramSender)
	}
	return out
}

// ProvideStores opens the configured store. The sqlite driver runs the
// embedded migrations before returning.
func ProvideStores(cfg *config.DatabaseConfig, logger *zap.Logger) (*StoreBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if cfg.Driver == config.DriverMemory {
		store := memory.NewStore()
		logger.Warn("Using in-memory document store, data is lost on restart")
		return &StoreBundle{
			Documents: store,
			Days:      store,
			History:   store,
			Tx:        store,
			Health:    store,
		}, nil
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	applied, err := database.NewMigrator(db, logger).RunMigrations(database.Migrations())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Database migrations complete", zap.Int("applied", applied))

	tx := sqlite.NewDB(db.DB, logger)
	return &StoreBundle{
		Documents: sqlite.NewDocumentStore(tx, logger),
		Days:      sqlite.NewDayStore(tx, logger),
		History:   sqlite.NewHistoryRepository(tx, logger),
		Tx:        tx,
		Health:    tx,
		DB:        db,
	}, nil
}

// ProvideDirectory builds the user directory from configuration.
func ProvideDirectory(cfg *config.DirectoryConfig) (*directory.Directory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("directory config is required")
	}
	return directory.New(cfg.Users)
}

// ProvideChannels creates the enabled notification channels.
func ProvideChannels(cfg *config.Config, logger *zap.Logger) (*ChannelBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	bundle := &ChannelBundle{}

	if cfg.Push.Enabled {
		bundle.Push = push.NewHub(push.Config{
			BufferSize:     cfg.Push.BufferSize,
			AllowedOrigins: cfg.Push.AllowedOrigins,
		}, logger.Named("push"))
	}

	if cfg.Lark.Enabled {
		bundle.LarkClient = infraLark.NewClient(infraLark.Config{
			AppID:     cfg.Lark.AppID,
			AppSecret: cfg.Lark.AppSecret,
		}, logger.Named("lark"))
		bundle.LarkSender = infraLark.NewSender(bundle.LarkClient, logger.Named("lark"))
	}

	if cfg.Telegram.Enabled {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram bot: %w", err)
		}
		bot.Debug = cfg.Telegram.Debug
		logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

		bundle.TelegramBot = bot
		bundle.TelegramSender = telegram.NewSender(bot, logger.Named("telegram"))
	}

	return bundle, nil
}

// ProvideDispatcher creates the event dispatcher. handlerTimeout bounds each
// asynchronous notification run; zero leaves it unbounded.
func ProvideDispatcher(handlerTimeout time.Duration, logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(&zapLoggerAdapter{logger: logger.Named("dispatcher")}),
		dispatcher.WithHandlerTimeout(handlerTimeout),
	), nil
}

// EngineDeps holds dependencies for the workflow engine.
type EngineDeps struct {
	Registry   *domainwf.Registry
	Stores     *StoreBundle
	Dispatcher dispatcher.Dispatcher
	Config     *config.EngineConfig
	Logger     *zap.Logger
}

// ProvideEngine creates the workflow engine.
func ProvideEngine(deps *EngineDeps) (workflow.Engine, error) {
	if deps == nil || deps.Stores == nil || deps.Config == nil {
		return nil, fmt.Errorf("engine dependencies are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	opts := []workflow.EngineOption{
		workflow.WithLogger(&zapLoggerAdapter{logger: deps.Logger.Named("engine")}),
		workflow.WithMaxAttempts(deps.Config.MaxAttempts),
	}
	if deps.Dispatcher != nil {
		opts = append(opts, workflow.WithDispatcher(deps.Dispatcher))
	}
	if deps.Config.RetryBackoff > 0 {
		opts = append(opts, workflow.WithRetryBackoff(deps.Config.RetryBackoff))
	}
	if deps.Config.WriteTimeout > 0 {
		opts = append(opts, workflow.WithWriteTimeout(deps.Config.WriteTimeout))
	}

	return workflow.NewEngine(deps.Registry, workflow.Stores{
		Documents: deps.Stores.Documents,
		Days:      deps.Stores.Days,
		History:   deps.Stores.History,
		Tx:        deps.Stores.Tx,
	}, opts...), nil
}

// NotifyDeps holds dependencies for notification delivery.
type NotifyDeps struct {
	Registry   *domainwf.Registry
	Directory  *directory.Directory
	Channels   *ChannelBundle
	Dispatcher dispatcher.Dispatcher
	Config     *config.NotifyConfig
	Logger     *zap.Logger
}

// NotifyBundle holds the notification components.
type NotifyBundle struct {
	Composer *notify.Composer
	Sender   *notify.Dispatcher
	Handler  *notify.Handler
}

// ProvideNotifications creates the composer and delivery dispatcher and
// subscribes the notification handler to the event bus.
func ProvideNotifications(deps *NotifyDeps) (*NotifyBundle, error) {
	if deps == nil || deps.Channels == nil || deps.Config == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("notify dependencies are required")
	}

	logger := &zapLoggerAdapter{logger: deps.Logger.Named("notify")}
	composer := notify.NewComposer(deps.Registry, deps.Directory)
	sender := notify.NewDispatcher(notify.Config{
		MaxAttempts: deps.Config.MaxAttempts,
		BaseBackoff: deps.Config.BaseBackoff,
	}, logger, deps.Channels.Senders()...)

	handler := notify.NewHandler(composer, sender, deps.Registry, logger)
	handler.Register(deps.Dispatcher)

	deps.Logger.Info("Notification handler registered", zap.Any("channels", sender.Channels()))
	return &NotifyBundle{Composer: composer, Sender: sender, Handler: handler}, nil
}

// WorkerDeps holds dependencies for background workers.
type WorkerDeps struct {
	Engine   workflow.Engine
	Notify   *NotifyBundle
	Reminder *config.ReminderConfig
	Types    []domainwf.DocumentType
	Logger   *zap.Logger
}

// ProvideWorkers creates the worker manager with all enabled workers registered.
func ProvideWorkers(deps *WorkerDeps) (*worker.Manager, error) {
	if deps == nil || deps.Logger == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}

	manager := worker.NewManager(deps.Logger.Named("worker"))

	if deps.Reminder != nil && deps.Reminder.Enabled {
		types := deps.Types
		if len(types) == 0 {
			types = deps.Engine.Registry().Types()
		}
		reminder, err := worker.NewReminderWorker(worker.ReminderConfig{
			Schedule: deps.Reminder.Schedule,
			Types:    types,
		}, deps.Engine, deps.Notify.Composer, deps.Notify.Sender, deps.Logger.Named("reminder"))
		if err != nil {
			return nil, err
		}
		manager.Register(reminder)
	}

	return manager, nil
}
