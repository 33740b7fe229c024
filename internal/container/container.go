package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/docflow/internal/application/dispatcher"
	"github.com/garyjia/docflow/internal/application/workflow"
	"github.com/garyjia/docflow/internal/config"
	"github.com/garyjia/docflow/internal/directory"
	domainwf "github.com/garyjia/docflow/internal/domain/workflow"
	"github.com/garyjia/docflow/internal/infrastructure/worker"
	"github.com/garyjia/docflow/internal/interfaces/command"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Infrastructure - Data
	stores *StoreBundle

	// Infrastructure - Channels
	directory *directory.Directory
	channels  *ChannelBundle

	// Application
	registry   *domainwf.Registry
	dispatcher dispatcher.Dispatcher
	engine     workflow.Engine
	notify     *NotifyBundle
	commands   *command.Executor

	// Workers
	workers *worker.Manager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config:   cfg,
		logger:   logger,
		registry: domainwf.DefaultRegistry(),
	}, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Document store
// 2. Directory and notification channels
// 3. Event dispatcher, workflow engine and notifications
// 4. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	// Step 1: Initialize the document store
	if err := c.initStores(); err != nil {
		return fmt.Errorf("failed to initialize stores: %w", err)
	}
	c.logger.Info("Document store initialized", zap.String("driver", c.config.Database.Driver))

	// Step 2: Initialize directory and channels
	if err := c.initChannels(); err != nil {
		return fmt.Errorf("failed to initialize channels: %w", err)
	}
	c.logger.Info("Notification channels initialized", zap.Int("users", len(c.directory.Users())))

	// Step 3: Initialize dispatcher, engine and notifications
	if err := c.initDispatcherAndEngine(); err != nil {
		return fmt.Errorf("failed to initialize dispatcher and engine: %w", err)
	}
	c.logger.Info("Dispatcher and workflow engine initialized")

	// Step 4: Initialize and start workers
	if err := c.initWorkers(); err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized and started", zap.Int("count", c.workers.Count()))

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	// Step 1: Stop workers (reverse of step 4)
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
	}

	// Step 2: Close dispatcher, waiting for in-flight notifications (reverse of step 3)
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	// Step 3: Close push subscriptions (reverse of step 2)
	if c.channels != nil && c.channels.Push != nil {
		if err := c.channels.Push.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close push hub: %w", err))
		}
	}

	// Step 4: Close database (reverse of step 1)
	if c.stores != nil && c.stores.DB != nil {
		if err := c.stores.DB.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	if c.stores != nil {
		if err := c.stores.Health.Ping(ctx); err != nil {
			status.Components["store"] = ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)}
			status.Overall = false
		} else {
			status.Components["store"] = ComponentHealth{Healthy: true}
		}
	} else {
		status.Components["store"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	if c.workers != nil {
		healthy := c.workers.Count() == 0 || c.workers.IsRunning()
		status.Components["workers"] = ComponentHealth{
			Healthy: healthy,
			Message: fmt.Sprintf("worker count: %d", c.workers.Count()),
		}
		if !healthy {
			status.Overall = false
		}
	} else {
		status.Components["workers"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	if c.notify != nil {
		status.Components["notify"] = ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("channels: %v", c.notify.Sender.Channels()),
		}
	} else {
		status.Components["notify"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	return status
}

func (c *Container) initStores() error {
	stores, err := ProvideStores(&c.config.Database, c.logger.Named("store"))
	if err != nil {
		return err
	}
	c.stores = stores
	return nil
}

func (c *Container) initChannels() error {
	dir, err := ProvideDirectory(&c.config.Directory)
	if err != nil {
		return err
	}
	c.directory = dir

	channels, err := ProvideChannels(c.config, c.logger)
	if err != nil {
		return err
	}
	c.channels = channels
	return nil
}

func (c *Container) initDispatcherAndEngine() error {
	disp, err := ProvideDispatcher(c.config.Notify.HandlerTimeout, c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp

	engine, err := ProvideEngine(&EngineDeps{
		Registry:   c.registry,
		Stores:     c.stores,
		Dispatcher: c.dispatcher,
		Config:     &c.config.Engine,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.engine = engine

	bundle, err := ProvideNotifications(&NotifyDeps{
		Registry:   c.registry,
		Directory:  c.directory,
		Channels:   c.channels,
		Dispatcher: c.dispatcher,
		Config:     &c.config.Notify,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.notify = bundle

	c.commands = command.NewExecutor(c.engine, &zapLoggerAdapter{logger: c.logger.Named("command")})
	return nil
}

func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Engine:   c.engine,
		Notify:   c.notify,
		Reminder: &c.config.Reminder,
		Types:    c.config.ReminderTypes(),
		Logger:   c.logger,
	})
	if err != nil {
		return err
	}
	c.workers = workers

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	return nil
}

// Getters for accessing container components

// Engine returns the workflow engine.
func (c *Container) Engine() workflow.Engine {
	return c.engine
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Directory returns the user directory.
func (c *Container) Directory() *directory.Directory {
	return c.directory
}

// Channels returns the notification channels.
func (c *Container) Channels() *ChannelBundle {
	return c.channels
}

// Stores returns the persistence ports.
func (c *Container) Stores() *StoreBundle {
	return c.stores
}

// Commands returns the chat command executor.
func (c *Container) Commands() *command.Executor {
	return c.commands
}

// Notify returns the notification components.
func (c *Container) Notify() *NotifyBundle {
	return c.notify
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Logger is the key-value logger taken by application and interface adapters.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// KVLogger returns a named key-value logger.
func (c *Container) KVLogger(name string) Logger {
	return &zapLoggerAdapter{logger: c.logger.Named(name)}
}

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the key-value Logger interfaces of
// the application and interface layers.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, ok := keysAndValues[i+1].(error); ok {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
