package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/garyjia/docflow/internal/config"
	"github.com/garyjia/docflow/internal/container"
	httpapi "github.com/garyjia/docflow/internal/interfaces/http"
	"github.com/garyjia/docflow/internal/interfaces/telegram"
	"github.com/garyjia/docflow/internal/interfaces/websocket"
	"github.com/garyjia/docflow/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
		Service:    "docflow",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting document approval service",
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Driver))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create container", zap.Error(err))
	}
	if err := c.Start(ctx); err != nil {
		logger.Fatal("Failed to start container", zap.Error(err))
	}

	var push httpapi.PushEndpoint
	if hub := c.Channels().Push; hub != nil {
		push = hub
	}

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, c.Engine(), c.Stores().Health, push, c.KVLogger("http"))

	var (
		wg   sync.WaitGroup
		errs = make(chan error, 3)
	)
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	run("http", server.Start)

	if channels := c.Channels(); channels.LarkSender != nil {
		adapter := websocket.NewLarkAdapter(websocket.LarkAdapterConfig{
			AppID:     cfg.Lark.AppID,
			AppSecret: cfg.Lark.AppSecret,
		}, c.Directory(), c.Commands(), channels.LarkSender, logger.Named("lark-ws"))
		// The Lark ws client does not return on cancellation, so it is not waited for
		go func() {
			if err := adapter.Start(ctx); err != nil {
				errs <- fmt.Errorf("lark: %w", err)
			}
		}()
		defer adapter.Stop()
	}

	if channels := c.Channels(); channels.TelegramBot != nil {
		poller := telegram.NewPoller(telegram.PollerConfig{Timeout: cfg.Telegram.PollTimeout},
			channels.TelegramBot, c.Directory(), c.Commands(), logger.Named("telegram"))
		run("telegram", poller.Start)
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errs:
		logger.Error("Ingress failed, shutting down", zap.Error(err))
		stop()
	}

	wg.Wait()

	if err := c.Close(); err != nil {
		logger.Error("Container shutdown error", zap.Error(err))
	}
	logger.Info("Server exited")
}
