package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/garyjia/docflow/internal/domain/entity"
	"github.com/garyjia/docflow/internal/domain/workflow"
)

// DocumentLister lists the documents of one type
type DocumentLister interface {
	List(ctx context.Context, docType workflow.DocumentType) ([]*entity.Document, error)
}

// ReminderComposer builds the reminder digests
type ReminderComposer interface {
	Reminders(docs []*entity.Document) []*entity.Notification
}

// NotificationSender delivers notifications and reports failures
type NotificationSender interface {
	SendAll(ctx context.Context, notifications []*entity.Notification) int
}

// ReminderConfig holds reminder schedule settings
type ReminderConfig struct {
	// Schedule is a standard five-field cron expression
	Schedule string
	Types    []workflow.DocumentType
}

// ReminderWorker periodically reminds approvers of documents waiting on them
type ReminderWorker struct {
	cfg      ReminderConfig
	lister   DocumentLister
	composer ReminderComposer
	sender   NotificationSender
	logger   *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewReminderWorker validates the schedule and creates the worker
func NewReminderWorker(cfg ReminderConfig, lister DocumentLister, composer ReminderComposer, sender NotificationSender, logger *zap.Logger) (*ReminderWorker, error) {
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid reminder schedule %q: %w", cfg.Schedule, err)
	}
	return &ReminderWorker{
		cfg:      cfg,
		lister:   lister,
		composer: composer,
		sender:   sender,
		logger:   logger,
	}, nil
}

// Name returns the worker name
func (w *ReminderWorker) Name() string {
	return "reminder"
}

// Start schedules the digest job; it returns immediately
func (w *ReminderWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("reminder worker already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(w.cfg.Schedule, func() {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("Reminder run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule reminder: %w", err)
	}
	c.Start()

	w.cron = c
	w.running = true
	w.logger.Info("Reminder worker scheduled", zap.String("schedule", w.cfg.Schedule))
	return nil
}

// Stop waits for a running digest to finish
func (w *ReminderWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	<-w.cron.Stop().Done()
	w.running = false
	return nil
}

// RunOnce sends one round of reminders and returns how many were composed
func (w *ReminderWorker) RunOnce(ctx context.Context) (int, error) {
	var docs []*entity.Document
	for _, t := range w.cfg.Types {
		batch, err := w.lister.List(ctx, t)
		if err != nil {
			return 0, fmt.Errorf("list %s: %w", t, err)
		}
		docs = append(docs, batch...)
	}

	notifications := w.composer.Reminders(docs)
	if len(notifications) == 0 {
		return 0, nil
	}

	failed := w.sender.SendAll(ctx, notifications)
	w.logger.Info("Reminders sent",
		zap.Int("documents", len(docs)),
		zap.Int("notifications", len(notifications)),
		zap.Int("failed", failed))
	return len(notifications), nil
}
