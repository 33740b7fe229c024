package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/docflow/internal/application/port"
	"github.com/garyjia/docflow/internal/domain/entity"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// ErrNoSender is returned for a channel without a configured sender
var ErrNoSender = errors.New("no sender for channel")

// Config bounds delivery retries
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

// Dispatcher delivers notifications through one sender per channel,
// retrying transient failures with exponential backoff
type Dispatcher struct {
	senders map[entity.Channel]port.Sender
	cfg     Config
	logger  Logger
}

// NewDispatcher creates a dispatcher; senders are keyed by their Channel
func NewDispatcher(cfg Config, logger Logger, senders ...port.Sender) *Dispatcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = nopLogger{}
	}
	m := make(map[entity.Channel]port.Sender, len(senders))
	for _, s := range senders {
		if s != nil {
			m[s.Channel()] = s
		}
	}
	return &Dispatcher{senders: m, cfg: cfg, logger: logger}
}

// Channels reports which channels have a sender
func (d *Dispatcher) Channels() []entity.Channel {
	out := make([]entity.Channel, 0, len(d.senders))
	for c := range d.senders {
		out = append(out, c)
	}
	return out
}

// Send delivers n. The returned error is for the caller's logs only.
func (d *Dispatcher) Send(ctx context.Context, n *entity.Notification) error {
	sender, ok := d.senders[n.Channel]
	if !ok {
		d.logger.Error("Notification dropped", "channel", n.Channel, "target", n.Target, "error", ErrNoSender)
		return fmt.Errorf("%w: %s", ErrNoSender, n.Channel)
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		err := sender.Send(ctx, n)
		if err == nil {
			if attempt > 1 {
				d.logger.Info("Notification delivered after retry", "channel", n.Channel, "target", n.Target, "attempt", attempt)
			}
			return nil
		}
		lastErr = err

		var permanent *port.PermanentError
		if errors.As(err, &permanent) {
			break
		}
		if attempt == d.cfg.MaxAttempts {
			break
		}

		backoff := time.Duration(1<<uint(attempt-1)) * d.cfg.BaseBackoff
		d.logger.Info("Notification delivery failed, retrying",
			"channel", n.Channel,
			"target", n.Target,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if !sleep(ctx, backoff) {
			lastErr = ctx.Err()
			break
		}
	}

	d.logger.Error("Notification delivery failed",
		"channel", n.Channel,
		"target", n.Target,
		"notification_id", n.ID,
		"error", lastErr,
	)
	return fmt.Errorf("send %s notification to %s: %w", n.Channel, n.Target, lastErr)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// SendAll delivers every notification and returns how many failed
func (d *Dispatcher) SendAll(ctx context.Context, notifications []*entity.Notification) int {
	failed := 0
	for _, n := range notifications {
		if err := d.Send(ctx, n); err != nil {
			failed++
		}
	}
	return failed
}
