// Package telegram provides the Telegram bot ingress: a long poller that
// runs chat messages and inline button presses as engine commands.
package telegram

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/garyjia/docflow/internal/directory"
	"github.com/garyjia/docflow/internal/interfaces/command"
)

// UnknownSenderReply answers updates from users missing in the directory
const UnknownSenderReply = "you are not registered for document approvals"

// BotAPI is the subset of tgbotapi.BotAPI the poller needs
type BotAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// CommandRunner executes chat commands on behalf of a user
type CommandRunner interface {
	Handle(ctx context.Context, actor directory.User, text string) string
	Run(ctx context.Context, actor directory.User, cmd command.Command) string
}

// UserLookup maps a Telegram user id to a directory user
type UserLookup interface {
	ByTelegramChatID(id int64) (directory.User, bool)
}

// PollerConfig holds long polling settings
type PollerConfig struct {
	Timeout int
}

// Poller receives updates from Telegram and dispatches them
type Poller struct {
	bot      BotAPI
	users    UserLookup
	commands CommandRunner
	timeout  int
	logger   *zap.Logger

	mu      sync.Mutex
	started bool
}

// NewPoller creates a Telegram poller
func NewPoller(cfg PollerConfig, bot BotAPI, users UserLookup, commands CommandRunner, logger *zap.Logger) *Poller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30
	}
	return &Poller{
		bot:      bot,
		users:    users,
		commands: commands,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

// Start polls until ctx is cancelled or the update channel closes
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("poller already started")
	}
	p.started = true
	p.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = p.timeout
	updates := p.bot.GetUpdatesChan(u)

	p.logger.Info("Starting Telegram poller", zap.Int("timeout", p.timeout))

	for {
		select {
		case <-ctx.Done():
			p.Stop()
			return nil
		case update, ok := <-updates:
			if !ok {
				p.logger.Info("Telegram update channel closed")
				return nil
			}
			p.handleUpdate(ctx, update)
		}
	}
}

// Stop stops receiving updates
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	p.bot.StopReceivingUpdates()
	p.logger.Info("Telegram poller stopped")
}

func (p *Poller) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		p.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.Text != "":
		p.handleMessage(ctx, update.Message)
	}
}

func (p *Poller) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}

	reply := UnknownSenderReply
	if user, ok := p.users.ByTelegramChatID(msg.From.ID); ok {
		reply = p.commands.Handle(ctx, user, msg.Text)
		p.logger.Info("Telegram command handled",
			zap.String("user", user.Name),
			zap.String("command", msg.Text))
	} else {
		p.logger.Info("Refusing command from unknown Telegram user", zap.Int64("user_id", msg.From.ID))
	}

	p.reply(msg.Chat.ID, reply)
}

func (p *Poller) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.From == nil {
		return
	}

	var reply string
	user, ok := p.users.ByTelegramChatID(q.From.ID)
	switch {
	case !ok:
		reply = UnknownSenderReply
	default:
		cmd, err := command.ParseCallback(q.Data)
		if err != nil {
			p.logger.Info("Ignoring malformed callback", zap.String("data", q.Data), zap.Error(err))
			reply = err.Error()
		} else {
			reply = p.commands.Run(ctx, user, cmd)
		}
	}

	if _, err := p.bot.Request(tgbotapi.NewCallback(q.ID, truncate(reply, 190))); err != nil {
		p.logger.Error("Failed to answer callback", zap.String("callback_id", q.ID), zap.Error(err))
	}

	chatID := q.From.ID
	if q.Message != nil && q.Message.Chat != nil {
		chatID = q.Message.Chat.ID
	}
	p.reply(chatID, reply)
}

func (p *Poller) reply(chatID int64, text string) {
	if _, err := p.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		p.logger.Error("Failed to reply in Telegram chat", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// callback answers are limited to 200 characters
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
