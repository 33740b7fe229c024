// Package websocket provides the Lark bot ingress. Lark delivers chat
// messages over its long-lived websocket; each text message is run as a
// command on behalf of the directory user who sent it.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	larkdispatcher "github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"go.uber.org/zap"

	"github.com/garyjia/docflow/internal/directory"
)

const messageTypeText = "text"

// UnknownSenderReply answers messages from users missing in the directory
const UnknownSenderReply = "you are not registered for document approvals"

// CommandHandler runs one chat command and returns the reply text
type CommandHandler interface {
	Handle(ctx context.Context, actor directory.User, text string) string
}

// Replier posts a text reply into a Lark chat
type Replier interface {
	Reply(ctx context.Context, chatID, message string) error
}

// UserLookup maps a Lark open_id to a directory user
type UserLookup interface {
	ByLarkOpenID(openID string) (directory.User, bool)
}

// LarkAdapterConfig holds configuration for the Lark WebSocket adapter.
type LarkAdapterConfig struct {
	AppID     string
	AppSecret string
}

// LarkAdapter wraps the Lark WebSocket SDK client and turns received
// messages into engine commands.
type LarkAdapter struct {
	appID     string
	appSecret string
	users     UserLookup
	commands  CommandHandler
	replier   Replier
	logger    *zap.Logger

	wsClient *larkws.Client
	mu       sync.RWMutex
	started  bool
}

// inboundMessage is the part of a receive event the adapter acts on
type inboundMessage struct {
	MessageID   string
	SenderID    string
	ChatID      string
	MessageType string
	Content     string
}

// NewLarkAdapter creates a new Lark WebSocket adapter.
func NewLarkAdapter(cfg LarkAdapterConfig, users UserLookup, commands CommandHandler, replier Replier, logger *zap.Logger) *LarkAdapter {
	return &LarkAdapter{
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
		users:     users,
		commands:  commands,
		replier:   replier,
		logger:    logger,
	}
}

// Start opens the WebSocket connection and blocks until the context is
// cancelled or the client fails.
func (a *LarkAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("adapter already started")
	}

	// Verification token and encrypt key are not used in WebSocket mode
	sdkDispatcher := larkdispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(a.onMessageReceive)

	a.wsClient = larkws.NewClient(
		a.appID,
		a.appSecret,
		larkws.WithEventHandler(sdkDispatcher),
	)

	a.started = true
	a.mu.Unlock()

	a.logger.Info("Starting Lark WebSocket adapter", zap.String("app_id", a.appID))

	if err := a.wsClient.Start(ctx); err != nil {
		a.logger.Error("Lark WebSocket client error", zap.Error(err))
		return fmt.Errorf("websocket client error: %w", err)
	}

	return nil
}

// Stop marks the adapter stopped. The SDK client itself is stopped by
// cancelling the context passed to Start.
func (a *LarkAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}

	a.started = false
	a.logger.Info("Lark WebSocket adapter stopped")
	return nil
}

// IsRunning returns whether the adapter is currently running.
func (a *LarkAdapter) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.started
}

func (a *LarkAdapter) onMessageReceive(ctx context.Context, evt *larkim.P2MessageReceiveV1) error {
	msg, ok := toInbound(evt)
	if !ok {
		a.logger.Debug("Ignoring Lark event without message")
		return nil
	}
	return a.handleMessage(ctx, msg)
}

// handleMessage never returns an error for a bad command: the user gets
// the refusal as a reply instead. Only a failed reply is reported to the SDK.
func (a *LarkAdapter) handleMessage(ctx context.Context, msg inboundMessage) error {
	if msg.MessageType != messageTypeText {
		a.logger.Debug("Ignoring non-text Lark message",
			zap.String("message_id", msg.MessageID),
			zap.String("message_type", msg.MessageType))
		return nil
	}

	text, err := textContent(msg.Content)
	if err != nil {
		a.logger.Error("Failed to parse Lark message content",
			zap.Error(err),
			zap.String("message_id", msg.MessageID))
		return nil
	}
	if text == "" {
		return nil
	}

	var reply string
	user, ok := a.users.ByLarkOpenID(msg.SenderID)
	if !ok {
		a.logger.Info("Refusing command from unknown Lark user",
			zap.String("open_id", msg.SenderID),
			zap.String("chat_id", msg.ChatID))
		reply = UnknownSenderReply
	} else {
		reply = a.commands.Handle(ctx, user, text)
		a.logger.Info("Lark command handled",
			zap.String("user", user.Name),
			zap.String("message_id", msg.MessageID),
			zap.String("command", text))
	}

	if err := a.replier.Reply(ctx, msg.ChatID, reply); err != nil {
		a.logger.Error("Failed to reply in Lark chat",
			zap.Error(err),
			zap.String("chat_id", msg.ChatID))
		return fmt.Errorf("reply to chat %s: %w", msg.ChatID, err)
	}
	return nil
}

func toInbound(evt *larkim.P2MessageReceiveV1) (inboundMessage, bool) {
	if evt == nil || evt.Event == nil || evt.Event.Message == nil {
		return inboundMessage{}, false
	}
	m := evt.Event.Message
	msg := inboundMessage{
		MessageID:   deref(m.MessageId),
		ChatID:      deref(m.ChatId),
		MessageType: deref(m.MessageType),
		Content:     deref(m.Content),
	}
	if s := evt.Event.Sender; s != nil && s.SenderId != nil {
		msg.SenderID = deref(s.SenderId.OpenId)
	}
	return msg, true
}

// textContent extracts the text of a text message and drops @mention
// placeholders such as "@_user_1".
func textContent(content string) (string, error) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &body); err != nil {
		return "", err
	}

	fields := strings.Fields(body.Text)
	kept := fields[:0]
	for _, f := range fields {
		if strings.HasPrefix(f, "@_user") || strings.HasPrefix(f, "@_all") {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " "), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
