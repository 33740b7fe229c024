package lark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/docflow/internal/application/port"
	"github.com/garyjia/docflow/internal/domain/entity"
)

// MessageAPI is the subset of the Lark client used for delivery
type MessageAPI interface {
	SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error)
	UploadFile(ctx context.Context, fileName string, data []byte) (string, error)
}

// Lark error codes that retrying cannot fix: invalid receive id, the user
// is outside the bot's availability, the bot is not in the chat
var permanentCodes = map[int]bool{
	230001:   true,
	230002:   true,
	230013:   true,
	99992361: true,
}

// Sender delivers notifications to Lark users by open_id
type Sender struct {
	api    MessageAPI
	logger *zap.Logger
}

// NewSender creates the chat_a channel sender
func NewSender(api MessageAPI, logger *zap.Logger) *Sender {
	return &Sender{api: api, logger: logger}
}

// Channel implements port.Sender
func (s *Sender) Channel() entity.Channel {
	return entity.ChannelChatA
}

// Send implements port.Sender. The text goes first; an attachment follows
// as a file message.
func (s *Sender) Send(ctx context.Context, n *entity.Notification) error {
	if n.Target == "" {
		return &port.PermanentError{Err: errors.New("open_id cannot be empty")}
	}

	text, err := json.Marshal(map[string]string{"text": n.Message})
	if err != nil {
		return &port.PermanentError{Err: fmt.Errorf("marshal text content: %w", err)}
	}
	if _, err := s.api.SendMessage(ctx, "open_id", n.Target, "text", string(text)); err != nil {
		return classify(err)
	}

	if n.Attachment == nil || len(n.Attachment.Data) == 0 {
		return nil
	}

	fileKey, err := s.api.UploadFile(ctx, n.Attachment.FileName, n.Attachment.Data)
	if err != nil {
		return classify(err)
	}
	content, _ := json.Marshal(map[string]string{"file_key": fileKey})
	if _, err := s.api.SendMessage(ctx, "open_id", n.Target, "file", string(content)); err != nil {
		return classify(err)
	}

	s.logger.Info("Lark notification delivered",
		zap.String("open_id", n.Target),
		zap.String("attachment", n.Attachment.FileName))
	return nil
}

// Reply sends a plain text answer to a chat, used by the bot ingress
func (s *Sender) Reply(ctx context.Context, chatID, message string) error {
	text, _ := json.Marshal(map[string]string{"text": message})
	_, err := s.api.SendMessage(ctx, "chat_id", chatID, "text", string(text))
	return err
}

func classify(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && permanentCodes[apiErr.Code] {
		return &port.PermanentError{Err: err}
	}
	return err
}
