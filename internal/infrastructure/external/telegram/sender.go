package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/garyjia/docflow/internal/application/port"
	"github.com/garyjia/docflow/internal/domain/entity"
)

// BotAPI is the subset of tgbotapi.BotAPI used for delivery
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender delivers notifications to Telegram chats
type Sender struct {
	bot    BotAPI
	logger *zap.Logger
}

// NewSender creates the chat_b channel sender
func NewSender(bot BotAPI, logger *zap.Logger) *Sender {
	return &Sender{bot: bot, logger: logger}
}

// Channel implements port.Sender
func (s *Sender) Channel() entity.Channel {
	return entity.ChannelChatB
}

// Send implements port.Sender. Approval requests carry approve and reject
// buttons whose callback data the poller understands.
func (s *Sender) Send(ctx context.Context, n *entity.Notification) error {
	chatID, err := strconv.ParseInt(n.Target, 10, 64)
	if err != nil {
		return &port.PermanentError{Err: fmt.Errorf("invalid chat id %q: %w", n.Target, err)}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, n.Message)
	if n.AwaitsApproval() {
		if keyboard, ok := ApprovalKeyboard(string(n.DocumentType), n.DocumentID, string(n.DocumentState)); ok {
			msg.ReplyMarkup = keyboard
		} else {
			s.logger.Info("Approval button omitted, callback data too long",
				zap.String("type", string(n.DocumentType)),
				zap.String("id", n.DocumentID))
		}
	}
	if _, err := s.bot.Send(msg); err != nil {
		return classify(err)
	}

	if n.Attachment != nil && len(n.Attachment.Data) > 0 {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: n.Attachment.FileName, Bytes: n.Attachment.Data})
		if _, err := s.bot.Send(doc); err != nil {
			return classify(err)
		}
		s.logger.Info("Telegram attachment delivered",
			zap.Int64("chat_id", chatID),
			zap.String("file_name", n.Attachment.FileName))
	}
	return nil
}

// maxCallbackData is the Telegram limit on inline button data, in bytes
const maxCallbackData = 64

// ApprovalKeyboard builds the approve button for a document in state. It
// reports false when the callback data would exceed the Telegram limit;
// the message text still carries the reply command.
func ApprovalKeyboard(docType, id, state string) (tgbotapi.InlineKeyboardMarkup, bool) {
	data := CallbackData("approve", docType, id, state)
	if state == "" || len(data) > maxCallbackData {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Approve", data),
		),
	), true
}

// CallbackData encodes an inline button action on a document in state
func CallbackData(action, docType, id, state string) string {
	return action + ":" + docType + ":" + id + ":" + state
}

// Bad requests (chat not found) and forbidden (bot blocked) are permanent
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == 400 || apiErr.Code == 403) {
		return &port.PermanentError{Err: err}
	}
	return err
}
