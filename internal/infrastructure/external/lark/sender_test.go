package lark

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/docflow/internal/application/port"
	"github.com/garyjia/docflow/internal/domain/entity"
)

type sentMessage struct {
	receiveIDType, receiveID, msgType, content string
}

type mockMessageAPI struct {
	sent      []sentMessage
	uploads   []string
	sendErr   error
	uploadErr error
}

func (m *mockMessageAPI) SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error) {
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.sent = append(m.sent, sentMessage{receiveIDType, receiveID, msgType, content})
	return "om_1", nil
}

func (m *mockMessageAPI) UploadFile(ctx context.Context, fileName string, data []byte) (string, error) {
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	m.uploads = append(m.uploads, fileName)
	return "file_v2_abc", nil
}

func TestSender_SendText(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	api := &mockMessageAPI{}
	s := NewSender(api, logger)

	assert.Equal(t, entity.ChannelChatA, s.Channel())

	err := s.Send(context.Background(), &entity.Notification{Target: "ou_1", Message: "line \"one\"\nline two"})
	require.NoError(t, err)
	require.Len(t, api.sent, 1)
	assert.Equal(t, "open_id", api.sent[0].receiveIDType)
	assert.Equal(t, "text", api.sent[0].msgType)
	assert.JSONEq(t, `{"text":"line \"one\"\nline two"}`, api.sent[0].content)
}

func TestSender_SendAttachment(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	api := &mockMessageAPI{}
	s := NewSender(api, logger)

	err := s.Send(context.Background(), &entity.Notification{
		Target:     "ou_1",
		Message:    "day archived",
		Attachment: &entity.Attachment{FileName: "security_log_2024-05-01.xlsx", Data: []byte("xlsx")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"security_log_2024-05-01.xlsx"}, api.uploads)
	require.Len(t, api.sent, 2)
	assert.Equal(t, "file", api.sent[1].msgType)
	assert.JSONEq(t, `{"file_key":"file_v2_abc"}`, api.sent[1].content)
}

func TestSender_ErrorClassification(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"invalid receive id", &APIError{Code: 230001, Msg: "invalid receive_id"}, true},
		{"rate limited", &APIError{Code: 99991400, Msg: "request trigger frequency limit"}, false},
		{"network", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSender(&mockMessageAPI{sendErr: tt.err}, logger)
			err := s.Send(context.Background(), &entity.Notification{Target: "ou_1", Message: "x"})
			require.Error(t, err)

			var permanent *port.PermanentError
			assert.Equal(t, tt.permanent, errors.As(err, &permanent))
		})
	}

	s := NewSender(&mockMessageAPI{}, logger)
	var permanent *port.PermanentError
	assert.True(t, errors.As(s.Send(context.Background(), &entity.Notification{Message: "x"}), &permanent))
}
