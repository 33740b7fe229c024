package entity

import (
	"time"

	"github.com/garyjia/docflow/internal/domain/workflow"
)

// Channel is a notification delivery channel
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelChatA Channel = "chat_a"
	ChannelChatB Channel = "chat_b"
)

// Attachment is a file delivered along with a notification
type Attachment struct {
	FileName string `json:"file_name"`
	Data     []byte `json:"-"`
}

// Notification is one composed message for one target on one channel
type Notification struct {
	ID         string      `json:"id"`
	Channel    Channel     `json:"channel"`
	Target     string      `json:"target"`
	Message    string      `json:"message"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`

	// DocumentType, DocumentID and DocumentState are set when the recipient
	// is asked to approve the referenced document in that state
	DocumentType  workflow.DocumentType `json:"document_type,omitempty"`
	DocumentID    string                `json:"document_id,omitempty"`
	DocumentState workflow.State        `json:"document_state,omitempty"`
}

// AwaitsApproval reports whether the notification asks for an approval
func (n *Notification) AwaitsApproval() bool {
	return n.DocumentType != "" && n.DocumentID != ""
}
