package port

import (
	"context"

	"github.com/garyjia/docflow/internal/domain/entity"
)

// Sender delivers notifications over one channel
type Sender interface {
	Channel() entity.Channel
	Send(ctx context.Context, n *entity.Notification) error
}

// PermanentError marks a delivery failure that retrying cannot fix
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}
