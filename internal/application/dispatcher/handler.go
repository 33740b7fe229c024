package dispatcher

import (
	"context"

	"github.com/garyjia/docflow/internal/domain/event"
)

// Handler processes domain events
type Handler func(ctx context.Context, evt *event.Event) error

// AllEvents subscribes a handler to every event type
const AllEvents event.Type = "*"
