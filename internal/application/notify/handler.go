package notify

import (
	"context"

	"github.com/garyjia/docflow/internal/application/dispatcher"
	"github.com/garyjia/docflow/internal/domain/entity"
	"github.com/garyjia/docflow/internal/domain/event"
	"github.com/garyjia/docflow/internal/domain/workflow"
)

// HandlerName is the subscription name on the event bus
const HandlerName = "notify"

// Handler composes and delivers notifications for engine events
type Handler struct {
	composer   *Composer
	dispatcher *Dispatcher
	registry   *workflow.Registry
	logger     Logger
}

// NewHandler creates a new notification handler
func NewHandler(composer *Composer, d *Dispatcher, registry *workflow.Registry, logger Logger) *Handler {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Handler{
		composer:   composer,
		dispatcher: d,
		registry:   registry,
		logger:     logger,
	}
}

// Register subscribes the handler to every event on bus
func (h *Handler) Register(bus dispatcher.Dispatcher) {
	bus.SubscribeNamed(dispatcher.AllEvents, HandlerName, h.Handle)
}

// Handle never fails: delivery problems are logged by the dispatcher
func (h *Handler) Handle(ctx context.Context, evt *event.Event) error {
	notifications := h.composer.Compose(evt)
	if len(notifications) == 0 {
		return nil
	}

	if attachment := h.attachment(evt); attachment != nil {
		for _, n := range notifications {
			n.Attachment = attachment
		}
	}

	failed := h.dispatcher.SendAll(ctx, notifications)
	h.logger.Info("Notifications dispatched",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"sent", len(notifications)-failed,
		"failed", failed,
	)
	return nil
}

// attachment renders the day sheet when a batch archives a day
func (h *Handler) attachment(evt *event.Event) *entity.Attachment {
	if evt.Type != event.TypeDayBatchApproved {
		return nil
	}
	def, err := h.registry.Definition(evt.DocumentType)
	if err != nil || evt.ToState != def.Final {
		return nil
	}

	day := evt.GetPayloadString(event.KeyDay)
	data, err := RenderDaySheet(evt.DocumentType, day, evt.Documents)
	if err != nil {
		h.logger.Error("Failed to render day sheet", "type", evt.DocumentType, "day", day, "error", err)
		return nil
	}
	return &entity.Attachment{FileName: DaySheetFileName(evt.DocumentType, day), Data: data}
}
