package workflow

import (
	"context"
	"time"

	"github.com/garyjia/docflow/internal/domain/entity"
	"github.com/garyjia/docflow/internal/domain/event"
	domainwf "github.com/garyjia/docflow/internal/domain/workflow"
)

func (e *engineImpl) SubmitBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	const op = "submit_batch"

	def, err := e.definition(req.Type)
	if err != nil {
		return nil, err
	}
	if !def.Batched() {
		return nil, domainwf.NewError(domainwf.KindValidation, op, "%s is not approved in day batches", req.Type)
	}
	step, ok := def.BatchStep(req.Level)
	if !ok {
		return nil, domainwf.NewError(domainwf.KindValidation, op, "%s has no %s batch level", req.Type, req.Level)
	}
	flag, _ := def.DayFlag(req.Level)
	if _, err := time.Parse(entity.DayLayout, req.Date); err != nil {
		return nil, domainwf.NewError(domainwf.KindValidation, op, "date %q is not YYYY-MM-DD", req.Date)
	}

	role := domainwf.NormalizeRole(req.ActorRole)
	if !step.Authorizes(role) {
		return nil, domainwf.NewError(domainwf.KindAuthorization, op,
			"role %q may not submit the %s batch of %s", req.ActorRole, req.Level, req.Type)
	}

	unlock, err := e.lockDay(ctx, req.Date)
	if err != nil {
		return nil, classify(op, err)
	}
	defer unlock()

	out, err := e.mutate(ctx, op, func(ctx context.Context) (*outcome, error) {
		docs, err := e.docs.ListByDay(ctx, req.Type, req.Date)
		if err != nil {
			return nil, err
		}

		moved := make([]*entity.Document, 0, len(docs))
		for _, doc := range docs {
			if doc.Status != step.State {
				continue
			}
			updated, err := e.advance(def, doc, role, req.ActorName, domainwf.TriggerBatch)
			if err != nil {
				return nil, err
			}
			if err := e.docs.CompareAndSwap(ctx, doc.Version, updated); err != nil {
				return nil, err
			}
			if err := e.record(ctx, updated, doc.Status, domainwf.TriggerBatch, role, req.ActorName, string(req.Level)); err != nil {
				return nil, err
			}
			moved = append(moved, updated)
		}

		day, err := e.days.GetDay(ctx, req.Date)
		if err != nil {
			return nil, err
		}
		// a batch that moved nothing signs nothing off
		if len(moved) == 0 {
			return &outcome{batch: &BatchResult{
				Type:      req.Type,
				Date:      req.Date,
				Level:     req.Level,
				Flag:      flag,
				Documents: moved,
				Day:       day,
			}}, nil
		}
		next := *day
		next.SetFlag(flag, true)
		next.Version = day.Version + 1
		next.UpdatedAt = e.now()
		if err := e.days.CompareAndSwapDay(ctx, day.Version, &next); err != nil {
			return nil, err
		}

		snapshot := make([]*entity.Document, len(moved))
		for i, d := range moved {
			snapshot[i] = d.Clone()
		}
		evt := event.NewEvent(event.TypeDayBatchApproved, req.Type, map[string]interface{}{
			event.KeyDay:   req.Date,
			event.KeyLevel: string(req.Level),
		}).
			WithActor(role, req.ActorName).
			WithDocuments(snapshot)
		evt.FromState = step.State
		if to, ok := def.NextState(step.State); ok {
			evt.ToState = to
		}

		return &outcome{
			batch: &BatchResult{
				Type:      req.Type,
				Date:      req.Date,
				Level:     req.Level,
				Flag:      flag,
				Documents: moved,
				Day:       &next,
			},
			events: []*event.Event{evt},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if len(out.batch.Documents) == 0 {
		e.logger.Info("Day batch found nothing waiting, day flag left unchanged",
			"type", req.Type,
			"date", req.Date,
			"level", req.Level,
			"actor", req.ActorName,
		)
		return out.batch, nil
	}

	e.logger.Info("Day batch submitted",
		"type", req.Type,
		"date", req.Date,
		"level", req.Level,
		"moved", len(out.batch.Documents),
		"actor", req.ActorName,
	)
	return out.batch, nil
}
