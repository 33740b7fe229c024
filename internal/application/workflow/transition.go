package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/garyjia/docflow/internal/application/port"
	"github.com/garyjia/docflow/internal/domain/entity"
	"github.com/garyjia/docflow/internal/domain/event"
	domainwf "github.com/garyjia/docflow/internal/domain/workflow"
)

// observe reads the document outside any lock to learn its batch day
func (e *engineImpl) observe(ctx context.Context, op string, docType domainwf.DocumentType, id string) (*domainwf.Definition, *entity.Document, error) {
	def, err := e.definition(docType)
	if err != nil {
		return nil, nil, err
	}
	doc, err := e.docs.Get(ctx, docType, id)
	if err != nil {
		if errors.Is(err, port.ErrDocumentNotFound) {
			return nil, nil, domainwf.NewError(domainwf.KindNotFound, op, "%s %s not found", docType, id)
		}
		return nil, nil, classify(op, err)
	}
	return def, doc, nil
}

func (e *engineImpl) load(ctx context.Context, op string, docType domainwf.DocumentType, id string) (*entity.Document, error) {
	doc, err := e.docs.Get(ctx, docType, id)
	if errors.Is(err, port.ErrDocumentNotFound) {
		return nil, domainwf.NewError(domainwf.KindNotFound, op, "%s %s not found", docType, id)
	}
	return doc, err
}

func (e *engineImpl) Approve(ctx context.Context, req ApproveRequest) (*entity.Document, error) {
	const op = "approve"

	def, seen, err := e.observe(ctx, op, req.Type, req.ID)
	if err != nil {
		return nil, err
	}
	if err := checkFromState(op, def, req.FromState); err != nil {
		return nil, err
	}
	role := domainwf.NormalizeRole(req.ActorRole)

	unlock := e.lockDocument(def, seen.Day, seen.Key())
	defer unlock()

	out, err := e.mutate(ctx, op, func(ctx context.Context) (*outcome, error) {
		doc, err := e.load(ctx, op, req.Type, req.ID)
		if err != nil {
			return nil, err
		}

		if def.IsTerminal(doc.Status) || doc.Status != req.FromState {
			return &outcome{doc: doc}, nil
		}

		step, ok := def.Step(doc.Status)
		if !ok {
			return nil, domainwf.NewError(domainwf.KindInternal, op, "%s %s has status %s outside its chain", doc.Type, doc.ID, doc.Status)
		}
		if !step.Authorizes(role) {
			return nil, domainwf.NewError(domainwf.KindAuthorization, op,
				"role %q may not approve %s %s in %s", req.ActorRole, doc.Type, doc.ID, doc.Status)
		}
		if step.BatchOnly {
			return nil, domainwf.NewError(domainwf.KindValidation, op,
				"%s %s in %s is advanced by the %s day batch", doc.Type, doc.ID, doc.Status, step.BatchLevel)
		}
		if key, missing := step.MissingPayload(req.Payload); missing {
			return nil, domainwf.NewError(domainwf.KindValidation, op, "%s is required to approve %s %s", key, doc.Type, doc.ID)
		}

		updated, err := e.advance(def, doc, role, req.ActorName, domainwf.TriggerApprove)
		if err != nil {
			return nil, err
		}
		updated.MergePayload(req.Payload)

		if err := e.docs.CompareAndSwap(ctx, doc.Version, updated); err != nil {
			return nil, err
		}
		if err := e.record(ctx, updated, doc.Status, domainwf.TriggerApprove, role, req.ActorName, encodeData(req.Payload)); err != nil {
			return nil, err
		}

		evt := event.NewEvent(event.TypeDocumentApproved, updated.Type, nil).
			WithActor(role, req.ActorName).
			WithTransition(updated.Clone(), doc.Status, updated.Status)
		return &outcome{doc: updated, events: []*event.Event{evt}}, nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Document approved",
		"type", out.doc.Type,
		"id", out.doc.ID,
		"status", out.doc.Status,
		"actor", req.ActorName,
		"changed", len(out.events) > 0,
	)
	return out.doc, nil
}

// checkFromState requires the status an approve or reject was issued against
func checkFromState(op string, def *domainwf.Definition, from domainwf.State) error {
	if from == "" {
		return domainwf.NewError(domainwf.KindValidation, op, "from_state is required")
	}
	if !def.Contains(from) {
		return domainwf.NewError(domainwf.KindValidation, op, "%s has no state %q", def.Type, from)
	}
	return nil
}

// advance returns a copy of doc moved one step forward with a stamp for actor
func (e *engineImpl) advance(def *domainwf.Definition, doc *entity.Document, role domainwf.Role, actor string, trigger domainwf.Trigger) (*entity.Document, error) {
	machine := def.Machine(doc.Status)
	if err := machine.Fire(trigger); err != nil {
		return nil, err
	}

	now := e.now()
	updated := doc.Clone()
	updated.ApprovalStamps = append(updated.ApprovalStamps, entity.ApprovalStamp{
		Role:      role,
		ActorName: actor,
		State:     doc.Status,
		Timestamp: now,
	})
	updated.Status = machine.State()
	updated.Version = doc.Version + 1
	updated.UpdatedAt = now
	return updated, nil
}

func (e *engineImpl) Reject(ctx context.Context, req RejectRequest) (*entity.Document, error) {
	const op = "reject"

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, domainwf.NewError(domainwf.KindValidation, op, "rejection reason is required")
	}

	def, seen, err := e.observe(ctx, op, req.Type, req.ID)
	if err != nil {
		return nil, err
	}
	if err := checkFromState(op, def, req.FromState); err != nil {
		return nil, err
	}
	role := domainwf.NormalizeRole(req.ActorRole)

	unlock := e.lockDocument(def, seen.Day, seen.Key())
	defer unlock()

	out, err := e.mutate(ctx, op, func(ctx context.Context) (*outcome, error) {
		doc, err := e.load(ctx, op, req.Type, req.ID)
		if err != nil {
			return nil, err
		}

		if def.IsTerminal(doc.Status) || doc.Status != req.FromState {
			return &outcome{doc: doc}, nil
		}

		step, ok := def.Step(doc.Status)
		if !ok {
			return nil, domainwf.NewError(domainwf.KindInternal, op, "%s %s has status %s outside its chain", doc.Type, doc.ID, doc.Status)
		}
		if !step.Authorizes(role) {
			return nil, domainwf.NewError(domainwf.KindAuthorization, op,
				"role %q may not reject %s %s in %s", req.ActorRole, doc.Type, doc.ID, doc.Status)
		}

		machine := def.Machine(doc.Status)
		if err := machine.Fire(domainwf.TriggerReject); err != nil {
			return nil, err
		}

		now := e.now()
		updated := doc.Clone()
		updated.Status = machine.State()
		updated.Rejection = &entity.Rejection{ActorName: req.ActorName, Reason: reason, Timestamp: now}
		updated.Version = doc.Version + 1
		updated.UpdatedAt = now

		if err := e.docs.CompareAndSwap(ctx, doc.Version, updated); err != nil {
			return nil, err
		}
		if err := e.record(ctx, updated, doc.Status, domainwf.TriggerReject, role, req.ActorName, reason); err != nil {
			return nil, err
		}

		evt := event.NewEvent(event.TypeDocumentRejected, updated.Type, map[string]interface{}{event.KeyReason: reason}).
			WithActor(role, req.ActorName).
			WithTransition(updated.Clone(), doc.Status, updated.Status)
		return &outcome{doc: updated, events: []*event.Event{evt}}, nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Document rejected",
		"type", out.doc.Type,
		"id", out.doc.ID,
		"actor", req.ActorName,
		"changed", len(out.events) > 0,
	)
	return out.doc, nil
}

func (e *engineImpl) Edit(ctx context.Context, req EditRequest) (*entity.Document, error) {
	const op = "edit"

	if len(req.Payload) == 0 {
		return nil, domainwf.NewError(domainwf.KindValidation, op, "edit payload is empty")
	}

	def, seen, err := e.observe(ctx, op, req.Type, req.ID)
	if err != nil {
		return nil, err
	}

	var unlock func()
	if def.EditPolicy == domainwf.EditDemotes && seen.Day != "" {
		unlock, err = e.lockDay(ctx, seen.Day)
		if err != nil {
			return nil, classify(op, err)
		}
	} else {
		unlock = e.lockDocument(def, seen.Day, seen.Key())
	}
	defer unlock()

	out, err := e.mutate(ctx, op, func(ctx context.Context) (*outcome, error) {
		doc, err := e.load(ctx, op, req.Type, req.ID)
		if err != nil {
			return nil, err
		}
		if doc.Status == domainwf.StateRejected {
			return nil, domainwf.NewError(domainwf.KindValidation, op, "%s %s is rejected and cannot be edited", doc.Type, doc.ID)
		}
		if def.EditPolicy == domainwf.EditWhilePending && doc.Status != def.Initial() {
			return nil, domainwf.NewError(domainwf.KindValidation, op,
				"%s %s can only be edited in %s, it is %s", doc.Type, doc.ID, def.Initial(), doc.Status)
		}

		now := e.now()
		updated := doc.Clone()
		updated.MergePayload(req.Payload)
		updated.Version = doc.Version + 1
		updated.UpdatedAt = now

		trigger := domainwf.TriggerEdit
		machine := def.Machine(doc.Status)
		if machine.CanFire(domainwf.TriggerReopen) {
			if err := machine.Fire(domainwf.TriggerReopen); err != nil {
				return nil, err
			}
			updated.Status = machine.State()
			updated.ApprovalStamps = []entity.ApprovalStamp{}
			trigger = domainwf.TriggerReopen
		}

		if err := e.docs.CompareAndSwap(ctx, doc.Version, updated); err != nil {
			return nil, err
		}
		if err := e.record(ctx, updated, doc.Status, trigger, "", req.ActorName, encodeData(req.Payload)); err != nil {
			return nil, err
		}

		events := []*event.Event{
			event.NewEvent(event.TypeDocumentEdited, updated.Type, nil).
				WithActor("", req.ActorName).
				WithTransition(updated.Clone(), doc.Status, updated.Status),
		}

		if def.EditPolicy == domainwf.EditDemotes && updated.Day != "" {
			reopened, err := e.reopenDay(ctx, updated, req.ActorName)
			if err != nil {
				return nil, err
			}
			if reopened != nil {
				events = append(events, reopened)
			}
		}

		return &outcome{doc: updated, events: events}, nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Document edited",
		"type", out.doc.Type,
		"id", out.doc.ID,
		"status", out.doc.Status,
		"actor", req.ActorName,
	)
	return out.doc, nil
}

// reopenDay clears every sign-off flag of the edited document's day and sends
// each day-batched document that reached a signed-off level back to the
// start of its chain. It returns nil when the day had no flag set.
func (e *engineImpl) reopenDay(ctx context.Context, edited *entity.Document, actor string) (*event.Event, error) {
	day, err := e.days.GetDay(ctx, edited.Day)
	if err != nil {
		return nil, err
	}
	if !day.AnySet() {
		return nil, nil
	}

	// thresholds are computed before clearing the flags
	type target struct {
		def       *domainwf.Definition
		threshold int
	}
	var targets []target
	for _, t := range e.registry.BatchedTypes() {
		def, err := e.definition(t)
		if err != nil {
			return nil, err
		}
		if threshold, ok := reopenThreshold(def, day); ok {
			targets = append(targets, target{def: def, threshold: threshold})
		}
	}

	cleared := *day
	cleared.ClearAll()
	cleared.Version = day.Version + 1
	cleared.UpdatedAt = e.now()
	if err := e.days.CompareAndSwapDay(ctx, day.Version, &cleared); err != nil {
		return nil, err
	}

	var reverted []*entity.Document
	for _, tg := range targets {
		docs, err := e.docs.ListByDay(ctx, tg.def.Type, edited.Day)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			if doc.Key() == edited.Key() || doc.Status == domainwf.StateRejected {
				continue
			}
			if tg.def.Position(doc.Status) < tg.threshold {
				continue
			}

			updated := doc.Clone()
			updated.Status = tg.def.Initial()
			updated.ApprovalStamps = []entity.ApprovalStamp{}
			updated.Version = doc.Version + 1
			updated.UpdatedAt = cleared.UpdatedAt

			if err := e.docs.CompareAndSwap(ctx, doc.Version, updated); err != nil {
				return nil, err
			}
			if err := e.record(ctx, updated, doc.Status, domainwf.TriggerReopen, "", actor, "day reopened by edit of "+edited.Key()); err != nil {
				return nil, err
			}
			reverted = append(reverted, updated.Clone())
		}
	}

	evt := event.NewEvent(event.TypeDayReopened, edited.Type, map[string]interface{}{
		event.KeyDay:      edited.Day,
		event.KeyReverted: len(reverted),
	}).
		WithActor("", actor).
		WithTransition(edited.Clone(), "", edited.Status).
		WithDocuments(reverted)
	return evt, nil
}

// reopenThreshold returns the chain position of the lowest signed-off batch
// step of def on day
func reopenThreshold(def *domainwf.Definition, day *entity.DayRecord) (int, bool) {
	for _, s := range def.Steps {
		if s.BatchLevel == "" {
			continue
		}
		flag, ok := def.DayFlag(s.BatchLevel)
		if ok && day.Flag(flag) {
			return def.Position(s.State), true
		}
	}
	return 0, false
}

func encodeData(payload map[string]interface{}) string {
	if len(payload) == 0 {
		return ""
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(b)
}
