package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/docflow/internal/application/dispatcher"
	"github.com/garyjia/docflow/internal/application/lock"
	"github.com/garyjia/docflow/internal/application/port"
	"github.com/garyjia/docflow/internal/domain/entity"
	"github.com/garyjia/docflow/internal/domain/event"
	domainwf "github.com/garyjia/docflow/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// Stores groups the persistence ports the engine writes through
type Stores struct {
	Documents port.DocumentStore
	Days      port.DayStore
	History   port.HistoryRepository
	Tx        port.TransactionManager
}

type engineImpl struct {
	registry *domainwf.Registry
	docs     port.DocumentStore
	days     port.DayStore
	history  port.HistoryRepository
	tx       port.TransactionManager

	dispatcher   dispatcher.Dispatcher
	logger       Logger
	locks        *lock.KeyedMutex
	maxAttempts  int
	retryBackoff time.Duration
	writeTimeout time.Duration
	now          func() time.Time
	newID        func() string
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithLogger sets the engine logger
func WithLogger(logger Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// WithMaxAttempts bounds the optimistic read-validate-write attempts per call
func WithMaxAttempts(n int) EngineOption {
	return func(e *engineImpl) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the base pause between conflicting attempts
func WithRetryBackoff(d time.Duration) EngineOption {
	return func(e *engineImpl) {
		e.retryBackoff = d
	}
}

// WithWriteTimeout bounds each store transaction
func WithWriteTimeout(d time.Duration) EngineOption {
	return func(e *engineImpl) {
		e.writeTimeout = d
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// WithLocks shares a keyed mutex between engines over the same store
func WithLocks(l *lock.KeyedMutex) EngineOption {
	return func(e *engineImpl) {
		e.locks = l
	}
}

// NewEngine creates a new workflow engine
func NewEngine(registry *domainwf.Registry, stores Stores, opts ...EngineOption) Engine {
	e := &engineImpl{
		registry:     registry,
		docs:         stores.Documents,
		days:         stores.Days,
		history:      stores.History,
		tx:           stores.Tx,
		logger:       nopLogger{},
		locks:        lock.NewKeyedMutex(),
		maxAttempts:  3,
		retryBackoff: 10 * time.Millisecond,
		writeTimeout: 5 * time.Second,
		now:          time.Now,
		newID:        uuid.NewString,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *engineImpl) Registry() *domainwf.Registry {
	return e.registry
}

// outcome is the result of one committed attempt
type outcome struct {
	doc    *entity.Document
	batch  *BatchResult
	events []*event.Event
}

// mutate runs fn in a store transaction, retrying the whole read-validate-write
// cycle on version conflicts. Events are published only after commit.
func (e *engineImpl) mutate(ctx context.Context, op string, fn func(ctx context.Context) (*outcome, error)) (*outcome, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		out, err := e.attempt(ctx, fn)
		if err == nil {
			e.publish(ctx, out.events)
			return out, nil
		}
		if !errors.Is(err, port.ErrVersionConflict) {
			return nil, classify(op, err)
		}

		lastErr = err
		e.logger.Info("Version conflict, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", e.maxAttempts,
		)

		if attempt < e.maxAttempts && e.retryBackoff > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * e.retryBackoff
			select {
			case <-ctx.Done():
				return nil, domainwf.WrapError(domainwf.KindStorage, op, ctx.Err())
			case <-time.After(backoff):
			}
		}
	}

	e.logger.Error("Optimistic retries exhausted", "op", op, "error", lastErr)
	return nil, &domainwf.Error{
		Kind: domainwf.KindConflict,
		Op:   op,
		Msg:  fmt.Sprintf("gave up after %d attempts", e.maxAttempts),
		Err:  lastErr,
	}
}

func (e *engineImpl) attempt(ctx context.Context, fn func(ctx context.Context) (*outcome, error)) (*outcome, error) {
	wctx := ctx
	if e.writeTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, e.writeTimeout)
		defer cancel()
	}

	var out *outcome
	err := e.tx.WithTransaction(wctx, func(txCtx context.Context) error {
		var err error
		out, err = fn(txCtx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *engineImpl) publish(ctx context.Context, events []*event.Event) {
	if e.dispatcher == nil {
		return
	}
	for _, evt := range events {
		e.dispatcher.DispatchAsync(ctx, evt)
	}
}

// classify maps store errors onto the engine taxonomy
func classify(op string, err error) error {
	var typed *domainwf.Error
	switch {
	case errors.As(err, &typed):
		return err
	case errors.Is(err, port.ErrDocumentNotFound):
		return domainwf.WrapError(domainwf.KindNotFound, op, err)
	case errors.Is(err, port.ErrVersionConflict):
		return domainwf.WrapError(domainwf.KindConflict, op, err)
	case errors.Is(err, domainwf.ErrInvalidTransition):
		return domainwf.WrapError(domainwf.KindValidation, op, err)
	default:
		return domainwf.WrapError(domainwf.KindStorage, op, err)
	}
}

// lockDocument takes the day lock of day-batched documents, then the document lock
func (e *engineImpl) lockDocument(def *domainwf.Definition, day, key string) func() {
	if def.Batched() && day != "" {
		unlockDay := e.locks.Lock(entity.DayKey(day))
		unlockDoc := e.locks.Lock(key)
		return func() {
			unlockDoc()
			unlockDay()
		}
	}
	return e.locks.Lock(key)
}

// lockDay takes the day lock, then the locks of every day-batched document
// filed under day, in key order
func (e *engineImpl) lockDay(ctx context.Context, day string) (func(), error) {
	unlockDay := e.locks.Lock(entity.DayKey(day))

	var keys []string
	for _, t := range e.registry.BatchedTypes() {
		docs, err := e.docs.ListByDay(ctx, t, day)
		if err != nil {
			unlockDay()
			return nil, err
		}
		for _, d := range docs {
			keys = append(keys, d.Key())
		}
	}
	unlockDocs := e.locks.LockAll(keys...)

	return func() {
		unlockDocs()
		unlockDay()
	}, nil
}

func (e *engineImpl) definition(docType domainwf.DocumentType) (*domainwf.Definition, error) {
	return e.registry.Definition(docType)
}

func (e *engineImpl) Create(ctx context.Context, req CreateRequest) (*entity.Document, error) {
	const op = "create"

	def, err := e.definition(req.Type)
	if err != nil {
		return nil, err
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = e.newID()
	}

	now := e.now()
	day := strings.TrimSpace(req.Day)
	if def.Batched() {
		if day == "" {
			day = now.Format(entity.DayLayout)
		}
		if _, err := time.Parse(entity.DayLayout, day); err != nil {
			return nil, domainwf.NewError(domainwf.KindValidation, op, "day %q is not YYYY-MM-DD", day)
		}
	}

	doc := &entity.Document{
		ID:             id,
		Type:           req.Type,
		Status:         def.Initial(),
		ApprovalStamps: []entity.ApprovalStamp{},
		CreatedBy:      req.ActorName,
		Day:            day,
		Payload:        map[string]interface{}{},
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	doc.MergePayload(req.Payload)

	unlock := e.lockDocument(def, day, doc.Key())
	defer unlock()

	out, err := e.mutate(ctx, op, func(ctx context.Context) (*outcome, error) {
		if err := e.docs.Insert(ctx, doc); err != nil {
			if errors.Is(err, port.ErrDocumentExists) {
				return nil, domainwf.NewError(domainwf.KindValidation, op, "%s %s already exists", req.Type, id)
			}
			return nil, err
		}
		if err := e.record(ctx, doc, "", domainwf.TriggerCreate, "", req.ActorName, ""); err != nil {
			return nil, err
		}
		evt := event.NewEvent(event.TypeDocumentCreated, doc.Type, nil).
			WithActor("", req.ActorName).
			WithTransition(doc.Clone(), "", doc.Status)
		return &outcome{doc: doc, events: []*event.Event{evt}}, nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Document created", "type", doc.Type, "id", doc.ID, "status", doc.Status)
	return out.doc, nil
}

func (e *engineImpl) Get(ctx context.Context, docType domainwf.DocumentType, id string) (*entity.Document, error) {
	if _, err := e.definition(docType); err != nil {
		return nil, err
	}
	doc, err := e.docs.Get(ctx, docType, id)
	if err != nil {
		return nil, classify("get", err)
	}
	return doc, nil
}

func (e *engineImpl) List(ctx context.Context, docType domainwf.DocumentType) ([]*entity.Document, error) {
	if _, err := e.definition(docType); err != nil {
		return nil, err
	}
	docs, err := e.docs.List(ctx, docType)
	if err != nil {
		return nil, classify("list", err)
	}
	return docs, nil
}

func (e *engineImpl) ListByStatus(ctx context.Context, docType domainwf.DocumentType, status domainwf.State) ([]*entity.Document, error) {
	def, err := e.definition(docType)
	if err != nil {
		return nil, err
	}
	if !def.Contains(status) {
		return nil, domainwf.NewError(domainwf.KindValidation, "list", "%s has no state %q", docType, status)
	}
	docs, err := e.docs.ListByStatus(ctx, docType, status)
	if err != nil {
		return nil, classify("list", err)
	}
	return docs, nil
}

func (e *engineImpl) History(ctx context.Context, docType domainwf.DocumentType, id string) ([]*entity.TransitionHistory, error) {
	if _, err := e.Get(ctx, docType, id); err != nil {
		return nil, err
	}
	entries, err := e.history.ListByDocument(ctx, docType, id)
	if err != nil {
		return nil, classify("history", err)
	}
	return entries, nil
}

// resolvableTypes are scanned for bare ids, in this order
var resolvableTypes = []domainwf.DocumentType{domainwf.TypePaymentOrder, domainwf.TypeExitPermit}

func (e *engineImpl) Resolve(ctx context.Context, id string) (domainwf.DocumentType, error) {
	const op = "resolve"

	var matches []domainwf.DocumentType
	for _, t := range resolvableTypes {
		_, err := e.docs.Get(ctx, t, id)
		if errors.Is(err, port.ErrDocumentNotFound) {
			continue
		}
		if err != nil {
			return "", classify(op, err)
		}
		matches = append(matches, t)
	}

	switch len(matches) {
	case 0:
		return "", domainwf.NewError(domainwf.KindNotFound, op, "no payment order or exit permit with id %s", id)
	case 1:
		return matches[0], nil
	default:
		return "", domainwf.NewError(domainwf.KindValidation, op,
			"id %s matches both %s and %s, name the document type", id, matches[0], matches[1])
	}
}

// record appends a history entry in the caller's transaction
func (e *engineImpl) record(ctx context.Context, doc *entity.Document, from domainwf.State, trigger domainwf.Trigger, role domainwf.Role, actor, data string) error {
	return e.history.Create(ctx, &entity.TransitionHistory{
		DocumentType:   doc.Type,
		DocumentID:     doc.ID,
		ActorName:      actor,
		ActorRole:      role,
		PreviousStatus: from,
		NewStatus:      doc.Status,
		ActionType:     trigger,
		ActionData:     data,
		Version:        doc.Version,
		Timestamp:      doc.UpdatedAt,
	})
}
