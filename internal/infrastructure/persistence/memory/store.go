package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/garyjia/docflow/internal/application/port"
	"github.com/garyjia/docflow/internal/domain/entity"
	"github.com/garyjia/docflow/internal/domain/workflow"
)

type contextKey string

const txKey contextKey = "memory-tx"

type txState struct {
	undo []func()
}

// Store is an in-process implementation of the document, day and history
// ports. Writes are serialised; a transaction holds the write lock for its
// whole duration and undoes its writes on error.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	docs    map[string]*entity.Document
	days    map[string]*entity.DayRecord
	history []*entity.TransitionHistory
	nextID  int64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		docs: make(map[string]*entity.Document),
		days: make(map[string]*entity.DayRecord),
	}
}

// WithTransaction implements port.TransactionManager
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey).(*txState); ok {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &txState{}
	err := fn(context.WithValue(ctx, txKey, tx))
	if err != nil {
		s.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.mu.Unlock()
	}
	return err
}

// Ping implements port.HealthChecker
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// write applies fn under the data lock, joining the caller's transaction if any
func (s *Store) write(ctx context.Context, fn func(tx *txState) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, inTx := ctx.Value(txKey).(*txState)
	if !inTx {
		s.txMu.Lock()
		defer s.txMu.Unlock()
		tx = &txState{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(tx)
}

func (s *Store) Get(ctx context.Context, docType workflow.DocumentType, id string) (*entity.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[entity.DocumentKey(docType, id)]
	if !ok {
		return nil, port.ErrDocumentNotFound
	}
	return doc.Clone(), nil
}

func (s *Store) List(ctx context.Context, docType workflow.DocumentType) ([]*entity.Document, error) {
	return s.filter(ctx, func(d *entity.Document) bool { return d.Type == docType })
}

func (s *Store) ListByDay(ctx context.Context, docType workflow.DocumentType, day string) ([]*entity.Document, error) {
	return s.filter(ctx, func(d *entity.Document) bool { return d.Type == docType && d.Day == day })
}

func (s *Store) ListByStatus(ctx context.Context, docType workflow.DocumentType, status workflow.State) ([]*entity.Document, error) {
	return s.filter(ctx, func(d *entity.Document) bool { return d.Type == docType && d.Status == status })
}

func (s *Store) filter(ctx context.Context, keep func(*entity.Document) bool) ([]*entity.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.Document
	for _, d := range s.docs {
		if keep(d) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) Insert(ctx context.Context, doc *entity.Document) error {
	return s.write(ctx, func(tx *txState) error {
		key := doc.Key()
		if _, exists := s.docs[key]; exists {
			return port.ErrDocumentExists
		}
		s.docs[key] = doc.Clone()
		tx.undo = append(tx.undo, func() { delete(s.docs, key) })
		return nil
	})
}

func (s *Store) CompareAndSwap(ctx context.Context, expectedVersion int64, doc *entity.Document) error {
	return s.write(ctx, func(tx *txState) error {
		key := doc.Key()
		current, ok := s.docs[key]
		if !ok {
			return port.ErrDocumentNotFound
		}
		if current.Version != expectedVersion {
			return port.ErrVersionConflict
		}
		s.docs[key] = doc.Clone()
		tx.undo = append(tx.undo, func() { s.docs[key] = current })
		return nil
	})
}

func (s *Store) GetDay(ctx context.Context, date string) (*entity.DayRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if day, ok := s.days[date]; ok {
		c := *day
		return &c, nil
	}
	return &entity.DayRecord{Date: date}, nil
}

func (s *Store) CompareAndSwapDay(ctx context.Context, expectedVersion int64, day *entity.DayRecord) error {
	return s.write(ctx, func(tx *txState) error {
		current, ok := s.days[day.Date]
		var currentVersion int64
		if ok {
			currentVersion = current.Version
		}
		if currentVersion != expectedVersion {
			return port.ErrVersionConflict
		}
		c := *day
		s.days[day.Date] = &c
		tx.undo = append(tx.undo, func() {
			if ok {
				s.days[day.Date] = current
			} else {
				delete(s.days, day.Date)
			}
		})
		return nil
	})
}

func (s *Store) Create(ctx context.Context, h *entity.TransitionHistory) error {
	return s.write(ctx, func(tx *txState) error {
		s.nextID++
		h.ID = s.nextID
		c := *h
		s.history = append(s.history, &c)
		n := len(s.history) - 1
		tx.undo = append(tx.undo, func() { s.history = s.history[:n] })
		return nil
	})
}

func (s *Store) ListByDocument(ctx context.Context, docType workflow.DocumentType, id string) ([]*entity.TransitionHistory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.TransitionHistory
	for _, h := range s.history {
		if h.DocumentType == docType && h.DocumentID == id {
			c := *h
			out = append(out, &c)
		}
	}
	return out, nil
}

var (
	_ port.DocumentStore      = (*Store)(nil)
	_ port.DayStore           = (*Store)(nil)
	_ port.HistoryRepository  = (*Store)(nil)
	_ port.TransactionManager = (*Store)(nil)
	_ port.HealthChecker      = (*Store)(nil)
)
