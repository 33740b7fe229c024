package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/docflow/internal/application/dispatcher"
	"github.com/garyjia/docflow/internal/application/lock"
	"github.com/garyjia/docflow/internal/application/port"
	"github.com/garyjia/docflow/internal/domain/entity"
	"github.com/garyjia/docflow/internal/domain/event"
	domainwf "github.com/garyjia/docflow/internal/domain/workflow"
	"github.com/garyjia/docflow/internal/infrastructure/persistence/memory"
)

// recordingDispatcher captures events synchronously
type recordingDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (r *recordingDispatcher) Subscribe(event.Type, dispatcher.Handler)              {}
func (r *recordingDispatcher) SubscribeNamed(event.Type, string, dispatcher.Handler) {}
func (r *recordingDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	r.DispatchAsync(ctx, evt)
	return nil
}
func (r *recordingDispatcher) DispatchAsync(_ context.Context, evt *event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}
func (r *recordingDispatcher) Close() error { return nil }

func (r *recordingDispatcher) Types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]event.Type, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}

// flakyStore fails compare-and-swap with casErr while failures > 0
type flakyStore struct {
	*memory.Store
	failures atomic.Int32
	casErr   error
}

func (f *flakyStore) CompareAndSwap(ctx context.Context, expectedVersion int64, doc *entity.Document) error {
	if f.failures.Add(-1) >= 0 {
		return f.casErr
	}
	return f.Store.CompareAndSwap(ctx, expectedVersion, doc)
}

type fixture struct {
	engine Engine
	store  *memory.Store
	events *recordingDispatcher
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	store := memory.NewStore()
	return newFixtureWithStore(t, store, store, opts...)
}

func newFixtureWithStore(t *testing.T, store *memory.Store, docs port.DocumentStore, opts ...EngineOption) *fixture {
	t.Helper()
	events := &recordingDispatcher{}
	opts = append([]EngineOption{WithDispatcher(events), WithRetryBackoff(time.Millisecond)}, opts...)
	engine := NewEngine(domainwf.DefaultRegistry(), Stores{
		Documents: docs,
		Days:      store,
		History:   store,
		Tx:        store,
	}, opts...)
	return &fixture{engine: engine, store: store, events: events}
}

func (f *fixture) create(t *testing.T, docType domainwf.DocumentType, id, day string) *entity.Document {
	t.Helper()
	doc, err := f.engine.Create(context.Background(), CreateRequest{Type: docType, ID: id, ActorName: "requester", Day: day})
	require.NoError(t, err)
	return doc
}

func (f *fixture) approve(t *testing.T, docType domainwf.DocumentType, id string, role domainwf.Role) *entity.Document {
	t.Helper()
	current, err := f.engine.Get(context.Background(), docType, id)
	require.NoError(t, err)
	doc, err := f.engine.Approve(context.Background(), ApproveRequest{
		Type: docType, ID: id, ActorRole: string(role), ActorName: string(role) + "-user", FromState: current.Status,
	})
	require.NoError(t, err)
	return doc
}

func TestEngine_PaymentOrderScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.create(t, domainwf.TypePaymentOrder, "42", "")
	assert.Equal(t, domainwf.StatePending, doc.Status)
	assert.Equal(t, int64(1), doc.Version)

	doc = f.approve(t, domainwf.TypePaymentOrder, "42", domainwf.RoleFinance)
	assert.Equal(t, domainwf.StateFinanceApproved, doc.Status)

	doc = f.approve(t, domainwf.TypePaymentOrder, "42", domainwf.RoleManager)
	assert.Equal(t, domainwf.StateManagerApproved, doc.Status)

	doc = f.approve(t, domainwf.TypePaymentOrder, "42", domainwf.RoleCEO)
	assert.Equal(t, domainwf.StateCeoApproved, doc.Status)
	assert.Equal(t, int64(4), doc.Version)
	require.Len(t, doc.ApprovalStamps, 3)
	assert.Equal(t, domainwf.RoleFinance, doc.ApprovalStamps[0].Role)
	assert.Equal(t, domainwf.StateManagerApproved, doc.ApprovalStamps[2].State)

	for _, role := range []domainwf.Role{domainwf.RoleCEO, domainwf.RoleAdmin, domainwf.RoleWarehouse} {
		again, err := f.engine.Approve(ctx, ApproveRequest{Type: domainwf.TypePaymentOrder, ID: "42", ActorRole: string(role), FromState: domainwf.StateManagerApproved})
		require.NoError(t, err)
		assert.Equal(t, doc.Status, again.Status)
		assert.Equal(t, doc.Version, again.Version)
		assert.Len(t, again.ApprovalStamps, 3)
	}

	history, err := f.engine.History(ctx, domainwf.TypePaymentOrder, "42")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, domainwf.TriggerCreate, history[0].ActionType)
	assert.Equal(t, domainwf.StateManagerApproved, history[3].PreviousStatus)

	assert.Equal(t, []event.Type{
		event.TypeDocumentCreated,
		event.TypeDocumentApproved,
		event.TypeDocumentApproved,
		event.TypeDocumentApproved,
	}, f.events.Types())
}

func TestEngine_ApproveAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, domainwf.TypePaymentOrder, "1", "")

	_, err := f.engine.Approve(ctx, ApproveRequest{Type: domainwf.TypePaymentOrder, ID: "1", ActorRole: "manager", FromState: domainwf.StatePending})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainwf.ErrUnauthorized))
	assert.Equal(t, domainwf.KindAuthorization, domainwf.KindOf(err))

	doc, err := f.engine.Get(ctx, domainwf.TypePaymentOrder, "1")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatePending, doc.Status)
	assert.Equal(t, int64(1), doc.Version)

	doc, err = f.engine.Approve(ctx, ApproveRequest{Type: domainwf.TypePaymentOrder, ID: "1", ActorRole: "FINANCE", FromState: domainwf.StatePending})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateFinanceApproved, doc.Status)
}

func TestEngine_ExitPermitScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, domainwf.TypeExitPermit, "7", "")
	f.approve(t, domainwf.TypeExitPermit, "7", domainwf.RoleCEO)
	f.approve(t, domainwf.TypeExitPermit, "7", domainwf.RoleFactory)

	_, err := f.engine.Approve(ctx, ApproveRequest{Type: domainwf.TypeExitPermit, ID: "7", ActorRole: "security", ActorName: "guard", FromState: domainwf.StatePendingSecurity})
	require.Error(t, err)
	assert.Equal(t, domainwf.KindValidation, domainwf.KindOf(err))

	_, err = f.engine.Approve(ctx, ApproveRequest{
		Type: domainwf.TypeExitPermit, ID: "7", ActorRole: "ceo", FromState: domainwf.StatePendingSecurity,
		Payload: map[string]interface{}{domainwf.PayloadExitTime: "14:30"},
	})
	assert.Equal(t, domainwf.KindAuthorization, domainwf.KindOf(err))

	doc, err := f.engine.Approve(ctx, ApproveRequest{
		Type: domainwf.TypeExitPermit, ID: "7", ActorRole: "security", ActorName: "guard", FromState: domainwf.StatePendingSecurity,
		Payload: map[string]interface{}{domainwf.PayloadExitTime: "14:30"},
	})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateExited, doc.Status)
	assert.Equal(t, "14:30", doc.PayloadString(domainwf.PayloadExitTime))

	stamp, ok := doc.LastStamp()
	require.True(t, ok)
	assert.Equal(t, domainwf.RoleSecurity, stamp.Role)
	assert.Equal(t, "guard", stamp.ActorName)
	assert.Equal(t, domainwf.StatePendingSecurity, stamp.State)
}

func TestEngine_WarehouseDispatchReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, domainwf.TypeWarehouseDispatch, "9", "")

	_, err := f.engine.Reject(ctx, RejectRequest{Type: domainwf.TypeWarehouseDispatch, ID: "9", ActorRole: "warehouse", Reason: "x", FromState: domainwf.StatePending})
	assert.Equal(t, domainwf.KindAuthorization, domainwf.KindOf(err))

	_, err = f.engine.Reject(ctx, RejectRequest{Type: domainwf.TypeWarehouseDispatch, ID: "9", ActorRole: "ceo", Reason: "  ", FromState: domainwf.StatePending})
	assert.Equal(t, domainwf.KindValidation, domainwf.KindOf(err))

	doc, err := f.engine.Reject(ctx, RejectRequest{Type: domainwf.TypeWarehouseDispatch, ID: "9", ActorRole: "CEO", ActorName: "boss", Reason: "wrong quantity", FromState: domainwf.StatePending})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateRejected, doc.Status)
	require.NotNil(t, doc.Rejection)
	assert.Equal(t, "wrong quantity", doc.Rejection.Reason)
	assert.Equal(t, "boss", doc.Rejection.ActorName)

	again, err := f.engine.Reject(ctx, RejectRequest{Type: domainwf.TypeWarehouseDispatch, ID: "9", ActorRole: "ceo", Reason: "again", FromState: domainwf.StatePending})
	require.NoError(t, err)
	assert.Equal(t, "wrong quantity", again.Rejection.Reason)
	assert.Equal(t, doc.Version, again.Version)

	approved, err := f.engine.Approve(ctx, ApproveRequest{Type: domainwf.TypeWarehouseDispatch, ID: "9", ActorRole: "admin", FromState: domainwf.StatePending})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateRejected, approved.Status)
}

func TestEngine_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Approve(ctx, ApproveRequest{Type: domainwf.TypePaymentOrder, ID: "404", ActorRole: "admin"})
	assert.True(t, errors.Is(err, domainwf.ErrNotFound))

	_, err = f.engine.Reject(ctx, RejectRequest{Type: domainwf.TypeExitPermit, ID: "404", ActorRole: "admin", Reason: "r"})
	assert.Equal(t, domainwf.KindNotFound, domainwf.KindOf(err))

	_, err = f.engine.Approve(ctx, ApproveRequest{Type: domainwf.DocumentType("invoice"), ID: "1", ActorRole: "admin"})
	assert.Equal(t, domainwf.KindNotFound, domainwf.KindOf(err))

	_, err = f.engine.History(ctx, domainwf.TypePaymentOrder, "404")
	assert.Equal(t, domainwf.KindNotFound, domainwf.KindOf(err))
}

func TestEngine_ConcurrentApproveAdvancesOnce(t *testing.T) {
	f := newFixture(t)
	f.create(t, domainwf.TypeExitPermit, "7", "")

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := f.engine.Approve(context.Background(), ApproveRequest{
				Type: domainwf.TypeExitPermit, ID: "7", ActorRole: "ceo", ActorName: fmt.Sprintf("ceo-%d", i),
				FromState: domainwf.StatePendingCeo,
			})
			errs <- err
		}(i)
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	doc, err := f.engine.Get(context.Background(), domainwf.TypeExitPermit, "7")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatePendingFactory, doc.Status)
	assert.Len(t, doc.ApprovalStamps, 1)
	assert.Equal(t, int64(2), doc.Version)
}

func TestEngine_ApproveRequiresFromState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, domainwf.TypePaymentOrder, "3", "")

	_, err := f.engine.Approve(ctx, ApproveRequest{Type: domainwf.TypePaymentOrder, ID: "3", ActorRole: "ceo"})
	assert.Equal(t, domainwf.KindValidation, domainwf.KindOf(err))

	_, err = f.engine.Approve(ctx, ApproveRequest{Type: domainwf.TypePaymentOrder, ID: "3", ActorRole: "ceo", FromState: domainwf.StateExited})
	assert.Equal(t, domainwf.KindValidation, domainwf.KindOf(err))

	_, err = f.engine.Reject(ctx, RejectRequest{Type: domainwf.TypePaymentOrder, ID: "3", ActorRole: "ceo", Reason: "no"})
	assert.Equal(t, domainwf.KindValidation, domainwf.KindOf(err))

	doc, err := f.engine.Get(ctx, domainwf.TypePaymentOrder, "3")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatePending, doc.Status)
	assert.Empty(t, doc.ApprovalStamps)
	assert.Equal(t, int64(1), doc.Version)
}

// A CEO may approve any non-exclusive step, so only the status the approver
// acted on tells a repeated tap from a second approval.
func TestEngine_RepeatedOverrideApproveAdvancesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for round := 0; round < 50; round++ {
		id := fmt.Sprintf("po-%d", round)
		f.create(t, domainwf.TypePaymentOrder, id, "")

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := f.engine.Approve(ctx, ApproveRequest{
					Type: domainwf.TypePaymentOrder, ID: id, ActorRole: "ceo", ActorName: "Wang", FromState: domainwf.StatePending,
				})
				assert.NoError(t, err)
			}()
		}
		close(start)
		wg.Wait()

		// the same tap arriving after the first one committed
		_, err := f.engine.Approve(ctx, ApproveRequest{
			Type: domainwf.TypePaymentOrder, ID: id, ActorRole: "ceo", ActorName: "Wang", FromState: domainwf.StatePending,
		})
		require.NoError(t, err)

		doc, err := f.engine.Get(ctx, domainwf.TypePaymentOrder, id)
		require.NoError(t, err)
		require.Equal(t, domainwf.StateFinanceApproved, doc.Status, id)
		require.Len(t, doc.ApprovalStamps, 1, id)
	}
}

func TestEngine_RepeatedRejectIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, domainwf.TypePaymentOrder, "8", "")
	f.approve(t, domainwf.TypePaymentOrder, "8", domainwf.RoleFinance)

	_, err := f.engine.Reject(ctx, RejectRequest{
		Type: domainwf.TypePaymentOrder, ID: "8", ActorRole: "ceo", Reason: "late", FromState: domainwf.StatePending,
	})
	require.NoError(t, err)

	doc, err := f.engine.Get(ctx, domainwf.TypePaymentOrder, "8")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateFinanceApproved, doc.Status)
	assert.Nil(t, doc.Rejection)
}

func TestEngine_StaleApproveIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, domainwf.TypePaymentOrder, "5", "")

	doc, err := f.engine.Approve(ctx, ApproveRequest{
		Type: domainwf.TypePaymentOrder, ID: "5", ActorRole: "ceo", FromState: domainwf.StateManagerApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatePending, doc.Status)
	assert.Equal(t, int64(1), doc.Version)
}

func TestEngine_ConflictRetries(t *testing.T) {
	t.Run("transparent retry succeeds", func(t *testing.T) {
		store := memory.NewStore()
		flaky := &flakyStore{Store: store, casErr: port.ErrVersionConflict}
		f := newFixtureWithStore(t, store, flaky, WithMaxAttempts(3))
		f.create(t, domainwf.TypePaymentOrder, "1", "")

		flaky.failures.Store(2)
		doc := f.approve(t, domainwf.TypePaymentOrder, "1", domainwf.RoleFinance)
		assert.Equal(t, domainwf.StateFinanceApproved, doc.Status)

		history, err := f.engine.History(context.Background(), domainwf.TypePaymentOrder, "1")
		require.NoError(t, err)
		assert.Len(t, history, 2)
	})

	t.Run("exhausted retries surface conflict", func(t *testing.T) {
		store := memory.NewStore()
		flaky := &flakyStore{Store: store, casErr: port.ErrVersionConflict}
		f := newFixtureWithStore(t, store, flaky, WithMaxAttempts(3))
		f.create(t, domainwf.TypePaymentOrder, "1", "")

		flaky.failures.Store(100)
		_, err := f.engine.Approve(context.Background(), ApproveRequest{Type: domainwf.TypePaymentOrder, ID: "1", ActorRole: "finance", FromState: domainwf.StatePending})
		require.Error(t, err)
		assert.True(t, errors.Is(err, domainwf.ErrConflict))
		assert.True(t, domainwf.IsRetryable(err))
		assert.Equal(t, int32(97), flaky.failures.Load())

		doc, err := store.Get(context.Background(), domainwf.TypePaymentOrder, "1")
		require.NoError(t, err)
		assert.Equal(t, domainwf.StatePending, doc.Status)
	})

	t.Run("store failure surfaces storage error", func(t *testing.T) {
		store := memory.NewStore()
		flaky := &flakyStore{Store: store, casErr: errors.New("disk I/O error")}
		f := newFixtureWithStore(t, store, flaky)
		f.create(t, domainwf.TypePaymentOrder, "1", "")

		flaky.failures.Store(1)
		_, err := f.engine.Approve(context.Background(), ApproveRequest{Type: domainwf.TypePaymentOrder, ID: "1", ActorRole: "finance", FromState: domainwf.StatePending})
		assert.Equal(t, domainwf.KindStorage, domainwf.KindOf(err))
		assert.True(t, domainwf.IsRetryable(err))

		history, err := f.engine.History(context.Background(), domainwf.TypePaymentOrder, "1")
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})
}

func TestEngine_EditNonDemotingTypes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, domainwf.TypePaymentOrder, "1", "")

	doc, err := f.engine.Edit(ctx, EditRequest{Type: domainwf.TypePaymentOrder, ID: "1", ActorName: "req", Payload: map[string]interface{}{"amount": 120}})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatePending, doc.Status)
	assert.Equal(t, 120, doc.Payload["amount"])
	assert.Equal(t, int64(2), doc.Version)

	f.approve(t, domainwf.TypePaymentOrder, "1", domainwf.RoleFinance)

	_, err = f.engine.Edit(ctx, EditRequest{Type: domainwf.TypePaymentOrder, ID: "1", Payload: map[string]interface{}{"amount": 1}})
	assert.Equal(t, domainwf.KindValidation, domainwf.KindOf(err))

	_, err = f.engine.Edit(ctx, EditRequest{Type: domainwf.TypePaymentOrder, ID: "1"})
	assert.Equal(t, domainwf.KindValidation, domainwf.KindOf(err))
}

func TestEngine_EditRejectedRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, domainwf.TypeSecurityLog, "l1", "2024-05-01")

	_, err := f.engine.Reject(ctx, RejectRequest{Type: domainwf.TypeSecurityLog, ID: "l1", ActorRole: "supervisor", Reason: "duplicate", FromState: domainwf.StatePendingSupervisor})
	require.NoError(t, err)

	_, err = f.engine.Edit(ctx, EditRequest{Type: domainwf.TypeSecurityLog, ID: "l1", Payload: map[string]interface{}{"note": "x"}})
	assert.Equal(t, domainwf.KindValidation, domainwf.KindOf(err))
}

const day = "2024-05-01"

// walkLogToCeo creates a security log and moves it to pending_ceo through the factory batch
func walkLogsToFactoryChecked(t *testing.T, f *fixture, ids ...string) {
	t.Helper()
	for _, id := range ids {
		f.create(t, domainwf.TypeSecurityLog, id, day)
		f.approve(t, domainwf.TypeSecurityLog, id, domainwf.RoleSupervisor)
		f.approve(t, domainwf.TypeSecurityLog, id, domainwf.RoleFactory)
	}
}

func TestEngine_SecurityLogBatchAndEditCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	walkLogsToFactoryChecked(t, f, "l1", "l2", "l3")
	f.create(t, domainwf.TypeSecurityLog, "other-day", "2024-05-02")

	_, err := f.engine.Approve(ctx, ApproveRequest{Type: domainwf.TypeSecurityLog, ID: "l1", ActorRole: "factory", FromState: domainwf.StateFactoryChecked})
	assert.Equal(t, domainwf.KindValidation, domainwf.KindOf(err), "factory_checked is advanced by the day batch only")

	_, err = f.engine.SubmitBatch(ctx, BatchRequest{Type: domainwf.TypeSecurityLog, Date: day, Level: domainwf.LevelFactory, ActorRole: "supervisor"})
	assert.Equal(t, domainwf.KindAuthorization, domainwf.KindOf(err))

	result, err := f.engine.SubmitBatch(ctx, BatchRequest{Type: domainwf.TypeSecurityLog, Date: day, Level: domainwf.LevelFactory, ActorRole: "factory", ActorName: "plant"})
	require.NoError(t, err)
	assert.Len(t, result.Documents, 3)
	assert.Equal(t, domainwf.FlagFactoryDailyApproved, result.Flag)
	assert.True(t, result.Day.FactoryDailyApproved)

	result, err = f.engine.SubmitBatch(ctx, BatchRequest{Type: domainwf.TypeSecurityLog, Date: day, Level: domainwf.LevelCeo, ActorRole: "ceo", ActorName: "boss"})
	require.NoError(t, err)
	require.Len(t, result.Documents, 3)
	for _, d := range result.Documents {
		assert.Equal(t, domainwf.StateArchived, d.Status)
		assert.Len(t, d.ApprovalStamps, 4)
	}

	dayRecord, err := f.store.GetDay(ctx, day)
	require.NoError(t, err)
	assert.True(t, dayRecord.CeoDailyApproved)
	assert.True(t, dayRecord.FactoryDailyApproved)

	edited, err := f.engine.Edit(ctx, EditRequest{Type: domainwf.TypeSecurityLog, ID: "l2", ActorName: "guard", Payload: map[string]interface{}{"note": "fixed"}})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatePendingSupervisor, edited.Status)
	assert.Empty(t, edited.ApprovalStamps)
	assert.Equal(t, "fixed", edited.PayloadString("note"))

	dayRecord, err = f.store.GetDay(ctx, day)
	require.NoError(t, err)
	assert.False(t, dayRecord.AnySet())

	for _, id := range []string{"l1", "l2", "l3"} {
		doc, err := f.engine.Get(ctx, domainwf.TypeSecurityLog, id)
		require.NoError(t, err)
		assert.Equal(t, domainwf.StatePendingSupervisor, doc.Status, id)
		assert.Empty(t, doc.ApprovalStamps, id)
	}

	untouched, err := f.engine.Get(ctx, domainwf.TypeSecurityLog, "other-day")
	require.NoError(t, err)
	assert.Equal(t, int64(1), untouched.Version)

	types := f.events.Types()
	assert.Equal(t, event.TypeDayReopened, types[len(types)-1])
}

func TestEngine_EditBeforeSignOffOnlyDemotesDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	walkLogsToFactoryChecked(t, f, "l1", "l2")

	doc, err := f.engine.Edit(ctx, EditRequest{Type: domainwf.TypeSecurityLog, ID: "l1", Payload: map[string]interface{}{"note": "x"}})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatePendingSupervisor, doc.Status)

	other, err := f.engine.Get(ctx, domainwf.TypeSecurityLog, "l2")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateFactoryChecked, other.Status)

	for _, typ := range f.events.Types() {
		assert.NotEqual(t, event.TypeDayReopened, typ)
	}
}

func TestEngine_EditCascadeRespectsLevels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// l1 passes the factory batch; l2 is filed afterwards and only reaches pending_factory
	walkLogsToFactoryChecked(t, f, "l1")
	_, err := f.engine.SubmitBatch(ctx, BatchRequest{Type: domainwf.TypeSecurityLog, Date: day, Level: domainwf.LevelFactory, ActorRole: "factory"})
	require.NoError(t, err)

	f.create(t, domainwf.TypeSecurityLog, "l2", day)
	f.approve(t, domainwf.TypeSecurityLog, "l2", domainwf.RoleSupervisor)

	f.create(t, domainwf.TypeSecurityDelay, "d1", day)
	f.approve(t, domainwf.TypeSecurityDelay, "d1", domainwf.RoleSupervisor)

	f.create(t, domainwf.TypeSecurityLog, "l3", day)

	_, err = f.engine.Edit(ctx, EditRequest{Type: domainwf.TypeSecurityLog, ID: "l3", Payload: map[string]interface{}{"note": "x"}})
	require.NoError(t, err)

	l1, _ := f.engine.Get(ctx, domainwf.TypeSecurityLog, "l1")
	l2, _ := f.engine.Get(ctx, domainwf.TypeSecurityLog, "l2")
	d1, _ := f.engine.Get(ctx, domainwf.TypeSecurityDelay, "d1")

	assert.Equal(t, domainwf.StatePendingSupervisor, l1.Status)
	assert.Equal(t, domainwf.StatePendingFactory, l2.Status)
	assert.Equal(t, domainwf.StateSupervisorChecked, d1.Status, "delays have no signed-off level that day")
}

func TestEngine_SecurityDelayBatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, domainwf.TypeSecurityDelay, "d1", day)
	f.create(t, domainwf.TypeSecurityDelay, "d2", day)
	f.approve(t, domainwf.TypeSecurityDelay, "d1", domainwf.RoleSupervisor)

	result, err := f.engine.SubmitBatch(ctx, BatchRequest{Type: domainwf.TypeSecurityDelay, Date: day, Level: domainwf.LevelSupervisor, ActorRole: "supervisor"})
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, domainwf.StatePendingFactory, result.Documents[0].Status)
	assert.True(t, result.Day.DelaySupervisorApproved)

	d2, err := f.engine.Get(ctx, domainwf.TypeSecurityDelay, "d2")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatePendingSupervisor, d2.Status)

	f.approve(t, domainwf.TypeSecurityDelay, "d1", domainwf.RoleFactory)
	_, err = f.engine.SubmitBatch(ctx, BatchRequest{Type: domainwf.TypeSecurityDelay, Date: day, Level: domainwf.LevelFactory, ActorRole: "factory"})
	require.NoError(t, err)
	result, err = f.engine.SubmitBatch(ctx, BatchRequest{Type: domainwf.TypeSecurityDelay, Date: day, Level: domainwf.LevelCeo, ActorRole: "admin"})
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, domainwf.StateArchived, result.Documents[0].Status)

	dayRecord, err := f.store.GetDay(ctx, day)
	require.NoError(t, err)
	assert.True(t, dayRecord.DelayCeoApproved)
	assert.True(t, dayRecord.DelayFactoryApproved)
	assert.False(t, dayRecord.CeoDailyApproved)
}

func TestEngine_EmptyBatchLeavesDayUnsigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, domainwf.TypeSecurityLog, "l1", day)

	result, err := f.engine.SubmitBatch(ctx, BatchRequest{Type: domainwf.TypeSecurityLog, Date: day, Level: domainwf.LevelCeo, ActorRole: "ceo", ActorName: "boss"})
	require.NoError(t, err)
	assert.Empty(t, result.Documents)
	assert.False(t, result.Day.CeoDailyApproved)

	dayRecord, err := f.store.GetDay(ctx, day)
	require.NoError(t, err)
	assert.False(t, dayRecord.AnySet())

	f.approve(t, domainwf.TypeSecurityLog, "l1", domainwf.RoleSupervisor)
	_, err = f.engine.Edit(ctx, EditRequest{Type: domainwf.TypeSecurityLog, ID: "l1", ActorName: "guard", Payload: map[string]interface{}{"note": "x"}})
	require.NoError(t, err)

	for _, typ := range f.events.Types() {
		assert.NotEqual(t, event.TypeDayBatchApproved, typ)
		assert.NotEqual(t, event.TypeDayReopened, typ)
	}
}

// A day-batched transition holds its day lock while it waits on the document.
func TestEngine_DayLockTakenBeforeDocumentLock(t *testing.T) {
	locks := lock.NewKeyedMutex()
	f := newFixture(t, WithLocks(locks))
	ctx := context.Background()

	doc := f.create(t, domainwf.TypeSecurityLog, "l1", day)
	unlockDoc := locks.Lock(doc.Key())

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Approve(ctx, ApproveRequest{
			Type: domainwf.TypeSecurityLog, ID: "l1", ActorRole: "supervisor", FromState: domainwf.StatePendingSupervisor,
		})
		done <- err
	}()

	// the document key plus the day key the engine holds while blocked
	assert.Eventually(t, func() bool { return locks.Len() == 2 }, time.Second, time.Millisecond)

	dayTaken := make(chan struct{})
	go func() {
		locks.Lock(entity.DayKey(day))()
		close(dayTaken)
	}()
	select {
	case <-dayTaken:
		t.Fatal("day lock free while the transition waits on its document")
	case <-time.After(20 * time.Millisecond):
	}

	unlockDoc()
	require.NoError(t, <-done)
	<-dayTaken
	assert.Equal(t, 0, locks.Len())
}

func TestEngine_SubmitBatchValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  BatchRequest
		kind domainwf.Kind
	}{
		{"not batched", BatchRequest{Type: domainwf.TypeExitPermit, Date: day, Level: domainwf.LevelCeo, ActorRole: "ceo"}, domainwf.KindValidation},
		{"unknown level", BatchRequest{Type: domainwf.TypeSecurityLog, Date: day, Level: domainwf.LevelSupervisor, ActorRole: "admin"}, domainwf.KindValidation},
		{"bad date", BatchRequest{Type: domainwf.TypeSecurityLog, Date: "01/05/2024", Level: domainwf.LevelCeo, ActorRole: "ceo"}, domainwf.KindValidation},
		{"unknown type", BatchRequest{Type: "invoice", Date: day, Level: domainwf.LevelCeo, ActorRole: "ceo"}, domainwf.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.SubmitBatch(ctx, tt.req)
			assert.Equal(t, tt.kind, domainwf.KindOf(err))
		})
	}
}

func TestEngine_Resolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, domainwf.TypePaymentOrder, "10", "")
	f.create(t, domainwf.TypeExitPermit, "11", "")
	f.create(t, domainwf.TypePaymentOrder, "12", "")
	f.create(t, domainwf.TypeExitPermit, "12", "")

	docType, err := f.engine.Resolve(ctx, "10")
	require.NoError(t, err)
	assert.Equal(t, domainwf.TypePaymentOrder, docType)

	docType, err = f.engine.Resolve(ctx, "11")
	require.NoError(t, err)
	assert.Equal(t, domainwf.TypeExitPermit, docType)

	_, err = f.engine.Resolve(ctx, "12")
	assert.Equal(t, domainwf.KindValidation, domainwf.KindOf(err))

	_, err = f.engine.Resolve(ctx, "13")
	assert.Equal(t, domainwf.KindNotFound, domainwf.KindOf(err))
}

func TestEngine_ListByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, domainwf.TypePaymentOrder, "1", "")
	f.create(t, domainwf.TypePaymentOrder, "2", "")
	f.approve(t, domainwf.TypePaymentOrder, "2", domainwf.RoleFinance)

	pending, err := f.engine.ListByStatus(ctx, domainwf.TypePaymentOrder, domainwf.StatePending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "1", pending[0].ID)

	approved, err := f.engine.ListByStatus(ctx, domainwf.TypePaymentOrder, domainwf.StateFinanceApproved)
	require.NoError(t, err)
	assert.Len(t, approved, 1)

	_, err = f.engine.ListByStatus(ctx, domainwf.TypePaymentOrder, domainwf.StateExited)
	assert.Equal(t, domainwf.KindValidation, domainwf.KindOf(err))
}

func TestEngine_Create(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	doc, err := f.engine.Create(ctx, CreateRequest{Type: domainwf.TypeSecurityIncident, ActorName: "guard"})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, domainwf.StatePendingSupervisor, doc.Status)
	assert.Empty(t, doc.Day, "incidents are not day-batched")

	log, err := f.engine.Create(ctx, CreateRequest{Type: domainwf.TypeSecurityLog, ID: "l1", ActorName: "guard"})
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", log.Day)

	_, err = f.engine.Create(ctx, CreateRequest{Type: domainwf.TypeSecurityLog, ID: "l1"})
	assert.Equal(t, domainwf.KindValidation, domainwf.KindOf(err))

	_, err = f.engine.Create(ctx, CreateRequest{Type: domainwf.TypeSecurityLog, Day: "May 1st"})
	assert.Equal(t, domainwf.KindValidation, domainwf.KindOf(err))

	docs, err := f.engine.List(ctx, domainwf.TypeSecurityLog)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

// Every approve or batch moves exactly one step along the chain and stamps
// never outnumber the steps passed, whatever the interleaving.
func TestEngine_ConcurrentMixedOperationsKeepChainOrder(t *testing.T) {
	f := newFixture(t, WithMaxAttempts(5))
	ctx := context.Background()
	registry := domainwf.DefaultRegistry()

	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		f.create(t, domainwf.TypeSecurityLog, id, day)
	}

	roles := []domainwf.Role{domainwf.RoleSupervisor, domainwf.RoleFactory, domainwf.RoleCEO}
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := ids[i%len(ids)]
			switch i % 5 {
			case 0:
				_, _ = f.engine.Edit(ctx, EditRequest{Type: domainwf.TypeSecurityLog, ID: id, Payload: map[string]interface{}{"n": i}})
			case 1:
				_, _ = f.engine.SubmitBatch(ctx, BatchRequest{Type: domainwf.TypeSecurityLog, Date: day, Level: domainwf.LevelFactory, ActorRole: "factory"})
			case 2:
				_, _ = f.engine.SubmitBatch(ctx, BatchRequest{Type: domainwf.TypeSecurityLog, Date: day, Level: domainwf.LevelCeo, ActorRole: "ceo"})
			default:
				seen, err := f.engine.Get(ctx, domainwf.TypeSecurityLog, id)
				if err != nil {
					return
				}
				_, _ = f.engine.Approve(ctx, ApproveRequest{Type: domainwf.TypeSecurityLog, ID: id, ActorRole: string(roles[i%len(roles)]), FromState: seen.Status})
			}
		}(i)
	}
	wg.Wait()

	def, err := registry.Definition(domainwf.TypeSecurityLog)
	require.NoError(t, err)

	for _, id := range ids {
		doc, err := f.engine.Get(ctx, domainwf.TypeSecurityLog, id)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(doc.ApprovalStamps), def.Position(doc.Status), id)

		history, err := f.engine.History(ctx, domainwf.TypeSecurityLog, id)
		require.NoError(t, err)
		for _, h := range history {
			switch h.ActionType {
			case domainwf.TriggerApprove, domainwf.TriggerBatch:
				next, ok := def.NextState(h.PreviousStatus)
				require.True(t, ok)
				assert.Equal(t, next, h.NewStatus, "%s: %s", id, h.ActionType)
			case domainwf.TriggerReopen:
				assert.Equal(t, def.Initial(), h.NewStatus)
			}
		}
	}
}
