package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry_Chains(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		docType DocumentType
		states  []State
		final   State
	}{
		{TypePaymentOrder, []State{StatePending, StateFinanceApproved, StateManagerApproved}, StateCeoApproved},
		{TypeExitPermit, []State{StatePendingCeo, StatePendingFactory, StatePendingSecurity}, StateExited},
		{TypeSecurityLog, []State{StatePendingSupervisor, StatePendingFactory, StateFactoryChecked, StatePendingCeo}, StateArchived},
		{TypeSecurityDelay, []State{StatePendingSupervisor, StateSupervisorChecked, StatePendingFactory, StateFactoryChecked, StatePendingCeo}, StateArchived},
		{TypeSecurityIncident, []State{StatePendingSupervisor, StatePendingFactory, StatePendingCeo}, StateArchived},
		{TypeWarehouseDispatch, []State{StatePending}, StateApproved},
	}

	for _, tt := range tests {
		t.Run(string(tt.docType), func(t *testing.T) {
			chain := r.Chain(tt.docType)
			require.Len(t, chain, len(tt.states))
			for i, s := range tt.states {
				assert.Equal(t, s, chain[i].State)
			}

			last := tt.states[len(tt.states)-1]
			next, ok := r.NextState(tt.docType, last)
			require.True(t, ok)
			assert.Equal(t, tt.final, next)

			assert.True(t, r.IsTerminal(tt.docType, tt.final))
			assert.True(t, r.IsTerminal(tt.docType, StateRejected))
			assert.False(t, r.IsTerminal(tt.docType, tt.states[0]))
		})
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	r := DefaultRegistry()

	_, err := r.Definition(DocumentType("invoice"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Nil(t, r.Chain(DocumentType("invoice")))
	assert.False(t, r.IsTerminal(DocumentType("invoice"), StateRejected))

	_, ok := r.NextState(DocumentType("invoice"), StatePending)
	assert.False(t, ok)
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	assert.Panics(t, func() { NewRegistry(paymentOrder(), paymentOrder()) })
}

func TestRegistry_BatchedTypes(t *testing.T) {
	assert.Equal(t, []DocumentType{TypeSecurityDelay, TypeSecurityLog}, DefaultRegistry().BatchedTypes())
}

func TestDefinition_DayFlags(t *testing.T) {
	assert.Equal(t, []DayFlag{FlagFactoryDailyApproved, FlagCeoDailyApproved}, securityLog().DayFlags())
	assert.Equal(t,
		[]DayFlag{FlagDelaySupervisorApproved, FlagDelayFactoryApproved, FlagDelayCeoApproved},
		securityDelay().DayFlags())
	assert.Empty(t, paymentOrder().DayFlags())
}

func TestDefinition_BatchStep(t *testing.T) {
	def := securityLog()

	step, ok := def.BatchStep(LevelFactory)
	require.True(t, ok)
	assert.Equal(t, StateFactoryChecked, step.State)
	assert.True(t, step.BatchOnly)

	step, ok = def.BatchStep(LevelCeo)
	require.True(t, ok)
	assert.Equal(t, StatePendingCeo, step.State)
	assert.False(t, step.BatchOnly)

	_, ok = def.BatchStep(LevelSupervisor)
	assert.False(t, ok)
}

func TestDefinition_Position(t *testing.T) {
	def := securityLog()
	assert.Equal(t, 0, def.Position(StatePendingSupervisor))
	assert.Equal(t, 3, def.Position(StatePendingCeo))
	assert.Equal(t, 4, def.Position(StateArchived))
	assert.Equal(t, -1, def.Position(StateRejected))
}

func TestStep_Authorizes(t *testing.T) {
	finance := Step{State: StatePending, RequiredRoles: []Role{RoleFinance}}
	security := Step{State: StatePendingSecurity, RequiredRoles: []Role{RoleSecurity}, Exclusive: true}

	tests := []struct {
		name string
		step Step
		role Role
		want bool
	}{
		{"required role", finance, RoleFinance, true},
		{"case insensitive", finance, Role("FINANCE"), true},
		{"other role", finance, RoleManager, false},
		{"admin override", finance, Role("Admin"), true},
		{"ceo override", finance, RoleCEO, true},
		{"ceo blocked on exclusive", security, RoleCEO, false},
		{"admin passes exclusive", security, RoleAdmin, true},
		{"empty role", finance, Role(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.step.Authorizes(tt.role))
		})
	}
}

func TestStep_MissingPayload(t *testing.T) {
	step := Step{RequiredPayload: []string{PayloadExitTime}}

	key, missing := step.MissingPayload(nil)
	assert.True(t, missing)
	assert.Equal(t, PayloadExitTime, key)

	_, missing = step.MissingPayload(map[string]interface{}{PayloadExitTime: ""})
	assert.True(t, missing)

	_, missing = step.MissingPayload(map[string]interface{}{PayloadExitTime: "14:30"})
	assert.False(t, missing)
}

func TestParseDocumentType(t *testing.T) {
	assert.Equal(t, TypePaymentOrder, ParseDocumentType("PaymentOrder"))
	assert.Equal(t, TypeExitPermit, ParseDocumentType("exit_permit"))
	assert.Equal(t, TypeSecurityDelay, ParseDocumentType("delay"))
	assert.Equal(t, DocumentType("unknown"), ParseDocumentType("Unknown"))
}

func TestParseBatchLevel(t *testing.T) {
	level, ok := ParseBatchLevel("Factory")
	assert.True(t, ok)
	assert.Equal(t, LevelFactory, level)

	level, ok = ParseBatchLevel("archive")
	assert.True(t, ok)
	assert.Equal(t, LevelCeo, level)

	_, ok = ParseBatchLevel("manager")
	assert.False(t, ok)
}
