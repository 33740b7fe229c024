package workflow

// PayloadExitTime is the payload key security must supply when a permit exits
const PayloadExitTime = "exitTime"

// DefaultRegistry returns the chains of the supported business documents
func DefaultRegistry() *Registry {
	return NewRegistry(
		paymentOrder(),
		exitPermit(),
		securityLog(),
		securityDelay(),
		securityIncident(),
		warehouseDispatch(),
	)
}

func paymentOrder() *Definition {
	b := NewBuilder(TypePaymentOrder)
	b.Configure(StatePending).Permit(RoleFinance)
	b.Configure(StateFinanceApproved).Permit(RoleManager)
	b.Configure(StateManagerApproved).Permit(RoleCEO)
	return b.Final(StateCeoApproved).Build()
}

func exitPermit() *Definition {
	b := NewBuilder(TypeExitPermit)
	b.Configure(StatePendingCeo).Permit(RoleCEO)
	b.Configure(StatePendingFactory).Permit(RoleFactory)
	b.Configure(StatePendingSecurity).Permit(RoleSecurity).Exclusive().Require(PayloadExitTime)
	return b.Final(StateExited).Build()
}

func securityLog() *Definition {
	b := NewBuilder(TypeSecurityLog)
	b.Configure(StatePendingSupervisor).Permit(RoleSupervisor)
	b.Configure(StatePendingFactory).Permit(RoleFactory)
	b.Configure(StateFactoryChecked).Permit(RoleFactory).BatchOnly(LevelFactory)
	b.Configure(StatePendingCeo).Permit(RoleCEO).Batch(LevelCeo)
	return b.Final(StateArchived).
		Edits(EditDemotes).
		DayFlag(LevelFactory, FlagFactoryDailyApproved).
		DayFlag(LevelCeo, FlagCeoDailyApproved).
		Build()
}

func securityDelay() *Definition {
	b := NewBuilder(TypeSecurityDelay)
	b.Configure(StatePendingSupervisor).Permit(RoleSupervisor)
	b.Configure(StateSupervisorChecked).Permit(RoleSupervisor).BatchOnly(LevelSupervisor)
	b.Configure(StatePendingFactory).Permit(RoleFactory)
	b.Configure(StateFactoryChecked).Permit(RoleFactory).BatchOnly(LevelFactory)
	b.Configure(StatePendingCeo).Permit(RoleCEO).Batch(LevelCeo)
	return b.Final(StateArchived).
		Edits(EditDemotes).
		DayFlag(LevelSupervisor, FlagDelaySupervisorApproved).
		DayFlag(LevelFactory, FlagDelayFactoryApproved).
		DayFlag(LevelCeo, FlagDelayCeoApproved).
		Build()
}

func securityIncident() *Definition {
	b := NewBuilder(TypeSecurityIncident)
	b.Configure(StatePendingSupervisor).Permit(RoleSupervisor)
	b.Configure(StatePendingFactory).Permit(RoleFactory)
	b.Configure(StatePendingCeo).Permit(RoleCEO)
	return b.Final(StateArchived).Build()
}

func warehouseDispatch() *Definition {
	b := NewBuilder(TypeWarehouseDispatch)
	b.Configure(StatePending).Permit(RoleAdmin, RoleCEO)
	return b.Final(StateApproved).Build()
}
