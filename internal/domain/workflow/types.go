package workflow

import "strings"

// DocumentType identifies a business document kind with its own chain
type DocumentType string

const (
	TypePaymentOrder      DocumentType = "payment_order"
	TypeExitPermit        DocumentType = "exit_permit"
	TypeSecurityLog       DocumentType = "security_log"
	TypeSecurityDelay     DocumentType = "security_delay"
	TypeSecurityIncident  DocumentType = "security_incident"
	TypeWarehouseDispatch DocumentType = "warehouse_dispatch"
)

// String returns the string representation of the document type
func (t DocumentType) String() string {
	return string(t)
}

// IsKnown reports whether t is one of the catalogued document types
func (t DocumentType) IsKnown() bool {
	switch t {
	case TypePaymentOrder, TypeExitPermit, TypeSecurityLog, TypeSecurityDelay, TypeSecurityIncident, TypeWarehouseDispatch:
		return true
	}
	return false
}

// ParseDocumentType accepts snake_case and CamelCase spellings
func ParseDocumentType(s string) DocumentType {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	switch s {
	case "paymentorder", "payment":
		return TypePaymentOrder
	case "exitpermit", "exit":
		return TypeExitPermit
	case "securitylog", "log":
		return TypeSecurityLog
	case "securitydelay", "delay":
		return TypeSecurityDelay
	case "securityincident", "incident":
		return TypeSecurityIncident
	case "warehousedispatch", "dispatch":
		return TypeWarehouseDispatch
	}
	return DocumentType(s)
}

// Role is an organisational role used to gate transitions
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleCEO        Role = "ceo"
	RoleFinance    Role = "finance"
	RoleManager    Role = "manager"
	RoleFactory    Role = "factory"
	RoleSecurity   Role = "security"
	RoleSupervisor Role = "supervisor"
	RoleWarehouse  Role = "warehouse"
)

// NormalizeRole makes role comparisons case-insensitive
func NormalizeRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}

// Equal compares two roles ignoring case
func (r Role) Equal(other Role) bool {
	return strings.EqualFold(strings.TrimSpace(string(r)), strings.TrimSpace(string(other)))
}

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the role is one of the known roles
func (r Role) IsValid() bool {
	switch NormalizeRole(string(r)) {
	case RoleAdmin, RoleCEO, RoleFinance, RoleManager, RoleFactory, RoleSecurity, RoleSupervisor, RoleWarehouse:
		return true
	}
	return false
}

// BatchLevel is the sign-off level of a batched daily approval
type BatchLevel string

const (
	LevelSupervisor BatchLevel = "supervisor"
	LevelFactory    BatchLevel = "factory"
	LevelCeo        BatchLevel = "ceo"
)

// ParseBatchLevel returns the level or false when unknown
func ParseBatchLevel(s string) (BatchLevel, bool) {
	switch BatchLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LevelSupervisor:
		return LevelSupervisor, true
	case LevelFactory:
		return LevelFactory, true
	case LevelCeo, "archive":
		return LevelCeo, true
	}
	return "", false
}

// DayFlag names a day-level approval flag
type DayFlag string

const (
	FlagFactoryDailyApproved    DayFlag = "factoryDailyApproved"
	FlagCeoDailyApproved        DayFlag = "ceoDailyApproved"
	FlagDelaySupervisorApproved DayFlag = "delaySupervisorApproved"
	FlagDelayFactoryApproved    DayFlag = "delayFactoryApproved"
	FlagDelayCeoApproved        DayFlag = "delayCeoApproved"
)

// EditPolicy describes how an edit interacts with the document status
type EditPolicy int

const (
	// EditWhilePending permits payload edits only in the initial state
	EditWhilePending EditPolicy = iota
	// EditDemotes permits edits until rejection and demotes the document
	// and its batch day back to the initial state
	EditDemotes
)
