package entity

import (
	"time"

	"github.com/garyjia/docflow/internal/domain/workflow"
)

// DayRecord holds the batched sign-off flags of one calendar day
type DayRecord struct {
	Date                    string    `json:"date"`
	FactoryDailyApproved    bool      `json:"factoryDailyApproved"`
	CeoDailyApproved        bool      `json:"ceoDailyApproved"`
	DelaySupervisorApproved bool      `json:"delaySupervisorApproved"`
	DelayFactoryApproved    bool      `json:"delayFactoryApproved"`
	DelayCeoApproved        bool      `json:"delayCeoApproved"`
	Version                 int64     `json:"version"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// DayKey is the lock key of a batch day
func DayKey(date string) string {
	return "day:" + date
}

// Flag returns the value of flag
func (r *DayRecord) Flag(flag workflow.DayFlag) bool {
	if p := r.field(flag); p != nil {
		return *p
	}
	return false
}

// SetFlag sets flag to v; unknown flags are ignored
func (r *DayRecord) SetFlag(flag workflow.DayFlag, v bool) {
	if p := r.field(flag); p != nil {
		*p = v
	}
}

// AnySet reports whether any flag is set
func (r *DayRecord) AnySet() bool {
	return r.FactoryDailyApproved || r.CeoDailyApproved ||
		r.DelaySupervisorApproved || r.DelayFactoryApproved || r.DelayCeoApproved
}

// ClearAll resets every flag
func (r *DayRecord) ClearAll() {
	r.FactoryDailyApproved = false
	r.CeoDailyApproved = false
	r.DelaySupervisorApproved = false
	r.DelayFactoryApproved = false
	r.DelayCeoApproved = false
}

func (r *DayRecord) field(flag workflow.DayFlag) *bool {
	switch flag {
	case workflow.FlagFactoryDailyApproved:
		return &r.FactoryDailyApproved
	case workflow.FlagCeoDailyApproved:
		return &r.CeoDailyApproved
	case workflow.FlagDelaySupervisorApproved:
		return &r.DelaySupervisorApproved
	case workflow.FlagDelayFactoryApproved:
		return &r.DelayFactoryApproved
	case workflow.FlagDelayCeoApproved:
		return &r.DelayCeoApproved
	}
	return nil
}
