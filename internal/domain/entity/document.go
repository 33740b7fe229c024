package entity

import (
	"time"

	"github.com/garyjia/docflow/internal/domain/workflow"
)

// Document is the envelope of every business document tracked by the engine.
// Payload carries the type-specific fields and is opaque to the engine.
type Document struct {
	ID             string                 `json:"id"`
	Type           workflow.DocumentType  `json:"type"`
	Status         workflow.State         `json:"status"`
	ApprovalStamps []ApprovalStamp        `json:"approval_stamps"`
	Rejection      *Rejection             `json:"rejection,omitempty"`
	CreatedBy      string                 `json:"created_by"`
	Day            string                 `json:"day,omitempty"`
	Payload        map[string]interface{} `json:"payload"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	Version        int64                  `json:"version"`
}

// ApprovalStamp records one successful approve
type ApprovalStamp struct {
	Role      workflow.Role  `json:"role"`
	ActorName string         `json:"actor_name"`
	State     workflow.State `json:"state"`
	Timestamp time.Time      `json:"timestamp"`
}

// Rejection records why a document was rejected
type Rejection struct {
	ActorName string    `json:"actor_name"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// DayLayout is the calendar day format of batch days
const DayLayout = "2006-01-02"

// Clone returns a copy that shares no slices or maps with d
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.ApprovalStamps != nil {
		c.ApprovalStamps = append([]ApprovalStamp(nil), d.ApprovalStamps...)
	}
	if d.Rejection != nil {
		r := *d.Rejection
		c.Rejection = &r
	}
	if d.Payload != nil {
		c.Payload = make(map[string]interface{}, len(d.Payload))
		for k, v := range d.Payload {
			c.Payload[k] = v
		}
	}
	return &c
}

// MergePayload overlays fields onto the payload
func (d *Document) MergePayload(fields map[string]interface{}) {
	if len(fields) == 0 {
		return
	}
	if d.Payload == nil {
		d.Payload = make(map[string]interface{}, len(fields))
	}
	for k, v := range fields {
		d.Payload[k] = v
	}
}

// PayloadString retrieves a string value from the payload
func (d *Document) PayloadString(key string) string {
	if v, ok := d.Payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// LastStamp returns the most recent approval stamp, if any
func (d *Document) LastStamp() (ApprovalStamp, bool) {
	if len(d.ApprovalStamps) == 0 {
		return ApprovalStamp{}, false
	}
	return d.ApprovalStamps[len(d.ApprovalStamps)-1], true
}

// Key is the lock and cache key of the document
func (d *Document) Key() string {
	return DocumentKey(d.Type, d.ID)
}

// DocumentKey builds the key of a (type, id) pair
func DocumentKey(docType workflow.DocumentType, id string) string {
	return "doc:" + string(docType) + ":" + id
}
