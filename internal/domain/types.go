// Package domain defines the core types for the complex inventory workflow.
package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// Status is the coarse lifecycle state of an application.
type Status string

const (
	StatusDraft            Status = "DRAFT"
	StatusNew              Status = "NEW"
	StatusReview           Status = "REVIEW"
	StatusRejected         Status = "REJECTED"
	StatusIntegration      Status = "INTEGRATION"
	StatusCompleted        Status = "COMPLETED"
	StatusDeclineRequested Status = "DECLINE_REQUESTED"
	StatusDeclined         Status = "DECLINED"
)

// Statuses lists every known status in lifecycle order.
var Statuses = []Status{
	StatusDraft, StatusNew, StatusReview, StatusRejected,
	StatusIntegration, StatusCompleted, StatusDeclineRequested, StatusDeclined,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// InDeclineFamily reports whether the application is parked in the decline sub-workflow.
func (s Status) InDeclineFamily() bool {
	return s == StatusDeclineRequested || s == StatusDeclined
}

// Substatus refines a status, e.g. a draft that was sent back by a manager.
type Substatus string

const (
	SubstatusDraft                Substatus = "DRAFT"
	SubstatusReturnedByManager    Substatus = "RETURNED_BY_MANAGER"
	SubstatusRejectedByController Substatus = "REJECTED_BY_CONTROLLER"
	SubstatusDeclineRequested     Substatus = "DECLINE_REQUESTED"
	SubstatusDeclined             Substatus = "DECLINED"
)

// Role identifies who is acting on an application.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleController Role = "CONTROLLER"
	RoleTechnician Role = "TECHNICIAN"
	RoleManager    Role = "MANAGER"
)

// Action tags a transition.
type Action string

const (
	ActionCreate          Action = "CREATE"
	ActionComplete        Action = "COMPLETE"
	ActionRollback        Action = "ROLLBACK"
	ActionApprove         Action = "APPROVE"
	ActionReject          Action = "REJECT"
	ActionRequestDecline  Action = "REQUEST_DECLINE"
	ActionConfirmDecline  Action = "CONFIRM_DECLINE"
	ActionReturnDecline   Action = "RETURN_FROM_DECLINE"
	ActionRestoreDeclined Action = "RESTORE_FROM_DECLINE"
)

// StepSet is an unordered set of step indices.
// It is treated as immutable: every operation returns a new set.
type StepSet map[int]struct{}

// NewStepSet builds a set from the given indices.
func NewStepSet(indices ...int) StepSet {
	s := make(StepSet, len(indices))
	for _, i := range indices {
		s[i] = struct{}{}
	}
	return s
}

// Has reports whether i is in the set.
func (s StepSet) Has(i int) bool {
	_, ok := s[i]
	return ok
}

// Len returns the number of indices in the set.
func (s StepSet) Len() int { return len(s) }

// With returns a copy of s with the given indices added.
func (s StepSet) With(indices ...int) StepSet {
	out := make(StepSet, len(s)+len(indices))
	for i := range s {
		out[i] = struct{}{}
	}
	for _, i := range indices {
		out[i] = struct{}{}
	}
	return out
}

// Filter returns a copy of s holding only the indices for which keep returns true.
func (s StepSet) Filter(keep func(int) bool) StepSet {
	out := make(StepSet, len(s))
	for i := range s {
		if keep(i) {
			out[i] = struct{}{}
		}
	}
	return out
}

// Sorted returns the indices in ascending order.
func (s StepSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s StepSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array of indices.
func (s *StepSet) UnmarshalJSON(data []byte) error {
	var indices []int
	if err := json.Unmarshal(data, &indices); err != nil {
		return err
	}
	*s = NewStepSet(indices...)
	return nil
}

// DeclineRequest is the metadata recorded when a technician asks to decline an application.
type DeclineRequest struct {
	Reason string    `json:"reason"`
	By     string    `json:"by"`
	At     time.Time `json:"at"`
	Step   int       `json:"step"`
}

// ApplicationInfo is the workflow state of one complex's application.
// Values are passed and returned by copy; use Clone before handing one to another owner.
type ApplicationInfo struct {
	ID                string          `json:"id"`
	Status            Status          `json:"status"`
	CurrentStage      int             `json:"current_stage"`
	CurrentStepIndex  int             `json:"current_step_index"`
	WorkflowSubstatus Substatus       `json:"workflow_substatus"`
	CompletedSteps    StepSet         `json:"completed_steps"`
	VerifiedSteps     StepSet         `json:"verified_steps"`
	History           History         `json:"history"`
	RejectionReason   *string         `json:"rejection_reason"`
	Decline           *DeclineRequest `json:"decline"`
	StateVersion      int64           `json:"state_version"`
	UpdatedAtUnix     int64           `json:"updated_at_unix"`
}

// Clone returns a copy that shares no mutable state with a.
func (a ApplicationInfo) Clone() ApplicationInfo {
	out := a
	out.CompletedSteps = a.CompletedSteps.With()
	out.VerifiedSteps = a.VerifiedSteps.With()
	if a.RejectionReason != nil {
		r := *a.RejectionReason
		out.RejectionReason = &r
	}
	if a.Decline != nil {
		d := *a.Decline
		out.Decline = &d
	}
	return out
}

// Flags describe what kind of move a transition made.
type Flags struct {
	IsStageBoundary    bool `json:"is_stage_boundary"`
	IsIntegrationStart bool `json:"is_integration_start"`
	IsLastStepGlobal   bool `json:"is_last_step_global"`
	IsApprove          bool `json:"is_approve"`
	// Noop is set when the transition does not apply to the given state.
	Noop bool `json:"noop"`
}

// Descriptor is the result of a pure transition: the full next state of the workflow fields.
type Descriptor struct {
	Action          Action          `json:"action"`
	PrevStatus      Status          `json:"prev_status"`
	NextStatus      Status          `json:"next_status"`
	NextStage       int             `json:"next_stage"`
	NextStepIndex   int             `json:"next_step_index"`
	NextSubstatus   Substatus       `json:"next_substatus"`
	CompletedSteps  StepSet         `json:"completed_steps"`
	VerifiedSteps   StepSet         `json:"verified_steps"`
	RejectionReason *string         `json:"rejection_reason"`
	Decline         *DeclineRequest `json:"decline"`
	Flags           Flags           `json:"flags"`
}

// Actor is the user performing an action.
type Actor struct {
	User string `json:"user"`
	Role Role   `json:"role"`
}

// WorkflowEvent represents an event in the workflow event log.
type WorkflowEvent struct {
	ID            int64  `json:"id"`
	ApplicationID string `json:"application_id"`
	SeqNo         int64  `json:"seq_no"`
	Stage         int    `json:"stage"`
	EventType     string `json:"event_type"`
	PayloadJSON   string `json:"payload_json"`
	CreatedAt     int64  `json:"created_at"`
}

// StageSnapshot captures the application at a stage change.
type StageSnapshot struct {
	ID            int64  `json:"id"`
	ApplicationID string `json:"application_id"`
	Stage         int    `json:"stage"`
	SnapshotJSON  string `json:"snapshot_json"`
	CreatedAt     int64  `json:"created_at"`
}

// AuditRecord logs security and compliance events.
type AuditRecord struct {
	ID            string `json:"id"`
	ApplicationID string `json:"application_id"`
	Category      string `json:"category"`
	Actor         string `json:"actor"`
	Action        string `json:"action"`
	RequestJSON   string `json:"request_json"`
	DecisionJSON  string `json:"decision_json"`
	Severity      string `json:"severity"`
	CreatedAt     int64  `json:"created_at"`
}
