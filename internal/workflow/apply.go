package workflow

import (
	"time"

	"github.com/rogers-f/estate-workflow/internal/domain"
)

// NewHistoryEntry describes a descriptor as a history line written by actor at now.
func NewHistoryEntry(id string, now time.Time, actor domain.Actor, d domain.Descriptor, comment string) domain.HistoryEntry {
	return domain.HistoryEntry{
		ID:         id,
		Date:       now.UTC(),
		User:       actor.User,
		Role:       actor.Role,
		Action:     d.Action,
		Comment:    comment,
		PrevStatus: d.PrevStatus,
		NextStatus: d.NextStatus,
		Stage:      d.NextStage,
		StepIndex:  d.NextStepIndex,
	}
}

// Apply merges a descriptor into app and prepends entry to its history.
// app itself is left untouched; the returned value shares no sets with it.
func Apply(app domain.ApplicationInfo, d domain.Descriptor, entry domain.HistoryEntry) domain.ApplicationInfo {
	next := app.Clone()
	next.Status = d.NextStatus
	next.CurrentStage = d.NextStage
	next.CurrentStepIndex = d.NextStepIndex
	next.WorkflowSubstatus = d.NextSubstatus
	next.CompletedSteps = d.CompletedSteps.With()
	next.VerifiedSteps = d.VerifiedSteps.With()
	next.RejectionReason = copyString(d.RejectionReason)
	next.Decline = copyDecline(d.Decline)
	next.History = app.History.Prepend(entry)
	next.UpdatedAtUnix = entry.Date.Unix()
	return next
}
