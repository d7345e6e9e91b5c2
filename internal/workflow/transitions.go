package workflow

import (
	"github.com/rogers-f/estate-workflow/internal/domain"
)

// Rules binds the transition functions to a stage layout.
// A Rules value is immutable and safe for concurrent use.
type Rules struct {
	Stages           StageMap
	IntegrationStart int
}

// DefaultRules returns the standard layout: 4 stages, 17 steps, integration at step 12.
func DefaultRules() Rules {
	return Rules{Stages: DefaultStageMap(), IntegrationStart: DefaultIntegrationStartIndex}
}

// StepStage resolves a step index to its stage under the default layout.
func StepStage(index int) int { return DefaultRules().StepStage(index) }

// CompleteStep applies DefaultRules().CompleteStep.
func CompleteStep(app domain.ApplicationInfo, currentIndex int) domain.Descriptor {
	return DefaultRules().CompleteStep(app, currentIndex)
}

// RollbackTask applies DefaultRules().RollbackTask.
func RollbackTask(app domain.ApplicationInfo) domain.Descriptor {
	return DefaultRules().RollbackTask(app)
}

// ReviewStage applies DefaultRules().ReviewStage.
func ReviewStage(app domain.ApplicationInfo, action domain.Action, comment string) domain.Descriptor {
	return DefaultRules().ReviewStage(app, action, comment)
}

// RequestDecline applies DefaultRules().RequestDecline.
func RequestDecline(app domain.ApplicationInfo, req domain.DeclineRequest) domain.Descriptor {
	return DefaultRules().RequestDecline(app, req)
}

// ConfirmDecline applies DefaultRules().ConfirmDecline.
func ConfirmDecline(app domain.ApplicationInfo, role domain.Role) domain.Descriptor {
	return DefaultRules().ConfirmDecline(app, role)
}

// ReturnFromDecline applies DefaultRules().ReturnFromDecline.
func ReturnFromDecline(app domain.ApplicationInfo) domain.Descriptor {
	return DefaultRules().ReturnFromDecline(app)
}

// RestoreFromDecline applies DefaultRules().RestoreFromDecline.
func RestoreFromDecline(app domain.ApplicationInfo) domain.Descriptor {
	return DefaultRules().RestoreFromDecline(app)
}

// StepStage resolves a step index to its stage number.
func (r Rules) StepStage(index int) int { return r.Stages.StepStage(index) }

// TotalSteps is the global number of steps.
func (r Rules) TotalSteps() int { return r.Stages.TotalSteps() }

// NormalizeSubstatus maps a "sent back" substatus to plain draft.
// Callers apply it before CompleteStep, the moment work resumes.
func NormalizeSubstatus(app domain.ApplicationInfo) domain.ApplicationInfo {
	switch app.WorkflowSubstatus {
	case domain.SubstatusReturnedByManager, domain.SubstatusRejectedByController:
		app.WorkflowSubstatus = domain.SubstatusDraft
	}
	return app
}

// unchanged is the descriptor that leaves every field as it is.
func unchanged(app domain.ApplicationInfo, action domain.Action) domain.Descriptor {
	return domain.Descriptor{
		Action:          action,
		PrevStatus:      app.Status,
		NextStatus:      app.Status,
		NextStage:       app.CurrentStage,
		NextStepIndex:   app.CurrentStepIndex,
		NextSubstatus:   app.WorkflowSubstatus,
		CompletedSteps:  app.CompletedSteps.With(),
		VerifiedSteps:   app.VerifiedSteps.With(),
		RejectionReason: copyString(app.RejectionReason),
		Decline:         copyDecline(app.Decline),
	}
}

func noop(app domain.ApplicationInfo, action domain.Action) domain.Descriptor {
	d := unchanged(app, action)
	d.Flags.Noop = true
	return d
}

// CompleteStep advances one step past currentIndex.
//
// Status resolution, first match wins: last global step -> COMPLETED;
// last step of a stage -> REVIEW and the next stage; integration start -> INTEGRATION;
// otherwise status and stage stay. The substatus is passed through, so callers
// normalize it first with NormalizeSubstatus.
func (r Rules) CompleteStep(app domain.ApplicationInfo, currentIndex int) domain.Descriptor {
	if currentIndex < 0 || currentIndex >= r.TotalSteps() || app.Status.InDeclineFamily() {
		return noop(app, domain.ActionComplete)
	}

	d := unchanged(app, domain.ActionComplete)
	next := currentIndex + 1
	stage := r.StepStage(currentIndex)

	d.NextStepIndex = next
	d.CompletedSteps = app.CompletedSteps.With(currentIndex)
	d.Flags.IsStageBoundary = r.Stages.IsStageBoundary(currentIndex)
	d.Flags.IsLastStepGlobal = next >= r.TotalSteps()
	d.Flags.IsIntegrationStart = next == r.IntegrationStart

	switch {
	case d.Flags.IsLastStepGlobal:
		d.NextStatus = domain.StatusCompleted
	case d.Flags.IsStageBoundary:
		d.NextStatus = domain.StatusReview
		d.NextStage = stage + 1
	case d.Flags.IsIntegrationStart:
		d.NextStatus = domain.StatusIntegration
	}
	return d
}

// RollbackTask moves exactly one step back. At step 0 the descriptor equals
// the current position and is flagged Noop.
func (r Rules) RollbackTask(app domain.ApplicationInfo) domain.Descriptor {
	if app.Status.InDeclineFamily() {
		return noop(app, domain.ActionRollback)
	}
	current := app.CurrentStepIndex
	if current <= 0 {
		d := noop(app, domain.ActionRollback)
		d.NextStepIndex = 0
		d.NextStage = r.StepStage(0)
		return d
	}

	d := unchanged(app, domain.ActionRollback)
	prev := current - 1
	d.NextStepIndex = prev
	d.NextStage = r.StepStage(prev)
	if app.Status == domain.StatusCompleted || app.Status == domain.StatusReview {
		d.NextStatus = domain.StatusDraft
	}
	d.CompletedSteps = app.CompletedSteps.Filter(func(i int) bool { return i < prev })
	return d
}

// ReviewStage approves or rejects the stage under review, the one before CurrentStage.
// Approve keeps the step pointer and verifies the stage's steps. Reject steps the
// stage back by one, points at that stage's last step and revokes the verifications.
func (r Rules) ReviewStage(app domain.ApplicationInfo, action domain.Action, comment string) domain.Descriptor {
	if action != domain.ActionApprove && action != domain.ActionReject {
		return noop(app, action)
	}
	if app.Status != domain.StatusReview {
		return noop(app, action)
	}

	d := unchanged(app, action)
	reviewed := max(1, app.CurrentStage-1)
	start, end, ok := r.Stages.StageRange(reviewed)
	inRange := func(i int) bool { return ok && i >= start && i <= end }

	if action == domain.ActionApprove {
		d.Flags.IsApprove = true
		d.NextStatus = domain.StatusDraft
		if app.CurrentStepIndex == r.IntegrationStart {
			d.NextStatus = domain.StatusIntegration
		}
		d.NextSubstatus = domain.SubstatusDraft
		if ok {
			steps := make([]int, 0, end-start+1)
			for i := start; i <= end; i++ {
				steps = append(steps, i)
			}
			d.VerifiedSteps = app.VerifiedSteps.With(steps...)
		}
		d.RejectionReason = nil
		return d
	}

	d.NextStage = max(1, app.CurrentStage-1)
	d.NextStepIndex = 0
	if s, found := r.Stages.Stage(d.NextStage); found {
		d.NextStepIndex = s.LastStepIndex
	}
	d.NextStatus = domain.StatusRejected
	d.NextSubstatus = domain.SubstatusRejectedByController
	d.VerifiedSteps = app.VerifiedSteps.Filter(func(i int) bool { return !inRange(i) })
	if comment != "" {
		d.RejectionReason = &comment
	}
	return d
}

// editableStatus is where an application resumes after leaving the decline flow.
func (r Rules) editableStatus(app domain.ApplicationInfo) domain.Status {
	if app.CurrentStepIndex >= r.IntegrationStart {
		return domain.StatusIntegration
	}
	return domain.StatusDraft
}

// RequestDecline parks the application in DECLINE_REQUESTED and records who asked and why.
// Stage, step and the step sets are untouched.
func (r Rules) RequestDecline(app domain.ApplicationInfo, req domain.DeclineRequest) domain.Descriptor {
	if app.Status.InDeclineFamily() || app.Status == domain.StatusCompleted {
		return noop(app, domain.ActionRequestDecline)
	}
	d := unchanged(app, domain.ActionRequestDecline)
	d.NextStatus = domain.StatusDeclineRequested
	d.NextSubstatus = domain.SubstatusDeclineRequested
	req.Step = app.CurrentStepIndex
	d.Decline = &req
	return d
}

// ConfirmDecline finalizes a requested decline. Only managers and admins may confirm.
func (r Rules) ConfirmDecline(app domain.ApplicationInfo, role domain.Role) domain.Descriptor {
	if role != domain.RoleAdmin && role != domain.RoleManager {
		return noop(app, domain.ActionConfirmDecline)
	}
	if app.Status != domain.StatusDeclineRequested {
		return noop(app, domain.ActionConfirmDecline)
	}
	d := unchanged(app, domain.ActionConfirmDecline)
	d.NextStatus = domain.StatusDeclined
	d.NextSubstatus = domain.SubstatusDeclined
	return d
}

// ReturnFromDecline withdraws a pending decline request and hands the
// application back to the technician.
func (r Rules) ReturnFromDecline(app domain.ApplicationInfo) domain.Descriptor {
	if app.Status != domain.StatusDeclineRequested {
		return noop(app, domain.ActionReturnDecline)
	}
	d := unchanged(app, domain.ActionReturnDecline)
	d.NextStatus = r.editableStatus(app)
	d.NextSubstatus = domain.SubstatusReturnedByManager
	d.Decline = nil
	return d
}

// RestoreFromDecline reactivates a declined application.
func (r Rules) RestoreFromDecline(app domain.ApplicationInfo) domain.Descriptor {
	if app.Status != domain.StatusDeclined {
		return noop(app, domain.ActionRestoreDeclined)
	}
	d := unchanged(app, domain.ActionRestoreDeclined)
	d.NextStatus = r.editableStatus(app)
	d.NextSubstatus = domain.SubstatusDraft
	d.Decline = nil
	return d
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyDecline(d *domain.DeclineRequest) *domain.DeclineRequest {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
