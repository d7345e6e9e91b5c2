package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rogers-f/estate-workflow/internal/domain"
)

func appAt(status domain.Status, stage, step int) domain.ApplicationInfo {
	return domain.ApplicationInfo{
		ID:                "app-1",
		Status:            status,
		CurrentStage:      stage,
		CurrentStepIndex:  step,
		WorkflowSubstatus: domain.SubstatusDraft,
		CompletedSteps:    domain.NewStepSet(),
		VerifiedSteps:     domain.NewStepSet(),
	}
}

func steps(from, to int) []int {
	var out []int
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestCompleteStep_Scenarios(t *testing.T) {
	t.Run("inside stage", func(t *testing.T) {
		d := CompleteStep(appAt(domain.StatusDraft, 1, 0), 0)
		assert.Equal(t, 1, d.NextStepIndex)
		assert.Equal(t, domain.StatusDraft, d.NextStatus)
		assert.Equal(t, 1, d.NextStage)
		assert.False(t, d.Flags.IsStageBoundary)
		assert.True(t, d.CompletedSteps.Has(0))
	})

	t.Run("stage boundary", func(t *testing.T) {
		d := CompleteStep(appAt(domain.StatusDraft, 1, 5), 5)
		assert.True(t, d.Flags.IsStageBoundary)
		assert.Equal(t, domain.StatusReview, d.NextStatus)
		assert.Equal(t, 2, d.NextStage)
		assert.Equal(t, 6, d.NextStepIndex)
	})

	t.Run("boundary wins over integration start", func(t *testing.T) {
		d := CompleteStep(appAt(domain.StatusDraft, 3, 11), 11)
		assert.Equal(t, 12, d.NextStepIndex)
		assert.Equal(t, domain.StatusReview, d.NextStatus)
		assert.True(t, d.Flags.IsIntegrationStart)
		assert.True(t, d.Flags.IsStageBoundary)
		assert.Equal(t, 4, d.NextStage)
	})

	t.Run("last global step", func(t *testing.T) {
		d := CompleteStep(appAt(domain.StatusDraft, 4, 16), 16)
		assert.True(t, d.Flags.IsLastStepGlobal)
		assert.Equal(t, domain.StatusCompleted, d.NextStatus)
		assert.Equal(t, 4, d.NextStage)
	})
}

func TestCompleteStep_IntegrationStartWithoutBoundary(t *testing.T) {
	r := Rules{Stages: DefaultStageMap(), IntegrationStart: 14}
	d := r.CompleteStep(appAt(domain.StatusDraft, 4, 13), 13)
	assert.True(t, d.Flags.IsIntegrationStart)
	assert.False(t, d.Flags.IsStageBoundary)
	assert.Equal(t, domain.StatusIntegration, d.NextStatus)
	assert.Equal(t, 4, d.NextStage)
}

func TestCompleteStep_EveryBoundaryProducesReview(t *testing.T) {
	m := DefaultStageMap()
	for _, s := range m.Stages() {
		if s.LastStepIndex == m.TotalSteps()-1 {
			continue
		}
		d := CompleteStep(appAt(domain.StatusDraft, s.Number, s.LastStepIndex), s.LastStepIndex)
		assert.Equal(t, domain.StatusReview, d.NextStatus, "boundary %d", s.LastStepIndex)
		assert.Equal(t, s.Number+1, d.NextStage, "boundary %d", s.LastStepIndex)
	}
}

func TestCompleteStep_LastStepCompletesFromAnyStage(t *testing.T) {
	for stage := 1; stage <= 4; stage++ {
		d := CompleteStep(appAt(domain.StatusIntegration, stage, 16), 16)
		assert.Equal(t, domain.StatusCompleted, d.NextStatus)
		assert.Equal(t, stage, d.NextStage)
	}
}

func TestCompleteStep_PassesSubstatusThrough(t *testing.T) {
	app := appAt(domain.StatusRejected, 1, 2)
	app.WorkflowSubstatus = domain.SubstatusReturnedByManager

	assert.Equal(t, domain.SubstatusReturnedByManager, CompleteStep(app, 2).NextSubstatus)
	assert.Equal(t, domain.SubstatusDraft, CompleteStep(NormalizeSubstatus(app), 2).NextSubstatus)
}

func TestCompleteStep_MalformedInputIsNoop(t *testing.T) {
	app := appAt(domain.StatusDraft, 2, 7)
	for _, idx := range []int{-1, 17, 40} {
		d := CompleteStep(app, idx)
		assert.True(t, d.Flags.Noop, "index %d", idx)
		assert.Equal(t, domain.StatusDraft, d.NextStatus)
		assert.Equal(t, 2, d.NextStage)
		assert.Equal(t, 7, d.NextStepIndex)
	}

	declined := appAt(domain.StatusDeclined, 2, 7)
	assert.True(t, CompleteStep(declined, 7).Flags.Noop)
}

func TestCompleteStep_DoesNotMutateInput(t *testing.T) {
	app := appAt(domain.StatusDraft, 1, 3)
	app.CompletedSteps = domain.NewStepSet(0, 1, 2)
	before := app.Clone()

	_ = CompleteStep(app, 3)
	assert.Equal(t, before.CompletedSteps.Sorted(), app.CompletedSteps.Sorted())
	assert.Equal(t, before.CurrentStepIndex, app.CurrentStepIndex)
}

func TestRollbackTask(t *testing.T) {
	t.Run("from review", func(t *testing.T) {
		app := appAt(domain.StatusReview, 2, 8)
		app.CompletedSteps = domain.NewStepSet(steps(0, 7)...)
		d := RollbackTask(app)
		assert.Equal(t, 7, d.NextStepIndex)
		assert.Equal(t, domain.StatusDraft, d.NextStatus)
		assert.Equal(t, 2, d.NextStage)
		assert.Equal(t, steps(0, 6), d.CompletedSteps.Sorted())
	})

	t.Run("from completed", func(t *testing.T) {
		d := RollbackTask(appAt(domain.StatusCompleted, 4, 17))
		assert.Equal(t, domain.StatusDraft, d.NextStatus)
		assert.Equal(t, 16, d.NextStepIndex)
	})

	t.Run("keeps other statuses", func(t *testing.T) {
		d := RollbackTask(appAt(domain.StatusRejected, 2, 7))
		assert.Equal(t, domain.StatusRejected, d.NextStatus)
	})

	t.Run("across stage boundary", func(t *testing.T) {
		d := RollbackTask(appAt(domain.StatusReview, 2, 6))
		assert.Equal(t, 5, d.NextStepIndex)
		assert.Equal(t, 1, d.NextStage)
	})

	t.Run("at step zero", func(t *testing.T) {
		d := RollbackTask(appAt(domain.StatusDraft, 1, 0))
		assert.True(t, d.Flags.Noop)
		assert.Equal(t, 0, d.NextStepIndex)
		assert.Equal(t, 1, d.NextStage)
		assert.Equal(t, domain.StatusDraft, d.NextStatus)
	})
}

func TestRollback_LeftInverseOfComplete(t *testing.T) {
	r := DefaultRules()
	for i := 0; i < r.TotalSteps(); i++ {
		if r.Stages.IsStageBoundary(i) {
			continue
		}
		app := appAt(domain.StatusDraft, r.StepStage(i), i)
		next := r.CompleteStep(app, i)
		back := r.RollbackTask(appAt(next.NextStatus, next.NextStage, next.NextStepIndex))
		assert.Equal(t, i, back.NextStepIndex, "step %d", i)
		assert.Equal(t, r.StepStage(i), back.NextStage, "step %d", i)
	}
}

func TestReviewStage_Approve(t *testing.T) {
	app := appAt(domain.StatusReview, 2, 6)
	reason := "old reason"
	app.RejectionReason = &reason

	d := ReviewStage(app, domain.ActionApprove, "")
	assert.True(t, d.Flags.IsApprove)
	assert.Equal(t, domain.StatusDraft, d.NextStatus)
	assert.Equal(t, 6, d.NextStepIndex)
	assert.Equal(t, 2, d.NextStage)
	assert.Equal(t, steps(0, 5), d.VerifiedSteps.Sorted())
	assert.Nil(t, d.RejectionReason)
}

func TestReviewStage_ApproveAtIntegrationStart(t *testing.T) {
	app := appAt(domain.StatusReview, 4, 12)
	app.VerifiedSteps = domain.NewStepSet(steps(0, 8)...)

	d := ReviewStage(app, domain.ActionApprove, "ok")
	assert.Equal(t, domain.StatusIntegration, d.NextStatus)
	assert.Equal(t, steps(0, 11), d.VerifiedSteps.Sorted())
}

func TestReviewStage_Reject(t *testing.T) {
	app := appAt(domain.StatusReview, 3, 10)
	app.VerifiedSteps = domain.NewStepSet(steps(0, 8)...)
	app.CompletedSteps = domain.NewStepSet(steps(0, 9)...)

	d := ReviewStage(app, domain.ActionReject, "balconies missing")
	assert.False(t, d.Flags.IsApprove)
	assert.Equal(t, domain.StatusRejected, d.NextStatus)
	assert.Equal(t, 2, d.NextStage)
	assert.Equal(t, 8, d.NextStepIndex)
	assert.Equal(t, steps(0, 5), d.VerifiedSteps.Sorted())
	assert.Equal(t, steps(0, 9), d.CompletedSteps.Sorted(), "completed steps stay untouched")
	require.NotNil(t, d.RejectionReason)
	assert.Equal(t, "balconies missing", *d.RejectionReason)
}

func TestReviewStage_RejectFloorsAtStageOne(t *testing.T) {
	d := ReviewStage(appAt(domain.StatusReview, 1, 3), domain.ActionReject, "")
	assert.Equal(t, 1, d.NextStage)
	assert.Equal(t, 5, d.NextStepIndex)
	assert.Nil(t, d.RejectionReason)
}

func TestReviewStage_StagePointerProperties(t *testing.T) {
	for stage := 1; stage <= 4; stage++ {
		start, _, _ := DefaultStageMap().StageRange(stage)
		app := appAt(domain.StatusReview, stage, start)

		approve := ReviewStage(app, domain.ActionApprove, "")
		assert.GreaterOrEqual(t, approve.NextStage, app.CurrentStage)
		assert.GreaterOrEqual(t, approve.NextStepIndex, app.CurrentStepIndex)

		reject := ReviewStage(app, domain.ActionReject, "")
		wantStage := max(1, stage-1)
		assert.Equal(t, wantStage, reject.NextStage)
		s, _ := DefaultStageMap().Stage(wantStage)
		assert.Equal(t, s.LastStepIndex, reject.NextStepIndex)
	}
}

func TestReviewStage_Noops(t *testing.T) {
	assert.True(t, ReviewStage(appAt(domain.StatusReview, 2, 6), domain.ActionComplete, "").Flags.Noop)
	assert.True(t, ReviewStage(appAt(domain.StatusDraft, 2, 6), domain.ActionApprove, "").Flags.Noop)
}

func TestDeclineFlow(t *testing.T) {
	at := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	app := appAt(domain.StatusDraft, 2, 7)
	app.CompletedSteps = domain.NewStepSet(steps(0, 6)...)
	app.VerifiedSteps = domain.NewStepSet(steps(0, 5)...)

	req := RequestDecline(app, domain.DeclineRequest{Reason: "building demolished", By: "tech-1", At: at})
	require.False(t, req.Flags.Noop)
	assert.Equal(t, domain.StatusDeclineRequested, req.NextStatus)
	assert.Equal(t, domain.SubstatusDeclineRequested, req.NextSubstatus)
	require.NotNil(t, req.Decline)
	assert.Equal(t, 7, req.Decline.Step)
	assert.Equal(t, "tech-1", req.Decline.By)
	assert.Equal(t, 2, req.NextStage)
	assert.Equal(t, 7, req.NextStepIndex)

	requested := Apply(app, req, domain.HistoryEntry{ID: "h-1", Date: at})

	t.Run("technician cannot confirm", func(t *testing.T) {
		assert.True(t, ConfirmDecline(requested, domain.RoleTechnician).Flags.Noop)
		assert.True(t, ConfirmDecline(requested, domain.RoleController).Flags.Noop)
	})

	t.Run("return clears metadata", func(t *testing.T) {
		d := ReturnFromDecline(requested)
		assert.Equal(t, domain.StatusDraft, d.NextStatus)
		assert.Equal(t, domain.SubstatusReturnedByManager, d.NextSubstatus)
		assert.Nil(t, d.Decline)
		assert.Equal(t, steps(0, 6), d.CompletedSteps.Sorted())
		assert.Equal(t, steps(0, 5), d.VerifiedSteps.Sorted())
	})

	t.Run("confirm then restore", func(t *testing.T) {
		confirm := ConfirmDecline(requested, domain.RoleManager)
		require.False(t, confirm.Flags.Noop)
		assert.Equal(t, domain.StatusDeclined, confirm.NextStatus)
		assert.NotNil(t, confirm.Decline)

		declined := Apply(requested, confirm, domain.HistoryEntry{ID: "h-2", Date: at})
		assert.True(t, RollbackTask(declined).Flags.Noop)
		assert.True(t, ReturnFromDecline(declined).Flags.Noop)
		assert.True(t, RequestDecline(declined, domain.DeclineRequest{}).Flags.Noop)

		restore := RestoreFromDecline(declined)
		assert.Equal(t, domain.StatusDraft, restore.NextStatus)
		assert.Equal(t, domain.SubstatusDraft, restore.NextSubstatus)
		assert.Nil(t, restore.Decline)
		assert.Equal(t, 2, restore.NextStage)
		assert.Equal(t, 7, restore.NextStepIndex)
	})

	t.Run("restore into integration", func(t *testing.T) {
		late := appAt(domain.StatusDeclined, 4, 13)
		assert.Equal(t, domain.StatusIntegration, RestoreFromDecline(late).NextStatus)
	})

	t.Run("restore requires declined", func(t *testing.T) {
		assert.True(t, RestoreFromDecline(app).Flags.Noop)
		assert.True(t, ConfirmDecline(app, domain.RoleAdmin).Flags.Noop)
	})

	t.Run("completed cannot be declined", func(t *testing.T) {
		assert.True(t, RequestDecline(appAt(domain.StatusCompleted, 4, 17), domain.DeclineRequest{}).Flags.Noop)
	})
}

func TestNormalizeSubstatus(t *testing.T) {
	for _, s := range []domain.Substatus{domain.SubstatusReturnedByManager, domain.SubstatusRejectedByController} {
		app := appAt(domain.StatusRejected, 1, 1)
		app.WorkflowSubstatus = s
		assert.Equal(t, domain.SubstatusDraft, NormalizeSubstatus(app).WorkflowSubstatus)
		assert.Equal(t, s, app.WorkflowSubstatus, "input must be unchanged")
	}

	app := appAt(domain.StatusDeclineRequested, 1, 1)
	app.WorkflowSubstatus = domain.SubstatusDeclineRequested
	assert.Equal(t, domain.SubstatusDeclineRequested, NormalizeSubstatus(app).WorkflowSubstatus)
}
