package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/rogers-f/estate-workflow/internal/domain"
)

func seedApplication(t *testing.T, db *sql.DB, app domain.ApplicationInfo) {
	t.Helper()
	repo := &ApplicationRepo{}
	commitTx(t, db, func(tx *sql.Tx) error {
		return repo.CreateTx(context.Background(), tx, app)
	})
}

func TestApplicationRepo_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &ApplicationRepo{}

	reason := "missing floor plans"
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedApplication(t, db, domain.ApplicationInfo{
		ID:                "app-001",
		Status:            domain.StatusRejected,
		CurrentStage:      2,
		CurrentStepIndex:  8,
		WorkflowSubstatus: domain.SubstatusRejectedByController,
		CompletedSteps:    domain.NewStepSet(0, 1, 2, 3, 4, 5, 6, 7),
		VerifiedSteps:     domain.NewStepSet(0, 1, 2, 3, 4, 5),
		RejectionReason:   &reason,
		Decline:           &domain.DeclineRequest{Reason: "duplicate", By: "tech-1", At: at, Step: 8},
		StateVersion:      1,
	})

	got, err := repo.GetByID(ctx, db, "app-001")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.StatusRejected {
		t.Errorf("Status = %q, want %q", got.Status, domain.StatusRejected)
	}
	if got.CurrentStage != 2 || got.CurrentStepIndex != 8 {
		t.Errorf("position = (%d, %d), want (2, 8)", got.CurrentStage, got.CurrentStepIndex)
	}
	if got.CompletedSteps.Len() != 8 || !got.CompletedSteps.Has(7) {
		t.Errorf("CompletedSteps = %v, want 0..7", got.CompletedSteps.Sorted())
	}
	if got.VerifiedSteps.Len() != 6 {
		t.Errorf("VerifiedSteps = %v, want 0..5", got.VerifiedSteps.Sorted())
	}
	if got.RejectionReason == nil || *got.RejectionReason != reason {
		t.Errorf("RejectionReason = %v, want %q", got.RejectionReason, reason)
	}
	if got.Decline == nil || got.Decline.By != "tech-1" || !got.Decline.At.Equal(at) {
		t.Errorf("Decline = %+v, want by tech-1 at %v", got.Decline, at)
	}
}

func TestApplicationRepo_GetByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := (&ApplicationRepo{}).GetByID(context.Background(), db, "missing")
	if !errors.Is(err, domain.ErrApplicationMissing) {
		t.Errorf("err = %v, want ErrApplicationMissing", err)
	}
}

func TestApplicationRepo_UpdateState_OptimisticLock(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &ApplicationRepo{}

	seedApplication(t, db, domain.ApplicationInfo{
		ID: "app-1", Status: domain.StatusDraft, CurrentStage: 1, StateVersion: 1,
	})

	app, err := repo.GetByID(ctx, db, "app-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	app.CurrentStepIndex = 1
	app.RejectionReason = nil
	commitTx(t, db, func(tx *sql.Tx) error { return repo.UpdateStateTx(ctx, tx, *app) })

	got, err := repo.GetByID(ctx, db, "app-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.StateVersion != 2 {
		t.Errorf("StateVersion = %d, want 2", got.StateVersion)
	}
	if got.CurrentStepIndex != 1 {
		t.Errorf("CurrentStepIndex = %d, want 1", got.CurrentStepIndex)
	}

	// A writer still holding version 1 must lose.
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	err = repo.UpdateStateTx(ctx, tx, *app)
	if !errors.Is(err, domain.ErrOptimisticLock) {
		t.Errorf("stale update err = %v, want ErrOptimisticLock", err)
	}
}

func TestApplicationRepo_StateVersion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &ApplicationRepo{}
	seedApplication(t, db, domain.ApplicationInfo{
		ID: "app-1", Status: domain.StatusNew, CurrentStage: 1, StateVersion: 4,
		CompletedSteps: domain.NewStepSet(), VerifiedSteps: domain.NewStepSet(),
	})

	v, err := repo.StateVersion(ctx, db, "app-1")
	if err != nil {
		t.Fatalf("StateVersion: %v", err)
	}
	if v != 4 {
		t.Errorf("StateVersion = %d, want 4", v)
	}

	if _, err := repo.StateVersion(ctx, db, "missing"); !errors.Is(err, domain.ErrApplicationMissing) {
		t.Errorf("err = %v, want ErrApplicationMissing", err)
	}
}
