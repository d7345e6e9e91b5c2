package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rogers-f/estate-workflow/internal/cache"
	"github.com/rogers-f/estate-workflow/internal/domain"
	"github.com/rogers-f/estate-workflow/internal/store"
)

// Authorizer decides whether actor may perform action on app.
type Authorizer interface {
	Authorize(ctx context.Context, app domain.ApplicationInfo, actor domain.Actor, action domain.Action) error
}

// Engine loads an application, runs a pure transition on the snapshot, and
// persists the result together with its history entry, event, and snapshot.
type Engine struct {
	DB           *sql.DB
	Rules        Rules
	AppRepo      *store.ApplicationRepo
	HistoryRepo  *store.HistoryRepo
	EventRepo    *store.EventRepo
	SnapshotRepo *store.SnapshotRepo
	AuditRepo    *store.AuditRepo
	Cache        cache.Cache
	Guard        Authorizer
	Logger       *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewEngine creates an Engine with all dependencies.
func NewEngine(db *sql.DB, rules Rules, c cache.Cache, guard Authorizer, logger *zap.Logger) *Engine {
	if c == nil {
		c = cache.NewMemoryCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		DB:           db,
		Rules:        rules,
		AppRepo:      &store.ApplicationRepo{},
		HistoryRepo:  &store.HistoryRepo{},
		EventRepo:    &store.EventRepo{},
		SnapshotRepo: &store.SnapshotRepo{},
		AuditRepo:    &store.AuditRepo{},
		Cache:        c,
		Guard:        guard,
		Logger:       logger,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// CreateApplication starts a new application at stage 1, step 0, status NEW.
func (e *Engine) CreateApplication(ctx context.Context, id string, actor domain.Actor) (domain.ApplicationInfo, error) {
	now := e.now()
	app := domain.ApplicationInfo{
		ID:                id,
		Status:            domain.StatusNew,
		CurrentStage:      e.Rules.StepStage(0),
		CurrentStepIndex:  0,
		WorkflowSubstatus: domain.SubstatusDraft,
		CompletedSteps:    domain.NewStepSet(),
		VerifiedSteps:     domain.NewStepSet(),
		StateVersion:      1,
		UpdatedAtUnix:     now.Unix(),
	}

	if err := e.authorize(ctx, app, actor, domain.ActionCreate); err != nil {
		return domain.ApplicationInfo{}, err
	}

	if _, err := e.AppRepo.GetByID(ctx, e.DB, id); err == nil {
		return domain.ApplicationInfo{}, domain.ErrDuplicateApp
	} else if !errors.Is(err, domain.ErrApplicationMissing) {
		return domain.ApplicationInfo{}, err
	}

	entry := domain.HistoryEntry{
		ID:         e.newID(),
		Date:       now.UTC(),
		User:       actor.User,
		Role:       actor.Role,
		Action:     domain.ActionCreate,
		NextStatus: app.Status,
		Stage:      app.CurrentStage,
	}
	app.History = app.History.Prepend(entry)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ApplicationInfo{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := e.AppRepo.CreateTx(ctx, tx, app); err != nil {
		return domain.ApplicationInfo{}, err
	}
	if err := e.HistoryRepo.AppendTx(ctx, tx, id, entry); err != nil {
		return domain.ApplicationInfo{}, err
	}
	event := domain.WorkflowEvent{
		ApplicationID: id,
		SeqNo:         1,
		Stage:         app.CurrentStage,
		EventType:     "application_created",
		PayloadJSON:   payloadJSON(map[string]any{"actor": actor.User, "role": actor.Role}),
		CreatedAt:     now.Unix(),
	}
	if err := e.EventRepo.AppendTx(ctx, tx, event); err != nil {
		return domain.ApplicationInfo{}, fmt.Errorf("append create event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.ApplicationInfo{}, fmt.Errorf("commit create: %w", err)
	}

	e.Logger.Info("application created", zap.String("application_id", id), zap.String("user", actor.User))
	return app, nil
}

// GetApplication returns the application, served from the cache when the
// cached entry carries the committed state version. Entries left behind by a
// failed invalidation or a fill that raced a transition are reloaded.
func (e *Engine) GetApplication(ctx context.Context, id string) (domain.ApplicationInfo, error) {
	version, err := e.AppRepo.StateVersion(ctx, e.DB, id)
	if err != nil {
		return domain.ApplicationInfo{}, err
	}

	app, err := e.Cache.Get(ctx, id)
	switch {
	case err == nil && app.StateVersion == version:
		return app, nil
	case err == nil:
		e.Logger.Debug("stale cache entry",
			zap.String("application_id", id),
			zap.Int64("cached_version", app.StateVersion),
			zap.Int64("version", version))
	case !errors.Is(err, cache.ErrMiss):
		e.Logger.Warn("cache read failed", zap.String("application_id", id), zap.Error(err))
	}

	app, err = e.load(ctx, id)
	if err != nil {
		return domain.ApplicationInfo{}, err
	}
	if err := e.Cache.Set(ctx, app); err != nil {
		e.Logger.Warn("cache fill failed", zap.String("application_id", id), zap.Error(err))
	}
	return app, nil
}

// History returns the application's history, newest first.
func (e *Engine) History(ctx context.Context, id string) ([]domain.HistoryEntry, error) {
	if _, err := e.AppRepo.GetByID(ctx, e.DB, id); err != nil {
		return nil, err
	}
	h, err := e.HistoryRepo.ListByApplication(ctx, e.DB, id)
	if err != nil {
		return nil, err
	}
	return h.Entries(), nil
}

// Events returns workflow events after sinceSeq.
func (e *Engine) Events(ctx context.Context, id string, sinceSeq int64) ([]domain.WorkflowEvent, error) {
	if _, err := e.AppRepo.StateVersion(ctx, e.DB, id); err != nil {
		return nil, err
	}
	return e.EventRepo.ListByApplication(ctx, e.DB, id, sinceSeq)
}

// Audit returns the denied actions recorded against the application, newest first.
func (e *Engine) Audit(ctx context.Context, id string, f store.AuditFilter) ([]domain.AuditRecord, error) {
	if _, err := e.AppRepo.StateVersion(ctx, e.DB, id); err != nil {
		return nil, err
	}
	return e.AuditRepo.List(ctx, e.DB, id, f)
}

// Snapshot returns the application as it was when it last entered stage.
func (e *Engine) Snapshot(ctx context.Context, id string, stage int) (domain.ApplicationInfo, error) {
	if _, err := e.AppRepo.StateVersion(ctx, e.DB, id); err != nil {
		return domain.ApplicationInfo{}, err
	}
	snap, err := e.SnapshotRepo.Latest(ctx, e.DB, id, stage)
	if err != nil {
		return domain.ApplicationInfo{}, err
	}
	var app domain.ApplicationInfo
	if err := json.Unmarshal([]byte(snap.SnapshotJSON), &app); err != nil {
		return domain.ApplicationInfo{}, fmt.Errorf("decode snapshot %d: %w", snap.ID, err)
	}
	return app, nil
}

// CompleteStep marks stepIndex done and advances past it. Only the current
// step can be completed. The substatus is normalized first, so a returned
// application resumes as a plain draft.
func (e *Engine) CompleteStep(ctx context.Context, id string, actor domain.Actor, stepIndex int, comment string) (domain.ApplicationInfo, error) {
	return e.transition(ctx, id, actor, domain.ActionComplete, comment, func(app domain.ApplicationInfo) domain.Descriptor {
		if stepIndex != app.CurrentStepIndex {
			return noop(app, domain.ActionComplete)
		}
		return e.Rules.CompleteStep(NormalizeSubstatus(app), stepIndex)
	})
}

// RollbackTask moves the application one step back. At step 0 it returns the
// current state without writing anything.
func (e *Engine) RollbackTask(ctx context.Context, id string, actor domain.Actor, comment string) (domain.ApplicationInfo, error) {
	return e.transition(ctx, id, actor, domain.ActionRollback, comment, e.Rules.RollbackTask)
}

// ReviewStage approves or rejects the stage awaiting review.
func (e *Engine) ReviewStage(ctx context.Context, id string, actor domain.Actor, action domain.Action, comment string) (domain.ApplicationInfo, error) {
	if action != domain.ActionApprove && action != domain.ActionReject {
		return domain.ApplicationInfo{}, domain.ErrInvalidAction
	}
	return e.transition(ctx, id, actor, action, comment, func(app domain.ApplicationInfo) domain.Descriptor {
		return e.Rules.ReviewStage(app, action, comment)
	})
}

// RequestDecline asks for the application to be declined.
func (e *Engine) RequestDecline(ctx context.Context, id string, actor domain.Actor, reason string) (domain.ApplicationInfo, error) {
	req := domain.DeclineRequest{Reason: reason, By: actor.User, At: e.now().UTC()}
	return e.transition(ctx, id, actor, domain.ActionRequestDecline, reason, func(app domain.ApplicationInfo) domain.Descriptor {
		return e.Rules.RequestDecline(app, req)
	})
}

// ConfirmDecline finalizes a pending decline request.
func (e *Engine) ConfirmDecline(ctx context.Context, id string, actor domain.Actor, comment string) (domain.ApplicationInfo, error) {
	return e.transition(ctx, id, actor, domain.ActionConfirmDecline, comment, func(app domain.ApplicationInfo) domain.Descriptor {
		return e.Rules.ConfirmDecline(app, actor.Role)
	})
}

// ReturnFromDecline withdraws a pending decline request.
func (e *Engine) ReturnFromDecline(ctx context.Context, id string, actor domain.Actor, comment string) (domain.ApplicationInfo, error) {
	return e.transition(ctx, id, actor, domain.ActionReturnDecline, comment, e.Rules.ReturnFromDecline)
}

// RestoreFromDecline reactivates a declined application.
func (e *Engine) RestoreFromDecline(ctx context.Context, id string, actor domain.Actor, comment string) (domain.ApplicationInfo, error) {
	return e.transition(ctx, id, actor, domain.ActionRestoreDeclined, comment, e.Rules.RestoreFromDecline)
}

func (e *Engine) transition(
	ctx context.Context,
	id string,
	actor domain.Actor,
	action domain.Action,
	comment string,
	compute func(domain.ApplicationInfo) domain.Descriptor,
) (domain.ApplicationInfo, error) {
	app, err := e.load(ctx, id)
	if err != nil {
		return domain.ApplicationInfo{}, err
	}

	if err := e.authorize(ctx, app, actor, action); err != nil {
		return domain.ApplicationInfo{}, err
	}

	d := compute(app)
	if d.Flags.Noop {
		if action == domain.ActionRollback && app.CurrentStepIndex <= 0 {
			return app, nil
		}
		return domain.ApplicationInfo{}, domain.NewEngineError(
			domain.ErrInvalidTransition.Code,
			fmt.Sprintf("%s does not apply to status %s at step %d", action, app.Status, app.CurrentStepIndex),
		)
	}

	now := e.now()
	entry := NewHistoryEntry(e.newID(), now, actor, d, comment)
	next := Apply(app, d, entry)

	if err := e.persist(ctx, app, next, d, entry); err != nil {
		return domain.ApplicationInfo{}, fmt.Errorf("persist %s: %w", action, err)
	}
	next.StateVersion = app.StateVersion + 1

	if err := e.Cache.Invalidate(ctx, id); err != nil {
		e.Logger.Warn("cache invalidate failed", zap.String("application_id", id), zap.Error(err))
	}

	e.Logger.Info("transition applied",
		zap.String("application_id", id),
		zap.String("action", string(action)),
		zap.String("user", actor.User),
		zap.String("from", string(d.PrevStatus)),
		zap.String("to", string(d.NextStatus)),
		zap.Int("stage", d.NextStage),
		zap.Int("step", d.NextStepIndex))
	return next, nil
}

// persist writes next in a single transaction guarded by prev's state version.
func (e *Engine) persist(ctx context.Context, prev, next domain.ApplicationInfo, d domain.Descriptor, entry domain.HistoryEntry) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	guarded := next
	guarded.StateVersion = prev.StateVersion
	if err := e.AppRepo.UpdateStateTx(ctx, tx, guarded); err != nil {
		return err
	}

	if err := e.HistoryRepo.AppendTx(ctx, tx, next.ID, entry); err != nil {
		return err
	}

	seq, err := e.EventRepo.LastSeqTx(ctx, tx, next.ID)
	if err != nil {
		return err
	}
	event := domain.WorkflowEvent{
		ApplicationID: next.ID,
		SeqNo:         seq + 1,
		Stage:         next.CurrentStage,
		EventType:     "status_transition",
		PayloadJSON: payloadJSON(map[string]any{
			"action": d.Action,
			"actor":  entry.User,
			"from":   d.PrevStatus,
			"to":     d.NextStatus,
			"step":   d.NextStepIndex,
			"flags":  d.Flags,
		}),
		CreatedAt: entry.Date.Unix(),
	}
	if err := e.EventRepo.AppendTx(ctx, tx, event); err != nil {
		return fmt.Errorf("append transition event: %w", err)
	}

	if next.CurrentStage != prev.CurrentStage {
		entered := next
		entered.StateVersion = prev.StateVersion + 1
		data, err := json.Marshal(entered)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		snap := domain.StageSnapshot{
			ApplicationID: next.ID,
			Stage:         next.CurrentStage,
			SnapshotJSON:  string(data),
			CreatedAt:     entry.Date.Unix(),
		}
		if err := e.SnapshotRepo.SaveTx(ctx, tx, snap); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// load reads the application and its history straight from the store.
func (e *Engine) load(ctx context.Context, id string) (domain.ApplicationInfo, error) {
	app, err := e.AppRepo.GetByID(ctx, e.DB, id)
	if err != nil {
		return domain.ApplicationInfo{}, err
	}
	h, err := e.HistoryRepo.ListByApplication(ctx, e.DB, id)
	if err != nil {
		return domain.ApplicationInfo{}, err
	}
	app.History = h
	return *app, nil
}

func (e *Engine) authorize(ctx context.Context, app domain.ApplicationInfo, actor domain.Actor, action domain.Action) error {
	if e.Guard == nil {
		return nil
	}
	return e.Guard.Authorize(ctx, app, actor, action)
}

func payloadJSON(v map[string]any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
