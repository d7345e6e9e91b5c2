// Package guard decides whether an actor may perform a workflow action.
package guard

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rogers-f/estate-workflow/internal/domain"
	"github.com/rogers-f/estate-workflow/internal/store"
	"github.com/rogers-f/estate-workflow/internal/workflow"
)

// GuardConfig holds rate limits.
type GuardConfig struct {
	RateLimitPerMinute int
}

// actionRoles lists which roles may trigger each action.
var actionRoles = map[domain.Action][]domain.Role{
	domain.ActionCreate:          {domain.RoleTechnician, domain.RoleAdmin},
	domain.ActionComplete:        {domain.RoleTechnician, domain.RoleAdmin},
	domain.ActionRollback:        {domain.RoleTechnician, domain.RoleAdmin},
	domain.ActionApprove:         {domain.RoleController, domain.RoleAdmin},
	domain.ActionReject:          {domain.RoleController, domain.RoleAdmin},
	domain.ActionRequestDecline:  {domain.RoleTechnician, domain.RoleAdmin},
	domain.ActionConfirmDecline:  {domain.RoleManager, domain.RoleAdmin},
	domain.ActionReturnDecline:   {domain.RoleManager, domain.RoleAdmin},
	domain.ActionRestoreDeclined: {domain.RoleAdmin},
}

// editActions change inventory content and so also pass the edit gate.
var editActions = map[domain.Action]bool{
	domain.ActionComplete: true,
}

// RoleAllowed reports whether role may trigger action at all.
func RoleAllowed(role domain.Role, action domain.Action) bool {
	for _, r := range actionRoles[action] {
		if r == role {
			return true
		}
	}
	return false
}

// Audit categories written by deny.
const (
	auditPermission = "permission"
	auditRateLimit  = "rate_limit"
)

// Guard coordinates role, edit-gate, and rate checks. Denials are audited.
type Guard struct {
	Config    GuardConfig
	AuditRepo *store.AuditRepo
	DB        *sql.DB
	Logger    *zap.Logger

	mu         sync.Mutex
	rateCounts map[string]*rateBucket
	now        func() time.Time
}

type rateBucket struct {
	count       int
	windowStart int64
}

// NewGuard creates a Guard with the given dependencies.
func NewGuard(db *sql.DB, logger *zap.Logger, cfg GuardConfig) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		Config:     cfg,
		AuditRepo:  &store.AuditRepo{},
		DB:         db,
		Logger:     logger,
		rateCounts: make(map[string]*rateBucket),
		now:        time.Now,
	}
}

// Authorize runs all checks in order: role, edit gate, rate limit.
// It short-circuits on the first failure.
func (g *Guard) Authorize(ctx context.Context, app domain.ApplicationInfo, actor domain.Actor, action domain.Action) error {
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleController, domain.RoleTechnician, domain.RoleManager:
	default:
		g.deny(ctx, app, actor, action, auditPermission, "unknown role")
		return domain.ErrUnknownRole
	}

	if !RoleAllowed(actor.Role, action) {
		g.deny(ctx, app, actor, action, auditPermission, "role may not perform action")
		return domain.ErrPermissionDenied
	}

	if editActions[action] && !workflow.CanEditByRoleAndStatus(actor.Role, app.Status) {
		g.deny(ctx, app, actor, action, auditPermission, "edit locked in status "+string(app.Status))
		return domain.ErrEditLocked
	}

	if err := g.CheckRateLimit(actor.User); err != nil {
		g.deny(ctx, app, actor, action, auditRateLimit, "rate limit exceeded")
		return err
	}
	return nil
}

// CheckRateLimit enforces a per-user 60 second window.
// If the count reaches the configured limit, ErrRateLimitExceeded is returned.
// A non-positive limit disables the check.
func (g *Guard) CheckRateLimit(user string) error {
	if g.Config.RateLimitPerMinute <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().Unix()
	bucket, ok := g.rateCounts[user]
	if !ok {
		g.rateCounts[user] = &rateBucket{count: 1, windowStart: now}
		return nil
	}

	if now-bucket.windowStart >= 60 {
		bucket.count = 1
		bucket.windowStart = now
		return nil
	}

	if bucket.count >= g.Config.RateLimitPerMinute {
		return domain.ErrRateLimitExceeded
	}

	bucket.count++
	return nil
}

func (g *Guard) deny(ctx context.Context, app domain.ApplicationInfo, actor domain.Actor, action domain.Action, category, reason string) {
	g.Logger.Warn("action denied",
		zap.String("application_id", app.ID),
		zap.String("user", actor.User),
		zap.String("role", string(actor.Role)),
		zap.String("action", string(action)),
		zap.String("reason", reason))

	if g.DB == nil {
		return
	}
	req, _ := json.Marshal(map[string]string{"role": string(actor.Role), "status": string(app.Status)})
	dec, _ := json.Marshal(map[string]string{"reason": reason})
	now := g.now()
	err := g.AuditRepo.Record(ctx, g.DB, domain.AuditRecord{
		ID:            "aud-" + uuid.NewString(),
		ApplicationID: app.ID,
		Category:      category,
		Actor:         actor.User,
		Action:        string(action),
		RequestJSON:   string(req),
		DecisionJSON:  string(dec),
		Severity:      "warning",
		CreatedAt:     now.Unix(),
	})
	if err != nil {
		g.Logger.Error("record audit", zap.Error(err))
	}
}
