package domain

import "fmt"

// EngineError is the unified error type for the workflow service.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// Is matches any EngineError with the same code, so detailed errors built
// with NewEngineError still satisfy errors.Is against the sentinels below.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && t.Code == e.Code
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// ---- Workflow errors (-32010 to -32039) ----

var (
	ErrInvalidTransition  = &EngineError{Code: -32010, Message: "transition does not apply to the current state"}
	ErrApplicationMissing = &EngineError{Code: -32012, Message: "application not found"}
	ErrSnapshotMissing    = &EngineError{Code: -32013, Message: "no snapshot recorded for stage"}
	ErrOptimisticLock     = &EngineError{Code: -32015, Message: "optimistic lock conflict: state was modified concurrently"}
	ErrStageMapInvalid    = &EngineError{Code: -32016, Message: "invalid stage map"}
	ErrInvalidAction      = &EngineError{Code: -32017, Message: "invalid review action"}
	ErrDuplicateApp       = &EngineError{Code: -32019, Message: "application already exists"}
)

// ---- Guard / Permission errors (-32100 to -32129) ----

var (
	ErrPermissionDenied  = &EngineError{Code: -32100, Message: "permission denied"}
	ErrEditLocked        = &EngineError{Code: -32101, Message: "role cannot edit the application in its current status"}
	ErrRateLimitExceeded = &EngineError{Code: -32103, Message: "rate limit exceeded"}
	ErrUnknownRole       = &EngineError{Code: -32104, Message: "unknown role"}
)

// ---- Config errors (-32130 to -32159) ----

var (
	ErrConfigInvalid = &EngineError{Code: -32136, Message: "invalid configuration"}
)
