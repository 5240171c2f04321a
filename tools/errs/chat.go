package errs

import "errors"

// Failure classes for the sync core. Initial-load failures block and carry a
// retry; refresh failures are swallowed once prior state exists; action
// failures surface as transient notifications; soft conditions are routed to
// the informational channel and are not errors at all.
var (
	ErrInitialLoad = NewCodeError(1001, "initial load failed")
	ErrRefresh     = NewCodeError(1002, "background refresh failed")
	ErrAction      = NewCodeError(1003, "action failed")

	// ErrNoToken means the token provider has nothing yet. Callers treat it
	// as "not ready" and silently no-op; the next natural trigger retries.
	ErrNoToken = NewCodeError(1004, "no auth token")

	// ErrRequestPending is the soft condition: the conversation request has
	// not been accepted, so the message is queued behind it. Never surfaced
	// as an error.
	ErrRequestPending = NewCodeError(1005, "conversation request pending")

	ErrStaleResponse = NewCodeError(1006, "response superseded")

	ErrBadRow = NewCodeError(1007, "unrecognized conversation row shape")
)

// IsPending reports whether err is the request-pending soft condition.
func IsPending(err error) bool {
	return errors.Is(err, ErrRequestPending)
}

// IsNoToken reports whether err is the token-not-ready short circuit.
func IsNoToken(err error) bool {
	return errors.Is(err, ErrNoToken)
}
