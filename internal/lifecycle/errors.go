package lifecycle

import "errors"

var (
	// ErrInvalidInput covers missing required fields and coordinates that
	// do not parse to finite numbers.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound means the referenced request does not exist.
	ErrNotFound = errors.New("request not found")
	// ErrConflict means the accept lost the race: another provider had
	// already moved the request out of pending.
	ErrConflict = errors.New("request is no longer pending")
	// ErrInvalidState means the operation is not permitted from the
	// request's current status.
	ErrInvalidState = errors.New("operation not allowed in current status")
)
