package attendance

import (
	"github.com/pkg/errors"
)

var (
	ErrInvalidReference = errors.New("invalid student or group")
	ErrAlreadyActive    = errors.New("student is already clocked in")
	ErrNoActiveSession  = errors.New("no active session found for this student")
	ErrNotConnected     = errors.New("cloud sync is not configured")
	ErrInvalidPayload   = errors.New("invalid remote document")

	errUnknownProvider = errors.New("unknown remote provider")
)

// ConnectionError reports a failed connection to the remote store (bad credentials,
// unreachable network, missing document). Status carries the provider's description.
type ConnectionError struct {
	Status string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Status == "" {
		return "cloud connection failed"
	}
	return "cloud connection failed: " + e.Status
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SyncError reports a push or poll failure after a successful connection.
// It is only ever recorded in the cloud status; local state is kept.
type SyncError struct {
	Op  string // push | poll
	Err error
}

func (e *SyncError) Error() string {
	return "cloud sync failed (" + e.Op + "): " + e.Err.Error()
}

func (e *SyncError) Unwrap() error { return e.Err }

// StatusDescriber is implemented by remote errors that carry a provider status description.
type StatusDescriber interface {
	StatusDescription() string
}

func newConnectionError(err error) *ConnectionError {
	var sd StatusDescriber
	if errors.As(err, &sd) {
		return &ConnectionError{Status: sd.StatusDescription(), Err: err}
	}
	return &ConnectionError{Status: errors.Cause(err).Error(), Err: err}
}

func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
