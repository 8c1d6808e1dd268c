package profile

import "github.com/pkg/errors"

// Precondition errors. Returned by API calls that were rejected before any
// state change happened.
var (
	ErrPolicyForbidden   = errors.New("connection policy forbidden")
	ErrMissingUUID       = errors.New("device lacks required service uuid")
	ErrRedirected        = errors.New("device redirected to another profile")
	ErrMaxConnections    = errors.New("maximum connections reached")
	ErrNativeUnavailable = errors.New("native interface unavailable")
	ErrNotRunning        = errors.New("service not running")
	ErrUnknownDevice     = errors.New("no state machine for device")
	ErrNotConnected      = errors.New("device not connected")
	ErrQuietMode         = errors.New("quiet mode active")
	ErrNotBonded         = errors.New("device not bonded")
)

// ErrNativeCommand marks a command the native stack rejected synchronously.
var ErrNativeCommand = errors.New("native command failed")

// IsPreconditionRejected reports whether err (or its cause) is one of the
// precondition errors.
func IsPreconditionRejected(err error) bool {
	switch errors.Cause(err) {
	case ErrPolicyForbidden, ErrMissingUUID, ErrRedirected, ErrMaxConnections,
		ErrNativeUnavailable, ErrNotRunning, ErrUnknownDevice, ErrNotConnected,
		ErrQuietMode, ErrNotBonded:
		return true
	}
	return false
}
