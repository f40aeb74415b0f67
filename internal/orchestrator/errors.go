package orchestrator

// ErrorKind classifies a session failure for both the phase-Error
// user-facing message and the capture ledger's reason_code (spec.md
// section 7).
type ErrorKind string

const (
	KindHardwareUnavailable ErrorKind = "hardware_unavailable"
	KindNetwork             ErrorKind = "network_error"
	KindTimeout             ErrorKind = "timeout_error"
	KindValidationInsufficient ErrorKind = "validation_insufficient"
	KindCamera              ErrorKind = "camera_error"
	KindCancelled           ErrorKind = "cancelled"
	KindUnknown             ErrorKind = "unknown"
)

// SessionError carries a classified failure through walkPhases up to
// runSession, which decides whether it's silent (Cancelled) or needs a
// phase Error with Message shown to the user.
type SessionError struct {
	Kind    ErrorKind
	Message string
}

func (e *SessionError) Error() string {
	return e.Message
}

func newError(kind ErrorKind, message string) *SessionError {
	return &SessionError{Kind: kind, Message: message}
}

var errCancelled = newError(KindCancelled, "")
