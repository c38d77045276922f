package protocol

import "errors"

// Client-facing messages for frames that never reach a registry.
const (
	MsgBinaryUnsupported = "Binary format is not supported."
	MsgParseFailed       = "Failed to parse message."
	MsgUnsupportedType   = "Unsupported type."
)

// Kind classifies a failed request.
type Kind int

const (
	// KindProtocol covers unparseable frames and unsupported types.
	KindProtocol Kind = iota
	// KindValidation covers missing fields and unknown references.
	KindValidation
	// KindPersistence covers filesystem failures.
	KindPersistence
	// KindRemoteFetch covers network and remote content failures.
	KindRemoteFetch
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindValidation:
		return "validation"
	case KindPersistence:
		return "persistence"
	case KindRemoteFetch:
		return "remote-fetch"
	default:
		return "unknown"
	}
}

// Error is a request failure. Msg is sent to the client as is; Err keeps
// the underlying cause for logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Cause returns a loggable description including the wrapped error.
func (e *Error) Cause() string {
	if e.Err == nil {
		return e.Kind.String() + ": " + e.Msg
	}
	return e.Kind.String() + ": " + e.Msg + " (" + e.Err.Error() + ")"
}

// ProtocolError returns a KindProtocol error.
func ProtocolError(msg string) *Error {
	return &Error{Kind: KindProtocol, Msg: msg}
}

// ValidationError returns a KindValidation error.
func ValidationError(msg string, err error) *Error {
	return &Error{Kind: KindValidation, Msg: msg, Err: err}
}

// PersistenceError returns a KindPersistence error.
func PersistenceError(msg string, err error) *Error {
	return &Error{Kind: KindPersistence, Msg: msg, Err: err}
}

// RemoteFetchError returns a KindRemoteFetch error.
func RemoteFetchError(msg string, err error) *Error {
	return &Error{Kind: KindRemoteFetch, Msg: msg, Err: err}
}

// Message extracts the client-facing text from err. Errors that are not
// an *Error are reported with fallback.
func Message(err error, fallback string) string {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Msg
	}
	return fallback
}
