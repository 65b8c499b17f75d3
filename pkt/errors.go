// Package pkt implements the Display Handler wire format: packet framing,
// the CRC-16/CCITT checksum, and the fixed-layout payload structures for
// every control and event packet type.
package pkt

import "fmt"

// Kind enumerates the error taxonomy shared across pkt, ivc, and display.
type Kind int

const (
	InvalidArgument Kind = iota
	OutOfMemory
	NoSpace
	TryAgain
	Closed
	NotFound
	Protocol
	Transport
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case OutOfMemory:
		return "OutOfMemory"
	case NoSpace:
		return "NoSpace"
	case TryAgain:
		return "TryAgain"
	case Closed:
		return "Closed"
	case NotFound:
		return "NotFound"
	case Protocol:
		return "Protocol"
	case Transport:
		return "Transport"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by this module. It carries a
// Kind so callers can dispatch with errors.Is against the sentinel values
// below, and a message for humans, mirroring the teacher's named error
// wrapper types (SendError, RecvError, ProtoError in enclave_client.go).
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newErr(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is comparisons against a bare Kind.
var (
	ErrInvalidArgument = &Error{Kind: InvalidArgument, Msg: "invalid argument"}
	ErrOutOfMemory     = &Error{Kind: OutOfMemory, Msg: "out of memory"}
	ErrNoSpace         = &Error{Kind: NoSpace, Msg: "no space"}
	ErrTryAgain        = &Error{Kind: TryAgain, Msg: "try again"}
	ErrClosed          = &Error{Kind: Closed, Msg: "closed"}
	ErrNotFound        = &Error{Kind: NotFound, Msg: "not found"}
	ErrProtocol        = &Error{Kind: Protocol, Msg: "protocol error"}
	ErrTransport       = &Error{Kind: Transport, Msg: "transport error"}
)
