package ivc

import "github.com/troyc/pv-display-helper/pkt"

// The transport-facing error taxonomy is the same one pkt defines; ivc
// re-exports the sentinels implementations are expected to return so
// callers need not import pkt just to compare errors.Is against a
// transport failure.
var (
	ErrNoSpace   = pkt.ErrNoSpace
	ErrTryAgain  = pkt.ErrTryAgain
	ErrClosed    = pkt.ErrClosed
	ErrNotFound  = pkt.ErrNotFound
	ErrTransport = pkt.ErrTransport
)
