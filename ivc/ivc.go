// Package ivc declares the inter-VM communication transport contract that
// this module rides on top of. The transport itself is an external
// collaborator (spec.md §1 "Out of scope") — this package only names the
// shape it must have, plus the default ring-page sizing table from §6.
package ivc

import "github.com/troyc/pv-display-helper/pkt"

// Channel is one connected IVC endpoint: a reliable byte stream, with an
// optional shared-memory view, driven by readable-data/disconnect
// callbacks.
type Channel interface {
	// Recv reads exactly len(buf) bytes if available. A short read
	// returns short=true and leaves buf's contents undefined; callers
	// must not adopt partial data from a short read.
	Recv(buf []byte) (n int, short bool, err error)
	// AvailableData reports how many bytes are currently buffered for Recv.
	AvailableData() (int, error)
	// AvailableSpace reports how many bytes Send could currently accept.
	AvailableSpace() (int, error)
	// Send writes buf in full or fails; it never performs a partial write.
	Send(buf []byte) (n int, err error)
	// NotifyRemote signals the remote peer that new data is available.
	// The protocol requires this be called twice per logical send (see
	// pkt.Send) to work around the transport's interrupt-coalescing
	// behavior; Channel implementations must not coalesce repeated calls.
	NotifyRemote()
	// LocalBuffer returns the shared-memory view for this channel, valid
	// only between connect/accept and Disconnect. Not all channels carry
	// shared memory; callers that don't need it should not call this.
	LocalBuffer() ([]byte, error)
	LocalBufferSize() (int, error)
	// RegisterEventCallbacks installs the data-available and disconnect
	// callbacks. Both may be invoked from a transport-owned thread
	// concurrently with any other Channel method call.
	RegisterEventCallbacks(onData func(), onDisconnect func())
	EnableEvents()
	DisableEvents()
	// Reconnect rebinds this channel to a new remote domain/port pair,
	// as used by the provider-side reconnect sequence (spec.md §4.3).
	Reconnect(remoteDomain uint16, port uint32) error
	IsOpen() bool
	Disconnect()
}

// Server is a listening endpoint accepting incoming Channel connections.
type Server interface {
	Shutdown()
}

// Transport is the full IVC contract. Both Provider and Consumer depend
// only on this interface, never on a concrete transport implementation.
type Transport interface {
	Connect(remoteDomain uint16, port uint32, ringPages int, connID uint64) (Channel, error)
	Listen(port uint32, remoteDomain uint16, connIDMask uint64, onAccept func(Channel)) (Server, error)
	// FindServer returns an existing listening server for (remoteDomain,
	// port) if one exists, so a backend can share it instead of creating
	// a duplicate (spec.md §4.4 "Server reuse").
	FindServer(remoteDomain uint16, port uint32) (Server, bool)
}

// Default ring sizes, in transport pages, per spec.md §6.
const (
	ControlRingPages = 1
	EventRingPages   = 4
	DirtyRingPages   = 32
)

// PageSize is the assumed transport page size used to compute framebuffer
// and cursor ring sizes. Real transports may report a different size; this
// is the default used when none is configured.
const PageSize = 4096

// FramebufferRingPages computes ceil(stride*height/PageSize) + 1, the extra
// page carrying transport metadata at the start of the buffer (spec.md §6).
func FramebufferRingPages(stride, height uint32) int {
	bytes := uint64(stride) * uint64(height)
	pages := (bytes + PageSize - 1) / PageSize
	return int(pages) + 1
}

// CursorRingPages computes ceil(pkt.CursorBytes/PageSize) + 1.
func CursorRingPages() int {
	pages := (uint64(pkt.CursorBytes) + PageSize - 1) / PageSize
	return int(pages) + 1
}
