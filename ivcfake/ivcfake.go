// Package ivcfake is an in-process implementation of the ivc.Transport
// contract for tests and the demo CLIs. Two Transports sharing a Bus stand
// in for a provider's and a consumer's side of a real hypervisor's
// inter-VM communication channel: Listen on one side and Connect on the
// other, keyed by port, produce a connected pair of fake Channels.
package ivcfake

import (
	"sync"

	"github.com/troyc/pv-display-helper/ivc"
)

// Bus is the shared rendezvous point a pair of fake Transports connect
// through, grounded on the teacher's in-process mock transport pattern
// (transport_mock_pair.go) generalized from a single pairing handshake to
// an arbitrary set of listening ports.
type Bus struct {
	mu      sync.Mutex
	servers map[uint32]*Server
}

// NewBus creates an empty rendezvous point.
func NewBus() *Bus {
	return &Bus{servers: map[uint32]*Server{}}
}

// Transport is one endpoint's view of a Bus.
type Transport struct {
	bus    *Bus
	domain uint16
}

// NewTransport returns a Transport identified by domain, attached to bus.
func NewTransport(bus *Bus, domain uint16) *Transport {
	return &Transport{bus: bus, domain: domain}
}

// Server is a listening endpoint on one port of a Bus.
type Server struct {
	mu       sync.Mutex
	port     uint32
	domain   uint16
	onAccept func(ivc.Channel)
	shutdown bool
}

func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
}

// Listen registers a server on port. If a server already exists for that
// port (server reuse — spec.md §4.4), it is returned instead of creating a
// second one; onAccept from the most recent Listen call wins, mirroring a
// real transport where only one accept callback can be wired per port.
func (t *Transport) Listen(port uint32, remoteDomain uint16, connIDMask uint64, onAccept func(ivc.Channel)) (ivc.Server, error) {
	t.bus.mu.Lock()
	defer t.bus.mu.Unlock()
	if s, ok := t.bus.servers[port]; ok && !s.shutdown {
		s.mu.Lock()
		s.onAccept = onAccept
		s.mu.Unlock()
		return s, nil
	}
	s := &Server{port: port, domain: t.domain, onAccept: onAccept}
	t.bus.servers[port] = s
	return s, nil
}

// FindServer returns the existing listening server for port, if any. The
// fake keys servers by port alone; remoteDomain is not consulted.
func (t *Transport) FindServer(remoteDomain uint16, port uint32) (ivc.Server, bool) {
	t.bus.mu.Lock()
	defer t.bus.mu.Unlock()
	s, ok := t.bus.servers[port]
	if !ok || s.shutdown {
		return nil, false
	}
	return s, true
}

// Connect dials the listening server on port, standing in for the
// provider's outgoing connection to a port the consumer is already
// listening on. Both ends of the resulting Channel share one allocated
// region sized ringPages*PageSize, backed by the platform-specific
// allocator in shared_*.go.
func (t *Transport) Connect(remoteDomain uint16, port uint32, ringPages int, connID uint64) (ivc.Channel, error) {
	t.bus.mu.Lock()
	s, ok := t.bus.servers[port]
	t.bus.mu.Unlock()
	if !ok || s.shutdown {
		return nil, ivc.ErrNotFound
	}

	capacity := ringPages * ivc.PageSize
	region, free, err := newSharedMemory(capacity)
	if err != nil {
		return nil, err
	}

	freeOnce := &sync.Once{}
	near := &pipeEnd{capacity: capacity, shared: region, open: true, free: free, freeOnce: freeOnce}
	far := &pipeEnd{capacity: capacity, shared: region, open: true, free: free, freeOnce: freeOnce}
	near.peer, far.peer = far, near

	clientCh := &Channel{end: near}
	serverCh := &Channel{end: far}

	s.mu.Lock()
	onAccept := s.onAccept
	s.mu.Unlock()
	if onAccept != nil {
		go onAccept(serverCh)
	}
	return clientCh, nil
}
