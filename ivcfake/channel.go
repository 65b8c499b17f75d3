package ivcfake

import (
	"sync"

	"github.com/troyc/pv-display-helper/ivc"
)

// pipeEnd is one side of a connected pair. Send on one end appends to the
// peer's buf and, if the peer has events enabled, fires its onData
// callback on a separate goroutine — callbacks in a real transport arrive
// from a transport-owned thread, so fakes must not invoke them inline
// under the sender's lock.
type pipeEnd struct {
	mu       sync.Mutex
	peer     *pipeEnd
	buf      []byte
	capacity int
	shared   []byte
	open     bool

	onData       func()
	onDisconnect func()
	eventsOn     bool

	free     func()
	freeOnce *sync.Once
}

// Channel implements ivc.Channel over a pipeEnd.
type Channel struct {
	end *pipeEnd
}

func (c *Channel) Recv(buf []byte) (n int, short bool, err error) {
	c.end.mu.Lock()
	defer c.end.mu.Unlock()
	if !c.end.open {
		return 0, false, ivc.ErrClosed
	}
	if len(c.end.buf) < len(buf) {
		return 0, true, nil
	}
	n = copy(buf, c.end.buf[:len(buf)])
	c.end.buf = c.end.buf[len(buf):]
	return n, false, nil
}

func (c *Channel) AvailableData() (int, error) {
	c.end.mu.Lock()
	defer c.end.mu.Unlock()
	if !c.end.open {
		return 0, ivc.ErrClosed
	}
	return len(c.end.buf), nil
}

func (c *Channel) AvailableSpace() (int, error) {
	c.end.mu.Lock()
	peer := c.end.peer
	open := c.end.open
	c.end.mu.Unlock()
	if !open {
		return 0, ivc.ErrClosed
	}
	peer.mu.Lock()
	defer peer.mu.Unlock()
	free := peer.capacity - len(peer.buf)
	if free < 0 {
		free = 0
	}
	return free, nil
}

func (c *Channel) Send(buf []byte) (int, error) {
	c.end.mu.Lock()
	if !c.end.open {
		c.end.mu.Unlock()
		return 0, ivc.ErrClosed
	}
	peer := c.end.peer
	c.end.mu.Unlock()

	peer.mu.Lock()
	if !peer.open {
		peer.mu.Unlock()
		return 0, ivc.ErrClosed
	}
	if peer.capacity-len(peer.buf) < len(buf) {
		peer.mu.Unlock()
		return 0, ivc.ErrNoSpace
	}
	peer.buf = append(peer.buf, buf...)
	cb := peer.onData
	enabled := peer.eventsOn
	peer.mu.Unlock()

	if cb != nil && enabled {
		go cb()
	}
	return len(buf), nil
}

func (c *Channel) NotifyRemote() {
	// The fake delivers data synchronously in Send; NotifyRemote is a
	// documented no-op here, matching a transport where the doorbell is
	// separate from delivery but delivery has already happened.
}

func (c *Channel) LocalBuffer() ([]byte, error) {
	c.end.mu.Lock()
	defer c.end.mu.Unlock()
	if !c.end.open {
		return nil, ivc.ErrClosed
	}
	return c.end.shared, nil
}

func (c *Channel) LocalBufferSize() (int, error) {
	c.end.mu.Lock()
	defer c.end.mu.Unlock()
	if !c.end.open {
		return 0, ivc.ErrClosed
	}
	return len(c.end.shared), nil
}

func (c *Channel) RegisterEventCallbacks(onData func(), onDisconnect func()) {
	c.end.mu.Lock()
	defer c.end.mu.Unlock()
	c.end.onData = onData
	c.end.onDisconnect = onDisconnect
}

func (c *Channel) EnableEvents() {
	c.end.mu.Lock()
	defer c.end.mu.Unlock()
	c.end.eventsOn = true
}

func (c *Channel) DisableEvents() {
	c.end.mu.Lock()
	defer c.end.mu.Unlock()
	c.end.eventsOn = false
}

// Reconnect is unsupported by the fake beyond reporting success: tests that
// exercise reconnect build a fresh Channel via Transport.Connect and swap
// it in, rather than mutating an existing fake pipeEnd in place.
func (c *Channel) Reconnect(remoteDomain uint16, port uint32) error {
	return nil
}

func (c *Channel) IsOpen() bool {
	c.end.mu.Lock()
	defer c.end.mu.Unlock()
	return c.end.open
}

// Disconnect closes this end and, if the peer is still open, fires the
// peer's disconnect callback, the way a real transport reports the remote
// end going away.
func (c *Channel) Disconnect() {
	c.end.mu.Lock()
	if !c.end.open {
		c.end.mu.Unlock()
		return
	}
	c.end.open = false
	c.end.mu.Unlock()

	peer := c.end.peer
	peer.mu.Lock()
	peerWasOpen := peer.open
	cb := peer.onDisconnect
	peer.mu.Unlock()
	if cb != nil && peerWasOpen {
		go cb()
	}

	if c.end.freeOnce != nil && !peerWasOpen {
		c.end.freeOnce.Do(c.end.free)
	}
}
