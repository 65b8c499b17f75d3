//go:build windows

package ivcfake

import (
	"net"
	"sync"

	"github.com/Microsoft/go-winio"
	"github.com/troyc/pv-display-helper/ivc"
)

// NewNamedPipeChannelPair dials a go-winio named pipe pair and wraps each
// end as an ivc.Channel, a second Channel implementation backed by an OS
// pipe instead of the in-process byte queue in channel.go. It carries no
// shared-memory view, so it's suited only to the control and event roles;
// LocalBuffer/LocalBufferSize report ErrNotFound on it.
func NewNamedPipeChannelPair(pipeName string) (client ivc.Channel, server ivc.Channel, err error) {
	l, err := winio.ListenPipe(pipeName, nil)
	if err != nil {
		return nil, nil, err
	}
	accepted := make(chan net.Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- conn
	}()

	clientConn, err := winio.DialPipe(pipeName, nil)
	if err != nil {
		l.Close()
		return nil, nil, err
	}

	var serverConn net.Conn
	select {
	case serverConn = <-accepted:
	case err = <-acceptErr:
		clientConn.Close()
		l.Close()
		return nil, nil, err
	}
	l.Close()

	return &pipeChannel{newPipeConn(clientConn)}, &pipeChannel{newPipeConn(serverConn)}, nil
}

type pipeConn struct {
	mu           sync.Mutex
	conn         net.Conn
	buf          []byte
	open         bool
	onData       func()
	onDisconnect func()
	eventsOn     bool
}

func newPipeConn(conn net.Conn) *pipeConn {
	p := &pipeConn{conn: conn, open: true}
	go p.pump()
	return p
}

func (p *pipeConn) pump() {
	tmp := make([]byte, 4096)
	for {
		n, err := p.conn.Read(tmp)
		if n > 0 {
			p.mu.Lock()
			p.buf = append(p.buf, tmp[:n]...)
			cb, enabled := p.onData, p.eventsOn
			p.mu.Unlock()
			if cb != nil && enabled {
				go cb()
			}
		}
		if err != nil {
			p.mu.Lock()
			p.open = false
			cb := p.onDisconnect
			p.mu.Unlock()
			if cb != nil {
				go cb()
			}
			return
		}
	}
}

// pipeChannel adapts a pipeConn to ivc.Channel.
type pipeChannel struct {
	*pipeConn
}

func (c *pipeChannel) Recv(buf []byte) (n int, short bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return 0, false, ivc.ErrClosed
	}
	if len(c.buf) < len(buf) {
		return 0, true, nil
	}
	n = copy(buf, c.buf[:len(buf)])
	c.buf = c.buf[len(buf):]
	return n, false, nil
}

func (c *pipeChannel) AvailableData() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return 0, ivc.ErrClosed
	}
	return len(c.buf), nil
}

// AvailableSpace is unbounded from this wrapper's point of view; the OS
// pipe buffer governs actual backpressure.
func (c *pipeChannel) AvailableSpace() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return 0, ivc.ErrClosed
	}
	return 1 << 20, nil
}

func (c *pipeChannel) Send(buf []byte) (int, error) {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return 0, ivc.ErrClosed
	}
	conn := c.conn
	c.mu.Unlock()
	n, err := conn.Write(buf)
	if err != nil {
		return n, ivc.ErrTransport
	}
	return n, nil
}

func (c *pipeChannel) NotifyRemote() {}

func (c *pipeChannel) LocalBuffer() ([]byte, error) {
	return nil, ivc.ErrNotFound
}

func (c *pipeChannel) LocalBufferSize() (int, error) {
	return 0, ivc.ErrNotFound
}

func (c *pipeChannel) RegisterEventCallbacks(onData func(), onDisconnect func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onData = onData
	c.onDisconnect = onDisconnect
}

func (c *pipeChannel) EnableEvents() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventsOn = true
}

func (c *pipeChannel) DisableEvents() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventsOn = false
}

func (c *pipeChannel) Reconnect(remoteDomain uint16, port uint32) error {
	return nil
}

func (c *pipeChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *pipeChannel) Disconnect() {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return
	}
	c.open = false
	conn := c.conn
	c.mu.Unlock()
	conn.Close()
}
