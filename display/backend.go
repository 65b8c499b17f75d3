package display

import (
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/op/go-logging"

	"github.com/troyc/pv-display-helper/ivc"
	"github.com/troyc/pv-display-helper/pkt"
)

// BackendConfig is the consumer-side view of a display's four listening
// ports for one remote domain.
type BackendConfig struct {
	RemoteDomain        uint16
	EventPort           uint32
	FramebufferPort     uint32
	DirtyRectanglesPort uint32
	CursorBitmapPort    uint32
}

// BackendHandlers are the consumer's typed callbacks for the event-channel
// messages and dirty-rectangle records a Backend receives. Any left nil are
// simply not invoked.
type BackendHandlers struct {
	SetDisplay   func(pkt.SetDisplayPayload)
	UpdateCursor func(pkt.UpdateCursorPayload)
	MoveCursor   func(pkt.MoveCursorPayload)
	BlankDisplay func(pkt.BlankDisplayPayload)
	DirtyRect    func(pkt.DirtyRect)
}

// torndownKeys dedups a late disconnect/REMOVE_DISPLAY race against a
// teardown already in progress for the same backend's key, grounded on the
// teacher's LRU-based request de-duplication in EnclaveClient.
var torndownKeys = lru.New(256)
var torndownMu sync.Mutex

func recentlyTornDown(key uint32) bool {
	torndownMu.Lock()
	defer torndownMu.Unlock()
	_, ok := torndownKeys.Get(key)
	return ok
}

func markTornDown(key uint32) {
	torndownMu.Lock()
	defer torndownMu.Unlock()
	torndownKeys.Add(key, struct{}{})
}

// Backend is the consumer-side per-display aggregate (spec.md §4.4):
// listening servers for the four ports, the accepted channels, and
// symmetric handler slots, guarded by a primary lock plus a second lock
// strictly for the fatal-error handler slot.
type Backend struct {
	mu sync.Mutex

	key       uint32
	transport ivc.Transport
	cfg       BackendConfig
	handlers  BackendHandlers
	log       *logging.Logger

	eventServer  ivc.Server
	fbServer     ivc.Server
	dirtyServer  ivc.Server
	cursorServer ivc.Server

	event       ivc.Channel
	eventRecv   *pkt.Receiver
	framebuffer ivc.Channel
	fbView      []byte
	dirtyRect   ivc.Channel
	cursor      ivc.Channel
	cursorView  []byte

	disconnected bool

	fatalMu    sync.Mutex
	fatal      func(*Backend, error)
	fatalFired bool
}

// NewBackend starts listening servers on the required event/framebuffer
// ports and, if offered, the optional dirty-rect/cursor ports. Before
// starting each server it is handed to Transport.Listen, which performs
// the cross-backend port reuse described in spec.md §4.4 "Server reuse".
func NewBackend(key uint32, t ivc.Transport, cfg BackendConfig, handlers BackendHandlers, fatal func(*Backend, error), log *logging.Logger) (*Backend, error) {
	if cfg.EventPort == 0 || cfg.FramebufferPort == 0 {
		return nil, pkt.ErrInvalidArgument
	}

	b := &Backend{key: key, transport: t, cfg: cfg, handlers: handlers, fatal: fatal, log: log}

	var err error
	if b.eventServer, err = t.Listen(cfg.EventPort, cfg.RemoteDomain, 0, b.finishEventConnection); err != nil {
		return nil, err
	}
	if b.fbServer, err = t.Listen(cfg.FramebufferPort, cfg.RemoteDomain, 0, b.finishFramebufferConnection); err != nil {
		b.eventServer.Shutdown()
		return nil, err
	}
	if cfg.DirtyRectanglesPort != 0 {
		if b.dirtyServer, err = t.Listen(cfg.DirtyRectanglesPort, cfg.RemoteDomain, 0, b.finishDirtyRectConnection); err != nil {
			log.Warningf("backend %d: dirty-rect server not started: %v", key, err)
		}
	}
	if cfg.CursorBitmapPort != 0 {
		if b.cursorServer, err = t.Listen(cfg.CursorBitmapPort, cfg.RemoteDomain, 0, b.finishCursorConnection); err != nil {
			log.Warningf("backend %d: cursor server not started: %v", key, err)
		}
	}
	return b, nil
}

// FinishEventConnection attaches the partial-read receiver to an accepted
// event channel and dispatches SET_DISPLAY/UPDATE_CURSOR/MOVE_CURSOR/
// BLANK_DISPLAY packets to the registered handlers. Exported so an owner
// driving accept callbacks itself (rather than handing Listen's onAccept
// straight to this backend) can call it directly.
func (b *Backend) FinishEventConnection(ch ivc.Channel) { b.finishEventConnection(ch) }

func (b *Backend) finishEventConnection(ch ivc.Channel) {
	b.mu.Lock()
	if b.disconnected {
		b.mu.Unlock()
		ch.Disconnect()
		return
	}
	b.event = ch
	b.mu.Unlock()

	b.eventRecv = pkt.NewReceiver(ch, b.dispatchEvent, b.fireFatal)
}

func (b *Backend) dispatchEvent(h pkt.Header, payload []byte) {
	switch h.Type {
	case pkt.SetDisplay:
		p, err := pkt.DecodeSetDisplay(payload)
		if err != nil {
			b.log.Warningf("backend %d: bad SET_DISPLAY: %v", b.key, err)
			return
		}
		if b.handlers.SetDisplay != nil {
			b.handlers.SetDisplay(p)
		}
	case pkt.UpdateCursor:
		p, err := pkt.DecodeUpdateCursor(payload)
		if err != nil {
			b.log.Warningf("backend %d: bad UPDATE_CURSOR: %v", b.key, err)
			return
		}
		if b.handlers.UpdateCursor != nil {
			b.handlers.UpdateCursor(p)
		}
	case pkt.MoveCursor:
		p, err := pkt.DecodeMoveCursor(payload)
		if err != nil {
			b.log.Warningf("backend %d: bad MOVE_CURSOR: %v", b.key, err)
			return
		}
		if b.handlers.MoveCursor != nil {
			b.handlers.MoveCursor(p)
		}
	case pkt.BlankDisplay:
		p, err := pkt.DecodeBlankDisplay(payload)
		if err != nil {
			b.log.Warningf("backend %d: bad BLANK_DISPLAY: %v", b.key, err)
			return
		}
		if b.handlers.BlankDisplay != nil {
			b.handlers.BlankDisplay(p)
		}
	default:
		b.log.Debugf("backend %d: unknown event-channel packet type %d", b.key, h.Type)
	}
}

// FinishFramebufferConnection fetches the shared-memory view for an
// accepted framebuffer channel. The consumer only reads this view; it
// never writes.
func (b *Backend) FinishFramebufferConnection(ch ivc.Channel) { b.finishFramebufferConnection(ch) }

func (b *Backend) finishFramebufferConnection(ch ivc.Channel) {
	b.mu.Lock()
	if b.disconnected {
		b.mu.Unlock()
		ch.Disconnect()
		return
	}
	b.mu.Unlock()

	view, err := ch.LocalBuffer()
	if err != nil {
		ch.Disconnect()
		b.fireFatal(err)
		return
	}
	b.mu.Lock()
	b.framebuffer = ch
	b.fbView = view
	b.mu.Unlock()
	ch.RegisterEventCallbacks(func() {}, func() { b.fireFatal(pkt.ErrClosed) })
}

// FinishDirtyRectConnection attaches the accepted dirty-rect channel; its
// data-available callback drains every complete 16-byte record currently
// buffered in one invocation, per spec.md §4.4.
func (b *Backend) FinishDirtyRectConnection(ch ivc.Channel) { b.finishDirtyRectConnection(ch) }

func (b *Backend) finishDirtyRectConnection(ch ivc.Channel) {
	b.mu.Lock()
	if b.disconnected {
		b.mu.Unlock()
		ch.Disconnect()
		return
	}
	b.dirtyRect = ch
	b.mu.Unlock()

	onData := func() {
		for {
			avail, err := ch.AvailableData()
			if err != nil {
				b.fireFatal(err)
				return
			}
			if avail < pkt.DirtyRectSize {
				return
			}
			buf := make([]byte, pkt.DirtyRectSize)
			n, short, err := ch.Recv(buf)
			if err != nil {
				b.fireFatal(err)
				return
			}
			if short {
				return
			}
			_ = n
			rect, err := pkt.DecodeDirtyRect(buf)
			if err != nil {
				b.log.Warningf("backend %d: bad dirty rect record: %v", b.key, err)
				continue
			}
			if b.handlers.DirtyRect != nil {
				b.handlers.DirtyRect(rect)
			}
		}
	}
	ch.RegisterEventCallbacks(onData, func() { b.fireFatal(pkt.ErrClosed) })
	ch.EnableEvents()
}

// FinishCursorConnection fetches the shared-memory view for an accepted
// cursor bitmap channel.
func (b *Backend) FinishCursorConnection(ch ivc.Channel) { b.finishCursorConnection(ch) }

func (b *Backend) finishCursorConnection(ch ivc.Channel) {
	b.mu.Lock()
	if b.disconnected {
		b.mu.Unlock()
		ch.Disconnect()
		return
	}
	b.mu.Unlock()

	view, err := ch.LocalBuffer()
	if err != nil {
		ch.Disconnect()
		b.fireFatal(err)
		return
	}
	b.mu.Lock()
	b.cursor = ch
	b.cursorView = view
	b.mu.Unlock()
	ch.RegisterEventCallbacks(func() {}, func() { b.fireFatal(pkt.ErrClosed) })
}

func (b *Backend) fireFatal(err error) {
	if recentlyTornDown(b.key) {
		return
	}
	b.fatalMu.Lock()
	if b.fatalFired || b.fatal == nil {
		b.fatalMu.Unlock()
		return
	}
	b.fatalFired = true
	handler := b.fatal
	b.fatal = nil
	b.fatalMu.Unlock()
	handler(b, err)
}

// Key returns the display key this backend was created for.
func (b *Backend) Key() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.key
}

// FramebufferView returns the consumer's read-only view of the shared
// framebuffer, or nil if the framebuffer channel hasn't connected yet.
func (b *Backend) FramebufferView() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fbView
}

// CursorView returns the consumer's read-only view of the shared cursor
// bitmap, or nil if no cursor channel exists or it hasn't connected yet.
func (b *Backend) CursorView() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursorView
}

// Disconnect sets the disconnected flag, clears the handler slots, and for
// each connection disables events, replaces its callbacks with no-ops and
// disconnects it. Accept callbacks that arrive afterwards observe the flag
// and disconnect the new channel. The receive paths do not check the flag:
// a receive callback already in flight runs on, and once the slots are
// cleared it finds no handler to invoke.
func (b *Backend) Disconnect() {
	b.mu.Lock()
	if b.disconnected {
		b.mu.Unlock()
		return
	}
	b.disconnected = true
	markTornDown(b.key)
	event, framebuffer, dirtyRect, cursor := b.event, b.framebuffer, b.dirtyRect, b.cursor
	b.handlers = BackendHandlers{}
	b.mu.Unlock()

	for _, ch := range []ivc.Channel{event, framebuffer, dirtyRect, cursor} {
		if ch == nil {
			continue
		}
		ch.DisableEvents()
		ch.RegisterEventCallbacks(func() {}, func() {})
		ch.Disconnect()
	}
}

// Destroy disconnects the backend (if not already) and shuts down its
// listening servers.
func (b *Backend) Destroy() {
	b.Disconnect()
	for _, s := range []ivc.Server{b.eventServer, b.fbServer, b.dirtyServer, b.cursorServer} {
		if s != nil {
			s.Shutdown()
		}
	}
}
