// Package provider implements the guest-side top-level Provider object:
// one outgoing control connection, capability/display-list handshake, and
// the per-display CREATING/CONNECTED/TEARING_DOWN/DEAD state machine
// (spec.md §4.5).
package provider

import (
	"sync"

	"github.com/blang/semver"
	lru "github.com/hashicorp/golang-lru"
	"github.com/op/go-logging"

	"github.com/troyc/pv-display-helper/display"
	"github.com/troyc/pv-display-helper/internal/idgen"
	"github.com/troyc/pv-display-helper/ivc"
	"github.com/troyc/pv-display-helper/pkt"
)

// Version is the protocol/library version encoded into the Version field of
// DRIVER_CAPABILITIES and reported by the demo CLI's --version flag.
var Version = semver.MustParse("1.0.0")

// state is a display's position in the per-display state machine (spec.md
// §4.5).
type state int

const (
	stateUnadvertised state = iota
	stateAdvertised
	stateCreating
	stateConnected
	stateTearingDown
	stateDead
)

// Config configures a Provider's outgoing control connection.
type Config struct {
	RemoteDomain uint16
	ControlPort  uint32
	MaxDisplays  uint32
}

// AddDisplayFunc is called when the consumer requests a display be
// created. It returns the mode and optional initial framebuffer contents
// the provider should open the display with.
type AddDisplayFunc func(req pkt.AddDisplayPayload) (width, height, stride uint32, initialContents []byte)

// Handlers are the driver's callbacks, registered individually. Registering
// HostDisplayChange or AddDisplay also sets a capability bit (RESIZE,
// HOTPLUG) reported in future DRIVER_CAPABILITIES messages (spec.md §4.5);
// RemoveDisplay and FatalError set none.
type Handlers struct {
	HostDisplayChange func([]pkt.DisplayInfo)
	AddDisplay        AddDisplayFunc
	RemoveDisplay     func(key uint32)
	FatalError        func(error)
}

type displayEntry struct {
	state state
	d     *display.Display
}

// Provider holds the outgoing control channel, handler registry, and the
// per-display state table.
type Provider struct {
	mu sync.Mutex

	cfg       Config
	transport ivc.Transport
	control   ivc.Channel
	ctrlRecv  *pkt.Receiver
	handlers  Handlers
	caps      uint32

	displays map[uint32]*displayEntry
	lastSeen *lru.Cache

	connID uint64

	log *logging.Logger
}

// New creates a Provider. Call Start to connect and begin the handshake.
func New(cfg Config, log *logging.Logger) *Provider {
	cache, _ := lru.New(64)
	return &Provider{
		cfg:      cfg,
		displays: map[uint32]*displayEntry{},
		lastSeen: cache,
		log:      log,
	}
}

// OnHostDisplayChange registers the host-display-list handler and sets the
// RESIZE capability bit.
func (p *Provider) OnHostDisplayChange(fn func([]pkt.DisplayInfo)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers.HostDisplayChange = fn
	p.caps |= pkt.CapabilityResize
}

// OnAddDisplay registers the add-display handler and sets the HOTPLUG
// capability bit.
func (p *Provider) OnAddDisplay(fn AddDisplayFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers.AddDisplay = fn
	p.caps |= pkt.CapabilityHotplug
}

// OnRemoveDisplay registers the remove-display handler.
func (p *Provider) OnRemoveDisplay(fn func(key uint32)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers.RemoveDisplay = fn
}

// OnFatalError registers the provider-level fatal handler, invoked when
// the control channel itself fails (a per-display fatal is separate — it
// invokes RemoveDisplay's key with an error logged, not this handler).
func (p *Provider) OnFatalError(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers.FatalError = fn
}

// Start connects the outgoing control channel and sends DRIVER_CAPABILITIES,
// beginning the handshake sequence in spec.md §4.5.
func (p *Provider) Start(t ivc.Transport) error {
	p.mu.Lock()
	p.transport = t
	p.mu.Unlock()

	connID, err := idgen.ConnID()
	if err != nil {
		return err
	}
	ch, err := t.Connect(p.cfg.RemoteDomain, p.cfg.ControlPort, ivc.ControlRingPages, connID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.control = ch
	p.connID = connID
	p.mu.Unlock()

	p.ctrlRecv = pkt.NewReceiver(ch, p.dispatchControl, p.fireFatal)
	p.log.Infof("provider: control channel connected (id=%s)", idgen.Base62(connID))

	return p.advertiseCapabilities()
}

func (p *Provider) advertiseCapabilities() error {
	p.mu.Lock()
	payload := pkt.DriverCapabilitiesPayload{
		MaxDisplays: p.cfg.MaxDisplays,
		Version:     versionUint32(),
		Flags:       p.caps,
	}.Encode()
	ch := p.control
	p.mu.Unlock()
	return pkt.Send(ch, pkt.DriverCapabilities, payload)
}

func versionUint32() uint32 {
	return uint32(Version.Major)<<16 | uint32(Version.Minor)<<8 | uint32(Version.Patch)
}

func (p *Provider) dispatchControl(h pkt.Header, payload []byte) {
	switch h.Type {
	case pkt.HostDisplayList:
		list, err := pkt.DecodeHostDisplayList(payload)
		if err != nil {
			p.log.Warningf("provider: bad HOST_DISPLAY_LIST: %v", err)
			return
		}
		p.handleHostDisplayList(list.Displays)
	case pkt.AddDisplay:
		req, err := pkt.DecodeAddDisplay(payload)
		if err != nil {
			p.log.Warningf("provider: bad ADD_DISPLAY: %v", err)
			return
		}
		p.handleAddDisplay(req)
	case pkt.RemoveDisplay:
		req, err := pkt.DecodeRemoveDisplay(payload)
		if err != nil {
			p.log.Warningf("provider: bad REMOVE_DISPLAY: %v", err)
			return
		}
		p.handleRemoveDisplay(req.Key)
	default:
		p.log.Debugf("provider: unknown control packet type %d", h.Type)
	}
}

func (p *Provider) handleHostDisplayList(list []pkt.DisplayInfo) {
	p.mu.Lock()
	for _, info := range list {
		if prev, ok := p.lastSeen.Get(info.Key); ok {
			if prev.(pkt.DisplayInfo) != info {
				p.log.Noticef("provider: display %d changed: %+v -> %+v", info.Key, prev, info)
			}
		}
		p.lastSeen.Add(info.Key, info)
		if _, exists := p.displays[info.Key]; !exists {
			p.displays[info.Key] = &displayEntry{state: stateAdvertised}
		}
	}
	fn := p.handlers.HostDisplayChange
	ctrl := p.control
	p.mu.Unlock()

	if fn != nil {
		fn(list)
	}
	_ = pkt.Send(ctrl, pkt.AdvertisedDisplayList, pkt.AdvertisedDisplayListPayload{Displays: list}.Encode())
}

func (p *Provider) handleAddDisplay(req pkt.AddDisplayPayload) {
	p.mu.Lock()
	entry, ok := p.displays[req.Key]
	if !ok || entry.state != stateAdvertised {
		p.mu.Unlock()
		p.log.Warningf("provider: ADD_DISPLAY for key %d not in ADVERTISED state, ignoring", req.Key)
		return
	}
	entry.state = stateCreating
	fn := p.handlers.AddDisplay
	t := p.transport
	p.mu.Unlock()

	if fn == nil {
		p.log.Warningf("provider: no add-display handler registered, ignoring key %d", req.Key)
		return
	}
	width, height, stride, initial := fn(req)

	d, err := display.CreateDisplay(t, display.CreateRequest{
		Key:                 req.Key,
		RemoteDomain:        p.remoteDomain(),
		EventPort:           req.EventPort,
		FramebufferPort:     req.FramebufferPort,
		DirtyRectanglesPort: req.DirtyRectanglesPort,
		CursorBitmapPort:    req.CursorBitmapPort,
	}, width, height, stride, initial, p.displayFatal, p.log)

	if err != nil {
		p.mu.Lock()
		p.log.Errorf("provider: create_display(%d) failed: %v", req.Key, err)
		entry.state = stateDead
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	entry.state = stateConnected
	entry.d = d
	p.mu.Unlock()

	if err := d.ChangeResolution(width, height, stride); err != nil {
		p.log.Warningf("provider: initial SET_DISPLAY for key %d failed: %v", req.Key, err)
	}
}

func (p *Provider) remoteDomain() uint16 {
	return p.cfg.RemoteDomain
}

func (p *Provider) handleRemoveDisplay(key uint32) {
	p.mu.Lock()
	entry, ok := p.displays[key]
	if !ok || entry.state != stateConnected {
		p.mu.Unlock()
		return
	}
	entry.state = stateTearingDown
	d := entry.d
	p.mu.Unlock()

	d.Destroy()

	p.mu.Lock()
	entry.state = stateDead
	delete(p.displays, key)
	fn := p.handlers.RemoveDisplay
	p.mu.Unlock()

	if fn != nil {
		fn(key)
	}
}

// DestroyDisplay is the driver-initiated teardown path: it publishes
// DISPLAY_NO_LONGER_AVAILABLE before disconnecting the display's channels
// (spec.md §4.3 "destroy_display").
func (p *Provider) DestroyDisplay(key uint32) error {
	p.mu.Lock()
	entry, ok := p.displays[key]
	if !ok || entry.state != stateConnected {
		p.mu.Unlock()
		return pkt.ErrNotFound
	}
	entry.state = stateTearingDown
	d := entry.d
	ctrl := p.control
	p.mu.Unlock()

	err := pkt.Send(ctrl, pkt.DisplayNoLongerAvailable, pkt.DisplayNoLongerAvailablePayload{Key: key}.Encode())
	d.Destroy()

	p.mu.Lock()
	entry.state = stateDead
	delete(p.displays, key)
	p.mu.Unlock()

	return err
}

func (p *Provider) displayFatal(d *display.Display, err error) {
	key := d.Key()
	p.mu.Lock()
	if entry, ok := p.displays[key]; ok {
		entry.state = stateDead
		delete(p.displays, key)
	}
	fn := p.handlers.RemoveDisplay
	p.mu.Unlock()

	p.log.Errorf("provider: display %d fatal error: %v", key, err)
	if fn != nil {
		fn(key)
	}
}

func (p *Provider) fireFatal(err error) {
	p.mu.Lock()
	fn := p.handlers.FatalError
	p.mu.Unlock()
	p.log.Errorf("provider: control channel fatal error: %v", err)
	if fn != nil {
		fn(err)
	}
}
