// Package consumer implements the host-side top-level Consumer object: a
// listening control server, the control-channel handler registry, and a
// factory for per-display Backends (spec.md §4.5).
package consumer

import (
	"sync"

	"github.com/op/go-logging"

	"github.com/troyc/pv-display-helper/display"
	"github.com/troyc/pv-display-helper/ivc"
	"github.com/troyc/pv-display-helper/pkt"
)

// Config configures a Consumer's listening control server.
type Config struct {
	ControlPort  uint32
	RemoteDomain uint16
}

// Handlers are the owner's callbacks for control-channel messages and
// per-backend fatal errors.
type Handlers struct {
	DriverCapabilities       func(pkt.DriverCapabilitiesPayload)
	AdvertisedList           func(pkt.AdvertisedDisplayListPayload)
	DisplayNoLongerAvailable func(key uint32)
	TextMode                 func(pkt.TextModePayload)
	BackendFatal             func(key uint32, err error)
}

// Consumer holds the listening control server and the set of backends it
// has created.
type Consumer struct {
	mu sync.Mutex

	cfg       Config
	transport ivc.Transport
	handlers  Handlers
	log       *logging.Logger

	controlServer ivc.Server
	control       ivc.Channel
	ctrlRecv      *pkt.Receiver

	backends map[uint32]*display.Backend
}

// New creates a Consumer. Call Listen to start accepting control
// connections.
func New(cfg Config, handlers Handlers, log *logging.Logger) *Consumer {
	return &Consumer{
		cfg:      cfg,
		handlers: handlers,
		log:      log,
		backends: map[uint32]*display.Backend{},
	}
}

// Listen starts the listening control server; new_control_connection's
// role is played by FinishControlConnection, handed directly to
// Transport.Listen as its onAccept callback.
func (c *Consumer) Listen(t ivc.Transport) error {
	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()

	s, err := t.Listen(c.cfg.ControlPort, c.cfg.RemoteDomain, 0, c.FinishControlConnection)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.controlServer = s
	c.mu.Unlock()
	return nil
}

// FinishControlConnection installs callbacks on an accepted control
// connection and begins receiving, mirroring the owner-driven
// finish_control_connection step in spec.md §4.5.
func (c *Consumer) FinishControlConnection(ch ivc.Channel) {
	c.mu.Lock()
	c.control = ch
	c.mu.Unlock()
	c.ctrlRecv = pkt.NewReceiver(ch, c.dispatchControl, c.fireFatal)
}

func (c *Consumer) dispatchControl(h pkt.Header, payload []byte) {
	switch h.Type {
	case pkt.DriverCapabilities:
		p, err := pkt.DecodeDriverCapabilities(payload)
		if err != nil {
			c.log.Warningf("consumer: bad DRIVER_CAPABILITIES: %v", err)
			return
		}
		if c.handlers.DriverCapabilities != nil {
			c.handlers.DriverCapabilities(p)
		}
	case pkt.AdvertisedDisplayList:
		p, err := pkt.DecodeAdvertisedDisplayList(payload)
		if err != nil {
			c.log.Warningf("consumer: bad ADVERTISED_DISPLAY_LIST: %v", err)
			return
		}
		if c.handlers.AdvertisedList != nil {
			c.handlers.AdvertisedList(p)
		}
	case pkt.DisplayNoLongerAvailable:
		p, err := pkt.DecodeDisplayNoLongerAvailable(payload)
		if err != nil {
			c.log.Warningf("consumer: bad DISPLAY_NO_LONGER_AVAILABLE: %v", err)
			return
		}
		c.mu.Lock()
		b, ok := c.backends[p.Key]
		delete(c.backends, p.Key)
		c.mu.Unlock()
		if ok {
			b.Destroy()
		}
		if c.handlers.DisplayNoLongerAvailable != nil {
			c.handlers.DisplayNoLongerAvailable(p.Key)
		}
	case pkt.TextMode:
		p, err := pkt.DecodeTextMode(payload)
		if err != nil {
			c.log.Warningf("consumer: bad TEXT_MODE: %v", err)
			return
		}
		if c.handlers.TextMode != nil {
			c.handlers.TextMode(p)
		}
	default:
		c.log.Debugf("consumer: unknown control packet type %d", h.Type)
	}
}

func (c *Consumer) fireFatal(err error) {
	c.log.Errorf("consumer: control channel fatal error: %v", err)
}

// SendHostDisplayList publishes HOST_DISPLAY_LIST.
func (c *Consumer) SendHostDisplayList(displays []pkt.DisplayInfo) error {
	c.mu.Lock()
	ch := c.control
	c.mu.Unlock()
	return pkt.Send(ch, pkt.HostDisplayList, pkt.HostDisplayListPayload{Displays: displays}.Encode())
}

// AddDisplay starts a Backend listening on cfg's ports and publishes
// ADD_DISPLAY so the provider connects out to them.
func (c *Consumer) AddDisplay(key uint32, cfg display.BackendConfig, handlers display.BackendHandlers) (*display.Backend, error) {
	c.mu.Lock()
	t := c.transport
	ctrl := c.control
	c.mu.Unlock()

	b, err := display.NewBackend(key, t, cfg, handlers, c.backendFatal, c.log)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.backends[key] = b
	c.mu.Unlock()

	req := pkt.AddDisplayPayload{
		Key:                 key,
		EventPort:           cfg.EventPort,
		FramebufferPort:     cfg.FramebufferPort,
		DirtyRectanglesPort: cfg.DirtyRectanglesPort,
		CursorBitmapPort:    cfg.CursorBitmapPort,
	}
	if err := pkt.Send(ctrl, pkt.AddDisplay, req.Encode()); err != nil {
		c.mu.Lock()
		delete(c.backends, key)
		c.mu.Unlock()
		b.Destroy()
		return nil, err
	}
	return b, nil
}

// RemoveDisplay tears down the backend for key and notifies the provider.
func (c *Consumer) RemoveDisplay(key uint32) error {
	c.mu.Lock()
	b, ok := c.backends[key]
	delete(c.backends, key)
	ctrl := c.control
	c.mu.Unlock()
	if !ok {
		return pkt.ErrNotFound
	}
	b.Destroy()
	return pkt.Send(ctrl, pkt.RemoveDisplay, pkt.RemoveDisplayPayload{Key: key}.Encode())
}

// TextMode publishes TEXT_MODE for key.
func (c *Consumer) TextMode(key uint32, force bool) error {
	c.mu.Lock()
	ctrl := c.control
	c.mu.Unlock()
	return pkt.Send(ctrl, pkt.TextMode, pkt.TextModePayload{Key: key, Force: force}.Encode())
}

func (c *Consumer) backendFatal(b *display.Backend, err error) {
	key := b.Key()
	c.mu.Lock()
	delete(c.backends, key)
	fn := c.handlers.BackendFatal
	c.mu.Unlock()
	c.log.Errorf("consumer: backend %d fatal error: %v", key, err)
	if fn != nil {
		fn(key, err)
	}
}

