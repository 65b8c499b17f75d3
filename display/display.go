package display

import (
	"sync"

	"github.com/op/go-logging"

	"github.com/troyc/pv-display-helper/internal/idgen"
	"github.com/troyc/pv-display-helper/ivc"
	"github.com/troyc/pv-display-helper/pkt"
)

// CreateRequest is the provider-side view of an ADD_DISPLAY packet: the
// four ports the consumer wants the provider to connect out to.
type CreateRequest struct {
	Key                 uint32
	RemoteDomain        uint16
	EventPort           uint32
	FramebufferPort     uint32
	DirtyRectanglesPort uint32
	CursorBitmapPort    uint32
}

// cursorState mirrors the provider's (hotspot, visibility) record; the
// cursor image itself lives in Display.cursorView.
type cursorState struct {
	hotspotX, hotspotY uint32
	visible            bool
}

// Display is the provider-side per-display aggregate (spec.md §4.3): the
// four channel handles, current mode, framebuffer/cursor views, driver
// data behind one mutex, plus a one-shot fatal handler guarded by a
// separate fatalMu.
type Display struct {
	mu sync.Mutex

	key    uint32
	width  uint32
	height uint32
	stride uint32

	transport ivc.Transport
	domain    uint16

	event       ivc.Channel
	eventRecv   *pkt.Receiver
	framebuffer ivc.Channel
	fbView      []byte
	dirtyRect   ivc.Channel
	cursor      ivc.Channel
	cursorView  []byte
	cursorSt    cursorState

	driverData interface{}

	fatalMu    sync.Mutex
	fatal      func(*Display, error)
	fatalFired bool

	log *logging.Logger
}

// CreateDisplay validates req, opens the framebuffer channel first (so its
// page count can be derived from width/height/stride), then the required
// event channel, then the optional dirty-rect and cursor channels (whose
// failures are logged, never fatal), per spec.md §4.3
// "Provider-level operations".
func CreateDisplay(t ivc.Transport, req CreateRequest, width, height, stride uint32, initialContents []byte, fatal func(*Display, error), log *logging.Logger) (*Display, error) {
	if req.EventPort == 0 || req.FramebufferPort == 0 {
		return nil, pkt.ErrInvalidArgument
	}

	d := &Display{
		key:       req.Key,
		width:     width,
		height:    height,
		stride:    stride,
		transport: t,
		domain:    req.RemoteDomain,
		fatal:     fatal,
		log:       log,
	}

	fbConnID, err := idgen.ConnID()
	if err != nil {
		return nil, err
	}
	fbPages := ivc.FramebufferRingPages(stride, height)
	fb, err := t.Connect(req.RemoteDomain, req.FramebufferPort, fbPages, fbConnID)
	if err != nil {
		return nil, err
	}
	view, err := fb.LocalBuffer()
	if err != nil {
		fb.Disconnect()
		return nil, err
	}
	d.framebuffer = fb
	d.fbView = view
	if initialContents != nil {
		copy(d.fbView, initialContents)
	}

	evConnID, err := idgen.ConnID()
	if err != nil {
		d.framebuffer.Disconnect()
		return nil, err
	}
	ev, err := t.Connect(req.RemoteDomain, req.EventPort, ivc.EventRingPages, evConnID)
	if err != nil {
		d.framebuffer.Disconnect()
		return nil, err
	}
	d.event = ev
	d.eventRecv = pkt.NewReceiver(ev, d.dispatchEvent, d.fireFatal)

	if req.DirtyRectanglesPort != 0 {
		connID, err := idgen.ConnID()
		if err != nil {
			log.Warningf("display %d: dirty-rect connection id: %v", d.key, err)
		} else if dr, err := t.Connect(req.RemoteDomain, req.DirtyRectanglesPort, ivc.DirtyRingPages, connID); err != nil {
			log.Warningf("display %d: dirty-rect channel not opened: %v", d.key, err)
		} else {
			d.dirtyRect = dr
			dr.RegisterEventCallbacks(func() {}, func() { log.Warningf("display %d: dirty-rect channel disconnected", d.key) })
		}
	}

	if req.CursorBitmapPort != 0 {
		connID, err := idgen.ConnID()
		if err != nil {
			log.Warningf("display %d: cursor connection id: %v", d.key, err)
		} else if cur, err := t.Connect(req.RemoteDomain, req.CursorBitmapPort, ivc.CursorRingPages(), connID); err != nil {
			log.Warningf("display %d: cursor channel not opened: %v", d.key, err)
		} else if cview, err := cur.LocalBuffer(); err != nil {
			log.Warningf("display %d: cursor channel has no view: %v", d.key, err)
			cur.Disconnect()
		} else {
			d.cursor = cur
			d.cursorView = cview
			cur.RegisterEventCallbacks(func() {}, func() { log.Warningf("display %d: cursor channel disconnected", d.key) })
		}
	}

	return d, nil
}

func (d *Display) dispatchEvent(h pkt.Header, payload []byte) {
	// The event channel carries only provider-bound messages on a real
	// deployment; the provider publishes on it but does not expect
	// traffic back. Unknown/unused types are logged and ignored, per
	// spec.md §4.6 forward-compatibility.
	d.log.Debugf("display %d: unexpected event-channel packet type %d", d.key, h.Type)
}

func (d *Display) fireFatal(err error) {
	d.fatalMu.Lock()
	if d.fatalFired || d.fatal == nil {
		d.fatalMu.Unlock()
		return
	}
	d.fatalFired = true
	handler := d.fatal
	d.fatal = nil
	d.fatalMu.Unlock()
	handler(d, err)
}

// Key returns the display's host key.
func (d *Display) Key() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.key
}

// Reconnect requires an existing framebuffer and event connection and
// non-zero new framebuffer/event ports. Optional channels are reconnected
// only if they previously existed and the request supplies a port;
// failures there are warnings, not fatal.
func (d *Display) Reconnect(req CreateRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.framebuffer == nil || d.event == nil {
		return pkt.ErrInvalidArgument
	}
	if req.FramebufferPort == 0 || req.EventPort == 0 {
		return pkt.ErrInvalidArgument
	}

	if err := d.framebuffer.Reconnect(req.RemoteDomain, req.FramebufferPort); err != nil {
		return err
	}
	if err := d.event.Reconnect(req.RemoteDomain, req.EventPort); err != nil {
		return err
	}

	if d.dirtyRect != nil && req.DirtyRectanglesPort != 0 {
		if err := d.dirtyRect.Reconnect(req.RemoteDomain, req.DirtyRectanglesPort); err != nil {
			d.log.Warningf("display %d: dirty-rect reconnect failed: %v", d.key, err)
		}
	}
	if d.cursor != nil && req.CursorBitmapPort != 0 {
		if err := d.cursor.Reconnect(req.RemoteDomain, req.CursorBitmapPort); err != nil {
			d.log.Warningf("display %d: cursor reconnect failed: %v", d.key, err)
		}
	}
	d.domain = req.RemoteDomain
	return nil
}

// ChangeResolution updates the internal record and publishes SET_DISPLAY.
func (d *Display) ChangeResolution(w, h, stride uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.width, d.height, d.stride = w, h, stride
	payload := pkt.SetDisplayPayload{Width: w, Height: h, Stride: stride}.Encode()
	return pkt.Send(d.event, pkt.SetDisplay, payload)
}

// InvalidateRegion requires a dirty-rect channel. If fewer than 16 bytes
// are free it returns TryAgain; if fewer than 32 are free the record is
// replaced with a full-screen rectangle, guaranteeing eventual consistency
// under ring overflow (spec.md §4.3).
func (d *Display) InvalidateRegion(x, y, w, h uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dirtyRect == nil {
		return pkt.ErrInvalidArgument
	}
	free, err := d.dirtyRect.AvailableSpace()
	if err != nil {
		return err
	}
	if free < pkt.DirtyRectSize {
		return pkt.ErrTryAgain
	}
	rect := pkt.DirtyRect{X: x, Y: y, W: w, H: h}
	if free < 2*pkt.DirtyRectSize {
		rect = pkt.DirtyRect{X: 0, Y: 0, W: d.width, H: d.height}
	}
	buf := pkt.EncodeDirtyRect(rect)
	n, err := d.dirtyRect.Send(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return pkt.ErrTransport
	}
	d.dirtyRect.NotifyRemote()
	d.dirtyRect.NotifyRemote()
	return nil
}

// SupportsCursor is true iff a cursor image region exists.
func (d *Display) SupportsCursor() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursor != nil
}

// SetCursorHotspot requires a cursor channel; xh,yh must each be <= 64.
func (d *Display) SetCursorHotspot(xh, yh uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursor == nil {
		return pkt.ErrInvalidArgument
	}
	if xh > pkt.CursorWidth || yh > pkt.CursorHeight {
		return pkt.ErrInvalidArgument
	}
	d.cursorSt.hotspotX, d.cursorSt.hotspotY = xh, yh
	return d.publishCursor()
}

// SetCursorVisibility publishes UPDATE_CURSOR with the new visibility.
func (d *Display) SetCursorVisibility(visible bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursor == nil {
		return pkt.ErrInvalidArgument
	}
	d.cursorSt.visible = visible
	return d.publishCursor()
}

func (d *Display) publishCursor() error {
	var visible uint32
	if d.cursorSt.visible {
		visible = 1
	}
	payload := pkt.UpdateCursorPayload{
		HotspotX: d.cursorSt.hotspotX,
		HotspotY: d.cursorSt.hotspotY,
		Visible:  visible,
	}.Encode()
	return pkt.Send(d.event, pkt.UpdateCursor, payload)
}

// MoveCursor publishes MOVE_CURSOR.
func (d *Display) MoveCursor(x, y uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursor == nil {
		return pkt.ErrInvalidArgument
	}
	payload := pkt.MoveCursorPayload{X: x, Y: y}.Encode()
	return pkt.Send(d.event, pkt.MoveCursor, payload)
}

// LoadCursorImage row-copies src_h rows of 4*src_w bytes into the
// fixed-stride 256-byte cursor view, zero-filling the remainder of each
// row and any trailing rows, then publishes UPDATE_CURSOR.
func (d *Display) LoadCursorImage(image []byte, srcW, srcH uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursor == nil {
		return pkt.ErrInvalidArgument
	}
	if srcW > pkt.CursorWidth || srcH > pkt.CursorHeight {
		return pkt.ErrInvalidArgument
	}

	rowBytes := int(4 * srcW)
	for row := 0; row < pkt.CursorHeight; row++ {
		dst := d.cursorView[row*pkt.CursorStride : (row+1)*pkt.CursorStride]
		for i := range dst {
			dst[i] = 0
		}
		if uint32(row) < srcH {
			src := image[row*rowBytes : (row+1)*rowBytes]
			copy(dst[:rowBytes], src)
		}
	}

	return d.publishCursor()
}

// BlankDisplay publishes BLANK_DISPLAY with the reason selected by the
// {dpms, blank} -> {SLEEP, WAKE, FILL_ENABLE, FILL_DISABLE} table.
func (d *Display) BlankDisplay(dpms, blank bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	payload := pkt.BlankDisplayPayload{Reason: pkt.BlankReasonFor(dpms, blank)}.Encode()
	return pkt.Send(d.event, pkt.BlankDisplay, payload)
}

// Destroy disconnects all four channels this aggregate owns.
func (d *Display) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursor != nil {
		d.cursor.Disconnect()
	}
	if d.dirtyRect != nil {
		d.dirtyRect.Disconnect()
	}
	if d.event != nil {
		d.event.Disconnect()
	}
	if d.framebuffer != nil {
		d.framebuffer.Disconnect()
	}
}

// DriverData returns the opaque value the provider's driver attached to
// this display, or nil if none was set.
func (d *Display) DriverData() interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.driverData
}

// SetDriverData stores the provider driver's opaque per-display value.
func (d *Display) SetDriverData(v interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.driverData = v
}
