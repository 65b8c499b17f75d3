package display

import (
	"testing"
	"time"

	"github.com/op/go-logging"

	"github.com/troyc/pv-display-helper/internal/log"
	"github.com/troyc/pv-display-helper/ivc"
	"github.com/troyc/pv-display-helper/ivcfake"
	"github.com/troyc/pv-display-helper/pkt"
)

func testLogger() *logging.Logger {
	return log.New("display-test", logging.CRITICAL)
}

// consumerSide stands in for the consumer's listening servers on the four
// ports, without pulling in package consumer (which depends on display).
func consumerSide(t *testing.T, req CreateRequest) (t2 ivc.Transport, accepted chan ivc.Channel, fbAccepted chan ivc.Channel) {
	t.Helper()
	bus := ivcfake.NewBus()
	serverSide := ivcfake.NewTransport(bus, req.RemoteDomain)
	clientSide := ivcfake.NewTransport(bus, 0)

	accepted = make(chan ivc.Channel, 1)
	fbAccepted = make(chan ivc.Channel, 1)
	if _, err := serverSide.Listen(req.EventPort, 0, 0, func(ch ivc.Channel) { accepted <- ch }); err != nil {
		t.Fatal(err)
	}
	if _, err := serverSide.Listen(req.FramebufferPort, 0, 0, func(ch ivc.Channel) { fbAccepted <- ch }); err != nil {
		t.Fatal(err)
	}
	if req.DirtyRectanglesPort != 0 {
		if _, err := serverSide.Listen(req.DirtyRectanglesPort, 0, 0, func(ivc.Channel) {}); err != nil {
			t.Fatal(err)
		}
	}
	if req.CursorBitmapPort != 0 {
		if _, err := serverSide.Listen(req.CursorBitmapPort, 0, 0, func(ivc.Channel) {}); err != nil {
			t.Fatal(err)
		}
	}
	return clientSide, accepted, fbAccepted
}

func TestCreateDisplayOpensRequiredChannels(t *testing.T) {
	req := CreateRequest{Key: 1, EventPort: 10, FramebufferPort: 11, DirtyRectanglesPort: 12, CursorBitmapPort: 13}
	transport, accepted, fbAccepted := consumerSide(t, req)

	d, err := CreateDisplay(transport, req, 64, 64, 256, nil, func(*Display, error) {}, testLogger())
	if err != nil {
		t.Fatalf("CreateDisplay: %v", err)
	}
	defer d.Destroy()

	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("event channel never connected")
	}
	select {
	case <-fbAccepted:
	case <-time.After(time.Second):
		t.Fatal("framebuffer channel never connected")
	}
	if d.Key() != 1 {
		t.Fatalf("Key() = %d, want 1", d.Key())
	}
	if !d.SupportsCursor() {
		t.Fatal("expected cursor support when CursorBitmapPort is set")
	}
}

func TestCreateDisplayRejectsMissingRequiredPorts(t *testing.T) {
	if _, err := CreateDisplay(nil, CreateRequest{Key: 1}, 1, 1, 1, nil, nil, testLogger()); err == nil {
		t.Fatal("expected error for missing event/framebuffer ports")
	}
}

func TestInvalidateRegionAcceptsSmallRegion(t *testing.T) {
	req := CreateRequest{Key: 1, EventPort: 20, FramebufferPort: 21, DirtyRectanglesPort: 22}
	transport, _, _ := consumerSide(t, req)

	d, err := CreateDisplay(transport, req, 640, 480, 2560, nil, func(*Display, error) {}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer d.Destroy()

	// A single small region on an empty dirty-rect ring is accepted.
	if err := d.InvalidateRegion(1, 2, 3, 4); err != nil {
		t.Fatalf("InvalidateRegion: %v", err)
	}
}

func TestChangeResolutionPublishesSetDisplay(t *testing.T) {
	req := CreateRequest{Key: 1, EventPort: 30, FramebufferPort: 31}
	transport, accepted, _ := consumerSide(t, req)

	d, err := CreateDisplay(transport, req, 100, 100, 400, nil, func(*Display, error) {}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer d.Destroy()

	var eventCh ivc.Channel
	select {
	case eventCh = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("event channel never connected")
	}

	if err := d.ChangeResolution(1920, 1080, 7680); err != nil {
		t.Fatalf("ChangeResolution: %v", err)
	}

	buf := make([]byte, pkt.HeaderSize)
	deadline := time.Now().Add(time.Second)
	for {
		avail, err := eventCh.AvailableData()
		if err != nil {
			t.Fatal(err)
		}
		if avail >= len(buf) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("SET_DISPLAY never arrived on the event channel")
		}
		time.Sleep(time.Millisecond)
	}
	if _, short, err := eventCh.Recv(buf); err != nil || short {
		t.Fatalf("Recv header: short=%v err=%v", short, err)
	}
	h, err := pkt.ParseHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if h.Type != pkt.SetDisplay {
		t.Fatalf("packet type = %d, want SetDisplay", h.Type)
	}
}

func TestLoadCursorImageZeroFillsUnusedRows(t *testing.T) {
	req := CreateRequest{Key: 1, EventPort: 40, FramebufferPort: 41, CursorBitmapPort: 42}
	transport, _, _ := consumerSide(t, req)

	d, err := CreateDisplay(transport, req, 64, 64, 256, nil, func(*Display, error) {}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer d.Destroy()

	srcW, srcH := uint32(2), uint32(2)
	image := make([]byte, 4*srcW*srcH)
	for i := range image {
		image[i] = 0xAB
	}
	if err := d.LoadCursorImage(image, srcW, srcH); err != nil {
		t.Fatalf("LoadCursorImage: %v", err)
	}

	view := d.cursorView
	// Row 0, first pixel should carry the loaded content.
	if view[0] != 0xAB {
		t.Fatalf("view[0] = %x, want 0xAB", view[0])
	}
	// Byte just past the 2-pixel row content must be zero-padded.
	if view[4*int(srcW)] != 0 {
		t.Fatalf("row padding not zeroed at offset %d", 4*int(srcW))
	}
	// A row beyond srcH must be entirely zero.
	lastRow := view[(pkt.CursorHeight-1)*pkt.CursorStride : pkt.CursorHeight*pkt.CursorStride]
	for _, b := range lastRow {
		if b != 0 {
			t.Fatal("trailing row beyond srcH was not zero-filled")
		}
	}
}
