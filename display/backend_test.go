package display

import (
	"sync"
	"testing"
	"time"

	"github.com/troyc/pv-display-helper/ivcfake"
	"github.com/troyc/pv-display-helper/pkt"
)

func providerSide(t *testing.T, bus *ivcfake.Bus, req CreateRequest) *Display {
	t.Helper()
	transport := ivcfake.NewTransport(bus, 0)
	d, err := CreateDisplay(transport, req, 64, 64, 256, nil, func(*Display, error) {}, testLogger())
	if err != nil {
		t.Fatalf("CreateDisplay: %v", err)
	}
	return d
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestBackendReceivesSetDisplay(t *testing.T) {
	bus := ivcfake.NewBus()
	consumerTransport := ivcfake.NewTransport(bus, 1)

	var mu sync.Mutex
	var got pkt.SetDisplayPayload
	var gotCount int

	b, err := NewBackend(1, consumerTransport, BackendConfig{
		RemoteDomain: 0, EventPort: 50, FramebufferPort: 51,
	}, BackendHandlers{
		SetDisplay: func(p pkt.SetDisplayPayload) {
			mu.Lock()
			got = p
			gotCount++
			mu.Unlock()
		},
	}, func(*Backend, error) {}, testLogger())
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	defer b.Destroy()

	req := CreateRequest{Key: 1, RemoteDomain: 1, EventPort: 50, FramebufferPort: 51}
	d := providerSide(t, bus, req)
	defer d.Destroy()

	waitFor(t, func() bool { return b.FramebufferView() != nil })

	if err := d.ChangeResolution(800, 600, 3200); err != nil {
		t.Fatalf("ChangeResolution: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotCount == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if got.Width != 800 || got.Height != 600 || got.Stride != 3200 {
		t.Fatalf("got = %+v, want 800x600 stride 3200", got)
	}
}

func TestBackendDrainsAllDirtyRectsInOneCallback(t *testing.T) {
	bus := ivcfake.NewBus()
	consumerTransport := ivcfake.NewTransport(bus, 1)

	var mu sync.Mutex
	var rects []pkt.DirtyRect

	b, err := NewBackend(2, consumerTransport, BackendConfig{
		RemoteDomain: 0, EventPort: 60, FramebufferPort: 61, DirtyRectanglesPort: 62,
	}, BackendHandlers{
		DirtyRect: func(r pkt.DirtyRect) {
			mu.Lock()
			rects = append(rects, r)
			mu.Unlock()
		},
	}, func(*Backend, error) {}, testLogger())
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	defer b.Destroy()

	req := CreateRequest{Key: 2, RemoteDomain: 1, EventPort: 60, FramebufferPort: 61, DirtyRectanglesPort: 62}
	d := providerSide(t, bus, req)
	defer d.Destroy()

	waitFor(t, func() bool { return b.FramebufferView() != nil })

	for i := uint32(0); i < 5; i++ {
		if err := d.InvalidateRegion(i, i, 10, 10); err != nil {
			t.Fatalf("InvalidateRegion(%d): %v", i, err)
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(rects) == 5
	})
}

func TestBackendFatalFiresOnceOnDisconnect(t *testing.T) {
	bus := ivcfake.NewBus()
	consumerTransport := ivcfake.NewTransport(bus, 1)

	var mu sync.Mutex
	var fatalCount int

	b, err := NewBackend(3, consumerTransport, BackendConfig{
		RemoteDomain: 0, EventPort: 70, FramebufferPort: 71,
	}, BackendHandlers{}, func(*Backend, error) {
		mu.Lock()
		fatalCount++
		mu.Unlock()
	}, testLogger())
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	defer b.Destroy()

	req := CreateRequest{Key: 3, RemoteDomain: 1, EventPort: 70, FramebufferPort: 71}
	d := providerSide(t, bus, req)

	waitFor(t, func() bool { return b.FramebufferView() != nil })

	d.Destroy()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fatalCount >= 1
	})

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fatalCount != 1 {
		t.Fatalf("fatalCount = %d, want exactly 1", fatalCount)
	}
}

