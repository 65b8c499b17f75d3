package provider_test

import (
	"sync"
	"testing"
	"time"

	"github.com/op/go-logging"

	"github.com/troyc/pv-display-helper/consumer"
	"github.com/troyc/pv-display-helper/display"
	"github.com/troyc/pv-display-helper/internal/log"
	"github.com/troyc/pv-display-helper/ivcfake"
	"github.com/troyc/pv-display-helper/pkt"
	"github.com/troyc/pv-display-helper/provider"
)

func testLogger(name string) *logging.Logger {
	return log.New(name, logging.CRITICAL)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

// TestCapabilityHandshakeAndAddDisplay exercises spec.md §4.5 end to end:
// the provider connects and advertises capabilities, the consumer
// publishes a host display list, the provider acks with its own
// ADVERTISED_DISPLAY_LIST, the consumer requests a display be created via
// ADD_DISPLAY, and the provider connects out to the consumer's listening
// backend.
func TestCapabilityHandshakeAndAddDisplay(t *testing.T) {
	bus := ivcfake.NewBus()
	consumerTransport := ivcfake.NewTransport(bus, 1)
	providerTransport := ivcfake.NewTransport(bus, 0)

	var mu sync.Mutex
	var gotCaps pkt.DriverCapabilitiesPayload
	var gotCapsOnce bool

	cons := consumer.New(consumer.Config{ControlPort: 1, RemoteDomain: 0}, consumer.Handlers{
		DriverCapabilities: func(p pkt.DriverCapabilitiesPayload) {
			mu.Lock()
			gotCaps = p
			gotCapsOnce = true
			mu.Unlock()
		},
	}, testLogger("consumer"))
	if err := cons.Listen(consumerTransport); err != nil {
		t.Fatalf("consumer Listen: %v", err)
	}

	prov := provider.New(provider.Config{RemoteDomain: 1, ControlPort: 1, MaxDisplays: 4}, testLogger("provider"))
	var addReq pkt.AddDisplayPayload
	prov.OnAddDisplay(func(req pkt.AddDisplayPayload) (uint32, uint32, uint32, []byte) {
		mu.Lock()
		addReq = req
		mu.Unlock()
		return 640, 480, 2560, nil
	})
	if err := prov.Start(providerTransport); err != nil {
		t.Fatalf("provider Start: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotCapsOnce
	})
	mu.Lock()
	if gotCaps.MaxDisplays != 4 {
		t.Fatalf("MaxDisplays = %d, want 4", gotCaps.MaxDisplays)
	}
	mu.Unlock()

	var backend *display.Backend
	var backendMu sync.Mutex
	gotSetDisplay := make(chan pkt.SetDisplayPayload, 1)

	addBackend := func() {
		b, err := cons.AddDisplay(7, display.BackendConfig{
			RemoteDomain: 1, EventPort: 200, FramebufferPort: 201,
		}, display.BackendHandlers{
			SetDisplay: func(p pkt.SetDisplayPayload) { gotSetDisplay <- p },
		})
		if err != nil {
			t.Errorf("AddDisplay: %v", err)
			return
		}
		backendMu.Lock()
		backend = b
		backendMu.Unlock()
	}

	if err := cons.SendHostDisplayList([]pkt.DisplayInfo{{Key: 7, W: 1920, H: 1080}}); err != nil {
		t.Fatalf("SendHostDisplayList: %v", err)
	}

	addBackend()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return addReq.Key == 7
	})

	select {
	case p := <-gotSetDisplay:
		if p.Width != 640 || p.Height != 480 {
			t.Fatalf("initial SET_DISPLAY = %+v, want 640x480", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never received initial SET_DISPLAY from the created display")
	}

	backendMu.Lock()
	b := backend
	backendMu.Unlock()
	if b == nil {
		t.Fatal("backend was never created")
	}
	waitFor(t, func() bool { return b.FramebufferView() != nil })
}
