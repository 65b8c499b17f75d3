package consumer

import (
	"sync"
	"testing"
	"time"

	"github.com/op/go-logging"

	"github.com/troyc/pv-display-helper/display"
	"github.com/troyc/pv-display-helper/internal/log"
	"github.com/troyc/pv-display-helper/ivc"
	"github.com/troyc/pv-display-helper/ivcfake"
	"github.com/troyc/pv-display-helper/pkt"
)

func testLogger() *logging.Logger {
	return log.New("consumer-test", logging.CRITICAL)
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

// rawProviderSide connects the provider's end of the control channel
// directly, without spinning up a real provider.Provider, so these tests
// exercise only the Consumer's control dispatch.
func rawProviderSide(t *testing.T, c *Consumer, transport ivc.Transport) ivc.Channel {
	t.Helper()
	ch, err := transport.Connect(1, 1, ivc.ControlRingPages, 42)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return ch
}

func TestDispatchDriverCapabilities(t *testing.T) {
	bus := ivcfake.NewBus()
	consumerTransport := ivcfake.NewTransport(bus, 0)
	providerTransport := ivcfake.NewTransport(bus, 1)

	var mu sync.Mutex
	var got pkt.DriverCapabilitiesPayload
	c := New(Config{ControlPort: 1, RemoteDomain: 1}, Handlers{
		DriverCapabilities: func(p pkt.DriverCapabilitiesPayload) {
			mu.Lock()
			got = p
			mu.Unlock()
		},
	}, testLogger())
	if err := c.Listen(consumerTransport); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ch := rawProviderSide(t, c, providerTransport)
	defer ch.Disconnect()

	payload := pkt.DriverCapabilitiesPayload{MaxDisplays: 2, Version: 1, Flags: pkt.CapabilityResize}.Encode()
	if err := pkt.Send(ch, pkt.DriverCapabilities, payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got.MaxDisplays == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if got.Flags != pkt.CapabilityResize {
		t.Fatalf("Flags = %d, want %d", got.Flags, pkt.CapabilityResize)
	}
}

func TestDispatchDisplayNoLongerAvailableNotifiesAndClearsBackend(t *testing.T) {
	bus := ivcfake.NewBus()
	consumerTransport := ivcfake.NewTransport(bus, 0)
	providerTransport := ivcfake.NewTransport(bus, 1)

	var mu sync.Mutex
	var notified uint32
	c := New(Config{ControlPort: 1, RemoteDomain: 1}, Handlers{
		DisplayNoLongerAvailable: func(key uint32) {
			mu.Lock()
			notified = key
			mu.Unlock()
		},
	}, testLogger())
	if err := c.Listen(consumerTransport); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ch := rawProviderSide(t, c, providerTransport)
	defer ch.Disconnect()

	// Register a real backend directly (bypassing the ADD_DISPLAY round
	// trip) so DISPLAY_NO_LONGER_AVAILABLE has something to tear down.
	b, err := display.NewBackend(9, consumerTransport, display.BackendConfig{
		RemoteDomain: 1, EventPort: 300, FramebufferPort: 301,
	}, display.BackendHandlers{}, func(*display.Backend, error) {}, testLogger())
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	c.mu.Lock()
	c.backends[9] = b
	c.mu.Unlock()

	payload := pkt.DisplayNoLongerAvailablePayload{Key: 9}.Encode()
	if err := pkt.Send(ch, pkt.DisplayNoLongerAvailable, payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return notified == 9
	})

	c.mu.Lock()
	_, exists := c.backends[9]
	c.mu.Unlock()
	if exists {
		t.Fatal("backend entry for key 9 should have been removed")
	}
}

func TestRemoveDisplayUnknownKeyReturnsNotFound(t *testing.T) {
	c := New(Config{ControlPort: 1, RemoteDomain: 1}, Handlers{}, testLogger())
	if err := c.RemoveDisplay(123); err != pkt.ErrNotFound {
		t.Fatalf("RemoveDisplay on unknown key = %v, want ErrNotFound", err)
	}
}
