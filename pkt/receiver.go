package pkt

import "sync"

// recvChannel is the minimal surface the partial-read state machine needs
// from a transport channel. Satisfied structurally by ivc.Channel, the
// same way sendChannel is for Send — pkt never imports ivc.
type recvChannel interface {
	Recv(buf []byte) (n int, short bool, err error)
	AvailableData() (int, error)
	RegisterEventCallbacks(onData func(), onDisconnect func())
	EnableEvents()
}

// pending holds the header of a packet whose payload+footer have not yet
// fully arrived. A nil pending on Receiver means its slot is empty.
type pending struct {
	raw    [HeaderSize]byte
	header Header
}

// Receiver is one instance of the partial-read state machine (spec.md
// §4.2): a single pending-header slot driven by a channel's
// data-available callback. One Receiver exists per control-or-event
// channel, on both the provider and consumer sides.
type Receiver struct {
	mu       sync.Mutex
	ch       recvChannel
	slot     *pending
	dispatch func(Header, []byte)
	onFatal  func(error)
}

// NewReceiver wires onData/onDisconnect into ch and enables events.
// dispatch is invoked with the receive lock held — handler bodies should
// do only light work or copy out, per spec.md §4.2/§5. onFatal is called
// at most once per corrupt packet or transport failure detected on ch; the
// owning aggregate is responsible for only acting on it once overall.
func NewReceiver(ch recvChannel, dispatch func(Header, []byte), onFatal func(error)) *Receiver {
	r := &Receiver{ch: ch, dispatch: dispatch, onFatal: onFatal}
	ch.RegisterEventCallbacks(r.onData, func() { onFatal(ErrClosed) })
	ch.EnableEvents()
	return r
}

// onData loops the state machine until a step makes no progress, per
// spec.md §4.2 step 3.
func (r *Receiver) onData() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		progressed, fatal := r.step()
		if fatal != nil {
			r.slot = nil
			r.onFatal(fatal)
			return
		}
		if !progressed {
			return
		}
	}
}

func (r *Receiver) step() (progressed bool, fatal error) {
	if r.slot == nil {
		return r.readHeader()
	}
	return r.readBody()
}

func (r *Receiver) readHeader() (progressed bool, fatal error) {
	var p pending
	_, short, err := r.ch.Recv(p.raw[:])
	if err != nil {
		return false, err
	}
	if short {
		return false, nil
	}
	h, err := ParseHeader(p.raw[:])
	if err != nil {
		// Bad magic is fatal per spec.md §4.2 step 1.
		return false, err
	}
	p.header = h
	r.slot = &p
	return true, nil
}

func (r *Receiver) readBody() (progressed bool, fatal error) {
	need := int(r.slot.header.Length) + FooterSize
	avail, err := r.ch.AvailableData()
	if err != nil {
		return false, err
	}
	if avail < need {
		return false, nil
	}

	rest := make([]byte, need)
	_, short, err := r.ch.Recv(rest)
	if err != nil {
		return false, err
	}
	if short {
		return false, nil
	}

	payload := rest[:r.slot.header.Length]
	footer, err := ParseFooter(rest[r.slot.header.Length:])
	if err != nil {
		return false, err
	}

	got := Checksum(r.slot.raw[:], payload)
	if got != footer.CRC {
		return false, ErrProtocol
	}

	header := r.slot.header
	r.slot = nil
	r.dispatch(header, payload)
	return true, nil
}
