package pkt

// sendChannel is the minimal surface Send needs from a transport channel.
// It is satisfied structurally by ivc.Channel without pkt importing ivc
// (which would create an import cycle, since ivc depends on pkt for wire
// types); any concrete Channel implementation automatically satisfies it.
type sendChannel interface {
	AvailableSpace() (int, error)
	Send(buf []byte) (n int, err error)
	NotifyRemote()
	IsOpen() bool
}

// Send encodes a packet and writes it to ch, failing fast if the channel is
// closed or has insufficient free space, then notifies the remote twice —
// an idiosyncrasy of the transport's interrupt-coalescing behavior that
// must be preserved bit-for-bit (spec.md §6).
func Send(ch sendChannel, t Type, payload []byte) error {
	if !ch.IsOpen() {
		return ErrClosed
	}
	buf, err := Encode(t, payload)
	if err != nil {
		return err
	}
	free, err := ch.AvailableSpace()
	if err != nil {
		return newErr(Transport, "querying available space: %v", err)
	}
	if free < len(buf) {
		return ErrNoSpace
	}
	n, err := ch.Send(buf)
	if err != nil {
		return newErr(Transport, "send failed: %v", err)
	}
	if n != len(buf) {
		return newErr(Transport, "short send: wrote %d of %d bytes", n, len(buf))
	}
	ch.NotifyRemote()
	ch.NotifyRemote()
	return nil
}
