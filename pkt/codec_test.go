package pkt

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		typ     Type
		payload []byte
	}{
		{"zero length", DriverCapabilities, nil},
		{"capabilities", DriverCapabilities, DriverCapabilitiesPayload{MaxDisplays: 4, Version: 1}.Encode()},
		{"set display", SetDisplay, SetDisplayPayload{Width: 1920, Height: 1080, Stride: 7680}.Encode()},
		{"move cursor", MoveCursor, MoveCursorPayload{X: 10, Y: 20}.Encode()},
		{"update cursor", UpdateCursor, UpdateCursorPayload{HotspotX: 1, HotspotY: 2, Visible: 1}.Encode()},
		{"blank display", BlankDisplay, BlankDisplayPayload{Reason: BlankSleep}.Encode()},
		{"add display", AddDisplay, AddDisplayPayload{Key: 1, EventPort: 1100, FramebufferPort: 1101}.Encode()},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			buf, err := Encode(c.typ, c.payload)
			if err != nil {
				t.Fatal(err)
			}
			h, payload, f, err := Decode(buf)
			if err != nil {
				t.Fatal(err)
			}
			if h.Type != c.typ {
				t.Fatalf("type = %d, want %d", h.Type, c.typ)
			}
			if int(h.Length) != len(c.payload) {
				t.Fatalf("length = %d, want %d", h.Length, len(c.payload))
			}
			if !bytes.Equal(payload, c.payload) {
				t.Fatalf("payload mismatch: got %v want %v", payload, c.payload)
			}
			if f.CRC != Checksum(buf[:HeaderSize+len(c.payload)]) {
				t.Fatalf("footer CRC does not match checksum of header||payload")
			}
		})
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf, err := Encode(SetDisplay, SetDisplayPayload{}.Encode())
	if err != nil {
		t.Fatal(err)
	}
	buf[0] ^= 0xFF
	if _, _, _, err := Decode(buf); err == nil {
		t.Fatal("expected error for corrupted magic")
	}
}

func TestDecodeRejectsOversizeLength(t *testing.T) {
	buf, err := Encode(SetDisplay, SetDisplayPayload{}.Encode())
	if err != nil {
		t.Fatal(err)
	}
	// Claim a length far beyond the max payload bound without resizing
	// the buffer; Decode must reject before indexing out of range.
	putHeader(buf, Header{Magic1: magic1, Magic2: magic2, Type: SetDisplay, Length: MaxPayloadSize + 1})
	if _, _, _, err := Decode(buf); err == nil {
		t.Fatal("expected error for oversize length")
	}
}

func TestDecodeDetectsCRCCorruption(t *testing.T) {
	buf, err := Encode(SetDisplay, SetDisplayPayload{Width: 640, Height: 480, Stride: 2560}.Encode())
	if err != nil {
		t.Fatal(err)
	}
	// Flip one bit inside the payload region.
	buf[HeaderSize] ^= 0x01
	if _, _, _, err := Decode(buf); err == nil {
		t.Fatal("expected CRC mismatch to be detected")
	}
}

func TestDirtyRectRoundTrip(t *testing.T) {
	r := DirtyRect{X: 10, Y: 10, W: 100, H: 100}
	buf := EncodeDirtyRect(r)
	if len(buf) != DirtyRectSize {
		t.Fatalf("encoded dirty rect is %d bytes, want %d", len(buf), DirtyRectSize)
	}
	got, err := DecodeDirtyRect(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != r {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, r)
	}
}

func TestBlankReasonTable(t *testing.T) {
	cases := []struct {
		dpms, blank bool
		want        BlankReason
	}{
		{true, true, BlankSleep},
		{true, false, BlankWake},
		{false, true, BlankFillEnable},
		{false, false, BlankFillDisable},
	}
	for _, c := range cases {
		if got := BlankReasonFor(c.dpms, c.blank); got != c.want {
			t.Fatalf("BlankReasonFor(%v, %v) = %v, want %v", c.dpms, c.blank, got, c.want)
		}
	}
}

func TestDisplayListRoundTrip(t *testing.T) {
	displays := []DisplayInfo{
		{Key: 1, W: 1920, H: 1080},
		{Key: 2, W: 1280, H: 720},
	}
	buf := HostDisplayListPayload{Displays: displays}.Encode()
	got, err := DecodeHostDisplayList(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Displays) != 2 || got.Displays[0] != displays[0] || got.Displays[1] != displays[1] {
		t.Fatalf("round trip mismatch: got %+v want %+v", got.Displays, displays)
	}
}
