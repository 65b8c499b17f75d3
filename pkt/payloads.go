package pkt

import "encoding/binary"

// DriverCapabilitiesPayload is the body of a DRIVER_CAPABILITIES packet.
type DriverCapabilitiesPayload struct {
	MaxDisplays uint32
	Version     uint32
	Flags       uint32
	Reserved    uint32
}

const (
	CapabilityResize  uint32 = 1 << 0
	CapabilityHotplug uint32 = 1 << 1
)

func (p DriverCapabilitiesPayload) Encode() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], p.MaxDisplays)
	binary.LittleEndian.PutUint32(buf[4:8], p.Version)
	binary.LittleEndian.PutUint32(buf[8:12], p.Flags)
	binary.LittleEndian.PutUint32(buf[12:16], p.Reserved)
	return buf
}

func DecodeDriverCapabilities(buf []byte) (DriverCapabilitiesPayload, error) {
	if len(buf) != 16 {
		return DriverCapabilitiesPayload{}, newErr(Protocol, "DRIVER_CAPABILITIES payload must be 16 bytes, got %d", len(buf))
	}
	return DriverCapabilitiesPayload{
		MaxDisplays: binary.LittleEndian.Uint32(buf[0:4]),
		Version:     binary.LittleEndian.Uint32(buf[4:8]),
		Flags:       binary.LittleEndian.Uint32(buf[8:12]),
		Reserved:    binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// HostDisplayListPayload / AdvertisedDisplayListPayload carry a list of
// DisplayInfo records: a uint32 count followed by count*20 bytes.
type HostDisplayListPayload struct {
	Displays []DisplayInfo
}

func encodeDisplayList(displays []DisplayInfo) []byte {
	buf := make([]byte, 4+len(displays)*20)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(displays)))
	off := 4
	for _, d := range displays {
		binary.LittleEndian.PutUint32(buf[off+0:off+4], d.Key)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], d.X)
		binary.LittleEndian.PutUint32(buf[off+8:off+12], d.Y)
		binary.LittleEndian.PutUint32(buf[off+12:off+16], d.W)
		binary.LittleEndian.PutUint32(buf[off+16:off+20], d.H)
		off += 20
	}
	return buf
}

func decodeDisplayList(buf []byte) ([]DisplayInfo, error) {
	if len(buf) < 4 {
		return nil, newErr(Protocol, "display list payload too short")
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	want := 4 + int(count)*20
	if len(buf) != want {
		return nil, newErr(Protocol, "display list payload size %d does not match count %d", len(buf), count)
	}
	displays := make([]DisplayInfo, count)
	off := 4
	for i := range displays {
		displays[i] = DisplayInfo{
			Key: binary.LittleEndian.Uint32(buf[off+0 : off+4]),
			X:   binary.LittleEndian.Uint32(buf[off+4 : off+8]),
			Y:   binary.LittleEndian.Uint32(buf[off+8 : off+12]),
			W:   binary.LittleEndian.Uint32(buf[off+12 : off+16]),
			H:   binary.LittleEndian.Uint32(buf[off+16 : off+20]),
		}
		off += 20
	}
	return displays, nil
}

func (p HostDisplayListPayload) Encode() []byte { return encodeDisplayList(p.Displays) }

func DecodeHostDisplayList(buf []byte) (HostDisplayListPayload, error) {
	d, err := decodeDisplayList(buf)
	return HostDisplayListPayload{Displays: d}, err
}

type AdvertisedDisplayListPayload struct {
	Displays []DisplayInfo
}

func (p AdvertisedDisplayListPayload) Encode() []byte { return encodeDisplayList(p.Displays) }

func DecodeAdvertisedDisplayList(buf []byte) (AdvertisedDisplayListPayload, error) {
	d, err := decodeDisplayList(buf)
	return AdvertisedDisplayListPayload{Displays: d}, err
}

// AddDisplayPayload is the body of an ADD_DISPLAY packet, sent by the
// consumer to request that the provider open the channels for one display.
type AddDisplayPayload struct {
	Key                 uint32
	EventPort           uint32
	FramebufferPort     uint32
	DirtyRectanglesPort uint32 // 0 if not offered
	CursorBitmapPort    uint32 // 0 if not offered
}

func (p AddDisplayPayload) Encode() []byte {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint32(buf[0:4], p.Key)
	binary.LittleEndian.PutUint32(buf[4:8], p.EventPort)
	binary.LittleEndian.PutUint32(buf[8:12], p.FramebufferPort)
	binary.LittleEndian.PutUint32(buf[12:16], p.DirtyRectanglesPort)
	binary.LittleEndian.PutUint32(buf[16:20], p.CursorBitmapPort)
	return buf
}

func DecodeAddDisplay(buf []byte) (AddDisplayPayload, error) {
	if len(buf) != 20 {
		return AddDisplayPayload{}, newErr(Protocol, "ADD_DISPLAY payload must be 20 bytes, got %d", len(buf))
	}
	return AddDisplayPayload{
		Key:                 binary.LittleEndian.Uint32(buf[0:4]),
		EventPort:           binary.LittleEndian.Uint32(buf[4:8]),
		FramebufferPort:     binary.LittleEndian.Uint32(buf[8:12]),
		DirtyRectanglesPort: binary.LittleEndian.Uint32(buf[12:16]),
		CursorBitmapPort:    binary.LittleEndian.Uint32(buf[16:20]),
	}, nil
}

// RemoveDisplayPayload / DisplayNoLongerAvailablePayload both carry just a key.
type RemoveDisplayPayload struct{ Key uint32 }

func (p RemoveDisplayPayload) Encode() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, p.Key)
	return buf
}

func DecodeRemoveDisplay(buf []byte) (RemoveDisplayPayload, error) {
	if len(buf) != 4 {
		return RemoveDisplayPayload{}, newErr(Protocol, "REMOVE_DISPLAY payload must be 4 bytes, got %d", len(buf))
	}
	return RemoveDisplayPayload{Key: binary.LittleEndian.Uint32(buf)}, nil
}

type DisplayNoLongerAvailablePayload struct{ Key uint32 }

func (p DisplayNoLongerAvailablePayload) Encode() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, p.Key)
	return buf
}

func DecodeDisplayNoLongerAvailable(buf []byte) (DisplayNoLongerAvailablePayload, error) {
	if len(buf) != 4 {
		return DisplayNoLongerAvailablePayload{}, newErr(Protocol, "DISPLAY_NO_LONGER_AVAILABLE payload must be 4 bytes, got %d", len(buf))
	}
	return DisplayNoLongerAvailablePayload{Key: binary.LittleEndian.Uint32(buf)}, nil
}

// TextModePayload indicates the host display is in (or leaving) legacy text
// mode. Per spec.md §9 Open Question (b) the header-level API is
// authoritative where it diverges from the dispatcher struct in the
// original source: this module treats it as a single boolean.
type TextModePayload struct {
	Key   uint32
	Force bool
}

func (p TextModePayload) Encode() []byte {
	buf := make([]byte, 5)
	binary.LittleEndian.PutUint32(buf[0:4], p.Key)
	if p.Force {
		buf[4] = 1
	}
	return buf
}

func DecodeTextMode(buf []byte) (TextModePayload, error) {
	if len(buf) != 5 {
		return TextModePayload{}, newErr(Protocol, "TEXT_MODE payload must be 5 bytes, got %d", len(buf))
	}
	return TextModePayload{
		Key:   binary.LittleEndian.Uint32(buf[0:4]),
		Force: buf[4] != 0,
	}, nil
}

// SetDisplayPayload announces a resolution/stride change on the event channel.
type SetDisplayPayload struct {
	Width  uint32
	Height uint32
	Stride uint32
}

func (p SetDisplayPayload) Encode() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], p.Width)
	binary.LittleEndian.PutUint32(buf[4:8], p.Height)
	binary.LittleEndian.PutUint32(buf[8:12], p.Stride)
	return buf
}

func DecodeSetDisplay(buf []byte) (SetDisplayPayload, error) {
	if len(buf) != 12 {
		return SetDisplayPayload{}, newErr(Protocol, "SET_DISPLAY payload must be 12 bytes, got %d", len(buf))
	}
	return SetDisplayPayload{
		Width:  binary.LittleEndian.Uint32(buf[0:4]),
		Height: binary.LittleEndian.Uint32(buf[4:8]),
		Stride: binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// UpdateCursorPayload carries hotspot and visibility state; the bitmap
// itself lives in the cursor shared-memory channel, not on the wire.
type UpdateCursorPayload struct {
	HotspotX uint32
	HotspotY uint32
	Visible  uint32 // 0 or 1
}

func (p UpdateCursorPayload) Encode() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], p.HotspotX)
	binary.LittleEndian.PutUint32(buf[4:8], p.HotspotY)
	binary.LittleEndian.PutUint32(buf[8:12], p.Visible)
	return buf
}

func DecodeUpdateCursor(buf []byte) (UpdateCursorPayload, error) {
	if len(buf) != 12 {
		return UpdateCursorPayload{}, newErr(Protocol, "UPDATE_CURSOR payload must be 12 bytes, got %d", len(buf))
	}
	return UpdateCursorPayload{
		HotspotX: binary.LittleEndian.Uint32(buf[0:4]),
		HotspotY: binary.LittleEndian.Uint32(buf[4:8]),
		Visible:  binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// MoveCursorPayload carries the new cursor position.
type MoveCursorPayload struct {
	X uint32
	Y uint32
}

func (p MoveCursorPayload) Encode() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], p.X)
	binary.LittleEndian.PutUint32(buf[4:8], p.Y)
	return buf
}

func DecodeMoveCursor(buf []byte) (MoveCursorPayload, error) {
	if len(buf) != 8 {
		return MoveCursorPayload{}, newErr(Protocol, "MOVE_CURSOR payload must be 8 bytes, got %d", len(buf))
	}
	return MoveCursorPayload{
		X: binary.LittleEndian.Uint32(buf[0:4]),
		Y: binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// BlankReason is the reason code carried by a BLANK_DISPLAY packet,
// selected by the {dpms, blank} -> reason table in spec.md §4.3.
type BlankReason uint32

const (
	BlankSleep       BlankReason = 0
	BlankWake        BlankReason = 1
	BlankFillEnable  BlankReason = 2
	BlankFillDisable BlankReason = 3
)

// BlankReasonFor implements the 2x2 table: {dpms, blank} -> reason.
func BlankReasonFor(dpms, blank bool) BlankReason {
	switch {
	case dpms && blank:
		return BlankSleep
	case dpms && !blank:
		return BlankWake
	case !dpms && blank:
		return BlankFillEnable
	default:
		return BlankFillDisable
	}
}

type BlankDisplayPayload struct {
	Reason BlankReason
}

func (p BlankDisplayPayload) Encode() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(p.Reason))
	return buf
}

func DecodeBlankDisplay(buf []byte) (BlankDisplayPayload, error) {
	if len(buf) != 4 {
		return BlankDisplayPayload{}, newErr(Protocol, "BLANK_DISPLAY payload must be 4 bytes, got %d", len(buf))
	}
	return BlankDisplayPayload{Reason: BlankReason(binary.LittleEndian.Uint32(buf))}, nil
}
