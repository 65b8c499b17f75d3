package pkt

import "encoding/binary"

// Encode allocates a packet buffer of size HeaderSize+len(payload)+FooterSize,
// lays down the header (magics, t, len(payload), reserved=0), copies the
// payload, computes the CRC over header||payload, and writes the footer.
func Encode(t Type, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, newErr(Protocol, "payload of %d bytes exceeds max %d", len(payload), MaxPayloadSize)
	}
	buf := make([]byte, HeaderSize+len(payload)+FooterSize)
	putHeader(buf, Header{Magic1: magic1, Magic2: magic2, Type: t, Length: uint32(len(payload))})
	copy(buf[HeaderSize:], payload)

	crc := Checksum(buf[:HeaderSize+len(payload)])
	putFooter(buf[HeaderSize+len(payload):], Footer{CRC: crc})
	return buf, nil
}

// Decode parses a complete packet buffer (as produced by Encode) back into
// its header, payload, and footer, validating magics, the length bound,
// and the CRC. Any violation is returned as a Protocol error.
func Decode(buf []byte) (Header, []byte, Footer, error) {
	if len(buf) < HeaderSize+FooterSize {
		return Header{}, nil, Footer{}, newErr(Protocol, "packet too short: %d bytes", len(buf))
	}
	h := parseHeader(buf)
	if h.Magic1 != magic1 || h.Magic2 != magic2 {
		return Header{}, nil, Footer{}, newErr(Protocol, "bad magic %04x/%04x", h.Magic1, h.Magic2)
	}
	if h.Length > MaxPayloadSize {
		return Header{}, nil, Footer{}, newErr(Protocol, "length %d exceeds max payload %d", h.Length, MaxPayloadSize)
	}
	want := HeaderSize + int(h.Length) + FooterSize
	if len(buf) != want {
		return Header{}, nil, Footer{}, newErr(Protocol, "packet size %d does not match header length %d", len(buf), h.Length)
	}
	payload := buf[HeaderSize : HeaderSize+int(h.Length)]
	f := parseFooter(buf[HeaderSize+int(h.Length):])

	got := Checksum(buf[:HeaderSize+int(h.Length)])
	if got != f.CRC {
		return Header{}, nil, Footer{}, newErr(Protocol, "CRC mismatch: got %04x want %04x", got, f.CRC)
	}
	return h, payload, f, nil
}

// ParseHeader decodes and validates a standalone HeaderSize-byte buffer,
// for receivers that read the header before the rest of the packet is
// available. It checks magics and the payload length bound but not the
// CRC, which requires the payload and footer as well.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, newErr(Protocol, "header must be %d bytes, got %d", HeaderSize, len(buf))
	}
	h := parseHeader(buf)
	if h.Magic1 != magic1 || h.Magic2 != magic2 {
		return Header{}, newErr(Protocol, "bad magic %04x/%04x", h.Magic1, h.Magic2)
	}
	if h.Length > MaxPayloadSize {
		return Header{}, newErr(Protocol, "length %d exceeds max payload %d", h.Length, MaxPayloadSize)
	}
	return h, nil
}

func putHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint16(buf[0:2], h.Magic1)
	binary.LittleEndian.PutUint16(buf[2:4], h.Magic2)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Type))
	binary.LittleEndian.PutUint32(buf[8:12], h.Length)
	binary.LittleEndian.PutUint32(buf[12:16], h.Reserved)
}

func parseHeader(buf []byte) Header {
	return Header{
		Magic1:   binary.LittleEndian.Uint16(buf[0:2]),
		Magic2:   binary.LittleEndian.Uint16(buf[2:4]),
		Type:     Type(binary.LittleEndian.Uint32(buf[4:8])),
		Length:   binary.LittleEndian.Uint32(buf[8:12]),
		Reserved: binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// ParseFooter decodes a standalone FooterSize-byte buffer.
func ParseFooter(buf []byte) (Footer, error) {
	if len(buf) != FooterSize {
		return Footer{}, newErr(Protocol, "footer must be %d bytes, got %d", FooterSize, len(buf))
	}
	return parseFooter(buf), nil
}

func putFooter(buf []byte, f Footer) {
	binary.LittleEndian.PutUint16(buf[0:2], f.CRC)
	binary.LittleEndian.PutUint16(buf[2:4], f.Reserved16)
	binary.LittleEndian.PutUint32(buf[4:8], f.Reserved32)
}

func parseFooter(buf []byte) Footer {
	return Footer{
		CRC:        binary.LittleEndian.Uint16(buf[0:2]),
		Reserved16: binary.LittleEndian.Uint16(buf[2:4]),
		Reserved32: binary.LittleEndian.Uint32(buf[4:8]),
	}
}

// EncodeDirtyRect encodes one raw 16-byte dirty-rectangle record. There is
// no header or footer on this wire — the channel carries nothing but these
// records back to back.
func EncodeDirtyRect(r DirtyRect) []byte {
	buf := make([]byte, DirtyRectSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.X)
	binary.LittleEndian.PutUint32(buf[4:8], r.Y)
	binary.LittleEndian.PutUint32(buf[8:12], r.W)
	binary.LittleEndian.PutUint32(buf[12:16], r.H)
	return buf
}

// DecodeDirtyRect parses one raw 16-byte dirty-rectangle record.
func DecodeDirtyRect(buf []byte) (DirtyRect, error) {
	if len(buf) != DirtyRectSize {
		return DirtyRect{}, newErr(Protocol, "dirty rect record must be %d bytes, got %d", DirtyRectSize, len(buf))
	}
	return DirtyRect{
		X: binary.LittleEndian.Uint32(buf[0:4]),
		Y: binary.LittleEndian.Uint32(buf[4:8]),
		W: binary.LittleEndian.Uint32(buf[8:12]),
		H: binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}
