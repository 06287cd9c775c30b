package serial

import (
	"bytes"
	"fmt"
)

// afproto frame layout:
//
//	START | LEN | PAYLOAD... | CRC8 | END
//
// Every byte between START and END that collides with START, END or ESC is
// sent as ESC followed by the byte XOR 0x20. LEN counts unescaped payload
// bytes; CRC8 (poly 0x07) covers the unescaped payload.
const (
	AfprotoStart = 0xA3
	AfprotoEnd   = 0x59
	AfprotoEsc   = 0x85

	afprotoEscXor = 0x20

	// START + LEN + one payload byte + CRC8 + END
	AfprotoMinFrameSize = 5
	// START + END, with LEN, 255 payload bytes and CRC8 all escaped
	AfprotoMaxFrameSize = 2 + 2*(1+0xFF+1)
)

// ParseAfproto extracts the first afproto frame from buf.
func ParseAfproto(buf []byte) ([]byte, []byte, error) {
	i := bytes.IndexByte(buf, AfprotoStart)
	if i < 0 {
		return nil, nil, nil
	}
	buf = buf[i:]

	j := bytes.IndexByte(buf[1:], AfprotoEnd)
	if j < 0 {
		return nil, buf, nil
	}
	end := j + 1
	body := buf[1:end]

	// An unescaped START inside the body means the frame before it was cut
	// short.
	if bytes.IndexByte(body, AfprotoStart) >= 0 {
		return nil, buf, fmt.Errorf("%w: start byte inside frame body", ErrCorruptFrame)
	}

	raw, err := afprotoUnescape(body)
	if err != nil {
		return nil, buf, err
	}
	if len(raw) < 3 {
		return nil, buf, fmt.Errorf("%w: %d byte body is too short", ErrCorruptFrame, len(raw))
	}
	n := int(raw[0])
	if len(raw) != n+2 {
		return nil, buf, fmt.Errorf("%w: length byte %d, body carries %d", ErrCorruptFrame, n, len(raw)-2)
	}
	payload := raw[1 : n+1]
	if sum := crc8(payload); sum != raw[n+1] {
		return nil, buf, fmt.Errorf("%w: crc 0x%02X, want 0x%02X", ErrCorruptFrame, raw[n+1], sum)
	}
	return payload, buf[end+1:], nil
}

func afprotoUnescape(body []byte) ([]byte, error) {
	out := make([]byte, 0, len(body))
	for k := 0; k < len(body); k++ {
		b := body[k]
		if b != AfprotoEsc {
			out = append(out, b)
			continue
		}
		k++
		if k == len(body) {
			return nil, fmt.Errorf("%w: dangling escape", ErrCorruptFrame)
		}
		out = append(out, body[k]^afprotoEscXor)
	}
	return out, nil
}

// EncodeAfproto frames payload for the wire. Payloads longer than 255
// bytes cannot be described by the length byte.
func EncodeAfproto(payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > 0xFF {
		return nil, fmt.Errorf("afproto payload length %d out of range 1..255", len(payload))
	}
	out := make([]byte, 0, len(payload)*2+4)
	out = append(out, AfprotoStart)
	appendEscaped := func(b byte) {
		if b == AfprotoStart || b == AfprotoEnd || b == AfprotoEsc {
			out = append(out, AfprotoEsc, b^afprotoEscXor)
			return
		}
		out = append(out, b)
	}
	appendEscaped(byte(len(payload)))
	for _, b := range payload {
		appendEscaped(b)
	}
	appendEscaped(crc8(payload))
	return append(out, AfprotoEnd), nil
}

// crc8 computes CRC-8 with polynomial 0x07, initial value 0.
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
