package network

import (
	"encoding/binary"

	"github.com/rotisserie/eris"
)

// Wire envelope, little endian:
//
//	[0:2] magic   0x5254 ("RT")
//	[2]   version
//	[3]   kind
//	[4:8] payload length
//	[8:]  payload (UTF-8 text, usually JSON)
const (
	EnvelopeMagic   uint16 = 0x5254
	EnvelopeVersion uint8  = 1
	KindText        uint8  = 1

	HeaderSize = 8
	// MaxDatagram is the largest UDP payload over IPv4.
	MaxDatagram = 65507
	MaxPayload  = MaxDatagram - HeaderSize
)

// Encode wraps payload in an envelope.
func Encode(payload string) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, eris.Wrapf(ErrPayloadTooLarge, "%d bytes", len(payload))
	}
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], EnvelopeMagic)
	buf[2] = EnvelopeVersion
	buf[3] = KindText
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Decode unwraps an envelope. Truncated, oversized or foreign buffers yield
// ok == false; Decode never panics on any input.
func Decode(buf []byte) (payload string, ok bool) {
	if len(buf) < HeaderSize {
		return "", false
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != EnvelopeMagic {
		return "", false
	}
	if buf[2] != EnvelopeVersion || buf[3] != KindText {
		return "", false
	}
	n := binary.LittleEndian.Uint32(buf[4:8])
	if n > MaxPayload || int(n) != len(buf)-HeaderSize {
		return "", false
	}
	return string(buf[HeaderSize:]), true
}
