package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxPacketSize bounds the length field accepted by ReadPacket. Deserialize
// does not enforce it; size limits are the server's business.
const MaxPacketSize = 4096

// ErrMalformedPacket is returned by ReadPacket for frames whose length field
// cannot describe a valid packet.
var ErrMalformedPacket = errors.New("protocol: malformed packet")

// Serialize encodes p as a complete wire frame:
// [length:4][id:4][type:4][body][0x00][0x00].
func Serialize(p Packet) []byte {
	return newFrameBuilder(len(p.Body)).
		putInt32(p.ID).
		putInt32(p.Type).
		putCString(p.Body).
		putPad().
		frame()
}

// Deserialize decodes the first frame in buf.
//
// If buf holds less than a full frame it returns (nil, buf) with buf
// untouched, so the caller keeps every byte for the next read. Otherwise it
// returns the packet and whatever follows it; the remainder is nil when the
// frame consumed all of buf. Deserialize keeps no state between calls.
func Deserialize(buf []byte) (*Packet, []byte) {
	if len(buf) < LengthPrefixSize {
		return nil, buf
	}

	length := int32(binary.LittleEndian.Uint32(buf[0:4]))
	if length < WrapperSize || int64(length)+LengthPrefixSize > int64(len(buf)) {
		// A length below WrapperSize can never complete; treat it like a
		// partial frame and let the caller decide what to do with the bytes.
		return nil, buf
	}

	end := LengthPrefixSize + int(length)
	p := &Packet{
		ID:   int32(binary.LittleEndian.Uint32(buf[4:8])),
		Type: int32(binary.LittleEndian.Uint32(buf[8:12])),
		Body: string(buf[12 : end-2]),
	}

	if end == len(buf) {
		return p, nil
	}

	remainder := make([]byte, len(buf)-end)
	copy(remainder, buf[end:])
	return p, remainder
}

// Corrupt reports whether buf starts with a length field that no frame can
// carry. Such a stream cannot be resynchronised.
func Corrupt(buf []byte) bool {
	if len(buf) < LengthPrefixSize {
		return false
	}
	return int32(binary.LittleEndian.Uint32(buf[0:4])) < WrapperSize
}

// ReadPacket reads exactly one frame from r.
func ReadPacket(r io.Reader) (*Packet, error) {
	var header [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("failed to read packet length: %w", err)
	}

	length := int32(binary.LittleEndian.Uint32(header[:]))
	if length < WrapperSize {
		return nil, fmt.Errorf("%w: length %d below minimum %d", ErrMalformedPacket, length, WrapperSize)
	}
	if length > MaxPacketSize {
		return nil, fmt.Errorf("%w: length %d exceeds maximum %d", ErrMalformedPacket, length, MaxPacketSize)
	}

	frame := make([]byte, LengthPrefixSize+int(length))
	copy(frame, header[:])
	if _, err := io.ReadFull(r, frame[LengthPrefixSize:]); err != nil {
		return nil, fmt.Errorf("failed to read packet payload (%d bytes): %w", length, err)
	}

	if frame[len(frame)-2] != 0 || frame[len(frame)-1] != 0 {
		return nil, fmt.Errorf("%w: missing null terminators", ErrMalformedPacket)
	}

	p, _ := Deserialize(frame)
	return p, nil
}

// WritePacket writes p to w as a single frame.
func WritePacket(w io.Writer, p Packet) error {
	if _, err := w.Write(Serialize(p)); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	return nil
}
