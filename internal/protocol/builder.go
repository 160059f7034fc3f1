package protocol

import "encoding/binary"

// frameBuilder accumulates the payload of one frame and prepends the length
// when finished. The payload size is known up front so it allocates once.
type frameBuilder struct {
	buf []byte
}

func newFrameBuilder(bodyLen int) *frameBuilder {
	return &frameBuilder{buf: make([]byte, LengthPrefixSize, LengthPrefixSize+WrapperSize+bodyLen)}
}

func (b *frameBuilder) putInt32(v int32) *frameBuilder {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, uint32(v))
	return b
}

// putCString appends s followed by its NUL terminator.
func (b *frameBuilder) putCString(s string) *frameBuilder {
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, 0)
	return b
}

func (b *frameBuilder) putPad() *frameBuilder {
	b.buf = append(b.buf, 0)
	return b
}

// frame patches the length prefix and returns the finished bytes.
func (b *frameBuilder) frame() []byte {
	binary.LittleEndian.PutUint32(b.buf[:LengthPrefixSize], uint32(len(b.buf)-LengthPrefixSize))
	return b.buf
}
