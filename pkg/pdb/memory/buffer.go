package memory

import (
	"errors"
	"fmt"
	"io"
)

// ErrOutOfRange is returned for accesses outside a Buffer.
var ErrOutOfRange = errors.New("address out of range")

// Buffer is a fixed-size Source over a byte slice whose first byte lives at
// address Base. Writes change the slice in place and never grow it. A nil
// *Buffer fails every access with ErrNoSource.
type Buffer struct {
	data []byte
	base int64
	pos  int64
}

// NewBuffer returns a Buffer over data mapped at base.
func NewBuffer(data []byte, base uint64) *Buffer {
	return &Buffer{data: data, base: int64(base), pos: int64(base)}
}

// Bytes returns the underlying slice.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

func (b *Buffer) Read(p []byte) (int, error) {
	if b == nil {
		return 0, ErrNoSource
	}
	off := b.pos - b.base
	if off < 0 || off > int64(len(b.data)) {
		return 0, fmt.Errorf("%w: %#x", ErrOutOfRange, b.pos)
	}
	if off == int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	b.pos += int64(n)
	return n, nil
}

func (b *Buffer) Write(p []byte) (int, error) {
	if b == nil {
		return 0, ErrNoSource
	}
	off := b.pos - b.base
	if off < 0 || off+int64(len(p)) > int64(len(b.data)) {
		return 0, fmt.Errorf("%w: %#x+%d", ErrOutOfRange, b.pos, len(p))
	}
	n := copy(b.data[off:], p)
	b.pos += int64(n)
	return n, nil
}

func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	if b == nil {
		return 0, ErrNoSource
	}
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = b.pos + offset
	case io.SeekEnd:
		pos = b.base + int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("negative position %d", pos)
	}
	b.pos = pos
	return pos, nil
}

// Tell returns the current position.
func (b *Buffer) Tell() (int64, error) {
	if b == nil {
		return 0, ErrNoSource
	}
	return b.pos, nil
}

// Pattern is a Source of unbounded size. Every read returns Value encoded
// little-endian over the requested length, wherever it starts. Writes are
// accepted and discarded. It stands in for a process when only addresses
// matter.
type Pattern struct {
	Value uint64
	pos   int64
}

func (p *Pattern) Read(buf []byte) (int, error) {
	for i := range buf {
		buf[i] = 0
		if i < 8 {
			buf[i] = byte(p.Value >> (8 * i))
		}
	}
	p.pos += int64(len(buf))
	return len(buf), nil
}

func (p *Pattern) Write(buf []byte) (int, error) {
	p.pos += int64(len(buf))
	return len(buf), nil
}

func (p *Pattern) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		p.pos = offset
	case io.SeekCurrent:
		p.pos += offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	return p.pos, nil
}

func (p *Pattern) Tell() (int64, error) { return p.pos, nil }
