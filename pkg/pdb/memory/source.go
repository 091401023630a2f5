// Package memory defines the byte source that materialized records read
// their values from.
package memory

import (
	"errors"
	"fmt"
	"io"
)

// ErrNoSource is returned when a value is needed but no source was given.
var ErrNoSource = errors.New("no memory source available")

// Source is a seekable byte source addressed by virtual address. It may be
// a static buffer or the memory of a live process.
type Source interface {
	io.ReadWriteSeeker
	Tell() (int64, error)
}

// Error describes a failed access to a Source.
type Error struct {
	Op   string // "read" or "write"
	Addr uint64
	Size int
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("memory %s of %d bytes at %#x: %v", e.Op, e.Size, e.Addr, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ReadAt reads exactly n bytes at addr.
func ReadAt(src Source, addr uint64, n int) ([]byte, error) {
	if src == nil {
		return nil, ErrNoSource
	}
	if _, err := src.Seek(int64(addr), io.SeekStart); err != nil {
		return nil, &Error{Op: "read", Addr: addr, Size: n, Err: err}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(src, buf); err != nil {
		return nil, &Error{Op: "read", Addr: addr, Size: n, Err: err}
	}
	return buf, nil
}

// WriteAt writes p at addr.
func WriteAt(src Source, addr uint64, p []byte) error {
	if src == nil {
		return ErrNoSource
	}
	if _, err := src.Seek(int64(addr), io.SeekStart); err != nil {
		return &Error{Op: "write", Addr: addr, Size: len(p), Err: err}
	}
	n, err := src.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &Error{Op: "write", Addr: addr, Size: len(p), Err: err}
	}
	return nil
}
