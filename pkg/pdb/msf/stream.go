package msf

import (
	"fmt"
	"io"
)

// Stream is one logical byte sequence of the container, stitched from
// blocks that need not be contiguous.
type Stream struct {
	msf    *MSF
	size   uint32
	blocks []uint32
}

// Size returns the declared length of the stream.
func (s *Stream) Size() uint32 {
	return s.size
}

// Blocks returns the page list of the stream.
func (s *Stream) Blocks() []uint32 {
	return s.blocks
}

// Pages returns the raw block-sized pages of the stream in order. The last
// page carries whatever follows the declared size in its block.
func (s *Stream) Pages() ([][]byte, error) {
	pages := make([][]byte, 0, len(s.blocks))
	for _, b := range s.blocks {
		page, err := s.msf.ReadBlock(b)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// ReadAt copies stream bytes starting at off into p. It stops at the
// declared size and returns io.EOF when p is not filled.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("msf: negative stream offset %d", off)
	}
	size := int64(s.size)
	bs := int64(s.msf.superBlock.BlockSize)

	n := 0
	for n < len(p) && off < size {
		page := int(off / bs)
		if page >= len(s.blocks) {
			return n, formatErrorf("stream offset %d past its block list", off)
		}
		in := off % bs
		chunk := min(int64(len(p)-n), bs-in, size-off)

		got, err := s.msf.readAt(p[n:n+int(chunk)], int64(s.blocks[page])*bs+in)
		n += got
		off += int64(got)
		if err != nil {
			return n, err
		}
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// ReadAll reads the entire stream.
func (s *Stream) ReadAll() ([]byte, error) {
	data := make([]byte, s.size)
	if _, err := s.ReadAt(data, 0); err != nil {
		return nil, err
	}
	return data, nil
}

// StreamReader is an io.ReadSeeker over a stream.
type StreamReader struct {
	stream *Stream
	offset int64
}

// NewStreamReader returns a reader positioned at the start of s.
func NewStreamReader(s *Stream) *StreamReader {
	return &StreamReader{stream: s}
}

// Read implements io.Reader.
func (sr *StreamReader) Read(p []byte) (int, error) {
	if sr.offset >= int64(sr.stream.size) {
		return 0, io.EOF
	}
	n, err := sr.stream.ReadAt(p, sr.offset)
	sr.offset += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// Seek implements io.Seeker. Offsets are clamped to the stream bounds.
func (sr *StreamReader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += sr.offset
	case io.SeekEnd:
		offset += int64(sr.stream.size)
	default:
		return sr.offset, fmt.Errorf("msf: invalid whence %d", whence)
	}
	sr.offset = max(0, min(offset, int64(sr.stream.size)))
	return sr.offset, nil
}

// StreamDirectory holds the sizes and page lists of every stream.
type StreamDirectory struct {
	NumStreams   uint32
	StreamSizes  []uint32
	StreamBlocks [][]uint32
}
