package msf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// unusedStreamSize marks a deleted or unused stream in the directory.
const unusedStreamSize = 0xFFFFFFFF

// MSF represents an opened MSF (Multi-Stream Format) file.
type MSF struct {
	r          io.ReaderAt
	closer     io.Closer
	superBlock *SuperBlock
	directory  *StreamDirectory
	streams    []*Stream
}

// Open opens an MSF file and parses its structure.
func Open(path string) (*MSF, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	m, err := New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	m.closer = f
	return m, nil
}

// New parses an MSF container from any random-access byte source.
func New(r io.ReaderAt) (*MSF, error) {
	m := &MSF{r: r}

	var err error
	m.superBlock, err = ReadSuperBlock(io.NewSectionReader(r, 0, SuperBlockSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read superblock: %w", err)
	}

	if err := m.readStreamDirectory(); err != nil {
		return nil, fmt.Errorf("failed to read stream directory: %w", err)
	}

	m.buildStreams()
	return m, nil
}

// Close closes the underlying file when the MSF was opened from a path.
func (m *MSF) Close() error {
	if m.closer != nil {
		return m.closer.Close()
	}
	return nil
}

// SuperBlock returns the MSF SuperBlock.
func (m *MSF) SuperBlock() *SuperBlock {
	return m.superBlock
}

// Directory returns the parsed stream directory.
func (m *MSF) Directory() *StreamDirectory {
	return m.directory
}

// NumStreams returns the number of streams in the file.
func (m *MSF) NumStreams() int {
	return int(m.directory.NumStreams)
}

// Stream returns the stream at the given index.
func (m *MSF) Stream(index int) (*Stream, error) {
	if index < 0 || index >= len(m.streams) {
		return nil, fmt.Errorf("stream index %d out of range [0, %d)", index, len(m.streams))
	}
	return m.streams[index], nil
}

// StreamReader returns a reader for the stream at the given index.
func (m *MSF) StreamReader(index int) (*StreamReader, error) {
	s, err := m.Stream(index)
	if err != nil {
		return nil, err
	}
	return NewStreamReader(s), nil
}

// ReadBlock returns the raw contents of one block.
func (m *MSF) ReadBlock(index uint32) ([]byte, error) {
	page := make([]byte, m.superBlock.BlockSize)
	if _, err := m.readAt(page, int64(index)*int64(m.superBlock.BlockSize)); err != nil {
		return nil, err
	}
	return page, nil
}

// readAt reads data from the container at the given offset. A short read
// means a block lies past the end of the file.
func (m *MSF) readAt(p []byte, off int64) (int, error) {
	n, err := m.r.ReadAt(p, off)
	if n == len(p) {
		return n, nil
	}
	if errors.Is(err, io.EOF) || err == nil {
		return n, formatErrorf("truncated container: %d bytes at offset %d, got %d", len(p), off, n)
	}
	return n, err
}

// readStreamDirectory reads and parses the stream directory.
func (m *MSF) readStreamDirectory() error {
	blockSize := m.superBlock.BlockSize
	numDirBlocks := m.superBlock.NumDirectoryBlocks()

	// The block map lists the blocks that hold the directory itself.
	rawMap := make([]byte, 4*numDirBlocks)
	if _, err := m.readAt(rawMap, int64(m.superBlock.BlockMapAddr)*int64(blockSize)); err != nil {
		return fmt.Errorf("failed to read block map: %w", err)
	}
	blockMap := make([]uint32, numDirBlocks)
	for i := range blockMap {
		blockMap[i] = binary.LittleEndian.Uint32(rawMap[4*i:])
	}

	dir := &Stream{msf: m, size: m.superBlock.NumDirectoryBytes, blocks: blockMap}
	dirData, err := dir.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read directory blocks: %w", err)
	}

	return m.parseStreamDirectory(dirData)
}

// parseStreamDirectory parses the stream directory from raw bytes.
func (m *MSF) parseStreamDirectory(data []byte) error {
	r := bytes.NewReader(data)

	var numStreams uint32
	if err := binary.Read(r, binary.LittleEndian, &numStreams); err != nil {
		return formatErrorf("failed to read NumStreams: %v", err)
	}
	if uint64(numStreams)*4 > uint64(len(data)) {
		return formatErrorf("directory claims %d streams in %d bytes", numStreams, len(data))
	}

	streamSizes := make([]uint32, numStreams)
	if err := binary.Read(r, binary.LittleEndian, streamSizes); err != nil {
		return formatErrorf("failed to read stream sizes: %v", err)
	}

	blockSize := m.superBlock.BlockSize
	streamBlocks := make([][]uint32, numStreams)
	for i, size := range streamSizes {
		if size == unusedStreamSize {
			continue
		}
		numBlocks := PageCount(size, blockSize)
		if uint64(numBlocks)*4 > uint64(r.Len()) {
			return formatErrorf("stream %d block list exceeds directory", i)
		}
		blocks := make([]uint32, numBlocks)
		if err := binary.Read(r, binary.LittleEndian, blocks); err != nil {
			return formatErrorf("failed to read block list for stream %d: %v", i, err)
		}
		for _, b := range blocks {
			if b >= m.superBlock.NumBlocks && m.superBlock.NumBlocks != 0 {
				return formatErrorf("stream %d references block %d of %d", i, b, m.superBlock.NumBlocks)
			}
		}
		streamBlocks[i] = blocks
	}

	m.directory = &StreamDirectory{
		NumStreams:   numStreams,
		StreamSizes:  streamSizes,
		StreamBlocks: streamBlocks,
	}

	return nil
}

// buildStreams creates Stream objects for all streams in the directory.
func (m *MSF) buildStreams() {
	m.streams = make([]*Stream, m.directory.NumStreams)
	for i := range m.streams {
		size := m.directory.StreamSizes[i]
		if size == unusedStreamSize {
			m.streams[i] = &Stream{msf: m}
			continue
		}
		m.streams[i] = &Stream{
			msf:    m,
			size:   size,
			blocks: m.directory.StreamBlocks[i],
		}
	}
}

// BlockSize returns the block size used by this MSF file.
func (m *MSF) BlockSize() uint32 {
	return m.superBlock.BlockSize
}
