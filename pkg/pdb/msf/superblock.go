// Package msf implements parsing for Microsoft's Multi-Stream Format (MSF) container.
package msf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MSF 7.00 magic signature
var MSFMagic = []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")

// ErrFormat reports a container that is not a valid MSF 7.00 file.
// Loading cannot continue once it is returned.
var ErrFormat = errors.New("invalid msf container")

func formatErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrFormat}, args...)...)
}

// SuperBlock is the header structure at the beginning of an MSF file.
// The field order and widths match the on-disk layout exactly.
type SuperBlock struct {
	Magic             [32]byte // Must be MSFMagic
	BlockSize         uint32   // Block size in bytes (512, 1024, 2048, or 4096)
	FreeBlockMapBlock uint32   // Index of active FPM block (1 or 2)
	NumBlocks         uint32   // Total number of blocks in file
	NumDirectoryBytes uint32   // Size of stream directory in bytes
	Unknown           uint32
	BlockMapAddr      uint32 // Block index holding the directory block map
}

// SuperBlockSize is the size of the SuperBlock structure in bytes.
const SuperBlockSize = 56

// ValidBlockSizes are the allowed block sizes for MSF files.
var ValidBlockSizes = []uint32{512, 1024, 2048, 4096}

// ReadSuperBlock reads and validates the SuperBlock from the beginning of an MSF file.
func ReadSuperBlock(r io.Reader) (*SuperBlock, error) {
	var sb SuperBlock

	if _, err := io.ReadFull(r, sb.Magic[:]); err != nil {
		return nil, formatErrorf("failed to read magic: %v", err)
	}
	if !bytes.Equal(sb.Magic[:], MSFMagic) {
		return nil, formatErrorf("bad signature %q", sb.Magic[:])
	}

	// The remaining six fields are consecutive little-endian uint32s.
	var fields [6]uint32
	if err := binary.Read(r, binary.LittleEndian, &fields); err != nil {
		return nil, formatErrorf("truncated superblock: %v", err)
	}
	sb.BlockSize = fields[0]
	sb.FreeBlockMapBlock = fields[1]
	sb.NumBlocks = fields[2]
	sb.NumDirectoryBytes = fields[3]
	sb.Unknown = fields[4]
	sb.BlockMapAddr = fields[5]

	if !isValidBlockSize(sb.BlockSize) {
		return nil, formatErrorf("invalid block size: %d", sb.BlockSize)
	}
	if sb.FreeBlockMapBlock != 1 && sb.FreeBlockMapBlock != 2 {
		return nil, formatErrorf("invalid FreeBlockMapBlock: %d (must be 1 or 2)", sb.FreeBlockMapBlock)
	}

	return &sb, nil
}

// MarshalBinary encodes the superblock in its on-disk layout.
func (sb *SuperBlock) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(SuperBlockSize)
	if err := binary.Write(&buf, binary.LittleEndian, sb); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// NumDirectoryBlocks returns the number of blocks needed to store the stream directory.
func (sb *SuperBlock) NumDirectoryBlocks() uint32 {
	return PageCount(sb.NumDirectoryBytes, sb.BlockSize)
}

// FileSize returns the expected file size based on block count.
func (sb *SuperBlock) FileSize() int64 {
	return int64(sb.NumBlocks) * int64(sb.BlockSize)
}

// PageCount returns how many blockSize pages hold n bytes.
func PageCount(n, blockSize uint32) uint32 {
	if blockSize == 0 {
		return 0
	}
	return (n + blockSize - 1) / blockSize
}

func isValidBlockSize(size uint32) bool {
	for _, valid := range ValidBlockSizes {
		if size == valid {
			return true
		}
	}
	return false
}
