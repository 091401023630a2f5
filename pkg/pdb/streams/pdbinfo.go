// Package streams provides parsers for the various PDB streams.
package streams

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// PDB Stream versions
const (
	PDBStreamVersionVC2     = 19941610
	PDBStreamVersionVC4     = 19950623
	PDBStreamVersionVC41    = 19950814
	PDBStreamVersionVC50    = 19960307
	PDBStreamVersionVC98    = 19970604
	PDBStreamVersionVC70Dep = 19990604
	PDBStreamVersionVC70    = 20000404
	PDBStreamVersionVC80    = 20030901
	PDBStreamVersionVC110   = 20091201
	PDBStreamVersionVC140   = 20140508
)

// PDBInfo represents the PDB Info Stream (Stream 1).
type PDBInfo struct {
	Version      uint32
	Signature    uint32 // Timestamp of PDB creation
	Age          uint32 // Number of times PDB has been written
	GUID         uuid.UUID
	NamedStreams map[string]uint32
}

// PDBInfoHeader is the fixed header at the start of the PDB info stream.
type PDBInfoHeader struct {
	Version   uint32
	Signature uint32
	Age       uint32
	GUID      [16]byte // Windows GUID layout: Data1..Data3 little-endian
}

// ReadPDBInfo parses the PDB info stream.
func ReadPDBInfo(r io.Reader) (*PDBInfo, error) {
	var header PDBInfoHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read PDB info header: %w", err)
	}

	info := &PDBInfo{
		Version:      header.Version,
		Signature:    header.Signature,
		Age:          header.Age,
		GUID:         guidToUUID(header.GUID),
		NamedStreams: make(map[string]uint32),
	}

	// Older PDBs stop after the header; a partial name map is not an error.
	readNamedStreams(r, info.NamedStreams)
	return info, nil
}

// readNamedStreams decodes the serialized string-to-stream hash table:
// string buffer, size, capacity, present and deleted bit vectors, then one
// (key offset, stream index) pair per present bucket.
func readNamedStreams(r io.Reader, out map[string]uint32) {
	var strBufSize uint32
	if err := binary.Read(r, binary.LittleEndian, &strBufSize); err != nil {
		return
	}
	strBuf := make([]byte, strBufSize)
	if _, err := io.ReadFull(r, strBuf); err != nil {
		return
	}

	var sizes [2]uint32 // size, capacity
	if err := binary.Read(r, binary.LittleEndian, &sizes); err != nil {
		return
	}
	present, ok := readBitVector(r)
	if !ok {
		return
	}
	if _, ok := readBitVector(r); !ok {
		return
	}

	for i := uint32(0); i < sizes[1]; i++ {
		if !isBitSet(present, i) {
			continue
		}
		var pair [2]uint32
		if err := binary.Read(r, binary.LittleEndian, &pair); err != nil {
			return
		}
		if pair[0] < strBufSize {
			out[extractCString(strBuf[pair[0]:])] = pair[1]
		}
	}
}

func readBitVector(r io.Reader) ([]uint32, bool) {
	var words uint32
	if err := binary.Read(r, binary.LittleEndian, &words); err != nil {
		return nil, false
	}
	if words > 1<<16 {
		return nil, false
	}
	vec := make([]uint32, words)
	if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
		return nil, false
	}
	return vec, true
}

// guidToUUID reorders the little-endian GUID fields into RFC 4122 byte order.
func guidToUUID(g [16]byte) uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:], binary.LittleEndian.Uint32(g[0:]))
	binary.BigEndian.PutUint16(u[4:], binary.LittleEndian.Uint16(g[4:]))
	binary.BigEndian.PutUint16(u[6:], binary.LittleEndian.Uint16(g[6:]))
	copy(u[8:], g[8:])
	return u
}

// GUIDString returns the GUID in the symbol-server form (upper-case hex, no dashes).
func (p *PDBInfo) GUIDString() string {
	return strings.ToUpper(strings.ReplaceAll(p.GUID.String(), "-", ""))
}

// isBitSet checks if bit n is set in the bit vector.
func isBitSet(words []uint32, n uint32) bool {
	wordIdx := n / 32
	bitIdx := n % 32
	if wordIdx >= uint32(len(words)) {
		return false
	}
	return (words[wordIdx] & (1 << bitIdx)) != 0
}

// extractCString extracts a null-terminated string from bytes.
func extractCString(data []byte) string {
	idx := bytes.IndexByte(data, 0)
	if idx == -1 {
		return string(data)
	}
	return string(data[:idx])
}
