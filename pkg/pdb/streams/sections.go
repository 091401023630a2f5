package streams

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"sort"
)

// sectionHeaderSize is the on-disk size of an IMAGE_SECTION_HEADER.
const sectionHeaderSize = 40

// ReadSectionHeaders parses the section header stream named by the DBI
// optional debug header.
func ReadSectionHeaders(data []byte) ([]pe.SectionHeader32, error) {
	if len(data)%sectionHeaderSize != 0 {
		return nil, fmt.Errorf("section header stream size %d is not a multiple of %d", len(data), sectionHeaderSize)
	}
	headers := make([]pe.SectionHeader32, len(data)/sectionHeaderSize)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, headers); err != nil {
		return nil, fmt.Errorf("failed to read section headers: %w", err)
	}
	return headers, nil
}

// SectionName returns the section name without trailing NULs.
func SectionName(h *pe.SectionHeader32) string {
	return extractCString(h.Name[:])
}

// OMAPEntry maps one address range start from one layout to another.
type OMAPEntry struct {
	From uint32
	To   uint32
}

// OMAP is an address remapping table sorted by From.
// A nil OMAP is the identity mapping.
type OMAP []OMAPEntry

// ReadOMAP parses an OMAP stream.
func ReadOMAP(data []byte) (OMAP, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("OMAP stream size %d is not a multiple of 8", len(data))
	}
	omap := make(OMAP, len(data)/8)
	for i := range omap {
		omap[i] = OMAPEntry{
			From: binary.LittleEndian.Uint32(data[8*i:]),
			To:   binary.LittleEndian.Uint32(data[8*i+4:]),
		}
	}
	sort.Slice(omap, func(i, j int) bool { return omap[i].From < omap[j].From })
	return omap, nil
}

// Remap translates addr through the table. The entry with the greatest
// From not above addr applies; a To of zero means the range was discarded
// and maps to 0.
func (o OMAP) Remap(addr uint32) uint32 {
	if len(o) == 0 {
		return addr
	}
	i := sort.Search(len(o), func(i int) bool { return o[i].From > addr })
	if i == 0 {
		return 0
	}
	e := o[i-1]
	if e.To == 0 {
		return 0
	}
	return e.To + (addr - e.From)
}
