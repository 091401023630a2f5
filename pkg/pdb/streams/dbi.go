package streams

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// DBI Stream versions
const (
	DBIStreamVersionVC41 = 930803
	DBIStreamVersionV50  = 19960307
	DBIStreamVersionV60  = 19970606
	DBIStreamVersionV70  = 19990903
	DBIStreamVersionV110 = 20091201
)

// Machine types
const (
	MachineUnknown = 0x0000
	MachineI386    = 0x014c
	MachineIA64    = 0x0200
	MachineAMD64   = 0x8664
	MachineARM     = 0x01c0
	MachineARMNT   = 0x01c4
	MachineARM64   = 0xAA64
)

// DBIHeaderSize is the on-disk size of DBIHeader.
const DBIHeaderSize = 64

// NoStream marks an absent stream index in DBI fields.
const NoStream = 0xFFFF

// DBIHeader is the fixed header of the DBI stream (64 bytes).
type DBIHeader struct {
	VersionSignature        int32  // Always -1
	VersionHeader           uint32 // DBI version
	Age                     uint32 // PDB age
	GlobalStreamIndex       uint16 // Global symbols stream index
	BuildNumber             uint16 // Toolchain version
	PublicStreamIndex       uint16 // Public symbols stream index
	PdbDllVersion           uint16
	SymRecordStream         uint16 // Symbol record stream index
	PdbDllRbld              uint16
	ModInfoSize             int32
	SectionContributionSize int32
	SectionMapSize          int32
	SourceInfoSize          int32
	TypeServerMapSize       int32
	MFCTypeServerIndex      uint32
	OptionalDbgHeaderSize   int32
	ECSubstreamSize         int32
	Flags                   uint16
	Machine                 uint16 // CPU type
	Padding                 uint32
}

// Optional debug header slots. Each slot holds a stream index or NoStream.
const (
	DbgFPO = iota
	DbgException
	DbgFixup
	DbgOmapToSrc
	DbgOmapFromSrc
	DbgSectionHdr
	DbgTokenRidMap
	DbgXdata
	DbgPdata
	DbgNewFPO
	DbgSectionHdrOrig
)

// DBIStream represents the parsed DBI stream.
type DBIStream struct {
	Header          DBIHeader
	Modules         []ModuleInfo
	SectionContribs []SectionContrib
	DebugStreams    []uint16 // optional debug header, indexed by Dbg* slots
}

// ModuleInfo contains information about a compiled module.
type ModuleInfo struct {
	SectionContrib  SectionContrib
	Flags           uint16
	ModuleSymStream uint16 // Stream containing module symbols (NoStream if none)
	SymByteSize     uint32
	SourceFileCount uint16
	ModuleName      string
	ObjFileName     string
}

// SectionContrib describes a section contribution from a module.
type SectionContrib struct {
	Section         uint16
	Padding1        uint16
	Offset          int32
	Size            int32
	Characteristics uint32
	ModuleIndex     uint16
	Padding2        uint16
	DataCrc         uint32
	RelocCrc        uint32
}

// sectionContribSize is the on-disk size of SectionContrib.
const sectionContribSize = 28

// moduleInfoFixedSize is the size of a module info record before its names.
const moduleInfoFixedSize = 64

// ReadDBIStream parses the DBI stream.
func ReadDBIStream(data []byte) (*DBIStream, error) {
	if len(data) < DBIHeaderSize {
		return nil, fmt.Errorf("DBI stream too small: %d bytes", len(data))
	}

	var header DBIHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read DBI header: %w", err)
	}
	if header.VersionSignature != -1 {
		return nil, fmt.Errorf("invalid DBI version signature: %d", header.VersionSignature)
	}

	dbi := &DBIStream{Header: header}

	// Substreams follow the header in this fixed order.
	sizes := []int32{
		header.ModInfoSize,
		header.SectionContributionSize,
		header.SectionMapSize,
		header.SourceInfoSize,
		header.TypeServerMapSize,
		header.ECSubstreamSize,
		header.OptionalDbgHeaderSize,
	}
	subs := make([][]byte, len(sizes))
	offset := DBIHeaderSize
	for i, size := range sizes {
		if size < 0 || offset+int(size) > len(data) {
			return nil, fmt.Errorf("DBI substream %d: size %d at offset %d exceeds stream", i, size, offset)
		}
		subs[i] = data[offset : offset+int(size)]
		offset += int(size)
	}

	dbi.Modules = parseModuleInfo(subs[0])
	dbi.SectionContribs = parseSectionContribs(subs[1])

	dbg := subs[6]
	dbi.DebugStreams = make([]uint16, len(dbg)/2)
	for i := range dbi.DebugStreams {
		dbi.DebugStreams[i] = binary.LittleEndian.Uint16(dbg[2*i:])
	}

	return dbi, nil
}

// DebugStream returns the stream index in the given optional debug header
// slot, or false when the slot is absent or empty.
func (d *DBIStream) DebugStream(slot int) (int, bool) {
	if slot < 0 || slot >= len(d.DebugStreams) || d.DebugStreams[slot] == NoStream {
		return 0, false
	}
	return int(d.DebugStreams[slot]), true
}

// PointerSize returns the pointer width implied by the machine type.
func (d *DBIStream) PointerSize() int {
	switch d.Header.Machine {
	case MachineAMD64, MachineARM64, MachineIA64:
		return 8
	default:
		return 4
	}
}

// parseModuleInfo parses the module info substream. Parsing stops at the
// first record that does not fit.
func parseModuleInfo(data []byte) []ModuleInfo {
	var modules []ModuleInfo
	offset := 0

	for offset+moduleInfoFixedSize <= len(data) {
		rec := data[offset:]
		var mod ModuleInfo
		mod.SectionContrib = decodeSectionContrib(rec[4:])
		mod.Flags = binary.LittleEndian.Uint16(rec[32:])
		mod.ModuleSymStream = binary.LittleEndian.Uint16(rec[34:])
		mod.SymByteSize = binary.LittleEndian.Uint32(rec[36:])
		mod.SourceFileCount = binary.LittleEndian.Uint16(rec[48:])
		offset += moduleInfoFixedSize

		name, n, ok := cstring(data[offset:])
		if !ok {
			break
		}
		mod.ModuleName = name
		offset += n

		obj, n, ok := cstring(data[offset:])
		if !ok {
			break
		}
		mod.ObjFileName = obj
		offset += n

		offset = (offset + 3) &^ 3
		modules = append(modules, mod)
	}

	return modules
}

// parseSectionContribs parses the section contribution substream.
func parseSectionContribs(data []byte) []SectionContrib {
	if len(data) < 4 {
		return nil
	}

	version := binary.LittleEndian.Uint32(data)
	entrySize := sectionContribSize
	if version == 0xeffe0000+20140516 {
		entrySize += 4 // V2 appends the COFF section index
	}

	var contribs []SectionContrib
	for off := 4; off+entrySize <= len(data); off += entrySize {
		contribs = append(contribs, decodeSectionContrib(data[off:]))
	}
	return contribs
}

func decodeSectionContrib(b []byte) SectionContrib {
	return SectionContrib{
		Section:         binary.LittleEndian.Uint16(b[0:]),
		Padding1:        binary.LittleEndian.Uint16(b[2:]),
		Offset:          int32(binary.LittleEndian.Uint32(b[4:])),
		Size:            int32(binary.LittleEndian.Uint32(b[8:])),
		Characteristics: binary.LittleEndian.Uint32(b[12:]),
		ModuleIndex:     binary.LittleEndian.Uint16(b[16:]),
		Padding2:        binary.LittleEndian.Uint16(b[18:]),
		DataCrc:         binary.LittleEndian.Uint32(b[20:]),
		RelocCrc:        binary.LittleEndian.Uint32(b[24:]),
	}
}

// cstring reads a null-terminated string and reports the bytes consumed.
func cstring(b []byte) (string, int, bool) {
	idx := bytes.IndexByte(b, 0)
	if idx == -1 {
		return "", 0, false
	}
	return string(b[:idx]), idx + 1, true
}

// MachineTypeName returns the human-readable name for a machine type.
func MachineTypeName(machine uint16) string {
	switch machine {
	case MachineI386:
		return "x86"
	case MachineAMD64:
		return "x64"
	case MachineARM, MachineARMNT:
		return "ARM"
	case MachineARM64:
		return "ARM64"
	case MachineIA64:
		return "IA64"
	default:
		return fmt.Sprintf("0x%04x", machine)
	}
}

// HasSymbols returns true if the module has symbol information.
func (m *ModuleInfo) HasSymbols() bool {
	return m.ModuleSymStream != NoStream && m.SymByteSize > 0
}
