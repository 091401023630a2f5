package codeview

import (
	"encoding/binary"
	"fmt"
)

// SymbolKind is the S_* discriminant of a symbol record.
type SymbolKind uint16

// Symbol kinds found in the global symbol record stream.
const (
	S_END        SymbolKind = 0x0006
	S_CONSTANT   SymbolKind = 0x1107
	S_UDT        SymbolKind = 0x1108
	S_LDATA32    SymbolKind = 0x110c
	S_GDATA32    SymbolKind = 0x110d
	S_PUB32      SymbolKind = 0x110e
	S_LPROC32    SymbolKind = 0x110f
	S_GPROC32    SymbolKind = 0x1110
	S_LTHREAD32  SymbolKind = 0x1112
	S_GTHREAD32  SymbolKind = 0x1113
	S_LMANDATA   SymbolKind = 0x111c
	S_GMANDATA   SymbolKind = 0x111d
	S_PROCREF    SymbolKind = 0x1125
	S_DATAREF    SymbolKind = 0x1126
	S_LPROCREF   SymbolKind = 0x1127
	S_GPROC32_ID SymbolKind = 0x1147
	S_LPROC32_ID SymbolKind = 0x1146

	// Pre-7.0 records with length-prefixed names.
	S_CONSTANT_ST SymbolKind = 0x1002
	S_UDT_ST      SymbolKind = 0x1003
	S_LDATA32_ST  SymbolKind = 0x1007
	S_GDATA32_ST  SymbolKind = 0x1008
)

// String returns the S_* name of the kind.
func (k SymbolKind) String() string {
	switch k {
	case S_END:
		return "S_END"
	case S_CONSTANT:
		return "S_CONSTANT"
	case S_UDT:
		return "S_UDT"
	case S_LDATA32:
		return "S_LDATA32"
	case S_GDATA32:
		return "S_GDATA32"
	case S_PUB32:
		return "S_PUB32"
	case S_LPROC32:
		return "S_LPROC32"
	case S_GPROC32:
		return "S_GPROC32"
	case S_LTHREAD32:
		return "S_LTHREAD32"
	case S_GTHREAD32:
		return "S_GTHREAD32"
	case S_LMANDATA:
		return "S_LMANDATA"
	case S_GMANDATA:
		return "S_GMANDATA"
	case S_PROCREF:
		return "S_PROCREF"
	case S_DATAREF:
		return "S_DATAREF"
	case S_LPROCREF:
		return "S_LPROCREF"
	default:
		return fmt.Sprintf("S_0x%04x", uint16(k))
	}
}

// SymbolRecord represents an undecoded CodeView symbol record.
type SymbolRecord struct {
	Kind SymbolKind
	Data []byte
}

// DataSym represents a data/variable symbol (S_GDATA32, S_LDATA32, etc.)
type DataSym struct {
	TypeIndex TypeIndex
	Offset    uint32 // Section-relative offset
	Segment   uint16 // 1-based section index
	Name      string
}

// UDTSym represents a user-defined type symbol (S_UDT), i.e. a typedef.
type UDTSym struct {
	TypeIndex TypeIndex
	Name      string
}

// ConstantSym represents a constant symbol (S_CONSTANT).
type ConstantSym struct {
	TypeIndex TypeIndex
	Value     Numeric
	Name      string
}

// ParseSymbols splits raw symbol data into records. A trailing partial
// record is ignored.
func ParseSymbols(data []byte) []SymbolRecord {
	var symbols []SymbolRecord
	offset := 0

	// Module streams start with the C13 signature; the global record stream
	// does not.
	if len(data) >= 4 && binary.LittleEndian.Uint32(data) == 4 {
		offset = 4
	}

	for offset+4 <= len(data) {
		recLen := int(binary.LittleEndian.Uint16(data[offset:]))
		offset += 2
		if recLen < 2 || offset+recLen > len(data) {
			break
		}

		symbols = append(symbols, SymbolRecord{
			Kind: SymbolKind(binary.LittleEndian.Uint16(data[offset:])),
			Data: data[offset+2 : offset+recLen],
		})
		offset += recLen
	}

	return symbols
}

// ParseDataSym parses a data symbol record (S_GDATA32, S_LDATA32).
func ParseDataSym(data []byte) (*DataSym, error) {
	r := &leafReader{data: data}
	sym := &DataSym{TypeIndex: r.ti(), Offset: r.u32(), Segment: r.u16(), Name: r.str()}
	if r.err != nil {
		return nil, fmt.Errorf("data symbol: %w", r.err)
	}
	return sym, nil
}

// ParseUDTSym parses a UDT symbol record.
func ParseUDTSym(data []byte) (*UDTSym, error) {
	r := &leafReader{data: data}
	sym := &UDTSym{TypeIndex: r.ti(), Name: r.str()}
	if r.err != nil {
		return nil, fmt.Errorf("UDT symbol: %w", r.err)
	}
	return sym, nil
}

// ParseConstantSym parses a constant symbol record.
func ParseConstantSym(data []byte) (*ConstantSym, error) {
	r := &leafReader{data: data}
	sym := &ConstantSym{TypeIndex: r.ti(), Value: r.numeric(), Name: r.str()}
	if r.err != nil {
		return nil, fmt.Errorf("constant symbol: %w", r.err)
	}
	return sym, nil
}

// IsDataSymbol returns true if the kind is a data symbol with an address.
func IsDataSymbol(kind SymbolKind) bool {
	switch kind {
	case S_GDATA32, S_LDATA32, S_GMANDATA, S_LMANDATA, S_GTHREAD32, S_LTHREAD32:
		return true
	}
	return false
}

// IsGlobalSymbol returns true if the symbol has global linkage.
func IsGlobalSymbol(kind SymbolKind) bool {
	switch kind {
	case S_GPROC32, S_GPROC32_ID, S_GDATA32, S_GMANDATA, S_GTHREAD32, S_PUB32:
		return true
	}
	return false
}
