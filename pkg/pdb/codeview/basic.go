package codeview

// LeafBasic is the pseudo kind reported by basic types. Basic types have no
// record in the TPI stream; their index encodes them directly.
const LeafBasic LeafKind = 0

// Basic type pointer modes, bits 8-11 of a basic type index.
const (
	BasicDirect   = 0
	BasicNear16   = 1
	BasicFar16    = 2
	BasicHuge16   = 3
	BasicNear32   = 4
	BasicFar32    = 5
	BasicNear64   = 6
	BasicNear128  = 7
	basicModeMask = 0xf00
	basicKindMask = 0xff
)

// Basic is a built-in type such as int or unsigned char.
type Basic struct {
	Index  TypeIndex
	Name   string
	Size   int
	Signed bool
	Float  bool
}

func (*Basic) Kind() LeafKind { return LeafBasic }
func (*Basic) isLeaf()        {}

type basicInfo struct {
	name   string
	size   int
	signed bool
	float  bool
}

var basicTypes = map[TypeIndex]basicInfo{
	0x03: {"void", 0, false, false},
	0x08: {"HRESULT", 4, true, false},
	0x10: {"signed char", 1, true, false},
	0x11: {"short", 2, true, false},
	0x12: {"long", 4, true, false},
	0x13: {"__int64", 8, true, false},
	0x14: {"__int128", 16, true, false},
	0x20: {"unsigned char", 1, false, false},
	0x21: {"unsigned short", 2, false, false},
	0x22: {"unsigned long", 4, false, false},
	0x23: {"unsigned __int64", 8, false, false},
	0x24: {"unsigned __int128", 16, false, false},
	0x30: {"bool", 1, false, false},
	0x31: {"__bool16", 2, false, false},
	0x32: {"__bool32", 4, false, false},
	0x33: {"__bool64", 8, false, false},
	0x40: {"float", 4, true, true},
	0x41: {"double", 8, true, true},
	0x42: {"long double", 10, true, true},
	0x43: {"__float128", 16, true, true},
	0x46: {"__half", 2, true, true},
	0x68: {"__int8", 1, true, false},
	0x69: {"unsigned __int8", 1, false, false},
	0x70: {"char", 1, true, false},
	0x71: {"wchar_t", 2, false, false},
	0x72: {"__int16", 2, true, false},
	0x73: {"unsigned __int16", 2, false, false},
	0x74: {"int", 4, true, false},
	0x75: {"unsigned int", 4, false, false},
	0x76: {"__int64", 8, true, false},
	0x77: {"unsigned __int64", 8, false, false},
	0x78: {"__int128", 16, true, false},
	0x79: {"unsigned __int128", 16, false, false},
	0x7a: {"char16_t", 2, false, false},
	0x7b: {"char32_t", 4, false, false},
	0x7c: {"char8_t", 1, false, false},
}

// basicAliases maps C spellings to the basic type index they name.
var basicAliases = map[string]TypeIndex{
	"void": 0x03, "HRESULT": 0x08,
	"char": 0x70, "signed char": 0x10, "unsigned char": 0x20,
	"short": 0x11, "short int": 0x11, "signed short": 0x11,
	"unsigned short": 0x21, "unsigned short int": 0x21,
	"int": 0x74, "signed": 0x74, "signed int": 0x74,
	"unsigned": 0x75, "unsigned int": 0x75,
	"long": 0x12, "long int": 0x12, "signed long": 0x12,
	"unsigned long": 0x22, "unsigned long int": 0x22,
	"long long": 0x13, "signed long long": 0x13, "__int64": 0x13,
	"unsigned long long": 0x23, "unsigned __int64": 0x23,
	"__int8": 0x68, "unsigned __int8": 0x69,
	"__int16": 0x72, "unsigned __int16": 0x73,
	"__int32": 0x74, "unsigned __int32": 0x75,
	"int8_t": 0x68, "uint8_t": 0x69, "int16_t": 0x72, "uint16_t": 0x73,
	"int32_t": 0x74, "uint32_t": 0x75, "int64_t": 0x76, "uint64_t": 0x77,
	"bool": 0x30, "float": 0x40, "double": 0x41, "long double": 0x42,
	"wchar_t": 0x71, "char16_t": 0x7a, "char32_t": 0x7b, "char8_t": 0x7c,
	"BYTE": 0x20, "WORD": 0x21, "DWORD": 0x22, "BOOL": 0x12,
}

// IsBasic reports whether ti falls in the basic type range.
func IsBasic(ti TypeIndex, begin TypeIndex) bool {
	return ti != NoType && ti < begin
}

// BasicMode returns the pointer mode encoded in a basic type index.
func BasicMode(ti TypeIndex) int {
	return int(ti&basicModeMask) >> 8
}

// BasicPointerSize returns the pointer width of a basic pointer mode, or 0
// for a direct type.
func BasicPointerSize(mode int) int {
	switch mode {
	case BasicNear16:
		return 2
	case BasicFar16, BasicHuge16, BasicNear32:
		return 4
	case BasicFar32:
		return 6
	case BasicNear64:
		return 8
	case BasicNear128:
		return 16
	}
	return 0
}

// LookupBasic returns the direct basic type for ti. Pointer modes are
// ignored; use BasicMode to detect them.
func LookupBasic(ti TypeIndex) (*Basic, bool) {
	direct := ti & basicKindMask
	info, ok := basicTypes[direct]
	if !ok {
		return nil, false
	}
	return &Basic{Index: direct, Name: info.name, Size: info.size, Signed: info.signed, Float: info.float}, true
}

// BasicByName returns the basic type index of a C spelling such as
// "unsigned long".
func BasicByName(name string) (TypeIndex, bool) {
	ti, ok := basicAliases[name]
	return ti, ok
}
