// Package codeview provides parsing for CodeView type and symbol records.
package codeview

import (
	"fmt"
)

// TypeIndex refers to a type record. Indices below the TPI stream's
// TypeIndexBegin name basic types; the rest name records in the stream.
type TypeIndex uint32

// NoType is the empty type reference.
const NoType TypeIndex = 0

// LeafKind is the LF_* discriminant of a type record or field list entry.
type LeafKind uint16

// Type record leaf kinds
const (
	LF_VTSHAPE   LeafKind = 0x000a
	LF_MODIFIER  LeafKind = 0x1001
	LF_POINTER   LeafKind = 0x1002
	LF_PROCEDURE LeafKind = 0x1008
	LF_MFUNCTION LeafKind = 0x1009

	LF_ARGLIST    LeafKind = 0x1201
	LF_FIELDLIST  LeafKind = 0x1203
	LF_DERIVED    LeafKind = 0x1204
	LF_BITFIELD   LeafKind = 0x1205
	LF_METHODLIST LeafKind = 0x1206

	LF_ARRAY     LeafKind = 0x1503
	LF_CLASS     LeafKind = 0x1504
	LF_STRUCTURE LeafKind = 0x1505
	LF_UNION     LeafKind = 0x1506
	LF_ENUM      LeafKind = 0x1507
	LF_INTERFACE LeafKind = 0x1519
	LF_VFTABLE   LeafKind = 0x151d

	LF_FUNC_ID          LeafKind = 0x1601
	LF_MFUNC_ID         LeafKind = 0x1602
	LF_BUILDINFO        LeafKind = 0x1603
	LF_SUBSTR_LIST      LeafKind = 0x1604
	LF_STRING_ID        LeafKind = 0x1605
	LF_UDT_SRC_LINE     LeafKind = 0x1606
	LF_UDT_MOD_SRC_LINE LeafKind = 0x1607
)

// Field list entry leaf kinds
const (
	LF_BCLASS    LeafKind = 0x1400
	LF_VBCLASS   LeafKind = 0x1401
	LF_IVBCLASS  LeafKind = 0x1402
	LF_INDEX     LeafKind = 0x1404
	LF_VFUNCTAB  LeafKind = 0x1409
	LF_ENUMERATE LeafKind = 0x1502
	LF_MEMBER    LeafKind = 0x150d
	LF_STMEMBER  LeafKind = 0x150e
	LF_METHOD    LeafKind = 0x150f
	LF_NESTTYPE  LeafKind = 0x1510
	LF_ONEMETHOD LeafKind = 0x1511
)

// Numeric leaf kinds. Values below LF_NUMERIC are stored inline.
const (
	LF_NUMERIC    LeafKind = 0x8000
	LF_CHAR       LeafKind = 0x8000
	LF_SHORT      LeafKind = 0x8001
	LF_USHORT     LeafKind = 0x8002
	LF_LONG       LeafKind = 0x8003
	LF_ULONG      LeafKind = 0x8004
	LF_REAL32     LeafKind = 0x8005
	LF_REAL64     LeafKind = 0x8006
	LF_REAL80     LeafKind = 0x8007
	LF_REAL128    LeafKind = 0x8008
	LF_QUADWORD   LeafKind = 0x8009
	LF_UQUADWORD  LeafKind = 0x800a
	LF_REAL48     LeafKind = 0x800b
	LF_COMPLEX32  LeafKind = 0x800c
	LF_COMPLEX64  LeafKind = 0x800d
	LF_COMPLEX80  LeafKind = 0x800e
	LF_COMPLEX128 LeafKind = 0x800f
	LF_VARSTRING  LeafKind = 0x8010
	LF_OCTWORD    LeafKind = 0x8017
	LF_UOCTWORD   LeafKind = 0x8018

	LF_PAD0 = 0xf0
)

var leafKindNames = map[LeafKind]string{
	LeafBasic: "basic",
	LF_VTSHAPE: "LF_VTSHAPE", LF_MODIFIER: "LF_MODIFIER", LF_POINTER: "LF_POINTER",
	LF_PROCEDURE: "LF_PROCEDURE", LF_MFUNCTION: "LF_MFUNCTION", LF_ARGLIST: "LF_ARGLIST",
	LF_FIELDLIST: "LF_FIELDLIST", LF_DERIVED: "LF_DERIVED", LF_BITFIELD: "LF_BITFIELD",
	LF_METHODLIST: "LF_METHODLIST", LF_ARRAY: "LF_ARRAY", LF_CLASS: "LF_CLASS",
	LF_STRUCTURE: "LF_STRUCTURE", LF_UNION: "LF_UNION", LF_ENUM: "LF_ENUM",
	LF_INTERFACE: "LF_INTERFACE", LF_VFTABLE: "LF_VFTABLE", LF_FUNC_ID: "LF_FUNC_ID",
	LF_MFUNC_ID: "LF_MFUNC_ID", LF_BUILDINFO: "LF_BUILDINFO", LF_SUBSTR_LIST: "LF_SUBSTR_LIST",
	LF_STRING_ID: "LF_STRING_ID", LF_UDT_SRC_LINE: "LF_UDT_SRC_LINE",
	LF_UDT_MOD_SRC_LINE: "LF_UDT_MOD_SRC_LINE",
	LF_BCLASS: "LF_BCLASS", LF_VBCLASS: "LF_VBCLASS", LF_IVBCLASS: "LF_IVBCLASS",
	LF_INDEX: "LF_INDEX", LF_VFUNCTAB: "LF_VFUNCTAB", LF_ENUMERATE: "LF_ENUMERATE",
	LF_MEMBER: "LF_MEMBER", LF_STMEMBER: "LF_STMEMBER", LF_METHOD: "LF_METHOD",
	LF_NESTTYPE: "LF_NESTTYPE", LF_ONEMETHOD: "LF_ONEMETHOD",
	LF_CHAR: "LF_CHAR", LF_SHORT: "LF_SHORT", LF_USHORT: "LF_USHORT", LF_LONG: "LF_LONG",
	LF_ULONG: "LF_ULONG", LF_REAL32: "LF_REAL32", LF_REAL64: "LF_REAL64",
	LF_REAL80: "LF_REAL80", LF_REAL128: "LF_REAL128", LF_QUADWORD: "LF_QUADWORD",
	LF_UQUADWORD: "LF_UQUADWORD", LF_REAL48: "LF_REAL48", LF_COMPLEX32: "LF_COMPLEX32",
	LF_COMPLEX64: "LF_COMPLEX64", LF_COMPLEX80: "LF_COMPLEX80",
	LF_COMPLEX128: "LF_COMPLEX128", LF_VARSTRING: "LF_VARSTRING",
	LF_OCTWORD: "LF_OCTWORD", LF_UOCTWORD: "LF_UOCTWORD",
}

// String returns the LF_* name of the kind.
func (k LeafKind) String() string {
	if name, ok := leafKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("LF_0x%04x", uint16(k))
}

// Property is the property bit set of structures, unions and enums.
type Property uint16

const (
	PropPacked        Property = 0x0001
	PropCtor          Property = 0x0002
	PropOverOps       Property = 0x0004
	PropIsNested      Property = 0x0008
	PropContNested    Property = 0x0010
	PropOpAssign      Property = 0x0020
	PropOpCast        Property = 0x0040
	PropFwdRef        Property = 0x0080
	PropScoped        Property = 0x0100
	PropHasUniqueName Property = 0x0200
	PropSealed        Property = 0x0400
	PropIntrinsic     Property = 0x2000
)

// ForwardRef reports whether the record is an incomplete declaration.
func (p Property) ForwardRef() bool { return p&PropFwdRef != 0 }

// Numeric is a normalized numeric leaf. Leaf is zero when the value was
// stored inline; otherwise it names the LF_* encoding that carried it.
// Signed encodings are sign-extended into Value.
type Numeric struct {
	Value uint64
	Leaf  LeafKind
}

// Int returns the value as a signed integer.
func (n Numeric) Int() int64 { return int64(n.Value) }

// Uint returns the value as an unsigned integer.
func (n Numeric) Uint() uint64 { return n.Value }

// Leaf is a decoded type record or field list entry. The set of
// implementations is closed; switch on the concrete type.
type Leaf interface {
	Kind() LeafKind
	isLeaf()
}

// Structure is an LF_STRUCTURE or LF_CLASS record.
type Structure struct {
	Class      bool
	Count      uint16
	Property   Property
	FieldList  TypeIndex
	Derived    TypeIndex
	VShape     TypeIndex
	Size       Numeric
	Name       string
	UniqueName string
}

// Union is an LF_UNION record.
type Union struct {
	Count      uint16
	Property   Property
	FieldList  TypeIndex
	Size       Numeric
	Name       string
	UniqueName string
}

// Enum is an LF_ENUM record.
type Enum struct {
	Count          uint16
	Property       Property
	UnderlyingType TypeIndex
	FieldList      TypeIndex
	Name           string
	UniqueName     string
}

// Array is an LF_ARRAY record. Size is the total size in bytes.
type Array struct {
	ElementType TypeIndex
	IndexType   TypeIndex
	Size        Numeric
	Name        string
}

// Pointer modes
const (
	PtrModePointer       = 0
	PtrModeLValueRef     = 1
	PtrModeMemberData    = 2
	PtrModeMemberFunc    = 3
	PtrModeRValueRef     = 4
	PtrKindNear64        = 0x0c
	ptrAttrModeShift     = 5
	ptrAttrSizeShift     = 13
	ptrAttrConstBit      = 1 << 10
	ptrAttrVolatileBit   = 1 << 9
)

// Pointer is an LF_POINTER record.
type Pointer struct {
	Referent        TypeIndex
	Attributes      uint32
	ContainingClass TypeIndex // member pointers only
}

// PtrKind returns the CV_ptrtype field.
func (p *Pointer) PtrKind() uint32 { return p.Attributes & 0x1f }

// Mode returns the CV_ptrmode field.
func (p *Pointer) Mode() uint32 { return (p.Attributes >> ptrAttrModeShift) & 0x7 }

// Size returns the pointer size in bytes recorded in the attributes, or 0.
func (p *Pointer) Size() int { return int((p.Attributes >> ptrAttrSizeShift) & 0x3f) }

// IsConst reports a const pointer.
func (p *Pointer) IsConst() bool { return p.Attributes&ptrAttrConstBit != 0 }

// IsVolatile reports a volatile pointer.
func (p *Pointer) IsVolatile() bool { return p.Attributes&ptrAttrVolatileBit != 0 }

// IsReference reports an lvalue or rvalue reference.
func (p *Pointer) IsReference() bool {
	return p.Mode() == PtrModeLValueRef || p.Mode() == PtrModeRValueRef
}

// Modifier is an LF_MODIFIER record (const, volatile, unaligned).
type Modifier struct {
	Modified  TypeIndex
	Modifiers uint16
}

// Modifier bits
const (
	ModConst     = 0x1
	ModVolatile  = 0x2
	ModUnaligned = 0x4
)

// Bitfield is an LF_BITFIELD record.
type Bitfield struct {
	Type     TypeIndex
	Length   uint8
	Position uint8
}

// Procedure is an LF_PROCEDURE record.
type Procedure struct {
	ReturnType TypeIndex
	CallConv   uint8
	Attributes uint8
	ParamCount uint16
	ArgList    TypeIndex
}

// MemberFunction is an LF_MFUNCTION record.
type MemberFunction struct {
	ReturnType TypeIndex
	ClassType  TypeIndex
	ThisType   TypeIndex
	CallConv   uint8
	Attributes uint8
	ParamCount uint16
	ArgList    TypeIndex
	ThisAdjust int32
}

// ArgList is an LF_ARGLIST record.
type ArgList struct {
	Args []TypeIndex
}

// FieldList is an LF_FIELDLIST record. Each entry is one of the field
// leaves below.
type FieldList struct {
	Fields []Leaf
}

// Member is an LF_MEMBER field.
type Member struct {
	Attributes uint16
	Type       TypeIndex
	Offset     Numeric
	Name       string
}

// StaticMember is an LF_STMEMBER field.
type StaticMember struct {
	Attributes uint16
	Type       TypeIndex
	Name       string
}

// NestType is an LF_NESTTYPE field.
type NestType struct {
	Type TypeIndex
	Name string
}

// BaseClass is an LF_BCLASS field.
type BaseClass struct {
	Attributes uint16
	Type       TypeIndex
	Offset     Numeric
}

// VirtualBaseClass is an LF_VBCLASS or LF_IVBCLASS field.
type VirtualBaseClass struct {
	Indirect     bool
	Attributes   uint16
	Type         TypeIndex
	VBPtr        TypeIndex
	VBPtrOffset  Numeric
	VBTableIndex Numeric
}

// VFuncTab is an LF_VFUNCTAB field.
type VFuncTab struct {
	Type TypeIndex
}

// Enumerate is an LF_ENUMERATE field.
type Enumerate struct {
	Attributes uint16
	Value      Numeric
	Name       string
}

// Method is an LF_METHOD field (overloaded method group).
type Method struct {
	Count      uint16
	MethodList TypeIndex
	Name       string
}

// OneMethod is an LF_ONEMETHOD field.
type OneMethod struct {
	Attributes  uint16
	Type        TypeIndex
	VBaseOffset uint32
	Name        string
}

// Index is an LF_INDEX field continuing the list in another record.
type Index struct {
	Continuation TypeIndex
}

// Unknown keeps a record whose kind is not decoded.
type Unknown struct {
	Tag  LeafKind
	Data []byte
}

func (l *Structure) Kind() LeafKind {
	if l.Class {
		return LF_CLASS
	}
	return LF_STRUCTURE
}
func (*Union) Kind() LeafKind          { return LF_UNION }
func (*Enum) Kind() LeafKind           { return LF_ENUM }
func (*Array) Kind() LeafKind          { return LF_ARRAY }
func (*Pointer) Kind() LeafKind        { return LF_POINTER }
func (*Modifier) Kind() LeafKind       { return LF_MODIFIER }
func (*Bitfield) Kind() LeafKind       { return LF_BITFIELD }
func (*Procedure) Kind() LeafKind      { return LF_PROCEDURE }
func (*MemberFunction) Kind() LeafKind { return LF_MFUNCTION }
func (*ArgList) Kind() LeafKind        { return LF_ARGLIST }
func (*FieldList) Kind() LeafKind      { return LF_FIELDLIST }
func (*Member) Kind() LeafKind         { return LF_MEMBER }
func (*StaticMember) Kind() LeafKind   { return LF_STMEMBER }
func (*NestType) Kind() LeafKind       { return LF_NESTTYPE }
func (*BaseClass) Kind() LeafKind      { return LF_BCLASS }
func (l *VirtualBaseClass) Kind() LeafKind {
	if l.Indirect {
		return LF_IVBCLASS
	}
	return LF_VBCLASS
}
func (*VFuncTab) Kind() LeafKind  { return LF_VFUNCTAB }
func (*Enumerate) Kind() LeafKind { return LF_ENUMERATE }
func (*Method) Kind() LeafKind    { return LF_METHOD }
func (*OneMethod) Kind() LeafKind { return LF_ONEMETHOD }
func (*Index) Kind() LeafKind     { return LF_INDEX }
func (l *Unknown) Kind() LeafKind { return l.Tag }

func (*Structure) isLeaf()        {}
func (*Union) isLeaf()            {}
func (*Enum) isLeaf()             {}
func (*Array) isLeaf()            {}
func (*Pointer) isLeaf()          {}
func (*Modifier) isLeaf()         {}
func (*Bitfield) isLeaf()         {}
func (*Procedure) isLeaf()        {}
func (*MemberFunction) isLeaf()   {}
func (*ArgList) isLeaf()          {}
func (*FieldList) isLeaf()        {}
func (*Member) isLeaf()           {}
func (*StaticMember) isLeaf()     {}
func (*NestType) isLeaf()         {}
func (*BaseClass) isLeaf()        {}
func (*VirtualBaseClass) isLeaf() {}
func (*VFuncTab) isLeaf()         {}
func (*Enumerate) isLeaf()        {}
func (*Method) isLeaf()           {}
func (*OneMethod) isLeaf()        {}
func (*Index) isLeaf()            {}
func (*Unknown) isLeaf()          {}

// Name returns the declared name of a leaf, or "" for unnamed kinds.
func Name(l Leaf) string {
	switch v := l.(type) {
	case *Basic:
		return v.Name
	case *Structure:
		return v.Name
	case *Union:
		return v.Name
	case *Enum:
		return v.Name
	case *Array:
		return v.Name
	case *Member:
		return v.Name
	case *StaticMember:
		return v.Name
	case *NestType:
		return v.Name
	case *Enumerate:
		return v.Name
	case *Method:
		return v.Name
	case *OneMethod:
		return v.Name
	}
	return ""
}

// PropertyOf returns the property bits of structures, unions and enums.
func PropertyOf(l Leaf) (Property, bool) {
	switch v := l.(type) {
	case *Structure:
		return v.Property, true
	case *Union:
		return v.Property, true
	case *Enum:
		return v.Property, true
	}
	return 0, false
}

// IsForwardRef reports whether l is an incomplete declaration.
func IsForwardRef(l Leaf) bool {
	p, ok := PropertyOf(l)
	return ok && p.ForwardRef()
}
