package codeview

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated reports a record that ends before its fields do.
var ErrTruncated = errors.New("truncated leaf record")

// leafReader decodes little-endian fields from a record body. The first
// failure sticks; later reads return zero values.
type leafReader struct {
	data []byte
	off  int
	err  error
}

func (r *leafReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.data) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d of %d", ErrTruncated, n, r.off, len(r.data))
		return false
	}
	return true
}

func (r *leafReader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

func (r *leafReader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

func (r *leafReader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *leafReader) ti() TypeIndex { return TypeIndex(r.u32()) }

func (r *leafReader) numeric() Numeric {
	if r.err != nil {
		return Numeric{}
	}
	n, used, err := ParseNumeric(r.data[r.off:])
	if err != nil {
		r.err = err
		return Numeric{}
	}
	r.off += used
	return n
}

// str reads a null-terminated string. A missing terminator takes the rest
// of the record.
func (r *leafReader) str() string {
	if r.err != nil || r.off >= len(r.data) {
		return ""
	}
	rest := r.data[r.off:]
	idx := bytes.IndexByte(rest, 0)
	if idx == -1 {
		r.off = len(r.data)
		return string(rest)
	}
	r.off += idx + 1
	return string(rest[:idx])
}

// skipPadding steps over LF_PAD bytes between field list entries.
func (r *leafReader) skipPadding() {
	for r.off < len(r.data) && r.data[r.off] >= LF_PAD0 {
		skip := int(r.data[r.off] & 0x0f)
		if skip == 0 {
			skip = 1
		}
		r.off += skip
	}
	if r.off > len(r.data) {
		r.off = len(r.data)
	}
}

// numericSizes gives the payload size of each numeric leaf encoding.
var numericSizes = map[LeafKind]int{
	LF_CHAR: 1, LF_SHORT: 2, LF_USHORT: 2, LF_LONG: 4, LF_ULONG: 4,
	LF_REAL32: 4, LF_REAL64: 8, LF_REAL80: 10, LF_REAL128: 16,
	LF_QUADWORD: 8, LF_UQUADWORD: 8, LF_REAL48: 6,
	LF_COMPLEX32: 8, LF_COMPLEX64: 16, LF_COMPLEX80: 20, LF_COMPLEX128: 32,
	LF_OCTWORD: 16, LF_UOCTWORD: 16,
}

// ParseNumeric decodes a numeric leaf. Values below LF_NUMERIC are the
// value itself; otherwise the kind selects the encoding that follows.
// It returns the value and the number of bytes consumed.
func ParseNumeric(data []byte) (Numeric, int, error) {
	if len(data) < 2 {
		return Numeric{}, 0, fmt.Errorf("%w: numeric leaf", ErrTruncated)
	}

	val := binary.LittleEndian.Uint16(data)
	if val < uint16(LF_NUMERIC) {
		return Numeric{Value: uint64(val)}, 2, nil
	}

	kind := LeafKind(val)
	body := data[2:]
	if kind == LF_VARSTRING {
		if len(body) < 2 {
			return Numeric{}, 0, fmt.Errorf("%w: %s", ErrTruncated, kind)
		}
		n := int(binary.LittleEndian.Uint16(body))
		if len(body) < 2+n {
			return Numeric{}, 0, fmt.Errorf("%w: %s", ErrTruncated, kind)
		}
		return Numeric{Leaf: kind}, 4 + n, nil
	}

	size, ok := numericSizes[kind]
	if !ok {
		return Numeric{}, 0, fmt.Errorf("unknown numeric leaf %s", kind)
	}
	if len(body) < size {
		return Numeric{}, 0, fmt.Errorf("%w: %s", ErrTruncated, kind)
	}

	var v uint64
	switch kind {
	case LF_CHAR:
		v = uint64(int64(int8(body[0])))
	case LF_SHORT:
		v = uint64(int64(int16(binary.LittleEndian.Uint16(body))))
	case LF_USHORT:
		v = uint64(binary.LittleEndian.Uint16(body))
	case LF_LONG:
		v = uint64(int64(int32(binary.LittleEndian.Uint32(body))))
	case LF_ULONG, LF_REAL32:
		v = uint64(binary.LittleEndian.Uint32(body))
	default:
		// Wider encodings keep their low 64 bits.
		var low [8]byte
		copy(low[:], body[:min(size, 8)])
		v = binary.LittleEndian.Uint64(low[:])
	}
	return Numeric{Value: v, Leaf: kind}, 2 + size, nil
}

// ParseLeaf decodes one type record body of the given kind. Kinds that are
// not modelled come back as *Unknown without error.
func ParseLeaf(kind LeafKind, data []byte) (Leaf, error) {
	r := &leafReader{data: data}
	var l Leaf

	switch kind {
	case LF_STRUCTURE, LF_CLASS, LF_INTERFACE:
		s := &Structure{Class: kind == LF_CLASS}
		s.Count = r.u16()
		s.Property = Property(r.u16())
		s.FieldList = r.ti()
		s.Derived = r.ti()
		s.VShape = r.ti()
		s.Size = r.numeric()
		s.Name = r.str()
		if s.Property&PropHasUniqueName != 0 {
			s.UniqueName = r.str()
		}
		l = s
	case LF_UNION:
		u := &Union{}
		u.Count = r.u16()
		u.Property = Property(r.u16())
		u.FieldList = r.ti()
		u.Size = r.numeric()
		u.Name = r.str()
		if u.Property&PropHasUniqueName != 0 {
			u.UniqueName = r.str()
		}
		l = u
	case LF_ENUM:
		e := &Enum{}
		e.Count = r.u16()
		e.Property = Property(r.u16())
		e.UnderlyingType = r.ti()
		e.FieldList = r.ti()
		e.Name = r.str()
		if e.Property&PropHasUniqueName != 0 {
			e.UniqueName = r.str()
		}
		l = e
	case LF_ARRAY:
		l = &Array{ElementType: r.ti(), IndexType: r.ti(), Size: r.numeric(), Name: r.str()}
	case LF_POINTER:
		p := &Pointer{Referent: r.ti(), Attributes: r.u32()}
		if m := p.Mode(); m == PtrModeMemberData || m == PtrModeMemberFunc {
			p.ContainingClass = r.ti()
		}
		l = p
	case LF_MODIFIER:
		l = &Modifier{Modified: r.ti(), Modifiers: r.u16()}
	case LF_BITFIELD:
		l = &Bitfield{Type: r.ti(), Length: r.u8(), Position: r.u8()}
	case LF_PROCEDURE:
		l = &Procedure{ReturnType: r.ti(), CallConv: r.u8(), Attributes: r.u8(), ParamCount: r.u16(), ArgList: r.ti()}
	case LF_MFUNCTION:
		l = &MemberFunction{
			ReturnType: r.ti(), ClassType: r.ti(), ThisType: r.ti(),
			CallConv: r.u8(), Attributes: r.u8(), ParamCount: r.u16(),
			ArgList: r.ti(), ThisAdjust: int32(r.u32()),
		}
	case LF_ARGLIST:
		n := r.u32()
		if r.err == nil && uint64(n)*4 > uint64(len(data)) {
			return nil, fmt.Errorf("%w: arglist of %d entries", ErrTruncated, n)
		}
		args := make([]TypeIndex, 0, n)
		for i := uint32(0); i < n; i++ {
			args = append(args, r.ti())
		}
		l = &ArgList{Args: args}
	case LF_FIELDLIST:
		fl, err := parseFieldList(r)
		return fl, err
	default:
		return &Unknown{Tag: kind, Data: data}, nil
	}

	if r.err != nil {
		return nil, fmt.Errorf("%s: %w", kind, r.err)
	}
	return l, nil
}

// parseFieldList decodes every entry of an LF_FIELDLIST body. An entry of
// an unmodelled kind ends the list with an *Unknown carrying the rest.
func parseFieldList(r *leafReader) (*FieldList, error) {
	fl := &FieldList{}
	for {
		r.skipPadding()
		if r.off >= len(r.data) {
			return fl, nil
		}

		kind := LeafKind(r.u16())
		var f Leaf
		switch kind {
		case LF_MEMBER:
			f = &Member{Attributes: r.u16(), Type: r.ti(), Offset: r.numeric(), Name: r.str()}
		case LF_STMEMBER:
			f = &StaticMember{Attributes: r.u16(), Type: r.ti(), Name: r.str()}
		case LF_NESTTYPE:
			r.u16() // padding
			f = &NestType{Type: r.ti(), Name: r.str()}
		case LF_BCLASS:
			f = &BaseClass{Attributes: r.u16(), Type: r.ti(), Offset: r.numeric()}
		case LF_VBCLASS, LF_IVBCLASS:
			f = &VirtualBaseClass{
				Indirect: kind == LF_IVBCLASS, Attributes: r.u16(), Type: r.ti(),
				VBPtr: r.ti(), VBPtrOffset: r.numeric(), VBTableIndex: r.numeric(),
			}
		case LF_VFUNCTAB:
			r.u16()
			f = &VFuncTab{Type: r.ti()}
		case LF_ENUMERATE:
			f = &Enumerate{Attributes: r.u16(), Value: r.numeric(), Name: r.str()}
		case LF_METHOD:
			f = &Method{Count: r.u16(), MethodList: r.ti(), Name: r.str()}
		case LF_ONEMETHOD:
			m := &OneMethod{Attributes: r.u16(), Type: r.ti()}
			// Introducing virtual methods carry a vtable offset.
			if mprop := (m.Attributes >> 2) & 0x7; mprop == 4 || mprop == 6 {
				m.VBaseOffset = r.u32()
			}
			m.Name = r.str()
			f = m
		case LF_INDEX:
			r.u16()
			f = &Index{Continuation: r.ti()}
		default:
			fl.Fields = append(fl.Fields, &Unknown{Tag: kind, Data: r.data[r.off:]})
			return fl, nil
		}

		if r.err != nil {
			return fl, fmt.Errorf("%s entry %d: %w", kind, len(fl.Fields), r.err)
		}
		fl.Fields = append(fl.Fields, f)
	}
}
