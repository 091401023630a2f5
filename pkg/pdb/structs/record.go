// Package structs materializes types of the graph as records bound to an
// address and a memory source.
package structs

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jtang613/pdbview/pkg/pdb/codeview"
	"github.com/jtang613/pdbview/pkg/pdb/memory"
)

// Shape is the child layout of a record.
type Shape int

const (
	Scalar Shape = iota // no children
	List                // ordered children, labeled [i]
	Map                 // named children, in declaration order
)

func (s Shape) String() string {
	switch s {
	case List:
		return "list"
	case Map:
		return "map"
	}
	return "scalar"
}

// BitRange locates a bitfield inside its storage unit.
type BitRange struct {
	Offset int `json:"offset"`
	Size   int `json:"size"`
}

// Record is a type instance bound to an address. Its shape does not change
// once its children are formed; only the cached value does.
type Record struct {
	LevelName string // label within the parent, e.g. "next" or "[3]"
	Name      string // declared member name, "" for elements and roots
	TypeName  string
	Type      codeview.TypeIndex
	Address   uint64
	Size      int
	Bits      *BitRange
	IsPointer bool
	Pointee   codeview.TypeIndex
	Literal   bool // pointer literal: Address is the target itself
	Signed    bool
	Shape     Shape

	children []*Record
	byName   map[string]int
	expanded bool

	mem   memory.Source
	value Cached[uint64]
}

// Expanded reports whether the children of a list or map are formed.
func (r *Record) Expanded() bool { return r.Shape == Scalar || r.expanded }

// Children returns the formed children in order.
func (r *Record) Children() []*Record { return r.children }

// Len returns the number of formed children.
func (r *Record) Len() int { return len(r.children) }

// At returns the i-th child.
func (r *Record) At(i int) (*Record, bool) {
	if i < 0 || i >= len(r.children) {
		return nil, false
	}
	return r.children[i], true
}

// Child returns the child labeled name.
func (r *Record) Child(name string) (*Record, bool) {
	i, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.children[i], true
}

// Source returns the memory source the record reads from.
func (r *Record) Source() memory.Source { return r.mem }

func (r *Record) setChildren(children []*Record) {
	r.children = children
	r.byName = make(map[string]int, len(children))
	for i, c := range children {
		if _, dup := r.byName[c.LevelName]; !dup {
			r.byName[c.LevelName] = i
		}
	}
	r.expanded = true
}

// Value returns the decoded scalar value. It reads Size little-endian
// bytes (at most eight) at Address, applies the bitfield range and sign
// extension, and caches the result. A pointer literal returns its target.
func (r *Record) Value() (uint64, error) {
	if r.Shape != Scalar {
		return 0, fmt.Errorf("%s %q has no scalar value", r.Shape, r.LevelName)
	}
	if r.Literal {
		return r.Address, nil
	}
	return r.value.Get(r.load)
}

// Int returns Value as a signed integer.
func (r *Record) Int() (int64, error) {
	v, err := r.Value()
	return int64(v), err
}

func (r *Record) load() (uint64, error) {
	n := min(r.Size, 8)
	if n <= 0 {
		return 0, nil
	}
	raw, err := memory.ReadAt(r.mem, r.Address, n)
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	copy(buf[:], raw)
	v := binary.LittleEndian.Uint64(buf[:])

	width := n * 8
	if r.Bits != nil {
		v = (v >> r.Bits.Offset) & mask(r.Bits.Size)
		width = r.Bits.Size
	}
	if r.Signed && width > 0 && width < 64 && v&(1<<(width-1)) != 0 {
		v |= ^mask(width)
	}
	return v, nil
}

func mask(bits int) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return 1<<bits - 1
}

// Refresh drops cached values of the record and every formed descendant.
func (r *Record) Refresh() {
	r.value.Invalidate()
	for _, c := range r.children {
		c.Refresh()
	}
}

// Write stores v at the record's address. Bitfields are updated with a
// read-modify-write of their storage unit.
func (r *Record) Write(v uint64) error {
	if r.Shape != Scalar {
		return fmt.Errorf("cannot write %s %q", r.Shape, r.LevelName)
	}
	if r.Literal {
		return errors.New("cannot write a pointer literal")
	}
	n := min(r.Size, 8)
	if n <= 0 {
		return fmt.Errorf("cannot write %q of size %d", r.LevelName, r.Size)
	}
	defer r.value.Invalidate()

	if r.Bits != nil {
		raw, err := memory.ReadAt(r.mem, r.Address, n)
		if err != nil {
			return err
		}
		var buf [8]byte
		copy(buf[:], raw)
		unit := binary.LittleEndian.Uint64(buf[:])
		m := mask(r.Bits.Size) << r.Bits.Offset
		v = unit&^m | (v<<r.Bits.Offset)&m
	}

	var out [8]byte
	binary.LittleEndian.PutUint64(out[:], v)
	return memory.WriteAt(r.mem, r.Address, out[:n])
}

// Walk calls fn for r and every formed descendant, parents first.
func (r *Record) Walk(fn func(*Record)) {
	fn(r)
	for _, c := range r.children {
		c.Walk(fn)
	}
}
