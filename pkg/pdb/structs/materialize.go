package structs

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jtang613/pdbview/pkg/pdb/codeview"
	"github.com/jtang613/pdbview/pkg/pdb/memory"
	"github.com/jtang613/pdbview/pkg/pdb/typegraph"
)

// ErrUnknownLeafKind is returned for a type whose shape cannot be rendered.
var ErrUnknownLeafKind = errors.New("unknown leaf kind")

// DefaultMaxDepth bounds how deep a recursive materialization descends.
const DefaultMaxDepth = 64

// Materializer forms records from types of a graph, bound to one memory
// source.
type Materializer struct {
	graph    *typegraph.Graph
	mem      memory.Source
	maxDepth int
	sugar    *zap.SugaredLogger
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Materializer) {
		if logger != nil {
			m.sugar = logger.Sugar()
		}
	}
}

// WithMaxDepth sets the depth below which composite children stay
// collapsed.
func WithMaxDepth(depth int) Option {
	return func(m *Materializer) {
		if depth > 0 {
			m.maxDepth = depth
		}
	}
}

// NewMaterializer returns a Materializer over g reading from mem. mem may
// be nil when only layout is needed.
func NewMaterializer(g *typegraph.Graph, mem memory.Source, opts ...Option) *Materializer {
	m := &Materializer{
		graph:    g,
		mem:      mem,
		maxDepth: DefaultMaxDepth,
		sugar:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Graph returns the type graph.
func (m *Materializer) Graph() *typegraph.Graph { return m.graph }

// Source returns the memory source.
func (m *Materializer) Source() memory.Source { return m.mem }

// Materialize forms the structure or union name at addr. A count above one
// returns a list record holding count consecutive instances.
func (m *Materializer) Materialize(name string, addr uint64, count int, recursive bool) (*Record, error) {
	ti, ok := m.graph.ByName(name)
	if !ok {
		var err error
		if ti, err = m.graph.ResolveTypeName(name); err != nil {
			return nil, err
		}
	}
	if count <= 1 {
		return m.Form(ti, name, addr, recursive)
	}

	size, err := m.graph.SizeOf(ti)
	if err != nil {
		return nil, err
	}
	list := &Record{
		LevelName: name,
		TypeName:  fmt.Sprintf("%s[%d]", m.graph.TypeName(ti), count),
		Address:   addr,
		Size:      size * count,
		Shape:     List,
		mem:       m.mem,
	}
	children := make([]*Record, 0, count)
	for i := 0; i < count; i++ {
		c, err := m.form(ti, fmt.Sprintf("[%d]", i), addr+uint64(i*size), recursive, 1)
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	list.setChildren(children)
	return list, nil
}

// Form builds the record for ti at addr. The record's own children are
// formed; with recursive set, so are theirs, down to the depth bound.
func (m *Materializer) Form(ti codeview.TypeIndex, levelName string, addr uint64, recursive bool) (*Record, error) {
	return m.form(ti, levelName, addr, recursive, 0)
}

// Expand forms the children of a collapsed record.
func (m *Materializer) Expand(r *Record, recursive bool) error {
	if r.Expanded() {
		return nil
	}
	return m.formChildren(r, recursive, 0)
}

// ExpandTree forms the collapsed descendants of r the way a recursive Form
// of r would, counting depth from r. Nodes at the depth bound stay collapsed.
func (m *Materializer) ExpandTree(r *Record) error {
	return m.expandTree(r, 0)
}

func (m *Materializer) expandTree(r *Record, depth int) error {
	if !r.Expanded() {
		if depth > 0 && depth >= m.maxDepth {
			return nil
		}
		return m.formChildren(r, true, depth)
	}
	for _, c := range r.children {
		if err := m.expandTree(c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (m *Materializer) form(ti codeview.TypeIndex, levelName string, addr uint64, recursive bool, depth int) (*Record, error) {
	l, err := m.graph.MustLookup(ti)
	if err != nil {
		return nil, err
	}

	r := &Record{
		LevelName: levelName,
		TypeName:  m.graph.TypeName(ti),
		Type:      ti,
		Address:   addr,
		mem:       m.mem,
	}

	switch v := l.(type) {
	case *codeview.Basic:
		r.Size, r.Signed = v.Size, v.Signed
		return r, nil
	case *codeview.Enum:
		r.Size, r.Signed = 4, true
		return r, nil
	case *codeview.Pointer:
		r.IsPointer = true
		r.Pointee = v.Referent
		r.Size, err = m.graph.SizeOf(ti)
		return r, err
	case *codeview.Bitfield:
		base, err := m.form(v.Type, levelName, addr, recursive, depth)
		if err != nil {
			return nil, err
		}
		if base.Shape != Scalar {
			return nil, fmt.Errorf("bitfield of %s", base.TypeName)
		}
		base.Bits = &BitRange{Offset: int(v.Position), Size: int(v.Length)}
		return base, nil
	case *codeview.Modifier:
		return m.form(v.Modified, levelName, addr, recursive, depth)
	case *codeview.Procedure, *codeview.MemberFunction:
		return r, nil
	case *codeview.Structure:
		r.Size, r.Shape = int(v.Size.Value), Map
	case *codeview.Union:
		r.Size, r.Shape = int(v.Size.Value), Map
	case *codeview.Array:
		r.Size, r.Shape = int(v.Size.Value), List
	default:
		return nil, fmt.Errorf("%w: %s at type %#x", ErrUnknownLeafKind, l.Kind(), uint32(ti))
	}

	if depth == 0 || (recursive && depth < m.maxDepth) {
		if err := m.formChildren(r, recursive, depth); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (m *Materializer) formChildren(r *Record, recursive bool, depth int) error {
	l, err := m.graph.MustLookup(r.Type)
	if err != nil {
		return err
	}

	var children []*Record
	switch v := l.(type) {
	case *codeview.Structure:
		children, err = m.formMembers(v.FieldList, r.Address, recursive, depth)
	case *codeview.Union:
		children, err = m.formMembers(v.FieldList, r.Address, recursive, depth)
	case *codeview.Array:
		children, err = m.formElements(v, r.Address, recursive, depth)
	default:
		return fmt.Errorf("%w: cannot expand %s", ErrUnknownLeafKind, l.Kind())
	}
	if err != nil {
		return err
	}
	r.setChildren(children)
	return nil
}

func (m *Materializer) formMembers(flist codeview.TypeIndex, addr uint64, recursive bool, depth int) ([]*Record, error) {
	if flist == codeview.NoType {
		return nil, nil
	}
	fields, err := m.graph.Fields(flist)
	if err != nil {
		return nil, err
	}

	var children []*Record
	for _, f := range fields {
		switch v := f.(type) {
		case *codeview.Member:
			c, err := m.form(v.Type, v.Name, addr+v.Offset.Value, recursive, depth+1)
			if err != nil {
				return nil, fmt.Errorf("member %s: %w", v.Name, err)
			}
			c.Name = v.Name
			children = append(children, c)
		case *codeview.BaseClass:
			name := m.graph.TypeName(v.Type)
			c, err := m.form(v.Type, name, addr+v.Offset.Value, recursive, depth+1)
			if err != nil {
				return nil, fmt.Errorf("base %s: %w", name, err)
			}
			c.Name = name
			children = append(children, c)
		case *codeview.StaticMember, *codeview.NestType, *codeview.Method,
			*codeview.OneMethod, *codeview.VFuncTab, *codeview.VirtualBaseClass:
			// Not stored at a fixed offset of the instance.
		default:
			return nil, fmt.Errorf("%w: field %s", ErrUnknownLeafKind, f.Kind())
		}
	}
	return children, nil
}

func (m *Materializer) formElements(a *codeview.Array, addr uint64, recursive bool, depth int) ([]*Record, error) {
	elemSize, err := m.graph.SizeOf(a.ElementType)
	if err != nil {
		return nil, err
	}
	if elemSize == 0 {
		m.sugar.Debugw("array of zero-size elements", "type", m.graph.TypeName(a.ElementType))
		return nil, nil
	}

	count := int(a.Size.Value) / elemSize
	children := make([]*Record, 0, count)
	for i := 0; i < count; i++ {
		c, err := m.form(a.ElementType, fmt.Sprintf("[%d]", i), addr+uint64(i*elemSize), recursive, depth+1)
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	return children, nil
}

// PointerLiteral returns a pointer record whose target is addr itself, as
// produced by a cast of an address to a pointer type.
func (m *Materializer) PointerLiteral(pointee codeview.TypeIndex, addr uint64) *Record {
	ti := m.graph.PointerTo(pointee)
	size, _ := m.graph.SizeOf(ti)
	return &Record{
		LevelName: m.graph.TypeName(ti),
		TypeName:  m.graph.TypeName(ti),
		Type:      ti,
		Address:   addr,
		Size:      size,
		IsPointer: true,
		Pointee:   pointee,
		Literal:   true,
		mem:       m.mem,
	}
}
