// Package typegraph builds the resolved type graph of a TPI stream.
package typegraph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jtang613/pdbview/pkg/pdb/codeview"
	"github.com/jtang613/pdbview/pkg/pdb/streams"
)

// ErrUnresolved reports a type reference that names no record.
var ErrUnresolved = errors.New("unresolved type reference")

// anonymousPrefixes mark compiler-generated names that are not indexed.
var anonymousPrefixes = []string{"<unnamed-", "<anonymous-", "__unnamed"}

// Enumerator is a named enum constant.
type Enumerator struct {
	Value int64
	Type  codeview.TypeIndex
}

// Graph is the resolved type graph. The arena holds one slot per record
// from Begin; a nil slot is a dropped forward reference. A Graph is not
// modified after New returns, apart from the synthetic pointer table used
// by ResolveTypeName.
type Graph struct {
	begin   codeview.TypeIndex
	leaves  []codeview.Leaf
	fwd     map[codeview.TypeIndex]codeview.TypeIndex
	ptrSize int

	byName      map[string]codeview.TypeIndex
	enums       map[string]codeview.TypeIndex
	typedefs    map[string]codeview.TypeIndex
	enumerators map[string]Enumerator

	mu       sync.Mutex
	synth    []codeview.Leaf
	synthPtr map[codeview.TypeIndex]codeview.TypeIndex

	sugar *zap.SugaredLogger
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger used for unresolved references.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Graph) {
		if logger != nil {
			g.sugar = logger.Sugar()
		}
	}
}

// WithPointerSize sets the width of pointers whose record does not say.
func WithPointerSize(n int) Option {
	return func(g *Graph) {
		if n > 0 {
			g.ptrSize = n
		}
	}
}

// WithTypedefs adds typedef names (from S_UDT symbols) for name lookups.
func WithTypedefs(typedefs map[string]codeview.TypeIndex) Option {
	return func(g *Graph) {
		for name, ti := range typedefs {
			g.typedefs[name] = ti
		}
	}
}

// Build decodes every record of tpi and builds the graph. A record that
// fails to decode is kept as *codeview.Unknown and logged.
func Build(tpi *streams.TPIStream, opts ...Option) (*Graph, error) {
	if tpi == nil {
		return nil, errors.New("no TPI stream")
	}

	g := newGraph(opts)
	leaves := make([]codeview.Leaf, len(tpi.TypeRecords))
	for i, rec := range tpi.TypeRecords {
		kind := codeview.LeafKind(rec.Kind)
		l, err := codeview.ParseLeaf(kind, rec.Data)
		if err != nil {
			g.sugar.Warnw("malformed type record", "index", fmt.Sprintf("%#x", rec.Index), "error", err)
			l = &codeview.Unknown{Tag: kind, Data: rec.Data}
		}
		leaves[i] = l
	}

	g.init(codeview.TypeIndex(tpi.Header.TypeIndexBegin), leaves)
	return g, nil
}

// New builds a graph over already decoded leaves, leaves[i] being the record
// for index begin+i.
func New(leaves []codeview.Leaf, begin codeview.TypeIndex, opts ...Option) *Graph {
	g := newGraph(opts)
	g.init(begin, leaves)
	return g
}

func newGraph(opts []Option) *Graph {
	g := &Graph{
		ptrSize:     8,
		byName:      make(map[string]codeview.TypeIndex),
		enums:       make(map[string]codeview.TypeIndex),
		typedefs:    make(map[string]codeview.TypeIndex),
		enumerators: make(map[string]Enumerator),
		synthPtr:    make(map[codeview.TypeIndex]codeview.TypeIndex),
		sugar:       zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Graph) init(begin codeview.TypeIndex, leaves []codeview.Leaf) {
	g.begin = begin
	g.leaves, g.fwd = EliminateForwardRefs(leaves, begin, g.sugar)

	for name, ti := range g.typedefs {
		def, ok := g.fwd[ti]
		switch {
		case !ok:
		case def == codeview.NoType:
			delete(g.typedefs, name)
		default:
			g.typedefs[name] = def
		}
	}

	unresolved := 0
	for _, l := range g.leaves {
		if l == nil {
			continue
		}
		for _, ref := range codeview.Refs(l) {
			if _, ok := g.Lookup(ref); !ok {
				unresolved++
				g.sugar.Debugw("unresolved type reference", "ref", fmt.Sprintf("%#x", uint32(ref)), "kind", l.Kind())
			}
		}
	}
	if unresolved > 0 {
		g.sugar.Infow("type graph has unresolved references", "count", unresolved)
	}

	g.index()
}

// index fills the name tables. The first definition of a name wins.
func (g *Graph) index() {
	for i, l := range g.leaves {
		ti := g.begin + codeview.TypeIndex(i)
		switch v := l.(type) {
		case *codeview.Structure:
			g.addName(v.Name, v.Size.Value, ti)
		case *codeview.Union:
			g.addName(v.Name, v.Size.Value, ti)
		case *codeview.Enum:
			if v.Name == "" || isAnonymous(v.Name) {
				continue
			}
			if _, dup := g.enums[v.Name]; !dup {
				g.enums[v.Name] = ti
			}
			fields, err := g.Fields(v.FieldList)
			if err != nil {
				continue
			}
			for _, f := range fields {
				e, ok := f.(*codeview.Enumerate)
				if !ok {
					continue
				}
				if _, dup := g.enumerators[e.Name]; !dup {
					g.enumerators[e.Name] = Enumerator{Value: e.Value.Int(), Type: ti}
				}
			}
		}
	}
}

func (g *Graph) addName(name string, size uint64, ti codeview.TypeIndex) {
	if name == "" || size == 0 || isAnonymous(name) {
		return
	}
	if _, dup := g.byName[name]; !dup {
		g.byName[name] = ti
	}
}

func isAnonymous(name string) bool {
	for _, p := range anonymousPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Begin returns the first record index.
func (g *Graph) Begin() codeview.TypeIndex { return g.begin }

// Len returns the number of arena slots, dropped ones included.
func (g *Graph) Len() int { return len(g.leaves) }

// PointerSize returns the default pointer width.
func (g *Graph) PointerSize() int { return g.ptrSize }

// Leaves returns a copy of the arena.
func (g *Graph) Leaves() []codeview.Leaf {
	return append([]codeview.Leaf(nil), g.leaves...)
}

// Lookup returns the leaf for ti. Basic pointer types come back as
// *codeview.Pointer to the direct basic type.
func (g *Graph) Lookup(ti codeview.TypeIndex) (codeview.Leaf, bool) {
	if ti == codeview.NoType {
		return nil, false
	}
	if codeview.IsBasic(ti, g.begin) {
		b, ok := codeview.LookupBasic(ti)
		if !ok {
			return nil, false
		}
		mode := codeview.BasicMode(ti)
		if mode == codeview.BasicDirect {
			return b, true
		}
		size := codeview.BasicPointerSize(mode)
		return &codeview.Pointer{Referent: b.Index, Attributes: uint32(size) << 13}, true
	}

	i := int(ti - g.begin)
	if i < len(g.leaves) {
		l := g.leaves[i]
		return l, l != nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	i -= len(g.leaves)
	if i < len(g.synth) {
		return g.synth[i], true
	}
	return nil, false
}

// Canonical maps the index of an eliminated forward reference to its
// definition, or NoType when none exists. Other indices are returned
// unchanged.
func (g *Graph) Canonical(ti codeview.TypeIndex) codeview.TypeIndex {
	if def, ok := g.fwd[ti]; ok {
		return def
	}
	return ti
}

// MustLookup is Lookup with an error wrapping ErrUnresolved.
func (g *Graph) MustLookup(ti codeview.TypeIndex) (codeview.Leaf, error) {
	l, ok := g.Lookup(ti)
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrUnresolved, uint32(ti))
	}
	return l, nil
}

// ByName returns the structure, class or union named name.
func (g *Graph) ByName(name string) (codeview.TypeIndex, bool) {
	ti, ok := g.byName[name]
	return ti, ok
}

// Enumerator returns the enum constant named name.
func (g *Graph) Enumerator(name string) (Enumerator, bool) {
	e, ok := g.enumerators[name]
	return e, ok
}

// Names returns the indexed structure, class and union names, sorted.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.byName))
	for name := range g.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fields returns the entries of the field list ti, following LF_INDEX
// continuations.
func (g *Graph) Fields(ti codeview.TypeIndex) ([]codeview.Leaf, error) {
	var out []codeview.Leaf
	seen := make(map[codeview.TypeIndex]bool)
	for ti != codeview.NoType {
		if seen[ti] {
			return out, fmt.Errorf("field list %#x continues into itself", uint32(ti))
		}
		seen[ti] = true

		l, err := g.MustLookup(ti)
		if err != nil {
			return out, err
		}
		fl, ok := l.(*codeview.FieldList)
		if !ok {
			return out, fmt.Errorf("type %#x is %s, not a field list", uint32(ti), l.Kind())
		}

		ti = codeview.NoType
		for _, f := range fl.Fields {
			if idx, ok := f.(*codeview.Index); ok {
				ti = idx.Continuation
				continue
			}
			out = append(out, f)
		}
	}
	return out, nil
}

// Member finds the data member name of the structure or union ti,
// searching base classes too. The returned offset is relative to ti.
func (g *Graph) Member(ti codeview.TypeIndex, name string) (*codeview.Member, uint64, bool) {
	l, ok := g.Lookup(ti)
	if !ok {
		return nil, 0, false
	}
	if m, ok := l.(*codeview.Modifier); ok {
		return g.Member(m.Modified, name)
	}

	var flist codeview.TypeIndex
	switch v := l.(type) {
	case *codeview.Structure:
		flist = v.FieldList
	case *codeview.Union:
		flist = v.FieldList
	default:
		return nil, 0, false
	}

	fields, _ := g.Fields(flist)
	for _, f := range fields {
		if m, ok := f.(*codeview.Member); ok && m.Name == name {
			return m, m.Offset.Value, true
		}
	}
	for _, f := range fields {
		if b, ok := f.(*codeview.BaseClass); ok {
			if m, off, ok := g.Member(b.Type, name); ok {
				return m, b.Offset.Value + off, true
			}
		}
	}
	return nil, 0, false
}
