package typegraph

import (
	"fmt"
	"strings"

	"github.com/jtang613/pdbview/pkg/pdb/codeview"
)

// maxNameDepth bounds the reference chain followed when naming or sizing.
const maxNameDepth = 32

// TypeName renders a C-like name for ti: "A" for a structure named A,
// "int *" for a pointer, "char[16]" for an array.
func (g *Graph) TypeName(ti codeview.TypeIndex) string {
	return g.typeName(ti, 0)
}

func (g *Graph) typeName(ti codeview.TypeIndex, depth int) string {
	if ti == codeview.NoType {
		return "<no type>"
	}
	if depth > maxNameDepth {
		return "..."
	}
	l, ok := g.Lookup(ti)
	if !ok {
		return fmt.Sprintf("<unresolved %#x>", uint32(ti))
	}

	switch v := l.(type) {
	case *codeview.Basic:
		return v.Name
	case *codeview.Structure, *codeview.Union, *codeview.Enum:
		return codeview.Name(v)
	case *codeview.Pointer:
		suffix := " *"
		if v.IsReference() {
			suffix = " &"
		}
		return g.typeName(v.Referent, depth+1) + suffix
	case *codeview.Modifier:
		var quals []string
		if v.Modifiers&codeview.ModConst != 0 {
			quals = append(quals, "const")
		}
		if v.Modifiers&codeview.ModVolatile != 0 {
			quals = append(quals, "volatile")
		}
		quals = append(quals, g.typeName(v.Modified, depth+1))
		return strings.Join(quals, " ")
	case *codeview.Array:
		elem := g.typeName(v.ElementType, depth+1)
		size, err := g.sizeOf(v.ElementType, depth+1)
		if err != nil || size == 0 {
			return elem + "[]"
		}
		return fmt.Sprintf("%s[%d]", elem, v.Size.Value/uint64(size))
	case *codeview.Bitfield:
		return fmt.Sprintf("%s : %d", g.typeName(v.Type, depth+1), v.Length)
	case *codeview.Procedure:
		return g.typeName(v.ReturnType, depth+1) + " ()"
	case *codeview.MemberFunction:
		return g.typeName(v.ReturnType, depth+1) + " " + g.typeName(v.ClassType, depth+1) + "::()"
	}
	return l.Kind().String()
}

// SizeOf returns the size in bytes of ti. Enums are always 4 bytes.
func (g *Graph) SizeOf(ti codeview.TypeIndex) (int, error) {
	return g.sizeOf(ti, 0)
}

func (g *Graph) sizeOf(ti codeview.TypeIndex, depth int) (int, error) {
	if depth > maxNameDepth {
		return 0, fmt.Errorf("type %#x: reference chain too deep", uint32(ti))
	}
	l, err := g.MustLookup(ti)
	if err != nil {
		return 0, err
	}

	switch v := l.(type) {
	case *codeview.Basic:
		return v.Size, nil
	case *codeview.Structure:
		return int(v.Size.Value), nil
	case *codeview.Union:
		return int(v.Size.Value), nil
	case *codeview.Enum:
		return 4, nil
	case *codeview.Array:
		return int(v.Size.Value), nil
	case *codeview.Pointer:
		if n := v.Size(); n > 0 {
			return n, nil
		}
		return g.ptrSize, nil
	case *codeview.Modifier:
		return g.sizeOf(v.Modified, depth+1)
	case *codeview.Bitfield:
		return g.sizeOf(v.Type, depth+1)
	case *codeview.Procedure, *codeview.MemberFunction:
		return 0, nil
	}
	return 0, fmt.Errorf("type %#x: %s has no size", uint32(ti), l.Kind())
}

// PointerTo returns the index of a pointer to ti. Indices past the arena
// are synthetic and only meaningful to this graph.
func (g *Graph) PointerTo(ti codeview.TypeIndex) codeview.TypeIndex {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.synthPtr[ti]; ok {
		return p
	}
	p := g.begin + codeview.TypeIndex(len(g.leaves)+len(g.synth))
	g.synth = append(g.synth, &codeview.Pointer{
		Referent:   ti,
		Attributes: uint32(g.ptrSize) << 13,
	})
	g.synthPtr[ti] = p
	return p
}

// ResolveTypeName parses a C type spelling into a type index. It accepts
// basic names ("unsigned long"), structure, union and enum names with or
// without their keyword, typedef names, const/volatile qualifiers and any
// number of trailing '*'.
func (g *Graph) ResolveTypeName(spelling string) (codeview.TypeIndex, error) {
	s := strings.TrimSpace(spelling)
	stars := 0
	for strings.HasSuffix(s, "*") {
		stars++
		s = strings.TrimSpace(strings.TrimSuffix(s, "*"))
	}

	words := strings.Fields(s)
	kept := words[:0]
	keyword := ""
	for _, w := range words {
		switch w {
		case "const", "volatile":
		case "struct", "class", "union", "enum":
			keyword = w
		default:
			kept = append(kept, w)
		}
	}
	base := strings.Join(kept, " ")
	if base == "" {
		return codeview.NoType, fmt.Errorf("%w: empty type name %q", ErrUnresolved, spelling)
	}

	ti, ok := g.resolveBase(base, keyword)
	if !ok {
		return codeview.NoType, fmt.Errorf("%w: unknown type %q", ErrUnresolved, base)
	}
	for i := 0; i < stars; i++ {
		ti = g.PointerTo(ti)
	}
	return ti, nil
}

func (g *Graph) resolveBase(name, keyword string) (codeview.TypeIndex, bool) {
	switch keyword {
	case "struct", "class", "union":
		ti, ok := g.byName[name]
		return ti, ok
	case "enum":
		ti, ok := g.enums[name]
		return ti, ok
	}

	if ti, ok := codeview.BasicByName(name); ok {
		return ti, true
	}
	if ti, ok := g.byName[name]; ok {
		return ti, true
	}
	if ti, ok := g.typedefs[name]; ok {
		return ti, true
	}
	ti, ok := g.enums[name]
	return ti, ok
}

// IsTypeName reports whether name resolves to a type. The expression
// parser uses it to tell casts from parenthesized operands.
func (g *Graph) IsTypeName(name string) bool {
	_, err := g.ResolveTypeName(name)
	return err == nil
}
