package pdb

import (
	"sort"

	"github.com/jtang613/pdbview/pkg/pdb/codeview"
)

// symbolTable indexes the data and constant symbols of the symbol record
// stream by name. The first record of a name wins.
type symbolTable struct {
	globals   map[string]Global
	constants map[string]Constant
}

// globalTable returns the table, building it on first use. Concurrent first
// callers share one build.
func (p *PDB) globalTable() *symbolTable {
	p.tableMu.Lock()
	t := p.table
	p.tableMu.Unlock()
	if t != nil {
		return t
	}

	res, _, shared := p.tableSFG.Do("globals", func() (interface{}, error) {
		t := p.buildSymbolTable()
		p.tableMu.Lock()
		p.table = t
		p.tableMu.Unlock()
		return t, nil
	})
	if shared {
		p.sugar.Debugw("shared symbol table build")
	}
	return res.(*symbolTable)
}

func (p *PDB) buildSymbolTable() *symbolTable {
	t := &symbolTable{
		globals:   make(map[string]Global),
		constants: make(map[string]Constant),
	}

	for _, sym := range p.symbols {
		switch {
		case codeview.IsDataSymbol(sym.Kind):
			data, err := codeview.ParseDataSym(sym.Data)
			if err != nil {
				p.sugar.Debugw("malformed data symbol", "kind", sym.Kind, "error", err)
				continue
			}
			if _, dup := t.globals[data.Name]; dup {
				continue
			}
			ti := p.graph.Canonical(data.TypeIndex)
			t.globals[data.Name] = Global{
				Name:      data.Name,
				Kind:      sym.Kind.String(),
				Segment:   data.Segment,
				Offset:    data.Offset,
				RVA:       p.rva(data.Segment, data.Offset),
				TypeIndex: uint32(ti),
				TypeName:  p.graph.TypeName(ti),
				IsGlobal:  codeview.IsGlobalSymbol(sym.Kind),
			}
		case sym.Kind == codeview.S_CONSTANT:
			c, err := codeview.ParseConstantSym(sym.Data)
			if err != nil {
				p.sugar.Debugw("malformed constant symbol", "error", err)
				continue
			}
			if _, dup := t.constants[c.Name]; dup {
				continue
			}
			t.constants[c.Name] = Constant{
				Name:      c.Name,
				Value:     c.Value.Int(),
				TypeIndex: uint32(c.TypeIndex),
			}
		}
	}

	p.sugar.Debugw("symbol table built", "globals", len(t.globals), "constants", len(t.constants))
	return t
}

// rva converts a section-relative address to an image-relative one. The
// section's virtual address is added and the result goes through the OMAP
// when the image was rearranged after linking.
func (p *PDB) rva(segment uint16, offset uint32) uint64 {
	if segment == 0 || int(segment) > len(p.sections) {
		if len(p.sections) > 0 {
			p.sugar.Debugw("symbol in unknown section", "segment", segment, "offset", offset)
		}
		return uint64(p.omap.Remap(offset))
	}
	return uint64(p.omap.Remap(p.sections[segment-1].VirtualAddress + offset))
}

// Symbol resolves a global variable to its image-relative address and type.
func (p *PDB) Symbol(name string) (uint64, codeview.TypeIndex, bool) {
	g, ok := p.globalTable().globals[name]
	if !ok {
		return 0, codeview.NoType, false
	}
	return g.RVA, codeview.TypeIndex(g.TypeIndex), true
}

// Constant resolves an S_CONSTANT symbol.
func (p *PDB) Constant(name string) (int64, bool) {
	c, ok := p.globalTable().constants[name]
	return c.Value, ok
}

// Globals returns the global and static variables sorted by name.
func (p *PDB) Globals() []Global {
	t := p.globalTable()
	out := make([]Global, 0, len(t.globals))
	for _, g := range t.globals {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Constants returns the named constants sorted by name.
func (p *PDB) Constants() []Constant {
	t := p.globalTable()
	out := make([]Constant, 0, len(t.constants))
	for _, c := range t.constants {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
