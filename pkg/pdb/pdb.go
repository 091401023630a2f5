package pdb

import (
	"bytes"
	"debug/pe"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/jtang613/pdbview/pkg/pdb/codeview"
	"github.com/jtang613/pdbview/pkg/pdb/expr"
	"github.com/jtang613/pdbview/pkg/pdb/memory"
	"github.com/jtang613/pdbview/pkg/pdb/msf"
	"github.com/jtang613/pdbview/pkg/pdb/streams"
	"github.com/jtang613/pdbview/pkg/pdb/structs"
	"github.com/jtang613/pdbview/pkg/pdb/typegraph"
)

// Stream indices
const (
	StreamPDB = 1 // PDB info stream
	StreamTPI = 2 // Type info stream
	StreamDBI = 3 // Debug info stream
	StreamIPI = 4 // ID info stream
)

// PDB represents an opened PDB file.
type PDB struct {
	msf      *msf.MSF
	pdbInfo  *streams.PDBInfo
	tpi      *streams.TPIStream
	dbi      *streams.DBIStream
	sections []pe.SectionHeader32
	omap     streams.OMAP
	symbols  []codeview.SymbolRecord
	graph    *typegraph.Graph
	eval     *expr.Evaluator

	ptrSize  int
	maxDepth int

	tableSFG singleflight.Group
	tableMu  sync.Mutex
	table    *symbolTable

	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

// Option configures a PDB.
type Option func(*PDB)

// WithLogger sets the logger shared by the loader, the type graph and the
// evaluator.
func WithLogger(logger *zap.Logger) Option {
	return func(p *PDB) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPointerSize overrides the pointer width implied by the DBI machine
// type.
func WithPointerSize(n int) Option {
	return func(p *PDB) {
		if n == 4 || n == 8 {
			p.ptrSize = n
		}
	}
}

// WithMaxDepth bounds recursive materialization.
func WithMaxDepth(depth int) Option {
	return func(p *PDB) {
		p.maxDepth = depth
	}
}

// Open opens a PDB file and parses its core structures.
func Open(path string, opts ...Option) (*PDB, error) {
	m, err := msf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MSF: %w", err)
	}
	p, err := load(m, opts)
	if err != nil {
		m.Close()
		return nil, err
	}
	return p, nil
}

// New parses a PDB held by r.
func New(r io.ReaderAt, opts ...Option) (*PDB, error) {
	m, err := msf.New(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read MSF: %w", err)
	}
	return load(m, opts)
}

func load(m *msf.MSF, opts []Option) (*PDB, error) {
	p := &PDB{msf: m, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	p.sugar = p.logger.Sugar()

	// The info, type and debug streams do not depend on each other.
	var g errgroup.Group
	g.Go(func() error {
		data, ok, err := p.readStream(StreamPDB)
		if err != nil || !ok {
			return err
		}
		info, err := streams.ReadPDBInfo(bytes.NewReader(data))
		if err != nil {
			p.sugar.Warnw("malformed PDB info stream", "error", err)
			return nil
		}
		p.pdbInfo = info
		return nil
	})
	g.Go(func() error {
		data, ok, err := p.readStream(StreamTPI)
		if err != nil || !ok {
			return err
		}
		tpi, err := streams.ReadTPIStream(data)
		if err != nil {
			return fmt.Errorf("TPI stream: %w", err)
		}
		p.tpi = tpi
		return nil
	})
	g.Go(func() error {
		data, ok, err := p.readStream(StreamDBI)
		if err != nil || !ok {
			return err
		}
		dbi, err := streams.ReadDBIStream(data)
		if err != nil {
			return fmt.Errorf("DBI stream: %w", err)
		}
		p.dbi = dbi
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := p.loadDebugStreams(); err != nil {
		return nil, err
	}

	if p.ptrSize == 0 {
		p.ptrSize = 8
		if p.dbi != nil {
			p.ptrSize = p.dbi.PointerSize()
		}
	}

	gopts := []typegraph.Option{
		typegraph.WithLogger(p.logger),
		typegraph.WithPointerSize(p.ptrSize),
		typegraph.WithTypedefs(p.typedefs()),
	}
	if p.tpi != nil {
		graph, err := typegraph.Build(p.tpi, gopts...)
		if err != nil {
			return nil, err
		}
		p.graph = graph
	} else {
		p.sugar.Infow("no type stream")
		p.graph = typegraph.New(nil, streams.TypeIndexBegin, gopts...)
	}

	p.eval = expr.New(p.graph, p,
		expr.WithLogger(p.logger),
		expr.WithMaterializerOptions(p.materializerOptions()...),
	)

	p.sugar.Debugw("PDB loaded",
		"streams", m.NumStreams(),
		"types", p.graph.Len(),
		"sections", len(p.sections),
		"omap", len(p.omap),
		"pointerSize", p.ptrSize,
	)
	return p, nil
}

// readStream returns the contents of stream index. ok is false when the
// container has no such stream or it is empty.
func (p *PDB) readStream(index int) ([]byte, bool, error) {
	if index >= p.msf.NumStreams() {
		return nil, false, nil
	}
	s, err := p.msf.Stream(index)
	if err != nil {
		return nil, false, err
	}
	if s.Size() == 0 {
		return nil, false, nil
	}
	data, err := s.ReadAll()
	if err != nil {
		return nil, false, fmt.Errorf("stream %d: %w", index, err)
	}
	return data, true, nil
}

// loadDebugStreams reads the streams named by the DBI stream: section
// headers, the OMAP from source and the symbol records.
func (p *PDB) loadDebugStreams() error {
	if p.dbi == nil {
		return nil
	}

	if idx, ok := p.dbi.DebugStream(streams.DbgSectionHdr); ok {
		data, ok, err := p.readStream(idx)
		if err != nil {
			return err
		}
		if ok {
			if p.sections, err = streams.ReadSectionHeaders(data); err != nil {
				p.sugar.Warnw("malformed section header stream", "stream", idx, "error", err)
			}
		}
	}

	if idx, ok := p.dbi.DebugStream(streams.DbgOmapFromSrc); ok {
		data, ok, err := p.readStream(idx)
		if err != nil {
			return err
		}
		if ok {
			if p.omap, err = streams.ReadOMAP(data); err != nil {
				p.sugar.Warnw("malformed OMAP stream", "stream", idx, "error", err)
			}
		}
	}

	if idx := p.dbi.Header.SymRecordStream; idx != streams.NoStream {
		data, ok, err := p.readStream(int(idx))
		if err != nil {
			return err
		}
		if ok {
			p.symbols = codeview.ParseSymbols(data)
		}
	}
	return nil
}

// typedefs collects S_UDT names so that casts and sizeof accept them.
func (p *PDB) typedefs() map[string]codeview.TypeIndex {
	out := make(map[string]codeview.TypeIndex)
	for _, sym := range p.symbols {
		if sym.Kind != codeview.S_UDT {
			continue
		}
		udt, err := codeview.ParseUDTSym(sym.Data)
		if err != nil {
			p.sugar.Debugw("malformed UDT symbol", "error", err)
			continue
		}
		if _, dup := out[udt.Name]; !dup {
			out[udt.Name] = udt.TypeIndex
		}
	}
	return out
}

func (p *PDB) materializerOptions() []structs.Option {
	opts := []structs.Option{structs.WithLogger(p.logger)}
	if p.maxDepth > 0 {
		opts = append(opts, structs.WithMaxDepth(p.maxDepth))
	}
	return opts
}

// Close closes the PDB file.
func (p *PDB) Close() error {
	if p.msf != nil {
		return p.msf.Close()
	}
	return nil
}

// Graph returns the type graph.
func (p *PDB) Graph() *typegraph.Graph { return p.graph }

// PointerSize returns the pointer width used for this PDB.
func (p *PDB) PointerSize() int { return p.ptrSize }

// Info returns basic PDB file information.
func (p *PDB) Info() *Info {
	info := &Info{
		Streams:     p.msf.NumStreams(),
		PointerSize: p.ptrSize,
		Types:       p.graph.Len(),
		OMAP:        len(p.omap) > 0,
	}

	if p.pdbInfo != nil {
		info.GUID = p.pdbInfo.GUIDString()
		info.Age = p.pdbInfo.Age
		info.Version = p.pdbInfo.Version
		info.Signature = p.pdbInfo.Signature
		info.NamedStreams = p.pdbInfo.NamedStreams
	}

	if p.dbi != nil {
		info.Machine = streams.MachineTypeName(p.dbi.Header.Machine)
	}

	return info
}

// Modules returns information about compiled modules.
func (p *PDB) Modules() []ModuleInfo {
	if p.dbi == nil {
		return nil
	}

	modules := make([]ModuleInfo, len(p.dbi.Modules))
	for i, mod := range p.dbi.Modules {
		modules[i] = ModuleInfo{
			Name:         mod.ModuleName,
			ObjectFile:   mod.ObjFileName,
			SymbolStream: mod.ModuleSymStream,
			SymbolSize:   mod.SymByteSize,
			SourceFiles:  mod.SourceFileCount,
		}
	}
	return modules
}

// Sections returns the PE section headers recorded in the PDB.
func (p *PDB) Sections() []SectionInfo {
	out := make([]SectionInfo, len(p.sections))
	for i := range p.sections {
		h := &p.sections[i]
		out[i] = SectionInfo{
			Index:          uint16(i + 1),
			Name:           streams.SectionName(h),
			VirtualAddress: h.VirtualAddress,
			VirtualSize:    h.VirtualSize,
		}
	}
	return out
}

// Types returns all named structures, classes, unions and enums.
func (p *PDB) Types() []TypeInfo {
	var types []TypeInfo
	begin := p.graph.Begin()

	for i, l := range p.graph.Leaves() {
		ti := begin + codeview.TypeIndex(i)
		var (
			kind  string
			flist codeview.TypeIndex
			size  uint64
		)
		switch v := l.(type) {
		case *codeview.Structure:
			kind, flist, size = "struct", v.FieldList, v.Size.Value
			if v.Class {
				kind = "class"
			}
		case *codeview.Union:
			kind, flist, size = "union", v.FieldList, v.Size.Value
		case *codeview.Enum:
			kind, flist, size = "enum", v.FieldList, 4
		default:
			continue
		}
		name := codeview.Name(l)
		if name == "" {
			continue
		}

		info := TypeInfo{
			Index: uint32(ti),
			Kind:  kind,
			Name:  name,
			Size:  size,
		}
		fields, err := p.graph.Fields(flist)
		if err != nil && flist != codeview.NoType {
			p.sugar.Debugw("incomplete field list", "type", name, "error", err)
		}
		for _, f := range fields {
			switch m := f.(type) {
			case *codeview.Member:
				info.Members = append(info.Members, Member{
					Name:     m.Name,
					TypeName: p.graph.TypeName(m.Type),
					Offset:   m.Offset.Value,
				})
			case *codeview.Enumerate:
				v := m.Value.Int()
				info.Members = append(info.Members, Member{Name: m.Name, Value: &v})
			}
		}
		types = append(types, info)
	}

	return types
}

// Materialize forms the structure name at addr reading values from mem.
// A count above one returns a list of count consecutive instances.
func (p *PDB) Materialize(name string, addr uint64, count int, recursive bool, mem memory.Source) (*structs.Record, error) {
	m := structs.NewMaterializer(p.graph, mem, p.materializerOptions()...)
	return m.Materialize(name, addr, count, recursive)
}

// Evaluate evaluates a C expression. Globals live at virtualBase plus their
// image-relative address.
func (p *PDB) Evaluate(expression string, virtualBase uint64, mem memory.Source) (expr.Value, error) {
	return p.eval.Evaluate(expression, virtualBase, mem)
}

// DerefPointer materializes element index of the pointer record rec.
func (p *PDB) DerefPointer(rec *structs.Record, index int64, allowNull bool) (*structs.Record, error) {
	return p.eval.DerefPointer(rec, index, allowNull)
}
