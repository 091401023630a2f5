package pdb

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jtang613/pdbview/internal/pdbtest"
	"github.com/jtang613/pdbview/pkg/pdb/codeview"
	"github.com/jtang613/pdbview/pkg/pdb/expr"
	"github.com/jtang613/pdbview/pkg/pdb/memory"
	"github.com/jtang613/pdbview/pkg/pdb/msf"
	"github.com/jtang613/pdbview/pkg/pdb/streams"
	"github.com/jtang613/pdbview/pkg/pdb/structs"
)

const imageBase = 0x400000

// leaf accumulates a little-endian record body.
type leaf []byte

func (l leaf) u16(v uint16) leaf { return binary.LittleEndian.AppendUint16(l, v) }
func (l leaf) u32(v uint32) leaf { return binary.LittleEndian.AppendUint32(l, v) }
func (l leaf) str(s string) leaf { return append(append(l, s...), 0) }

func member(ti uint32, offset uint16, name string) leaf {
	return leaf{}.u16(uint16(codeview.LF_MEMBER)).u16(3).u32(ti).u16(offset).str(name)
}

func structure(count uint16, prop codeview.Property, flist uint32, size uint16, name string) []byte {
	return leaf{}.u16(count).u16(uint16(prop)).u32(flist).u32(0).u32(0).u16(size).str(name)
}

// fixture describes the types, symbols and memory image of a small
// program: struct A {int attr; int other}, struct Node {Node *next; A a},
// enum Color, a typedef NODE, globals gNode and gA in .data, and an OMAP
// that moves .data from 0x3000 to 0x5000.
type fixture struct {
	pdb []byte
	mem []byte
}

func buildFixture(t *testing.T, machine uint16) fixture {
	t.Helper()

	tpi := pdbtest.NewTPI(streams.TypeIndexBegin)
	aFwd := tpi.Add(uint16(codeview.LF_STRUCTURE), structure(0, codeview.PropFwdRef, 0, 0, "A"))
	nodeFwd := tpi.Add(uint16(codeview.LF_STRUCTURE), structure(0, codeview.PropFwdRef, 0, 0, "Node"))
	nodePtr := tpi.Add(uint16(codeview.LF_POINTER), leaf{}.u32(nodeFwd).u32(8<<13|0x0c))

	aFields := tpi.Add(uint16(codeview.LF_FIELDLIST), append(member(0x74, 0, "attr"), member(0x74, 4, "other")...))
	tpi.Add(uint16(codeview.LF_STRUCTURE), structure(2, 0, aFields, 8, "A"))

	nodeFields := tpi.Add(uint16(codeview.LF_FIELDLIST), append(member(nodePtr, 0, "next"), member(aFwd, 8, "a")...))
	nodeDef := tpi.Add(uint16(codeview.LF_STRUCTURE), structure(2, 0, nodeFields, 16, "Node"))

	var enumFields leaf
	enumFields = enumFields.u16(uint16(codeview.LF_ENUMERATE)).u16(3).u16(0).str("RED")
	enumFields = enumFields.u16(uint16(codeview.LF_ENUMERATE)).u16(3).u16(5).str("BLUE")
	colorFields := tpi.Add(uint16(codeview.LF_FIELDLIST), enumFields)
	tpi.Add(uint16(codeview.LF_ENUM), leaf{}.u16(2).u16(0).u32(0x74).u32(colorFields).str("Color"))

	var syms pdbtest.Symbols
	syms.AddData(uint16(codeview.S_GDATA32), nodeDef, 2, 0x10, "gNode")
	syms.AddData(uint16(codeview.S_LDATA32), aFwd, 2, 0x20, "gA")
	syms.AddUDT(nodeFwd, "NODE")
	syms.AddConstant(0x74, 42, "kAnswer")

	var sections bytes.Buffer
	require.NoError(t, binary.Write(&sections, binary.LittleEndian, []pe.SectionHeader32{
		{Name: [8]uint8{'.', 't', 'e', 'x', 't'}, VirtualAddress: 0x1000, VirtualSize: 0x1000},
		{Name: [8]uint8{'.', 'd', 'a', 't', 'a'}, VirtualAddress: 0x3000, VirtualSize: 0x100},
	}))

	var omap []byte
	for _, e := range []streams.OMAPEntry{{From: 0x1000, To: 0x1000}, {From: 0x3000, To: 0x5000}} {
		omap = binary.LittleEndian.AppendUint32(omap, e.From)
		omap = binary.LittleEndian.AppendUint32(omap, e.To)
	}

	var info bytes.Buffer
	require.NoError(t, binary.Write(&info, binary.LittleEndian, streams.PDBInfoHeader{
		Version: streams.PDBStreamVersionVC70, Signature: 0x5f5e100, Age: 2,
		GUID: [16]byte{0x78, 0x56, 0x34, 0x12, 0xBC, 0x9A, 0xF0, 0xDE, 1, 2, 3, 4, 5, 6, 7, 8},
	}))

	dbi := pdbtest.NewDBI(machine)
	dbi.SymRecordStream = 5
	dbi.DebugStreams[streams.DbgSectionHdr] = 6
	dbi.DebugStreams[streams.DbgOmapFromSrc] = 7

	b := pdbtest.NewMSF(512)
	b.AddStream([]byte{})
	b.AddStream(info.Bytes())
	b.AddStream(tpi.Bytes())
	b.AddStream(dbi.Bytes())
	b.AddStream([]byte{})
	b.AddStream(syms.Bytes())
	b.AddStream(sections.Bytes())
	b.AddStream(omap)

	mem := make([]byte, 0x6000)
	binary.LittleEndian.PutUint64(mem[0x5010:], imageBase+0x5010) // gNode.next = &gNode
	binary.LittleEndian.PutUint32(mem[0x5018:], 7)                // gNode.a.attr
	binary.LittleEndian.PutUint32(mem[0x501c:], 0xfffffffd)       // gNode.a.other = -3
	binary.LittleEndian.PutUint32(mem[0x5024:], 11)               // gA.other

	return fixture{pdb: b.Bytes(), mem: mem}
}

func open(t *testing.T, opts ...Option) (*PDB, memory.Source) {
	t.Helper()
	f := buildFixture(t, streams.MachineAMD64)
	p, err := New(bytes.NewReader(f.pdb), append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, memory.NewBuffer(f.mem, imageBase)
}

func TestInfo(t *testing.T) {
	p, _ := open(t)
	info := p.Info()
	assert.Equal(t, "123456789ABCDEF00102030405060708", info.GUID)
	assert.EqualValues(t, 2, info.Age)
	assert.EqualValues(t, streams.PDBStreamVersionVC70, info.Version)
	assert.Equal(t, "x64", info.Machine)
	assert.Equal(t, 8, info.PointerSize)
	assert.Equal(t, 8, info.Streams)
	assert.True(t, info.OMAP)

	sections := p.Sections()
	require.Len(t, sections, 2)
	assert.Equal(t, SectionInfo{Index: 2, Name: ".data", VirtualAddress: 0x3000, VirtualSize: 0x100}, sections[1])
	assert.Empty(t, p.Modules())
}

func TestPointerSize(t *testing.T) {
	f := buildFixture(t, streams.MachineI386)
	p, err := New(bytes.NewReader(f.pdb))
	require.NoError(t, err)
	assert.Equal(t, 4, p.PointerSize())

	p, err = New(bytes.NewReader(f.pdb), WithPointerSize(8))
	require.NoError(t, err)
	assert.Equal(t, 8, p.PointerSize())
}

func TestTypes(t *testing.T) {
	p, _ := open(t)

	byName := make(map[string]TypeInfo)
	for _, ti := range p.Types() {
		byName[ti.Name] = ti
	}
	require.Len(t, byName, 3, "forward declarations are not listed")

	a := byName["A"]
	assert.Equal(t, "struct", a.Kind)
	assert.EqualValues(t, 8, a.Size)
	assert.Equal(t, []Member{
		{Name: "attr", TypeName: "int", Offset: 0},
		{Name: "other", TypeName: "int", Offset: 4},
	}, a.Members)

	node := byName["Node"]
	require.Len(t, node.Members, 2)
	assert.Equal(t, "Node *", node.Members[0].TypeName)
	assert.Equal(t, "A", node.Members[1].TypeName)

	color := byName["Color"]
	assert.Equal(t, "enum", color.Kind)
	require.Len(t, color.Members, 2)
	require.NotNil(t, color.Members[1].Value)
	assert.EqualValues(t, 5, *color.Members[1].Value)
}

func TestGlobals(t *testing.T) {
	p, _ := open(t)

	// Concurrent first use builds the table once.
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			if _, _, ok := p.Symbol("gNode"); !ok {
				return errors.New("gNode not found")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	globals := p.Globals()
	require.Len(t, globals, 2)
	assert.Equal(t, Global{
		Name: "gA", Kind: "S_LDATA32", Segment: 2, Offset: 0x20, RVA: 0x5020,
		TypeIndex: globals[0].TypeIndex, TypeName: "A", IsGlobal: false,
	}, globals[0])
	assert.Equal(t, "gNode", globals[1].Name)
	assert.EqualValues(t, 0x5010, globals[1].RVA)
	assert.True(t, globals[1].IsGlobal)

	assert.Equal(t, []Constant{{Name: "kAnswer", Value: 42, TypeIndex: 0x74}}, p.Constants())

	_, _, ok := p.Symbol("missing")
	assert.False(t, ok)
}

func TestEvaluate(t *testing.T) {
	p, mem := open(t)

	v, err := p.Evaluate("gNode.next->next->a.attr", imageBase, mem)
	require.NoError(t, err)
	require.True(t, v.IsRecord())
	assert.EqualValues(t, imageBase+0x5018, v.Record.Address)
	n, err := v.Record.Int()
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)

	v, err = p.Evaluate("gNode.a.other + kAnswer + BLUE", imageBase, mem)
	require.NoError(t, err)
	assert.EqualValues(t, -3+42+5, v.Scalar)

	v, err = p.Evaluate("gA.other", imageBase, mem)
	require.NoError(t, err)
	assert.EqualValues(t, imageBase+0x5024, v.Record.Address)

	v, err = p.Evaluate("sizeof(NODE) + sizeof(struct Node *)", imageBase, mem)
	require.NoError(t, err)
	assert.EqualValues(t, 16+8, v.Scalar)

	v, err = p.Evaluate("((NODE *)&gNode)->next", imageBase, mem)
	require.NoError(t, err)
	elem, err := p.DerefPointer(v.Record, 1, false)
	require.NoError(t, err)
	assert.EqualValues(t, imageBase+0x5020, elem.Address)

	_, err = p.Evaluate("gNode.missing", imageBase, mem)
	assert.ErrorIs(t, err, expr.ErrInvalidExpression)

	_, err = p.Evaluate("gNode.next->a", imageBase, nil)
	assert.ErrorIs(t, err, memory.ErrNoSource)
}

func TestMaterialize(t *testing.T) {
	p, mem := open(t, WithMaxDepth(4))

	rec, err := p.Materialize("Node", imageBase+0x5010, 1, true, mem)
	require.NoError(t, err)
	assert.Equal(t, structs.Map, rec.Shape)
	a, ok := rec.Child("a")
	require.True(t, ok)
	other, ok := a.Child("other")
	require.True(t, ok)
	v, err := other.Int()
	require.NoError(t, err)
	assert.EqualValues(t, -3, v)

	list, err := p.Materialize("Node", imageBase+0x5010, 2, false, mem)
	require.NoError(t, err)
	assert.Equal(t, structs.List, list.Shape)
	require.Equal(t, 2, list.Len())
	second, _ := list.At(1)
	assert.EqualValues(t, imageBase+0x5020, second.Address)

	_, err = p.Materialize("Missing", 0, 1, false, mem)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	f := buildFixture(t, streams.MachineAMD64)
	path := filepath.Join(t.TempDir(), "fixture.pdb")
	require.NoError(t, os.WriteFile(path, f.pdb, 0o600))

	p, err := Open(path)
	require.NoError(t, err)
	assert.Len(t, p.Globals(), 2)
	require.NoError(t, p.Close())

	_, err = Open(filepath.Join(t.TempDir(), "missing.pdb"))
	assert.Error(t, err)
}

func TestLoadErrors(t *testing.T) {
	f := buildFixture(t, streams.MachineAMD64)

	bad := append([]byte(nil), f.pdb...)
	bad[0] = 'X'
	_, err := New(bytes.NewReader(bad))
	assert.ErrorIs(t, err, msf.ErrFormat)

	// A TPI stream with an unknown version fails the load.
	tpi := pdbtest.NewTPI(streams.TypeIndexBegin).Bytes()
	binary.LittleEndian.PutUint32(tpi, 1234)
	b := pdbtest.NewMSF(512)
	b.AddStream([]byte{})
	b.AddStream([]byte{})
	b.AddStream(tpi)
	_, err = New(bytes.NewReader(b.Bytes()))
	assert.ErrorContains(t, err, "TPI stream")

	// Without type or debug streams the PDB still loads.
	b = pdbtest.NewMSF(512)
	b.AddStream([]byte{})
	p, err := New(bytes.NewReader(b.Bytes()))
	require.NoError(t, err)
	assert.Empty(t, p.Types())
	assert.Empty(t, p.Globals())
	assert.Equal(t, 8, p.PointerSize())
}
