package structs

import (
	"encoding/binary"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/pdbview/pkg/pdb/codeview"
	"github.com/jtang613/pdbview/pkg/pdb/memory"
	"github.com/jtang613/pdbview/pkg/pdb/typegraph"
)

const base = 0x2000

func num(v uint64) codeview.Numeric { return codeview.Numeric{Value: v} }

func testGraph() *typegraph.Graph {
	leaves := []codeview.Leaf{
		/* 0x1000 */ &codeview.FieldList{Fields: []codeview.Leaf{
			&codeview.Member{Type: 0x74, Offset: num(0), Name: "x"},
			&codeview.Member{Type: 0x1001, Offset: num(4), Name: "flags"},
			&codeview.Member{Type: 0x1002, Offset: num(4), Name: "level"},
		}},
		/* 0x1001 */ &codeview.Bitfield{Type: 0x75, Length: 3, Position: 0},
		/* 0x1002 */ &codeview.Bitfield{Type: 0x74, Length: 5, Position: 3},
		/* 0x1003 */ &codeview.Structure{Count: 3, FieldList: 0x1000, Size: num(8), Name: "Inner"},
		/* 0x1004 */ &codeview.Array{ElementType: 0x1003, IndexType: 0x22, Size: num(16)},
		/* 0x1005 */ &codeview.Pointer{Referent: 0x1003, Attributes: 8 << 13},
		/* 0x1006 */ &codeview.FieldList{Fields: []codeview.Leaf{
			&codeview.Member{Type: 0x1003, Offset: num(0), Name: "in"},
			&codeview.Member{Type: 0x1004, Offset: num(8), Name: "arr"},
			&codeview.Member{Type: 0x1005, Offset: num(24), Name: "p"},
			&codeview.Member{Type: 0x100a, Offset: num(32), Name: "s"},
			&codeview.StaticMember{Type: 0x74, Name: "count"},
			&codeview.NestType{Type: 0x1003, Name: "Inner"},
		}},
		/* 0x1007 */ &codeview.Structure{Count: 6, FieldList: 0x1006, Size: num(40), Name: "Outer"},
		/* 0x1008 */ &codeview.FieldList{Fields: []codeview.Leaf{
			&codeview.Unknown{Tag: 0x1234},
		}},
		/* 0x1009 */ &codeview.Structure{FieldList: 0x1008, Size: num(4), Name: "Bad"},
		/* 0x100a */ &codeview.Modifier{Modified: 0x11, Modifiers: codeview.ModVolatile},
	}
	return typegraph.New(leaves, 0x1000)
}

func outerImage() []byte {
	img := make([]byte, 40)
	binary.LittleEndian.PutUint32(img[0:], 0xfffffffe) // in.x = -2
	img[4] = 0b10101_101                               // in.flags = 5, in.level = -11
	binary.LittleEndian.PutUint32(img[8:], 7)          // arr[0].x
	binary.LittleEndian.PutUint32(img[16:], 9)         // arr[1].x
	binary.LittleEndian.PutUint64(img[24:], base+8)    // p
	binary.LittleEndian.PutUint16(img[32:], 0xffff)    // s = -1
	return img
}

func TestFormRecursive(t *testing.T) {
	g := testGraph()
	buf := memory.NewBuffer(outerImage(), base)
	m := NewMaterializer(g, buf)

	rec, err := m.Materialize("Outer", base, 1, true)
	require.NoError(t, err)
	assert.Equal(t, Map, rec.Shape)
	assert.Equal(t, 40, rec.Size)
	require.Equal(t, 4, rec.Len(), "static members and nested types are not fields")

	in, ok := rec.Child("in")
	require.True(t, ok)
	x, _ := in.Child("x")
	v, err := x.Int()
	require.NoError(t, err)
	assert.EqualValues(t, -2, v)

	flags, _ := in.Child("flags")
	assert.Equal(t, &BitRange{Offset: 0, Size: 3}, flags.Bits)
	uv, err := flags.Value()
	require.NoError(t, err)
	assert.EqualValues(t, 5, uv)

	level, _ := in.Child("level")
	v, err = level.Int()
	require.NoError(t, err)
	assert.EqualValues(t, -11, v)

	arr, _ := rec.Child("arr")
	assert.Equal(t, List, arr.Shape)
	require.Equal(t, 2, arr.Len())
	second, _ := arr.At(1)
	assert.Equal(t, "[1]", second.LevelName)
	assert.EqualValues(t, base+16, second.Address)
	sx, _ := second.Child("x")
	uv, err = sx.Value()
	require.NoError(t, err)
	assert.EqualValues(t, 9, uv)

	p, _ := rec.Child("p")
	assert.True(t, p.IsPointer)
	assert.EqualValues(t, 0x1003, p.Pointee)
	assert.Equal(t, "Inner *", p.TypeName)
	assert.Equal(t, Scalar, p.Shape)
	uv, err = p.Value()
	require.NoError(t, err)
	assert.EqualValues(t, base+8, uv)

	s, _ := rec.Child("s")
	assert.Equal(t, 2, s.Size)
	v, err = s.Int()
	require.NoError(t, err)
	assert.EqualValues(t, -1, v)
}

func TestLeafRangesDoNotOverlap(t *testing.T) {
	m := NewMaterializer(testGraph(), nil)
	rec, err := m.Form(0x1007, "Outer", base, true)
	require.NoError(t, err)

	type span struct{ start, end int }
	var spans []span
	rec.Walk(func(r *Record) {
		if r.Shape != Scalar {
			return
		}
		start := int(r.Address-base) * 8
		width := r.Size * 8
		if r.Bits != nil {
			start += r.Bits.Offset
			width = r.Bits.Size
		}
		spans = append(spans, span{start, start + width})
	})
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	require.NotEmpty(t, spans)
	assert.GreaterOrEqual(t, spans[0].start, 0)
	for i := 1; i < len(spans); i++ {
		assert.LessOrEqual(t, spans[i-1].end, spans[i].start, "leaf %d overlaps its predecessor", i)
	}
	assert.LessOrEqual(t, spans[len(spans)-1].end, rec.Size*8)
}

func TestFormShallowAndExpand(t *testing.T) {
	m := NewMaterializer(testGraph(), nil)
	rec, err := m.Form(0x1007, "Outer", base, false)
	require.NoError(t, err)
	require.Equal(t, 4, rec.Len())

	in, _ := rec.Child("in")
	assert.False(t, in.Expanded())
	assert.Zero(t, in.Len())

	require.NoError(t, m.Expand(in, false))
	assert.True(t, in.Expanded())
	assert.Equal(t, 3, in.Len())
	require.NoError(t, m.Expand(in, false), "expanding twice is a no-op")
	assert.Equal(t, 3, in.Len())
}

func TestMaxDepth(t *testing.T) {
	m := NewMaterializer(testGraph(), nil, WithMaxDepth(2))
	rec, err := m.Form(0x1007, "Outer", base, true)
	require.NoError(t, err)
	arr, _ := rec.Child("arr")
	assert.True(t, arr.Expanded())
	first, _ := arr.At(0)
	assert.False(t, first.Expanded())

	// Expanding a shallow record stops at the same bound.
	shallow, err := m.Form(0x1007, "Outer", base, false)
	require.NoError(t, err)
	require.NoError(t, m.ExpandTree(shallow))
	arr, _ = shallow.Child("arr")
	assert.True(t, arr.Expanded())
	first, _ = arr.At(0)
	assert.False(t, first.Expanded())
	in, _ := shallow.Child("in")
	assert.True(t, in.Expanded())
}

func TestMaterializeCount(t *testing.T) {
	m := NewMaterializer(testGraph(), memory.NewBuffer(outerImage(), base))
	list, err := m.Materialize("Inner", base+8, 2, true)
	require.NoError(t, err)
	assert.Equal(t, List, list.Shape)
	assert.Equal(t, 16, list.Size)
	assert.Equal(t, "Inner[2]", list.TypeName)

	second, ok := list.At(1)
	require.True(t, ok)
	x, _ := second.Child("x")
	v, err := x.Value()
	require.NoError(t, err)
	assert.EqualValues(t, 9, v)

	_, err = m.Materialize("Missing", 0, 1, true)
	assert.ErrorIs(t, err, typegraph.ErrUnresolved)
}

func TestUnknownLeafKind(t *testing.T) {
	m := NewMaterializer(testGraph(), nil)
	_, err := m.Form(0x1009, "Bad", 0, true)
	assert.ErrorIs(t, err, ErrUnknownLeafKind)

	_, err = m.Form(0x1006, "list", 0, true)
	assert.ErrorIs(t, err, ErrUnknownLeafKind)
}

func TestRefreshAndWrite(t *testing.T) {
	img := outerImage()
	m := NewMaterializer(testGraph(), memory.NewBuffer(img, base))
	rec, err := m.Form(0x1003, "Inner", base, true)
	require.NoError(t, err)

	x, _ := rec.Child("x")
	v, err := x.Value()
	require.NoError(t, err)
	assert.Equal(t, uint64(0xfffffffffffffffe), v)

	binary.LittleEndian.PutUint32(img[0:], 3)
	v, _ = x.Value()
	assert.Equal(t, uint64(0xfffffffffffffffe), v, "cached until refreshed")
	rec.Refresh()
	v, _ = x.Value()
	assert.EqualValues(t, 3, v)

	level, _ := rec.Child("level")
	require.NoError(t, level.Write(2))
	assert.Equal(t, byte(0b00010_101), img[4], "neighbouring bits are kept")
	lv, err := level.Int()
	require.NoError(t, err)
	assert.EqualValues(t, 2, lv)

	assert.Error(t, rec.Write(1))
	_, err = rec.Value()
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	m := NewMaterializer(testGraph(), memory.NewBuffer(make([]byte, 8), base))
	rec, err := m.Form(0x1007, "Outer", base, false)
	require.NoError(t, err)

	f := Describe(rec)
	assert.Equal(t, "Outer", f.Name)
	require.Len(t, f.Fields, 4)
	assert.True(t, f.Fields[0].Collapsed)
	assert.Equal(t, "in", f.Fields[0].Name)
	assert.Empty(t, f.Fields[0].Member)

	// p lies past the 8-byte buffer: only that field fails.
	p := f.Fields[2]
	assert.Equal(t, "p", p.Name)
	assert.True(t, p.Pointer)
	assert.Nil(t, p.Value)
	assert.NotEmpty(t, p.Error)

	noSrc := Describe(NewMaterializer(testGraph(), nil).PointerLiteral(0x1003, 100))
	require.NotNil(t, noSrc.Value)
	assert.EqualValues(t, 100, *noSrc.Value)
}

func TestCached(t *testing.T) {
	var c Cached[int]
	calls := 0
	compute := func() (int, error) { calls++; return 42, nil }

	v, err := c.Get(compute)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	_, _ = c.Get(compute)
	assert.Equal(t, 1, calls)
	assert.True(t, c.Valid())

	c.Invalidate()
	assert.False(t, c.Valid())
	_, _ = c.Get(compute)
	assert.Equal(t, 2, calls)

	var failing Cached[int]
	_, err = failing.Get(func() (int, error) { return 0, errors.New("boom") })
	assert.Error(t, err)
	assert.False(t, failing.Valid())
}
