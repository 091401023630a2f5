package streams

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/pdbview/internal/pdbtest"
)

func TestTPIHeaderLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, TPIHeader{}))
	assert.Equal(t, TPIHeaderSize, buf.Len())

	buf.Reset()
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, DBIHeader{}))
	assert.Equal(t, DBIHeaderSize, buf.Len())
}

func TestReadTPIStream(t *testing.T) {
	b := pdbtest.NewTPI(TypeIndexBegin)
	first := b.Add(0x1205, []byte{0x74, 0, 0, 0, 3, 1}) // bitfield int:3 @1
	second := b.Add(0x1001, []byte{0x74, 0, 0, 0, 1, 0})
	require.EqualValues(t, TypeIndexBegin, first)
	require.EqualValues(t, TypeIndexBegin+1, second)

	tpi, err := ReadTPIStream(b.Bytes())
	require.NoError(t, err)
	require.Equal(t, 2, tpi.NumTypes())
	assert.EqualValues(t, 2, tpi.TypeCount())

	rec := tpi.GetType(first)
	require.NotNil(t, rec)
	assert.EqualValues(t, 0x1205, rec.Kind)
	// Six body bytes plus two pad bytes keep the record 4-aligned.
	assert.Equal(t, []byte{0x74, 0, 0, 0, 3, 1, 0xF2, 0xF1}, rec.Data)

	assert.Nil(t, tpi.GetType(0x74))
	assert.Nil(t, tpi.GetType(TypeIndexBegin+2))
}

func TestReadTPIStreamErrors(t *testing.T) {
	b := pdbtest.NewTPI(TypeIndexBegin)
	b.Add(0x1001, []byte{0x74, 0, 0, 0, 1, 0})
	raw := b.Bytes()

	bad := append([]byte(nil), raw...)
	binary.LittleEndian.PutUint32(bad[0:], 1234)
	_, err := ReadTPIStream(bad)
	assert.ErrorContains(t, err, "unsupported TPI version")

	// Claim one more record than is present.
	short := append([]byte(nil), raw...)
	binary.LittleEndian.PutUint32(short[12:], TypeIndexBegin+2)
	_, err = ReadTPIStream(short)
	assert.Error(t, err)
}

func TestReadDBIStream(t *testing.T) {
	b := pdbtest.NewDBI(MachineAMD64)
	b.SymRecordStream = 7
	b.DebugStreams[DbgSectionHdr] = 9
	b.DebugStreams[DbgOmapFromSrc] = 10

	dbi, err := ReadDBIStream(b.Bytes())
	require.NoError(t, err)
	assert.EqualValues(t, 7, dbi.Header.SymRecordStream)
	assert.Equal(t, 8, dbi.PointerSize())
	assert.Equal(t, "x64", MachineTypeName(dbi.Header.Machine))

	idx, ok := dbi.DebugStream(DbgSectionHdr)
	require.True(t, ok)
	assert.Equal(t, 9, idx)
	idx, ok = dbi.DebugStream(DbgOmapFromSrc)
	require.True(t, ok)
	assert.Equal(t, 10, idx)
	_, ok = dbi.DebugStream(DbgFPO)
	assert.False(t, ok)
	_, ok = dbi.DebugStream(42)
	assert.False(t, ok)
}

func TestReadDBIStreamBadSignature(t *testing.T) {
	raw := pdbtest.NewDBI(MachineI386).Bytes()
	binary.LittleEndian.PutUint32(raw, 0)
	_, err := ReadDBIStream(raw)
	assert.ErrorContains(t, err, "version signature")

	_, err = ReadDBIStream(raw[:10])
	assert.Error(t, err)
}

func TestParseModuleInfo(t *testing.T) {
	rec := make([]byte, moduleInfoFixedSize)
	binary.LittleEndian.PutUint16(rec[34:], 12)
	binary.LittleEndian.PutUint32(rec[36:], 100)
	rec = append(rec, "mod.obj\x00lib.lib\x00"...)
	for len(rec)%4 != 0 {
		rec = append(rec, 0)
	}

	mods := parseModuleInfo(append(rec, rec...))
	require.Len(t, mods, 2)
	assert.Equal(t, "mod.obj", mods[0].ModuleName)
	assert.Equal(t, "lib.lib", mods[0].ObjFileName)
	assert.True(t, mods[0].HasSymbols())
}

func TestReadPDBInfo(t *testing.T) {
	var buf bytes.Buffer
	guid := [16]byte{0x78, 0x56, 0x34, 0x12, 0xBC, 0x9A, 0xF0, 0xDE, 1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, PDBInfoHeader{
		Version: PDBStreamVersionVC70, Signature: 0x5f5e100, Age: 3, GUID: guid,
	}))

	// Named stream map with one entry: "/names" -> 11.
	strs := []byte("/names\x00")
	w := func(v uint32) { _ = binary.Write(&buf, binary.LittleEndian, v) }
	w(uint32(len(strs)))
	buf.Write(strs)
	w(1) // size
	w(2) // capacity
	w(1) // present words
	w(0x2)
	w(0) // deleted words
	w(0) // key offset
	w(11)

	info, err := ReadPDBInfo(&buf)
	require.NoError(t, err)
	assert.EqualValues(t, 3, info.Age)
	assert.Equal(t, "12345678-9abc-def0-0102-030405060708", info.GUID.String())
	assert.Equal(t, "123456789ABCDEF00102030405060708", info.GUIDString())
	assert.Equal(t, map[string]uint32{"/names": 11}, info.NamedStreams)
}

func TestSectionHeadersAndOMAP(t *testing.T) {
	hdrs := []pe.SectionHeader32{
		{Name: [8]uint8{'.', 't', 'e', 'x', 't'}, VirtualAddress: 0x1000, VirtualSize: 0x200},
		{Name: [8]uint8{'.', 'd', 'a', 't', 'a'}, VirtualAddress: 0x3000, VirtualSize: 0x100},
	}
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, hdrs))

	got, err := ReadSectionHeaders(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ".data", SectionName(&got[1]))
	assert.EqualValues(t, 0x3000, got[1].VirtualAddress)

	_, err = ReadSectionHeaders(buf.Bytes()[:39])
	assert.Error(t, err)

	var raw []byte
	for _, e := range []OMAPEntry{{0x3000, 0x5000}, {0x1000, 0x1000}, {0x3100, 0}} {
		raw = binary.LittleEndian.AppendUint32(raw, e.From)
		raw = binary.LittleEndian.AppendUint32(raw, e.To)
	}
	omap, err := ReadOMAP(raw)
	require.NoError(t, err)

	assert.EqualValues(t, 0x1010, omap.Remap(0x1010))
	assert.EqualValues(t, 0x5010, omap.Remap(0x3010))
	assert.EqualValues(t, 0, omap.Remap(0x3110))
	assert.EqualValues(t, 0, omap.Remap(0x10))

	var identity OMAP
	assert.EqualValues(t, 0x1234, identity.Remap(0x1234))
}
