package msf

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/pdbview/internal/pdbtest"
)

func patterned(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i*7)
	}
	return out
}

func TestReadSuperBlock(t *testing.T) {
	b := pdbtest.NewMSF(512)
	b.AddStream(nil)
	raw := b.Bytes()

	sb, err := ReadSuperBlock(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.EqualValues(t, 512, sb.BlockSize)
	assert.EqualValues(t, 1, sb.FreeBlockMapBlock)
	assert.EqualValues(t, len(raw)/512, sb.NumBlocks)
	assert.EqualValues(t, len(raw), sb.FileSize())
}

func TestReadSuperBlockLayout(t *testing.T) {
	sb := SuperBlock{BlockSize: 4096, FreeBlockMapBlock: 2, NumBlocks: 9, NumDirectoryBytes: 20, Unknown: 0xAA, BlockMapAddr: 7}
	copy(sb.Magic[:], MSFMagic)
	raw, err := sb.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, raw, SuperBlockSize)

	assert.Equal(t, uint32(4096), binary.LittleEndian.Uint32(raw[32:]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(raw[36:]))
	assert.Equal(t, uint32(9), binary.LittleEndian.Uint32(raw[40:]))
	assert.Equal(t, uint32(20), binary.LittleEndian.Uint32(raw[44:]))
	assert.Equal(t, uint32(0xAA), binary.LittleEndian.Uint32(raw[48:]))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(raw[52:]))

	back, err := ReadSuperBlock(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, sb, *back)
}

func TestReadSuperBlockErrors(t *testing.T) {
	good := pdbtest.NewMSF(1024).Bytes()

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"bad signature", func(b []byte) []byte { b[0] = 'm'; return b }},
		{"truncated", func(b []byte) []byte { return b[:40] }},
		{"bad block size", func(b []byte) []byte { binary.LittleEndian.PutUint32(b[32:], 1000); return b }},
		{"bad fpm", func(b []byte) []byte { binary.LittleEndian.PutUint32(b[36:], 3); return b }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.mutate(append([]byte(nil), good...))
			_, err := ReadSuperBlock(bytes.NewReader(raw))
			require.ErrorIs(t, err, ErrFormat)
		})
	}
}

func TestPageCount(t *testing.T) {
	assert.EqualValues(t, 0, PageCount(0, 512))
	assert.EqualValues(t, 1, PageCount(1, 512))
	assert.EqualValues(t, 1, PageCount(512, 512))
	assert.EqualValues(t, 2, PageCount(513, 512))
	assert.EqualValues(t, 0, PageCount(10, 0))
}

func TestStreamRoundTrip(t *testing.T) {
	b := pdbtest.NewMSF(512)
	sizes := []int{0, 1, 511, 512, 513, 2048 + 17}
	var want [][]byte
	for i, n := range sizes {
		data := patterned(n, byte(i))
		want = append(want, data)
		b.AddStream(data)
	}
	unused := b.AddStream(nil)

	m, err := New(bytes.NewReader(b.Bytes()))
	require.NoError(t, err)
	require.Equal(t, len(sizes)+1, m.NumStreams())

	for i, data := range want {
		s, err := m.Stream(i)
		require.NoError(t, err)
		require.EqualValues(t, len(data), s.Size())
		require.Len(t, s.Blocks(), int(PageCount(s.Size(), m.BlockSize())))

		got, err := s.ReadAll()
		require.NoError(t, err)
		assert.Equal(t, data, got, "stream %d", i)

		// Joining the pages and trimming to the declared size reproduces
		// the stream byte for byte.
		pages, err := s.Pages()
		require.NoError(t, err)
		joined := bytes.Join(pages, nil)
		require.GreaterOrEqual(t, len(joined), len(data))
		assert.Equal(t, data, joined[:len(data)], "stream %d pages", i)
	}

	s, err := m.Stream(unused)
	require.NoError(t, err)
	assert.Zero(t, s.Size())

	_, err = m.Stream(len(sizes) + 5)
	assert.Error(t, err)
}

func TestStreamReaderSeek(t *testing.T) {
	data := patterned(1500, 3)
	b := pdbtest.NewMSF(512)
	idx := b.AddStream(data)

	m, err := New(bytes.NewReader(b.Bytes()))
	require.NoError(t, err)
	sr, err := m.StreamReader(idx)
	require.NoError(t, err)

	pos, err := sr.Seek(700, io.SeekStart)
	require.NoError(t, err)
	require.EqualValues(t, 700, pos)

	buf := make([]byte, 100)
	_, err = io.ReadFull(sr, buf)
	require.NoError(t, err)
	assert.Equal(t, data[700:800], buf)

	pos, err = sr.Seek(-10, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 1490, pos)
	rest, err := io.ReadAll(sr)
	require.NoError(t, err)
	assert.Equal(t, data[1490:], rest)

	pos, _ = sr.Seek(5000, io.SeekStart)
	assert.EqualValues(t, 1500, pos)
	_, err = sr.Seek(0, 7)
	assert.Error(t, err)

	s, err := m.Stream(idx)
	require.NoError(t, err)
	n, err := s.ReadAt(buf, 1450)
	assert.Equal(t, 50, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, data[1450:], buf[:n])
}

func TestTruncatedContainer(t *testing.T) {
	b := pdbtest.NewMSF(512)
	b.AddStream(patterned(3000, 1))
	raw := b.Bytes()

	// Keep the superblock but drop the tail holding the directory.
	_, err := New(bytes.NewReader(raw[:1024]))
	require.ErrorIs(t, err, ErrFormat)
}
