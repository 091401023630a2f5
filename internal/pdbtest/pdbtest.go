// Package pdbtest encodes MSF containers and the streams inside them, so
// tests can build PDB files in memory. It does not import the readers it
// feeds.
package pdbtest

import (
	"encoding/binary"
)

const (
	msfMagic     = "Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00"
	unusedStream = 0xFFFFFFFF
	noStream     = 0xFFFF

	tpiVersionV80 = 20040203
	tpiHeaderSize = 56
	dbiVersionV70 = 19990903
	debugSlots    = 11

	symConstant = 0x1107
	symUDT      = 0x1108
)

// MSF assembles an MSF 7.00 container. Stream data is laid out block by
// block after the superblock and the two free block maps.
type MSF struct {
	BlockSize uint32
	streams   [][]byte
}

func NewMSF(blockSize uint32) *MSF {
	return &MSF{BlockSize: blockSize}
}

// AddStream appends a stream and returns its index. A nil slice produces
// an unused stream entry.
func (b *MSF) AddStream(data []byte) int {
	b.streams = append(b.streams, data)
	return len(b.streams) - 1
}

// SetStream replaces the stream at index, growing the directory as needed.
func (b *MSF) SetStream(index int, data []byte) {
	for len(b.streams) <= index {
		b.streams = append(b.streams, []byte{})
	}
	b.streams[index] = data
}

// Bytes lays out the container.
func (b *MSF) Bytes() []byte {
	bs := b.BlockSize
	var blocks [][]byte
	alloc := func(page []byte) uint32 {
		full := make([]byte, bs)
		copy(full, page)
		blocks = append(blocks, full)
		return uint32(len(blocks) - 1)
	}

	// superblock, free block maps 1 and 2
	alloc(nil)
	alloc(nil)
	alloc(nil)

	place := func(data []byte) []uint32 {
		var list []uint32
		for off := uint32(0); off < uint32(len(data)); off += bs {
			list = append(list, alloc(data[off:min(off+bs, uint32(len(data)))]))
		}
		return list
	}

	dir := binary.LittleEndian.AppendUint32(nil, uint32(len(b.streams)))
	lists := make([][]uint32, len(b.streams))
	for i, s := range b.streams {
		if s == nil {
			dir = binary.LittleEndian.AppendUint32(dir, unusedStream)
			continue
		}
		dir = binary.LittleEndian.AppendUint32(dir, uint32(len(s)))
		lists[i] = place(s)
	}
	for _, list := range lists {
		for _, blk := range list {
			dir = binary.LittleEndian.AppendUint32(dir, blk)
		}
	}

	var blockMap []byte
	for _, blk := range place(dir) {
		blockMap = binary.LittleEndian.AppendUint32(blockMap, blk)
	}
	mapAddr := alloc(blockMap)

	header := append([]byte(nil), msfMagic...)
	for _, v := range []uint32{bs, 1, uint32(len(blocks)), uint32(len(dir)), 0, mapAddr} {
		header = binary.LittleEndian.AppendUint32(header, v)
	}
	copy(blocks[0], header)

	out := make([]byte, 0, len(blocks)*int(bs))
	for _, blk := range blocks {
		out = append(out, blk...)
	}
	return out
}

// TPI encodes type records into a TPI stream image.
type TPI struct {
	Begin   uint32
	records []byte
	count   uint32
}

// NewTPI returns a TPI whose first record gets index begin.
func NewTPI(begin uint32) *TPI {
	return &TPI{Begin: begin}
}

// Add appends a record of the given leaf kind and returns its type index.
// The body is padded to four bytes with LF_PAD bytes.
func (b *TPI) Add(kind uint16, body []byte) uint32 {
	rec := binary.LittleEndian.AppendUint16(nil, kind)
	rec = append(rec, body...)
	for pad := (4 - (len(rec)+2)%4) % 4; pad > 0; pad-- {
		rec = append(rec, 0xF0|byte(pad))
	}
	b.records = binary.LittleEndian.AppendUint16(b.records, uint16(len(rec)))
	b.records = append(b.records, rec...)
	b.count++
	return b.Begin + b.count - 1
}

// Next returns the index the next Add will assign.
func (b *TPI) Next() uint32 {
	return b.Begin + b.count
}

// Bytes returns the 56-byte header followed by the records. The hash
// streams are absent.
func (b *TPI) Bytes() []byte {
	out := make([]byte, 0, tpiHeaderSize+len(b.records))
	for _, v := range []uint32{tpiVersionV80, tpiHeaderSize, b.Begin, b.Begin + b.count, uint32(len(b.records))} {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	out = binary.LittleEndian.AppendUint16(out, noStream)
	out = binary.LittleEndian.AppendUint16(out, noStream)
	out = append(out, make([]byte, tpiHeaderSize-len(out))...)
	return append(out, b.records...)
}

// DBI encodes a DBI stream with empty substreams. Only the header and the
// optional debug header are populated.
type DBI struct {
	Machine         uint16
	SymRecordStream uint16
	DebugStreams    []uint16
}

// NewDBI returns a DBI for machine with every auxiliary stream absent.
func NewDBI(machine uint16) *DBI {
	b := &DBI{
		Machine:         machine,
		SymRecordStream: noStream,
		DebugStreams:    make([]uint16, debugSlots),
	}
	for i := range b.DebugStreams {
		b.DebugStreams[i] = noStream
	}
	return b
}

// Bytes returns the 64-byte header followed by the debug header.
func (b *DBI) Bytes() []byte {
	le := binary.LittleEndian
	out := le.AppendUint32(nil, 0xFFFFFFFF) // version signature -1
	out = le.AppendUint32(out, dbiVersionV70)
	out = le.AppendUint32(out, 1) // age
	for _, v := range []uint16{noStream, 0, noStream, 0, b.SymRecordStream, 0} {
		out = le.AppendUint16(out, v)
	}
	// module info, section contribution, section map, source info and
	// type server map substreams, MFC type server index
	out = append(out, make([]byte, 6*4)...)
	out = le.AppendUint32(out, uint32(2*len(b.DebugStreams)))
	out = le.AppendUint32(out, 0) // EC substream
	out = le.AppendUint16(out, 0) // flags
	out = le.AppendUint16(out, b.Machine)
	out = le.AppendUint32(out, 0)
	for _, s := range b.DebugStreams {
		out = le.AppendUint16(out, s)
	}
	return out
}

// Symbols encodes symbol records into a symbol record stream image.
type Symbols struct {
	data []byte
}

// AddData appends a data symbol of the given kind (S_GDATA32, S_LDATA32...).
func (b *Symbols) AddData(kind uint16, ti uint32, segment uint16, offset uint32, name string) {
	body := binary.LittleEndian.AppendUint32(nil, ti)
	body = binary.LittleEndian.AppendUint32(body, offset)
	body = binary.LittleEndian.AppendUint16(body, segment)
	body = append(body, name...)
	b.add(kind, append(body, 0))
}

// AddUDT appends an S_UDT record.
func (b *Symbols) AddUDT(ti uint32, name string) {
	body := binary.LittleEndian.AppendUint32(nil, ti)
	body = append(body, name...)
	b.add(symUDT, append(body, 0))
}

// AddConstant appends an S_CONSTANT record with an inline value.
func (b *Symbols) AddConstant(ti uint32, value uint16, name string) {
	body := binary.LittleEndian.AppendUint32(nil, ti)
	body = binary.LittleEndian.AppendUint16(body, value)
	body = append(body, name...)
	b.add(symConstant, append(body, 0))
}

func (b *Symbols) add(kind uint16, body []byte) {
	rec := binary.LittleEndian.AppendUint16(nil, kind)
	rec = append(rec, body...)
	for (len(rec)+2)%4 != 0 {
		rec = append(rec, 0)
	}
	b.data = binary.LittleEndian.AppendUint16(b.data, uint16(len(rec)))
	b.data = append(b.data, rec...)
}

func (b *Symbols) Bytes() []byte {
	return b.data
}
