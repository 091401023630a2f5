package streams

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// TPI Stream versions
const (
	TPIStreamVersion40  = 19950410
	TPIStreamVersion41  = 19951122
	TPIStreamVersion50  = 19961031
	TPIStreamVersionV70 = 19990903
	TPIStreamVersionV80 = 20040203
)

// First type index (built-in types are below this)
const TypeIndexBegin = 0x1000

// TPIHeaderSize is the on-disk size of TPIHeader.
const TPIHeaderSize = 56

// TPIHeader is the header of the TPI stream.
type TPIHeader struct {
	Version                 uint32
	HeaderSize              uint32
	TypeIndexBegin          uint32
	TypeIndexEnd            uint32
	TypeRecordBytes         uint32
	HashStreamIndex         uint16
	HashAuxStreamIndex      uint16
	HashKeySize             uint32
	NumHashBuckets          uint32
	HashValueBufferOffset   int32
	HashValueBufferLength   uint32
	IndexOffsetBufferOffset int32
	IndexOffsetBufferLength uint32
	HashAdjBufferOffset     int32
	HashAdjBufferLength     uint32
}

// TPIStream represents the parsed TPI (Type Info) stream.
type TPIStream struct {
	Header      TPIHeader
	TypeRecords []TypeRecord
}

// TypeRecord is one undecoded type record.
type TypeRecord struct {
	Index uint32 // Type index
	Kind  uint16 // LF_* leaf kind
	Data  []byte // Record body after the kind
}

// ReadTPIStream parses the TPI stream from raw bytes. Records are assigned
// consecutive indices starting at TypeIndexBegin.
func ReadTPIStream(data []byte) (*TPIStream, error) {
	r := bytes.NewReader(data)

	var header TPIHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read TPI header: %w", err)
	}

	if header.Version != TPIStreamVersionV80 && header.Version != TPIStreamVersionV70 {
		return nil, fmt.Errorf("unsupported TPI version: %d", header.Version)
	}
	if header.TypeIndexEnd < header.TypeIndexBegin {
		return nil, fmt.Errorf("TPI index range [%#x, %#x) is inverted", header.TypeIndexBegin, header.TypeIndexEnd)
	}

	// The header may be followed by padding up to HeaderSize.
	if header.HeaderSize > TPIHeaderSize {
		if _, err := r.Seek(int64(header.HeaderSize), io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to skip TPI header: %w", err)
		}
	}

	recordData := make([]byte, header.TypeRecordBytes)
	if _, err := io.ReadFull(r, recordData); err != nil {
		return nil, fmt.Errorf("failed to read type records: %w", err)
	}

	count := header.TypeIndexEnd - header.TypeIndexBegin
	tpi := &TPIStream{
		Header:      header,
		TypeRecords: make([]TypeRecord, 0, count),
	}

	offset := 0
	for typeIndex := header.TypeIndexBegin; typeIndex < header.TypeIndexEnd; typeIndex++ {
		if offset+2 > len(recordData) {
			return nil, fmt.Errorf("type record %#x: stream ends at offset %d", typeIndex, offset)
		}

		// Record length covers the kind and body, not itself.
		recLen := int(binary.LittleEndian.Uint16(recordData[offset:]))
		offset += 2
		if recLen < 2 || offset+recLen > len(recordData) {
			return nil, fmt.Errorf("type record %#x: bad length %d at offset %d", typeIndex, recLen, offset-2)
		}

		tpi.TypeRecords = append(tpi.TypeRecords, TypeRecord{
			Index: typeIndex,
			Kind:  binary.LittleEndian.Uint16(recordData[offset:]),
			Data:  recordData[offset+2 : offset+recLen],
		})
		offset += recLen
	}

	return tpi, nil
}

// GetType returns the type record for the given type index.
func (t *TPIStream) GetType(index uint32) *TypeRecord {
	if index < t.Header.TypeIndexBegin {
		return nil
	}
	i := int(index - t.Header.TypeIndexBegin)
	if i >= len(t.TypeRecords) {
		return nil
	}
	return &t.TypeRecords[i]
}

// NumTypes returns the number of type records.
func (t *TPIStream) NumTypes() int {
	return len(t.TypeRecords)
}

// TypeCount returns the number of types (TypeIndexEnd - TypeIndexBegin).
func (t *TPIStream) TypeCount() uint32 {
	return t.Header.TypeIndexEnd - t.Header.TypeIndexBegin
}
