package graphite

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Pickle opcodes, see Lib/pickle.py.
const (
	opMark            = '('
	opStop            = '.'
	opBinFloat        = 'G'
	opBinInt          = 'J'
	opBinInt1         = 'K'
	opBinInt2         = 'M'
	opBinString       = 'T'
	opShortBinString  = 'U'
	opBinUnicode      = 'X'
	opAppend          = 'a'
	opAppends         = 'e'
	opBinGet          = 'h'
	opLongBinGet      = 'j'
	opBinPut          = 'q'
	opLongBinPut      = 'r'
	opTuple           = 't'
	opEmptyTuple      = ')'
	opEmptyList       = ']'
	opNone            = 'N'
	opProto           = 0x80
	opTuple1          = 0x85
	opTuple2          = 0x86
	opTuple3          = 0x87
	opNewTrue         = 0x88
	opNewFalse        = 0x89
	opShortBinUnicode = 0x8c
	opMemoize         = 0x94
	opFrame           = 0x95
)

const (
	headerSize = 4
	// PROTO 2, EMPTY_LIST and STOP.
	messageOverhead = 4
	// Opcodes and fixed-width fields wrapped around every path.
	sampleOverhead = 30

	// MaxPayloadSize keeps payloads below bit 24, the lowest bit the length
	// header cannot carry, so every header we emit decodes to its payload size.
	MaxPayloadSize = 1<<24 - 1
)

// PayloadSize returns the pickle payload size of a message holding batch.
func PayloadSize(batch []Sample) uint64 {
	size := uint64(messageOverhead)
	for _, s := range batch {
		size += sampleSize(s)
	}
	return size
}

func sampleSize(s Sample) uint64 {
	return sampleOverhead + uint64(len(s.Path))
}

// putHeader writes the length header the collector expects: bits 32-39,
// 16-23, 8-15 and 0-7 of size, in that order.
func putHeader(b []byte, size uint64) {
	b[0] = byte(size >> 32)
	b[1] = byte(size >> 16)
	b[2] = byte(size >> 8)
	b[3] = byte(size)
}

func headerLength(b []byte) uint64 {
	return uint64(b[0])<<32 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3])
}

// Encode serializes batch into one length-prefixed pickle message: a list
// of (path, (timestamp, value)) tuples.
func Encode(batch []Sample) ([]byte, error) {
	size := PayloadSize(batch)
	if size > MaxPayloadSize {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d bytes for %d samples", size, len(batch))
	}

	msg := make([]byte, headerSize, headerSize+size)
	putHeader(msg, size)
	msg = append(msg, opProto, 2, opEmptyList)
	for _, s := range batch {
		msg = appendSample(msg, s)
	}
	msg = append(msg, opStop)

	if got := uint64(len(msg)) - headerSize; got != size || headerLength(msg) != size {
		return nil, errors.Wrapf(ErrLengthMismatch, "header says %d, payload is %d", headerLength(msg), got)
	}
	return msg, nil
}

func appendSample(b []byte, s Sample) []byte {
	b = append(b, opBinPut, 0, opBinUnicode)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(s.Path)))
	b = append(b, s.Path...)

	b = append(b, opBinPut, 1, opBinInt)
	b = binary.LittleEndian.AppendUint32(b, uint32(s.Timestamp))
	b = append(b, opBinFloat)
	b = binary.BigEndian.AppendUint64(b, math.Float64bits(s.Value))

	// (ts, value), then (path, (ts, value)), appended to the list.
	return append(b, opTuple2, opBinPut, 2, opTuple2, opBinPut, 3, opAppend)
}

// Split cuts batch into consecutive chunks whose payload fits in limit bytes.
// A sample too large to fit alone gets a chunk of its own.
func Split(batch []Sample, limit uint64) [][]Sample {
	var chunks [][]Sample
	start, size := 0, uint64(messageOverhead)
	for i, s := range batch {
		n := sampleSize(s)
		if i > start && size+n > limit {
			chunks = append(chunks, batch[start:i])
			start, size = i, messageOverhead
		}
		size += n
	}
	if start < len(batch) {
		chunks = append(chunks, batch[start:])
	}
	return chunks
}
