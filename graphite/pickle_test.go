package graphite

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeByteLayout(t *testing.T) {
	msg, err := Encode([]Sample{{Path: "a.b", Timestamp: 100, Value: 1.0}})
	require.NoError(t, err)

	want := []byte{
		0x00, 0x00, 0x00, 0x25, // header: 37 byte payload
		0x80, 0x02, // PROTO 2
		0x5d,       // EMPTY_LIST
		0x71, 0x00, // BINPUT 0
		0x58, 0x03, 0x00, 0x00, 0x00, 'a', '.', 'b', // BINUNICODE "a.b"
		0x71, 0x01, // BINPUT 1
		0x4a, 0x64, 0x00, 0x00, 0x00, // BININT 100
		0x47, 0x3f, 0xf0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // BINFLOAT 1.0
		0x86, 0x71, 0x02, // TUPLE2, BINPUT 2
		0x86, 0x71, 0x03, // TUPLE2, BINPUT 3
		0x61, // APPEND
		0x2e, // STOP
	}
	assert.Equal(t, want, msg)
}

func TestEncodeEmptyBatch(t *testing.T) {
	msg, err := Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 4, 0x80, 0x02, 0x5d, 0x2e}, msg)

	samples, err := ReadMessage(bytes.NewReader(msg))
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestEncodeNegativeTimestamp(t *testing.T) {
	msg, err := Encode([]Sample{{Path: "p", Timestamp: -2, Value: 0}})
	require.NoError(t, err)
	// BININT follows BINUNICODE "p" and BINPUT 1.
	i := bytes.IndexByte(msg, opBinInt)
	require.Greater(t, i, 0)
	assert.Equal(t, []byte{0xfe, 0xff, 0xff, 0xff}, msg[i+1:i+5])
}

func TestHeaderLayout(t *testing.T) {
	b := make([]byte, headerSize)
	putHeader(b, 0x12_3456_789a)
	// Bits 24-31 (0x34) are not carried.
	assert.Equal(t, []byte{0x12, 0x56, 0x78, 0x9a}, b)

	putHeader(b, 0xabcdef)
	assert.Equal(t, uint64(0xabcdef), headerLength(b))
	assert.Equal(t, uint32(0xabcdef), binary.BigEndian.Uint32(b))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	special := []float64{0, math.Copysign(0, -1), math.Inf(1), math.Inf(-1), math.NaN(), math.MaxFloat64, math.SmallestNonzeroFloat64}

	for round := 0; round < 50; round++ {
		batch := make([]Sample, rng.Intn(40))
		for i := range batch {
			path := make([]byte, rng.Intn(64))
			for j := range path {
				path[j] = byte('a' + rng.Intn(26))
			}
			value := math.Float64frombits(rng.Uint64())
			if rng.Intn(4) == 0 {
				value = special[rng.Intn(len(special))]
			}
			batch[i] = Sample{Path: string(path), Timestamp: int32(rng.Uint32()), Value: value}
		}

		msg, err := Encode(batch)
		require.NoError(t, err)
		assert.Equal(t, PayloadSize(batch), headerLength(msg), "header must describe the payload")
		assert.Equal(t, uint64(len(msg)-headerSize), headerLength(msg))

		again, err := Encode(batch)
		require.NoError(t, err)
		assert.Equal(t, msg, again, "encoding is deterministic")

		got, err := ReadMessage(bytes.NewReader(msg))
		require.NoError(t, err)
		require.Len(t, got, len(batch))
		for i := range batch {
			assert.Equal(t, batch[i].Path, got[i].Path)
			assert.Equal(t, batch[i].Timestamp, got[i].Timestamp)
			assert.Equal(t, math.Float64bits(batch[i].Value), math.Float64bits(got[i].Value))
		}
	}
}

func TestEncodeScenario(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Sample{Path: "a.b", Timestamp: 100, Value: 1.0})
	q.Enqueue(Sample{Path: "a.b", Timestamp: 101, Value: 2.0})

	msg, err := Encode(q.DrainAll())
	require.NoError(t, err)

	got, err := ReadMessage(bytes.NewReader(msg))
	require.NoError(t, err)
	assert.Equal(t, []Sample{
		{Path: "a.b", Timestamp: 100, Value: 1.0},
		{Path: "a.b", Timestamp: 101, Value: 2.0},
	}, got)
}

func TestEncodeZeroLengthPath(t *testing.T) {
	msg, err := Encode([]Sample{{Path: "", Timestamp: 7, Value: 0.5}})
	require.NoError(t, err)
	assert.Len(t, msg, headerSize+messageOverhead+sampleOverhead)

	got, err := ReadMessage(bytes.NewReader(msg))
	require.NoError(t, err)
	assert.Equal(t, []Sample{{Path: "", Timestamp: 7, Value: 0.5}}, got)
}

func TestEncodeUTF8Path(t *testing.T) {
	path := "servers.zürich.温度"
	msg, err := Encode([]Sample{{Path: path, Timestamp: 1, Value: 2}})
	require.NoError(t, err)
	assert.Equal(t, uint64(messageOverhead+sampleOverhead+len(path)), headerLength(msg))

	got, err := ReadMessage(bytes.NewReader(msg))
	require.NoError(t, err)
	assert.Equal(t, path, got[0].Path)
}

func TestEncodeTooLarge(t *testing.T) {
	_, err := Encode([]Sample{{Path: strings.Repeat("x", MaxPayloadSize)}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPayloadTooLarge))
}

func TestSplit(t *testing.T) {
	batch := []Sample{{Path: "aa"}, {Path: "bb"}, {Path: "cccccc"}, {Path: "d"}}
	// 4 + 32 + 32 fits, the third sample (36 bytes) starts a new chunk.
	chunks := Split(batch, 4+32+32)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"aa", "bb"}, paths(chunks[0]))
	assert.Equal(t, []string{"cccccc"}, paths(chunks[1]))
	assert.Equal(t, []string{"d"}, paths(chunks[2]))
	for _, c := range chunks {
		assert.LessOrEqual(t, PayloadSize(c), uint64(4+32+32))
	}

	// An oversized sample still gets its own chunk.
	chunks = Split([]Sample{{Path: "a"}, {Path: strings.Repeat("x", 100)}, {Path: "b"}}, 40)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[1], 1)

	assert.Nil(t, Split(nil, MaxPayloadSize))
	assert.Len(t, Split(batch, MaxPayloadSize), 1)
}

// Payload produced by Python's pickle.dumps(..., protocol=2) for
// [("a.b", (100, 1.5)), ("a.b", (101, 2))], using MARK/APPENDS, short
// integers and a memoized repeated path.
func pythonPayload() []byte {
	return []byte{
		0x80, 0x02, // PROTO 2
		']', 'q', 0x00, // EMPTY_LIST, BINPUT 0
		'(',                                                   // MARK
		'X', 0x03, 0x00, 0x00, 0x00, 'a', '.', 'b', 'q', 0x01, // BINUNICODE, BINPUT 1
		'K', 100, // BININT1 100
		'G', 0x3f, 0xf8, 0, 0, 0, 0, 0, 0, // BINFLOAT 1.5
		0x86, 'q', 0x02, 0x86, 'q', 0x03, // TUPLE2 BINPUT TUPLE2 BINPUT
		'h', 0x01, // BINGET 1
		'K', 101, // BININT1 101
		'K', 2, // BININT1 2
		0x86, 'q', 0x04, 0x86, 'q', 0x05, // TUPLE2 BINPUT TUPLE2 BINPUT
		'e', // APPENDS
		'.', // STOP
	}
}

func TestDecodePythonPickle(t *testing.T) {
	got, err := Decode(pythonPayload())
	require.NoError(t, err)
	assert.Equal(t, []Sample{
		{Path: "a.b", Timestamp: 100, Value: 1.5},
		{Path: "a.b", Timestamp: 101, Value: 2},
	}, got)
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string][]byte{
		"empty":              {},
		"truncated":          pythonPayload()[:20],
		"unknown opcode":     {0x80, 0x02, 0xff},
		"bad protocol":       {0x80, 0x09, ']', '.'},
		"not a list":         {0x80, 0x02, 'K', 1, '.'},
		"append to non list": {0x80, 0x02, 'K', 1, 'K', 2, 'a', '.'},
		"bad item":           {0x80, 0x02, ']', 'K', 1, 'a', '.'},
		"missing memo":       {0x80, 0x02, 'h', 0x07, '.'},
		"missing mark":       {0x80, 0x02, ']', 'e', '.'},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(payload)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

func TestReadMessageStream(t *testing.T) {
	var stream bytes.Buffer
	for i := 0; i < 3; i++ {
		msg, err := Encode([]Sample{{Path: "s", Timestamp: int32(i), Value: float64(i)}})
		require.NoError(t, err)
		stream.Write(msg)
	}

	for i := 0; i < 3; i++ {
		got, err := ReadMessage(&stream)
		require.NoError(t, err)
		assert.Equal(t, []Sample{{Path: "s", Timestamp: int32(i), Value: float64(i)}}, got)
	}
	_, err := ReadMessage(&stream)
	assert.Equal(t, io.EOF, err)

	_, err = ReadMessage(bytes.NewReader([]byte{0, 0}))
	assert.Error(t, err)
	assert.NotEqual(t, io.EOF, err)

	_, err = ReadMessage(bytes.NewReader([]byte{0xff, 0, 0, 0}))
	assert.True(t, errors.Is(err, ErrMalformed))
}
