package graphite

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// ReadMessage reads one length-prefixed pickle message from r. It returns
// io.EOF when r ends cleanly between messages.
func ReadMessage(r io.Reader) ([]Sample, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, errors.Wrap(err, "read header")
	}
	size := headerLength(header[:])
	if size > MaxPayloadSize {
		return nil, errors.Wrapf(ErrMalformed, "payload length %d", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "read payload")
	}
	return Decode(payload)
}

// Decode parses a pickle payload holding a list of (path, (timestamp, value))
// tuples. Only the opcodes metric senders emit are understood.
func Decode(payload []byte) ([]Sample, error) {
	u := &unpickler{data: payload, memo: make(map[uint32]interface{})}
	v, err := u.run()
	if err != nil {
		return nil, err
	}
	return toSamples(v)
}

type markObj struct{}

type unpickler struct {
	data  []byte
	pos   int
	stack []interface{}
	memo  map[uint32]interface{}
}

func (u *unpickler) next(n int) ([]byte, error) {
	if n < 0 || u.pos+n > len(u.data) {
		return nil, errors.Wrapf(ErrMalformed, "truncated at offset %d", u.pos)
	}
	b := u.data[u.pos : u.pos+n]
	u.pos += n
	return b, nil
}

func (u *unpickler) readByte() (byte, error) {
	b, err := u.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (u *unpickler) readUint32() (uint32, error) {
	b, err := u.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (u *unpickler) push(v interface{}) {
	u.stack = append(u.stack, v)
}

func (u *unpickler) pop() (interface{}, error) {
	if len(u.stack) == 0 {
		return nil, errors.Wrapf(ErrMalformed, "stack underflow at offset %d", u.pos)
	}
	v := u.stack[len(u.stack)-1]
	u.stack = u.stack[:len(u.stack)-1]
	return v, nil
}

func (u *unpickler) top() (interface{}, error) {
	if len(u.stack) == 0 {
		return nil, errors.Wrapf(ErrMalformed, "empty stack at offset %d", u.pos)
	}
	return u.stack[len(u.stack)-1], nil
}

// popMark pops everything above the topmost mark, and the mark itself.
func (u *unpickler) popMark() ([]interface{}, error) {
	for i := len(u.stack) - 1; i >= 0; i-- {
		if _, ok := u.stack[i].(markObj); ok {
			items := append([]interface{}(nil), u.stack[i+1:]...)
			u.stack = u.stack[:i]
			return items, nil
		}
	}
	return nil, errors.Wrapf(ErrMalformed, "missing mark at offset %d", u.pos)
}

func (u *unpickler) tuple(n int) error {
	if len(u.stack) < n {
		return errors.Wrapf(ErrMalformed, "stack underflow at offset %d", u.pos)
	}
	t := append([]interface{}(nil), u.stack[len(u.stack)-n:]...)
	u.stack = u.stack[:len(u.stack)-n]
	u.push(t)
	return nil
}

func (u *unpickler) str(n int) error {
	b, err := u.next(n)
	if err != nil {
		return err
	}
	u.push(string(b))
	return nil
}

func (u *unpickler) memoize(idx uint32) error {
	v, err := u.top()
	if err != nil {
		return err
	}
	u.memo[idx] = v
	return nil
}

func (u *unpickler) recall(idx uint32) error {
	v, ok := u.memo[idx]
	if !ok {
		return errors.Wrapf(ErrMalformed, "memo %d not found", idx)
	}
	u.push(v)
	return nil
}

func (u *unpickler) appendTo(items ...interface{}) error {
	v, err := u.top()
	if err != nil {
		return err
	}
	list, ok := v.(*[]interface{})
	if !ok {
		return errors.Wrapf(ErrMalformed, "append to %T at offset %d", v, u.pos)
	}
	*list = append(*list, items...)
	return nil
}

func (u *unpickler) run() (interface{}, error) {
	for {
		op, err := u.readByte()
		if err != nil {
			return nil, err
		}
		switch op {
		case opProto:
			v, err := u.readByte()
			if err != nil {
				return nil, err
			}
			if v < 2 || v > 5 {
				return nil, errors.Wrapf(ErrMalformed, "unsupported protocol %d", v)
			}
		case opFrame:
			_, err = u.next(8)
		case opMark:
			u.push(markObj{})
		case opEmptyList:
			u.push(&[]interface{}{})
		case opEmptyTuple:
			u.push([]interface{}{})
		case opNone:
			u.push(nil)
		case opNewTrue:
			u.push(true)
		case opNewFalse:
			u.push(false)
		case opBinPut:
			var idx byte
			if idx, err = u.readByte(); err == nil {
				err = u.memoize(uint32(idx))
			}
		case opLongBinPut:
			var idx uint32
			if idx, err = u.readUint32(); err == nil {
				err = u.memoize(idx)
			}
		case opMemoize:
			err = u.memoize(uint32(len(u.memo)))
		case opBinGet:
			var idx byte
			if idx, err = u.readByte(); err == nil {
				err = u.recall(uint32(idx))
			}
		case opLongBinGet:
			var idx uint32
			if idx, err = u.readUint32(); err == nil {
				err = u.recall(idx)
			}
		case opBinUnicode, opBinString:
			var n uint32
			if n, err = u.readUint32(); err == nil {
				err = u.str(int(n))
			}
		case opShortBinUnicode, opShortBinString:
			var n byte
			if n, err = u.readByte(); err == nil {
				err = u.str(int(n))
			}
		case opBinInt:
			var v uint32
			if v, err = u.readUint32(); err == nil {
				u.push(int64(int32(v)))
			}
		case opBinInt1:
			var v byte
			if v, err = u.readByte(); err == nil {
				u.push(int64(v))
			}
		case opBinInt2:
			var b []byte
			if b, err = u.next(2); err == nil {
				u.push(int64(binary.LittleEndian.Uint16(b)))
			}
		case opBinFloat:
			var b []byte
			if b, err = u.next(8); err == nil {
				u.push(math.Float64frombits(binary.BigEndian.Uint64(b)))
			}
		case opTuple1:
			err = u.tuple(1)
		case opTuple2:
			err = u.tuple(2)
		case opTuple3:
			err = u.tuple(3)
		case opTuple:
			var items []interface{}
			if items, err = u.popMark(); err == nil {
				u.push(items)
			}
		case opAppend:
			var v interface{}
			if v, err = u.pop(); err == nil {
				err = u.appendTo(v)
			}
		case opAppends:
			var items []interface{}
			if items, err = u.popMark(); err == nil {
				err = u.appendTo(items...)
			}
		case opStop:
			return u.pop()
		default:
			return nil, errors.Wrapf(ErrMalformed, "unsupported opcode 0x%02x at offset %d", op, u.pos-1)
		}
		if err != nil {
			return nil, err
		}
	}
}

func toSamples(v interface{}) ([]Sample, error) {
	list, ok := v.(*[]interface{})
	if !ok {
		return nil, errors.Wrapf(ErrMalformed, "top level is %T, want list", v)
	}
	samples := make([]Sample, 0, len(*list))
	for i, item := range *list {
		outer, ok := item.([]interface{})
		if !ok || len(outer) != 2 {
			return nil, errors.Wrapf(ErrMalformed, "item %d is not a (path, point) pair", i)
		}
		path, ok := outer[0].(string)
		if !ok {
			return nil, errors.Wrapf(ErrMalformed, "item %d path is %T", i, outer[0])
		}
		point, ok := outer[1].([]interface{})
		if !ok || len(point) != 2 {
			return nil, errors.Wrapf(ErrMalformed, "item %d is not a (timestamp, value) pair", i)
		}
		ts, ok := number(point[0])
		if !ok {
			return nil, errors.Wrapf(ErrMalformed, "item %d timestamp is %T", i, point[0])
		}
		value, ok := number(point[1])
		if !ok {
			return nil, errors.Wrapf(ErrMalformed, "item %d value is %T", i, point[1])
		}
		samples = append(samples, Sample{Path: path, Timestamp: int32(ts), Value: value})
	}
	return samples, nil
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
