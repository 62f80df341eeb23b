package skiplist

import (
	"encoding/binary"
	"fmt"

	"github.com/RichardKnop/blockfile/internal/page"
)

const (
	spanMagic      uint32 = 0x5350414e // "SPAN"
	spanHeaderSize        = 24

	spanPrevOffset = 8
	spanNextOffset = 12
)

// spanHeader is the fixed part at the start of a span page.
//
//	magic u32 | continuation u32 | prev u32 | next u32 | keys u16 | reserved u16 | payload length u32
type spanHeader struct {
	Cont       page.Index
	Prev       page.Index
	Next       page.Index
	Keys       uint16
	PayloadLen uint32
}

func (h *spanHeader) Marshal(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:], spanMagic)
	binary.BigEndian.PutUint32(buf[4:], uint32(h.Cont))
	binary.BigEndian.PutUint32(buf[8:], uint32(h.Prev))
	binary.BigEndian.PutUint32(buf[12:], uint32(h.Next))
	binary.BigEndian.PutUint16(buf[16:], h.Keys)
	binary.BigEndian.PutUint16(buf[18:], 0)
	binary.BigEndian.PutUint32(buf[20:], h.PayloadLen)
}

func (h *spanHeader) Unmarshal(buf []byte) error {
	if magic := binary.BigEndian.Uint32(buf[0:]); magic != spanMagic {
		return fmt.Errorf("%w: bad span magic 0x%08x", ErrCorrupt, magic)
	}
	h.Cont = page.Index(binary.BigEndian.Uint32(buf[4:]))
	h.Prev = page.Index(binary.BigEndian.Uint32(buf[8:]))
	h.Next = page.Index(binary.BigEndian.Uint32(buf[12:]))
	h.Keys = binary.BigEndian.Uint16(buf[16:])
	h.PayloadLen = binary.BigEndian.Uint32(buf[20:])
	return nil
}

// span is the decoded content of one span page and its continuation chain.
// Keys and values are treated as immutable once decoded, mutations replace
// the slices so iterators holding the old ones are unaffected.
type span struct {
	page   page.Index
	cont   page.Index
	prev   page.Index
	next   page.Index
	keys   [][]byte
	values [][]byte
}

func (s *span) header() spanHeader {
	return spanHeader{
		Cont:       s.cont,
		Prev:       s.prev,
		Next:       s.next,
		Keys:       uint16(len(s.keys)),
		PayloadLen: uint32(s.payloadSize()),
	}
}

func (s *span) payloadSize() int {
	size := 0
	for i := range s.keys {
		size += 4 + len(s.keys[i]) + 4 + len(s.values[i])
	}
	return size
}

func (s *span) marshalPayload() []byte {
	buf := make([]byte, 0, s.payloadSize())
	for i := range s.keys {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(s.keys[i])))
		buf = append(buf, s.keys[i]...)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(s.values[i])))
		buf = append(buf, s.values[i]...)
	}
	return buf
}

func unmarshalPayload(buf []byte, n int) ([][]byte, [][]byte, error) {
	var (
		keys   = make([][]byte, 0, n)
		values = make([][]byte, 0, n)
		i      = 0
	)
	next := func() ([]byte, error) {
		if len(buf)-i < 4 {
			return nil, fmt.Errorf("%w: truncated span entry", ErrCorrupt)
		}
		size := int(binary.BigEndian.Uint32(buf[i:]))
		i += 4
		if size > len(buf)-i {
			return nil, fmt.Errorf("%w: span entry length %d exceeds payload", ErrCorrupt, size)
		}
		out := buf[i : i+size : i+size]
		i += size
		return out, nil
	}
	for range n {
		key, err := next()
		if err != nil {
			return nil, nil, err
		}
		value, err := next()
		if err != nil {
			return nil, nil, err
		}
		keys = append(keys, key)
		values = append(values, value)
	}
	if i != len(buf) {
		return nil, nil, fmt.Errorf("%w: %d trailing bytes in span payload", ErrCorrupt, len(buf)-i)
	}
	return keys, values, nil
}
