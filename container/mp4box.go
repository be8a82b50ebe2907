package container

import (
	"encoding/binary"
	"fmt"
)

// mp4Reader walks a byte slice using the big-endian, length-prefixed box
// framing of ISO/IEC 14496-12. It is intentionally narrow: only the boxes
// a CMAF fragment ("moof"/"mdat") needs are supported.
type mp4Reader struct {
	data []byte
	pos  int
}

func newMP4Reader(data []byte) *mp4Reader {
	return &mp4Reader{data: data}
}

func (r *mp4Reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *mp4Reader) u8() (byte, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("mp4: unexpected end of box reading u8")
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *mp4Reader) u16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, fmt.Errorf("mp4: unexpected end of box reading u16")
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *mp4Reader) u24() (uint32, error) {
	if r.remaining() < 3 {
		return 0, fmt.Errorf("mp4: unexpected end of box reading u24")
	}
	v := uint32(r.data[r.pos])<<16 | uint32(r.data[r.pos+1])<<8 | uint32(r.data[r.pos+2])
	r.pos += 3
	return v, nil
}

func (r *mp4Reader) u32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, fmt.Errorf("mp4: unexpected end of box reading u32")
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *mp4Reader) u64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, fmt.Errorf("mp4: unexpected end of box reading u64")
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *mp4Reader) skip(n int) error {
	if r.remaining() < n {
		return fmt.Errorf("mp4: cannot skip %d bytes, only %d remaining", n, r.remaining())
	}
	r.pos += n
	return nil
}

func (r *mp4Reader) bytes(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, fmt.Errorf("mp4: cannot read %d bytes, only %d remaining", n, r.remaining())
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// mp4Box is one top-level box header plus the absolute byte range of its
// body within the reader's backing slice.
type mp4Box struct {
	Type       string
	BodyStart  int
	BodyEnd    int
	HeaderSize int
}

// nextBox reads one box header at the reader's current position and
// advances past the whole box, returning the body's byte range in mp4Box.
// Returns false, nil when no complete box header remains (caller should
// stop and keep the unread tail buffered for the next Feed call).
func (r *mp4Reader) nextBox() (mp4Box, bool, error) {
	if r.remaining() < 8 {
		return mp4Box{}, false, nil
	}
	start := r.pos
	size, err := r.u32()
	if err != nil {
		return mp4Box{}, false, err
	}
	typeBytes, err := r.bytes(4)
	if err != nil {
		return mp4Box{}, false, err
	}
	boxType := string(typeBytes)
	headerSize := 8
	var boxSize uint64 = uint64(size)
	if size == 1 {
		if r.remaining() < 8 {
			r.pos = start
			return mp4Box{}, false, nil
		}
		boxSize, err = r.u64()
		if err != nil {
			return mp4Box{}, false, err
		}
		headerSize = 16
	} else if size == 0 {
		boxSize = uint64(len(r.data) - start)
	}
	bodyEnd := start + int(boxSize)
	if bodyEnd > len(r.data) {
		// incomplete box: rewind so the caller can wait for more data
		r.pos = start
		return mp4Box{}, false, nil
	}
	r.pos = bodyEnd
	return mp4Box{Type: boxType, BodyStart: start + headerSize, BodyEnd: bodyEnd, HeaderSize: headerSize}, true, nil
}
