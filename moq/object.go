package moq

import (
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// MoQ stream type constants (draft-ietf-moq-transport-15).
const (
	// StreamTypeSubgroupSIDExt indicates a subgroup stream with an explicit
	// Subgroup ID in the header and per-object extension headers.
	StreamTypeSubgroupSIDExt uint64 = 0x0d
)

// SubgroupHeader is the header written once at the start of a unidirectional
// data stream carrying one subgroup of one group.
type SubgroupHeader struct {
	StreamType uint64
	TrackAlias uint64
	GroupID    uint64
	SubgroupID uint64
	Priority   byte
}

// Object is a single MoQ object (frame) read from a data stream, with its
// LOC-style header extensions already split out from the payload.
type Object struct {
	ObjectID   uint64
	Extensions []Extension
	Payload    []byte
}

// Extension is one LOC header extension: either a varint value (even ID) or
// a length-prefixed byte string (odd ID).
type Extension struct {
	ID    uint64
	Value uint64 // valid when ID is even
	Bytes []byte // valid when ID is odd
}

// ReadSubgroupHeader reads the stream-level header from the start of a new
// unidirectional data stream.
func ReadSubgroupHeader(r io.Reader) (SubgroupHeader, error) {
	br := asByteReader(r)
	var h SubgroupHeader

	var err error
	h.StreamType, err = quicvarint.Read(br)
	if err != nil {
		return h, &ParseError{Field: "stream_type", Err: err}
	}
	h.TrackAlias, err = quicvarint.Read(br)
	if err != nil {
		return h, &ParseError{Field: "track_alias", Err: err}
	}
	h.GroupID, err = quicvarint.Read(br)
	if err != nil {
		return h, &ParseError{Field: "group_id", Err: err}
	}
	h.SubgroupID, err = quicvarint.Read(br)
	if err != nil {
		return h, &ParseError{Field: "subgroup_id", Err: err}
	}
	pr, err := br.ReadByte()
	if err != nil {
		return h, &ParseError{Field: "priority", Err: err}
	}
	h.Priority = pr

	return h, nil
}

// ReadObject reads a single object header and its payload from a data
// stream. Returns io.EOF (unwrapped) when the stream ends cleanly between
// objects, which the caller treats as "group complete".
func ReadObject(r io.Reader) (Object, error) {
	br := asByteReader(r)
	var obj Object

	objectID, err := quicvarint.Read(br)
	if err != nil {
		if err == io.EOF {
			return obj, io.EOF
		}
		return obj, &ParseError{Field: "object_id", Err: err}
	}
	obj.ObjectID = objectID

	extLen, err := quicvarint.Read(br)
	if err != nil {
		return obj, &ParseError{Field: "extension_len", Err: err}
	}
	if extLen > 0 {
		extBuf := make([]byte, extLen)
		if _, err := io.ReadFull(r, extBuf); err != nil {
			return obj, &ParseError{Field: "extensions", Err: err}
		}
		exts, err := parseExtensions(extBuf)
		if err != nil {
			return obj, err
		}
		obj.Extensions = exts
	}

	payloadLen, err := quicvarint.Read(br)
	if err != nil {
		return obj, &ParseError{Field: "payload_len", Err: err}
	}
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return obj, &ParseError{Field: "payload", Err: err}
		}
	}
	obj.Payload = payload

	return obj, nil
}

// Extension well-known IDs, matching draft-ietf-moq-loc header extensions.
const (
	ExtCaptureTimestamp  uint64 = 2  // even: varint microseconds
	ExtVideoFrameMarking uint64 = 4  // even: varint RFC 9626 flags
	ExtVideoConfig       uint64 = 13 // odd: length-prefixed bytes
)

// Find returns the extension with the given ID, if present.
func Find(exts []Extension, id uint64) (Extension, bool) {
	for _, e := range exts {
		if e.ID == id {
			return e, true
		}
	}
	return Extension{}, false
}

func parseExtensions(data []byte) ([]Extension, error) {
	r := newBufReader(data)
	var out []Extension
	for r.pos < len(r.data) {
		id, err := r.readVarint()
		if err != nil {
			return nil, &ParseError{Field: "extension_id", Err: err}
		}
		if id%2 == 0 {
			v, err := r.readVarint()
			if err != nil {
				return nil, &ParseError{Field: "extension_value", Err: err}
			}
			out = append(out, Extension{ID: id, Value: v})
		} else {
			b, err := r.readVarIntBytes()
			if err != nil {
				return nil, &ParseError{Field: "extension_bytes", Err: err}
			}
			out = append(out, Extension{ID: id, Bytes: b})
		}
	}
	return out, nil
}

// asByteReader adapts an io.Reader lacking ReadByte, the same fallback
// ReadControlMsg uses when it's handed a bare net.Conn or quic.Stream.
func asByteReader(r io.Reader) io.ByteReader {
	if br, ok := r.(io.ByteReader); ok {
		return br
	}
	return &singleByteReader{r: r}
}

type singleByteReader struct {
	r   io.Reader
	buf [1]byte
}

func (s *singleByteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(s.r, s.buf[:]); err != nil {
		return 0, err
	}
	return s.buf[0], nil
}
