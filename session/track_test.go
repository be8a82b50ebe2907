package session

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/quicvarint"

	"github.com/zsiec/moqview/moq"
)

// fakeReceiveStream implements quic.ReceiveStream over an in-memory buffer,
// grounded on the corpus's own mockControlStream pattern for testing
// against a quic-go stream interface without a live connection.
type fakeReceiveStream struct {
	r          *bytes.Buffer
	cancelled  bool
	cancelCode quic.StreamErrorCode
}

func (f *fakeReceiveStream) Read(p []byte) (int, error)                { return f.r.Read(p) }
func (f *fakeReceiveStream) CancelRead(code quic.StreamErrorCode)      { f.cancelled = true; f.cancelCode = code }
func (f *fakeReceiveStream) SetReadDeadline(time.Time) error           { return nil }
func (f *fakeReceiveStream) StreamID() quic.StreamID                   { return 0 }

var _ quic.ReceiveStream = (*fakeReceiveStream)(nil)

func buildObject(objectID uint64, payload []byte) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, objectID)
	buf = quicvarint.Append(buf, 0) // extension_len
	buf = quicvarint.Append(buf, uint64(len(payload)))
	buf = append(buf, payload...)
	return buf
}

func TestTrackDeliversGroupAndFrames(t *testing.T) {
	t.Parallel()

	var body []byte
	body = append(body, buildObject(0, []byte("frame0"))...)
	body = append(body, buildObject(1, []byte("frame1"))...)

	str := &fakeReceiveStream{r: bytes.NewBuffer(body)}
	track := newTrack(nil, 1, 42, "video", PriorityVideo)

	header := moq.SubgroupHeader{StreamType: moq.StreamTypeSubgroupSIDExt, TrackAlias: 42, GroupID: 5, SubgroupID: 0}
	track.deliverGroupStream(header, str)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	group, err := track.NextGroup(ctx)
	if err != nil {
		t.Fatalf("NextGroup: %v", err)
	}
	if group.ID() != 5 {
		t.Fatalf("group ID = %d, want 5", group.ID())
	}

	f0, err := group.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame 0: %v", err)
	}
	if string(f0.Payload) != "frame0" {
		t.Fatalf("frame 0 payload = %q", f0.Payload)
	}

	f1, err := group.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame 1: %v", err)
	}
	if string(f1.Payload) != "frame1" {
		t.Fatalf("frame 1 payload = %q", f1.Payload)
	}

	if _, err := group.ReadFrame(ctx); err != io.EOF {
		t.Fatalf("expected io.EOF at end of group, got %v", err)
	}
}

func TestGroupReadFrameSurfacesStreamReset(t *testing.T) {
	t.Parallel()

	// A truncated object (declares a payload longer than what's buffered)
	// simulates the relay resetting the stream mid-group.
	var body []byte
	body = quicvarint.Append(body, 0)
	body = quicvarint.Append(body, 0)
	body = quicvarint.Append(body, 100) // payload_len, but nothing follows

	str := &fakeReceiveStream{r: bytes.NewBuffer(body)}
	track := newTrack(nil, 1, 42, "video", PriorityVideo)
	header := moq.SubgroupHeader{TrackAlias: 42, GroupID: 1}
	track.deliverGroupStream(header, str)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	group, err := track.NextGroup(ctx)
	if err != nil {
		t.Fatalf("NextGroup: %v", err)
	}

	if _, err := group.ReadFrame(ctx); err == nil {
		t.Fatal("expected an error for a truncated object")
	}
}

func TestGroupCloseCancelsStream(t *testing.T) {
	t.Parallel()

	str := &fakeReceiveStream{r: bytes.NewBuffer(nil)}
	track := newTrack(nil, 1, 42, "video", PriorityVideo)
	header := moq.SubgroupHeader{TrackAlias: 42, GroupID: 1}
	track.deliverGroupStream(header, str)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	group, err := track.NextGroup(ctx)
	if err != nil {
		t.Fatalf("NextGroup: %v", err)
	}

	group.Close()
	if !str.cancelled {
		t.Fatal("expected Close to cancel the underlying stream")
	}
}
