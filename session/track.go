package session

import (
	"context"
	"io"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/zsiec/moqview/moq"
	"github.com/zsiec/moqview/moqerr"
)

// Track is a subscribed MoQ track. Groups arrive on independent
// unidirectional streams and are handed to the caller through NextGroup in
// roughly producer order; a group that stalls or is reset by the relay
// never blocks delivery of a newer one, since each has its own stream and
// its own goroutine feeding it.
type Track struct {
	session    *Session
	requestID  uint64
	trackAlias uint64
	name       string
	priority   byte

	groups chan *Group

	closeOnce sync.Once
	closed    chan struct{}
}

func newTrack(s *Session, requestID, trackAlias uint64, name string, priority byte) *Track {
	return &Track{
		session:    s,
		requestID:  requestID,
		trackAlias: trackAlias,
		name:       name,
		priority:   priority,
		groups:     make(chan *Group, 4),
		closed:     make(chan struct{}),
	}
}

// Name is the track's name within its broadcast's namespace.
func (t *Track) Name() string { return t.name }

// NextGroup blocks until a new group's stream has started arriving, ctx is
// cancelled, or the track is closed.
func (t *Track) NextGroup(ctx context.Context) (*Group, error) {
	select {
	case g, ok := <-t.groups:
		if !ok {
			return nil, moqerr.New(moqerr.GroupLost, "track closed").WithTrack(t.name)
		}
		return g, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closed:
		return nil, moqerr.New(moqerr.GroupLost, "track closed").WithTrack(t.name)
	}
}

// Close sends UNSUBSCRIBE and releases the track's resources.
func (t *Track) Close() {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.session.unsubscribe(t.requestID, t.trackAlias)
	})
}

// deliverGroupStream is called once per unidirectional stream carrying a
// subgroup of this track. It hands a new Group to whichever caller is
// blocked in NextGroup, then starts a goroutine that decodes objects off
// the stream and feeds them to that Group.
func (t *Track) deliverGroupStream(header moq.SubgroupHeader, str quic.ReceiveStream) {
	g := &Group{
		id:         header.GroupID,
		subgroupID: header.SubgroupID,
		priority:   header.Priority,
		frames:     make(chan frameOrErr, 8),
		cancel:     func() { str.CancelRead(0) },
	}

	select {
	case t.groups <- g:
	case <-t.closed:
		str.CancelRead(0)
		return
	}

	go readGroupObjects(str, g)
}

func readGroupObjects(str quic.ReceiveStream, g *Group) {
	defer close(g.frames)
	for {
		obj, err := moq.ReadObject(str)
		if err != nil {
			if err == io.EOF {
				return
			}
			g.frames <- frameOrErr{err: moqerr.Wrap(moqerr.GroupLost, "group stream read failed", err).WithGroup(g.id)}
			return
		}
		g.frames <- frameOrErr{frame: Frame{ObjectID: obj.ObjectID, Extensions: obj.Extensions, Payload: obj.Payload}}
	}
}

type frameOrErr struct {
	frame Frame
	err   error
}

// Group is one group's worth of objects arriving on a single data stream.
type Group struct {
	id         uint64
	subgroupID uint64
	priority   byte

	frames chan frameOrErr
	cancel func()
}

// ID is the group's sequence number within its track.
func (g *Group) ID() uint64 { return g.id }

// ReadFrame blocks for the next object in the group. It returns io.EOF once
// the group's stream ends cleanly (the group is complete), or a
// *moqerr.Error{Kind: GroupLost} if the relay reset the stream mid-group.
func (g *Group) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case item, ok := <-g.frames:
		if !ok {
			return Frame{}, io.EOF
		}
		if item.err != nil {
			return Frame{}, item.err
		}
		return item.frame, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close abandons the group's stream before it has finished delivering,
// e.g. because a newer group has superseded it.
func (g *Group) Close() {
	if g.cancel != nil {
		g.cancel()
	}
}
