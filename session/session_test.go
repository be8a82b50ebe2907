package session

import (
	"context"
	"testing"
	"time"

	"github.com/zsiec/moqview/moq"
)

// newTestSession builds a Session with its bookkeeping maps initialized but
// no live QUIC connection, for exercising the control-message dispatch
// logic in isolation.
func newTestSession() *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		pendingSubscribe: make(map[uint64]chan subscribeResult),
		tracksByAlias:    make(map[uint64]*Track),
		announced:        make(map[string]bool),
		status:           StatusConnecting,
		statusCh:         make(chan Status, 8),
		ctx:              ctx,
		cancel:           cancel,
	}
}

func TestDispatchAnnouncementUpdatesLiveness(t *testing.T) {
	t.Parallel()
	s := newTestSession()
	path := ParsePath("live/room1")

	if s.isAnnounced(path) {
		t.Fatal("path should not be announced before dispatch")
	}

	s.dispatchAnnouncement(path, true)
	if !s.isAnnounced(path) {
		t.Fatal("expected path to be announced")
	}

	s.dispatchAnnouncement(path, false)
	if s.isAnnounced(path) {
		t.Fatal("expected path to be un-announced")
	}
}

func TestDispatchAnnouncementNotifiesWatchersUnderPrefix(t *testing.T) {
	t.Parallel()
	s := newTestSession()

	it := &AnnouncedIter{session: s, prefix: ParsePath("live"), ch: make(chan Announcement, 4)}
	s.watchers = append(s.watchers, it)

	s.dispatchAnnouncement(ParsePath("live/room1"), true)
	s.dispatchAnnouncement(ParsePath("other/room2"), true) // outside prefix, must not arrive

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := it.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.Path.String() != "live/room1" || !got.Active {
		t.Fatalf("unexpected announcement: %+v", got)
	}

	select {
	case a := <-it.ch:
		t.Fatalf("unexpected second announcement delivered: %+v", a)
	default:
	}
}

func TestAnnouncedIterCloseStopsDelivery(t *testing.T) {
	t.Parallel()
	s := newTestSession()

	it := &AnnouncedIter{session: s, prefix: ParsePath("live"), ch: make(chan Announcement, 4)}
	s.watchers = append(s.watchers, it)
	it.Close()

	s.dispatchAnnouncement(ParsePath("live/room1"), true)

	select {
	case a := <-it.ch:
		t.Fatalf("expected no delivery after Close, got %+v", a)
	default:
	}
}

func TestResolveSubscribeDeliversOK(t *testing.T) {
	t.Parallel()
	s := newTestSession()

	resultCh := make(chan subscribeResult, 1)
	s.pendingSubscribe[7] = resultCh

	s.resolveSubscribe(7, subscribeResult{ok: moq.SubscribeOK{RequestID: 7, TrackAlias: 42}})

	select {
	case res := <-resultCh:
		if res.ok.TrackAlias != 42 {
			t.Fatalf("unexpected result: %+v", res)
		}
	default:
		t.Fatal("expected resolveSubscribe to deliver synchronously to the buffered channel")
	}

	if _, stillPending := s.pendingSubscribe[7]; stillPending {
		t.Fatal("expected pending entry to be removed after resolution")
	}
}

func TestResolveSubscribeIgnoresUnknownRequestID(t *testing.T) {
	t.Parallel()
	s := newTestSession()
	// Must not panic or block when no one is waiting on this request id.
	s.resolveSubscribe(999, subscribeResult{ok: moq.SubscribeOK{RequestID: 999}})
}

func TestSetStatusUpdatesAndSignals(t *testing.T) {
	t.Parallel()
	s := newTestSession()

	s.setStatus(StatusConnected)
	if s.Status() != StatusConnected {
		t.Fatalf("Status() = %v", s.Status())
	}

	select {
	case got := <-s.statusCh:
		if got != StatusConnected {
			t.Fatalf("status update = %v", got)
		}
	default:
		t.Fatal("expected a status update on the channel")
	}
}
