package session

import (
	"context"

	"github.com/zsiec/moqview/moqerr"
)

// CatalogTrackName is the reserved track every broadcast publishes its
// catalog JSON document on.
const CatalogTrackName = "catalog.json"

// Priority values for the three track kinds a broadcast consumer opens.
// The relay sheds load starting from the numerically lowest priority, so
// the catalog track (which must never starve) is given the highest value.
const (
	PriorityVideo   byte = 10
	PriorityAudio   byte = 20
	PriorityCatalog byte = 30
)

// BroadcastStatus mirrors the liveness states a consumer observes.
type BroadcastStatus string

const (
	BroadcastOffline BroadcastStatus = "offline"
	BroadcastLoading BroadcastStatus = "loading"
	BroadcastLive    BroadcastStatus = "live"
)

// Broadcast is a named set of tracks published under path, relative to the
// session's root. Constructing one does no network I/O; only Subscribe
// does.
type Broadcast struct {
	session *Session
	path    Path
}

// Path is the broadcast's namespace, relative to the session root.
func (b *Broadcast) Path() Path { return b.path }

// Status reports whether the broadcast's namespace is currently announced.
// It does not distinguish "loading" from "live"; a caller layers that on
// top by tracking whether it has received a first catalog and first frame.
func (b *Broadcast) Status() BroadcastStatus {
	if b.session.isAnnounced(b.path) {
		return BroadcastLive
	}
	return BroadcastOffline
}

// Subscribe issues a SUBSCRIBE for name at priority and blocks until the
// relay confirms or rejects it.
func (b *Broadcast) Subscribe(ctx context.Context, name string, priority byte) (*Track, error) {
	track, err := b.session.subscribe(ctx, b.path, name, priority)
	if err != nil {
		return nil, err
	}
	return track, nil
}

// SubscribeCatalog subscribes to the broadcast's reserved catalog track.
func (b *Broadcast) SubscribeCatalog(ctx context.Context) (*Track, error) {
	track, err := b.Subscribe(ctx, CatalogTrackName, PriorityCatalog)
	if err != nil {
		return nil, moqerr.Wrap(moqerr.BroadcastUnavailable, "subscribing to catalog track", err).WithTrack(CatalogTrackName)
	}
	return track, nil
}
