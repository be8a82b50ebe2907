// Package player provides the UI-facing façade over a session, its
// catalog-driven sources, and the shared presentation clock: the single
// object a host application actually holds and drives.
package player

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/moqview/catalog"
	"github.com/zsiec/moqview/clock"
	"github.com/zsiec/moqview/decoder"
	"github.com/zsiec/moqview/media"
	"github.com/zsiec/moqview/session"
	"github.com/zsiec/moqview/source"
)

// Status is the player's top-level lifecycle/liveness state.
type Status string

const (
	StatusNoURL        Status = "no-url"
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusOffline      Status = "offline"
	StatusLoading      Status = "loading"
	StatusLive         Status = "live"
	StatusConnected    Status = "connected"
)

// Rendition is one selectable option surfaced to the UI.
type Rendition struct {
	Name   string
	Width  int
	Height int
}

// MediaStats is the per-media-type counters surfaced to the UI.
type MediaStats struct {
	FrameCount    uint64
	BytesReceived uint64
	Timestamp     media.ProducerMicro
}

const defaultLatency = 200 * time.Millisecond
const broadcastPollInterval = 500 * time.Millisecond

// Player is the top-level façade: connect a URL, watch status, read
// renditions and stats, and adjust playback controls. It has no method
// that hands out decoded frames. All exported methods are safe for
// concurrent use.
type Player struct {
	log *slog.Logger

	factory decoder.Factory
	prober  decoder.Prober

	mu        sync.Mutex
	url       string
	sess      *session.Session
	broadcast *session.Broadcast
	syncClock *clock.Clock
	video     *source.Source
	audio     *source.Source
	catalog   *catalog.Catalog

	paused      bool
	muted       bool
	volume      float64
	latency     time.Duration
	target      source.Target
	insecureTLS bool

	status          Status
	sessionStatus   session.Status
	broadcastStatus session.BroadcastStatus
	haveCatalog     bool

	cancel context.CancelFunc
}

// New constructs an idle Player. factory/prober stand in for the host
// environment's platform decoder; pass decoder.PassthroughFactory{} where
// no real one is available.
func New(factory decoder.Factory, prober decoder.Prober) *Player {
	return &Player{
		log:     slog.Default().With("component", "player"),
		factory: factory,
		prober:  prober,
		volume:  1.0,
		latency: defaultLatency,
		status:  StatusNoURL,
	}
}

// recomputeStatusLocked derives status from sessionStatus/broadcastStatus/
// haveCatalog/video buffer state, so Status() reads a pre-computed value
// under one lock rather than recomputing from several snapshots taken at
// different times.
func (p *Player) recomputeStatusLocked() {
	switch {
	case p.url == "":
		p.status = StatusNoURL
	case p.sessionStatus == session.StatusConnecting:
		p.status = StatusConnecting
	case p.sessionStatus == session.StatusDisconnected:
		p.status = StatusDisconnected
	case p.broadcastStatus == session.BroadcastOffline:
		p.status = StatusOffline
	case !p.haveCatalog:
		p.status = StatusConnected
	case p.video == nil || p.video.BufferStatus() == "empty":
		p.status = StatusLoading
	default:
		p.status = StatusLive
	}
}

// SetInsecureTLS controls whether Open skips certificate verification.
// Must be called before Open; it has no effect on an already-open
// session.
func (p *Player) SetInsecureTLS(insecure bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insecureTLS = insecure
}

// Open connects to url and starts consuming the broadcast named by its
// path. Any previously open session is closed first.
func (p *Player) Open(ctx context.Context, url string) error {
	p.Close()

	p.mu.Lock()
	p.url = url
	p.sessionStatus = session.StatusConnecting
	insecureTLS := p.insecureTLS
	p.recomputeStatusLocked()
	p.mu.Unlock()

	sess, err := session.Connect(ctx, url, session.Options{InsecureTLS: insecureTLS})
	if err != nil {
		p.mu.Lock()
		p.sessionStatus = session.StatusDisconnected
		p.recomputeStatusLocked()
		p.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	broadcast := sess.Consume(session.ParsePath(pathOf(url)))
	syncClock := clock.New(p.currentLatency())

	p.mu.Lock()
	p.sess = sess
	p.broadcast = broadcast
	p.syncClock = syncClock
	p.cancel = cancel
	p.sessionStatus = session.StatusConnected
	p.recomputeStatusLocked()
	p.mu.Unlock()

	go p.watchStatus(runCtx, sess)
	go p.watchCatalog(runCtx, broadcast)
	go p.watchBroadcastStatus(runCtx, broadcast)

	return nil
}

func (p *Player) currentLatency() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latency
}

func (p *Player) watchStatus(ctx context.Context, sess *session.Session) {
	for {
		select {
		case status, ok := <-sess.StatusUpdates():
			if !ok {
				return
			}
			p.mu.Lock()
			p.sessionStatus = status
			p.recomputeStatusLocked()
			p.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

// watchBroadcastStatus polls Broadcast.Status, since announcement events
// are pushed per-session-watcher rather than per-broadcast; a broadcast
// has no dedicated notification channel of its own.
func (p *Player) watchBroadcastStatus(ctx context.Context, broadcast *session.Broadcast) {
	ticker := time.NewTicker(broadcastPollInterval)
	defer ticker.Stop()

	apply := func() {
		status := broadcast.Status()
		p.mu.Lock()
		p.broadcastStatus = status
		p.recomputeStatusLocked()
		p.mu.Unlock()
	}
	apply()
	for {
		select {
		case <-ticker.C:
			apply()
		case <-ctx.Done():
			return
		}
	}
}

func (p *Player) watchCatalog(ctx context.Context, broadcast *session.Broadcast) {
	track, err := broadcast.SubscribeCatalog(ctx)
	if err != nil {
		p.log.Warn("catalog subscription failed", "error", err)
		return
	}
	defer track.Close()

	for {
		group, err := track.NextGroup(ctx)
		if err != nil {
			return
		}
		var doc []byte
		for {
			frame, err := group.ReadFrame(ctx)
			if err != nil {
				break
			}
			doc = append(doc, frame.Payload...)
		}
		cat, err := catalog.Parse(doc)
		if err != nil {
			p.log.Warn("malformed catalog, retaining previous", "error", err)
			continue
		}
		p.applyCatalog(ctx, broadcast, cat)
	}
}

func (p *Player) applyCatalog(ctx context.Context, broadcast *session.Broadcast, cat *catalog.Catalog) {
	p.mu.Lock()
	p.catalog = cat
	p.haveCatalog = true
	syncClock := p.syncClock
	target := p.target
	if p.video == nil && len(cat.Video) > 0 {
		p.video = source.New(media.KindVideo, broadcast, p.factory, p.prober, syncClock, minBufferOf(cat))
	}
	if p.audio == nil && len(cat.Audio) > 0 {
		p.audio = source.New(media.KindAudio, broadcast, p.factory, p.prober, syncClock, minBufferOf(cat))
	}
	video, audio := p.video, p.audio
	p.recomputeStatusLocked()
	p.mu.Unlock()

	if video != nil {
		if err := video.UpdateCatalog(ctx, cat.Video); err != nil {
			p.log.Warn("video capability filter failed", "error", err)
		}
		_ = video.SetTarget(ctx, target)
	}
	if audio != nil {
		_ = audio.UpdateCatalog(ctx, audioAsVideoConfigs(cat.Audio))
	}
}

func minBufferOf(cat *catalog.Catalog) time.Duration {
	if cat.MinBuffer <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(cat.MinBuffer) * time.Millisecond
}

// audioAsVideoConfigs adapts an audio rendition map onto the selector,
// which is defined generically over media.VideoConfig-shaped area/codec
// fields; audio renditions carry no coded dimensions so every entry ties
// for area and the first-by-name fallback applies.
func audioAsVideoConfigs(audio map[string]media.AudioConfig) map[string]media.VideoConfig {
	out := make(map[string]media.VideoConfig, len(audio))
	for name, cfg := range audio {
		out[name] = media.VideoConfig{Codec: cfg.Codec, Description: cfg.Description}
	}
	return out
}

func pathOf(rawURL string) string {
	for i := 0; i < len(rawURL); i++ {
		// Skip past "scheme://host" to find the first path separator.
		if rawURL[i] == '/' && i+1 < len(rawURL) && rawURL[i+1] != '/' && i > 0 && rawURL[i-1] != '/' {
			return rawURL[i:]
		}
	}
	return ""
}

// Status reports the player's current top-level state.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// SetPaused suspends or resumes presentation. Paused playback keeps
// decoding and buffering; it only withholds the Sync gate.
func (p *Player) SetPaused(paused bool) {
	p.mu.Lock()
	p.paused = paused
	syncClock := p.syncClock
	p.mu.Unlock()
	if syncClock != nil {
		syncClock.SetPaused(paused)
	}
}

// Paused reports the current pause state.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// SetMuted mutes or unmutes audio output. The player has no audio
// rendering of its own; this is surfaced for the host's renderer to read.
func (p *Player) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
}

func (p *Player) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// SetVolume sets audio output volume in [0, 1].
func (p *Player) SetVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = volume
}

func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SetLatency updates the target end-to-end latency, taking effect on the
// sync clock's next update.
func (p *Player) SetLatency(latency time.Duration) {
	p.mu.Lock()
	p.latency = latency
	syncClock := p.syncClock
	p.mu.Unlock()
	if syncClock != nil {
		syncClock.SetLatency(latency)
	}
}

func (p *Player) Latency() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latency
}

// AvailableRenditions lists the renditions the platform decoder can play,
// from the most recent catalog.
func (p *Player) AvailableRenditions() []Rendition {
	p.mu.Lock()
	cat := p.catalog
	video := p.video
	p.mu.Unlock()
	if cat == nil || video == nil {
		return nil
	}

	names := video.SupportedRenditions()
	out := make([]Rendition, 0, len(names))
	for _, name := range names {
		cfg := cat.Video[name]
		out = append(out, Rendition{Name: name, Width: cfg.CodedWidth, Height: cfg.CodedHeight})
	}
	return out
}

// ActiveRendition returns the currently active video rendition name.
func (p *Player) ActiveRendition() string {
	p.mu.Lock()
	video := p.video
	p.mu.Unlock()
	if video == nil {
		return ""
	}
	return video.Selected()
}

// SetTargetRendition overrides automatic selection with an explicit
// rendition name; an empty string reverts to pixel-count-based selection.
func (p *Player) SetTargetRendition(ctx context.Context, name string) error {
	p.mu.Lock()
	p.target.Rendition = name
	target := p.target
	video := p.video
	p.mu.Unlock()
	if video == nil {
		return nil
	}
	return video.SetTarget(ctx, target)
}

// BufferStatus reports the video source's buffer status.
func (p *Player) BufferStatus() string {
	p.mu.Lock()
	video := p.video
	p.mu.Unlock()
	if video == nil {
		return "empty"
	}
	return video.BufferStatus()
}

// SyncStatus reports the shared presentation clock's play/wait state.
func (p *Player) SyncStatus() clock.Status {
	p.mu.Lock()
	syncClock := p.syncClock
	p.mu.Unlock()
	if syncClock == nil {
		return clock.StatusWait
	}
	return syncClock.Status()
}

// Stats returns the current frame/byte counters for video and audio.
func (p *Player) Stats() (video, audio MediaStats) {
	p.mu.Lock()
	v, a := p.video, p.audio
	p.mu.Unlock()
	if v != nil {
		s := v.Stats()
		video = MediaStats{FrameCount: s.Frames, BytesReceived: s.Bytes, Timestamp: s.LastTimestamp}
	}
	if a != nil {
		s := a.Stats()
		audio = MediaStats{FrameCount: s.Frames, BytesReceived: s.Bytes, Timestamp: s.LastTimestamp}
	}
	return video, audio
}

// Close tears down the session and every source, cancelling all
// subscriptions and background goroutines. Safe to call when nothing is
// open.
func (p *Player) Close() error {
	p.mu.Lock()
	cancel := p.cancel
	sess := p.sess
	video, audio := p.video, p.audio
	p.sess, p.broadcast, p.syncClock, p.cancel = nil, nil, nil, nil
	p.video, p.audio, p.catalog, p.haveCatalog = nil, nil, nil, false
	if sess != nil {
		p.sessionStatus = session.StatusDisconnected
		p.broadcastStatus = ""
	}
	p.recomputeStatusLocked()
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if video != nil {
		video.Close()
	}
	if audio != nil {
		audio.Close()
	}
	if sess != nil {
		return sess.Close()
	}
	return nil
}
