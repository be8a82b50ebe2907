package source

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/moqview/clock"
	"github.com/zsiec/moqview/decoder"
	"github.com/zsiec/moqview/media"
	"github.com/zsiec/moqview/moqerr"
	"github.com/zsiec/moqview/session"
)

// Source hosts the rendition selector and decode pipeline for one media
// type (video or audio) of a broadcast. It owns at most two pipelines at
// once: the active one, whose published frame callers observe, and a
// pending one running a newly selected rendition until its first frame
// clears the sync gate and promotes it.
type Source struct {
	log       *slog.Logger
	kind      media.MediaKind
	broadcast *session.Broadcast
	factory   decoder.Factory
	prober    decoder.Prober
	syncClock *clock.Clock
	minBuffer time.Duration
	priority  byte

	mu        sync.Mutex
	enabled   bool
	supported map[string]media.VideoConfig
	target    Target
	selected  string
	active    *pipeline
	pending   *pipeline
}

// New constructs a Source for kind, bound to broadcast. It does no network
// I/O until UpdateCatalog is called with the broadcast's current catalog.
func New(kind media.MediaKind, broadcast *session.Broadcast, factory decoder.Factory, prober decoder.Prober, syncClock *clock.Clock, minBuffer time.Duration) *Source {
	priority := session.PriorityVideo
	if kind == media.KindAudio {
		priority = session.PriorityAudio
	}
	return &Source{
		log:       slog.Default().With("component", "source", "kind", kind),
		kind:      kind,
		broadcast: broadcast,
		factory:   factory,
		prober:    prober,
		syncClock: syncClock,
		minBuffer: minBuffer,
		priority:  priority,
	}
}

// SetTarget updates the desired rendition/pixel count. It re-evaluates
// selection immediately against the last catalog seen.
func (s *Source) SetTarget(ctx context.Context, target Target) error {
	s.mu.Lock()
	s.target = target
	supported := s.supported
	s.mu.Unlock()
	if supported == nil {
		return nil
	}
	return s.reevaluate(ctx)
}

// UpdateCatalog re-runs the capability filter against renditions (a
// catalog's video or audio rendition map) and re-evaluates selection. It
// is called on first subscribe and on every subsequent catalog swap.
func (s *Source) UpdateCatalog(ctx context.Context, renditions map[string]media.VideoConfig) error {
	supported, err := FilterSupported(ctx, s.prober, renditions)
	if err != nil {
		return err
	}
	if len(supported) == 0 {
		s.log.Warn("no rendition supported by the platform decoder")
		return moqerr.New(moqerr.DecoderUnsupported, "no rendition in catalog is decodable").WithTrack(string(s.kind))
	}

	s.mu.Lock()
	s.supported = supported
	s.enabled = true
	s.mu.Unlock()

	return s.reevaluate(ctx)
}

func (s *Source) reevaluate(ctx context.Context) error {
	s.mu.Lock()
	supported := s.supported
	target := s.target
	current := s.selected
	haveActive := s.active != nil
	s.mu.Unlock()

	name, err := SelectRendition(supported, target)
	if err != nil {
		return err
	}
	if name == current && haveActive {
		return nil
	}

	return s.startPipeline(ctx, name, supported[name])
}

func (s *Source) startPipeline(ctx context.Context, name string, cfg media.VideoConfig) error {
	track, err := s.broadcast.Subscribe(ctx, name, s.priority)
	if err != nil {
		return err
	}

	platformDec, err := s.factory.NewDecoder(ctx, cfg)
	if err != nil {
		track.Close()
		return moqerr.Wrap(moqerr.DecoderUnsupported, "constructing decoder", err).WithTrack(name)
	}

	s.mu.Lock()
	initial := s.active == nil
	var p *pipeline
	p = newPipeline(s.kind, track, cfg.Container.Kind, cfg.Container.Timescale, s.minBuffer, platformDec, s.syncClock, initial,
		func() { s.promote(p, name) },
		func(err error) { s.handleFailure(p, name, err) },
	)
	if initial {
		s.active = p
		s.selected = name
		s.mu.Unlock()
		return nil
	}
	old := s.pending
	s.pending = p
	s.mu.Unlock()

	if old != nil {
		old.close()
	}
	return nil
}

// promote swaps p into the active slot once its first frame has cleared
// the sync gate, then closes whatever pipeline was active before it. A
// promote call for a pipeline that has already been superseded by a newer
// pending selection is ignored.
func (s *Source) promote(p *pipeline, name string) {
	s.mu.Lock()
	if s.pending != p {
		s.mu.Unlock()
		return
	}
	old := s.active
	s.active = p
	s.pending = nil
	s.selected = name
	s.mu.Unlock()

	if old != nil {
		old.close()
	}
}

// handleFailure tears down a pipeline that hit a fatal decoder error and
// re-enters rendition selection, dropping the failed rendition from the
// supported set so selection doesn't immediately pick it again.
func (s *Source) handleFailure(p *pipeline, name string, err error) {
	s.log.Warn("pipeline failed, re-entering rendition selection", "rendition", name, "error", err)

	s.mu.Lock()
	wasActive := s.active == p
	wasPending := s.pending == p
	if wasActive {
		s.active = nil
	}
	if wasPending {
		s.pending = nil
	}
	delete(s.supported, name)
	s.mu.Unlock()

	if !wasActive && !wasPending {
		return
	}
	go p.close()

	if err := s.reevaluate(context.Background()); err != nil {
		s.log.Warn("no rendition available after decoder failure", "error", err)
	}
}

// Frame returns the active pipeline's most recently published frame.
func (s *Source) Frame() (*PublishedFrame, bool) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return nil, false
	}
	return active.frame()
}

// Stats returns the active pipeline's running counters.
func (s *Source) Stats() Stats {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return Stats{}
	}
	return active.statsSnapshot()
}

// BufferStatus reports "empty" iff the source is enabled and has no
// published frame yet; otherwise "filled" (including the disabled case,
// where there is nothing to buffer against).
func (s *Source) BufferStatus() string {
	s.mu.Lock()
	enabled := s.enabled
	active := s.active
	s.mu.Unlock()
	if !enabled {
		return "filled"
	}
	if active == nil {
		return "empty"
	}
	if _, ok := active.frame(); !ok {
		return "empty"
	}
	return "filled"
}

// Selected reports the currently active rendition name.
func (s *Source) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// SupportedRenditions lists the renditions the platform decoder accepted
// from the last catalog.
func (s *Source) SupportedRenditions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.supported))
	for name := range s.supported {
		names = append(names, name)
	}
	return names
}

// Close tears down whichever pipelines are running.
func (s *Source) Close() {
	s.mu.Lock()
	active, pending := s.active, s.pending
	s.active, s.pending = nil, nil
	s.mu.Unlock()

	if pending != nil {
		pending.close()
	}
	if active != nil {
		active.close()
	}
}
