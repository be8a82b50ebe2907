package source

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/moqview/clock"
	"github.com/zsiec/moqview/container"
	"github.com/zsiec/moqview/decoder"
	"github.com/zsiec/moqview/media"
	"github.com/zsiec/moqview/moqerr"
	"github.com/zsiec/moqview/reorder"
	"github.com/zsiec/moqview/session"
)

// PublishedFrame is the most recently emitted frame for a media type,
// owned by whoever most recently published it; the pipeline that produced
// a prior published frame is responsible for treating it as superseded
// once a new one lands.
type PublishedFrame struct {
	Timestamp media.ProducerMicro
	Handle    any
}

// Stats tracks the running counters a caller surfaces to the UI.
type Stats struct {
	Frames        uint64
	Bytes         uint64
	LastTimestamp media.ProducerMicro
}

// pipeline runs one rendition end to end: track groups -> container
// decoder -> (reorder, for legacy) -> platform decoder -> Sync-gated
// emission. Exactly one pipeline is "active" (its published frame is what
// the caller reads); a second may run "pending" during a rendition switch.
type pipeline struct {
	log  *slog.Logger
	kind media.MediaKind

	track         *session.Track
	containerKind media.ContainerKind
	timescale     uint32
	minBuffer     time.Duration

	platformDec decoder.Decoder
	syncClock   *clock.Clock

	reorderBuf *reorder.Buffer

	onPromote func()
	// onFailure is called, off the pipeline's own goroutines, once a fatal
	// decoder error ends the pipeline.
	onFailure func(error)
	// initial is true only for the pipeline that starts with no active
	// pipeline already showing anything on the Source; it alone may latch
	// its first frame straight to publish so the UI isn't left blank.
	// Every other pipeline (a pending rendition switch) always promotes
	// through the sync gate.
	initial bool

	mu          sync.Mutex
	haveEmitted bool
	lastEmitted media.ProducerMicro
	published   *PublishedFrame
	promoted    bool
	stats       Stats

	cancel context.CancelFunc
	done   chan struct{}
}

func newPipeline(kind media.MediaKind, track *session.Track, containerKind media.ContainerKind, timescale uint32, minBuffer time.Duration, platformDec decoder.Decoder, syncClock *clock.Clock, initial bool, onPromote func(), onFailure func(error)) *pipeline {
	ctx, cancel := context.WithCancel(context.Background())

	p := &pipeline{
		log:           slog.Default().With("component", "pipeline", "kind", kind, "track", track.Name()),
		kind:          kind,
		track:         track,
		containerKind: containerKind,
		timescale:     timescale,
		minBuffer:     minBuffer,
		platformDec:   platformDec,
		syncClock:     syncClock,
		initial:       initial,
		onPromote:     onPromote,
		onFailure:     onFailure,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	if containerKind == media.ContainerLegacy {
		p.reorderBuf = reorder.New(minBuffer)
	}

	go p.run(ctx)
	return p
}

func (p *pipeline) run(ctx context.Context) {
	defer close(p.done)

	var wg sync.WaitGroup
	defer wg.Wait()

	if p.reorderBuf != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.drainLoop(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.emissionLoop(ctx)
	}()

	for {
		group, err := p.track.NextGroup(ctx)
		if err != nil {
			return
		}
		if p.reorderBuf != nil {
			p.reorderBuf.OpenGroup(group.ID())
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.readGroup(ctx, group)
		}()
	}
}

func (p *pipeline) readGroup(ctx context.Context, group *session.Group) {
	dec, err := container.New(p.containerKind, p.timescale)
	if err != nil {
		p.log.Error("unsupported container kind", "error", err)
		group.Close()
		return
	}
	defer func() {
		if p.reorderBuf != nil {
			p.deliverFrames(p.reorderBuf.CloseGroup(group.ID()))
		}
	}()

	for {
		frame, err := group.ReadFrame(ctx)
		if err == io.EOF {
			return
		}
		if err != nil {
			p.log.Warn("group read failed", "group", group.ID(), "error", err)
			return
		}

		samples, err := dec.Feed(frame.Payload)
		if err != nil {
			p.log.Warn("container decode failed", "group", group.ID(), "error", err)
			return
		}
		for _, s := range samples {
			p.mu.Lock()
			p.stats.Bytes += uint64(len(s.Data))
			p.mu.Unlock()

			if p.reorderBuf != nil {
				ready := p.reorderBuf.Push(reorder.Frame{GroupID: group.ID(), Timestamp: s.Timestamp, Keyframe: s.Keyframe, Data: s.Data})
				p.deliverFrames(ready)
			} else {
				p.deliverSample(s)
			}
		}
	}
}

func (p *pipeline) drainLoop(ctx context.Context) {
	for {
		deadline, ok := p.reorderBuf.NextDeadline()
		var wait time.Duration
		if ok {
			wait = time.Until(deadline)
			if wait < 0 {
				wait = 0
			}
		} else {
			wait = time.Second
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			p.deliverFrames(p.reorderBuf.Drain())
		}
	}
}

func (p *pipeline) deliverFrames(frames []reorder.Frame) {
	for _, f := range frames {
		p.deliverSample(media.Sample{Timestamp: f.Timestamp, Keyframe: f.Keyframe, Data: f.Data})
	}
}

func (p *pipeline) deliverSample(s media.Sample) {
	p.syncClock.Update(s.Timestamp)
	if err := p.platformDec.Decode(s); err != nil {
		p.log.Warn("decode submission failed", "error", err)
	}
}

func (p *pipeline) emissionLoop(ctx context.Context) {
	for {
		select {
		case frame, ok := <-p.platformDec.Output():
			if !ok {
				return
			}
			p.emit(ctx, frame)
		case err, ok := <-p.platformDec.Errors():
			if !ok {
				continue
			}
			failure := moqerr.Wrap(moqerr.DecoderFatal, "platform decoder error", err).WithTrack(p.track.Name())
			if p.onFailure != nil {
				// Off this goroutine: the handler may call close(), which
				// waits on this same emission loop to exit.
				go p.onFailure(failure)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// emit implements the five-step frame-emission algorithm: drop stale
// frames, latch the very first frame so the UI is never blank (the
// initial pipeline only — a pending pipeline replacing an already-showing
// one always promotes through the sync gate), wait on the sync clock,
// recheck staleness after the wait, then publish.
func (p *pipeline) emit(ctx context.Context, frame decoder.DecodedFrame) {
	p.mu.Lock()
	if p.haveEmitted && frame.Timestamp < p.lastEmitted {
		p.mu.Unlock()
		return
	}
	needsLatch := p.initial && !p.haveEmitted
	p.mu.Unlock()

	if needsLatch {
		p.publish(frame)
	}

	if !p.syncClock.Wait(ctx, frame.Timestamp) {
		return
	}

	p.mu.Lock()
	stale := p.haveEmitted && frame.Timestamp < p.lastEmitted
	p.mu.Unlock()
	if stale {
		return
	}

	p.publish(frame)
}

func (p *pipeline) publish(frame decoder.DecodedFrame) {
	p.mu.Lock()
	p.published = &PublishedFrame{Timestamp: frame.Timestamp, Handle: frame.Handle}
	p.haveEmitted = true
	p.lastEmitted = frame.Timestamp
	p.stats.Frames++
	p.stats.LastTimestamp = frame.Timestamp
	first := !p.promoted
	if first {
		p.promoted = true
	}
	p.mu.Unlock()

	if first && p.onPromote != nil {
		p.onPromote()
	}
}

// frame returns the most recently published frame, if any.
func (p *pipeline) frame() (*PublishedFrame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published, p.published != nil
}

func (p *pipeline) statsSnapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// close cancels the pipeline's goroutines, unsubscribes its track, and
// closes its platform decoder. It blocks until every goroutine has exited.
func (p *pipeline) close() {
	p.cancel()
	<-p.done
	p.track.Close()
	_ = p.platformDec.Close()
}
