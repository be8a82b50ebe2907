// Package clock implements the presentation clock that bridges producer
// timestamps to wall-clock presentation times: the component that decides
// when a decoded frame should actually be shown or played, so that
// end-to-end latency converges on a target and transient producer stalls
// don't permanently skew playback.
package clock

import (
	"context"
	"sync"
	"time"

	"github.com/zsiec/moqview/media"
)

// Status reports whether the clock currently believes playback should
// advance.
type Status string

const (
	StatusPlay Status = "play"
	StatusWait Status = "wait"
)

const (
	// catchUpRate is the maximum rate multiplier applied while nudging the
	// reference point earlier to close an excessive lead.
	catchUpRate = 1.1
	// catchUpWindow bounds how long a catch-up rate is sustained before
	// falling back to 1.0, so an isolated burst doesn't perpetually
	// accelerate playback.
	catchUpWindow = 2 * time.Second
	// staleGrace is added to the latency target before a stalled producer
	// flips the clock into StatusWait.
	staleGrace = 500 * time.Millisecond
	// hysteresis is added to the latency target before a lagging producer
	// flips the clock into StatusWait, so occasional single-update jitter
	// around the boundary doesn't flap the status.
	hysteresis = 20 * time.Millisecond
)

type ref struct {
	producer media.ProducerMicro
	wall     time.Time
}

// Clock is the presentation clock of one playback session; the player
// shares a single instance between its video and audio sources.
// All exported methods are safe for concurrent use.
type Clock struct {
	mu sync.Mutex

	latency time.Duration
	rate    float64
	status  Status

	paused bool

	ref          *ref
	haveRef      bool
	reseed       bool
	lastUpdate   media.ProducerMicro
	lastUpdateAt time.Time
	haveUpdate   bool
	catchUpUntil time.Time

	// prevProducer/prevWall hold the (producer_ts, wall_clock) pair as of
	// the previous Update call, used to measure whether the producer's
	// clock is advancing faster or slower than wall-clock time between
	// consecutive updates.
	prevProducer media.ProducerMicro
	prevWall     time.Time

	now func() time.Time
}

// New constructs a Clock targeting the given end-to-end latency.
func New(latency time.Duration) *Clock {
	return NewWithClock(latency, time.Now)
}

// NewWithClock is New with an injectable wall clock, for deterministic
// tests of the stall/catch-up state machine.
func NewWithClock(latency time.Duration, now func() time.Time) *Clock {
	return &Clock{
		latency: latency,
		rate:    1.0,
		status:  StatusPlay,
		now:     now,
	}
}

// SetLatency updates the target end-to-end latency. The reference point is
// re-seeded to the new target on the next Update call, so the presentation
// schedule actually moves rather than only affecting future stall recovery.
func (c *Clock) SetLatency(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latency = latency
	c.reseed = true
}

// Status reports the clock's current play/wait state.
func (c *Clock) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// SetPaused suspends (or resumes) presentation without discarding the
// reference point: while paused, Wait blocks and Status reports
// StatusWait, but Update keeps tracking producer progress so playback
// resumes on schedule rather than jumping forward.
func (c *Clock) SetPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = paused
}

// statusLocked re-evaluates stall detection before returning the status,
// so a caller polling Status() observes a stall even without a fresh
// Update call arriving.
func (c *Clock) statusLocked() Status {
	if c.paused {
		return StatusWait
	}
	if c.haveUpdate && c.now().Sub(c.lastUpdateAt) > c.latency+staleGrace {
		c.status = StatusWait
	}
	return c.status
}

// Update is called when a new frame is received (not decoded). It
// advances the clock's model of producer progress and may adjust the
// reference point or rate.
func (c *Clock) Update(producerTS media.ProducerMicro) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	wasStalled := c.haveUpdate && !c.paused && c.statusLocked() == StatusWait

	if !c.haveUpdate || producerTS > c.lastUpdate {
		c.lastUpdate = producerTS
	}
	c.lastUpdateAt = now
	c.haveUpdate = true

	if !c.haveRef {
		c.ref = &ref{producer: producerTS - media.ProducerMicro(c.latency.Microseconds()), wall: now}
		c.haveRef = true
		c.reseed = false
		c.rate = 1.0
		c.status = StatusPlay
		c.prevProducer, c.prevWall = producerTS, now
		return
	}

	if wasStalled || c.reseed {
		// Stall recovery, or a latency target change: re-seed the reference
		// so the new frame presents exactly latency from now, accepting a
		// discontinuity rather than carrying the old target forward.
		c.ref = &ref{producer: producerTS - media.ProducerMicro(c.latency.Microseconds()), wall: now}
		c.reseed = false
		c.rate = 1.0
		c.status = StatusPlay
		c.prevProducer, c.prevWall = producerTS, now
		return
	}

	// drift compares how far the producer clock advanced against how much
	// wall-clock time actually elapsed since the last update: positive
	// means the producer is running ahead of real time (the backlog of
	// buffered-but-not-yet-due content is growing), negative means it is
	// falling behind.
	producerDelta := producerTS.Duration() - c.prevProducer.Duration()
	wallDelta := now.Sub(c.prevWall)
	drift := producerDelta - wallDelta
	c.prevProducer, c.prevWall = producerTS, now

	switch {
	case drift > c.latency/2:
		c.rate = catchUpRate
		c.catchUpUntil = now.Add(catchUpWindow)
		c.status = StatusPlay
	case drift < -(c.latency + hysteresis):
		c.status = StatusWait
	default:
		if now.Before(c.catchUpUntil) {
			c.rate = catchUpRate
		} else {
			c.rate = 1.0
		}
		c.status = StatusPlay
	}
}

// Present computes the wall-clock instant at which producerTS should be
// shown, given the clock's current reference point and rate.
func (c *Clock) Present(producerTS media.ProducerMicro) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presentLocked(producerTS)
}

func (c *Clock) presentLocked(producerTS media.ProducerMicro) time.Time {
	if !c.haveRef {
		return c.now()
	}
	delta := producerTS.Duration() - c.ref.producer.Duration()
	rate := c.rate
	if rate <= 0 {
		rate = 1.0
	}
	scaled := time.Duration(float64(delta) / rate)
	return c.ref.wall.Add(scaled)
}

// Wait blocks until producerTS is ready to present and the clock is in
// StatusPlay, or ctx is cancelled. Returns false if the wait was
// cancelled rather than resolved. Spurious early returns are permitted by
// design; callers should recheck staleness on return.
func (c *Clock) Wait(ctx context.Context, producerTS media.ProducerMicro) bool {
	const pollInterval = 5 * time.Millisecond

	for {
		c.mu.Lock()
		presentAt := c.presentLocked(producerTS)
		status := c.statusLocked()
		c.mu.Unlock()

		if status == StatusPlay && !c.now().Before(presentAt) {
			return true
		}

		wait := pollInterval
		if status == StatusPlay {
			if d := presentAt.Sub(c.now()); d > 0 && d < wait {
				wait = d
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// LastUpdate reports the most recent producer timestamp seen, for stats.
func (c *Clock) LastUpdate() (media.ProducerMicro, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdate, c.haveUpdate
}
