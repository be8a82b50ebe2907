package clock

import (
	"context"
	"testing"
	"time"

	"github.com/zsiec/moqview/media"
)

func newTestClock(latency time.Duration) (*Clock, *fakeNow) {
	fn := &fakeNow{t: time.Unix(0, 0)}
	return NewWithClock(latency, fn.Now), fn
}

type fakeNow struct{ t time.Time }

func (f *fakeNow) Now() time.Time { return f.t }
func (f *fakeNow) Advance(d time.Duration) {
	f.t = f.t.Add(d)
}

func TestFirstUpdateSeedsReference(t *testing.T) {
	t.Parallel()
	c, fn := newTestClock(200 * time.Millisecond)

	c.Update(media.ProducerMicro(1_000_000))
	presentAt := c.Present(media.ProducerMicro(1_000_000))

	want := fn.Now().Add(200 * time.Millisecond)
	if !presentAt.Equal(want) {
		t.Fatalf("expected first frame to present at %v, got %v", want, presentAt)
	}
	if c.Status() != StatusPlay {
		t.Fatalf("expected StatusPlay after first update, got %v", c.Status())
	}
}

func TestUpdateOnScheduleStaysAtNominalRate(t *testing.T) {
	t.Parallel()
	c, fn := newTestClock(200 * time.Millisecond)

	c.Update(media.ProducerMicro(0))
	fn.Advance(100 * time.Millisecond)
	c.Update(media.ProducerMicro(100_000)) // producer advanced exactly with wall clock

	if c.Status() != StatusPlay {
		t.Fatalf("expected StatusPlay while on schedule, got %v", c.Status())
	}
	if c.rate != 1.0 {
		t.Fatalf("expected nominal rate 1.0 while on schedule, got %v", c.rate)
	}
}

func TestUpdateBehindScheduleEntersWait(t *testing.T) {
	t.Parallel()
	c, fn := newTestClock(100 * time.Millisecond)

	c.Update(media.ProducerMicro(0))
	fn.Advance(200 * time.Millisecond)
	// producer has barely advanced relative to wall clock: it is now far
	// behind where it should present, beyond latency+hysteresis.
	c.Update(media.ProducerMicro(1_000))

	if c.Status() != StatusWait {
		t.Fatalf("expected StatusWait when producer falls far behind schedule, got %v", c.Status())
	}
}

func TestStallRecoveryReseedsWithoutCarryingLag(t *testing.T) {
	t.Parallel()
	c, fn := newTestClock(100 * time.Millisecond)

	c.Update(media.ProducerMicro(0))
	fn.Advance(200 * time.Millisecond)
	c.Update(media.ProducerMicro(1_000)) // triggers wait, per above

	fn.Advance(10 * time.Millisecond)
	c.Update(media.ProducerMicro(500_000)) // fresh update arrives

	if c.Status() != StatusPlay {
		t.Fatalf("expected StatusPlay after stall recovery, got %v", c.Status())
	}
	presentAt := c.Present(media.ProducerMicro(500_000))
	want := fn.Now().Add(100 * time.Millisecond)
	if !presentAt.Equal(want) {
		t.Fatalf("expected recovered frame to present in exactly latency, got %v want %v", presentAt, want)
	}
}

func TestSetLatencyReseedsOnNextUpdate(t *testing.T) {
	t.Parallel()
	c, fn := newTestClock(200 * time.Millisecond)

	c.Update(media.ProducerMicro(0))
	fn.Advance(50 * time.Millisecond)
	c.Update(media.ProducerMicro(50_000)) // on schedule, no reseed yet

	c.SetLatency(500 * time.Millisecond)
	fn.Advance(10 * time.Millisecond)
	c.Update(media.ProducerMicro(60_000)) // first update after the change

	presentAt := c.Present(media.ProducerMicro(60_000))
	want := fn.Now().Add(500 * time.Millisecond)
	if !presentAt.Equal(want) {
		t.Fatalf("expected latency change to re-seed the reference immediately, got %v want %v", presentAt, want)
	}
	if c.Status() != StatusPlay {
		t.Fatalf("expected StatusPlay after a latency change, got %v", c.Status())
	}
}

func TestStalenessWithoutFreshUpdate(t *testing.T) {
	t.Parallel()
	c, fn := newTestClock(50 * time.Millisecond)

	c.Update(media.ProducerMicro(0))
	fn.Advance(50*time.Millisecond + staleGrace + time.Millisecond)

	if c.Status() != StatusWait {
		t.Fatal("expected clock to detect stall purely from elapsed wall time")
	}
}

func TestWaitResolvesWhenReady(t *testing.T) {
	t.Parallel()
	c := New(10 * time.Millisecond)
	c.Update(media.ProducerMicro(0))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if !c.Wait(ctx, media.ProducerMicro(0)) {
		t.Fatal("expected wait to resolve as ready before the context deadline")
	}
}

func TestWaitCancels(t *testing.T) {
	t.Parallel()
	c, _ := newTestClock(time.Hour) // presentation always far in the future
	c.Update(media.ProducerMicro(0))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if c.Wait(ctx, media.ProducerMicro(0)) {
		t.Fatal("expected wait to report cancellation, not readiness")
	}
}

func TestSetPausedForcesWaitWithoutLosingReference(t *testing.T) {
	t.Parallel()
	c, fn := newTestClock(50 * time.Millisecond)
	c.Update(media.ProducerMicro(0))

	c.SetPaused(true)
	if c.Status() != StatusWait {
		t.Fatal("expected StatusWait while paused")
	}

	c.SetPaused(false)
	fn.Advance(10 * time.Millisecond)
	c.Update(media.ProducerMicro(10_000))
	if c.Status() != StatusPlay {
		t.Fatal("expected StatusPlay after unpausing with a fresh update")
	}
}

func TestLastUpdateTracksMaxSeen(t *testing.T) {
	t.Parallel()
	c, _ := newTestClock(100 * time.Millisecond)

	c.Update(media.ProducerMicro(1000))
	c.Update(media.ProducerMicro(500)) // out of order, should not regress

	last, ok := c.LastUpdate()
	if !ok || last != 1000 {
		t.Fatalf("expected LastUpdate to stay at max seen (1000), got %d", last)
	}
}
