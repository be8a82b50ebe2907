package decoder

import (
	"context"
	"testing"
	"time"

	"github.com/zsiec/moqview/media"
)

type countingProber struct {
	calls int
	ok    bool
	err   error
}

func (c *countingProber) CanDecode(ctx context.Context, config media.VideoConfig) (bool, error) {
	c.calls++
	return c.ok, c.err
}

func TestCachingProberAnswersRepeatQueriesFromCache(t *testing.T) {
	t.Parallel()
	inner := &countingProber{ok: true}
	c := NewCachingProber(inner, time.Minute)
	cfg := media.VideoConfig{Codec: "avc1.640028"}

	for i := 0; i < 3; i++ {
		ok, err := c.CanDecode(context.Background(), cfg)
		if err != nil || !ok {
			t.Fatalf("CanDecode() = %v, %v", ok, err)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected exactly one underlying probe, got %d", inner.calls)
	}
}

func TestCachingProberDistinguishesConfigsByKey(t *testing.T) {
	t.Parallel()
	inner := &countingProber{ok: true}
	c := NewCachingProber(inner, time.Minute)

	_, _ = c.CanDecode(context.Background(), media.VideoConfig{Codec: "avc1.640028"})
	_, _ = c.CanDecode(context.Background(), media.VideoConfig{Codec: "hev1.1.6.L93.B0"})
	if inner.calls != 2 {
		t.Fatalf("expected two distinct probes for two codecs, got %d", inner.calls)
	}
}

func TestCachingProberDoesNotCacheErrors(t *testing.T) {
	t.Parallel()
	inner := &countingProber{err: context.DeadlineExceeded}
	c := NewCachingProber(inner, time.Minute)
	cfg := media.VideoConfig{Codec: "avc1.640028"}

	if _, err := c.CanDecode(context.Background(), cfg); err == nil {
		t.Fatal("expected error to propagate")
	}
	if _, err := c.CanDecode(context.Background(), cfg); err == nil {
		t.Fatal("expected error to propagate again rather than a cached false")
	}
	if inner.calls != 2 {
		t.Fatalf("expected both calls to hit the underlying prober, got %d", inner.calls)
	}
}
