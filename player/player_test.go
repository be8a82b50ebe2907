package player

import (
	"testing"
	"time"

	"github.com/zsiec/moqview/catalog"
	"github.com/zsiec/moqview/clock"
	"github.com/zsiec/moqview/decoder"
	"github.com/zsiec/moqview/media"
	"github.com/zsiec/moqview/session"
)

func newTestPlayer() *Player {
	return New(decoder.PassthroughFactory{}, decoder.PassthroughFactory{})
}

func TestNewPlayerStartsAtNoURL(t *testing.T) {
	t.Parallel()
	p := newTestPlayer()
	if got := p.Status(); got != StatusNoURL {
		t.Fatalf("got %q, want %q", got, StatusNoURL)
	}
}

func TestRecomputeStatusPrecedence(t *testing.T) {
	t.Parallel()
	p := newTestPlayer()
	p.url = "moq://host/live/room"

	p.sessionStatus = session.StatusConnecting
	p.recomputeStatusLocked()
	if p.status != StatusConnecting {
		t.Fatalf("got %q, want connecting", p.status)
	}

	p.sessionStatus = session.StatusConnected
	p.broadcastStatus = session.BroadcastOffline
	p.recomputeStatusLocked()
	if p.status != StatusOffline {
		t.Fatalf("got %q, want offline", p.status)
	}

	p.broadcastStatus = session.BroadcastLive
	p.haveCatalog = false
	p.recomputeStatusLocked()
	if p.status != StatusConnected {
		t.Fatalf("got %q, want connected (announced, no catalog yet)", p.status)
	}

	p.haveCatalog = true
	p.recomputeStatusLocked()
	if p.status != StatusLoading {
		t.Fatalf("got %q, want loading (catalog seen, no video source yet)", p.status)
	}
}

func TestSetPausedPropagatesToSyncClockWhenOpen(t *testing.T) {
	t.Parallel()
	p := newTestPlayer()

	// With no session open, SetPaused must not panic even though it has
	// no clock to propagate to yet.
	p.SetPaused(true)
	if !p.Paused() {
		t.Fatal("expected Paused() to reflect the requested state")
	}

	// With a clock attached, as Open does, the pause reaches it.
	p.syncClock = clock.New(0)
	p.SetPaused(true)
	if got := p.syncClock.Status(); got != clock.StatusWait {
		t.Fatalf("got sync status %q, want wait while paused", got)
	}
}

func TestSetVolumeClampsToUnitRange(t *testing.T) {
	t.Parallel()
	p := newTestPlayer()

	p.SetVolume(-1)
	if got := p.Volume(); got != 0 {
		t.Fatalf("got %v, want 0", got)
	}
	p.SetVolume(5)
	if got := p.Volume(); got != 1 {
		t.Fatalf("got %v, want 1", got)
	}
	p.SetVolume(0.5)
	if got := p.Volume(); got != 0.5 {
		t.Fatalf("got %v, want 0.5", got)
	}
}

func TestSetMutedToggles(t *testing.T) {
	t.Parallel()
	p := newTestPlayer()
	if p.Muted() {
		t.Fatal("expected unmuted by default")
	}
	p.SetMuted(true)
	if !p.Muted() {
		t.Fatal("expected muted after SetMuted(true)")
	}
}

func TestSetInsecureTLSStoresFlagBeforeOpen(t *testing.T) {
	t.Parallel()
	p := newTestPlayer()
	p.SetInsecureTLS(true)
	if !p.insecureTLS {
		t.Fatal("expected insecureTLS to be recorded")
	}
}

func TestSetLatencyUpdatesFieldWithoutOpenSession(t *testing.T) {
	t.Parallel()
	p := newTestPlayer()
	p.SetLatency(500 * time.Millisecond)
	if got := p.Latency(); got != 500*time.Millisecond {
		t.Fatalf("got %v, want 500ms", got)
	}
}

func TestBufferStatusEmptyWithoutVideoSource(t *testing.T) {
	t.Parallel()
	p := newTestPlayer()
	if got := p.BufferStatus(); got != "empty" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestAvailableRenditionsNilWithoutCatalog(t *testing.T) {
	t.Parallel()
	p := newTestPlayer()
	if got := p.AvailableRenditions(); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}

func TestPathOfExtractsBroadcastPath(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"moq://relay.example.com/live/room1": "/live/room1",
		"moq://relay.example.com:4433/a/b/c": "/a/b/c",
		"moq://relay.example.com":            "",
	}
	for input, want := range cases {
		if got := pathOf(input); got != want {
			t.Fatalf("pathOf(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestAudioAsVideoConfigsCarriesCodecAndDescription(t *testing.T) {
	t.Parallel()
	audio := map[string]media.AudioConfig{
		"main": {Codec: "opus", Description: "abcd"},
	}
	out := audioAsVideoConfigs(audio)
	got, ok := out["main"]
	if !ok {
		t.Fatal("expected \"main\" entry to survive conversion")
	}
	if got.Codec != "opus" || got.Description != "abcd" {
		t.Fatalf("got %+v", got)
	}
}

func TestMinBufferOfDefaultsAndHonorsCatalogValue(t *testing.T) {
	t.Parallel()
	if got := minBufferOf(&catalog.Catalog{}); got != 100*time.Millisecond {
		t.Fatalf("got %v, want 100ms default", got)
	}
	if got := minBufferOf(&catalog.Catalog{MinBuffer: 250}); got != 250*time.Millisecond {
		t.Fatalf("got %v, want 250ms", got)
	}
}
