package decoder

import (
	"context"
	"testing"
	"time"

	"github.com/zsiec/moqview/media"
)

func TestPassthroughDecoderEchoesSample(t *testing.T) {
	t.Parallel()
	f := PassthroughFactory{}

	ok, err := f.CanDecode(context.Background(), media.VideoConfig{Codec: "avc1.42001e"})
	if err != nil || !ok {
		t.Fatalf("CanDecode() = %v, %v", ok, err)
	}

	dec, err := f.NewDecoder(context.Background(), media.VideoConfig{Codec: "avc1.42001e"})
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	defer dec.Close()

	sample := media.Sample{Timestamp: 100_000, Keyframe: true, Data: []byte("nalu")}
	if err := dec.Decode(sample); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	select {
	case got := <-dec.Output():
		if got.Timestamp != sample.Timestamp || !got.Keyframe {
			t.Fatalf("unexpected frame: %+v", got)
		}
		if string(got.Handle.([]byte)) != "nalu" {
			t.Fatalf("unexpected handle: %v", got.Handle)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decoded frame")
	}
}

func TestPassthroughDecoderCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	dec, _ := PassthroughFactory{}.NewDecoder(context.Background(), media.VideoConfig{})
	if err := dec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := dec.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
