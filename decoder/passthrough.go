package decoder

import (
	"context"
	"sync"

	"github.com/zsiec/moqview/media"
)

// PassthroughFactory builds decoders that accept every rendition and
// "decode" a sample by handing its raw bytes straight through as the
// frame handle. It stands in for a platform decoder in environments with
// no real one available, such as the CLI demo binary and this package's
// own tests; a browser build supplies a WebCodecs-backed Factory instead.
type PassthroughFactory struct{}

func (PassthroughFactory) CanDecode(ctx context.Context, config media.VideoConfig) (bool, error) {
	return true, nil
}

func (PassthroughFactory) CanDecodeAudio(ctx context.Context, config media.AudioConfig) (bool, error) {
	return true, nil
}

func (PassthroughFactory) NewDecoder(ctx context.Context, config media.VideoConfig) (Decoder, error) {
	return &passthroughDecoder{
		output: make(chan DecodedFrame, 16),
		errs:   make(chan error, 1),
	}, nil
}

type passthroughDecoder struct {
	mu     sync.Mutex
	closed bool
	output chan DecodedFrame
	errs   chan error
}

func (d *passthroughDecoder) Decode(sample media.Sample) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	frame := DecodedFrame{Timestamp: sample.Timestamp, Keyframe: sample.Keyframe, Handle: sample.Data}
	select {
	case d.output <- frame:
	default:
		// Slow consumer: drop rather than block the decode call, matching
		// a platform decoder's own internal output queue depth limit.
	}
	return nil
}

func (d *passthroughDecoder) Reconfigure(media.VideoConfig) error { return nil }

func (d *passthroughDecoder) Output() <-chan DecodedFrame { return d.output }

func (d *passthroughDecoder) Errors() <-chan error { return d.errs }

func (d *passthroughDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.output)
	return nil
}

var (
	_ Prober      = PassthroughFactory{}
	_ AudioProber = PassthroughFactory{}
	_ Factory     = PassthroughFactory{}
)
