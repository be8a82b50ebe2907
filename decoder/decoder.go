// Package decoder defines the platform decoder boundary: the interface a
// host environment implements to expose its actual video/audio decoding
// capability (a browser's WebCodecs VideoDecoder/AudioDecoder, or a native
// hardware decoder) to the media pipeline in package source. This package
// never decodes anything itself; it defines the contract, plus a
// passthrough stand-in and a probe cache, so a Source can be built against
// "whatever decoder the host provides" without depending on any concrete
// implementation.
package decoder

import (
	"context"

	"github.com/zsiec/moqview/media"
)

// DecodedFrame is one decoded picture or audio buffer handed back by a
// platform decoder, with the producer timestamp it was decoded from so the
// caller can present it via the sync clock.
type DecodedFrame struct {
	Timestamp media.ProducerMicro
	Keyframe  bool
	// Handle is the platform-specific decoded output (e.g. a VideoFrame
	// handle, a texture reference). Left as an opaque value since this
	// package has no business interpreting it — only the renderer does.
	Handle any
}

// Prober answers whether a platform decoder can decode a given rendition's
// config, before any track subscription happens. For a CMAF rendition it
// is asked with only {codec, optimizeForLatency}; the description (init
// segment) is not yet known at that point.
type Prober interface {
	// CanDecode reports whether the platform can decode config. It must be
	// safe to call for many renditions in a probing sweep without side
	// effects on any actual decoder instance.
	CanDecode(ctx context.Context, config media.VideoConfig) (bool, error)
}

// AudioProber is the audio-track analog of Prober.
type AudioProber interface {
	CanDecodeAudio(ctx context.Context, config media.AudioConfig) (bool, error)
}

// Decoder is a live, stateful platform decoder instance bound to one
// track's config. It is single-owner: exactly one pipeline holds a given
// Decoder at a time, and it transfers to a new instance rather than being
// shared when a rendition switch happens.
type Decoder interface {
	// Decode submits one sample for decoding. Decoding is logically
	// asynchronous; the result (or a fatal error) arrives on Output/Errors.
	Decode(sample media.Sample) error

	// Reconfigure applies a config change that does not require tearing
	// down the decoder (e.g. a codedWidth/codedHeight change without a
	// codec or container change).
	Reconfigure(config media.VideoConfig) error

	// Output delivers decoded frames in decode order.
	Output() <-chan DecodedFrame

	// Errors delivers fatal decoder errors (*moqerr.Error{Kind: DecoderFatal}).
	// The decoder is unusable once anything arrives here; the caller closes it.
	Errors() <-chan error

	// Close releases the decoder's resources. Idempotent.
	Close() error
}

// Factory constructs a live Decoder for a video rendition already
// confirmed supported by a Prober.
type Factory interface {
	NewDecoder(ctx context.Context, config media.VideoConfig) (Decoder, error)
}
