package container

import (
	"bytes"

	"github.com/quic-go/quic-go/quicvarint"
	"github.com/zsiec/moqview/media"
	"github.com/zsiec/moqview/moqerr"
)

// LegacyDecoder extracts samples from the legacy framed container: each
// group starts with a keyframe, and each frame's payload is
// {varint timestamp_us, bytes codec_data}. Unlike CMAF, each
// MoQ object already is exactly one frame, so there is no cross-object
// buffering to do.
type LegacyDecoder struct {
	frameIndex int
}

// NewLegacyDecoder constructs a decoder for one group. A fresh decoder
// must be used per group, since the keyframe flag depends on frame index
// within the group.
func NewLegacyDecoder() *LegacyDecoder {
	return &LegacyDecoder{}
}

// Feed decodes one object payload into exactly one sample.
func (d *LegacyDecoder) Feed(payload []byte) ([]media.Sample, error) {
	r := bytes.NewReader(payload)
	ts, err := quicvarint.Read(r)
	if err != nil {
		return nil, moqerr.Wrap(moqerr.MalformedContainer, "reading legacy frame timestamp", err)
	}
	data := make([]byte, r.Len())
	if _, err := r.Read(data); err != nil {
		return nil, moqerr.Wrap(moqerr.MalformedContainer, "reading legacy frame payload", err)
	}

	sample := media.Sample{
		Timestamp: media.ProducerMicro(ts),
		Keyframe:  d.frameIndex == 0,
		Data:      data,
	}
	d.frameIndex++
	return []media.Sample{sample}, nil
}
