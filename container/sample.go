// Package container turns group payloads into ordered (timestamp,
// keyframe, bytes) samples for the two container families a catalog
// rendition can declare: fragmented MP4 ("cmaf") and a small varint-framed
// legacy container.
package container

import (
	"fmt"

	"github.com/zsiec/moqview/media"
)

// Decoder incrementally consumes one group's object payloads, in arrival
// order, and returns any samples that became decodable as a result. A new
// Decoder is created per group: a group boundary is always a decoder
// resynchronisation point.
type Decoder interface {
	Feed(payload []byte) ([]media.Sample, error)
}

// New constructs the appropriate Decoder for a rendition's declared
// container kind.
func New(kind media.ContainerKind, timescale uint32) (Decoder, error) {
	switch kind {
	case media.ContainerCMAF:
		return NewCMAFDecoder(timescale), nil
	case media.ContainerLegacy:
		return NewLegacyDecoder(), nil
	default:
		return nil, fmt.Errorf("container: unknown kind %q", kind)
	}
}
