package media

import "time"

// ProducerMicro is a producer-clock timestamp in microseconds, as carried
// inside container payloads. It is never comparable to wall-clock time
// directly; only the clock package bridges the two domains.
type ProducerMicro int64

// Duration converts a microsecond count to a time.Duration for arithmetic
// against wall-clock values inside the clock package.
func (p ProducerMicro) Duration() time.Duration {
	return time.Duration(p) * time.Microsecond
}

// ProducerMilli is a producer-clock timestamp in milliseconds, used by
// legacy wire formats that carry millisecond precision.
type ProducerMilli int64

// Micro upconverts to microsecond precision.
func (p ProducerMilli) Micro() ProducerMicro {
	return ProducerMicro(p) * 1000
}

// WallMilli is a wall-clock instant expressed as milliseconds, distinct
// from ProducerMicro/ProducerMilli so the two domains cannot be added by
// accident without an explicit conversion through the clock package.
type WallMilli int64

// Sample is one decodable unit extracted from a group by a container
// decoder: a timestamp, a keyframe flag, and the raw payload bytes owned
// independently of the group buffer it came from.
type Sample struct {
	Timestamp ProducerMicro
	Keyframe  bool
	Data      []byte
}

// MediaKind distinguishes video from audio for logging, stats, and
// selection.
type MediaKind string

const (
	KindVideo MediaKind = "video"
	KindAudio MediaKind = "audio"
)

// ContainerKind identifies which container decoder a rendition uses.
type ContainerKind string

const (
	ContainerCMAF   ContainerKind = "cmaf"
	ContainerLegacy ContainerKind = "legacy"
)

// Container describes the wire container for a rendition.
type Container struct {
	Kind      ContainerKind `json:"kind"`
	Timescale uint32        `json:"timescale,omitempty"`
}

// Display describes on-screen geometry, independent from the coded
// dimensions of any one rendition.
type Display struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// VideoConfig is one entry of the catalog's video renditions map.
type VideoConfig struct {
	Codec              string    `json:"codec"`
	CodedWidth         int       `json:"codedWidth,omitempty"`
	CodedHeight        int       `json:"codedHeight,omitempty"`
	Description        string    `json:"description,omitempty"` // hex-encoded avcC/hvcC
	OptimizeForLatency *bool     `json:"optimizeForLatency,omitempty"`
	Container          Container `json:"container"`
	Flip               bool      `json:"flip,omitempty"`
	Display            *Display  `json:"display,omitempty"`
}

// Latency reports whether the rendition should be decoded in low-latency
// mode, defaulting to true when unset.
func (v VideoConfig) Latency() bool {
	if v.OptimizeForLatency == nil {
		return true
	}
	return *v.OptimizeForLatency
}

// Area returns codedWidth*codedHeight, used by rendition selection; zero
// when either dimension is unknown.
func (v VideoConfig) Area() int {
	return v.CodedWidth * v.CodedHeight
}

// AudioConfig is one entry of the catalog's audio renditions map.
type AudioConfig struct {
	Codec       string `json:"codec"`
	SampleRate  int    `json:"sampleRate,omitempty"`
	Channels    int    `json:"numberOfChannels,omitempty"`
	Description string `json:"description,omitempty"`
}
