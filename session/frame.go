package session

import "github.com/zsiec/moqview/moq"

// Frame is one object read from a group's data stream, with its LOC-style
// header extensions kept alongside the raw payload so callers that care
// about capture timestamps or video config extensions don't have to
// re-parse the wire object.
type Frame struct {
	ObjectID   uint64
	Extensions []moq.Extension
	Payload    []byte
}
