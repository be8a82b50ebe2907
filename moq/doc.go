// Package moq implements the wire-protocol codec for MoQ Transport
// (draft-ietf-moq-transport-15) from the consumer's point of view:
// control message parsing and serialization, and data-stream object/subgroup
// framing for reading group payloads off unidirectional QUIC streams.
//
// This package contains no session or subscription logic; those higher-level
// concerns live in [github.com/zsiec/moqview/session].
package moq
