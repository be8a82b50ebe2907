// Package moqerr defines the error kind taxonomy shared across the
// transport, catalog, container, and source layers: a Kind enum plus a
// typed *Error wrapper compatible with errors.Is/errors.As.
package moqerr

import "fmt"

// Kind classifies a failure so callers can branch with errors.Is without
// string-matching reasons.
type Kind string

const (
	TransportFailed      Kind = "transport_failed"
	BroadcastUnavailable Kind = "broadcast_unavailable"
	DecoderUnsupported   Kind = "decoder_unsupported"
	DecoderFatal         Kind = "decoder_fatal"
	GroupLost            Kind = "group_lost"
	MalformedCatalog     Kind = "malformed_catalog"
	MalformedContainer   Kind = "malformed_container"
)

// Error satisfies the error interface directly on Kind, so a bare Kind
// value (e.g. moqerr.GroupLost) can be passed to errors.Is as the target.
func (k Kind) Error() string {
	return string(k)
}

// Error carries a Kind, a human-readable reason, and the entity the failure
// applies to, if any.
type Error struct {
	Kind   Kind
	Reason string
	Track  string
	Group  uint64
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("moq: %s: %s", e.Kind, e.Reason)
	if e.Track != "" {
		msg += fmt.Sprintf(" (track=%s", e.Track)
		if e.Group != 0 {
			msg += fmt.Sprintf(" group=%d", e.Group)
		}
		msg += ")"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, moqerr.GroupLost)-style matching against a bare
// Kind value in addition to matching another *Error with the same Kind.
func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind
}

// New constructs an *Error for the given kind and reason.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap constructs an *Error that wraps an underlying cause.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// WithTrack returns a copy of e annotated with the failing track name.
func (e *Error) WithTrack(track string) *Error {
	c := *e
	c.Track = track
	return &c
}

// WithGroup returns a copy of e annotated with the failing group number.
func (e *Error) WithGroup(group uint64) *Error {
	c := *e
	c.Group = group
	return &c
}
