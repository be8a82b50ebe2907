// Package media defines the core frame and configuration types that flow
// through the moqview subscription pipeline, from container decoding
// through Sync-gated emission.
package media
