// Package catalog parses the MoQ catalog track's JSON document into typed
// renditions, and tracks the "latest group wins" replacement policy for a
// live catalog track.
package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/zsiec/moqview/media"
	"github.com/zsiec/moqview/moqerr"
)

// Catalog is the parsed form of one catalog document. A catalog track's
// latest group entirely replaces the previous Catalog value; there is no
// field-level diffing.
type Catalog struct {
	Video     map[string]media.VideoConfig `json:"-"`
	Audio     map[string]media.AudioConfig `json:"-"`
	Display   *media.Display               `json:"-"`
	MinBuffer int                          `json:"-"` // milliseconds
	Flip      bool                         `json:"-"`
}

// wireCatalog mirrors the catalog JSON: its "video"/"audio" top-level
// sections each nest a renditions map.
type wireCatalog struct {
	Video *struct {
		Renditions map[string]media.VideoConfig `json:"renditions"`
	} `json:"video,omitempty"`
	Audio *struct {
		Renditions map[string]media.AudioConfig `json:"renditions"`
	} `json:"audio,omitempty"`
	Display   *media.Display `json:"display,omitempty"`
	MinBuffer int            `json:"minBuffer,omitempty"`
	Flip      bool           `json:"flip,omitempty"`
}

// Parse decodes a catalog JSON document. Required: at least one of "video"
// or "audio" must be present, and a present "video" section must have a
// non-empty renditions map (an "audio" section's renditions may be empty).
// A parse failure returns a *moqerr.Error with Kind MalformedCatalog; the
// caller is responsible for retaining the previous catalog on error
// (the previous catalog should be retained on error).
func Parse(data []byte) (*Catalog, error) {
	var wire wireCatalog
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, moqerr.Wrap(moqerr.MalformedCatalog, "invalid JSON", err)
	}

	if wire.Video == nil && wire.Audio == nil {
		return nil, moqerr.New(moqerr.MalformedCatalog, "missing both video and audio sections")
	}

	cat := &Catalog{
		Display:   wire.Display,
		MinBuffer: wire.MinBuffer,
		Flip:      wire.Flip,
	}
	if wire.Video != nil {
		if len(wire.Video.Renditions) == 0 {
			return nil, moqerr.New(moqerr.MalformedCatalog, "video section has no renditions")
		}
		cat.Video = wire.Video.Renditions
	}
	if wire.Audio != nil {
		cat.Audio = wire.Audio.Renditions
	}

	for name, vc := range cat.Video {
		if vc.Codec == "" {
			return nil, moqerr.New(moqerr.MalformedCatalog, fmt.Sprintf("rendition %q missing codec", name))
		}
		if vc.Container.Kind != media.ContainerCMAF && vc.Container.Kind != media.ContainerLegacy {
			return nil, moqerr.New(moqerr.MalformedCatalog, fmt.Sprintf("rendition %q has unknown container kind %q", name, vc.Container.Kind))
		}
	}

	return cat, nil
}

// Marshal serializes a Catalog back to the wire JSON shape. Used by test
// harnesses that need to feed synthetic catalog groups.
func Marshal(cat *Catalog) ([]byte, error) {
	wire := wireCatalog{
		Display:   cat.Display,
		MinBuffer: cat.MinBuffer,
		Flip:      cat.Flip,
	}
	if cat.Video != nil {
		wire.Video = &struct {
			Renditions map[string]media.VideoConfig `json:"renditions"`
		}{Renditions: cat.Video}
	}
	if cat.Audio != nil {
		wire.Audio = &struct {
			Renditions map[string]media.AudioConfig `json:"renditions"`
		}{Renditions: cat.Audio}
	}
	return json.Marshal(wire)
}
