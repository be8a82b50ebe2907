// Package source hosts the rendition selector and the decode pipeline: it
// turns a catalog plus a user's target rendition into a running
// subscription, a live platform decoder, and a stream of published frames
// gated by the presentation clock.
package source

import (
	"context"
	"sort"

	"github.com/zsiec/moqview/decoder"
	"github.com/zsiec/moqview/media"
)

// Target expresses what a viewer wants from rendition selection: either a
// specific rendition by name, or a desired pixel count (0 means "as large
// as possible").
type Target struct {
	Rendition string
	Pixels    int
}

// FilterSupported keeps only the renditions the platform decoder reports
// it can decode, probing with {codec, optimizeForLatency} for CMAF
// renditions (the description isn't known until the init segment arrives)
// and the full config, including description, for legacy renditions.
func FilterSupported(ctx context.Context, prober decoder.Prober, renditions map[string]media.VideoConfig) (map[string]media.VideoConfig, error) {
	supported := make(map[string]media.VideoConfig)
	for name, cfg := range renditions {
		probeCfg := cfg
		if cfg.Container.Kind == media.ContainerCMAF {
			probeCfg = media.VideoConfig{Codec: cfg.Codec, OptimizeForLatency: cfg.OptimizeForLatency, Container: cfg.Container}
		}
		ok, err := prober.CanDecode(ctx, probeCfg)
		if err != nil {
			return nil, err
		}
		if ok {
			supported[name] = cfg
		}
	}
	return supported, nil
}

// SelectRendition implements the selection algorithm: an explicit target
// rendition wins if supported; an unset pixel target (Pixels <= 0) means
// "as large as possible" and picks the largest-area rendition; otherwise
// pick the smallest rendition whose area is at least the desired pixel
// count, falling back to the largest rendition smaller than that,
// tie-broken by name for determinism. With no area information anywhere,
// fall back to the first entry in name order.
func SelectRendition(supported map[string]media.VideoConfig, target Target) (string, error) {
	if len(supported) == 0 {
		return "", errNoSupportedRendition
	}

	if target.Rendition != "" {
		if _, ok := supported[target.Rendition]; ok {
			return target.Rendition, nil
		}
	}

	names := make([]string, 0, len(supported))
	for name := range supported {
		names = append(names, name)
	}
	sort.Strings(names)

	haveArea := false
	for _, name := range names {
		if supported[name].Area() > 0 {
			haveArea = true
			break
		}
	}
	if !haveArea {
		return names[0], nil
	}

	if target.Pixels <= 0 {
		largest := names[0]
		largestArea := supported[largest].Area()
		for _, name := range names[1:] {
			if area := supported[name].Area(); area > largestArea {
				largest, largestArea = name, area
			}
		}
		return largest, nil
	}

	desired := target.Pixels

	bestAbove := ""
	bestAboveArea := 0
	bestBelow := ""
	bestBelowArea := -1

	for _, name := range names {
		area := supported[name].Area()
		switch {
		case area >= desired:
			if bestAbove == "" || area < bestAboveArea {
				bestAbove, bestAboveArea = name, area
			}
		default:
			if area > bestBelowArea {
				bestBelow, bestBelowArea = name, area
			}
		}
	}

	if bestAbove != "" {
		return bestAbove, nil
	}
	return bestBelow, nil
}

type selectionError string

func (e selectionError) Error() string { return string(e) }

const errNoSupportedRendition = selectionError("source: no rendition supported by the platform decoder")
