package catalog

import (
	"strings"
	"testing"

	"github.com/zsiec/moqview/moqerr"
)

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()
	src := []byte(`{
		"video": {
			"renditions": {
				"hd": {"codec": "avc1.640028", "codedWidth": 1920, "codedHeight": 1080, "container": {"kind": "cmaf", "timescale": 90000}},
				"sd": {"codec": "avc1.42E01E", "codedWidth": 640, "codedHeight": 360, "container": {"kind": "legacy"}}
			}
		},
		"audio": {
			"renditions": {
				"main": {"codec": "opus", "sampleRate": 48000, "numberOfChannels": 2, "container": {"kind": "cmaf"}}
			}
		},
		"minBuffer": 500
	}`)

	cat, err := Parse(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cat.Video) != 2 {
		t.Fatalf("expected 2 video renditions, got %d", len(cat.Video))
	}
	hd, ok := cat.Video["hd"]
	if !ok {
		t.Fatal("expected hd rendition")
	}
	if hd.Area() != 1920*1080 {
		t.Fatalf("unexpected area: %d", hd.Area())
	}
	if !hd.Latency() {
		t.Fatal("expected default optimizeForLatency to be true")
	}
	if len(cat.Audio) != 1 {
		t.Fatalf("expected 1 audio rendition, got %d", len(cat.Audio))
	}
	if cat.MinBuffer != 500 {
		t.Fatalf("expected minBuffer 500, got %d", cat.MinBuffer)
	}
}

func TestParseMissingSections(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte(`{"minBuffer": 200}`))
	if err == nil {
		t.Fatal("expected error for catalog with no video or audio")
	}
	assertMalformed(t, err)
}

func TestParseEmptyVideoRenditions(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte(`{"video": {"renditions": {}}}`))
	if err == nil {
		t.Fatal("expected error for empty video renditions")
	}
	assertMalformed(t, err)
}

func TestParseMissingCodec(t *testing.T) {
	t.Parallel()
	src := []byte(`{"video": {"renditions": {"hd": {"container": {"kind": "cmaf"}}}}}`)
	_, err := Parse(src)
	if err == nil {
		t.Fatal("expected error for rendition missing codec")
	}
	if !strings.Contains(err.Error(), "hd") {
		t.Fatalf("expected error to name the rendition, got %v", err)
	}
}

func TestParseUnknownContainerKind(t *testing.T) {
	t.Parallel()
	src := []byte(`{"video": {"renditions": {"hd": {"codec": "avc1.640028", "container": {"kind": "mpegts"}}}}}`)
	_, err := Parse(src)
	if err == nil {
		t.Fatal("expected error for unknown container kind")
	}
	assertMalformed(t, err)
}

func TestParseInvalidJSON(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte(`not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	assertMalformed(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()
	src := []byte(`{"video": {"renditions": {"hd": {"codec": "avc1.640028", "container": {"kind": "cmaf"}}}}}`)
	cat, err := Parse(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := Marshal(cat)
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}
	roundTripped, err := Parse(out)
	if err != nil {
		t.Fatalf("unexpected reparse error: %v", err)
	}
	if roundTripped.Video["hd"].Codec != "avc1.640028" {
		t.Fatalf("unexpected codec after round trip: %q", roundTripped.Video["hd"].Codec)
	}
}

func assertMalformed(t *testing.T, err error) {
	t.Helper()
	var me *moqerr.Error
	if !asMoqErr(err, &me) {
		t.Fatalf("expected *moqerr.Error, got %T: %v", err, err)
	}
	if me.Kind != moqerr.MalformedCatalog {
		t.Fatalf("expected MalformedCatalog, got %v", me.Kind)
	}
}

func asMoqErr(err error, target **moqerr.Error) bool {
	e, ok := err.(*moqerr.Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
