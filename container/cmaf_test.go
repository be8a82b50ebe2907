package container

import (
	"encoding/binary"
	"testing"
)

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func be64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func buildBox(boxType string, body []byte) []byte {
	buf := be32(uint32(8 + len(body)))
	buf = append(buf, []byte(boxType)...)
	buf = append(buf, body...)
	return buf
}

// buildFragment assembles a single moof/mdat pair with one traf containing
// the given samples, each sized by its own length and all sharing
// sampleDuration.
func buildFragment(t *testing.T, baseMediaDecodeTime uint64, sampleDuration uint32, samples [][]byte) []byte {
	t.Helper()

	tfhdFlags := uint32(tfhdDefaultDurationPresent | tfhdDefaultSizePresent | tfhdDefaultFlagsPresent)
	tfhdBody := be32(tfhdFlags)
	tfhdBody = append(tfhdBody, be32(1)...) // track_ID
	tfhdBody = append(tfhdBody, be32(sampleDuration)...)
	tfhdBody = append(tfhdBody, be32(uint32(len(samples[0])))...)
	tfhdBody = append(tfhdBody, be32(0)...) // default sample flags: sync sample
	tfhd := buildBox("tfhd", tfhdBody)

	tfdtBody := append(be32(1<<24), be64(baseMediaDecodeTime)...) // version 1
	tfdt := buildBox("tfdt", tfdtBody)

	trunFlags := uint32(trunDataOffsetPresent | trunSampleSizePresent)
	trunBody := be32(trunFlags)
	trunBody = append(trunBody, be32(uint32(len(samples)))...)
	trunBody = append(trunBody, be32(0)...) // data_offset placeholder, patched below
	for _, s := range samples {
		trunBody = append(trunBody, be32(uint32(len(s)))...)
	}
	trun := buildBox("trun", trunBody)

	traf := buildBox("traf", append(append(append([]byte{}, tfhd...), tfdt...), trun...))
	moof := buildBox("moof", traf)

	var mdatData []byte
	for _, s := range samples {
		mdatData = append(mdatData, s...)
	}
	mdat := buildBox("mdat", mdatData)

	dataOffset := uint32(len(moof) + 8) // mdat payload starts right after moof + mdat's own 8-byte header
	patchTrunDataOffset(moof, dataOffset)

	return append(moof, mdat...)
}

// patchTrunDataOffset finds the trun box inside a moof buffer and
// overwrites its data_offset field. Assumes the layout produced by
// buildFragment: moof > traf > {tfhd, tfdt, trun}.
func patchTrunDataOffset(moof []byte, dataOffset uint32) {
	idx := indexOf(moof, []byte("trun"))
	if idx < 0 {
		panic("trun box not found")
	}
	// trun body starts right after the 4-byte type; version/flags(4) +
	// sample_count(4) precede data_offset.
	off := idx + 4 + 4 + 4
	binary.BigEndian.PutUint32(moof[off:off+4], dataOffset)
}

func indexOf(haystack, needle []byte) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func TestCMAFDecoderSingleFragment(t *testing.T) {
	t.Parallel()
	frag := buildFragment(t, 9000, 3000, [][]byte{
		[]byte("AAAAAAAA"),
		[]byte("BBBBBBBB"),
	})

	d := NewCMAFDecoder(90000)
	samples, err := d.Feed(frag)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0].Timestamp != 100_000 { // 9000 * 1e6 / 90000
		t.Fatalf("unexpected first timestamp: %d", samples[0].Timestamp)
	}
	if samples[1].Timestamp != 133_333 { // (9000+3000) * 1e6 / 90000
		t.Fatalf("unexpected second timestamp: %d", samples[1].Timestamp)
	}
	if !samples[0].Keyframe || !samples[1].Keyframe {
		t.Fatal("expected both samples to be sync samples with all-zero default flags")
	}
	if string(samples[0].Data) != "AAAAAAAA" || string(samples[1].Data) != "BBBBBBBB" {
		t.Fatalf("unexpected sample payloads: %q %q", samples[0].Data, samples[1].Data)
	}
}

func TestCMAFDecoderSplitAcrossFeeds(t *testing.T) {
	t.Parallel()
	frag := buildFragment(t, 0, 1000, [][]byte{[]byte("onlyone!")})

	d := NewCMAFDecoder(1000)
	split := len(frag) / 2

	samples, err := d.Feed(frag[:split])
	if err != nil {
		t.Fatalf("unexpected error on first partial feed: %v", err)
	}
	if len(samples) != 0 {
		t.Fatalf("expected no samples from a partial fragment, got %d", len(samples))
	}

	samples, err = d.Feed(frag[split:])
	if err != nil {
		t.Fatalf("unexpected error on completing feed: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("expected 1 sample once fragment completes, got %d", len(samples))
	}
	if string(samples[0].Data) != "onlyone!" {
		t.Fatalf("unexpected payload: %q", samples[0].Data)
	}
}

func TestCMAFDecoderMultipleFragmentsInOneFeed(t *testing.T) {
	t.Parallel()
	frag1 := buildFragment(t, 0, 500, [][]byte{[]byte("first!!!")})
	frag2 := buildFragment(t, 500, 500, [][]byte{[]byte("second!!")})

	d := NewCMAFDecoder(500)
	samples, err := d.Feed(append(append([]byte{}, frag1...), frag2...))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0].Timestamp != 0 || samples[1].Timestamp != 1_000_000 {
		t.Fatalf("unexpected timestamps: %d %d", samples[0].Timestamp, samples[1].Timestamp)
	}
}
