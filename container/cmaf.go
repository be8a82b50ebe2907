package container

import (
	"fmt"

	"github.com/zsiec/moqview/media"
	"github.com/zsiec/moqview/moqerr"
)

// tfhd flag bits (ISO/IEC 14496-12 §8.8.7).
const (
	tfhdBaseDataOffsetPresent    = 0x000001
	tfhdSampleDescIndexPresent   = 0x000002
	tfhdDefaultDurationPresent   = 0x000008
	tfhdDefaultSizePresent       = 0x000010
	tfhdDefaultFlagsPresent      = 0x000020
	tfhdDurationIsEmpty          = 0x010000
	tfhdDefaultBaseIsMoof        = 0x020000
)

// trun flag bits (ISO/IEC 14496-12 §8.8.8).
const (
	trunDataOffsetPresent       = 0x000001
	trunFirstSampleFlagsPresent = 0x000004
	trunSampleDurationPresent   = 0x000100
	trunSampleSizePresent       = 0x000200
	trunSampleFlagsPresent      = 0x000400
	trunSampleCTOPresent        = 0x000800
)

// sampleIsNonSyncSample is bit 16 of a sample_flags word; when clear the
// sample is a sync sample (keyframe).
const sampleIsNonSyncSample = 0x00010000

type trunSample struct {
	duration uint32
	size     uint32
	flags    uint32
}

type trackFragment struct {
	baseDataOffset      uint64
	haveBaseDataOffset  bool
	defaultSampleDur    uint32
	defaultSampleSize   uint32
	defaultSampleFlags  uint32
	baseMediaDecodeTime uint64
	samples             []trunSample
	trunDataOffset      int64
	haveTrunDataOffset  bool
}

// CMAFDecoder extracts (timestamp, keyframe, data) samples from a group's
// concatenated moof/mdat fragments. Frames arrive one MoQ
// object at a time and are appended to an internal buffer; complete
// fragments are parsed out as soon as both their moof and mdat boxes have
// arrived, and any trailing partial box is kept for the next Feed call.
type CMAFDecoder struct {
	timescale uint32
	buf       []byte
}

// NewCMAFDecoder constructs a decoder for a track whose catalog entry
// declares the given timescale (ticks per second used by tfdt/trun).
func NewCMAFDecoder(timescale uint32) *CMAFDecoder {
	if timescale == 0 {
		timescale = 90000
	}
	return &CMAFDecoder{timescale: timescale}
}

// Feed appends one object's payload to the decoder's buffer and returns
// every sample extracted from complete moof/mdat pairs now available.
func (d *CMAFDecoder) Feed(payload []byte) ([]media.Sample, error) {
	d.buf = append(d.buf, payload...)

	var samples []media.Sample
	r := newMP4Reader(d.buf)
	consumed := 0

	for {
		startPos := r.pos
		box, ok, err := r.nextBox()
		if err != nil {
			return samples, moqerr.Wrap(moqerr.MalformedContainer, "reading top-level box", err)
		}
		if !ok {
			r.pos = startPos
			break
		}

		switch box.Type {
		case "moof":
			frag, err := parseMoof(d.buf[box.BodyStart:box.BodyEnd])
			if err != nil {
				return samples, moqerr.Wrap(moqerr.MalformedContainer, "parsing moof", err)
			}
			mdatBox, ok, err := r.nextBox()
			if err != nil {
				return samples, moqerr.Wrap(moqerr.MalformedContainer, "reading mdat after moof", err)
			}
			if !ok {
				// mdat hasn't fully arrived yet; rewind to the moof start
				// and wait for the next Feed call.
				r.pos = startPos
				goto flush
			}
			if mdatBox.Type != "mdat" {
				return samples, moqerr.New(moqerr.MalformedContainer, fmt.Sprintf("expected mdat after moof, got %q", mdatBox.Type))
			}
			extracted, err := extractSamples(d.buf, box.BodyStart-box.HeaderSize, mdatBox, frag, d.timescale)
			if err != nil {
				return samples, moqerr.Wrap(moqerr.MalformedContainer, "extracting samples", err)
			}
			samples = append(samples, extracted...)
			consumed = r.pos
		default:
			// skip boxes we don't care about (ftyp, styp, sidx, free...)
			consumed = r.pos
		}
	}

flush:
	if consumed > 0 {
		d.buf = append([]byte(nil), d.buf[consumed:]...)
	}
	return samples, nil
}

func parseMoof(body []byte) (*trackFragment, error) {
	r := newMP4Reader(body)
	frag := &trackFragment{}
	found := false
	for {
		box, ok, err := r.nextBox()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if box.Type != "traf" {
			continue
		}
		if err := parseTraf(body[box.BodyStart:box.BodyEnd], frag); err != nil {
			return nil, err
		}
		found = true
		break // single-track-fragment-per-moof is the common CMAF case
	}
	if !found {
		return nil, fmt.Errorf("moof has no traf box")
	}
	return frag, nil
}

func parseTraf(body []byte, frag *trackFragment) error {
	r := newMP4Reader(body)
	for {
		box, ok, err := r.nextBox()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		boxBody := body[box.BodyStart:box.BodyEnd]
		switch box.Type {
		case "tfhd":
			if err := parseTfhd(boxBody, frag); err != nil {
				return err
			}
		case "tfdt":
			if err := parseTfdt(boxBody, frag); err != nil {
				return err
			}
		case "trun":
			if err := parseTrun(boxBody, frag); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseTfhd(body []byte, frag *trackFragment) error {
	r := newMP4Reader(body)
	versionFlags, err := r.u32()
	if err != nil {
		return err
	}
	flags := versionFlags & 0x00ffffff
	if _, err := r.u32(); err != nil { // track_ID
		return err
	}
	if flags&tfhdBaseDataOffsetPresent != 0 {
		v, err := r.u64()
		if err != nil {
			return err
		}
		frag.baseDataOffset = v
		frag.haveBaseDataOffset = true
	}
	if flags&tfhdSampleDescIndexPresent != 0 {
		if _, err := r.u32(); err != nil {
			return err
		}
	}
	if flags&tfhdDefaultDurationPresent != 0 {
		v, err := r.u32()
		if err != nil {
			return err
		}
		frag.defaultSampleDur = v
	}
	if flags&tfhdDefaultSizePresent != 0 {
		v, err := r.u32()
		if err != nil {
			return err
		}
		frag.defaultSampleSize = v
	}
	if flags&tfhdDefaultFlagsPresent != 0 {
		v, err := r.u32()
		if err != nil {
			return err
		}
		frag.defaultSampleFlags = v
	}
	return nil
}

func parseTfdt(body []byte, frag *trackFragment) error {
	r := newMP4Reader(body)
	versionFlags, err := r.u32()
	if err != nil {
		return err
	}
	version := versionFlags >> 24
	if version == 1 {
		v, err := r.u64()
		if err != nil {
			return err
		}
		frag.baseMediaDecodeTime = v
	} else {
		v, err := r.u32()
		if err != nil {
			return err
		}
		frag.baseMediaDecodeTime = uint64(v)
	}
	return nil
}

func parseTrun(body []byte, frag *trackFragment) error {
	r := newMP4Reader(body)
	versionFlags, err := r.u32()
	if err != nil {
		return err
	}
	flags := versionFlags & 0x00ffffff
	sampleCount, err := r.u32()
	if err != nil {
		return err
	}
	if flags&trunDataOffsetPresent != 0 {
		v, err := r.u32()
		if err != nil {
			return err
		}
		frag.trunDataOffset = int64(int32(v))
		frag.haveTrunDataOffset = true
	}
	var firstSampleFlags uint32
	haveFirstSampleFlags := false
	if flags&trunFirstSampleFlagsPresent != 0 {
		v, err := r.u32()
		if err != nil {
			return err
		}
		firstSampleFlags = v
		haveFirstSampleFlags = true
	}

	samples := make([]trunSample, 0, sampleCount)
	for i := uint32(0); i < sampleCount; i++ {
		s := trunSample{duration: frag.defaultSampleDur, size: frag.defaultSampleSize, flags: frag.defaultSampleFlags}
		if flags&trunSampleDurationPresent != 0 {
			v, err := r.u32()
			if err != nil {
				return err
			}
			s.duration = v
		}
		if flags&trunSampleSizePresent != 0 {
			v, err := r.u32()
			if err != nil {
				return err
			}
			s.size = v
		}
		if flags&trunSampleFlagsPresent != 0 {
			v, err := r.u32()
			if err != nil {
				return err
			}
			s.flags = v
		} else if i == 0 && haveFirstSampleFlags {
			s.flags = firstSampleFlags
		}
		if flags&trunSampleCTOPresent != 0 {
			if _, err := r.u32(); err != nil {
				return err
			}
		}
		samples = append(samples, s)
	}
	frag.samples = samples
	return nil
}

// extractSamples slices sample data out of the mdat box using the offsets
// computed from tfhd/trun, and computes each sample's decode timestamp by
// walking tfdt's base time forward by each preceding sample's duration.
func extractSamples(buf []byte, moofStart int, mdatBox mp4Box, frag *trackFragment, timescale uint32) ([]media.Sample, error) {
	base := int64(moofStart)
	if frag.haveBaseDataOffset {
		base = int64(frag.baseDataOffset)
	}
	if frag.haveTrunDataOffset {
		base += frag.trunDataOffset
	} else {
		base += 8 // default: right after the moof box header, matching common encoders
	}

	dts := frag.baseMediaDecodeTime
	samples := make([]media.Sample, 0, len(frag.samples))
	offset := base
	for _, s := range frag.samples {
		start := int(offset)
		end := start + int(s.size)
		if start < 0 || end > len(buf) || start > end {
			return nil, fmt.Errorf("sample data range [%d,%d) out of bounds (buf len %d)", start, end, len(buf))
		}
		data := make([]byte, s.size)
		copy(data, buf[start:end])
		samples = append(samples, media.Sample{
			Timestamp: media.ProducerMicro(int64(dts) * 1_000_000 / int64(timescale)),
			Keyframe:  s.flags&sampleIsNonSyncSample == 0,
			Data:      data,
		})
		dts += uint64(s.duration)
		offset += int64(s.size)
	}
	return samples, nil
}
