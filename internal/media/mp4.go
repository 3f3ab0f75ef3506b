package media

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/abema/go-mp4"
)

var (
	// ErrNoFragments is returned when a buffer holds no moof box.
	ErrNoFragments = errors.New("no movie fragments")

	// ErrNoTracks is returned when a decoded buffer has no playable track.
	ErrNoTracks = errors.New("no tracks")
)

// SplitInit splits a fragmented MP4 buffer into its initialization section
// (every top-level box before the first moof) and the fragments that follow.
func SplitInit(buf []byte) (init, fragments []byte, err error) {
	boxes, err := mp4.ExtractBox(bytes.NewReader(buf), nil, mp4.BoxPath{mp4.BoxTypeMoof()})
	if err != nil {
		return nil, nil, fmt.Errorf("read boxes: %w", err)
	}
	if len(boxes) == 0 {
		return nil, nil, ErrNoFragments
	}
	off := boxes[0].Offset
	if off > uint64(len(buf)) {
		return nil, nil, fmt.Errorf("moof offset %d beyond buffer of %d bytes", off, len(buf))
	}
	return buf[:off], buf[off:], nil
}

// ProbeDuration validates buf as MP4 and returns its duration as far as the
// container reports it. Zero means the container did not say.
func ProbeDuration(buf []byte) (time.Duration, error) {
	info, err := mp4.Probe(bytes.NewReader(buf))
	if err != nil {
		return 0, fmt.Errorf("probe: %w", err)
	}
	if len(info.Tracks) == 0 {
		return 0, ErrNoTracks
	}

	if info.Timescale > 0 && info.Duration > 0 {
		return ticks(info.Duration, info.Timescale), nil
	}

	// Fragmented output carries per-fragment durations only.
	track := info.Tracks[0]
	if track.Timescale == 0 {
		return 0, nil
	}
	var total uint64
	for _, seg := range info.Segments {
		if seg.TrackID == track.TrackID {
			total += uint64(seg.Duration)
		}
	}
	return ticks(total, track.Timescale), nil
}

func ticks(n uint64, timescale uint32) time.Duration {
	return time.Duration(float64(n) / float64(timescale) * float64(time.Second))
}
