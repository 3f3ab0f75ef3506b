package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync/atomic"
	"time"

	"live-relay/internal/relay"
)

// ErrDecodeFailed wraps every failure to turn a raw segment into a clip.
var ErrDecodeFailed = errors.New("decode failed")

// Clip is a decoded, self-contained MP4 segment.
type Clip struct {
	timestampMs int64
	data        []byte
	duration    time.Duration
	released    atomic.Bool
	onRelease   func()
}

// NewClip wraps data as a playable. onRelease may be nil.
func NewClip(timestampMs int64, data []byte, duration time.Duration, onRelease func()) *Clip {
	return &Clip{timestampMs: timestampMs, data: data, duration: duration, onRelease: onRelease}
}

// TimestampMs implements relay.Playable.
func (c *Clip) TimestampMs() int64 { return c.timestampMs }

// Duration implements relay.Playable.
func (c *Clip) Duration() time.Duration { return c.duration }

// Bytes returns the clip data, or nil once released.
func (c *Clip) Bytes() []byte {
	if c.released.Load() {
		return nil
	}
	return c.data
}

// Released reports whether Release was called.
func (c *Clip) Released() bool { return c.released.Load() }

// Release implements relay.Playable. Only the first call has an effect.
func (c *Clip) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	if c.onRelease != nil {
		c.onRelease()
	}
}

// Decoder is a relay.Decoder that remuxes a whole raw segment into a
// standalone fragmented MP4 clip with ffmpeg.
type Decoder struct {
	cfg             FFmpegConfig
	segmentDuration time.Duration
}

var _ relay.Decoder = (*Decoder)(nil)

// NewDecoder returns a decoder. segmentDuration is used when the container
// does not report a duration.
func NewDecoder(cfg FFmpegConfig, segmentDuration time.Duration) *Decoder {
	return &Decoder{cfg: cfg.withDefaults(), segmentDuration: segmentDuration}
}

// Decode implements relay.Decoder.
func (d *Decoder) Decode(ctx context.Context, seg relay.Segment) (relay.Playable, error) {
	cmd := exec.CommandContext(ctx, d.cfg.Binary, d.cfg.remuxArgs()...)
	cmd.Stdin = bytes.NewReader(seg.Payload)
	stderr := &tailBuffer{max: 2048}
	cmd.Stderr = stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: segment %d: %v", ErrDecodeFailed, seg.TimestampMs, exitError(err, stderr))
	}
	return d.clip(seg.TimestampMs, out)
}

func (d *Decoder) clip(timestampMs int64, out []byte) (*Clip, error) {
	dur, err := ProbeDuration(out)
	if err != nil {
		return nil, fmt.Errorf("%w: segment %d: %v", ErrDecodeFailed, timestampMs, err)
	}
	if dur <= 0 {
		dur = d.segmentDuration
	}
	return NewClip(timestampMs, out, dur, nil), nil
}
