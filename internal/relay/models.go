package relay

import (
	"context"
	"time"
)

// Segment is one fixed-duration unit of media identified by its timestamp cursor.
// A segment is owned by exactly one stage at a time and is never mutated after
// it has been handed to a queue.
type Segment struct {
	TimestampMs int64
	Payload     []byte

	// FetchedAt is when the raw bytes arrived (not part of the ordering key).
	FetchedAt time.Time
}

// Size returns the payload length in bytes.
func (s Segment) Size() int {
	return len(s.Payload)
}

// ChannelInfo describes a channel the remote source currently publishes.
type ChannelInfo struct {
	Channel         int   `json:"channel"`
	LastTimestampMs int64 `json:"last_timestamp_ms"`
}

// SegmentSource is the remote side of the relay.
type SegmentSource interface {
	// ListChannels returns the channels currently published by the remote.
	ListChannels(ctx context.Context) ([]ChannelInfo, error)

	// GetSegment returns the raw segment starting at cursorMs, including the
	// fixed-length signature header.
	GetSegment(ctx context.Context, cursorMs int64) ([]byte, error)
}

// ChannelSelector is implemented by sources that must be told which
// channel discovery settled on before segments are requested.
type ChannelSelector interface {
	SelectChannel(channel int)
}

// StreamingBufferSink is the local playback buffer fed by incremental appends.
type StreamingBufferSink interface {
	// IsOpen reports whether the sink accepts appends.
	IsOpen() bool

	// Updating reports whether an append is still being processed.
	Updating() bool

	// Append hands buf to the sink and returns once the append completed.
	Append(buf []byte) error
}

// IncrementalAppendChecker is implemented by sinks that can report whether
// the host supports incremental appends at all. Sinks that do not implement
// it are assumed to support them.
type IncrementalAppendChecker interface {
	SupportsIncrementalAppend() bool
}

// CaptureFacility turns one raw segment into a live re-encoded byte stream.
type CaptureFacility interface {
	// Capture loads seg into the decode surface and starts capturing its
	// re-encoded output once the surface is ready to play.
	Capture(ctx context.Context, seg Segment) (CaptureSession, error)
}

// CaptureSession is a running capture of a single segment.
type CaptureSession interface {
	// Chunks yields encoded output; it is closed when the segment ended.
	Chunks() <-chan []byte

	// Err reports the capture outcome once Chunks is closed.
	Err() error

	// Close releases the decode surface handle. It is safe to call twice.
	Close() error
}

// Playable is a locally decoded segment ready to be shown on a surface.
type Playable interface {
	TimestampMs() int64
	Duration() time.Duration

	// Release revokes the resource handle backing the playable.
	Release()
}

// Decoder decodes a whole raw segment into a playable for the fallback path.
type Decoder interface {
	Decode(ctx context.Context, seg Segment) (Playable, error)
}

// PlaybackSurface is one of the two alternating fallback play slots.
type PlaybackSurface interface {
	Name() string

	// Load replaces the playable shown by the surface.
	Load(p Playable) error

	// Play starts playback of the loaded playable; the returned channel is
	// closed when it finished.
	Play() <-chan struct{}

	// SetVisible flips which surface is currently shown.
	SetVisible(visible bool)
}
