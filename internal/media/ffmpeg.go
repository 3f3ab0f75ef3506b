// Package media runs the ffmpeg-backed decode and re-encode steps of the relay.
package media

import (
	"bytes"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// FFmpegConfig configures the ffmpeg invocations.
type FFmpegConfig struct {
	// Binary is the ffmpeg executable (path or name on PATH).
	Binary string
	// VideoCodec is the target video encoder, e.g. "libx264".
	VideoCodec string
	// AudioCodec is the target audio encoder, e.g. "aac".
	AudioCodec string
	// Preset is the encoder speed preset.
	Preset string
	// InputArgs are inserted before "-i pipe:0".
	InputArgs []string
	// ChunkSize is the read size for captured output.
	ChunkSize int
	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultFFmpegConfig returns a software H.264/AAC configuration.
func DefaultFFmpegConfig() FFmpegConfig {
	return FFmpegConfig{
		Binary:     "ffmpeg",
		VideoCodec: "libx264",
		AudioCodec: "aac",
		Preset:     "veryfast",
		ChunkSize:  32 * 1024,
	}
}

func (c FFmpegConfig) withDefaults() FFmpegConfig {
	d := DefaultFFmpegConfig()
	if c.Binary == "" {
		c.Binary = d.Binary
	}
	if c.VideoCodec == "" {
		c.VideoCodec = d.VideoCodec
	}
	if c.AudioCodec == "" {
		c.AudioCodec = d.AudioCodec
	}
	if c.Preset == "" {
		c.Preset = d.Preset
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// fragmentedMP4Flags makes ffmpeg write a streamable fragmented MP4 to a pipe.
const fragmentedMP4Flags = "frag_keyframe+empty_moov+default_base_moof"

// transcodeArgs builds the re-encode command line. offset shifts output
// timestamps so consecutive segments form one timeline.
func (c FFmpegConfig) transcodeArgs(offset time.Duration) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, c.InputArgs...)
	args = append(args,
		"-i", "pipe:0",
		"-output_ts_offset", formatSeconds(offset),
		"-c:v", c.VideoCodec,
		"-preset", c.Preset,
		"-tune", "zerolatency",
		"-c:a", c.AudioCodec,
		"-f", "mp4",
		"-movflags", fragmentedMP4Flags,
		"pipe:1",
	)
	return args
}

// remuxArgs builds the whole-segment decode command used by the fallback.
func (c FFmpegConfig) remuxArgs() []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, c.InputArgs...)
	args = append(args,
		"-i", "pipe:0",
		"-c:v", c.VideoCodec,
		"-preset", c.Preset,
		"-c:a", c.AudioCodec,
		"-f", "mp4",
		"-movflags", fragmentedMP4Flags,
		"pipe:1",
	)
	return args
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// tailBuffer keeps the last max bytes written, for stderr diagnostics.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(bytes.TrimSpace(t.buf.Bytes()))
}

func exitError(err error, stderr *tailBuffer) error {
	if msg := stderr.String(); msg != "" {
		return fmt.Errorf("ffmpeg: %w: %s", err, msg)
	}
	return fmt.Errorf("ffmpeg: %w", err)
}
