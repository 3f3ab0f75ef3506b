package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"live-relay/internal/relay"
)

// ErrSessionClosed is reported by a session closed before its segment ended.
var ErrSessionClosed = errors.New("capture session closed")

// Capture is a relay.CaptureFacility that re-encodes each segment through an
// ffmpeg process: the raw payload goes to stdin and the fragmented MP4 read
// from stdout is the captured stream. Process exit signals segment end.
type Capture struct {
	cfg FFmpegConfig

	mu        sync.Mutex
	originMs  int64
	hasOrigin bool
}

var _ relay.CaptureFacility = (*Capture)(nil)

// NewCapture returns a capture facility.
func NewCapture(cfg FFmpegConfig) *Capture {
	return &Capture{cfg: cfg.withDefaults()}
}

// offsetFor returns the timeline offset of seg relative to the first segment
// captured by this facility.
func (c *Capture) offsetFor(seg relay.Segment) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasOrigin {
		c.originMs = seg.TimestampMs
		c.hasOrigin = true
	}
	return time.Duration(seg.TimestampMs-c.originMs) * time.Millisecond
}

// Capture implements relay.CaptureFacility.
func (c *Capture) Capture(ctx context.Context, seg relay.Segment) (relay.CaptureSession, error) {
	cmd := exec.CommandContext(ctx, c.cfg.Binary, c.cfg.transcodeArgs(c.offsetFor(seg))...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &tailBuffer{max: 2048}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	s := &session{
		cmd:    cmd,
		stderr: stderr,
		chunks: make(chan []byte),
		closed: make(chan struct{}),
		log:    c.cfg.Logger.With(slog.Int64("timestamp_ms", seg.TimestampMs)),
	}

	go func() {
		_, werr := stdin.Write(seg.Payload)
		cerr := stdin.Close()
		if werr != nil {
			s.log.Debug("ffmpeg stdin write failed", slog.String("error", werr.Error()))
		} else if cerr != nil {
			s.log.Debug("ffmpeg stdin close failed", slog.String("error", cerr.Error()))
		}
	}()
	go s.pump(stdout, c.cfg.ChunkSize)

	return s, nil
}

type session struct {
	cmd    *exec.Cmd
	stderr *tailBuffer
	chunks chan []byte
	closed chan struct{}
	log    *slog.Logger

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func (s *session) Chunks() <-chan []byte { return s.chunks }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close kills the process if it is still running and stops the pump.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
	})
	return nil
}

// pump forwards stdout in chunks, then waits for the process and records the
// outcome before closing the chunk channel.
func (s *session) pump(stdout io.Reader, size int) {
	defer close(s.chunks)

	var readErr error
	for {
		buf := make([]byte, size)
		n, err := stdout.Read(buf)
		if n > 0 {
			select {
			case s.chunks <- buf[:n]:
			case <-s.closed:
				readErr = ErrSessionClosed
			}
		}
		if readErr != nil {
			break
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}

	if readErr != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	waitErr := s.cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case readErr != nil:
		s.err = readErr
	case waitErr != nil:
		s.err = exitError(waitErr, s.stderr)
	}
}
