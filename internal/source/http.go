// Package source implements the remote segment source over HTTP.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"live-relay/internal/relay"
)

// ErrUnexpectedStatus is returned for non-2xx responses.
var ErrUnexpectedStatus = errors.New("unexpected status")

const (
	defaultTimeout    = 10 * time.Second
	maxChannelsBody   = 1 << 20
	maxSegmentBody    = 32 << 20
	channelsPath      = "/channels"
	segmentsPath      = "/segments"
	authorizationHead = "Authorization"
)

// Config configures an HTTPSource.
type Config struct {
	// BaseURL is the root of the remote API, e.g. "http://origin:9000/live".
	BaseURL string
	// Channel pins the source to one channel: ListChannels only reports it
	// and segment requests always name it. 0 uses whichever channel
	// discovery selects.
	Channel int
	// Scale is forwarded as the quality scale parameter.
	Scale int
	// Token, when set, is sent as a bearer token.
	Token string
	// Timeout bounds every request.
	Timeout time.Duration
}

// HTTPSource is a relay.SegmentSource backed by the remote HTTP API.
type HTTPSource struct {
	base     *url.URL
	cfg      Config
	client   *http.Client
	selected atomic.Int64
}

var (
	_ relay.SegmentSource   = (*HTTPSource)(nil)
	_ relay.ChannelSelector = (*HTTPSource)(nil)
)

type channelsResponse struct {
	Channels []relay.ChannelInfo `json:"channels"`
}

// NewHTTPSource validates cfg and returns a source. client may be nil.
func NewHTTPSource(cfg Config, client *http.Client) (*HTTPSource, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("source base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("source url scheme %q not supported", base.Scheme)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSource{base: base, cfg: cfg, client: client}, nil
}

// ListChannels implements relay.SegmentSource.
func (s *HTTPSource) ListChannels(ctx context.Context) ([]relay.ChannelInfo, error) {
	body, err := s.get(ctx, channelsPath, nil, maxChannelsBody)
	if err != nil {
		return nil, err
	}
	var resp channelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode channels: %w", err)
	}
	if s.cfg.Channel <= 0 {
		return resp.Channels, nil
	}
	var pinned []relay.ChannelInfo
	for _, c := range resp.Channels {
		if c.Channel == s.cfg.Channel {
			pinned = append(pinned, c)
		}
	}
	return pinned, nil
}

// SelectChannel implements relay.ChannelSelector. A pinned Config.Channel
// takes precedence.
func (s *HTTPSource) SelectChannel(channel int) {
	s.selected.Store(int64(channel))
}

func (s *HTTPSource) channel() int {
	if s.cfg.Channel > 0 {
		return s.cfg.Channel
	}
	return int(s.selected.Load())
}

// GetSegment implements relay.SegmentSource.
func (s *HTTPSource) GetSegment(ctx context.Context, cursorMs int64) ([]byte, error) {
	q := url.Values{}
	q.Set("time_ms", strconv.FormatInt(cursorMs, 10))
	q.Set("scale", strconv.Itoa(s.cfg.Scale))
	if ch := s.channel(); ch > 0 {
		q.Set("channel", strconv.Itoa(ch))
	}
	return s.get(ctx, segmentsPath, q, maxSegmentBody)
}

func (s *HTTPSource) get(ctx context.Context, path string, q url.Values, limit int64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	u := *s.base
	u.Path = s.base.Path + path
	if q != nil {
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if s.cfg.Token != "" {
		req.Header.Set(authorizationHead, "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: %w: %d", path, ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return body, nil
}
