package relay

import (
	"fmt"
	"time"
)

// Strategy selects how transcoded media reaches the viewer.
type Strategy string

const (
	// StrategyAuto uses the streaming sink when it supports incremental
	// appends and the fallback player otherwise.
	StrategyAuto Strategy = "auto"
	// StrategyStream always uses transcoder and feeder.
	StrategyStream Strategy = "stream"
	// StrategyFallback always uses the ping-pong player.
	StrategyFallback Strategy = "fallback"
)

// Config holds the tuning parameters of a pipeline. Zero values are replaced
// by the DefaultConfig values.
type Config struct {
	SegmentDuration time.Duration `yaml:"segment_duration"`
	HeaderLength    int           `yaml:"header_length"`

	DiscoveryBackoff time.Duration `yaml:"discovery_backoff"`
	LookbackSegments int           `yaml:"lookback_segments"`
	FallbackLookback time.Duration `yaml:"fallback_lookback"`

	FetchInterval     time.Duration `yaml:"fetch_interval"`
	FetchRetryBackoff time.Duration `yaml:"fetch_retry_backoff"`

	TranscodePollInterval time.Duration `yaml:"transcode_poll_interval"`
	FeedPollInterval      time.Duration `yaml:"feed_poll_interval"`
	SinkPollInterval      time.Duration `yaml:"sink_poll_interval"`
	WarmupDelay           time.Duration `yaml:"warmup_delay"`

	PrefillSegments  int           `yaml:"prefill_segments"`
	RingPollInterval time.Duration `yaml:"ring_poll_interval"`

	Strategy Strategy `yaml:"strategy"`
}

// DefaultConfig returns the timings observed on the live relay.
func DefaultConfig() Config {
	return Config{
		SegmentDuration:       time.Second,
		HeaderLength:          32,
		DiscoveryBackoff:      time.Second,
		LookbackSegments:      6,
		FallbackLookback:      5 * time.Second,
		FetchInterval:         time.Second,
		FetchRetryBackoff:     3 * time.Second,
		TranscodePollInterval: time.Second,
		FeedPollInterval:      750 * time.Millisecond,
		SinkPollInterval:      50 * time.Millisecond,
		WarmupDelay:           3 * time.Second,
		PrefillSegments:       4,
		RingPollInterval:      100 * time.Millisecond,
		Strategy:              StrategyAuto,
	}
}

// WithDefaults returns c with every unset field taken from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.SegmentDuration <= 0 {
		c.SegmentDuration = d.SegmentDuration
	}
	if c.HeaderLength <= 0 {
		c.HeaderLength = d.HeaderLength
	}
	if c.DiscoveryBackoff <= 0 {
		c.DiscoveryBackoff = d.DiscoveryBackoff
	}
	if c.LookbackSegments <= 0 {
		c.LookbackSegments = d.LookbackSegments
	}
	if c.FallbackLookback <= 0 {
		c.FallbackLookback = d.FallbackLookback
	}
	if c.FetchInterval <= 0 {
		c.FetchInterval = d.FetchInterval
	}
	if c.FetchRetryBackoff <= 0 {
		c.FetchRetryBackoff = d.FetchRetryBackoff
	}
	if c.TranscodePollInterval <= 0 {
		c.TranscodePollInterval = d.TranscodePollInterval
	}
	if c.FeedPollInterval <= 0 {
		c.FeedPollInterval = d.FeedPollInterval
	}
	if c.SinkPollInterval <= 0 {
		c.SinkPollInterval = d.SinkPollInterval
	}
	if c.WarmupDelay <= 0 {
		c.WarmupDelay = d.WarmupDelay
	}
	if c.PrefillSegments <= 0 {
		c.PrefillSegments = d.PrefillSegments
	}
	if c.RingPollInterval <= 0 {
		c.RingPollInterval = d.RingPollInterval
	}
	if c.Strategy == "" {
		c.Strategy = d.Strategy
	}
	return c
}

// Validate reports configuration values that cannot work.
func (c Config) Validate() error {
	switch c.Strategy {
	case StrategyAuto, StrategyStream, StrategyFallback, "":
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	if c.HeaderLength < 0 {
		return fmt.Errorf("header length must not be negative, got %d", c.HeaderLength)
	}
	return nil
}

// SegmentDurationMs is the cursor step in milliseconds.
func (c Config) SegmentDurationMs() int64 {
	return c.SegmentDuration.Milliseconds()
}
