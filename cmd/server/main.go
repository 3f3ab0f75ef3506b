package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"live-relay/internal/media"
	"live-relay/internal/platform/config"
	"live-relay/internal/platform/logger"
	"live-relay/internal/platform/metrics"
	"live-relay/internal/playback"
	"live-relay/internal/relay"
	"live-relay/internal/source"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	port       string
	sourceURL  string
	token      string
	channel    int
	strategy   string
	configFile string
	ffmpeg     string
	logLevel   string
	logFormat  string
	autostart  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	_ = config.Load()

	opts := options{
		port:       config.GetEnv("PORT", "8080"),
		sourceURL:  config.GetEnv("RELAY_SOURCE_URL", ""),
		token:      config.GetEnv("RELAY_SOURCE_TOKEN", ""),
		channel:    config.GetEnvInt("RELAY_CHANNEL", 0),
		strategy:   config.GetEnv("RELAY_STRATEGY", ""),
		configFile: config.GetEnv("RELAY_CONFIG_FILE", ""),
		ffmpeg:     config.GetEnv("FFMPEG_PATH", "ffmpeg"),
		logLevel:   config.GetEnv("LOG_LEVEL", "info"),
		logFormat:  config.GetEnv("LOG_FORMAT", "json"),
		autostart:  config.GetEnvBool("RELAY_AUTOSTART", false),
	}

	root := &cobra.Command{
		Use:           "live-relay",
		Short:         "Relay a remote segmented live stream into local continuous playback",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	f := serveCmd.Flags()
	f.StringVar(&opts.port, "port", opts.port, "HTTP listen port")
	f.StringVar(&opts.sourceURL, "source-url", opts.sourceURL, "base URL of the remote segment source")
	f.StringVar(&opts.token, "source-token", opts.token, "bearer token for the segment source")
	f.IntVar(&opts.channel, "channel", opts.channel, "channel to request segments for (0 = source default)")
	f.StringVar(&opts.strategy, "strategy", opts.strategy, "playback strategy: auto, stream or fallback")
	f.StringVar(&opts.configFile, "config", opts.configFile, "YAML file with pipeline tuning")
	f.StringVar(&opts.ffmpeg, "ffmpeg", opts.ffmpeg, "ffmpeg binary")
	f.StringVar(&opts.logLevel, "log-level", opts.logLevel, "log level: debug, info, warn, error")
	f.StringVar(&opts.logFormat, "log-format", opts.logFormat, "log format: json or text")
	f.BoolVar(&opts.autostart, "autostart", opts.autostart, "start a pipeline as soon as the server is up")

	root.AddCommand(serveCmd)
	return root
}

// loadRelayConfig layers defaults, the optional YAML file and RELAY_* env vars.
func loadRelayConfig(opts options) (relay.Config, error) {
	cfg := relay.DefaultConfig()
	if opts.configFile != "" {
		if err := config.LoadYAML(opts.configFile, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.SegmentDuration = config.GetEnvDuration("RELAY_SEGMENT_DURATION", cfg.SegmentDuration)
	cfg.HeaderLength = config.GetEnvInt("RELAY_HEADER_LENGTH", cfg.HeaderLength)
	cfg.DiscoveryBackoff = config.GetEnvDuration("RELAY_DISCOVERY_BACKOFF", cfg.DiscoveryBackoff)
	cfg.LookbackSegments = config.GetEnvInt("RELAY_LOOKBACK_SEGMENTS", cfg.LookbackSegments)
	cfg.FallbackLookback = config.GetEnvDuration("RELAY_FALLBACK_LOOKBACK", cfg.FallbackLookback)
	cfg.FetchInterval = config.GetEnvDuration("RELAY_FETCH_INTERVAL", cfg.FetchInterval)
	cfg.FetchRetryBackoff = config.GetEnvDuration("RELAY_FETCH_RETRY_BACKOFF", cfg.FetchRetryBackoff)
	cfg.TranscodePollInterval = config.GetEnvDuration("RELAY_TRANSCODE_POLL", cfg.TranscodePollInterval)
	cfg.FeedPollInterval = config.GetEnvDuration("RELAY_FEED_POLL", cfg.FeedPollInterval)
	cfg.SinkPollInterval = config.GetEnvDuration("RELAY_SINK_POLL", cfg.SinkPollInterval)
	cfg.WarmupDelay = config.GetEnvDuration("RELAY_WARMUP_DELAY", cfg.WarmupDelay)
	cfg.PrefillSegments = config.GetEnvInt("RELAY_PREFILL_SEGMENTS", cfg.PrefillSegments)
	cfg.RingPollInterval = config.GetEnvDuration("RELAY_RING_POLL", cfg.RingPollInterval)
	if opts.strategy != "" {
		cfg.Strategy = relay.Strategy(opts.strategy)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg.WithDefaults(), nil
}

func serve(ctx context.Context, opts options) error {
	log := logger.New(opts.logLevel, opts.logFormat)

	cfg, err := loadRelayConfig(opts)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		return err
	}

	src, err := source.NewHTTPSource(source.Config{
		BaseURL: opts.sourceURL,
		Channel: opts.channel,
		Token:   opts.token,
	}, nil)
	if err != nil {
		log.Error("invalid source", "error", err)
		return err
	}

	met := metrics.New()
	hub := relay.NewHub(0)
	ff := media.FFmpegConfig{Binary: opts.ffmpeg, Logger: log.With(slog.String("component", "ffmpeg"))}
	live := playback.NewLiveBuffer(playback.LiveBufferConfig{Logger: log.With(slog.String("component", "live_buffer"))})
	primary := playback.NewSlot(playback.SlotPrimary, cfg.SegmentDuration)
	secondary := playback.NewSlot(playback.SlotSecondary, cfg.SegmentDuration)
	slots := playback.NewSlots(primary, secondary)

	factory := func() *relay.Pipeline {
		live.Reset()
		return relay.NewPipeline(cfg, relay.Dependencies{
			Source:    src,
			Capture:   media.NewCapture(ff),
			Sink:      live,
			Decoder:   media.NewDecoder(ff, cfg.SegmentDuration),
			Primary:   primary,
			Secondary: secondary,
			Logger:    log,
			Metrics:   met,
			OnEvent:   hub.Publish,
		})
	}
	h := relay.NewHandler(factory, hub, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(h.RefreshGauges).ServeHTTP(w, r)
	})
	r.Route("/pipeline", func(r chi.Router) {
		r.Get("/", h.GetStatus)
		r.Post("/start", h.StartPipeline)
		r.Post("/stop", h.StopPipeline)
		r.Get("/events", h.Events)
	})
	r.Get("/live.mp4", live.ServeHTTP)
	r.Get("/slots", slots.ServeHTTP)
	r.Get("/slots/{name}", func(w http.ResponseWriter, r *http.Request) {
		slot, ok := slots.Get(chi.URLParam(r, "name"))
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		slot.ServeHTTP(w, r)
	})

	addr := ":" + opts.port
	srv := &http.Server{Addr: addr, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("server starting",
		"port", opts.port,
		"source_url", opts.sourceURL,
		"strategy", string(cfg.Strategy),
		"log_level", opts.logLevel,
	)

	if ctx == nil {
		ctx = context.Background()
	}

	if opts.autostart {
		if p, _, err := h.Start(ctx); err != nil {
			log.Error("autostart failed", "error", err)
		} else {
			log.Info("pipeline autostarted", "pipeline_id", p.ID())
		}
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		log.Error("server error", "error", err)
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	log.Info("shutdown signal received, stopping pipeline and draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := h.Shutdown(shutdownCtx); err != nil {
		log.Warn("pipeline did not stop in time", "error", err)
	}
	live.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped")
	return nil
}
