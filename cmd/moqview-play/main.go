package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/moqview/decoder"
	"github.com/zsiec/moqview/internal/config"
	"github.com/zsiec/moqview/internal/debugserver"
	"github.com/zsiec/moqview/internal/metrics"
	"github.com/zsiec/moqview/player"
)

var version = "dev"

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "moqview-play:", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.LogLevel, cfg.LogFormat))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	met := metrics.New()
	prober := decoder.NewCachingProber(decoder.PassthroughFactory{}, 30*time.Second)
	p := player.New(decoder.PassthroughFactory{}, prober)
	p.SetLatency(cfg.Latency)
	p.SetInsecureTLS(cfg.InsecureTLS)

	debugSrv := debugserver.New(cfg.DebugAddr, met, func() any {
		return statsSnapshot(p)
	})

	slog.Info("moqview-play starting",
		"version", version,
		"url", cfg.URL,
		"latency", cfg.Latency,
		"debug_addr", cfg.DebugAddr,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return debugSrv.Run(ctx)
	})

	g.Go(func() error {
		if err := p.Open(ctx, cfg.URL); err != nil {
			return fmt.Errorf("opening broadcast: %w", err)
		}
		met.IncSessionConnects()
		defer met.IncSessionDisconnects()

		if cfg.Rendition != "" {
			if err := p.SetTargetRendition(ctx, cfg.Rendition); err != nil {
				slog.Warn("failed to set target rendition", "rendition", cfg.Rendition, "error", err)
			}
		}

		<-ctx.Done()
		return p.Close()
	})

	g.Go(func() error {
		return logStatsPeriodically(ctx, p, met, cfg.StatsPeriod)
	})

	if err := g.Wait(); err != nil {
		slog.Error("moqview-play exited with error", "error", err)
		os.Exit(1)
	}
}

func loadConfig(args []string) (*config.Config, error) {
	_ = config.LoadEnvFile()

	cfg := config.Defaults()
	if path := config.ConfigFileFlag(args); path != "" {
		merged, err := config.LoadFile(cfg, path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		cfg = merged
	}
	config.ApplyEnv(cfg)

	fs := config.FlagSet(cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if strings.ToLower(format) == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

// logStatsPeriodically logs a snapshot and feeds the frame/byte counters
// the deltas observed since the previous tick, since Player only exposes
// cumulative totals rather than a per-frame event hook.
func logStatsPeriodically(ctx context.Context, p *player.Player, met *metrics.Metrics, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var prevVideoFrames, prevVideoBytes, prevAudioFrames, prevAudioBytes uint64

	for {
		select {
		case <-ticker.C:
			video, audio := p.Stats()
			met.ObserveFrames("video", int(video.FrameCount-prevVideoFrames), int(video.BytesReceived-prevVideoBytes))
			met.ObserveFrames("audio", int(audio.FrameCount-prevAudioFrames), int(audio.BytesReceived-prevAudioBytes))
			prevVideoFrames, prevVideoBytes = video.FrameCount, video.BytesReceived
			prevAudioFrames, prevAudioBytes = audio.FrameCount, audio.BytesReceived

			met.SetSyncPlaying(string(p.SyncStatus()) == "play")
			met.SetBufferFilled(p.BufferStatus() == "filled")
			slog.Info("playback stats",
				"status", p.Status(),
				"buffer", p.BufferStatus(),
				"sync", p.SyncStatus(),
				"rendition", p.ActiveRendition(),
				"video_frames", video.FrameCount,
				"video_bytes", video.BytesReceived,
				"audio_frames", audio.FrameCount,
				"audio_bytes", audio.BytesReceived,
			)
		case <-ctx.Done():
			return nil
		}
	}
}

type statsSnapshotDoc struct {
	Status              string             `json:"status"`
	BufferStatus        string             `json:"bufferStatus"`
	SyncStatus          string             `json:"syncStatus"`
	ActiveRendition     string             `json:"activeRendition"`
	AvailableRenditions []player.Rendition `json:"availableRenditions"`
	Video               player.MediaStats  `json:"video"`
	Audio               player.MediaStats  `json:"audio"`
}

func statsSnapshot(p *player.Player) any {
	video, audio := p.Stats()
	return statsSnapshotDoc{
		Status:              string(p.Status()),
		BufferStatus:        p.BufferStatus(),
		SyncStatus:          string(p.SyncStatus()),
		ActiveRendition:     p.ActiveRendition(),
		AvailableRenditions: p.AvailableRenditions(),
		Video:               video,
		Audio:               audio,
	}
}
