package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/songdeck/internal/acestep"
	"github.com/satindergrewal/songdeck/internal/config"
	"github.com/satindergrewal/songdeck/internal/console"
	"github.com/satindergrewal/songdeck/internal/karaoke"
	"github.com/satindergrewal/songdeck/internal/logger"
	"github.com/satindergrewal/songdeck/internal/playback"
	"github.com/satindergrewal/songdeck/internal/remote"
	"github.com/satindergrewal/songdeck/internal/scroll"
	"github.com/satindergrewal/songdeck/internal/stream"
	"github.com/satindergrewal/songdeck/internal/studio"
	"github.com/satindergrewal/songdeck/internal/tracks"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Config{
		Environment: cfg.Environment,
		Level:       logger.ParseLevel(cfg.LogLevel),
	})
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("songdeck stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	log.Info("songdeck starting up", "env", cfg.Environment)

	// Console events: session, highlight, commands, tracks, studio
	events := stream.NewBroadcaster[stream.Event](128)
	// Commands must not be dropped: a missed pause leaves two tracks
	// audible. Clients too slow to take one are disconnected.
	publish := func(c remote.Command) {
		if n := events.PublishOrEvict(stream.NewEvent(stream.KindCommand, c)); n > 0 {
			log.Warn("disconnected slow event clients", "count", n, "command", c.Kind)
		}
	}

	registry := tracks.NewRegistry()
	broker := playback.NewLocalBroker()
	coord := playback.NewCoordinator(broker, registry, playback.Options{
		SettleDelay: cfg.SettleDelay,
		Logger:      log,
	})
	defer coord.Close()

	registry.OnReplace(func(gen uint64) {
		events.Publish(stream.NewEvent(stream.KindTracks, map[string]any{
			"generation": gen,
			"versions":   registry.All(),
		}))
	})

	region := remote.NewRegion(publish)
	scroller := scroll.NewController(region, scroll.Options{UserHold: cfg.ScrollHold})
	follower := karaoke.NewFollower(registry, scroller, func(h karaoke.Highlight) {
		events.Publish(stream.NewEvent(stream.KindHighlight, h))
	}, log)

	client := acestep.NewClient(cfg.ACEStepAPIURL, cfg.ACEStepAPIKey, cfg.ACEStepOutputDir, log)
	if cfg.WaitForACEStep {
		healthCtx, healthCancel := context.WithTimeout(ctx, 5*time.Minute)
		err := client.WaitForHealthy(healthCtx)
		healthCancel()
		if err != nil {
			return fmt.Errorf("ACE-Step not available: %w", err)
		}
	}

	st := studio.New(client, registry, studio.Config{
		TrackDuration:  cfg.TrackDuration,
		BatchSize:      cfg.BatchSize,
		InferenceSteps: cfg.InferenceSteps,
		GuidanceScale:  cfg.GuidanceScale,
		AudioFormat:    cfg.AudioFormat,
	}, log)
	st.OnStatus(func(s studio.Status) {
		events.Publish(stream.NewEvent(stream.KindStudio, s))
	})

	initial := func() []stream.Event {
		return []stream.Event{
			stream.NewEvent(stream.KindSession, coord.Snapshot()),
			stream.NewEvent(stream.KindTracks, map[string]any{
				"generation": registry.Generation(),
				"versions":   registry.All(),
			}),
			stream.NewEvent(stream.KindHighlight, follower.Current()),
			stream.NewEvent(stream.KindStudio, st.Status()),
		}
	}
	sse := stream.NewSSEHandler(events, log)
	sse.SetInitial(initial)
	ws := stream.NewWebSocketHandler(events, log)
	ws.SetInitial(initial)
	rtc := stream.NewWebRTCHandler(events, log)
	rtc.SetInitial(initial)

	api := console.New(console.Deps{
		Coordinator:       coord,
		Broker:            broker,
		Registry:          registry,
		Region:            region,
		Scroll:            scroller,
		Studio:            st,
		Publish:           publish,
		Events:            sse,
		Socket:            ws,
		Offer:             rtc,
		JobContext:        ctx,
		TimeReportsPerSec: cfg.TimeReportsPerSec,
		Logger:            log,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, ctx := errgroup.WithContext(ctx)

	sessions := make(chan playback.Session, 32)
	g.Go(func() error {
		relaySessions(ctx, coord.Events(), sessions, events)
		return nil
	})
	g.Go(func() error {
		follower.Run(ctx, sessions)
		return nil
	})
	g.Go(func() error {
		log.Info("songdeck live", "addr", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
		}
		return nil
	})

	return g.Wait()
}

// relaySessions publishes every session snapshot and hands it to the
// karaoke follower.
func relaySessions(ctx context.Context, in <-chan playback.Session, out chan<- playback.Session, events *stream.Broadcaster[stream.Event]) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-in:
			if !ok {
				return
			}
			events.Publish(stream.NewEvent(stream.KindSession, s))
			select {
			case out <- s:
			case <-ctx.Done():
				return
			}
		}
	}
}
