// Command saytext is the SayText dictation client: it streams microphone PCM
// from stdin (or batch-transcribes a WAV file) through the configured
// speech-recognition provider and prints the reconciled transcript.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/saytext/saytext/internal/config"
	"github.com/saytext/saytext/internal/correct"
	"github.com/saytext/saytext/internal/dictation"
	"github.com/saytext/saytext/internal/health"
	"github.com/saytext/saytext/internal/keystore"
	"github.com/saytext/saytext/internal/observe"
	"github.com/saytext/saytext/pkg/asr"
	"github.com/saytext/saytext/pkg/asr/deepgram"
	"github.com/saytext/saytext/pkg/asr/merge"
	"github.com/saytext/saytext/pkg/asr/openai"
	"github.com/saytext/saytext/pkg/asr/proxy"
	"github.com/saytext/saytext/pkg/asr/stream"
	"github.com/saytext/saytext/pkg/asr/volc"
	"github.com/saytext/saytext/pkg/audio"
	"github.com/saytext/saytext/pkg/types"
)

// frameSize is the stdin read size for streaming: 100 ms of 16 kHz mono PCM16.
const frameSize = 3200

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	wavFile := flag.String("file", "", "batch-transcribe a WAV file instead of streaming stdin")
	providerName := flag.String("provider", "", "override the configured default provider")
	watch := flag.Bool("watch", false, "reload the configuration file on change")
	flag.Parse()

	// Environment first: .env fills credentials config leaves blank.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "saytext: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "saytext: %v\n", err)
		}
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Client.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry.
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		logger.Error("telemetry init failed", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// Optional live config reload: only the log level is applied on the fly;
	// routing and provider changes take effect on the next session.
	if *watch {
		watcher, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
			diff := config.Diff(old, next)
			if diff.LogLevelChanged {
				level.Set(slogLevel(diff.NewLogLevel))
				logger.Info("log level changed", "level", diff.NewLogLevel)
			}
			if diff.RoutingChanged || diff.MergeChanged || diff.CorrectionChanged {
				logger.Info("configuration changed, applies to the next session")
			}
		})
		if err != nil {
			logger.Error("config watcher failed", "err", err)
			return 1
		}
		defer watcher.Stop()
	}

	// Provider registry.
	reg := config.NewRegistry()
	registerProviders(reg, cfg, logger, metrics)

	resolver := dictation.NewResolver(cfg, reg, keystore.EnvStore{}, logger)
	provider, err := resolver.ResolveGroup(*providerName)
	if err != nil {
		logger.Error("no usable provider", "err", err)
		fmt.Fprintln(os.Stderr, "saytext: no provider configured — set credentials in the config file or environment")
		return 1
	}
	logger.Info("provider resolved", "provider", provider.Name(), "mode", cfg.Routing.Mode)

	svc, err := newService(cfg, provider, logger, metrics)
	if err != nil {
		logger.Error("service init failed", "err", err)
		return 1
	}

	g, ctx := errgroup.WithContext(ctx)

	// Prometheus scrape endpoint.
	var metricsSrv *http.Server
	if addr := cfg.Client.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		health.New(health.Checker{
			Name: "provider",
			Check: func(context.Context) error {
				_, err := resolver.Resolve(*providerName)
				return err
			},
		}).Register(mux)
		metricsSrv = &http.Server{Addr: addr, Handler: mux}
		g.Go(func() error {
			logger.Info("metrics endpoint listening", "addr", addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer stop() // a finished transcription run stops the metrics server too
		if *wavFile != "" {
			return transcribeFile(ctx, svc, *wavFile)
		}
		return streamStdin(ctx, svc, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run error", "err", err)
		return 1
	}
	return 0
}

// newService assembles the dictation facade: stream tuning from config plus
// the optional LLM correction stage.
func newService(cfg *config.Config, provider asr.Provider, logger *slog.Logger, metrics *observe.Metrics) (*dictation.Service, error) {
	opts := []dictation.ServiceOption{
		dictation.WithLogger(logger),
		dictation.WithMetrics(metrics),
	}

	if cfg.Correction.Enabled {
		apiKey := cfg.Correction.APIKey
		if apiKey == "" {
			apiKey = cfg.Providers.OpenAI.APIKey
		}
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		var copts []correct.Option
		if cfg.Correction.BaseURL != "" {
			copts = append(copts, correct.WithBaseURL(cfg.Correction.BaseURL))
		}
		if cfg.Correction.MaxDivergence > 0 {
			copts = append(copts, correct.WithMaxDivergence(cfg.Correction.MaxDivergence))
		}
		copts = append(copts, correct.WithStageFunc(observe.StageSink(logger, metrics)))
		corrector, err := correct.New(apiKey, cfg.Correction.Model, copts...)
		if err != nil {
			return nil, fmt.Errorf("correction: %w", err)
		}
		opts = append(opts, dictation.WithCorrector(corrector))
	}

	return dictation.NewService(provider, opts...)
}

// registerProviders wires every built-in recognition backend into the
// registry. Each factory carries the shared stream tuning derived from the
// config file.
func registerProviders(reg *config.Registry, cfg *config.Config, logger *slog.Logger, metrics *observe.Metrics) {
	streamCfg := func(name string, entry config.ProviderEntry) stream.Config {
		return stream.Config{
			Provider:      name,
			Models:        entry.Models,
			Languages:     entry.Languages,
			MaxRetries:    cfg.Stream.MaxRetries,
			BackoffBase:   cfg.Stream.BackoffBase,
			MaxBackoff:    cfg.Stream.MaxBackoff,
			QueueCapacity: cfg.Stream.QueueCapacity,
			IdleTimeout:   cfg.Stream.IdleTimeout,
			StopMaxWait:   cfg.Stream.StopMaxWait,
			Thresholds:    mergeThresholds(cfg.Merge),
			OnStage:       observe.StageSink(logger, metrics),
			Logger:        logger,
		}
	}

	reg.Register("volc", func(entry config.ProviderEntry) (asr.Provider, error) {
		opts := []volc.Option{volc.WithStreamConfig(streamCfg("volc", entry))}
		if entry.BaseURL != "" {
			opts = append(opts, volc.WithEndpoint(entry.BaseURL))
		}
		if len(entry.Models) > 0 {
			opts = append(opts, volc.WithModels(entry.Models))
		}
		if len(entry.Languages) > 0 {
			opts = append(opts, volc.WithLanguages(entry.Languages))
		}
		return volc.New(entry.AppKey, entry.APIKey, opts...)
	})

	reg.Register("deepgram", func(entry config.ProviderEntry) (asr.Provider, error) {
		opts := []deepgram.Option{deepgram.WithStreamConfig(streamCfg("deepgram", entry))}
		if len(entry.Models) > 0 {
			opts = append(opts, deepgram.WithModels(entry.Models))
		}
		if len(entry.Languages) > 0 {
			opts = append(opts, deepgram.WithLanguages(entry.Languages))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.Register("openai", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if len(entry.Models) > 0 {
			opts = append(opts, openai.WithModels(entry.Models))
		}
		if len(entry.Languages) > 0 {
			opts = append(opts, openai.WithLanguage(entry.Languages[0]))
		}
		return openai.New(entry.APIKey, opts...)
	})

	reg.Register("proxy", func(entry config.ProviderEntry) (asr.Provider, error) {
		opts := []proxy.Option{proxy.WithStreamConfig(streamCfg("proxy", entry))}
		if len(entry.Models) > 0 {
			opts = append(opts, proxy.WithModels(entry.Models))
		}
		if len(entry.Languages) > 0 {
			opts = append(opts, proxy.WithLanguages(entry.Languages))
		}
		return proxy.New(entry.BaseURL, entry.APIKey, opts...)
	})
}

// mergeThresholds maps the config knobs onto the merger defaults.
func mergeThresholds(mc config.MergeConfig) merge.Thresholds {
	th := merge.DefaultThresholds
	if mc.MinPartialForGap > 0 {
		th.MinPartialForGap = mc.MinPartialForGap
	}
	if mc.FinalRatio > 0 {
		th.FinalRatio = mc.FinalRatio
	}
	if mc.PrefixDominance > 0 {
		th.PrefixDominance = mc.PrefixDominance
	}
	return th
}

// transcribeFile batch-transcribes a WAV file and prints the transcript.
func transcribeFile(ctx context.Context, svc *dictation.Service, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %q: %w", path, err)
	}
	raw, format, err := audio.DecodeWAV(data)
	if err != nil {
		return fmt.Errorf("decode %q: %w", path, err)
	}
	pcm, err := audio.Normalize(raw, format, types.DefaultFormat)
	if err != nil {
		return fmt.Errorf("normalize %q: %w", path, err)
	}

	res, err := svc.Transcribe(ctx, types.AudioChunk{Data: pcm, Format: types.DefaultFormat})
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	fmt.Println(res.Text)
	return nil
}

// streamStdin runs a live dictation session over raw PCM16 mono 16 kHz from
// stdin: partials go to stderr as they stabilise, the reconciled final to
// stdout.
func streamStdin(ctx context.Context, svc *dictation.Service, logger *slog.Logger) error {
	results, err := svc.StartStreaming(ctx)
	if err != nil {
		return fmt.Errorf("start streaming: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for res := range results {
			if !res.IsFinal {
				fmt.Fprintf(os.Stderr, "\r%s", res.Text)
			}
		}
		fmt.Fprintln(os.Stderr)
	}()

	feedErr := feedLoop(ctx, svc)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	final, err := svc.StopStreaming(stopCtx)
	<-done
	if err != nil {
		return fmt.Errorf("stop streaming: %w", err)
	}
	if feedErr != nil {
		logger.Warn("audio feed ended early", "err", feedErr)
	}

	if final == nil || final.Text == "" {
		logger.Info("no transcript produced")
		return nil
	}
	fmt.Println(final.Text)
	return nil
}

// feedLoop pumps stdin into the session until EOF or cancellation.
func feedLoop(ctx context.Context, svc *dictation.Service) error {
	buf := make([]byte, frameSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := os.Stdin.Read(buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			if ferr := svc.FeedAudio(frame); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// slogLevel maps the config log level onto slog.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
