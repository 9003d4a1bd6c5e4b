// Command voxpipe is the streaming speech-synthesis daemon. It reads text
// from an LLM stream or stdin, detects sentence boundaries, synthesises
// sentences concurrently, and plays them back in order on the default
// audio device.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxpipe/voxpipe/internal/config"
	"github.com/voxpipe/voxpipe/internal/health"
	"github.com/voxpipe/voxpipe/internal/observe"
	"github.com/voxpipe/voxpipe/internal/pipeline"
	"github.com/voxpipe/voxpipe/internal/sentence"
	"github.com/voxpipe/voxpipe/internal/thinkfilter"
	"github.com/voxpipe/voxpipe/pkg/audio"
	"github.com/voxpipe/voxpipe/pkg/audio/speaker"
	"github.com/voxpipe/voxpipe/pkg/synth"
	"github.com/voxpipe/voxpipe/pkg/synth/openai"
	"github.com/voxpipe/voxpipe/pkg/synth/piper"
	"github.com/voxpipe/voxpipe/pkg/textsource"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	prompt := flag.String("prompt", "", "speak the answer to a single prompt, then exit")
	flag.Parse()

	// ── Configuration watcher ─────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, onConfigChange)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxpipe: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxpipe: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxpipe starting",
		"config", *configPath,
		"backend", cfg.Synthesis.Backend.Name,
		"voice", cfg.Voice.Name,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Synthesis backend chain ───────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	backend, err := buildBackend(cfg, reg)
	if err != nil {
		slog.Error("failed to build synthesis backend", "err", err)
		return 1
	}

	// ── Output device ─────────────────────────────────────────────────────────
	sink, err := speaker.New(speaker.Options{
		Format: audio.Format{
			SampleRate: cfg.Playback.SampleRate,
			Channels:   cfg.Playback.Channels,
		},
	})
	if err != nil {
		slog.Error("failed to open audio output", "err", err)
		return 1
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	orch := pipeline.New(backend, sink, pipelineOptions(cfg, watcher, logger)...)
	defer orch.Close()

	// ── Metrics / health server ───────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.ListenAddr != "" {
		srv := newServer(cfg.Server, backend, orch)
		g.Go(func() error { return serveHTTP(gctx, srv, cfg.Server.TLS) })
		slog.Info("observability server listening", "addr", cfg.Server.ListenAddr)
	}

	// ── Run loop ──────────────────────────────────────────────────────────────
	g.Go(func() error {
		defer stop() // a finished run loop ends the whole process
		if cfg.Text.Provider != "" {
			return runLLM(gctx, cfg, orch, *prompt)
		}
		return runStdin(gctx, orch)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the synthesis backend factories that ship
// with voxpipe into reg.
func registerBuiltinBackends(reg *config.Registry) {
	reg.Register("piper", func(entry config.BackendEntry) (synth.Backend, error) {
		var opts []piper.Option
		if entry.TimeoutSeconds > 0 {
			opts = append(opts, piper.WithTimeout(time.Duration(entry.TimeoutSeconds)*time.Second))
		}
		if entry.Streaming {
			opts = append(opts, piper.WithStreaming())
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, piper.WithLanguage(lang))
		}
		return piper.New(entry.URL, opts...)
	})

	reg.Register("openai", func(entry config.BackendEntry) (synth.Backend, error) {
		var opts []openai.Option
		if entry.URL != "" {
			opts = append(opts, openai.WithBaseURL(entry.URL))
		}
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.TimeoutSeconds > 0 {
			opts = append(opts, openai.WithTimeout(time.Duration(entry.TimeoutSeconds)*time.Second))
		}
		return openai.New(entry.APIKey, opts...)
	})
}

// buildBackend creates the primary backend and, when fallbacks are
// configured, wraps the whole set in a failover chain.
func buildBackend(cfg *config.Config, reg *config.Registry) (synth.Backend, error) {
	primary, err := reg.Create(cfg.Synthesis.Backend)
	if err != nil {
		return nil, fmt.Errorf("create backend %q: %w", cfg.Synthesis.Backend.Name, err)
	}
	slog.Info("backend created", "name", cfg.Synthesis.Backend.Name, "url", cfg.Synthesis.Backend.URL)

	if len(cfg.Synthesis.Fallbacks) == 0 {
		return primary, nil
	}

	chain := synth.NewFallback(cfg.Synthesis.Backend.Name, primary, synth.FallbackConfig{})
	for _, entry := range cfg.Synthesis.Fallbacks {
		b, err := reg.Create(entry)
		if err != nil {
			return nil, fmt.Errorf("create fallback backend %q: %w", entry.Name, err)
		}
		chain.AddFallback(entry.Name, b)
		slog.Info("fallback backend added", "name", entry.Name)
	}
	return chain, nil
}

// pipelineOptions translates the pipeline config block into orchestrator
// options. The watcher doubles as the voice source so voice edits in the
// config file apply to the next dispatched sentence.
func pipelineOptions(cfg *config.Config, voices config.VoiceSource, logger *slog.Logger) []pipeline.Option {
	opts := []pipeline.Option{
		pipeline.WithVoiceSource(voices),
		pipeline.WithLogger(logger),
		pipeline.WithObserver(&logObserver{logger: logger}),
	}
	if cfg.Synthesis.Concurrency > 0 {
		opts = append(opts, pipeline.WithConcurrency(cfg.Synthesis.Concurrency))
	}
	if cfg.Playback.QueueDepth > 0 {
		opts = append(opts, pipeline.WithQueueDepth(cfg.Playback.QueueDepth))
	}

	var detectorOpts []sentence.Option
	if cfg.Pipeline.MinSentenceLength > 0 {
		detectorOpts = append(detectorOpts, sentence.WithMinLength(cfg.Pipeline.MinSentenceLength))
	}
	if cfg.Pipeline.MaxBufferSize > 0 {
		detectorOpts = append(detectorOpts, sentence.WithMaxBuffer(cfg.Pipeline.MaxBufferSize))
	}
	if len(cfg.Pipeline.ExtraAbbreviations) > 0 {
		detectorOpts = append(detectorOpts, sentence.WithAbbreviations(cfg.Pipeline.ExtraAbbreviations...))
	}
	if len(detectorOpts) > 0 {
		opts = append(opts, pipeline.WithDetector(sentence.NewDetector(detectorOpts...)))
	}
	if cfg.Pipeline.ThinkingOpen != "" {
		opts = append(opts, pipeline.WithFilter(
			thinkfilter.NewWithMarkers(cfg.Pipeline.ThinkingOpen, cfg.Pipeline.ThinkingClose)))
	}
	return opts
}

// ── Run loops ─────────────────────────────────────────────────────────────────

// runStdin streams stdin straight into the pipeline and exits once
// everything read has been spoken.
func runStdin(ctx context.Context, orch *pipeline.Orchestrator) error {
	src := textsource.NewReader(ctx, os.Stdin)
	if err := speak(ctx, orch, src); err != nil {
		return err
	}
	return waitComplete(ctx, orch)
}

// runLLM sends prompts to the configured completion provider and speaks the
// streamed answers. With -prompt it answers once and exits; otherwise each
// stdin line is a new prompt, and a new prompt while the previous answer is
// still playing barges in.
func runLLM(ctx context.Context, cfg *config.Config, orch *pipeline.Orchestrator, prompt string) error {
	var opts []anyllmlib.Option
	if cfg.Text.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.Text.APIKey))
	}
	provider, err := textsource.NewLLMProvider(cfg.Text.Provider, opts...)
	if err != nil {
		return fmt.Errorf("create text provider %q: %w", cfg.Text.Provider, err)
	}
	llm, err := textsource.NewLLM(provider, cfg.Text.Model)
	if err != nil {
		return err
	}

	ask := func(question string) error {
		src, err := llm.Stream(ctx, cfg.Text.SystemPrompt, question)
		if err != nil {
			return fmt.Errorf("stream completion: %w", err)
		}
		return speak(ctx, orch, src)
	}

	if prompt != "" {
		if err := ask(prompt); err != nil {
			return err
		}
		return waitComplete(ctx, orch)
	}

	fmt.Println("voxpipe ready — type a prompt and press Enter (Ctrl+D to quit)")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		orch.Interrupt() // a new prompt cuts off the previous answer
		if err := ask(question); err != nil {
			slog.Error("prompt failed", "err", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return waitComplete(ctx, orch)
}

// speak feeds every fragment from src into the pipeline and flushes the
// trailing partial sentence when the stream ends.
func speak(ctx context.Context, orch *pipeline.Orchestrator, src textsource.Source) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-src.Chunks():
			if !ok {
				orch.Flush()
				return src.Err()
			}
			orch.ProcessChunk(chunk)
		}
	}
}

// waitComplete polls until the pipeline has spoken everything or ctx ends.
func waitComplete(ctx context.Context, orch *pipeline.Orchestrator) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			st := orch.Status()
			if st.PendingRequests == 0 && st.QueuedAudio == 0 && !st.IsPlaying {
				return nil
			}
		}
	}
}

// ── Observability server ──────────────────────────────────────────────────────

func newServer(cfg config.ServerConfig, backend synth.Backend, orch *pipeline.Orchestrator) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(health.BackendChecker("synthesis", backend)).
		WithStatus(orch.Status).
		Register(mux)

	handler := observe.Middleware(observe.DefaultMetrics())(mux)
	return &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serveHTTP runs srv until ctx is cancelled, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server, tls *config.TLSConfig) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("observability server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ── Config reload ─────────────────────────────────────────────────────────────

// onConfigChange logs what a live config edit did and did not apply.
func onConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	switch {
	case d.VoiceChanged:
		slog.Info("voice parameters updated", "voice", new.Voice.Name, "speed", new.Voice.Speed)
	case d.PipelineChanged:
		slog.Info("pipeline settings updated; they apply to the next session")
	}
	if d.LogLevelChanged {
		slog.SetDefault(newLogger(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RestartRequired {
		slog.Warn("config change requires a restart to take effect")
	}
}

// ── Pipeline observer ─────────────────────────────────────────────────────────

// logObserver reports pipeline lifecycle events through the logger.
type logObserver struct {
	logger *slog.Logger
}

var _ pipeline.Observer = (*logObserver)(nil)

func (o *logObserver) SentenceDetected(seq uint64, text string) {
	o.logger.Debug("sentence detected", "seq", seq, "len", len(text))
}

func (o *logObserver) SynthesisStarted(seq uint64, text string) {
	o.logger.Debug("synthesis started", "seq", seq)
}

func (o *logObserver) SynthesisCompleted(seq uint64, text string) {
	o.logger.Debug("synthesis completed", "seq", seq)
}

func (o *logObserver) SynthesisFailed(seq uint64, text string, err error) {
	o.logger.Warn("synthesis failed, skipping sentence", "seq", seq, "err", err)
}

func (o *logObserver) AllComplete() {
	o.logger.Info("response fully spoken")
}

func (o *logObserver) FatalError(err error) {
	o.logger.Error("pipeline fault", "err", err)
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a backend Options map. Returns ""
// if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
