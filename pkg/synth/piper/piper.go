// Package piper provides a Piper-backed synthesis backend that connects to a
// Piper TTS service via its REST API. It implements the synth.Backend
// interface.
//
// Two transport modes are supported:
//
//   - REST (default): one POST /api/tts/synthesize call per utterance,
//     returning base64-encoded WAV in a JSON envelope.
//
//   - Streaming: the /api/tts/stream websocket endpoint, which delivers the
//     utterance as a sequence of WAV chunks that the backend reassembles
//     into a single raw-PCM result. Enable with [WithStreaming].
//
// Typical usage:
//
//	b, err := piper.New("http://localhost:8000",
//	    piper.WithTimeout(15*time.Second),
//	)
//	res, err := b.Synthesize(ctx, synth.Request{Text: "Hello there."})
package piper

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/voxpipe/voxpipe/pkg/synth"
)

// Compile-time interface assertions.
var (
	_ synth.Backend = (*Backend)(nil)
	_ synth.Prober  = (*Backend)(nil)
)

const (
	synthesizeEndpoint = "/api/tts/synthesize"
	voicesEndpoint     = "/api/tts/voices"
	healthEndpoint     = "/api/tts/health"
	streamEndpoint     = "/api/tts/stream"

	defaultTimeout = 30 * time.Second
)

// ErrModelNotLoaded is returned by [Backend.Healthy] when the service is
// reachable but reports its TTS model as not yet loaded.
var ErrModelNotLoaded = errors.New("piper: model not loaded")

// Option is a functional option for configuring a Piper [Backend].
type Option func(*Backend)

// WithTimeout sets the per-request HTTP timeout for calls to the service.
// Defaults to 30s if not set.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) {
		b.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client. Useful for tests and
// for callers that need custom transport settings.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) {
		b.httpClient = c
	}
}

// WithLanguage sets the language hint forwarded with every request (e.g.
// "en"). Empty (the default) omits the hint and lets the service decide.
func WithLanguage(lang string) Option {
	return func(b *Backend) {
		b.language = lang
	}
}

// WithStreaming switches synthesis to the websocket streaming endpoint.
// Results then carry raw PCM ([synth.FormatPCM]) instead of a WAV container.
func WithStreaming() Option {
	return func(b *Backend) {
		b.streaming = true
	}
}

// Backend implements synth.Backend against a Piper TTS service.
type Backend struct {
	baseURL    string
	httpClient *http.Client
	language   string
	streaming  bool
}

// New creates a Piper [Backend] targeting the service at baseURL
// (e.g. "http://localhost:8000").
func New(baseURL string, opts ...Option) (*Backend, error) {
	if baseURL == "" {
		return nil, errors.New("piper: baseURL must not be empty")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("piper: invalid baseURL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("piper: baseURL must be http or https, got %q", parsed.Scheme)
	}

	b := &Backend{
		baseURL:    parsed.String(),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// ---- wire types ----

// synthesizeRequest is the JSON body of POST /api/tts/synthesize.
type synthesizeRequest struct {
	Text     string  `json:"text"`
	Voice    string  `json:"voice,omitempty"`
	Language string  `json:"language,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
	Format   string  `json:"format"`

	LengthScale *float64 `json:"length_scale,omitempty"`
	NoiseScale  *float64 `json:"noise_scale,omitempty"`
	NoiseWScale *float64 `json:"noise_w_scale,omitempty"`
}

// synthesizeResponse mirrors the service's synthesis envelope.
type synthesizeResponse struct {
	Audio          string  `json:"audio"` // base64 WAV
	Duration       float64 `json:"duration"`
	Format         string  `json:"format"`
	SampleRate     int     `json:"sample_rate"`
	ProcessingTime float64 `json:"processing_time"`
}

type voiceInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender"`
}

type voicesResponse struct {
	Voices []voiceInfo `json:"voices"`
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Engine      string `json:"engine"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// ---- Backend implementation ----

// Synthesize produces audio for one request. In the default REST mode the
// result is a WAV container; in streaming mode it is raw PCM.
func (b *Backend) Synthesize(ctx context.Context, req synth.Request) (*synth.Result, error) {
	text, err := synth.NormalizeText(req.Text)
	if err != nil {
		return nil, err
	}
	req.Text = text
	req.Params = req.Params.Clamped()

	if b.streaming {
		return b.synthesizeStream(ctx, req)
	}
	return b.synthesizeREST(ctx, req)
}

func (b *Backend) synthesizeREST(ctx context.Context, req synth.Request) (*synth.Result, error) {
	body := synthesizeRequest{
		Text:        req.Text,
		Voice:       req.Params.Voice,
		Language:    b.language,
		Speed:       req.Params.Speed,
		Format:      synth.FormatWAV,
		LengthScale: optional(req.Params.LengthScale),
		NoiseScale:  optional(req.Params.NoiseScale),
		NoiseWScale: optional(req.Params.NoiseVariation),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("piper: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+synthesizeEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("piper: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("piper: synthesize request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("piper: synthesize: %w", httpError(resp))
	}

	var envelope synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("piper: decode response: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(envelope.Audio)
	if err != nil {
		return nil, fmt.Errorf("piper: decode audio payload: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("piper: service returned empty audio")
	}

	return &synth.Result{
		Audio:          audio,
		Format:         envelope.Format,
		SampleRate:     envelope.SampleRate,
		Duration:       secondsToDuration(envelope.Duration),
		ProcessingTime: secondsToDuration(envelope.ProcessingTime),
	}, nil
}

// ListVoices returns the service's voice catalogue.
func (b *Backend) ListVoices(ctx context.Context) ([]synth.Voice, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		b.baseURL+voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("piper: build request: %w", err)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("piper: voices request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("piper: voices: %w", httpError(resp))
	}

	var envelope voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("piper: decode voices response: %w", err)
	}

	voices := make([]synth.Voice, 0, len(envelope.Voices))
	for _, v := range envelope.Voices {
		voices = append(voices, synth.Voice{
			ID:       v.ID,
			Name:     v.Name,
			Language: v.Language,
			Gender:   v.Gender,
		})
	}
	return voices, nil
}

// Healthy probes GET /api/tts/health. It returns nil only when the service
// answers 200 and reports its model as loaded.
func (b *Backend) Healthy(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		b.baseURL+healthEndpoint, nil)
	if err != nil {
		return fmt.Errorf("piper: build request: %w", err)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("piper: health request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("piper: health: %w", httpError(resp))
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("piper: decode health response: %w", err)
	}
	if !health.ModelLoaded {
		return ErrModelNotLoaded
	}
	return nil
}

// ---- helpers ----

// httpError extracts the FastAPI-style {"detail": ...} message from an error
// response, falling back to the raw body.
func httpError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var envelope errorResponse
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Detail != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, envelope.Detail)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
}

// optional maps a zero float to nil so the field is omitted and the service
// applies its own default.
func optional(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
