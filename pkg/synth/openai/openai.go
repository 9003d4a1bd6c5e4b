// Package openai provides a synthesis backend backed by the OpenAI speech
// endpoint. It implements the synth.Backend interface.
//
// The endpoint returns complete audio per request, which matches the
// pipeline's one-sentence-per-call dispatch model. Responses are requested as
// WAV so the playback path can decode them like any other backend's output.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voxpipe/voxpipe/pkg/synth"
)

// Compile-time interface assertion.
var _ synth.Backend = (*Backend)(nil)

const defaultModel = oai.SpeechModelGPT4oMiniTTS

// defaultVoice is used when a request does not name a voice.
const defaultVoice = "alloy"

// voices is the speech endpoint's fixed catalogue. The API offers no listing
// call, so ListVoices serves this table.
var voices = []synth.Voice{
	{ID: "alloy", Name: "Alloy", Language: "en", Gender: "neutral"},
	{ID: "echo", Name: "Echo", Language: "en", Gender: "male"},
	{ID: "fable", Name: "Fable", Language: "en", Gender: "neutral"},
	{ID: "onyx", Name: "Onyx", Language: "en", Gender: "male"},
	{ID: "nova", Name: "Nova", Language: "en", Gender: "female"},
	{ID: "shimmer", Name: "Shimmer", Language: "en", Gender: "female"},
}

// config holds optional configuration for the backend.
type config struct {
	baseURL string
	model   oai.SpeechModel
	timeout time.Duration
}

// Option is a functional option for [Backend].
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// compatible gateways.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel sets the speech model (e.g. "tts-1", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = oai.SpeechModel(model)
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Backend implements synth.Backend using the OpenAI speech endpoint.
type Backend struct {
	client oai.Client
	model  oai.SpeechModel
}

// New constructs an OpenAI speech [Backend]. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Backend, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Backend{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Synthesize implements synth.Backend. The prosody controls beyond Speed
// have no OpenAI equivalent and are ignored.
func (b *Backend) Synthesize(ctx context.Context, req synth.Request) (*synth.Result, error) {
	text, err := synth.NormalizeText(req.Text)
	if err != nil {
		return nil, err
	}
	params := req.Params.Clamped()

	voice := params.Voice
	if voice == "" {
		voice = defaultVoice
	}

	speechParams := oai.AudioSpeechNewParams{
		Model:          b.model,
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatWAV,
	}
	if params.Speed != 0 {
		speechParams.Speed = oai.Float(params.Speed)
	}

	start := time.Now()
	resp, err := b.client.Audio.Speech.New(ctx, speechParams)
	if err != nil {
		return nil, fmt.Errorf("openai: speech request failed: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read speech response: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("openai: speech endpoint returned empty audio")
	}

	// Duration and sample rate come out of the WAV header during decode.
	return &synth.Result{
		Audio:          audio,
		Format:         synth.FormatWAV,
		ProcessingTime: time.Since(start),
	}, nil
}

// ListVoices implements synth.Backend with the endpoint's fixed catalogue.
func (b *Backend) ListVoices(ctx context.Context) ([]synth.Voice, error) {
	out := make([]synth.Voice, len(voices))
	copy(out, voices)
	return out, nil
}
