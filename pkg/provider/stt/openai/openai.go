// Package openai provides a batch STT transcriber backed by the OpenAI audio
// transcription API.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/ambient/pkg/audio"
	"github.com/MrWong99/ambient/pkg/provider/stt"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

var (
	_ stt.Transcriber = (*Transcriber)(nil)
	_ stt.Pinger      = (*Transcriber)(nil)
)

// Transcriber implements stt.Transcriber using the OpenAI API. Requests run
// concurrently; the priority hint is not used.
type Transcriber struct {
	client   oai.Client
	model    string
	language string
	prompt   string
}

// config holds optional configuration for the transcriber.
type config struct {
	baseURL      string
	organization string
	language     string
	prompt       string
	timeout      time.Duration
	maxRetries   int
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithLanguage sets the default ISO-639-1 language for requests that do not
// carry one.
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithPrompt sets a vocabulary prompt sent with every request, typically the
// wake, end and cancel phrases.
func WithPrompt(prompt string) Option {
	return func(c *config) {
		c.prompt = prompt
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often a failed request is retried. Negative values
// keep the client default.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs a new OpenAI Transcriber.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Transcriber{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
		prompt:   cfg.prompt,
	}, nil
}

// Transcribe uploads the request audio as a WAV file and returns its text.
func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	pcm, f, err := req.PCM()
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai stt: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = t.language
	}
	// The API expects ISO-639-1 ("en"), not a full BCP-47 tag ("en-US").
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(audio.EncodeWAV(pcm, f)), "audio.wav", "audio/wav"),
		Model:          t.model,
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if lang != "" {
		params.Language = param.NewOpt(lang)
	}
	if t.prompt != "" {
		params.Prompt = param.NewOpt(t.prompt)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return stt.Result{Text: strings.TrimSpace(resp.Text), Language: lang}, nil
}

// Ping verifies the API key and model by retrieving the model metadata.
func (t *Transcriber) Ping(ctx context.Context) error {
	if _, err := t.client.Models.Get(ctx, t.model); err != nil {
		return fmt.Errorf("openai stt: ping: %w", err)
	}
	return nil
}

// ModelID returns the configured model identifier.
func (t *Transcriber) ModelID() string {
	return t.model
}
