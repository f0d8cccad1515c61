package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dgnsrekt/narrator/internal/synth"
)

// ElevenLabs defaults.
const (
	ElevenLabsBaseURL      = "https://api.elevenlabs.io"
	ElevenLabsDefaultModel = "eleven_multilingual_v2"
	ElevenLabsOutputFormat = "mp3_44100_128"
)

// ElevenLabsConfig configures the ElevenLabs provider.
type ElevenLabsConfig struct {
	APIKey       string
	BaseURL      string
	ModelID      string
	OutputFormat string

	// RequestsPerSecond throttles outgoing requests. Zero disables the
	// limiter.
	RequestsPerSecond float64
}

// ElevenLabs streams speech from the ElevenLabs text-to-speech API.
type ElevenLabs struct {
	cfg     ElevenLabsConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewElevenLabs returns an ElevenLabs provider. The client may be nil.
func NewElevenLabs(cfg ElevenLabsConfig, client *http.Client) (*ElevenLabs, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("elevenlabs: api key is not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = ElevenLabsBaseURL
	}
	if cfg.ModelID == "" {
		cfg.ModelID = ElevenLabsDefaultModel
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = ElevenLabsOutputFormat
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if client == nil {
		// no overall timeout: the body is streamed, callers bound it with ctx
		client = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 30 * time.Second,
		}}
	}

	e := &ElevenLabs{cfg: cfg, client: client}
	if cfg.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return e, nil
}

// Name implements synth.Provider.
func (e *ElevenLabs) Name() string { return "elevenlabs" }

type elevenLabsRequest struct {
	Text          string              `json:"text"`
	ModelID       string              `json:"model_id"`
	VoiceSettings synth.VoiceSettings `json:"voice_settings"`
}

// Stream implements synth.Provider.
func (e *ElevenLabs) Stream(ctx context.Context, text, voiceID string, settings synth.VoiceSettings) (io.ReadCloser, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(elevenLabsRequest{
		Text:          text,
		ModelID:       e.cfg.ModelID,
		VoiceSettings: settings,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?output_format=%s",
		e.cfg.BaseURL, url.PathEscape(voiceID), url.QueryEscape(e.cfg.OutputFormat))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, elevenLabsMessage(raw))
	}
	return resp.Body, nil
}

// elevenLabsMessage extracts the human readable part of an API error body.
// The API answers with {"detail": {"message": ...}} or {"detail": "..."}.
func elevenLabsMessage(raw []byte) string {
	var withObject struct {
		Detail struct {
			Message string `json:"message"`
		} `json:"detail"`
	}
	if json.Unmarshal(raw, &withObject) == nil && withObject.Detail.Message != "" {
		return withObject.Detail.Message
	}
	var withString struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &withString) == nil && withString.Detail != "" {
		return withString.Detail
	}
	return strings.TrimSpace(string(raw))
}
