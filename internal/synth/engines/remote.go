package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dgnsrekt/narrator/internal/audiocache"
	"github.com/dgnsrekt/narrator/internal/synth"
)

// Response headers of the synthesis endpoint.
const (
	HeaderAudioSource = "X-Audio-Source"
	HeaderVoiceID     = "X-Voice-ID"
)

// Remote talks to another narrator server's POST /api/tts endpoint. It can
// be used as a plain provider or, through GetOrSynthesize, as a complete
// audio source whose caching happens on the server.
type Remote struct {
	baseURL string
	client  *http.Client
}

// NewRemote returns a client for the server at baseURL.
func NewRemote(baseURL string, client *http.Client) *Remote {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Remote{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Name implements synth.Provider.
func (r *Remote) Name() string { return "remote" }

// Stream implements synth.Provider.
func (r *Remote) Stream(ctx context.Context, text, voiceID string, _ synth.VoiceSettings) (io.ReadCloser, error) {
	resp, err := r.post(ctx, synth.Request{Text: text, VoiceID: voiceID})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GetOrSynthesize asks the server for the audio of req, reporting whether
// the server had it cached.
func (r *Remote) GetOrSynthesize(ctx context.Context, req synth.Request) (*synth.Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, synth.ErrEmptyText
	}

	resp, err := r.post(ctx, req)
	if err != nil {
		return nil, &synth.SynthesisError{Provider: r.Name(), Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &synth.SynthesisError{Provider: r.Name(), Err: err}
	}
	if len(audio) == 0 {
		return nil, &synth.SynthesisError{Provider: r.Name(), Err: synth.ErrEmptyAudio}
	}

	voiceID := resp.Header.Get(HeaderVoiceID)
	source := synth.Source(resp.Header.Get(HeaderAudioSource))
	if source != synth.SourceCache {
		source = synth.SourceSynthesized
	}
	return &synth.Result{
		Audio:   audio,
		Format:  audiocache.FormatMP3,
		Key:     audiocache.Key(req.Text, voiceID),
		VoiceID: voiceID,
		Source:  source,
	}, nil
}

type remoteError struct {
	Error string `json:"error"`
}

func (r *Remote) post(ctx context.Context, body synth.Request) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/tts", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	defer resp.Body.Close() //nolint:errcheck
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e remoteError
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	if resp.StatusCode == http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %s", errBadRequest, msg)
	}
	return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, msg)
}

var errBadRequest = errors.New("rejected by server")
