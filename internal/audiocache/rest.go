package audiocache

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RESTStore talks to a remote audio cache service exposing
//
//	GET {base}/audio-cache/{key}  → 200 record | 404
//	PUT {base}/audio-cache/{key}  ← record
//
// where a record is {"voiceId", "audioData" (base64), "audioFormat"},
// optionally wrapped in {"data": record}.
type RESTStore struct {
	baseURL string
	token   string
	client  *http.Client
}

// RESTOption configures a RESTStore.
type RESTOption func(*RESTStore)

// WithToken sends a bearer token with every request.
func WithToken(token string) RESTOption {
	return func(s *RESTStore) { s.token = token }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) RESTOption {
	return func(s *RESTStore) { s.client = c }
}

// NewRESTStore returns a store backed by the service at baseURL.
func NewRESTStore(baseURL string, opts ...RESTOption) *RESTStore {
	s := &RESTStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type restRecord struct {
	TextHash    string `json:"textHash,omitempty"`
	VoiceID     string `json:"voiceId"`
	AudioData   string `json:"audioData"`
	AudioFormat string `json:"audioFormat"`
}

type restEnvelope struct {
	Data *restRecord `json:"data"`
}

// Lookup fetches a record; 404 is a miss.
func (s *RESTStore) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	req, err := s.newRequest(ctx, http.MethodGet, key, nil)
	if err != nil {
		return Entry{}, false, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Entry{}, false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return Entry{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Entry{}, false, fmt.Errorf("cache service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Entry{}, false, fmt.Errorf("read response: %w", err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return Entry{}, false, err
	}
	if rec == nil {
		return Entry{}, false, nil
	}

	audio, err := base64.StdEncoding.DecodeString(rec.AudioData)
	if err != nil {
		return Entry{}, false, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return Entry{
		Key:     key,
		VoiceID: rec.VoiceID,
		Audio:   audio,
		Format:  rec.AudioFormat,
	}, true, nil
}

// Upsert stores a record. The service treats PUT as insert-or-replace.
func (s *RESTStore) Upsert(ctx context.Context, e Entry) error {
	e = normalize(e)
	body, err := json.Marshal(restRecord{
		TextHash:    e.Key,
		VoiceID:     e.VoiceID,
		AudioData:   base64.StdEncoding.EncodeToString(e.Audio),
		AudioFormat: e.Format,
	})
	if err != nil {
		return err
	}

	req, err := s.newRequest(ctx, http.MethodPut, e.Key, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("cache service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func (s *RESTStore) newRequest(ctx context.Context, method, key string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+"/audio-cache/"+url.PathEscape(key), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	return req, nil
}

// decodeRecord accepts both the bare record and the {"data": record}
// envelope. A null or empty data field is a miss.
func decodeRecord(raw []byte) (*restRecord, error) {
	var env restEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Data != nil {
		return env.Data, nil
	}

	var rec restRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if rec.AudioData == "" {
		return nil, nil
	}
	return &rec, nil
}
