// Package server exposes narration synthesis over HTTP.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrator/internal/synth"
	"github.com/dgnsrekt/narrator/internal/synth/engines"
)

const maxRequestBytes = 64 << 10

// Synthesizer is the part of synth.Service the server needs.
type Synthesizer interface {
	Open(ctx context.Context, req synth.Request) (*synth.Stream, error)
	ProviderName() string
}

// Server serves POST /api/tts and GET /healthz.
type Server struct {
	svc        Synthesizer
	httpServer *http.Server
	startTime  time.Time
	logger     *log.Logger
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
	Uptime   string `json:"uptime"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New creates a server listening on addr.
func New(addr string, svc Synthesizer) *Server {
	s := &Server{
		svc:       svc,
		startTime: time.Now(),
		logger:    log.WithPrefix("server"),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tts", s.ttsHandler)
	mux.HandleFunc("/healthz", s.healthHandler)
	return mux
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr, "provider", s.svc.ProviderName())
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) ttsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req synth.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	stream, err := s.svc.Open(r.Context(), req)
	switch {
	case errors.Is(err, synth.ErrEmptyText):
		writeError(w, http.StatusBadRequest, "text is required")
		return
	case err != nil:
		s.fail(w, err)
		return
	}
	defer stream.Close() //nolint:errcheck

	// headers can't change once audio is flowing, so make sure there is some
	body := bufio.NewReader(stream)
	if _, err := body.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			err = &synth.SynthesisError{Provider: s.svc.ProviderName(), Err: synth.ErrEmptyAudio}
		}
		s.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(engines.HeaderAudioSource, string(stream.Source))
	w.Header().Set(engines.HeaderVoiceID, stream.VoiceID)
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, body)
	if err != nil {
		s.logger.Warn("streaming audio failed", "key", stream.Key, "bytes", n, "error", err)
		return
	}
	s.logger.Debug("served audio", "key", stream.Key, "source", stream.Source, "bytes", n)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	var serr *synth.SynthesisError
	if errors.As(err, &serr) {
		s.logger.Warn("synthesis failed", "provider", serr.Provider, "error", serr.Err)
		writeError(w, http.StatusBadGateway, serr.Error())
		return
	}
	s.logger.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Provider: s.svc.ProviderName(),
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
