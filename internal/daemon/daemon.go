// Package daemon exposes the engine to the browser extension over a
// loopback JSON API.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/runnerr0/refyn/internal/config"
	"github.com/runnerr0/refyn/internal/elicit"
	"github.com/runnerr0/refyn/internal/engine"
	"github.com/runnerr0/refyn/internal/prefs"
	"github.com/runnerr0/refyn/internal/vision"
)

const defaultSuggestions = 8

// Server routes HTTP requests to an engine.
type Server struct {
	eng     *engine.Engine
	cfg     config.DaemonConfig
	version string
	log     *zap.Logger
}

// New creates a server for eng.
func New(eng *engine.Engine, cfg config.DaemonConfig, version string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{eng: eng, cfg: cfg, version: version, log: log}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Handler returns the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", s.handleStatus)

	mux.Handle("POST /v1/outputs", s.guard(s.handleOutputAppeared))
	mux.Handle("POST /v1/outputs/removed", s.guard(s.handleOutputRemoved))
	mux.Handle("POST /v1/elements", s.guard(s.handleElement))
	mux.Handle("POST /v1/inputs", s.guard(s.handleInput))
	mux.Handle("POST /v1/clicks", s.guard(s.handleClick))

	mux.Handle("GET /v1/popup", s.guard(s.handleActivePopup))
	mux.Handle("POST /v1/popup/{id}/reason", s.guard(s.handleReason))
	mux.Handle("POST /v1/popup/{id}/intensity", s.guard(s.handleIntensity))
	mux.Handle("POST /v1/popup/{id}/skip", s.guard(s.handleSkip))
	mux.Handle("POST /v1/popup/{id}/cancel", s.guard(s.handleCancel))
	mux.Handle("POST /v1/quick-rate", s.guard(s.handleQuickRate))

	mux.Handle("POST /v1/vision", s.guard(s.handleVision))
	mux.Handle("GET /v1/suggestions", s.guard(s.handleSuggestions))

	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("daemon listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		<-errCh
		return nil
	}
}

// guard applies the bearer token check and the request size cap.
func (s *Server) guard(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != s.cfg.AuthToken {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		if s.cfg.MaxRequestSize > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestSize)
		}
		h(w, r)
	})
}

// --- Request bodies ---

type elementRequest struct {
	PlatformID string `json:"platform_id"`
	Host       string `json:"host"`
	Ref        string `json:"ref"`
	HTML       string `json:"html"`
}

type inputRequest struct {
	Text string `json:"text"`
}

type reasonRequest struct {
	Code   string `json:"code"`
	Custom string `json:"custom"`
}

type intensityRequest struct {
	Intensity int `json:"intensity"`
}

type quickRateRequest struct {
	OutputID string `json:"output_id"`
}

type visionRequest struct {
	OutputID   string              `json:"output_id"`
	Liked      bool                `json:"liked"`
	Categories map[string][]string `json:"categories"`
	Confidence float64             `json:"confidence"`
}

// --- Handlers ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"engine":  s.eng.Status(),
	})
}

func (s *Server) handleOutputAppeared(w http.ResponseWriter, r *http.Request) {
	var req elementRequest
	platformID, ok := s.decodeElement(w, r, &req)
	if !ok {
		return
	}
	ids, err := s.eng.OutputAppeared(platformID, req.Ref, req.HTML)
	if err != nil {
		s.fail(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"outputs": ids})
}

func (s *Server) handleOutputRemoved(w http.ResponseWriter, r *http.Request) {
	var req elementRequest
	platformID, ok := s.decodeElement(w, r, &req)
	if !ok {
		return
	}
	events, err := s.eng.OutputRemoved(platformID, req.Ref, req.HTML)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"inferred": len(events)})
}

func (s *Server) handleElement(w http.ResponseWriter, r *http.Request) {
	var req elementRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Ref == "" {
		writeError(w, http.StatusBadRequest, "ref is required")
		return
	}
	if err := s.eng.UpdateElement(req.Ref, req.HTML); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.eng.ObserveInput(req.Text); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var req elementRequest
	platformID, ok := s.decodeElement(w, r, &req)
	if !ok {
		return
	}
	res, err := s.eng.Click(platformID, req.Ref, req.HTML)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleActivePopup(w http.ResponseWriter, r *http.Request) {
	view := s.eng.ActivePopup()
	if view == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleReason(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decode(w, r, &req) {
		return
	}
	s.popupResult(w, s.eng.SelectReason(r.PathValue("id"), req.Code, req.Custom))
}

func (s *Server) handleIntensity(w http.ResponseWriter, r *http.Request) {
	var req intensityRequest
	if !decode(w, r, &req) {
		return
	}
	s.popupResult(w, s.eng.SelectIntensity(r.PathValue("id"), req.Intensity))
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	s.popupResult(w, s.eng.Skip(r.PathValue("id")))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.popupResult(w, s.eng.Cancel(r.PathValue("id")))
}

// popupResult answers with the popup state after an interaction: the live
// view, or 204 once the session has ended.
func (s *Server) popupResult(w http.ResponseWriter, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	s.handleActivePopup(w, nil)
}

func (s *Server) handleQuickRate(w http.ResponseWriter, r *http.Request) {
	var req quickRateRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.eng.RequestQuickRate(req.OutputID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) handleVision(w http.ResponseWriter, r *http.Request) {
	var req visionRequest
	if !decode(w, r, &req) {
		return
	}
	deltas, err := s.eng.ApplyVision(req.OutputID, req.Liked, vision.Descriptors{
		Categories: req.Categories,
		Confidence: req.Confidence,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"applied": deltas.Len()})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	platformID, err := s.eng.ResolvePlatform(q.Get("platform"), q.Get("host"))
	if err != nil {
		s.fail(w, err)
		return
	}

	k := defaultSuggestions
	if v := q.Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "k must be a non-negative integer")
			return
		}
		k = n
	}

	sugg, err := s.eng.Suggestions(prefs.Query{PlatformID: platformID, K: k, Prompt: q.Get("prompt")})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sugg)
}

// --- Helpers ---

func (s *Server) decodeElement(w http.ResponseWriter, r *http.Request, req *elementRequest) (string, bool) {
	if !decode(w, r, req) {
		return "", false
	}
	if req.Ref == "" {
		writeError(w, http.StatusBadRequest, "ref is required")
		return "", false
	}
	platformID, err := s.eng.ResolvePlatform(req.PlatformID, req.Host)
	if err != nil {
		s.fail(w, err)
		return "", false
	}
	return platformID, true
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}

// fail maps engine errors to status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrUnknownPlatform),
		errors.Is(err, elicit.ErrUnknownReason),
		errors.Is(err, elicit.ErrInvalidIntensity):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrUnknownElement),
		errors.Is(err, engine.ErrUnknownOutput),
		errors.Is(err, elicit.ErrNoSession):
		status = http.StatusNotFound
	case errors.Is(err, elicit.ErrSubmitted),
		errors.Is(err, elicit.ErrDisabled):
		status = http.StatusConflict
	case strings.Contains(err.Error(), "parse markup"),
		strings.Contains(err.Error(), "empty element ref"):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	} else {
		s.log.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
