package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/time/rate"

	"github.com/hannes/docguard/config"
	"github.com/hannes/docguard/pii"
)

// authWindow is how far an agent's signed timestamp may drift.
const authWindow = 5 * time.Minute

// defaultDetectionsLimit caps the dashboard feed response.
const defaultDetectionsLimit = 50

// Server represents the HTTP server
type Server struct {
	config     *config.Config
	pipeline   *pii.Pipeline
	db         pii.DetectionLogDB
	httpServer *http.Server

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer creates a new server instance. The database may be nil when
// persistence is disabled.
func NewServer(cfg *config.Config, pipeline *pii.Pipeline, db pii.DetectionLogDB) *Server {
	return &Server{
		config:   cfg,
		pipeline: pipeline,
		db:       db,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Starting detection service on %s", s.config.Server.ListenAddr)

	if s.config.Database.Enabled {
		log.Println("Database storage enabled")
	} else {
		log.Println("Using in-memory storage")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthCheck)
	mux.HandleFunc("/api/event", s.handleEvent)
	mux.HandleFunc("/api/file_collect", s.handleFileCollect)
	mux.HandleFunc("/api/combined", s.handleCombined)
	mux.HandleFunc("/api/detections", s.handleDetections)

	s.httpServer = &http.Server{
		Addr:         s.config.Server.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthCheck provides a simple health check endpoint
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.corsHandler(w, r)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"healthy","service":"DocGuard Detection Service"}`)); err != nil {
		log.Printf("Failed to write health check response: %v", err)
	}
}

// corsHandler adds CORS headers to the response
func (s *Server) corsHandler(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Credentials", "false")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Auth-Token, X-Timestamp")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// preparePost applies CORS, method, rate-limit, size-limit and auth
// checks shared by the collect endpoints, returning the request body.
func (s *Server) preparePost(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method == http.MethodOptions {
		s.corsHandler(w, r)
		w.WriteHeader(http.StatusOK)
		return nil, false
	}
	s.corsHandler(w, r)

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}

	if !s.allowClient(r) {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return nil, false
	}

	hard := s.config.Server.HardLimitBytes
	if hard > 0 && r.ContentLength > hard {
		http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	reader := io.Reader(r.Body)
	if hard > 0 {
		reader = http.MaxBytesReader(w, r.Body, hard)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
		return nil, false
	}

	if soft := s.config.Server.SoftLimitBytes; soft > 0 && int64(len(body)) > soft {
		log.Printf("Server: payload of %d bytes from %s exceeds soft limit", len(body), clientIP(r))
	}

	if !s.authenticate(r, body) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	return body, true
}

// authenticate verifies the agent's HMAC signature over timestamp+body.
func (s *Server) authenticate(r *http.Request, body []byte) bool {
	if !s.config.Auth.Required {
		return true
	}

	token := r.Header.Get("X-Auth-Token")
	timestamp := r.Header.Get("X-Timestamp")
	if token == "" || timestamp == "" {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	drift := time.Since(time.Unix(ts, 0))
	if drift < -authWindow || drift > authWindow {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.config.Auth.Secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(token))
}

// allowClient enforces the per-client token bucket.
func (s *Server) allowClient(r *http.Request) bool {
	if s.config.Server.RateLimitRPS <= 0 {
		return true
	}

	ip := clientIP(r)
	s.mu.Lock()
	limiter, ok := s.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.config.Server.RateLimitRPS), s.config.Server.RateLimitBurst)
		s.limiters[ip] = limiter
	}
	s.mu.Unlock()

	return limiter.Allow()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type eventRequest struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

type fileRequest struct {
	Source   string `json:"source"`
	Filename string `json:"filename"`
	Data     string `json:"data"` // base64
}

type combinedRequest struct {
	Source string `json:"source"`
	Text   string `json:"text"`
	Files  []struct {
		Filename string `json:"filename"`
		Data     string `json:"data"`
	} `json:"files"`
}

// handleEvent processes a text event from an endpoint agent.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, ok := s.preparePost(w, r)
	if !ok {
		return
	}

	var req eventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.pipeline.ProcessText(r.Context(), req.Source, req.Text)
	if err != nil {
		s.internalError(w, fmt.Errorf("failed to process text event: %w", err))
		return
	}

	s.logResult(req.Source, "", result)
	s.writeJSON(w, result)
}

// handleFileCollect processes one collected file.
func (s *Server) handleFileCollect(w http.ResponseWriter, r *http.Request) {
	body, ok := s.preparePost(w, r)
	if !ok {
		return
	}

	var req fileRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Filename == "" {
		http.Error(w, "filename is required", http.StatusBadRequest)
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		http.Error(w, "data must be base64 encoded", http.StatusBadRequest)
		return
	}

	result, err := s.pipeline.ProcessFile(r.Context(), req.Source, req.Filename, data)
	if err != nil {
		s.internalError(w, fmt.Errorf("failed to process file %s: %w", req.Filename, err))
		return
	}

	s.logResult(req.Source, req.Filename, result)
	s.writeJSON(w, result)
}

// handleCombined processes a text event plus attached files in one call.
func (s *Server) handleCombined(w http.ResponseWriter, r *http.Request) {
	body, ok := s.preparePost(w, r)
	if !ok {
		return
	}

	var req combinedRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	results := make([]pii.Result, 0, len(req.Files)+1)

	if req.Text != "" {
		result, err := s.pipeline.ProcessText(r.Context(), req.Source, req.Text)
		if err != nil {
			s.internalError(w, fmt.Errorf("failed to process text event: %w", err))
			return
		}
		s.logResult(req.Source, "", result)
		results = append(results, result)
	}

	for _, f := range req.Files {
		data, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			http.Error(w, fmt.Sprintf("file %s: data must be base64 encoded", f.Filename), http.StatusBadRequest)
			return
		}
		result, err := s.pipeline.ProcessFile(r.Context(), req.Source, f.Filename, data)
		if err != nil {
			s.internalError(w, fmt.Errorf("failed to process file %s: %w", f.Filename, err))
			return
		}
		s.logResult(req.Source, f.Filename, result)
		results = append(results, result)
	}

	s.writeJSON(w, map[string]interface{}{"results": results})
}

// handleDetections serves the dashboard feed: recent records, newest
// first, excluding terminal-only entries.
func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		s.corsHandler(w, r)
		w.WriteHeader(http.StatusOK)
		return
	}
	s.corsHandler(w, r)

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultDetectionsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries := s.pipeline.History().Recent(limit)
	if s.db != nil {
		// The persistent log survives restarts; prefer it when present.
		if stored, err := s.db.RecentEntries(r.Context(), limit); err == nil {
			entries = stored
		} else {
			log.Printf("Server: falling back to in-memory history: %v", err)
		}
	}
	visible := make([]pii.HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Visibility == pii.VisibilityTerminal {
			continue
		}
		visible = append(visible, entry)
	}

	s.writeJSON(w, map[string]interface{}{
		"detections": visible,
		"count":      len(visible),
	})
}

func (s *Server) logResult(source, filename string, result pii.Result) {
	if !s.config.Logging.LogDetections {
		return
	}

	target := filename
	if target == "" {
		target = "text event"
	}
	if result.Risk != nil {
		log.Printf("Server: %s from %s: %d items, risk %s", target, source, len(result.Items), result.Risk.Level)
	} else {
		log.Printf("Server: %s from %s: %d items", target, source, len(result.Items))
	}
	if s.config.Logging.LogVerbose {
		for _, item := range result.Items {
			log.Printf("Server:   %s (%s)", pii.DisplayLabel(item.Type), item.Status)
		}
	}
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	log.Printf("Server: %v", err)
	sentry.CaptureException(err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Server: failed to encode response: %v", err)
	}
}
