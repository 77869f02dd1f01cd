// Copyright 2025 The Slipway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Server handles GitHub webhook requests.
type Server struct {
	addr          string
	webhookSecret string
	dispatcher    *Dispatcher
	rateLimiter   *RateLimiter
	server        *http.Server
	log           *zap.Logger
}

// RateLimiter provides per-repository rate limiting.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*bucket
	limit    int
	window   time.Duration
}

type bucket struct {
	tokens    int
	lastReset time.Time
}

// NewServer creates a webhook server bound to addr.
func NewServer(addr, webhookSecret string, dispatcher *Dispatcher, log *zap.Logger) *Server {
	return &Server{
		addr:          addr,
		webhookSecret: webhookSecret,
		dispatcher:    dispatcher,
		rateLimiter:   NewRateLimiter(10, time.Second), // 10 requests per second per repo
		log:           log,
	}
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*bucket),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request from the given repository should be allowed.
func (rl *RateLimiter) Allow(repo string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.limiters[repo]
	if !exists {
		b = &bucket{
			tokens:    rl.limit,
			lastReset: time.Now(),
		}
		rl.limiters[repo] = b
	}

	if time.Since(b.lastReset) >= rl.window {
		b.tokens = rl.limit
		b.lastReset = time.Now()
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}

	return false
}

// Start serves until the context is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/healthz", s.handleHealth)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.log.Info("starting webhook server", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.log.Info("shutting down webhook server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleWebhook authenticates and routes one delivery. Each request is
// processed on its own goroutine by net/http; no state is shared between
// deliveries outside the registry.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.log.Error("failed to read request body", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, "failed to read body")
		return
	}
	defer r.Body.Close()

	// Authenticity first: nothing below runs on an unverified payload.
	signature := r.Header.Get("X-Hub-Signature-256")
	if !ValidateSignature(body, signature, s.webhookSecret) {
		s.log.Info("invalid webhook signature")
		writeJSON(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	if eventType := r.Header.Get("X-GitHub-Event"); eventType != "" && eventType != "pull_request" {
		s.log.Debug("ignoring non-PR event", zap.String("event", eventType))
		writeJSON(w, http.StatusOK, "no action taken")
		return
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		s.log.Error("failed to parse JSON payload", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	deliveryID := r.Header.Get("X-GitHub-Delivery")
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}

	ev, ok := eventFromPayload(&p, deliveryID)
	if !ok {
		// Not every webhook carries a pull request; acknowledge and move on.
		writeJSON(w, http.StatusOK, "no action taken")
		return
	}

	if !s.rateLimiter.Allow(ev.RepoFullName) {
		s.log.Info("rate limit exceeded", zap.String("repository", ev.RepoFullName))
		writeJSON(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	status, message := s.dispatcher.Dispatch(r.Context(), ev)
	writeJSON(w, status, message)
}

func writeJSON(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
