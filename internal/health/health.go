// Package health exposes the daemon's HTTP health endpoint. A probe is
// healthy when every registered backend answers a ping.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Pinger is anything whose liveness can be verified. Both the fact log and
// the stream router satisfy it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server provides the /healthz endpoint. It runs in a background goroutine
// and is shut down gracefully alongside the daemon.
type Server struct {
	server  *http.Server
	pingers map[string]Pinger
}

// Response is the JSON body of /healthz.
type Response struct {
	Status string            `json:"status"`
	Errors map[string]string `json:"errors,omitempty"`
}

// NewServer creates a health server listening on all interfaces at the given
// port. pingers maps a component name to its liveness check.
func NewServer(port int, pingers map[string]Pinger) *Server {
	mux := http.NewServeMux()
	s := &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		pingers: pingers,
	}
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s
}

// Start begins serving in a background goroutine and returns immediately.
// Server errors are logged, never fatal to the daemon.
func (s *Server) Start() {
	go func() {
		log.Printf("[DEBUG] Health server starting on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[ERROR] Health server error: %v", err)
		}
		log.Printf("[DEBUG] Health server stopped")
	}()
}

// Shutdown gracefully stops the server, waiting for in-flight requests up to
// the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("[DEBUG] Shutting down health server...")
	return s.server.Shutdown(ctx)
}

// handleHealthz answers 200 when every pinger responds, 503 otherwise with
// the failing components listed.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	failures := make(map[string]string)
	for name, p := range s.pingers {
		if err := p.Ping(ctx); err != nil {
			failures[name] = err.Error()
		}
	}

	response := Response{Status: "healthy"}
	statusCode := http.StatusOK
	if len(failures) > 0 {
		response = Response{Status: "unhealthy", Errors: failures}
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("[ERROR] Failed to encode health response: %v", err)
	}
}
