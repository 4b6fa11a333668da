// Package server provides the host's admin HTTP surface: health, metrics,
// and inspection endpoints, plus graceful shutdown plumbing.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/vnaveen0/glow/internal/runtime"
	"github.com/vnaveen0/glow/internal/runtime/hostmanager"
)

// HealthStatus is the health state of the host.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status    HealthStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Networks  int          `json:"networks"`
	Devices   int          `json:"devices"`
}

// deviceStatus is one row of /devices.
type deviceStatus struct {
	ID              runtime.DeviceID `json:"id"`
	Backend         string           `json:"backend"`
	MaximumMemory   int64            `json:"maximum_memory"`
	AvailableMemory int64            `json:"available_memory"`
}

// AdminServer exposes a running host manager over HTTP.
type AdminServer struct {
	host *hostmanager.HostManager

	mu    sync.RWMutex
	ready bool
	srv   *http.Server
}

// NewAdminServer wraps a host manager.
func NewAdminServer(host *hostmanager.HostManager) *AdminServer {
	return &AdminServer{host: host}
}

// SetReady flips the /ready endpoint once networks are admitted.
func (s *AdminServer) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

// Handler returns the admin mux.
func (s *AdminServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/networks", s.handleNetworks)
	mux.HandleFunc("/devices", s.handleDevices)
	mux.Handle("/metrics", s.host.Metrics().Handler())
	return mux
}

// Start listens on addr until Stop.
func (s *AdminServer) Start(addr string) error {
	s.mu.Lock()
	s.srv = &http.Server{Addr: addr, Handler: s.Handler()}
	srv := s.srv
	s.mu.Unlock()
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the listener down gracefully.
func (s *AdminServer) Stop(ctx context.Context) error {
	s.mu.RLock()
	srv := s.srv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Networks:  len(s.host.Networks()),
		Devices:   len(s.host.Devices()),
	}
	if resp.Devices == 0 {
		resp.Status = HealthStatusUnhealthy
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, resp)
}

func (s *AdminServer) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, map[string]bool{"ready": true})
}

func (s *AdminServer) handleNetworks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"networks": s.host.Networks()})
}

func (s *AdminServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	devs := s.host.Devices()
	rows := make([]deviceStatus, 0, len(devs))
	for id, dm := range devs {
		rows = append(rows, deviceStatus{
			ID:              id,
			Backend:         dm.BackendName(),
			MaximumMemory:   dm.MaximumMemory(),
			AvailableMemory: dm.AvailableMemory(),
		})
	}
	for i := 0; i < len(rows); i++ {
		for j := i + 1; j < len(rows); j++ {
			if rows[j].ID < rows[i].ID {
				rows[i], rows[j] = rows[j], rows[i]
			}
		}
	}
	writeJSON(w, map[string]any{"devices": rows})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
