package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Probe checks whether one pipeline collaborator is usable, typically by
// verifying its credentials or reachability.
type Probe func(ctx context.Context) error

// WithCollaboratorProbe registers a health probe under a collaborator name
// ("stt", "llm", "tts") for the status endpoint.
func WithCollaboratorProbe(name string, probe Probe) Option {
	return func(g *Gateway) {
		g.probes[name] = probe
	}
}

type collaboratorStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status         string                        `json:"status"`
	Collaborators  map[string]collaboratorStatus `json:"collaborators"`
	ActiveSessions int                           `json:"active_sessions"`
	TurnsInUse     *int                          `json:"turns_in_use,omitempty"`
	TurnCapacity   *int                          `json:"turn_capacity,omitempty"`
}

// handleStatus rolls the collaborator probes up into one health verdict. A
// failing language model makes the service unhealthy; anything else failing
// only degrades it.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := statusResponse{
		Status:         "healthy",
		Collaborators:  map[string]collaboratorStatus{},
		ActiveSessions: g.manager.Count(),
	}

	for name, probe := range g.probes {
		if err := probe(ctx); err != nil {
			response.Collaborators[name] = collaboratorStatus{Healthy: false, Error: err.Error()}
			if name == "llm" {
				response.Status = "unhealthy"
			} else if response.Status == "healthy" {
				response.Status = "degraded"
			}
			continue
		}
		response.Collaborators[name] = collaboratorStatus{Healthy: true}
	}

	if g.limiter != nil {
		inUse := g.limiter.InUse()
		capacity := g.limiter.Capacity()
		response.TurnsInUse = &inUse
		response.TurnCapacity = &capacity
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(response)
}
