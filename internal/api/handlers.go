// Package api is the kiosk's local admin surface (spec_full.md section
// 3): a health probe for phase/camera state plus the last few events,
// a metrics endpoint, a manual trigger, and a preview toggle. The health
// probe does not report bridge state, and there is no endpoint for a
// simulated near/far proximity event. Routed with chi the way the teacher's internal/hlsd and
// internal/api packages do, scaled down from a multi-tenant REST API
// to a handful of operator endpoints.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/biokiosk/supervisor/internal/events"
	"github.com/biokiosk/supervisor/internal/orchestrator"
	"github.com/biokiosk/supervisor/internal/phase"
)

type Server struct {
	controller *orchestrator.Orchestrator
	bus        *events.Bus
}

func NewServer(controller *orchestrator.Orchestrator, bus *events.Bus) *Server {
	return &Server{controller: controller, bus: bus}
}

// Router builds the chi mux: liveness/health, metrics, and the two
// operator actions.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/admin/trigger", s.handleTrigger)
	r.Post("/admin/preview", s.handlePreviewToggle)

	return r
}

type healthResponse struct {
	Phase         phase.Phase  `json:"phase"`
	SessionID     string       `json:"session_id,omitempty"`
	PlatformID    string       `json:"platform_id,omitempty"`
	CameraRunning bool         `json:"camera_running"`
	RecentEvents  []phase.Event `json:"recent_events"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.controller.Status()

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)
	recent := drainNonBlocking(sub.Events)

	writeJSON(w, http.StatusOK, healthResponse{
		Phase:         st.Phase,
		SessionID:     st.SessionID,
		PlatformID:    st.PlatformID,
		CameraRunning: st.CameraRunning,
		RecentEvents:  recent,
	})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	s.controller.PostAdminTrigger()
	w.WriteHeader(http.StatusAccepted)
}

type previewRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handlePreviewToggle(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.controller.PostPreviewToggle(req.Enabled)
	w.WriteHeader(http.StatusNoContent)
}

// drainNonBlocking reads whatever is immediately available on ch
// (the bus's replay buffer on Subscribe) without waiting for more.
func drainNonBlocking(ch <-chan phase.Event) []phase.Event {
	var out []phase.Event
	deadline := time.After(10 * time.Millisecond)
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		case <-deadline:
			return out
		default:
			if len(out) > 0 {
				return out
			}
			select {
			case e := <-ch:
				out = append(out, e)
			case <-deadline:
				return out
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
