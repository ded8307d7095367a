package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agrosentry/internal/auth"
	"agrosentry/internal/domain"
	"agrosentry/internal/fleet"
	"agrosentry/internal/ingest"
	"agrosentry/internal/transport"
)

const maxSampleBytes = 1 << 20

type Server struct {
	engine  *fleet.Engine
	ingest  *ingest.Adapter
	auth    *auth.Authenticator
	history fleet.HistoryReader
}

// NewServer builds the HTTP API. history may be nil, in which case the
// history endpoints return empty lists.
func NewServer(engine *fleet.Engine, authenticator *auth.Authenticator, history fleet.HistoryReader) http.Handler {
	s := &Server{
		engine:  engine,
		ingest:  ingest.NewAdapter(engine),
		auth:    authenticator,
		history: history,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/auth/token", s.handleIssueToken)

	r.Group(func(r chi.Router) {
		r.Use(s.requireRole(domain.RoleDrone))
		r.Post("/telemetry", s.handleTelemetry)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireRole(domain.RoleOperator))
		r.Get("/stream", s.handleStream)
		r.Get("/commands/{id}", s.handleCommandStatus)
		r.Route("/drones", func(r chi.Router) {
			r.Get("/", s.handleListDrones)
			r.Get("/{id}", s.handleGetDrone)
			r.Post("/{id}/commands", s.handleIssueCommand)
			r.Get("/{id}/commands", s.handleCommandHistory)
			r.Get("/{id}/alerts", s.handleAlertHistory)
			r.Get("/{id}/mission", s.handleGetMission)
			r.Put("/{id}/mission", s.handleReplanMission)
			r.Post("/{id}/mission/{action}", s.handleMissionAction)
		})
	})

	return r
}

func (s *Server) requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := s.auth.Authenticate(r.Header.Get("Authorization"))
			if err != nil {
				writeError(w, err)
				return
			}
			if !auth.Allow(claims, roles...) {
				writeError(w, domain.ErrForbidden)
				return
			}
			ctx := auth.ContextWithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"drones": s.engine.Size(),
	})
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalid)
		return
	}
	token, exp, err := s.auth.IssueToken(req.Name, req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": exp,
	})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r)
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSampleBytes))
	if err != nil {
		writeError(w, fmt.Errorf("read body: %v: %w", err, domain.ErrInvalid))
		return
	}
	sample, err := ingest.Decode(r.Header.Get("Content-Type"), body)
	if err != nil {
		writeError(w, err)
		return
	}
	if !auth.CanReport(claims, sample.DroneID) {
		writeError(w, domain.ErrForbidden)
		return
	}
	event, err := s.ingest.SubmitSample(sample)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"drone_id":  event.DroneID,
		"timestamp": event.Timestamp,
	})
}

func (s *Server) handleListDrones(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, transport.FromDrones(s.engine.ListDrones()))
}

func (s *Server) handleGetDrone(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.QueryDrone(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transport.FromDrone(d))
}

func (s *Server) handleIssueCommand(w http.ResponseWriter, r *http.Request) {
	var req transport.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalid)
		return
	}
	params, err := req.Params()
	if err != nil {
		writeError(w, err)
		return
	}
	cmd, err := s.engine.IssueCommand(r.Context(), chi.URLParam(r, "id"), params)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, transport.FromCommand(cmd))
}

func (s *Server) handleCommandStatus(w http.ResponseWriter, r *http.Request) {
	cmd, err := s.engine.CommandStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transport.FromCommand(cmd))
}

func (s *Server) handleCommandHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondJSON(w, http.StatusOK, []transport.CommandResponse{})
		return
	}
	cmds, err := s.history.ListCommands(r.Context(), chi.URLParam(r, "id"), queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transport.FromCommands(cmds))
}

func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondJSON(w, http.StatusOK, []transport.AlertResponse{})
		return
	}
	alerts, err := s.history.ListAlerts(r.Context(), chi.URLParam(r, "id"), queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transport.FromAlerts(alerts))
}

func (s *Server) handleGetMission(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.GetMission(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transport.FromMission(m))
}

func (s *Server) handleReplanMission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Waypoints []transport.Waypoint `json:"waypoints"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalid)
		return
	}
	m, err := s.engine.ReplanMission(r.Context(), chi.URLParam(r, "id"), transport.ToWaypoints(req.Waypoints))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transport.FromMission(m))
}

func (s *Server) handleMissionAction(w http.ResponseWriter, r *http.Request) {
	droneID := chi.URLParam(r, "id")
	var (
		m   domain.Mission
		err error
	)
	switch chi.URLParam(r, "action") {
	case "start":
		m, err = s.engine.StartMission(r.Context(), droneID)
	case "pause":
		m, err = s.engine.PauseMission(r.Context(), droneID)
	case "resume":
		m, err = s.engine.ResumeMission(r.Context(), droneID)
	case "abort":
		m, err = s.engine.AbortMission(r.Context(), droneID)
	default:
		err = domain.ErrNotFound
	}
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transport.FromMission(m))
}

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}

func mustClaims(r *http.Request) *auth.Claims {
	claims, _ := auth.ClaimsFromContext(r.Context())
	return claims
}
