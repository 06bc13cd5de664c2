package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/service"
)

const defaultListLimit = 50

type Server struct {
	svc      *service.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
	mux      *mux.Router
}

func NewServer(svc *service.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:    svc,
		logger: logger,
		// Clients are mobile apps and the admin console; origin is not
		// a meaningful check for them.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/ws", s.handleWS).Methods("GET")
	s.mux.HandleFunc("/api/events", s.handleEvent).Methods("POST")
	s.mux.HandleFunc("/api/rides/pending", s.handlePendingRides).Methods("GET")
	s.mux.HandleFunc("/api/rides/{id}", s.handleGetRide).Methods("GET")
	s.mux.HandleFunc("/api/admin/dashboard", s.handleDashboard).Methods("GET")
	s.mux.HandleFunc("/api/admin/rides/{id}/cancel", s.handleAdminCancel).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// handleWS runs one client connection. ?identity= joins the personal room
// up front; everything else arrives as {event, data} frames.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws_upgrade_failed", "error", err)
		return
	}
	sess := registry.NewWSSession(conn)
	ctx := r.Context()
	annotate(ctx, "channel", sess.ID())
	defer func() {
		s.svc.Disconnect(sess)
		_ = sess.Close()
		s.logger.Debug("ws_closed", "channel", sess.ID())
	}()

	if id := strings.TrimSpace(r.URL.Query().Get("identity")); id != "" {
		annotate(ctx, "identity", id)
		_ = s.svc.Handle(ctx, sess, service.JoinRoom{Identity: id})
	}
	s.logger.Debug("ws_connected", "channel", sess.ID(), "request_id", requestIDFromContext(ctx))

	for {
		in, err := sess.Read()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("ws_read_failed", "channel", sess.ID(), "error", err)
			}
			return
		}
		// Errors are already reported to the client.
		_ = s.svc.HandleInbound(ctx, sess, in)
	}
}

// handleEvent runs a single command for clients without a socket and
// returns whatever the command replied to its caller.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var in registry.Inbound
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	annotate(r.Context(), "event", in.Event)
	rec := registry.NewRecorder("http-" + requestIDFromContext(r.Context()))
	err := s.svc.HandleInbound(r.Context(), rec, in)
	s.svc.Disconnect(rec)
	writeJSON(w, statusFor(err), map[string]any{"replies": rec.Envelopes()})
}

// handleAdminCancel is the console's cancel button. Parties are notified
// exactly as for a socket cancel; failures also reach the admin room.
func (s *Server) handleAdminCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	annotate(r.Context(), "ride_id", id)
	ride, err := s.svc.Rides().AdminCancelRide(r.Context(), nil, id)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handlePendingRides(w http.ResponseWriter, r *http.Request) {
	rides, err := s.svc.PendingRides(r.Context(), limitParam(r))
	if err != nil {
		s.logger.Error("pending_rides_failed", "error", err)
		http.Error(w, "store unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, rides)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	annotate(r.Context(), "ride_id", id)
	ride, err := s.svc.Rides().Get(r.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		http.Error(w, "ride not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("get_ride_failed", "error", err)
		http.Error(w, "store unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Dashboard(r.Context(), limitParam(r))
	if err != nil {
		s.logger.Error("dashboard_failed", "error", err)
		http.Error(w, "store unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ready(r.Context()); err != nil {
		http.Error(w, "store not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
