// Package api serves the operator HTTP surface: status, alerts, detections, the block list and threshold retuning.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"mini-siem/pkg/correlation"
	"mini-siem/pkg/events"
	"mini-siem/pkg/export"
	"mini-siem/pkg/logger"
	"mini-siem/pkg/metrics"
	"mini-siem/pkg/orchestrator"
	"mini-siem/pkg/store"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// StatusSource reports loop status; *orchestrator.Orchestrator satisfies it.
type StatusSource interface {
	Status() orchestrator.Status
}

// Server holds the API dependencies. Status and Exporter may be nil.
type Server struct {
	store    store.Store
	engine   *correlation.Engine
	status   StatusSource
	exporter *export.Exporter
	origins  []string
	router   *mux.Router
}

// New builds the router.
func New(st store.Store, engine *correlation.Engine, status StatusSource, exp *export.Exporter, allowedOrigins []string) *Server {
	s := &Server{store: st, engine: engine, status: status, exporter: exp, origins: allowedOrigins}
	r := mux.NewRouter()
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	v1.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/detections", s.handleDetections).Methods(http.MethodGet)
	v1.HandleFunc("/blocks", s.handleListBlocks).Methods(http.MethodGet)
	v1.HandleFunc("/blocks", s.handleBlock).Methods(http.MethodPost)
	v1.HandleFunc("/blocks/{ip}", s.handleUnblock).Methods(http.MethodDelete)
	v1.HandleFunc("/thresholds", s.handleGetThresholds).Methods(http.MethodGet)
	v1.HandleFunc("/thresholds", s.handleSetThresholds).Methods(http.MethodPut)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.Use(recoveryMiddleware)
	s.router = r
	return s
}

// Handler returns the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api: listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("api: panic in %s %s: %v", r.Method, r.URL.Path, rec)
				writeJSONError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().Format(time.RFC3339)})
}

type statusResponse struct {
	orchestrator.Status
	Thresholds thresholdsBody `json:"thresholds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var resp statusResponse
	if s.status != nil {
		resp.Status = s.status.Status()
	}
	resp.Thresholds = toBody(s.engine.Thresholds())
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		logger.Error("api: stats: %v", err)
		writeJSONError(w, http.StatusServiceUnavailable, "stats unavailable: incomplete data")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if ip := q.Get("ip"); ip != "" {
		if _, err := netip.ParseAddr(ip); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid ip")
			return
		}
		minutes, err := intParam(q.Get("minutes"), 60)
		if err != nil || minutes <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid minutes")
			return
		}
		list, err := s.store.AlertsByAddress(r.Context(), ip, time.Duration(minutes)*time.Minute)
		if err != nil {
			logger.Error("api: alerts by address: %v", err)
			writeJSONError(w, http.StatusServiceUnavailable, "alerts unavailable")
			return
		}
		writeJSON(w, http.StatusOK, nonNil(list))
		return
	}
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	list, err := s.store.RecentAlerts(r.Context(), limit)
	if err != nil {
		logger.Error("api: recent alerts: %v", err)
		writeJSONError(w, http.StatusServiceUnavailable, "alerts unavailable")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	list, err := s.store.RecentDetections(r.Context(), limit)
	if err != nil {
		logger.Error("api: detections: %v", err)
		writeJSONError(w, http.StatusServiceUnavailable, "detections unavailable")
		return
	}
	if list == nil {
		list = []events.Detection{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListBlocked(r.Context())
	if err != nil {
		logger.Error("api: list blocks: %v", err)
		writeJSONError(w, http.StatusServiceUnavailable, "block list unavailable")
		return
	}
	if list == nil {
		list = []events.BlockedIP{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IP        string `json:"ip"`
		Reason    string `json:"reason"`
		BlockedBy string `json:"blocked_by"`
	}
	if json.NewDecoder(r.Body).Decode(&body) != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if _, err := netip.ParseAddr(body.IP); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid ip")
		return
	}
	res, err := s.store.Block(r.Context(), body.IP, body.Reason, body.BlockedBy)
	if err != nil {
		logger.Error("api: block %s: %v", body.IP, err)
		writeJSONError(w, http.StatusInternalServerError, "block failed")
		return
	}
	if res == store.BlockAlreadyPresent {
		writeJSON(w, http.StatusOK, map[string]string{"ip": body.IP, "result": res.String()})
		return
	}
	logger.Info("api: blocked %s (%s)", body.IP, body.Reason)
	if err := s.exporter.BlockChange(events.BlockedIP{IP: body.IP, Reason: body.Reason, BlockedBy: body.BlockedBy, BlockedAt: time.Now()}, true); err != nil {
		logger.Warn("api: export block %s: %v", body.IP, err)
	}
	writeJSON(w, http.StatusCreated, map[string]string{"ip": body.IP, "result": res.String()})
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]
	ok, err := s.store.Unblock(r.Context(), ip)
	if err != nil {
		logger.Error("api: unblock %s: %v", ip, err)
		writeJSONError(w, http.StatusInternalServerError, "unblock failed")
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "ip not blocked")
		return
	}
	logger.Info("api: unblocked %s", ip)
	if err := s.exporter.BlockChange(events.BlockedIP{IP: ip}, false); err != nil {
		logger.Warn("api: export unblock %s: %v", ip, err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"ip": ip, "result": "removed"})
}

type thresholdsBody struct {
	TimeWindowMinutes  int `json:"time_window_minutes"`
	AlertThreshold     int `json:"alert_threshold"`
	SignatureThreshold int `json:"signature_threshold"`
}

func toBody(t correlation.Thresholds) thresholdsBody {
	return thresholdsBody{
		TimeWindowMinutes:  int(t.TimeWindow / time.Minute),
		AlertThreshold:     t.AlertThreshold,
		SignatureThreshold: t.SignatureThreshold,
	}
}

func (s *Server) handleGetThresholds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toBody(s.engine.Thresholds()))
}

// handleSetThresholds applies the positive fields of the body; zero or omitted fields keep their value.
func (s *Server) handleSetThresholds(w http.ResponseWriter, r *http.Request) {
	var body thresholdsBody
	if json.NewDecoder(r.Body).Decode(&body) != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if body.TimeWindowMinutes < 0 || body.AlertThreshold < 0 || body.SignatureThreshold < 0 {
		writeJSONError(w, http.StatusBadRequest, "thresholds must be positive")
		return
	}
	s.engine.SetTimeWindow(body.TimeWindowMinutes)
	s.engine.SetAlertThreshold(body.AlertThreshold)
	s.engine.SetSignatureThreshold(body.SignatureThreshold)
	t := toBody(s.engine.Thresholds())
	logger.Info("api: thresholds now window=%dm alerts=%d signatures=%d", t.TimeWindowMinutes, t.AlertThreshold, t.SignatureThreshold)
	writeJSON(w, http.StatusOK, t)
}

func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit, err := intParam(r.URL.Query().Get("limit"), defaultLimit)
	if err != nil || limit <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid limit")
		return 0, false
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, true
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func nonNil(list []events.Alert) []events.Alert {
	if list == nil {
		return []events.Alert{}
	}
	return list
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
