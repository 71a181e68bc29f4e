package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"PerpScope/internal/candle"
	"PerpScope/internal/observability"
	"PerpScope/internal/query"
	"PerpScope/internal/view"
)

// Config for the HTTP read API.
type Config struct {
	Addr         string        // listen address (default: :8080)
	ReadTimeout  time.Duration // default: 10s
	WriteTimeout time.Duration // default: 30s
}

func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server exposes the derived read API, the order-book websocket stream
// and the operational endpoints.
type Server struct {
	cfg     Config
	svc     *query.Service
	store   *view.Store
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
	router  *mux.Router
}

func New(cfg Config, svc *query.Service, store *view.Store, health *observability.HealthChecker, metrics *observability.Metrics, log zerolog.Logger) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	s := &Server{
		cfg:     cfg,
		svc:     svc,
		store:   store,
		health:  health,
		metrics: metrics,
		log:     log.With().Str("component", "http").Logger(),
		router:  mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.health.LivenessHandler).Methods("GET")
	s.router.HandleFunc("/readyz", s.health.ReadinessHandler).Methods("GET")

	api := s.router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/orderbook", s.instrument("orderbook", s.handleOrderBook)).Methods("GET")
	api.HandleFunc("/funding/estimate", s.instrument("funding_estimate", s.handleFundingEstimate)).Methods("GET")
	api.HandleFunc("/funding/history", s.instrument("funding_history", s.handleFundingHistory)).Methods("GET")
	api.HandleFunc("/trades", s.instrument("trades", s.handleTrades)).Methods("GET")
	api.HandleFunc("/candles", s.instrument("candles", s.handleCandles)).Methods("GET")
	api.HandleFunc("/positions/{trader}", s.instrument("position", s.handlePosition)).Methods("GET")
	api.HandleFunc("/orders/{trader}", s.instrument("open_orders", s.handleOpenOrders)).Methods("GET")
	api.HandleFunc("/margin-events/{trader}", s.instrument("margin_events", s.handleMarginEvents)).Methods("GET")

	// Websocket upgrades bypass the write-timeout wrapper.
	api.HandleFunc("/stream/orderbook", s.handleOrderBookStream)
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.cfg.Addr).Msg("http server starting")
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Router exposes the handler for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) (int, error)

// instrument wraps a handler with request counting and latency timing.
func (s *Server) instrument(endpoint string, h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status, err := h(w, r)
		if err != nil {
			s.log.Warn().Err(err).Str("endpoint", endpoint).Msg("query failed")
		}
		if s.metrics != nil {
			s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) (int, error) {
	resp, err := s.svc.GetOrderBook(r.Context())
	if errors.Is(err, query.ErrNoSnapshot) {
		return s.writeError(w, http.StatusServiceUnavailable, "order book not available yet")
	}
	if err != nil {
		return s.writeError(w, http.StatusInternalServerError, err.Error())
	}
	return s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFundingEstimate(w http.ResponseWriter, r *http.Request) (int, error) {
	resp, err := s.svc.GetEstimatedFundingRate(r.Context())
	if errors.Is(err, query.ErrNoSnapshot) {
		return s.writeError(w, http.StatusServiceUnavailable, "funding estimate not available yet")
	}
	if err != nil {
		return s.writeError(w, http.StatusInternalServerError, err.Error())
	}
	return s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFundingHistory(w http.ResponseWriter, r *http.Request) (int, error) {
	resp, err := s.svc.GetFundingHistory(r.Context(), intParam(r, "limit"))
	if err != nil {
		return s.writeError(w, http.StatusInternalServerError, err.Error())
	}
	return s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) (int, error) {
	resp, err := s.svc.GetRecentTrades(r.Context(), intParam(r, "limit"))
	if err != nil {
		return s.writeError(w, http.StatusInternalServerError, err.Error())
	}
	return s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) (int, error) {
	resolution := int64(intParam(r, "resolution"))
	if !validResolution(resolution) {
		return s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unsupported resolution %d", resolution))
	}
	resp, err := s.svc.GetCandles(r.Context(), resolution, intParam(r, "limit"))
	if err != nil {
		return s.writeError(w, http.StatusInternalServerError, err.Error())
	}
	return s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) (int, error) {
	trader := mux.Vars(r)["trader"]
	resp, err := s.svc.GetPosition(r.Context(), trader)
	if err != nil {
		return s.writeError(w, http.StatusInternalServerError, err.Error())
	}
	return s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) (int, error) {
	trader := mux.Vars(r)["trader"]
	resp, err := s.svc.GetOpenOrders(r.Context(), trader)
	if err != nil {
		return s.writeError(w, http.StatusInternalServerError, err.Error())
	}
	return s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMarginEvents(w http.ResponseWriter, r *http.Request) (int, error) {
	trader := mux.Vars(r)["trader"]
	resp, err := s.svc.GetMarginEvents(r.Context(), trader, intParam(r, "limit"))
	if err != nil {
		return s.writeError(w, http.StatusInternalServerError, err.Error())
	}
	return s.writeJSON(w, http.StatusOK, resp)
}

// helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) (int, error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return status, json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) (int, error) {
	s.writeJSON(w, status, map[string]string{"error": message})
	return status, nil
}

func intParam(r *http.Request, name string) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func validResolution(resolution int64) bool {
	for _, res := range candle.DefaultResolutions {
		if resolution == res {
			return true
		}
	}
	return false
}
