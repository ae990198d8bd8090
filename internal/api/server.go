// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/internal/backtester"
	"github.com/atlas-desktop/strategy-eval/internal/dataprovider"
	"github.com/atlas-desktop/strategy-eval/internal/evaluator"
	"github.com/atlas-desktop/strategy-eval/internal/strategy"
	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// Server is the HTTP/WebSocket API server
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	provider   dataprovider.Provider
	registry   *strategy.Registry
	evaluator  *evaluator.Evaluator
	runs       map[string]*runState
	clients    map[string]*Client

	metrics *prometheus.Registry

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeRuns      prometheus.Gauge
}

// runState tracks one asynchronous backtest
type runState struct {
	ID      string
	Config  *types.BacktestConfig
	Engine  *backtester.Engine
	Started time.Time
	Result  *types.BacktestResult
	Err     error
}

// NewServer creates the API server
func NewServer(logger *zap.Logger, config *types.ServerConfig, provider dataprovider.Provider, registry *strategy.Registry, eval *evaluator.Evaluator) *Server {
	server := &Server{
		logger:    logger,
		config:    config,
		router:    mux.NewRouter(),
		provider:  provider,
		registry:  registry,
		evaluator: eval,
		runs:      make(map[string]*runState),
		clients:   make(map[string]*Client),
		metrics:   prometheus.NewRegistry(),
	}

	server.metrics.MustRegister(collectors.NewGoCollector())
	server.requestCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total", Help: "HTTP requests by route and status.",
	}, []string{"route", "status"})
	server.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_request_duration_seconds", Help: "HTTP handler latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	server.activeRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backtests_active", Help: "Backtests currently running.",
	})
	server.metrics.MustRegister(server.requestCount, server.requestDuration, server.activeRuns)

	server.setupRoutes()
	return server
}

// MetricsRegistry exposes the server's prometheus registry so other
// components can register their collectors on it
func (s *Server) MetricsRegistry() prometheus.Registerer {
	return s.metrics
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.instrument)

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/strategies", s.handleListStrategies).Methods("GET")
	api.HandleFunc("/symbols", s.handleListSymbols).Methods("GET")
	api.HandleFunc("/data/{symbol}", s.handleGetData).Methods("GET")

	api.HandleFunc("/backtest", s.handleRunBacktest).Methods("POST")
	api.HandleFunc("/backtest/{id}", s.handleGetBacktest).Methods("GET")
	api.HandleFunc("/backtest/{id}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/backtest/{id}/cancel", s.handleCancelBacktest).Methods("POST")

	api.HandleFunc("/walkforward", s.handleWalkForward).Methods("POST")
	api.HandleFunc("/optimize", s.handleOptimize).Methods("POST")
	api.HandleFunc("/compare", s.handleCompare).Methods("POST")
	api.HandleFunc("/evaluate", s.handleEvaluate).Methods("POST")

	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// instrument records request counts and latency per route
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		s.requestCount.WithLabelValues(route, fmt.Sprintf("%d", recorder.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, client := range s.clients {
		client.Conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the routing handler, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// handleListStrategies returns registered strategies with their schemas
func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name        string                `json:"name"`
		Description string                `json:"description"`
		Parameters  []types.ParameterSpec `json:"parameters"`
	}

	var entries []entry
	for _, name := range s.registry.List() {
		strat, ok := s.registry.Create(name)
		if !ok {
			continue
		}
		entries = append(entries, entry{
			Name:        strat.Name(),
			Description: strat.Description(),
			Parameters:  strat.ParameterSchema(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"strategies": entries})
}

// handleListSymbols returns the symbols the data provider can serve
func (s *Server) handleListSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.provider.GetAvailableSymbols(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbols": symbols,
		"count":   len(symbols),
	})
}

// handleGetData returns bars for a symbol
func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	timeframe := types.Timeframe(r.URL.Query().Get("timeframe"))
	if timeframe == "" {
		timeframe = types.Timeframe1h
	}

	end := time.Now()
	start := end.AddDate(0, -1, 0)
	if v := r.URL.Query().Get("start"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			start = t
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			end = t
		}
	}

	bars, err := s.provider.GetOHLCV(r.Context(), symbol, timeframe, start, end)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":    symbol,
		"timeframe": timeframe,
		"bars":      bars,
		"count":     len(bars),
	})
}

// backtestRequest wraps a config with the strategy name to run
type backtestRequest struct {
	Strategy string               `json:"strategy"`
	Config   types.BacktestConfig `json:"config"`
}

// handleRunBacktest starts a backtest in the background and returns its ID
func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("invalid request body"))
		return
	}

	strat, ok := s.registry.Create(req.Strategy)
	if !ok {
		writeError(w, badRequest(fmt.Sprintf("unknown strategy %q", req.Strategy)))
		return
	}

	if req.Config.ID == "" {
		req.Config.ID = uuid.New().String()
	}

	engine, err := backtester.NewEngine(s.logger, s.provider, strat, &req.Config)
	if err != nil {
		writeError(w, err)
		return
	}

	state := &runState{
		ID:      req.Config.ID,
		Config:  &req.Config,
		Engine:  engine,
		Started: time.Now(),
	}
	s.mu.Lock()
	s.runs[state.ID] = state
	s.mu.Unlock()

	go s.streamProgress(engine)
	go func() {
		s.activeRuns.Inc()
		defer s.activeRuns.Dec()

		result, err := engine.Run(context.Background())

		s.mu.Lock()
		state.Result = result
		state.Err = err
		s.mu.Unlock()

		status := string(engine.Status())
		if err != nil {
			s.logger.Error("backtest failed", zap.String("id", state.ID), zap.Error(err))
		}
		s.broadcast(&Message{
			ID:        uuid.New().String(),
			Type:      "event",
			Method:    "backtest:complete",
			Payload:   map[string]interface{}{"id": state.ID, "status": status},
			Timestamp: time.Now().UnixMilli(),
		})
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":      state.ID,
		"status":  types.StatusRunning,
		"started": state.Started.Unix(),
	})
}

// streamProgress forwards engine progress snapshots to WebSocket clients
func (s *Server) streamProgress(engine *backtester.Engine) {
	for progress := range engine.Progress() {
		s.broadcast(&Message{
			ID:        uuid.New().String(),
			Type:      "event",
			Method:    "backtest:progress",
			Payload:   progress,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) *runState {
	id := mux.Vars(r)["id"]
	s.mu.RLock()
	state, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		writeError(w, notFound("backtest not found"))
		return nil
	}
	return state
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	state := s.lookupRun(w, r)
	if state == nil {
		return
	}

	response := map[string]interface{}{
		"id":      state.ID,
		"status":  state.Engine.Status(),
		"started": state.Started.Unix(),
	}

	s.mu.RLock()
	if state.Result != nil {
		response["result"] = state.Result
	}
	if state.Err != nil {
		response["error"] = state.Err.Error()
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	state := s.lookupRun(w, r)
	if state == nil {
		return
	}

	s.mu.RLock()
	result := state.Result
	s.mu.RUnlock()

	if result == nil {
		writeError(w, badRequest("backtest not complete"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     state.ID,
		"trades": result.Trades,
		"count":  len(result.Trades),
	})
}

func (s *Server) handleCancelBacktest(w http.ResponseWriter, r *http.Request) {
	state := s.lookupRun(w, r)
	if state == nil {
		return
	}

	if state.Engine.Status() != types.StatusRunning {
		writeError(w, badRequest("backtest not running"))
		return
	}

	state.Engine.Cancel()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     state.ID,
		"status": types.StatusCancelled,
	})
}

// handleWalkForward runs rolling validation synchronously
func (s *Server) handleWalkForward(w http.ResponseWriter, r *http.Request) {
	var req backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("invalid request body"))
		return
	}

	strat, ok := s.registry.Create(req.Strategy)
	if !ok {
		writeError(w, badRequest(fmt.Sprintf("unknown strategy %q", req.Strategy)))
		return
	}

	result, err := s.evaluator.WalkForward(r.Context(), strat, &req.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type optimizeRequest struct {
	Strategy     string                    `json:"strategy"`
	Config       types.BacktestConfig      `json:"config"`
	Optimization *types.OptimizationConfig `json:"optimization"`
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("invalid request body"))
		return
	}

	strat, ok := s.registry.Create(req.Strategy)
	if !ok {
		writeError(w, badRequest(fmt.Sprintf("unknown strategy %q", req.Strategy)))
		return
	}

	result, err := s.evaluator.Optimize(r.Context(), strat, &req.Config, req.Optimization)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type compareRequest struct {
	Strategies []string                `json:"strategies"`
	Config     types.BacktestConfig    `json:"config"`
	Comparison *types.ComparisonConfig `json:"comparison"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("invalid request body"))
		return
	}
	if len(req.Strategies) < 2 {
		writeError(w, badRequest("at least two strategies required"))
		return
	}

	strategies := make([]strategy.Strategy, 0, len(req.Strategies))
	for _, name := range req.Strategies {
		strat, ok := s.registry.Create(name)
		if !ok {
			writeError(w, badRequest(fmt.Sprintf("unknown strategy %q", name)))
			return
		}
		strategies = append(strategies, strat)
	}

	result, err := s.evaluator.Compare(r.Context(), strategies, &req.Config, req.Comparison)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type evaluateRequest struct {
	Strategy   string                  `json:"strategy"`
	Config     types.BacktestConfig    `json:"config"`
	Evaluation *types.EvaluationConfig `json:"evaluation"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("invalid request body"))
		return
	}

	strat, ok := s.registry.Create(req.Strategy)
	if !ok {
		writeError(w, badRequest(fmt.Sprintf("unknown strategy %q", req.Strategy)))
		return
	}

	report, err := s.evaluator.Evaluate(r.Context(), strat, &req.Config, req.Evaluation)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// apiError carries an HTTP status with its message
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string { return e.message }

func badRequest(msg string) error { return &apiError{status: http.StatusBadRequest, message: msg} }
func notFound(msg string) error   { return &apiError{status: http.StatusNotFound, message: msg} }

// writeError maps domain errors onto HTTP status codes. Validation errors
// carry their structured issue list.
func writeError(w http.ResponseWriter, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		writeJSON(w, apiErr.status, map[string]interface{}{"error": apiErr.message})
		return
	}

	var ve *types.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "validation failed",
			"issues": ve.Issues,
		})
		return
	}

	var de *types.DataError
	if errors.As(err, &de) {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{"error": de.Error()})
		return
	}

	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
}
