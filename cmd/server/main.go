package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinicflow/intake/cache"
	"github.com/clinicflow/intake/config"
	"github.com/clinicflow/intake/internal/logger"
	"github.com/clinicflow/intake/questionnaire"
	"github.com/clinicflow/intake/resolve"
	"github.com/clinicflow/intake/rules"
	"github.com/clinicflow/intake/storage"
	"github.com/clinicflow/intake/tiered"
)

type Server struct {
	service  *resolve.Service
	monitor  *tiered.HealthMonitor
	validate *validator.Validate
	log      *slog.Logger
	router   *chi.Mux
}

func NewServer(service *resolve.Service, monitor *tiered.HealthMonitor, log *slog.Logger) *Server {
	s := &Server{
		service:  service,
		monitor:  monitor,
		validate: validator.New(),
		log:      log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/v1/questionnaire/resolve", s.handleResolve)

	r.Route("/api/v1/questionnaires", func(r chi.Router) {
		r.Post("/", s.handleCreateQuestionnaire)

		r.Route("/{actionId}", func(r chi.Router) {
			r.Get("/", s.handleGetQuestionnaire)
			r.Put("/", s.handleUpdateQuestionnaire)
			r.Delete("/", s.handleDeleteQuestionnaire)
		})
	})

	r.Route("/api/v1/flows/{flow}/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleCreateRule)
		r.Put("/{ruleId}", s.handleUpdateRule)
		r.Delete("/{ruleId}", s.handleDeactivateRule)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := false
	if r.URL.Query().Get("force") == "true" {
		healthy = s.monitor.ForceCheck(r.Context())
	} else {
		healthy = s.monitor.Healthy(r.Context())
	}

	state := s.monitor.State()
	body := map[string]any{
		"status":    "healthy",
		"checkedAt": state.CheckedAt,
	}
	status := http.StatusOK
	if !healthy {
		// Degraded mode still serves reads from the fallback tiers, so
		// the process itself reports 200 with a degraded status.
		body["status"] = "degraded"
	}
	respondJSON(w, status, body)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "flow or actionId is required", err)
		return
	}

	result, err := s.service.Resolve(r.Context(), resolve.ResolveRequest{
		Flow:     req.Flow,
		ActionID: req.ActionID,
		Context:  req.Context,
	})
	if err != nil {
		s.respondServiceError(w, "resolution failed", err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetQuestionnaire(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "actionId")

	tree, err := s.service.GetQuestionnaire(r.Context(), actionID)
	if err != nil {
		s.respondServiceError(w, "failed to get questionnaire", err)
		return
	}
	respondJSON(w, http.StatusOK, tree)
}

func (s *Server) handleCreateQuestionnaire(w http.ResponseWriter, r *http.Request) {
	var tree questionnaire.Tree
	if err := json.NewDecoder(r.Body).Decode(&tree); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	tree.ActionID = ""

	saved, err := s.service.SaveQuestionnaire(r.Context(), &tree)
	if err != nil {
		s.respondServiceError(w, "failed to create questionnaire", err)
		return
	}
	respondJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleUpdateQuestionnaire(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "actionId")

	var tree questionnaire.Tree
	if err := json.NewDecoder(r.Body).Decode(&tree); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	tree.ActionID = actionID

	saved, err := s.service.SaveQuestionnaire(r.Context(), &tree)
	if err != nil {
		s.respondServiceError(w, "failed to update questionnaire", err)
		return
	}
	respondJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteQuestionnaire(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "actionId")

	if err := s.service.DeleteQuestionnaire(r.Context(), actionID); err != nil {
		s.respondServiceError(w, "failed to delete questionnaire", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	flow := chi.URLParam(r, "flow")

	list, err := s.service.RulesForFlow(r.Context(), flow)
	if err != nil {
		s.respondServiceError(w, "failed to list rules", err)
		return
	}

	out := make([]ruleResponse, 0, len(list))
	for _, rule := range list {
		out = append(out, toRuleResponse(rule))
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": out})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	flow := chi.URLParam(r, "flow")

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "actionId and condition are required", err)
		return
	}

	rule := &rules.Rule{
		Flow:      flow,
		RuleID:    req.RuleID,
		ActionID:  req.ActionID,
		Condition: req.Condition,
		Salience:  req.Salience,
		CreatedBy: req.CreatedBy,
	}
	if err := s.service.CreateRule(r.Context(), rule); err != nil {
		s.respondServiceError(w, "failed to create rule", err)
		return
	}
	respondJSON(w, http.StatusCreated, toRuleResponse(rule))
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	flow := chi.URLParam(r, "flow")
	ruleID := chi.URLParam(r, "ruleId")

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "actionId and condition are required", err)
		return
	}

	rule := &rules.Rule{
		Flow:      flow,
		RuleID:    ruleID,
		ActionID:  req.ActionID,
		Condition: req.Condition,
		Salience:  req.Salience,
		CreatedBy: req.CreatedBy,
		Active:    true,
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	if err := s.service.UpdateRule(r.Context(), rule); err != nil {
		s.respondServiceError(w, "failed to update rule", err)
		return
	}
	respondJSON(w, http.StatusOK, toRuleResponse(rule))
}

func (s *Server) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	flow := chi.URLParam(r, "flow")
	ruleID := chi.URLParam(r, "ruleId")

	if err := s.service.DeactivateRule(r.Context(), flow, ruleID); err != nil {
		s.respondServiceError(w, "failed to deactivate rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondServiceError maps the service error taxonomy onto HTTP status
// codes: validation 400, not found 404, unavailable 503, the rest 500.
func (s *Server) respondServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case questionnaire.IsValidation(err):
		respondError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, questionnaire.ErrNotFound):
		respondError(w, http.StatusNotFound, message, err)
	case errors.Is(err, questionnaire.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, message, err)
	default:
		s.log.Error(message, "error", err)
		respondError(w, http.StatusInternalServerError, message, err)
	}
}

func toRuleResponse(r *rules.Rule) ruleResponse {
	return ruleResponse{
		Flow:      r.Flow,
		RuleID:    r.RuleID,
		ActionID:  r.ActionID,
		Condition: r.Condition,
		Salience:  r.Salience,
		Active:    r.Active,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	store := storage.NewPostgresStore(db)

	var tiers []tiered.Tier
	if cfg.Tiers.Snapshot.Enabled {
		snapDB, err := badger.Open(badger.DefaultOptions(cfg.Tiers.Snapshot.Path).WithLogger(nil))
		if err != nil {
			return fmt.Errorf("failed to open snapshot store: %w", err)
		}
		defer snapDB.Close()
		tiers = append(tiers, tiered.NewSnapshotTier(snapDB))
	}
	if cfg.Tiers.Blob.Enabled {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create blob client: %w", err)
		}
		defer client.Close()
		tiers = append(tiers, tiered.NewBlobTier(client, cfg.Tiers.Blob.Bucket, cfg.Tiers.Blob.Prefix))
	}
	if cfg.Tiers.File.Enabled {
		fileTier, err := tiered.NewFileTier(cfg.Tiers.File.Dir, cfg.Tiers.File.CacheSize)
		if err != nil {
			return fmt.Errorf("failed to create file tier: %w", err)
		}
		tiers = append(tiers, fileTier)
	}

	var queue *tiered.WriteQueue
	if cfg.Queue.Enabled {
		queueDB, err := badger.Open(badger.DefaultOptions(cfg.Queue.Path).WithLogger(nil))
		if err != nil {
			return fmt.Errorf("failed to open write queue: %w", err)
		}
		defer queueDB.Close()
		queue, err = tiered.NewWriteQueue(queueDB)
		if err != nil {
			return fmt.Errorf("failed to create write queue: %w", err)
		}
		defer queue.Close()
	}

	fastCache := cache.NewInMemoryCache(cache.Config{TTL: cfg.Cache.TTL})
	monitor := tiered.NewHealthMonitor(store, cfg.Health.CheckInterval, cfg.Health.ProbeTimeout, log)
	controller := tiered.NewController(store, fastCache, monitor, queue, tiers, tiered.ControllerConfig{
		CacheTTL:     cfg.Cache.TTL,
		WarmInterval: cfg.Tiers.WarmInterval,
	}, log)

	if cfg.Queue.ReplayMode == "scheduled" {
		controller.StartScheduledReplay(ctx, cfg.Queue.ReplayInterval)
	}

	matcher, err := rules.NewMatcher(store)
	if err != nil {
		return fmt.Errorf("failed to create rule matcher: %w", err)
	}
	strategy, err := resolve.NewStrategy(cfg.Cache.Strategy, fastCache, controller, store, cfg.Cache.TTL)
	if err != nil {
		return err
	}
	service := resolve.NewService(matcher, store, controller, strategy, log)
	server := NewServer(service, monitor, log)

	// Probe once at startup; a down store is logged, not fatal.
	if monitor.ForceCheck(ctx) {
		log.Info("primary store healthy")
	} else {
		log.Warn("starting degraded, primary store unreachable")
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func main() {
	configPath := flag.String("config", os.Getenv("INTAKE_CONFIG"), "path to the YAML config file")
	flag.Parse()

	log, shutdownLogger := logger.Setup("intake")
	defer shutdownLogger(context.Background())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}
