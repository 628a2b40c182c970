package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"fare-observer/src/logger"
	"fare-observer/src/models"
	"fare-observer/src/pipeline"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// -----------------------------------------------------------------------------
// Collaborators
// -----------------------------------------------------------------------------

type Predictor interface {
	Predict(ctx context.Context, req models.MPredictionRequest) (models.MPredictionResponse, error)
	Refresh(ctx context.Context) (bool, error)
	Version() string
}

type ModelRegistry interface {
	GetDeployed(ctx context.Context) (*models.MModelRecord, error)
	History(ctx context.Context, limit int) ([]models.MModelRecord, error)
	Rollback(ctx context.Context, version string) (*models.MModelRecord, error)
}

type Retrainer interface {
	Run(ctx context.Context) (*pipeline.RunResult, error)
}

type StatsSource interface {
	Stats(ctx context.Context) (models.MStoreStats, error)
}

// -----------------------------------------------------------------------------
// FastAPIServer
// -----------------------------------------------------------------------------

type FastAPIServer struct {
	Config    *models.MConfig
	Logger    *logger.Logger
	Predictor Predictor
	Registry  ModelRegistry
	Retrainer Retrainer
	Stats     StatsSource
	engine    *gin.Engine
	http      *http.Server

	// WebSocket clients
	clients    map[*subscriber]struct{}
	broadcast  chan *models.MDeploymentEvent
	register   chan *subscriber
	unregister chan *subscriber
	quit       chan struct{}
	stopOnce   sync.Once

	// Last event, replayed to new clients
	latestEvent *models.MDeploymentEvent
	clientCount int
	stateMutex  sync.RWMutex

	retraining sync.Mutex
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewFastAPIServer(cfg *models.MConfig, log *logger.Logger, predictor Predictor, registry ModelRegistry, retrainer Retrainer, stats StatsSource) *FastAPIServer {
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &FastAPIServer{
		Config:     cfg,
		Logger:     log,
		Predictor:  predictor,
		Registry:   registry,
		Retrainer:  retrainer,
		Stats:      stats,
		engine:     gin.New(),
		clients:    make(map[*subscriber]struct{}),
		broadcast:  make(chan *models.MDeploymentEvent, 256),
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		quit:       make(chan struct{}),
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(cors.New(cors.Config{
		AllowOriginFunc: localOrigin,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Cache-Control", "X-Requested-With"},
		ExposeHeaders:   []string{"Content-Length"},
		MaxAge:          12 * time.Hour,
	}))

	s.setupRoutes()
	go s.handleWebsockets()
	return s
}

// -----------------------------------------------------------------------------

func localOrigin(origin string) bool {
	return strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:")
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *FastAPIServer) setupRoutes() {
	api := s.engine.Group("/api")
	api.POST("/predict-price", s.predictPrice)
	api.GET("/model-info", s.getModelInfo)
	api.GET("/model-history", s.getModelHistory)
	api.POST("/model-rollback/:version", s.rollbackModel)
	api.POST("/retrain", s.retrain)
	api.GET("/health", s.getHealth)
	api.GET("/system-health", s.getSystemHealth)

	s.engine.GET("/ws", s.handleWebSocket)
	if s.Config.MetricsEnabled {
		s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}

// Handler exposes the router, mainly for tests.
func (s *FastAPIServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

func (s *FastAPIServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting server on %s", addr)

	s.http = &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.http != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = s.http.Shutdown(ctx)
		}
	})
	return err
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *FastAPIServer) predictPrice(c *gin.Context) {
	var req models.MPredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.Predictor.Predict(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getModelInfo(c *gin.Context) {
	info, err := s.modelInfo(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getModelHistory(c *gin.Context) {
	limit, err := parseLimit(c.DefaultQuery("limit", "20"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	records, err := s.Registry.History(c.Request.Context(), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if records == nil {
		records = []models.MModelRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"models": records, "count": len(records)})
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) rollbackModel(c *gin.Context) {
	ctx := c.Request.Context()
	rec, err := s.Registry.Rollback(ctx, c.Param("version"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.refresh(ctx)
	c.JSON(http.StatusOK, rec)
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) retrain(c *gin.Context) {
	if !s.retraining.TryLock() {
		c.JSON(http.StatusConflict, gin.H{"error": "a retrain is already running"})
		return
	}
	defer s.retraining.Unlock()

	ctx := c.Request.Context()
	res, err := s.Retrainer.Run(ctx)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.refresh(ctx)
	c.JSON(http.StatusOK, gin.H{
		"run_id":    res.RunID,
		"version":   res.Record.Version,
		"decision":  res.Decision.Kind,
		"accepted":  res.Decision.Accept,
		"reason":    res.Decision.Reason,
		"conflicts": res.Conflicts,
		"record":    res.Record,
	})
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getHealth(c *gin.Context) {
	s.stateMutex.RLock()
	connections := s.clientCount
	var latest int64
	if s.latestEvent != nil {
		latest = s.latestEvent.Timestamp
	}
	s.stateMutex.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"connections":   connections,
		"model_version": s.Predictor.Version(),
		"latest_event":  latest,
	})
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getSystemHealth(c *gin.Context) {
	stats, err := s.Stats.Stats(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.stateMutex.RLock()
	connections := s.clientCount
	s.stateMutex.RUnlock()

	health := models.MSystemHealth{
		Status:            "ok",
		Observations:      stats.Observations,
		Routes:            stats.Routes,
		LatestObservation: stats.LatestObservation,
		DeployedVersion:   s.Predictor.Version(),
		CandidateCount:    stats.CandidateCount,
		ModelCount:        stats.ModelCount,
		Connections:       connections,
	}
	if health.DeployedVersion == "" {
		health.Status = "no_model"
	}
	c.JSON(http.StatusOK, health)
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) modelInfo(ctx context.Context) (*models.MModelInfo, error) {
	rec, err := s.Registry.GetDeployed(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, notDeployed
	}
	return &models.MModelInfo{Type: "MODEL_INFO", Serving: s.Predictor.Version(), Record: rec}, nil
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) refresh(ctx context.Context) {
	if _, err := s.Predictor.Refresh(ctx); err != nil {
		s.Logger.Error("Predictor refresh failed: %v", err)
	}
}
