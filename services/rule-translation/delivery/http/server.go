package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/logging"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/metrics"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/usecase"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/shared/common"
)

// Server exposes the translation service over HTTP
type Server struct {
	server        *http.Server
	router        *gin.Engine
	service       *usecase.TranslationService
	serverConfig  common.ServerConfig
	metricsConfig common.MetricsConfig
	serviceConfig common.ServiceConfig
	metrics       *metrics.Collector
	logger        *logging.Logger
	startedAt     time.Time
}

// NewServer creates the HTTP server and registers its routes
func NewServer(
	service *usecase.TranslationService,
	serviceConfig common.ServiceConfig,
	serverConfig common.ServerConfig,
	metricsConfig common.MetricsConfig,
	collector *metrics.Collector,
	logger *logging.Logger,
) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	if collector == nil {
		collector = metrics.NewCollector("rule_translator")
	}

	s := &Server{
		service:       service,
		serverConfig:  serverConfig,
		metricsConfig: metricsConfig,
		serviceConfig: serviceConfig,
		metrics:       collector,
		logger:        logger.WithComponent("http_server"),
		startedAt:     time.Now(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         serverConfig.Address(),
		Handler:      s.router,
		ReadTimeout:  serverConfig.ReadTimeout,
		WriteTimeout: serverConfig.WriteTimeout,
		IdleTimeout:  serverConfig.IdleTimeout,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router = gin.New()

	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.recoveryMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.metricsMiddleware())

	s.router.NoRoute(func(c *gin.Context) {
		s.respondError(c, common.NewAppError(common.ErrCodeNotFound, "route not found"))
	})

	s.router.GET("/health", s.healthCheck)
	if s.metricsConfig.Enabled {
		path := s.metricsConfig.Path
		if path == "" {
			path = "/metrics"
		}
		s.router.GET(path, gin.WrapH(s.metrics.CreateHandler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		translations := v1.Group("/translations")
		{
			translations.POST("", s.translate)
			translations.POST("/native", s.translateNative)
			translations.POST("/all", s.translateAll)
		}

		v1.POST("/validations", s.validate)
		v1.GET("/platforms", s.listPlatforms)
		v1.GET("/resilience", s.resilienceStates)
	}
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", logging.String("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
