// Package api exposes the forecast service over HTTP. The surface is
// intentionally small: ingest a sample, train, predict, health, metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	limiter "github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	memory "github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/airsense/forecast/internal/forecast"
)

// Server is the HTTP front of the forecast service.
type Server struct {
	router *gin.Engine
	http   *http.Server
	svc    *forecast.Service
	logger *zap.Logger
}

// Config holds the server settings the transport layer needs.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// RateLimit is a limiter format string such as "100-M".
	RateLimit string
}

// NewServer builds the router and middleware stack.
func NewServer(cfg Config, svc *forecast.Service, logger *zap.Logger) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	if cfg.RateLimit != "" {
		rate, err := limiter.NewRateFromFormatted(cfg.RateLimit)
		if err != nil {
			return nil, err
		}
		router.Use(ginlimiter.NewMiddleware(limiter.New(memory.NewStore(), rate)))
	}

	s := &Server{
		router: router,
		svc:    svc,
		logger: logger.Named("api"),
	}
	s.registerRoutes()

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

func (s *Server) registerRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.health)
		v1.GET("/metrics", gin.WrapH(promhttp.Handler()))
		v1.POST("/samples", s.ingestSample)
		v1.POST("/train", s.train)
		v1.POST("/predict", s.predict)
		v1.GET("/bundle", s.bundleInfo)
	}
}

// Start blocks serving HTTP until Shutdown or failure.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine { return s.router }
