package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/pingd/internal/config"
	"github.com/energizer-project/pingd/internal/db"
	"github.com/energizer-project/pingd/internal/events"
	"github.com/energizer-project/pingd/internal/metrics"
	intnet "github.com/energizer-project/pingd/internal/network"
	"github.com/energizer-project/pingd/internal/roster"
	"github.com/energizer-project/pingd/internal/status"
)

// Server is the admin REST API for pingd.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	status   *status.Service
	roster   *roster.Roster
	version  string

	// Optional dependencies
	registry *intnet.ConnectionRegistry
	stats    *db.StatsDatabase
	metrics  *metrics.Metrics

	httpServer *http.Server
	router     *gin.Engine
	logger     zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, eventBus *events.EventBus, svc *status.Service, r *roster.Roster, version string) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:      cfg,
		eventBus: eventBus,
		status:   svc,
		roster:   r,
		version:  version,
		logger:   log.With().Str("component", "api").Logger(),
	}
}

// SetDependencies injects the components that may be disabled by
// configuration. Any of them may be nil.
func (s *Server) SetDependencies(registry *intnet.ConnectionRegistry, stats *db.StatsDatabase, m *metrics.Metrics) {
	s.registry = registry
	s.stats = stats
	s.metrics = m
}

// Handler returns the router, building it on first use.
func (s *Server) Handler() http.Handler {
	if s.router == nil {
		s.router = s.buildRouter()
	}
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetApplicationData().API
	addr := net.JoinHostPort(apiCfg.BindAddress, strconv.Itoa(apiCfg.Port))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// SO_REUSEADDR for immediate rebinding after restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.logger.Info().Str("addr", addr).Msg("admin API starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	security := s.cfg.GetApplicationData().Security

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := security.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(security.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	auth := NewAuthMiddleware(s.cfg)

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/status", s.handleGetStatus)
		public.GET("/get_server_info", s.handleGetServerInfo)
	}

	protected := router.Group("/api")
	protected.Use(auth.RequireToken())

	monitor := protected.Group("/monitor")
	{
		monitor.GET("/stats", s.handleGetStats)
		monitor.GET("/errors", s.handleGetErrors)
		monitor.GET("/connections", s.handleGetConnections)
		monitor.GET("/cache", s.handleGetCache)
		monitor.GET("/system", s.handleGetSystem)
		monitor.GET("/logs", s.handleGetLogEntries)
	}

	control := protected.Group("/control")
	{
		control.POST("/players/join", s.handlePlayerJoin)
		control.POST("/players/leave", s.handlePlayerLeave)
		control.PUT("/players", s.handleReplacePlayers)
		control.PUT("/server_info", s.handleSetServerInfo)
		control.POST("/invalidate_cache", s.handleInvalidateCache)
	}

	configure := protected.Group("/configure")
	{
		configure.GET("/get_config", s.handleGetConfig)
		configure.POST("/set_ping_data", s.handleSetPingData)
	}

	router.GET("/metrics", auth.RequireToken(), s.handleMetrics)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
