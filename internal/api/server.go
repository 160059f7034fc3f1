package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/energizer-project/rconsole/internal/command"
	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/rcon"
	"github.com/energizer-project/rconsole/internal/util"
)

// RCON is the part of *rcon.Client the API needs.
type RCON interface {
	Exec(ctx context.Context, command string) (string, error)
	Stats() rcon.Stats
	State() events.ConnectionState
	Options() rcon.Options
}

// Server is the REST API server.
type Server struct {
	cfg    config.APIConfig
	client RCON
	games  *command.GameClient
	logger zerolog.Logger

	hostInfo func() util.HostInfo
	started  time.Time

	mu         sync.Mutex
	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates an API server in front of client. games may be nil, in
// which case the command routes report no commands.
func NewServer(cfg config.APIConfig, client RCON, games *command.GameClient) *Server {
	switch {
	case gin.Mode() == gin.TestMode:
	case zerolog.GlobalLevel() <= zerolog.DebugLevel:
		gin.SetMode(gin.DebugMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		client:   client,
		games:    games,
		logger:   util.ComponentLogger("api"),
		hostInfo: sync.OnceValue(util.GetHostInfo),
		started:  time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Address, strconv.Itoa(s.cfg.Port))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := s.Addr()
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	useTLS := s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != ""
	if useTLS {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load API TLS certificate: %w", err)
		}
		httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	lc := reuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}
	if useTLS {
		ln = tls.NewListener(ln, httpServer.TLSConfig)
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Bool("tls", useTLS).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.logger))
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(s.cfg.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
	}

	protected := router.Group("/api")
	protected.Use(RequireToken(s.cfg.Token))
	{
		protected.GET("/stats", s.handleStats)
		protected.POST("/exec", s.handleExec)
		protected.GET("/commands", s.handleListCommands)
		protected.POST("/commands/:name", s.handleCallCommand)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "rconsole API is running"})
	})

	return router
}
