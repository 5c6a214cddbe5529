package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/ewbridge/internal/auth"
	"github.com/danmuck/ewbridge/internal/link"
	"github.com/danmuck/ewbridge/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	Version         = "0.1.0"
	shutdownTimeout = 5 * time.Second
)

// StatusSource is the bridge state exposed over HTTP.
type StatusSource interface {
	Status() link.Status
	Ready() bool
}

type Config struct {
	ID          string
	Addr        string
	CorsOrigins []string
	// Token guards /status and /stream when set.
	Token   string
	TLSCert string
	TLSKey  string
}

// Server is the admin HTTP surface: probes, status, metrics and the live
// sample stream.
type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	router  *gin.Engine
	status  StatusSource
	stream  http.Handler
	guard   auth.Validator
	tlsCert string
	tlsKey  string
}

// New builds the router. stream may be nil, in which case /stream is not
// registered.
func New(cfg Config, status StatusSource, stream http.Handler) *Server {
	observability.RegisterMetrics()
	if cfg.ID == "" {
		cfg.ID = "ewbridge"
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	if origins := normalizeOrigins(cfg.CorsOrigins); len(origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:       cfg.ID,
		Addr:     cfg.Addr,
		Appeared: time.Now(),
		router:   r,
		status:   status,
		stream:   stream,
		tlsCert:  cfg.TLSCert,
		tlsKey:   cfg.TLSKey,
	}
	if cfg.Token != "" {
		s.guard = auth.StaticToken{Token: cfg.Token}
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": Version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.status.Ready()
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":   ready,
			"state":   s.status.Status().State,
			"service": s.ID,
			"version": Version,
		})
	})

	s.router.GET("/status", s.requireToken, func(c *gin.Context) {
		c.JSON(http.StatusOK, s.status.Status())
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.stream != nil {
		s.router.GET("/stream", s.requireToken, gin.WrapH(s.stream))
	}
}

func (s *Server) requireToken(c *gin.Context) {
	if s.guard == nil {
		c.Next()
		return
	}
	if err := s.guard.Validate(auth.RequestToken(c.Request)); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Next()
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	tls := s.tlsCert != ""
	go func() {
		if tls {
			errCh <- srv.ServeTLS(ln, s.tlsCert, s.tlsKey)
			return
		}
		errCh <- srv.Serve(ln)
	}()
	log.Info().Str("addr", ln.Addr().String()).Bool("tls", tls).Msg("admin server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		if origin == "" {
			continue
		}
		out = append(out, origin)
	}
	return out
}
