// Package httpapi exposes a running session over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/srg/myoctl/internal/gesture"
	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/session"
)

// Controller is the part of session.Controller the API uses
type Controller interface {
	State() session.State
	Mode() protocol.ModeConfiguration
	Device() (session.DeviceHandle, bool)
	Info() session.DeviceInfo
	Gesture() gesture.State
	Snapshot() (session.AggregatedData, bool)
	Stats() session.Stats

	Vibrate(ctx context.Context, t protocol.VibrationType) error
	Vibrate2(ctx context.Context, cmd protocol.Vibrate2) error
	SetLEDs(ctx context.Context, cmd protocol.SetLEDs) error
	Resync(ctx context.Context) error
}

var _ Controller = (*session.Controller)(nil)

// Server serves the status and control API
type Server struct {
	ctrl      Controller
	logger    *logrus.Logger
	startTime time.Time
	version   string
}

type Option func(*Server)

func WithLogger(logger *logrus.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates an API server for ctrl
func NewServer(ctrl Controller, opts ...Option) *Server {
	s := &Server{
		ctrl:      ctrl,
		startTime: time.Now(),
		version:   "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.New()
	}
	return s
}

// Engine builds a gin engine with CORS, recovery, request logging and the API routes
func (s *Server) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	s.SetupRoutes(r)
	return r
}

// SetupRoutes registers the API routes on r
func (s *Server) SetupRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1")
	{
		v1.GET("/state", s.handleGetState)
		v1.GET("/latest", s.handleGetLatest)
		v1.GET("/stats", s.handleGetStats)

		v1.POST("/vibrate", s.handleVibrate)
		v1.POST("/leds", s.handleSetLEDs)
		v1.POST("/resync", s.handleResync)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("HTTP request")
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP API listening")
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
