// Package server exposes the annotation workspace as a local JSON API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/itohio/pulsepeak/pkg/annotate"
	"github.com/itohio/pulsepeak/pkg/infer"
	"github.com/itohio/pulsepeak/pkg/metrics"
	"github.com/itohio/pulsepeak/pkg/store"
)

const shutdownTimeout = 5 * time.Second

var ErrNoModel = errors.New("no model loaded")

type Options struct {
	Listen   string
	CacheTTL time.Duration

	// Detector enables the "model" detection method. ModelSampleRate is the rate
	// the model was trained at.
	Detector        *infer.Detector
	ModelSampleRate float64

	Metrics  *metrics.AnnotationMetrics
	Gatherer prometheus.Gatherer
}

// Server serves the annotation API. Editors are kept in a cache keyed by session
// id so that edits survive between requests until the cache entry expires.
type Server struct {
	opts    Options
	ws      *annotate.Workspace
	log     *zap.Logger
	echo    *echo.Echo
	editors *cache.Cache

	// Editors are not safe for concurrent use.
	mu sync.Mutex
}

func New(ws *annotate.Workspace, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Minute
	}
	s := &Server{
		opts:    opts,
		ws:      ws,
		log:     log,
		editors: cache.New(opts.CacheTTL, 2*opts.CacheTTL),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(s.observe)
	s.echo = e
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.echo.Group("/api")
	api.GET("/stats", s.stats)
	api.POST("/reload", s.reload)
	api.GET("/sessions", s.list)

	one := api.Group("/sessions/:idx")
	one.GET("", s.get)
	one.POST("/detect", s.detect)
	one.POST("/toggle", s.toggle)
	one.POST("/undo", s.undo)
	one.POST("/save", s.save)
	one.POST("/bad", s.bad)
	one.GET("/next", s.next)
	one.GET("/chart", s.chart)

	if s.opts.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Annotation server listening", zap.String("addr", s.opts.Listen))
		errCh <- s.echo.Start(s.opts.Listen)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// observe records request counts by route pattern.
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		code := c.Response().Status
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				code = he.Code
			} else {
				code = statusOf(err)
			}
		}
		s.opts.Metrics.RecordRequest(c.Path(), code)
		return err
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, annotate.ErrIndex):
		return http.StatusNotFound
	case errors.Is(err, annotate.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, annotate.ErrNoHistory), errors.Is(err, ErrNoModel):
		return http.StatusConflict
	case errors.Is(err, infer.ErrSignalTooShort):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := statusOf(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if code >= http.StatusInternalServerError {
		s.log.Error("Request failed", zap.String("path", c.Request().URL.Path), zap.Error(err))
	}
	if err := c.JSON(code, errorResponse{Error: msg}); err != nil {
		s.log.Warn("Failed to write error response", zap.Error(err))
	}
}

func index(c echo.Context) (int, error) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid session index")
	}
	return idx, nil
}

// editor returns the cached editor of the session in the idx path parameter.
// The caller must hold s.mu.
func (s *Server) editor(c echo.Context) (int, store.Session, *annotate.Editor, error) {
	idx, err := index(c)
	if err != nil {
		return 0, store.Session{}, nil, err
	}
	sess, err := s.ws.Session(idx)
	if err != nil {
		return idx, sess, nil, err
	}
	if cached, ok := s.editors.Get(sess.ID); ok {
		return idx, sess, cached.(*annotate.Editor), nil
	}
	e, err := s.ws.Open(idx)
	if err != nil {
		return idx, sess, nil, err
	}
	s.editors.Set(sess.ID, e, cache.DefaultExpiration)
	return idx, sess, e, nil
}
