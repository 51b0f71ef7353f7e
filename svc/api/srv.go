package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
	"slugbin/cfg"
	"slugbin/metrics"
	"slugbin/svc/lim"
	"slugbin/svc/svc"
	"slugbin/svc/util"
)

// Pinger reports whether the record backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router     *chi.Mux
	paste      *svc.Paste
	lim        *lim.Limiter
	cfg        *cfg.Cfg
	backend    Pinger
	httpServer *http.Server
}

func NewServer(c *cfg.Cfg, p *svc.Paste, l *lim.Limiter, backend Pinger) *Server {
	r := chi.NewRouter()
	mw := NewMw(l, c)
	s := &Server{
		router:  r,
		paste:   p,
		lim:     l,
		cfg:     c,
		backend: backend,
		httpServer: &http.Server{
			Addr:           ":" + c.Port,
			Handler:        r,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 256 * 1024,
		},
	}
	r.Use(mw.Recoverer)
	r.Use(mw.CORS)
	r.Get("/health", s.Health)
	r.Get("/ready", s.Ready)
	r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	if c.IsDevelopment() {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Group(func(r chi.Router) {
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			route := chi.RouteContext(req.Context()).RoutePattern()
			metrics.RequestDuration.WithLabelValues(req.Method, route, strconv.Itoa(status)).Observe(dur.Seconds())
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("route", route).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.JSONContentType)
		hdl := &Hdl{paste: p, cfg: c}
		r.With(mw.RateLimit("create")).Post("/pastes", hdl.CreatePaste)
		r.With(mw.RateLimit("read")).Get("/pastes/{slug}", hdl.GetPaste)
		r.With(mw.RateLimit("update")).Put("/pastes/{slug}", hdl.UpdatePaste)
		r.With(mw.RateLimit("delete")).Delete("/pastes/{slug}", hdl.DeletePaste)
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) SetTimeouts(read, write, idle time.Duration) {
	s.httpServer.ReadTimeout = read
	s.httpServer.WriteTimeout = write
	s.httpServer.IdleTimeout = idle
}

func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
