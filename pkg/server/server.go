// Package server is the HTTP edge: request routing, the error
// envelope, and per-request construction of the platform client from
// the caller's session.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smartrag/smartrag/pkg/apperr"
	"github.com/smartrag/smartrag/pkg/config"
	"github.com/smartrag/smartrag/pkg/logger"
	"github.com/smartrag/smartrag/pkg/observability"
	"github.com/smartrag/smartrag/pkg/platform"
	"github.com/smartrag/smartrag/pkg/service"
)

// Server binds the service to HTTP.
type Server struct {
	cfg     *config.Config
	service *service.Service
	httpSrv *http.Server
}

func New(cfg *config.Config, svc *service.Service) *Server {
	s := &Server{cfg: cfg, service: svc}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the router. Exposed separately so tests can drive the
// handler without a listening socket.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(observability.HTTPMiddleware)

	r.Get("/health", s.handleLiveness)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/generate", s.handleGenerate)
		r.Post("/rag/manage", s.handleRAGManage)
		r.Post("/rag/health", s.handleRAGHealth)
		r.Post("/rag/collections", s.handleListCollections)
		r.Delete("/rag/collections/{name}", s.handleDeleteCollection)
		r.Get("/cache/info", s.handleCacheInfo)
		r.Delete("/cache/clear", s.handleCacheClear)
	})
	return r
}

func (s *Server) Start() error {
	logger.GetLogger().Info("http server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// recoverer keeps the 200-with-envelope contract even on panics.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.GetLogger().Error("panic in handler", "path", r.URL.Path, "panic", rec)
				writeError(w, apperr.Newf(apperr.CodeInternalError, "внутренняя ошибка сервиса: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req service.GenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// transcript persistence and profile lookups need the caller's
	// platform session; a request without one still gets an answer
	var sess service.Session
	if client, err := platform.NewClientFromRequest(r); err == nil {
		sess = service.Session{
			Transcripts: platform.NewTranscriptStore(client),
			Users:       client,
		}
	} else {
		logger.GetLogger().Warn("no platform session, transcript disabled", "error", err)
	}

	resp, err := s.service.Generate(r.Context(), req, sess)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleRAGManage(w http.ResponseWriter, r *http.Request) {
	var req service.RAGManageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	client, err := platform.NewClientFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.service.ManageRAG(r.Context(), req, client)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleRAGHealth(w http.ResponseWriter, r *http.Request) {
	var req service.RAGHealthRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := s.service.RAGHealth(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status)
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	var req service.RAGHealthRequest
	if !decodeBody(w, r, &req) {
		return
	}
	infos, err := s.service.ListCollections(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"collections": infos})
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	vdbURL := r.URL.Query().Get("vdb_url")

	if err := s.service.DeleteCollection(r.Context(), vdbURL, name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"deleted": name})
}

func (s *Server) handleCacheInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.service.CacheInfo())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.service.CacheClear())
}
