package review

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Server receives reviewer decisions over HTTP. The review documents
// are opened from the filesystem, so cross-origin requests from
// file:// pages must be allowed.
type Server struct {
	orch *Orchestrator
	srv  *http.Server
}

func NewServer(orch *Orchestrator, port int) *Server {
	s := &Server{orch: orch}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}))
	r.Get("/validate", s.handleValidate)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start serves until the context ends, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("decision server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return eris.Wrap(err, "review: serve")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return eris.Wrap(s.srv.Shutdown(shutdownCtx), "review: shutdown")
	}
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	extractionID, err := strconv.ParseInt(r.URL.Query().Get("extraction_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid or missing extraction_id", http.StatusBadRequest)
		return
	}

	decision := Decision(r.URL.Query().Get("decision"))
	if decision != DecisionAccept && decision != DecisionReject {
		http.Error(w, "decision must be accept or reject", http.StatusBadRequest)
		return
	}

	err = s.orch.Decide(r.Context(), extractionID, decision)
	switch {
	case err == nil:
	case eris.Is(err, ErrQueueMismatch), eris.Is(err, ErrNothingUnderReview):
		zap.L().Warn("refused out-of-turn decision",
			zap.Int64("extraction_id", extractionID), zap.Error(err))
		http.Error(w, "extraction is not under review", http.StatusConflict)
		return
	default:
		zap.L().Error("decision failed",
			zap.Int64("extraction_id", extractionID), zap.Error(err))
		http.Error(w, "internal error recording decision", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><title>Decision recorded</title></head>
<body style="font-family: system-ui, sans-serif; margin: 2rem;">
<h1>Decision recorded</h1>
<p>Extraction #%d marked <strong>%s</strong>. You can close this tab;
the next item will open shortly.</p>
</body></html>`, extractionID, decision)
}
