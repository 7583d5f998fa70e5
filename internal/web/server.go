// Package web hosts the chat page over HTTP for a browser. Forms on the page
// post to /ui/* handlers that drive the same controllers the console uses,
// then redirect back to the page.
package web

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/pdfchat/internal/chat"
	"github.com/dgallion1/pdfchat/internal/config"
	"github.com/dgallion1/pdfchat/internal/page"
	"github.com/dgallion1/pdfchat/internal/upload"
)

// Service is everything the web front-end needs from the Q&A service.
type Service interface {
	chat.Service
	upload.Service
}

// Server serves one page. There is a single implicit session: every browser
// sees and edits the same page.
type Server struct {
	router chi.Router
	page   *page.Page
	chat   *chat.Controller
	upload *upload.Controller
	notes  *notifier
	log    *slog.Logger
	cfg    config.Config

	// held from filling the composer until the send has taken it
	composeMu sync.Mutex
}

// NewServer creates and configures the HTTP server.
func NewServer(p *page.Page, svc Service, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		page:  p,
		notes: &notifier{},
		log:   log,
		cfg:   cfg,
	}
	s.chat = chat.NewController(p, svc, s.notes, log)
	s.upload = upload.NewController(p, svc, s.notes, log)
	s.setupRoutes()
	return s
}

// Chat exposes the chat controller.
func (s *Server) Chat() *chat.Controller { return s.chat }

// Upload exposes the upload controller.
func (s *Server) Upload() *upload.Controller { return s.upload }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)
	r.Get("/", s.handlePage)

	r.Route("/ui", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Post("/entries/{id}/remove", s.handleRemove)
		r.Post("/sync", s.handleSync)
		r.Post("/ask", s.handleAsk)
		r.Post("/history/load", s.handleLoadHistory)
		r.Post("/history/clear", s.handleClearHistory)
		r.Get("/stats", s.handleStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
