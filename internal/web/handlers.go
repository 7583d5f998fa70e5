package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/pdfchat/internal/chat"
	"github.com/dgallion1/pdfchat/internal/page"
	"github.com/dgallion1/pdfchat/internal/picker"
)

const (
	multipartMemory = 32 << 20

	msgUploadTooLarge = "The selected files are too large to upload."
	msgBadForm        = "The form could not be read."
)

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.page.Render(w, s.notes.drain()...); err != nil {
		s.log.Error("render page", "error", err)
	}
}

// handleUpload takes the browser's file selection and hands it to the upload
// controller as a picker.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.log.Warn("upload too large", "limit", tooBig.Limit)
			s.notes.Alert(r.Context(), msgUploadTooLarge)
		} else if !errors.Is(err, http.ErrNotMultipart) {
			s.log.Warn("parse upload form", "error", err)
			s.notes.Alert(r.Context(), msgBadForm)
		} else {
			// A form with no file input at all is an empty selection.
			_ = s.upload.Submit(r.Context(), nil)
		}
		s.backToPage(w, r)
		return
	}
	defer r.MultipartForm.RemoveAll()

	_ = s.upload.Choose(r.Context(), picker.Multipart(r.MultipartForm.File["pdfs"]))
	s.backToPage(w, r)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := withConfirmation(r.Context(), r.FormValue("confirm") == "yes")

	if err := s.upload.Remove(ctx, id); errors.Is(err, page.ErrNotFound) {
		jsonError(w, "no such entry: "+id, http.StatusNotFound)
		return
	}
	s.backToPage(w, r)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	_ = s.upload.Sync(r.Context())
	s.backToPage(w, r)
}

// handleAsk fills the composer with the posted question and presses Enter.
// The response waits for the reply so the redirect shows it.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	question := r.FormValue("question")

	s.composeMu.Lock()
	composer := s.chat.Composer()
	composer.Set(question)
	var done <-chan error
	if composer.KeyDown(chat.Enter) == chat.ActionSend {
		done = s.chat.SendAsync(r.Context())
	}
	s.composeMu.Unlock()

	if done != nil {
		<-done
	}
	s.backToPage(w, r)
}

func (s *Server) handleLoadHistory(w http.ResponseWriter, r *http.Request) {
	_ = s.chat.LoadHistory(r.Context())
	s.backToPage(w, r)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	_ = s.chat.ClearHistory(r.Context())
	s.backToPage(w, r)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"pending": s.chat.Pending(),
		"entries": len(s.page.Entries()),
		"ask":     s.chat.Stats().Snapshot(),
	})
}

// backToPage finishes a form post. Failures have already been queued as
// alerts for the next render.
func (s *Server) backToPage(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
