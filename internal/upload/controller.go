// Package upload drives the PDF list half of the page: picking files,
// sending them to the service and removing them again.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/pdfchat/internal/page"
	"github.com/dgallion1/pdfchat/internal/pdfqa"
	"github.com/dgallion1/pdfchat/internal/picker"
)

// ErrNoFiles is returned when the picker produced an empty selection.
var ErrNoFiles = errors.New("no files selected")

// ErrDeclined is returned by Remove when the user did not confirm.
var ErrDeclined = errors.New("removal not confirmed")

const (
	msgNoFiles           = "Please select at least one PDF file."
	msgUploaded          = "PDFs uploaded successfully!"
	msgUploadFailed      = "An error occurred while uploading PDFs."
	msgUploadUnreachable = "Failed to upload PDFs."
	msgRemoveFailed      = `Failed to remove "%s".`
	msgSyncFailed        = "Failed to load the list of uploaded PDFs."
)

// Service is the part of the Q&A service the upload flow needs.
type Service interface {
	UploadPDFs(ctx context.Context, parts []pdfqa.Part) (string, error)
	RemovePDF(ctx context.Context, name string) (string, error)
	ListPDFs(ctx context.Context) ([]pdfqa.UploadedPDF, error)
}

// Prompter shows blocking dialogs to the user.
type Prompter interface {
	Alert(ctx context.Context, msg string)
	Confirm(ctx context.Context, msg string) bool
}

type Controller struct {
	page   *page.Page
	svc    Service
	prompt Prompter
	log    *slog.Logger

	backoff func(attempt int) time.Duration
}

func NewController(p *page.Page, svc Service, prompt Prompter, log *slog.Logger) *Controller {
	return &Controller{
		page:   p,
		svc:    svc,
		prompt: prompt,
		log:    log.With("component", "upload"),

		backoff: syncDelay,
	}
}

// Choose opens the picker and submits whatever it returns.
func (c *Controller) Choose(ctx context.Context, pk picker.Picker) error {
	files, err := pk.Pick(ctx)
	if err != nil {
		c.log.Error("pick files", "error", err)
		c.prompt.Alert(ctx, err.Error())
		return fmt.Errorf("pick files: %w", err)
	}
	return c.Submit(ctx, files)
}

// Submit uploads files in one request. On success each file gets a list
// entry, in selection order; on failure the list is left as it was. The
// loading indicator is cleared however the request ends.
func (c *Controller) Submit(ctx context.Context, files []picker.File) error {
	if len(files) == 0 {
		c.prompt.Alert(ctx, msgNoFiles)
		return ErrNoFiles
	}

	c.page.SetLoading(true)
	defer c.page.SetLoading(false)

	parts := make([]pdfqa.Part, len(files))
	for i, f := range files {
		parts[i] = pdfqa.Part{Name: f.Name, Open: f.Open}
		if f.Pages == 0 {
			c.log.Warn("could not read page count", "file", f.Name)
		}
	}

	msg, err := c.svc.UploadPDFs(ctx, parts)
	if err != nil {
		if pdfqa.IsAPIError(err) {
			c.log.Warn("upload rejected", "files", len(files), "error", err)
			c.prompt.Alert(ctx, pdfqa.Describe(err, msgUploadFailed))
		} else {
			c.log.Error("upload failed", "files", len(files), "error", err)
			c.prompt.Alert(ctx, msgUploadUnreachable)
		}
		return err
	}

	if msg == "" {
		msg = msgUploaded
	}
	c.prompt.Alert(ctx, msg)
	for _, f := range files {
		c.page.AddEntry(f.Name, f.Pages)
	}
	c.log.Info("uploaded", "files", len(files))
	return nil
}

// Remove asks for confirmation, takes the entry off the list and tells the
// service. The entry only stays removed once the service agrees; otherwise
// it goes back into its old slot.
func (c *Controller) Remove(ctx context.Context, id string) error {
	entry, err := c.page.Entry(id)
	if err != nil {
		return err
	}
	if !c.prompt.Confirm(ctx, page.ConfirmRemoval(entry.Name)) {
		return ErrDeclined
	}

	removal, err := c.page.RemoveEntry(id)
	if err != nil {
		// Removed by someone else while the dialog was open.
		return err
	}

	if _, err := c.svc.RemovePDF(ctx, entry.Name); err != nil {
		c.page.Restore(removal)
		c.log.Error("remove failed, entry restored", "file", entry.Name, "error", err)
		c.prompt.Alert(ctx, pdfqa.Describe(err, fmt.Sprintf(msgRemoveFailed, entry.Name)))
		return err
	}
	c.log.Info("removed", "file", entry.Name)
	return nil
}

// Sync adds entries for PDFs the service already holds but the list does
// not show yet. Names are the only identity the list has.
func (c *Controller) Sync(ctx context.Context) error {
	pdfs, err := c.svc.ListPDFs(ctx)
	return c.applyList(ctx, pdfs, err)
}

func (c *Controller) applyList(ctx context.Context, pdfs []pdfqa.UploadedPDF, err error) error {
	if err != nil {
		c.log.Error("list pdfs", "error", err)
		c.prompt.Alert(ctx, pdfqa.Describe(err, msgSyncFailed))
		return err
	}

	shown := make(map[string]bool)
	for _, e := range c.page.Entries() {
		shown[e.Name] = true
	}
	added := 0
	for _, pdf := range pdfs {
		if shown[pdf.Name] || !picker.Accepts(pdf.Name) {
			continue
		}
		c.page.AddEntry(pdf.Name, 0)
		shown[pdf.Name] = true
		added++
	}
	c.log.Info("synced pdf list", "server", len(pdfs), "added", added)
	return nil
}
