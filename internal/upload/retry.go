package upload

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/dgallion1/pdfchat/internal/pdfqa"
)

const (
	syncRetries  = 3
	syncMaxDelay = 30 * time.Second
)

// syncDelay is the wait before sync retry n (0-indexed): one second doubled
// per attempt, capped, plus up to half of that again at random.
func syncDelay(attempt int) time.Duration {
	d := syncMaxDelay
	if attempt < 5 {
		d = min(time.Second<<attempt, syncMaxDelay)
	}
	return d + rand.N(d/2)
}

// SyncAtStart is Sync for a page that was just opened, when the service may
// still be starting. Transport failures are retried with backoff; any answer
// from the service itself is final.
func (c *Controller) SyncAtStart(ctx context.Context) error {
	var (
		pdfs []pdfqa.UploadedPDF
		err  error
	)
	for attempt := 0; ; attempt++ {
		pdfs, err = c.svc.ListPDFs(ctx)
		if err == nil || pdfqa.IsAPIError(err) || attempt == syncRetries {
			break
		}
		wait := c.backoff(attempt)
		c.log.Warn("service unreachable, retrying", "attempt", attempt+1, "wait", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return c.applyList(ctx, pdfs, err)
}
