// Package chat drives the question/answer half of the page: the greeting,
// the message input and the transcript.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgallion1/pdfchat/internal/page"
	"github.com/dgallion1/pdfchat/internal/pdfqa"
)

// ErrEmptyQuestion is returned by Send when the input is blank.
var ErrEmptyQuestion = errors.New("empty question")

const (
	msgEmptyQuestion  = "Please enter a question."
	msgAskFailed      = "An error occurred while fetching the answer."
	msgAskUnreachable = "Failed to ask the question."
	msgHistoryFailed  = "Failed to load chat history."
	msgClearFailed    = "Failed to clear chat history."

	excerptLen = 200
)

// Service is the part of the Q&A service the chat needs.
type Service interface {
	Ask(ctx context.Context, question string) (*pdfqa.Answer, error)
	History(ctx context.Context) ([]pdfqa.Turn, error)
	ClearHistory(ctx context.Context) error
}

// Alerter shows a blocking message to the user.
type Alerter interface {
	Alert(ctx context.Context, msg string)
}

// Controller wires the composer, the Q&A service and the page together.
type Controller struct {
	page     *page.Page
	svc      Service
	alert    Alerter
	log      *slog.Logger
	composer *Composer
	greeting *Typewriter
	stats    *Stats

	seq     atomic.Uint64
	pending atomic.Int64
}

func NewController(p *page.Page, svc Service, alerter Alerter, log *slog.Logger) *Controller {
	return &Controller{
		page:     p,
		svc:      svc,
		alert:    alerter,
		log:      log.With("component", "chat"),
		composer: &Composer{},
		greeting: NewTypewriter(GreetingText),
		stats:    NewStats(time.Hour),
	}
}

// Composer is the message input this controller sends from.
func (c *Controller) Composer() *Composer { return c.composer }

// Stats returns ask round-trip statistics.
func (c *Controller) Stats() *Stats { return c.stats }

// Pending is the number of questions waiting for a reply.
func (c *Controller) Pending() int { return int(c.pending.Load()) }

// PlayGreeting types the greeting into the page. It runs once per
// controller and blocks until the greeting is complete.
func (c *Controller) PlayGreeting(ctx context.Context) {
	c.greeting.Play(ctx, c.page.SetGreeting)
}

// KeyDown forwards a key press to the composer and sends on Enter.
func (c *Controller) KeyDown(ctx context.Context, k Key) error {
	if c.composer.KeyDown(k) == ActionSend {
		return c.Send(ctx)
	}
	return nil
}

// Send posts the composer's content as a question and blocks until the reply
// is on the page or the attempt failed. Concurrent sends are allowed; each
// one owns its loader, and its reply replaces that loader in place.
func (c *Controller) Send(ctx context.Context) error {
	wait, err := c.start(ctx)
	if err != nil {
		return err
	}
	return wait()
}

// SendAsync is Send with the network half on its own goroutine. The input
// is taken and the question bubble is on the page before it returns, so the
// caller can keep typing. The channel yields Send's result.
func (c *Controller) SendAsync(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	wait, err := c.start(ctx)
	if err != nil {
		done <- err
		close(done)
		return done
	}
	go func() {
		done <- wait()
		close(done)
	}()
	return done
}

func (c *Controller) start(ctx context.Context) (func() error, error) {
	raw := c.composer.take()
	question := strings.TrimSpace(raw)
	if question == "" {
		c.composer.Set(raw)
		c.alert.Alert(ctx, msgEmptyQuestion)
		return nil, ErrEmptyQuestion
	}

	seq := c.seq.Add(1)
	c.page.AppendUserMessage(question)
	c.page.ShowTranscript()
	c.page.AppendLoader(seq)
	c.pending.Add(1)

	return func() error {
		defer c.pending.Add(-1)
		return c.ask(ctx, seq, question)
	}, nil
}

func (c *Controller) ask(ctx context.Context, seq uint64, question string) error {
	log := c.log.With("seq", seq)
	start := time.Now()
	answer, err := c.svc.Ask(ctx, question)
	c.stats.Record(time.Since(start), err != nil)

	if err != nil {
		if dropErr := c.page.DropLoader(seq); dropErr != nil {
			log.Warn("drop loader", "error", dropErr)
		}
		if pdfqa.IsAPIError(err) {
			log.Warn("ask rejected", "error", err)
			c.alert.Alert(ctx, pdfqa.Describe(err, msgAskFailed))
		} else {
			log.Error("ask failed", "error", err)
			c.alert.Alert(ctx, msgAskUnreachable)
		}
		return err
	}

	var sources []page.Source
	for _, ex := range answer.Examples {
		sources = append(sources, page.Source{Name: ex.Source, Excerpt: excerpt(ex.Content)})
	}
	if _, err := c.page.ResolveLoader(seq, answer.Response, sources); err != nil {
		log.Warn("render reply", "error", err)
	}
	log.Debug("answered", "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// LoadHistory replays the service-side chat history into the transcript.
func (c *Controller) LoadHistory(ctx context.Context) error {
	turns, err := c.svc.History(ctx)
	if err != nil {
		c.log.Error("load history", "error", err)
		c.alert.Alert(ctx, pdfqa.Describe(err, msgHistoryFailed))
		return err
	}
	if len(turns) == 0 {
		return nil
	}
	c.page.ShowTranscript()
	for _, t := range turns {
		c.page.AppendUserHistory(t.User)
		if _, err := c.page.AppendBotMessage(t.Bot); err != nil {
			c.log.Warn("render history reply", "error", err)
		}
	}
	return nil
}

// ClearHistory deletes the service-side history and empties the transcript.
func (c *Controller) ClearHistory(ctx context.Context) error {
	if err := c.svc.ClearHistory(ctx); err != nil {
		c.log.Error("clear history", "error", err)
		c.alert.Alert(ctx, pdfqa.Describe(err, msgClearFailed))
		return err
	}
	c.page.ClearTranscript()
	return nil
}

func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= excerptLen {
		return s
	}
	return string(r[:excerptLen]) + "…"
}
