// Package console hosts the chat page in a terminal. Lines typed by the user
// drive the upload and chat controllers; page mutations are printed as they
// happen.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/dgallion1/pdfchat/internal/chat"
	"github.com/dgallion1/pdfchat/internal/page"
	"github.com/dgallion1/pdfchat/internal/picker"
	"github.com/dgallion1/pdfchat/internal/upload"
)

// Service is everything the console needs from the Q&A service.
type Service interface {
	chat.Service
	upload.Service
}

const helpText = `Type a question and press Enter to send it.
End a line with \ to continue the question on the next line.

  /add <path|glob>...   upload PDFs
  /list                 show uploaded PDFs
  /remove <n|name>      remove a PDF
  /sync                 list PDFs the service already has
  /history              replay the chat history
  /clear                clear the chat history
  /stats                answer latency
  /help                 this text
  /quit                 exit`

// Option configures a Console.
type Option func(*Console)

// WithoutGreeting skips the typed greeting at start.
func WithoutGreeting() Option {
	return func(c *Console) { c.greet = false }
}

// Console is a line-oriented front-end for one page.
type Console struct {
	in     *bufio.Scanner
	out    io.Writer
	outMu  sync.Mutex
	page   *page.Page
	chat   *chat.Controller
	upload *upload.Controller
	log    *slog.Logger
	greet  bool

	shownGreeting int
	wg            sync.WaitGroup
}

func New(in io.Reader, out io.Writer, p *page.Page, svc Service, log *slog.Logger, opts ...Option) *Console {
	c := &Console{
		in:    bufio.NewScanner(in),
		out:   out,
		page:  p,
		log:   log.With("component", "console"),
		greet: true,
	}
	for _, o := range opts {
		o(c)
	}
	c.chat = chat.NewController(p, svc, c, log)
	c.upload = upload.NewController(p, svc, c, log)
	p.Subscribe(c.onEvent)
	return c
}

// Chat exposes the chat controller.
func (c *Console) Chat() *chat.Controller { return c.chat }

// Upload exposes the upload controller.
func (c *Console) Upload() *upload.Controller { return c.upload }

// Alert prints a message on its own line.
func (c *Console) Alert(_ context.Context, msg string) {
	c.printf("! %s\n", msg)
}

// Confirm asks a yes/no question on the input stream. Anything but y or yes
// is a no, and so is the end of input.
func (c *Console) Confirm(_ context.Context, msg string) bool {
	c.printf("%s [y/N] ", msg)
	if !c.in.Scan() {
		c.printf("\n")
		return false
	}
	switch strings.ToLower(strings.TrimSpace(c.in.Text())) {
	case "y", "yes":
		return true
	}
	return false
}

// Run reads lines until /quit, the end of input or ctx is done. Questions
// and uploads in flight are waited for before it returns.
func (c *Console) Run(ctx context.Context) error {
	if c.greet {
		c.chat.PlayGreeting(ctx)
	}
	defer c.wg.Wait()

	for ctx.Err() == nil && c.in.Scan() {
		quit, err := c.handle(ctx, c.in.Text())
		if err != nil {
			c.log.Debug("command failed", "error", err)
		}
		if quit {
			return nil
		}
	}
	if err := c.in.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

func (c *Console) handle(ctx context.Context, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, c.typeLine(ctx, line)
	}

	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		c.printf("%s\n", helpText)
	case "/add":
		if arg == "" {
			c.Alert(ctx, "usage: /add <path|glob>...")
			return false, nil
		}
		c.background(func() error {
			return c.upload.Choose(ctx, picker.Paths(strings.Fields(arg)))
		})
	case "/list":
		c.printList()
	case "/remove":
		return false, c.remove(ctx, arg)
	case "/sync":
		return false, c.upload.Sync(ctx)
	case "/history":
		return false, c.chat.LoadHistory(ctx)
	case "/clear":
		return false, c.chat.ClearHistory(ctx)
	case "/stats":
		c.printStats()
	default:
		c.Alert(ctx, fmt.Sprintf("unknown command %s, try /help", cmd))
	}
	return false, nil
}

// typeLine feeds one input line to the composer. A trailing backslash is
// Shift+Enter; anything else ends with Enter and sends.
func (c *Console) typeLine(ctx context.Context, line string) error {
	composer := c.chat.Composer()
	if rest, ok := strings.CutSuffix(line, `\`); ok {
		composer.Type(rest)
		composer.KeyDown(chat.ShiftEnter)
		return nil
	}
	composer.Type(line)
	if composer.KeyDown(chat.Enter) != chat.ActionSend {
		return nil
	}
	done := c.chat.SendAsync(ctx)
	c.background(func() error { return <-done })
	return nil
}

func (c *Console) background(fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(); err != nil {
			c.log.Debug("background task failed", "error", err)
		}
	}()
}

func (c *Console) remove(ctx context.Context, arg string) error {
	if arg == "" {
		c.Alert(ctx, "usage: /remove <n|name>")
		return nil
	}
	entries := c.page.Entries()
	id := ""
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(entries) {
		id = entries[n-1].ID
	} else {
		for _, e := range entries {
			if e.Name == arg {
				id = e.ID
				break
			}
		}
	}
	if id == "" {
		c.Alert(ctx, fmt.Sprintf("no PDF %q in the list", arg))
		return page.ErrNotFound
	}

	err := c.upload.Remove(ctx, id)
	if errors.Is(err, upload.ErrDeclined) {
		c.printf("kept\n")
		return nil
	}
	return err
}

func (c *Console) printList() {
	entries := c.page.Entries()
	if len(entries) == 0 {
		c.printf("no PDFs uploaded\n")
		return
	}
	for i, e := range entries {
		if e.Pages > 0 {
			c.printf("%d. %s (%d pages)\n", i+1, e.Name, e.Pages)
		} else {
			c.printf("%d. %s\n", i+1, e.Name)
		}
	}
}

func (c *Console) printStats() {
	s := c.chat.Stats().Snapshot()
	if s.Count == 0 {
		c.printf("no questions asked in the last hour\n")
		return
	}
	c.printf("asked %d, failed %d, pending %d\n", s.Count, s.Failed, c.chat.Pending())
	c.printf("latency ms: min %d  p50 %.0f  p95 %.0f  max %d  avg %.0f\n",
		s.MinMs, s.P50Ms, s.P95Ms, s.MaxMs, s.AvgMs)
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
