package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/pdfchat/internal/page"
	"github.com/dgallion1/pdfchat/internal/pdfqa"
)

type askResult struct {
	answer *pdfqa.Answer
	err    error
}

// fakeService answers from a script keyed by question. A question with a
// gate channel blocks until the test closes it.
type fakeService struct {
	mu        sync.Mutex
	asked     []string
	answers   map[string]askResult
	gates     map[string]chan struct{}
	history   []pdfqa.Turn
	histErr   error
	clearErr  error
	cleared   bool
	askCalled chan string
}

func newFakeService() *fakeService {
	return &fakeService{
		answers:   map[string]askResult{},
		gates:     map[string]chan struct{}{},
		askCalled: make(chan string, 16),
	}
}

func (f *fakeService) Ask(ctx context.Context, question string) (*pdfqa.Answer, error) {
	f.mu.Lock()
	f.asked = append(f.asked, question)
	res, ok := f.answers[question]
	gate := f.gates[question]
	f.mu.Unlock()

	f.askCalled <- question
	if gate != nil {
		<-gate
	}
	if !ok {
		return &pdfqa.Answer{Response: "echo: " + question}, nil
	}
	return res.answer, res.err
}

func (f *fakeService) History(ctx context.Context) ([]pdfqa.Turn, error) {
	return f.history, f.histErr
}

func (f *fakeService) ClearHistory(ctx context.Context) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	f.cleared = true
	return nil
}

func (f *fakeService) askedQuestions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.asked...)
}

type recordingAlerter struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingAlerter) Alert(_ context.Context, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingAlerter) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func newTestController(t *testing.T) (*Controller, *page.Page, *fakeService, *recordingAlerter) {
	t.Helper()
	p, err := page.New(page.Assets{BotAvatarURL: "bot.png", UserAvatarURL: "user.png", PDFIconURL: "pdf.png"})
	require.NoError(t, err)
	svc := newFakeService()
	alerts := &recordingAlerter{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewController(p, svc, alerts, log), p, svc, alerts
}

func TestSend_Success(t *testing.T) {
	c, p, svc, alerts := newTestController(t)
	svc.answers["hello"] = askResult{answer: &pdfqa.Answer{Response: "Hi there"}}

	c.Composer().Type("  hello  ")
	require.NoError(t, c.Send(context.Background()))

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, page.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Text, "question is trimmed")
	assert.Equal(t, page.RoleBot, msgs[1].Role)
	assert.Equal(t, "Hi there", msgs[1].Text)

	assert.Equal(t, "", c.Composer().Value())
	assert.True(t, p.TranscriptVisible())
	assert.Empty(t, p.PendingLoaders())
	assert.Empty(t, alerts.all())
	assert.Equal(t, []string{"hello"}, svc.askedQuestions())
	assert.Equal(t, 1, c.Stats().Snapshot().Count)
}

func TestSend_LoaderVisibleWhileWaiting(t *testing.T) {
	c, p, svc, _ := newTestController(t)
	gate := make(chan struct{})
	svc.gates["slow"] = gate

	c.Composer().Type("slow")
	done := make(chan error, 1)
	go func() { done <- c.Send(context.Background()) }()

	<-svc.askCalled
	msgs := p.Messages()
	require.Len(t, msgs, 1, "user bubble is shown before the reply")
	assert.Equal(t, "slow", msgs[0].Text)
	assert.Len(t, p.PendingLoaders(), 1)
	assert.Equal(t, 1, c.Pending())

	close(gate)
	require.NoError(t, <-done)
	assert.Empty(t, p.PendingLoaders())
	assert.Equal(t, 0, c.Pending())
	assert.Len(t, p.Messages(), 2)
}

func TestSend_EmptyInput(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\t\n"} {
		c, p, svc, alerts := newTestController(t)
		c.Composer().Type(input)

		err := c.Send(context.Background())
		require.ErrorIs(t, err, ErrEmptyQuestion)
		assert.Empty(t, p.Messages())
		assert.Empty(t, svc.askedQuestions())
		assert.Equal(t, []string{"Please enter a question."}, alerts.all())
		assert.Equal(t, input, c.Composer().Value(), "blank input is left alone")
		assert.False(t, p.TranscriptVisible())
	}
}

func TestSend_ServerError(t *testing.T) {
	c, p, svc, alerts := newTestController(t)
	svc.answers["q"] = askResult{err: &pdfqa.APIError{Op: "ask", Status: 500, Message: "model overloaded"}}

	c.Composer().Type("q")
	require.Error(t, c.Send(context.Background()))

	msgs := p.Messages()
	require.Len(t, msgs, 1, "unanswered user turn stays")
	assert.Equal(t, page.RoleUser, msgs[0].Role)
	assert.Empty(t, p.PendingLoaders())
	assert.Equal(t, []string{"model overloaded"}, alerts.all())
	assert.Equal(t, 1, c.Stats().Snapshot().Failed)
}

func TestSend_ServerErrorWithoutMessage(t *testing.T) {
	c, _, svc, alerts := newTestController(t)
	svc.answers["q"] = askResult{err: &pdfqa.APIError{Op: "ask", Status: 502}}

	c.Composer().Type("q")
	require.Error(t, c.Send(context.Background()))
	assert.Equal(t, []string{"An error occurred while fetching the answer."}, alerts.all())
}

func TestSend_TransportError(t *testing.T) {
	c, p, svc, alerts := newTestController(t)
	svc.answers["q"] = askResult{err: errors.New("ask: connection refused")}

	c.Composer().Type("q")
	require.Error(t, c.Send(context.Background()))
	assert.Len(t, p.Messages(), 1)
	assert.Equal(t, []string{"Failed to ask the question."}, alerts.all())
}

func TestKeyDown_EnterMatchesSend(t *testing.T) {
	c, p, svc, _ := newTestController(t)
	c.Composer().Type("hello")
	require.NoError(t, c.KeyDown(context.Background(), Enter))
	assert.Equal(t, []string{"hello"}, svc.askedQuestions())
	assert.Len(t, p.Messages(), 2)
}

func TestKeyDown_ShiftEnterInsertsNewline(t *testing.T) {
	c, p, svc, _ := newTestController(t)
	c.Composer().Type("hello")
	require.NoError(t, c.KeyDown(context.Background(), ShiftEnter))
	assert.Equal(t, "hello\n", c.Composer().Value())
	assert.Empty(t, svc.askedQuestions())
	assert.Empty(t, p.Messages())

	c.Composer().Type("world")
	require.NoError(t, c.KeyDown(context.Background(), Enter))
	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello\nworld", msgs[0].Text)
}

func TestKeyDown_OtherKeys(t *testing.T) {
	c, _, svc, _ := newTestController(t)
	c.Composer().Type("x")
	require.NoError(t, c.KeyDown(context.Background(), Key{Name: "a"}))
	assert.Empty(t, svc.askedQuestions())
	assert.Equal(t, "x", c.Composer().Value())
}

func TestSend_OverlappingRepliesStayWithTheirQuestions(t *testing.T) {
	c, p, svc, _ := newTestController(t)
	gateFirst := make(chan struct{})
	svc.gates["first"] = gateFirst
	svc.answers["first"] = askResult{answer: &pdfqa.Answer{Response: "answer to first"}}
	svc.answers["second"] = askResult{answer: &pdfqa.Answer{Response: "answer to second"}}

	ctx := context.Background()
	c.Composer().Type("first")
	firstDone := make(chan error, 1)
	go func() { firstDone <- c.Send(ctx) }()
	<-svc.askCalled

	c.Composer().Type("second")
	require.NoError(t, c.Send(ctx))
	<-svc.askCalled

	close(gateFirst)
	require.NoError(t, <-firstDone)

	var texts []string
	for _, m := range p.Messages() {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"first", "answer to first", "second", "answer to second"}, texts)
}

func TestSendAsync_TakesInputBeforeReturning(t *testing.T) {
	c, p, svc, _ := newTestController(t)
	gate := make(chan struct{})
	svc.gates["slow"] = gate

	c.Composer().Type("slow")
	done := c.SendAsync(context.Background())
	assert.Equal(t, "", c.Composer().Value(), "input is free for the next question")
	require.Len(t, p.Messages(), 1)
	assert.Len(t, p.PendingLoaders(), 1)

	<-svc.askCalled
	close(gate)
	require.NoError(t, <-done)
	assert.Empty(t, p.PendingLoaders())
}

func TestSendAsync_EmptyInput(t *testing.T) {
	c, _, svc, alerts := newTestController(t)
	c.Composer().Type("  ")
	require.ErrorIs(t, <-c.SendAsync(context.Background()), ErrEmptyQuestion)
	assert.Empty(t, svc.askedQuestions())
	assert.Equal(t, []string{"Please enter a question."}, alerts.all())
}

func TestSend_Sources(t *testing.T) {
	c, p, svc, _ := newTestController(t)
	long := ""
	for range 300 {
		long += "x"
	}
	svc.answers["q"] = askResult{answer: &pdfqa.Answer{
		Response: "see chapter 2",
		Examples: []pdfqa.Example{{Source: "book.pdf", Content: long}},
	}}
	c.Composer().Type("q")
	require.NoError(t, c.Send(context.Background()))

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "see chapter 2", msgs[1].Text)
	assert.Equal(t, []string{"book.pdf"}, msgs[1].Sources)
	assert.Len(t, []rune(excerpt(long)), excerptLen+1)
}

func TestLoadHistory(t *testing.T) {
	c, p, svc, _ := newTestController(t)
	svc.history = []pdfqa.Turn{{User: "q1", Bot: "a1"}, {User: "q2", Bot: "a2"}}

	require.NoError(t, c.LoadHistory(context.Background()))
	var texts []string
	for _, m := range p.Messages() {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"q1", "a1", "q2", "a2"}, texts)
	assert.True(t, p.TranscriptVisible())
}

func TestLoadHistory_Failure(t *testing.T) {
	c, p, svc, alerts := newTestController(t)
	svc.histErr = errors.New("history: connection refused")

	require.Error(t, c.LoadHistory(context.Background()))
	assert.Empty(t, p.Messages())
	assert.Equal(t, []string{"Failed to load chat history."}, alerts.all())
}

func TestClearHistory(t *testing.T) {
	c, p, svc, _ := newTestController(t)
	c.Composer().Type("q")
	require.NoError(t, c.Send(context.Background()))

	require.NoError(t, c.ClearHistory(context.Background()))
	assert.True(t, svc.cleared)
	assert.Empty(t, p.Messages())
	assert.False(t, p.TranscriptVisible())
}

func TestClearHistory_FailureKeepsTranscript(t *testing.T) {
	c, p, svc, alerts := newTestController(t)
	c.Composer().Type("q")
	require.NoError(t, c.Send(context.Background()))
	svc.clearErr = &pdfqa.APIError{Op: "clear history", Status: 500}

	require.Error(t, c.ClearHistory(context.Background()))
	assert.Len(t, p.Messages(), 2)
	assert.Equal(t, []string{"Failed to clear chat history."}, alerts.all())
}

func TestPlayGreeting(t *testing.T) {
	c, p, _, _ := newTestController(t)
	c.greeting.startDelay = 0
	c.greeting.charDelay = 0

	c.PlayGreeting(context.Background())
	assert.Equal(t, GreetingText, p.Greeting())

	// Plays only once.
	p.SetGreeting("changed")
	c.PlayGreeting(context.Background())
	assert.Equal(t, "changed", p.Greeting())
}

func TestTypewriter_RevealsOneCharacterAtATime(t *testing.T) {
	tw := NewTypewriter("Hé!")
	tw.startDelay = 0
	tw.charDelay = time.Millisecond

	var frames []string
	tw.Play(context.Background(), func(s string) { frames = append(frames, s) })
	assert.Equal(t, []string{"", "H", "Hé", "Hé!"}, frames)
}

func TestTypewriter_StopsWithPage(t *testing.T) {
	tw := NewTypewriter(GreetingText)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var frames []string
	tw.Play(ctx, func(s string) { frames = append(frames, s) })
	assert.Empty(t, frames)
}

func TestTypewriter_DefaultSpeed(t *testing.T) {
	tw := NewTypewriter(GreetingText)
	assert.Equal(t, 10*time.Millisecond, tw.startDelay)
	assert.Equal(t, 80*time.Millisecond, tw.charDelay)
}

// newServiceController wires a controller to a real client talking to
// handler, so reply parsing is part of the test.
func newServiceController(t *testing.T, handler http.HandlerFunc) (*Controller, *page.Page, *recordingAlerter) {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/ask", handler)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	client := pdfqa.NewClient(srv.URL, pdfqa.DefaultPaths, 0)
	t.Cleanup(client.Close)

	p, err := page.New(page.Assets{BotAvatarURL: "bot.png", UserAvatarURL: "user.png", PDFIconURL: "pdf.png"})
	require.NoError(t, err)
	alerts := &recordingAlerter{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewController(p, client, alerts, log), p, alerts
}

func TestSend_ProxyErrorPageIsAParseFailure(t *testing.T) {
	c, p, alerts := newServiceController(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "<html>502 Bad Gateway</html>", http.StatusBadGateway)
	})

	c.Composer().Type("hello")
	require.Error(t, c.Send(context.Background()))
	assert.Equal(t, []string{"Failed to ask the question."}, alerts.all())
	assert.Empty(t, p.PendingLoaders())
	require.Len(t, p.Messages(), 1, "only the question stays")
	assert.Equal(t, page.RoleUser, p.Messages()[0].Role)
}

func TestSend_ReplyWithoutResponseIsAParseFailure(t *testing.T) {
	c, p, alerts := newServiceController(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"weird"}`))
	})

	c.Composer().Type("hello")
	err := c.Send(context.Background())
	require.ErrorIs(t, err, pdfqa.ErrNoResponse)
	assert.Equal(t, []string{"Failed to ask the question."}, alerts.all())
	assert.Empty(t, p.PendingLoaders())
	require.Len(t, p.Messages(), 1, "no bot bubble")
	assert.Equal(t, "hello", p.Messages()[0].Text)
}

func TestSend_JSONServerErrorUsesItsMessage(t *testing.T) {
	c, _, alerts := newServiceController(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"index not ready"}`))
	})

	c.Composer().Type("hello")
	require.Error(t, c.Send(context.Background()))
	assert.Equal(t, []string{"index not ready"}, alerts.all())
}
