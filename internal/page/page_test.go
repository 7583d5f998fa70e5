package page

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

var testAssets = Assets{
	BotAvatarURL:  "https://cdn.test/bot.png",
	UserAvatarURL: "https://cdn.test/user.png",
	PDFIconURL:    "https://cdn.test/pdf.svg",
}

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return func() time.Time { return t0 }
}

func newTestPage(t *testing.T, opts ...Option) *Page {
	t.Helper()
	opts = append([]Option{WithClock(fixedClock())}, opts...)
	p, err := New(testAssets, opts...)
	require.NoError(t, err)
	return p
}

func render(t *testing.T, p *Page, alerts ...string) string {
	t.Helper()
	var sb strings.Builder
	require.NoError(t, p.Render(&sb, alerts...))
	return sb.String()
}

func entryNames(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestNew_InitialState(t *testing.T) {
	p := newTestPage(t)
	assert.Empty(t, p.Entries())
	assert.Empty(t, p.Messages())
	assert.False(t, p.Loading())
	assert.False(t, p.TranscriptVisible())
	assert.Equal(t, "", p.Greeting())

	out := render(t, p)
	assert.Contains(t, out, `id="pdfList"`)
	assert.Contains(t, out, `accept=".pdf"`)
}

func TestAddEntry_OrderAndMarkup(t *testing.T) {
	p := newTestPage(t)
	a := p.AddEntry("a.pdf", 3)
	p.AddEntry("b.pdf", 0)
	p.AddEntry("a.pdf", 1)

	entries := p.Entries()
	assert.Equal(t, []string{"a.pdf", "b.pdf", "a.pdf"}, entryNames(entries))
	assert.Equal(t, 3, entries[0].Pages)
	assert.NotEqual(t, entries[0].ID, entries[2].ID, "same name, distinct rows")

	got, err := p.Entry(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	out := render(t, p)
	assert.Contains(t, out, `src="https://cdn.test/pdf.svg"`)
	assert.Contains(t, out, `<span class="pdf-name">b.pdf</span>`)
	assert.Contains(t, out, `formaction="/ui/entries/`+a.ID+`/remove"`)
}

func TestAddEntry_EscapesName(t *testing.T) {
	p := newTestPage(t)
	p.AddEntry("<script>x</script>.pdf", 0)
	out := render(t, p)
	assert.NotContains(t, out, "<script>x</script>")
	assert.Equal(t, "<script>x</script>.pdf", p.Entries()[0].Name)
}

func TestAddEntry_RemoveButtonConfirmIsValidJavaScript(t *testing.T) {
	p := newTestPage(t)
	name := "tag\U000E0001 \"quoted\" </script>\u2028.pdf"
	p.AddEntry(name, 0)

	doc, err := html.Parse(strings.NewReader(render(t, p)))
	require.NoError(t, err)
	btn := findByClass(doc, "remove-btn")
	require.NotNil(t, btn)

	onclick := getAttr(btn, "onclick")
	lit, ok := strings.CutPrefix(onclick, "return confirm(")
	require.True(t, ok, onclick)
	lit, ok = strings.CutSuffix(lit, ")")
	require.True(t, ok, onclick)

	assert.NotContains(t, lit, `\U`, "Go-only escape")
	assert.NotContains(t, lit, "\u2028", "raw line separator ends a JS string")
	var msg string
	require.NoError(t, json.Unmarshal([]byte(lit), &msg))
	assert.Equal(t, `Are you sure you want to remove "`+name+`"?`, msg)
}

func TestRemoveAndRestore_KeepsPosition(t *testing.T) {
	p := newTestPage(t)
	p.AddEntry("a.pdf", 0)
	b := p.AddEntry("b.pdf", 0)
	p.AddEntry("c.pdf", 0)

	r, err := p.RemoveEntry(b.ID)
	require.NoError(t, err)
	assert.Equal(t, "b.pdf", r.Entry.Name)
	assert.Equal(t, []string{"a.pdf", "c.pdf"}, entryNames(p.Entries()))

	p.Restore(r)
	assert.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf"}, entryNames(p.Entries()))

	// Restoring twice is a no-op.
	p.Restore(r)
	assert.Len(t, p.Entries(), 3)
}

func TestRestore_NeighbourGone(t *testing.T) {
	p := newTestPage(t)
	a := p.AddEntry("a.pdf", 0)
	b := p.AddEntry("b.pdf", 0)
	p.AddEntry("c.pdf", 0)

	ra, err := p.RemoveEntry(a.ID)
	require.NoError(t, err)
	_, err = p.RemoveEntry(b.ID)
	require.NoError(t, err)

	p.Restore(ra)
	assert.Equal(t, []string{"c.pdf", "a.pdf"}, entryNames(p.Entries()))
}

func TestRemoveEntry_Unknown(t *testing.T) {
	p := newTestPage(t)
	_, err := p.RemoveEntry("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = p.Entry("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLoading(t *testing.T) {
	p := newTestPage(t)
	p.SetLoading(true)
	assert.True(t, p.Loading())
	assert.Contains(t, render(t, p), `id="loadingIndicator" style="display: flex"`)
	p.SetLoading(false)
	assert.False(t, p.Loading())
}

func TestGreetingAndTranscript(t *testing.T) {
	p := newTestPage(t)
	p.SetGreeting("Hel")
	assert.Equal(t, "Hel", p.Greeting())

	p.ShowTranscript()
	assert.True(t, p.TranscriptVisible())
	assert.Contains(t, render(t, p), `class="hello-what-can-i-help-you-with" style="display: none"`)

	p.AppendUserMessage("hi")
	p.ClearTranscript()
	assert.False(t, p.TranscriptVisible())
	assert.Empty(t, p.Messages())
}

func TestUserMessage_LineBreaksAndTimestamp(t *testing.T) {
	p := newTestPage(t)
	msg := p.AppendUserMessage("line one\nline two")
	assert.Equal(t, "09:26:53", msg.At.Format(TimeFormat))

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "line one\nline two", msgs[0].Text)
	assert.True(t, msgs[0].At.Equal(msg.At))

	out := render(t, p)
	assert.Contains(t, out, "line one<br/>line two")
	assert.Contains(t, out, `<span class="timestamp">09:26:53</span>`)
	assert.Contains(t, out, `src="https://cdn.test/user.png"`)
}

func TestLoader_ResolveInPlace(t *testing.T) {
	p := newTestPage(t)
	p.AppendUserMessage("first")
	p.AppendLoader(1)
	p.AppendUserMessage("second")
	p.AppendLoader(2)
	assert.Equal(t, []uint64{1, 2}, p.PendingLoaders())

	// Second reply arrives first.
	_, err := p.ResolveLoader(2, "answer two", nil)
	require.NoError(t, err)
	_, err = p.ResolveLoader(1, "answer one", nil)
	require.NoError(t, err)

	assert.Empty(t, p.PendingLoaders())
	msgs := p.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "answer one", msgs[1].Text)
	assert.Equal(t, "second", msgs[2].Text)
	assert.Equal(t, "answer two", msgs[3].Text)
}

func TestLoader_Unknown(t *testing.T) {
	p := newTestPage(t)
	_, err := p.ResolveLoader(7, "x", nil)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(p.DropLoader(7), ErrNotFound))
}

func TestDropLoader(t *testing.T) {
	p := newTestPage(t)
	p.AppendLoader(1)
	assert.Contains(t, render(t, p), `class="dots-loader"`)
	require.NoError(t, p.DropLoader(1))
	assert.Empty(t, p.PendingLoaders())
	assert.NotContains(t, render(t, p), `class="dots-loader"`)
}

func TestBotMessage_ExactText(t *testing.T) {
	p := newTestPage(t)
	p.AppendLoader(1)
	msg, err := p.ResolveLoader(1, "Hi there", []Source{{Name: "a.pdf", Excerpt: "page 2"}})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", msg.Text)

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleBot, msgs[0].Role)
	assert.Equal(t, "Hi there", msgs[0].Text)
	assert.Equal(t, []string{"a.pdf"}, msgs[0].Sources)

	out := render(t, p)
	assert.Contains(t, out, `<div class="message bot-message">Hi there</div>`)
	assert.Contains(t, out, `<cite>a.pdf</cite>: page 2`)
}

func TestBotMessage_Markdown(t *testing.T) {
	p := newTestPage(t, WithMarkdown())
	_, err := p.AppendBotMessage("**bold** move\n\n- one\n- two")
	require.NoError(t, err)

	out := render(t, p)
	assert.Contains(t, out, "<strong>bold</strong>")
	assert.Contains(t, out, "<li>one</li>")

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0].Text, "bold move"))
}

func TestBotMessage_MarkdownEscapesHTML(t *testing.T) {
	p := newTestPage(t, WithMarkdown())
	_, err := p.AppendBotMessage(`<img src=x onerror="alert(1)">`)
	require.NoError(t, err)
	assert.NotContains(t, render(t, p), "onerror")
}

func TestRender_AlertsAreOneShot(t *testing.T) {
	p := newTestPage(t)
	assert.Contains(t, render(t, p, "bad file"), `<div class="alert">bad file</div>`)
	assert.NotContains(t, render(t, p), "bad file")
}

func TestSubscribe_ReceivesEvents(t *testing.T) {
	p := newTestPage(t)
	var kinds []EventKind
	p.Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind) })

	e := p.AddEntry("a.pdf", 0)
	r, _ := p.RemoveEntry(e.ID)
	p.Restore(r)
	p.ShowTranscript()
	p.ShowTranscript()
	p.AppendUserMessage("q")
	p.AppendLoader(1)
	p.ResolveLoader(1, "a", nil)

	assert.Equal(t, []EventKind{EntryAdded, EntryRemoved, EntryRestored, TranscriptShown, UserMessage, LoaderAdded, BotMessage}, kinds)
	assert.Equal(t, "bot_message", BotMessage.String())
}

func TestConcurrentMutations(t *testing.T) {
	p := newTestPage(t)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			p.AppendUserMessage("q")
			p.AppendLoader(seq)
			p.ResolveLoader(seq, "a", nil)
		}(uint64(i + 1))
	}
	wg.Wait()
	assert.Len(t, p.Messages(), 40)
	assert.Empty(t, p.PendingLoaders())
}
