// Package page holds the chat page as an HTML document. The upload and chat
// controllers mutate it the way a browser script mutates its DOM; front-ends
// either render it (web) or follow its mutation events (console).
package page

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
)

// ErrNotFound is returned when an entry or loader id is not on the page.
var ErrNotFound = errors.New("not found on page")

// TimeFormat is the layout of message timestamps.
const TimeFormat = "15:04:05"

// Assets are the image sources the page renders. They are passed in
// explicitly rather than read from page globals.
type Assets struct {
	BotAvatarURL  string
	UserAvatarURL string
	PDFIconURL    string
}

// Role identifies who a transcript message is from.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Entry is one row of the PDF list.
type Entry struct {
	ID    string
	Name  string
	Pages int
}

// Message is one bubble of the transcript.
type Message struct {
	Role    Role
	Text    string
	At      time.Time
	Sources []string
}

// Source is a cited passage shown under a bot reply.
type Source struct {
	Name    string
	Excerpt string
}

// Removal remembers where an entry was so it can be put back.
type Removal struct {
	Entry Entry
	node  *html.Node
	next  *html.Node
}

// Option configures a Page.
type Option func(*Page)

// WithMarkdown renders bot replies as markdown instead of plain text.
func WithMarkdown() Option {
	return func(p *Page) { p.md = newMarkdown() }
}

// WithClock overrides the clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Page) { p.now = now }
}

// Page is safe for concurrent use; one lock serializes every mutation, the
// way a browser's event loop does.
type Page struct {
	mu     sync.Mutex
	assets Assets
	md     goldmark.Markdown
	now    func() time.Time

	doc          *html.Node
	alerts       *html.Node
	pdfList      *html.Node
	loading      *html.Node
	greeting     *html.Node
	greetingText *html.Node
	chatMessages *html.Node

	listeners []func(Event)
}

const skeleton = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>PDF Chat</title></head>
<body>
<div id="alerts" role="alert"></div>
<aside class="sidebar">
<form class="upload-form" method="post" action="/ui/upload" enctype="multipart/form-data">
<input type="file" name="pdfs" accept=".pdf" multiple>
<button class="addFileBtn" type="submit">Add PDFs</button>
</form>
<div id="loadingIndicator" style="display: none"><span>Uploading…</span></div>
<form class="pdf-list-form" method="post">
<ul id="pdfList"></ul>
</form>
</aside>
<main class="chat">
<div class="hello-what-can-i-help-you-with"><span></span></div>
<div class="chat-messages" id="chatMessages" style="display: none"></div>
<form class="chat-form" method="post" action="/ui/ask">
<textarea class="messageInput" name="question" rows="2"></textarea>
<button class="send-btn" type="submit">Send</button>
</form>
</main>
</body>
</html>`

// New builds an empty page.
func New(assets Assets, opts ...Option) (*Page, error) {
	doc, err := html.Parse(strings.NewReader(skeleton))
	if err != nil {
		return nil, fmt.Errorf("parse page skeleton: %w", err)
	}
	p := &Page{
		assets:       assets,
		now:          time.Now,
		doc:          doc,
		alerts:       findByID(doc, "alerts"),
		pdfList:      findByID(doc, "pdfList"),
		loading:      findByID(doc, "loadingIndicator"),
		greeting:     findByClass(doc, "hello-what-can-i-help-you-with"),
		chatMessages: findByID(doc, "chatMessages"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.greetingText = p.greeting.FirstChild
	return p, nil
}

// Subscribe registers fn for every mutation. Listeners run synchronously
// while the page is locked and must not call back into the Page.
func (p *Page) Subscribe(fn func(Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *Page) emitLocked(ev Event) {
	for _, fn := range p.listeners {
		fn(ev)
	}
}

// AddEntry appends a row for a PDF to the list.
func (p *Page) AddEntry(name string, pages int) Entry {
	e := Entry{ID: uuid.NewString(), Name: name, Pages: pages}

	li := element("li", "data-id", e.ID, "data-pages", strconv.Itoa(pages))
	icon := element("div", "class", "pdf-icon")
	icon.AppendChild(element("img", "src", p.assets.PDFIconURL, "alt", "PDF Icon"))
	label := element("span", "class", "pdf-name")
	label.AppendChild(textNode(name))
	icon.AppendChild(label)
	li.AppendChild(icon)

	btn := element("button",
		"class", "remove-btn",
		"type", "submit",
		"name", "confirm",
		"value", "yes",
		"formaction", "/ui/entries/"+e.ID+"/remove",
		"onclick", "return confirm("+jsString(ConfirmRemoval(name))+")",
	)
	btn.AppendChild(textNode("×"))
	li.AppendChild(btn)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pdfList.AppendChild(li)
	p.emitLocked(Event{Kind: EntryAdded, Entry: e})
	return e
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

// ConfirmRemoval is the question asked before an entry is removed.
func ConfirmRemoval(name string) string {
	return fmt.Sprintf(`Are you sure you want to remove "%s"?`, name)
}

// Entries returns the list rows in display order.
func (p *Page) Entries() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Entry
	for _, li := range children(p.pdfList) {
		if li.Type == html.ElementNode {
			out = append(out, entryOf(li))
		}
	}
	return out
}

// Entry looks up a row by id.
func (p *Page) Entry(id string) (Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	li := p.entryNodeLocked(id)
	if li == nil {
		return Entry{}, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return entryOf(li), nil
}

func (p *Page) entryNodeLocked(id string) *html.Node {
	for _, li := range children(p.pdfList) {
		if li.Type == html.ElementNode && getAttr(li, "data-id") == id {
			return li
		}
	}
	return nil
}

func entryOf(li *html.Node) Entry {
	pages, _ := strconv.Atoi(getAttr(li, "data-pages"))
	e := Entry{ID: getAttr(li, "data-id"), Pages: pages}
	if label := findByClass(li, "pdf-name"); label != nil {
		e.Name = textContent(label)
	}
	return e
}

// RemoveEntry takes a row off the list. The returned Removal can be passed
// to Restore to undo it.
func (p *Page) RemoveEntry(id string) (*Removal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	li := p.entryNodeLocked(id)
	if li == nil {
		return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	r := &Removal{Entry: entryOf(li), node: li, next: li.NextSibling}
	p.pdfList.RemoveChild(li)
	p.emitLocked(Event{Kind: EntryRemoved, Entry: r.Entry})
	return r, nil
}

// Restore puts a removed row back where it was. If its old neighbour is gone
// too, the row goes to the end of the list.
func (p *Page) Restore(r *Removal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r.node.Parent != nil {
		return
	}
	if r.next != nil && r.next.Parent == p.pdfList {
		p.pdfList.InsertBefore(r.node, r.next)
	} else {
		p.pdfList.AppendChild(r.node)
	}
	p.emitLocked(Event{Kind: EntryRestored, Entry: r.Entry})
}

// SetLoading shows or hides the upload indicator.
func (p *Page) SetLoading(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	setVisible(p.loading, on, "flex")
	p.emitLocked(Event{Kind: LoadingChanged, Loading: on})
}

// Loading reports whether the upload indicator is visible.
func (p *Page) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return isVisible(p.loading)
}

// SetGreeting replaces the greeting text.
func (p *Page) SetGreeting(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	removeChildren(p.greetingText)
	if text != "" {
		p.greetingText.AppendChild(textNode(text))
	}
	p.emitLocked(Event{Kind: GreetingChanged, Greeting: text})
}

// Greeting returns the greeting text currently shown.
func (p *Page) Greeting() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return textContent(p.greetingText)
}

// ShowTranscript swaps the greeting for the message list.
func (p *Page) ShowTranscript() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if isVisible(p.chatMessages) {
		return
	}
	setVisible(p.greeting, false, "")
	setVisible(p.chatMessages, true, "block")
	p.emitLocked(Event{Kind: TranscriptShown})
}

// TranscriptVisible reports whether the message list replaced the greeting.
func (p *Page) TranscriptVisible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return isVisible(p.chatMessages)
}

// AppendUserMessage adds a user bubble stamped with the page clock.
func (p *Page) AppendUserMessage(text string) Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	at := p.now()
	container := element("div",
		"class", "message-container user-message-container",
		"data-role", string(RoleUser),
		"data-time", at.Format(time.RFC3339Nano),
	)
	bubble := element("div", "class", "message user-message")
	appendText(bubble, text)
	container.AppendChild(bubble)
	container.AppendChild(element("img", "src", p.assets.UserAvatarURL, "alt", "User Avatar", "class", "useravatar"))
	stamp := element("span", "class", "timestamp")
	stamp.AppendChild(textNode(at.Format(TimeFormat)))
	container.AppendChild(stamp)

	p.chatMessages.AppendChild(container)
	msg := Message{Role: RoleUser, Text: text, At: at}
	p.emitLocked(Event{Kind: UserMessage, Message: msg})
	return msg
}

// AppendLoader adds the animated placeholder for the reply to send seq.
func (p *Page) AppendLoader(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	container := element("div",
		"class", "message-container bot-message-container",
		"data-seq", strconv.FormatUint(seq, 10),
	)
	container.AppendChild(element("img", "src", p.assets.BotAvatarURL, "alt", "Bot Avatar", "class", "avatar"))
	dots := element("div", "class", "dots-loader")
	for range 3 {
		dots.AppendChild(element("span"))
	}
	container.AppendChild(dots)

	p.chatMessages.AppendChild(container)
	p.emitLocked(Event{Kind: LoaderAdded, Seq: seq})
}

func (p *Page) loaderLocked(seq uint64) *html.Node {
	want := strconv.FormatUint(seq, 10)
	for _, c := range children(p.chatMessages) {
		if c.Type == html.ElementNode && getAttr(c, "data-seq") == want {
			return c
		}
	}
	return nil
}

// PendingLoaders returns the sequence ids of loaders still on the page.
func (p *Page) PendingLoaders() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []uint64
	for _, c := range children(p.chatMessages) {
		if c.Type != html.ElementNode {
			continue
		}
		if v := getAttr(c, "data-seq"); v != "" {
			seq, _ := strconv.ParseUint(v, 10, 64)
			out = append(out, seq)
		}
	}
	return out
}

// ResolveLoader replaces the loader for seq with the bot's reply, in the
// loader's own slot. A reply therefore always sits under the question it
// answers, whatever order replies arrive in.
func (p *Page) ResolveLoader(seq uint64, text string, sources []Source) (Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	loader := p.loaderLocked(seq)
	if loader == nil {
		return Message{}, fmt.Errorf("loader %d: %w", seq, ErrNotFound)
	}
	container, msg, err := p.botContainerLocked(text, sources)
	p.chatMessages.InsertBefore(container, loader)
	p.chatMessages.RemoveChild(loader)
	p.emitLocked(Event{Kind: BotMessage, Seq: seq, Message: msg})
	return msg, err
}

// DropLoader removes the loader for seq without a reply.
func (p *Page) DropLoader(seq uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	loader := p.loaderLocked(seq)
	if loader == nil {
		return fmt.Errorf("loader %d: %w", seq, ErrNotFound)
	}
	p.chatMessages.RemoveChild(loader)
	p.emitLocked(Event{Kind: LoaderDropped, Seq: seq})
	return nil
}

// AppendBotMessage appends a bot bubble that has no loader, e.g. when
// replaying history.
func (p *Page) AppendBotMessage(text string) (Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	container, msg, err := p.botContainerLocked(text, nil)
	p.chatMessages.AppendChild(container)
	p.emitLocked(Event{Kind: BotMessage, Message: msg})
	return msg, err
}

// AppendUserHistory appends a user bubble without a timestamp, for turns
// that happened before this page existed.
func (p *Page) AppendUserHistory(text string) Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	container := element("div",
		"class", "message-container user-message-container",
		"data-role", string(RoleUser),
	)
	bubble := element("div", "class", "message user-message")
	appendText(bubble, text)
	container.AppendChild(bubble)
	container.AppendChild(element("img", "src", p.assets.UserAvatarURL, "alt", "User Avatar", "class", "useravatar"))
	p.chatMessages.AppendChild(container)
	msg := Message{Role: RoleUser, Text: text}
	p.emitLocked(Event{Kind: UserMessage, Message: msg})
	return msg
}

func (p *Page) botContainerLocked(text string, sources []Source) (*html.Node, Message, error) {
	at := p.now()
	container := element("div",
		"class", "message-container bot-message-container",
		"data-role", string(RoleBot),
		"data-time", at.Format(time.RFC3339Nano),
	)
	container.AppendChild(element("img", "src", p.assets.BotAvatarURL, "alt", "Bot Avatar", "class", "botavatar"))
	bubble := element("div", "class", "message bot-message")

	var err error
	if p.md != nil {
		setAttr(bubble, "data-format", "markdown")
		err = appendMarkdown(p.md, bubble, text)
	} else {
		appendText(bubble, text)
	}
	container.AppendChild(bubble)

	msg := Message{Role: RoleBot, Text: text, At: at}
	if len(sources) > 0 {
		list := element("ul", "class", "sources")
		for _, s := range sources {
			li := element("li")
			cite := element("cite")
			cite.AppendChild(textNode(s.Name))
			li.AppendChild(cite)
			if s.Excerpt != "" {
				li.AppendChild(textNode(": " + s.Excerpt))
			}
			list.AppendChild(li)
			msg.Sources = append(msg.Sources, s.Name)
		}
		container.AppendChild(list)
	}
	return container, msg, err
}

// Messages returns the transcript bubbles in display order. Loaders are not
// messages and are skipped.
func (p *Page) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Message
	for _, c := range children(p.chatMessages) {
		if c.Type != html.ElementNode {
			continue
		}
		role := Role(getAttr(c, "data-role"))
		if role == "" {
			continue
		}
		msg := Message{Role: role}
		if ts := getAttr(c, "data-time"); ts != "" {
			msg.At, _ = time.Parse(time.RFC3339Nano, ts)
		}
		if bubble := findByClass(c, "message"); bubble != nil {
			msg.Text = textContent(bubble)
			if getAttr(bubble, "data-format") == "markdown" {
				msg.Text = strings.TrimSpace(msg.Text)
			}
		}
		if list := findByClass(c, "sources"); list != nil {
			for _, li := range children(list) {
				if cite := li.FirstChild; cite != nil {
					msg.Sources = append(msg.Sources, textContent(cite))
				}
			}
		}
		out = append(out, msg)
	}
	return out
}

// ClearTranscript removes every message and brings the greeting back.
func (p *Page) ClearTranscript() {
	p.mu.Lock()
	defer p.mu.Unlock()
	removeChildren(p.chatMessages)
	setVisible(p.chatMessages, false, "")
	setVisible(p.greeting, true, "block")
	p.emitLocked(Event{Kind: TranscriptCleared})
}

// Render writes the document. Alerts are shown in this render only.
func (p *Page) Render(w io.Writer, alerts ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, a := range alerts {
		div := element("div", "class", "alert")
		div.AppendChild(textNode(a))
		p.alerts.AppendChild(div)
	}
	defer removeChildren(p.alerts)

	if err := html.Render(w, p.doc); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	return nil
}
