package console

import (
	"strings"

	"github.com/dgallion1/pdfchat/internal/chat"
	"github.com/dgallion1/pdfchat/internal/page"
)

// onEvent runs under the page lock and must not call back into the page.
func (c *Console) onEvent(ev page.Event) {
	switch ev.Kind {
	case page.EntryAdded:
		c.printf("+ %s\n", ev.Entry.Name)
	case page.EntryRemoved:
		c.printf("- %s\n", ev.Entry.Name)
	case page.EntryRestored:
		c.printf("+ %s (restored)\n", ev.Entry.Name)
	case page.LoadingChanged:
		if ev.Loading {
			c.printf("uploading…\n")
		}
	case page.GreetingChanged:
		c.typeGreeting(ev.Greeting)
	case page.TranscriptCleared:
		c.printf("(chat cleared)\n")
	case page.UserMessage:
		c.printMessage("you", ev.Message)
	case page.LoaderAdded:
		c.printf("bot: …\n")
	case page.BotMessage:
		c.printMessage("bot", ev.Message)
		for _, s := range ev.Message.Sources {
			c.printf("  source: %s\n", s)
		}
	}
}

// typeGreeting prints only the characters the typewriter added since the
// last frame.
func (c *Console) typeGreeting(text string) {
	r := []rune(text)
	if len(r) < c.shownGreeting {
		c.shownGreeting = 0
	}
	if len(r) > c.shownGreeting {
		c.printf("%s", string(r[c.shownGreeting:]))
		c.shownGreeting = len(r)
	}
	if text == chat.GreetingText {
		c.printf("\n")
	}
}

func (c *Console) printMessage(who string, m page.Message) {
	prefix := who + ": "
	if !m.At.IsZero() {
		prefix = "[" + m.At.Format(page.TimeFormat) + "] " + prefix
	}
	indent := strings.Repeat(" ", len(prefix))
	text := strings.ReplaceAll(strings.TrimRight(m.Text, "\n"), "\n", "\n"+indent)
	c.printf("%s%s\n", prefix, text)
}
