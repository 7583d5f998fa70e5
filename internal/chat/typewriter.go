package chat

import (
	"context"
	"sync"
	"time"
)

// GreetingText is revealed in the greeting placeholder when the page opens.
const GreetingText = "Hello! What can I help you with?"

const (
	typingStartDelay = 10 * time.Millisecond
	typingCharDelay  = 80 * time.Millisecond
)

// Typewriter reveals a string one character at a time at a fixed speed. It
// plays at most once; a second Play returns immediately.
type Typewriter struct {
	text       string
	startDelay time.Duration
	charDelay  time.Duration
	once       sync.Once
}

func NewTypewriter(text string) *Typewriter {
	return &Typewriter{
		text:       text,
		startDelay: typingStartDelay,
		charDelay:  typingCharDelay,
	}
}

// Play clears the target, then calls show with a growing prefix of the text
// until the whole text is shown. It blocks until done. ctx is the lifetime of
// the page the greeting belongs to; nothing else stops the animation.
func (t *Typewriter) Play(ctx context.Context, show func(string)) {
	t.once.Do(func() {
		if !sleep(ctx, t.startDelay) {
			return
		}
		show("")
		runes := []rune(t.text)
		for i := range runes {
			if !sleep(ctx, t.charDelay) {
				return
			}
			show(string(runes[:i+1]))
		}
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
