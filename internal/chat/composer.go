package chat

import "sync"

// Key is a key press in the message input.
type Key struct {
	Name  string // "Enter", or any other key name
	Shift bool
}

// Enter and ShiftEnter are the two key presses the composer reacts to.
var (
	Enter      = Key{Name: "Enter"}
	ShiftEnter = Key{Name: "Enter", Shift: true}
)

// Action is what a key press asks the controller to do.
type Action int

const (
	ActionNone Action = iota
	ActionSend
	ActionNewline
)

// Composer is the message input box.
type Composer struct {
	mu    sync.Mutex
	value string
}

// Type appends text as if the user typed it.
func (c *Composer) Type(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value += text
}

// Set replaces the whole input.
func (c *Composer) Set(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = text
}

func (c *Composer) Value() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Clear empties the input.
func (c *Composer) Clear() {
	c.Set("")
}

// take returns the input and clears it in one step.
func (c *Composer) take() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.value
	c.value = ""
	return v
}

// KeyDown handles a key press. Enter sends; Shift+Enter inserts a newline.
func (c *Composer) KeyDown(k Key) Action {
	if k.Name != "Enter" {
		return ActionNone
	}
	if k.Shift {
		c.Type("\n")
		return ActionNewline
	}
	return ActionSend
}
