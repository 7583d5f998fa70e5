package page

// EventKind names a page mutation.
type EventKind int

const (
	EntryAdded EventKind = iota
	EntryRemoved
	EntryRestored
	LoadingChanged
	GreetingChanged
	TranscriptShown
	TranscriptCleared
	UserMessage
	LoaderAdded
	LoaderDropped
	BotMessage
)

func (k EventKind) String() string {
	switch k {
	case EntryAdded:
		return "entry_added"
	case EntryRemoved:
		return "entry_removed"
	case EntryRestored:
		return "entry_restored"
	case LoadingChanged:
		return "loading_changed"
	case GreetingChanged:
		return "greeting_changed"
	case TranscriptShown:
		return "transcript_shown"
	case TranscriptCleared:
		return "transcript_cleared"
	case UserMessage:
		return "user_message"
	case LoaderAdded:
		return "loader_added"
	case LoaderDropped:
		return "loader_dropped"
	case BotMessage:
		return "bot_message"
	}
	return "unknown"
}

// Event describes one mutation. Only the fields relevant to Kind are set.
type Event struct {
	Kind     EventKind
	Entry    Entry
	Message  Message
	Seq      uint64 // loader sequence id; 0 for history replies
	Loading  bool
	Greeting string
}
