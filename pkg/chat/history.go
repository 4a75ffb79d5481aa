package chat

// DefaultHistoryWindow is the number of turns sent with each generation
// request (ten user/assistant exchanges).
const DefaultHistoryWindow = 20

// History is an append-only conversation log. The full log is kept for
// export; only the trailing window is used when prompting.
// History is not safe for concurrent use; callers hold the owning user's lock.
type History struct {
	messages []ChatMessage
}

// NewHistory returns a history seeded with a copy of msgs.
func NewHistory(msgs []ChatMessage) *History {
	h := &History{messages: make([]ChatMessage, 0, len(msgs))}
	h.messages = append(h.messages, msgs...)
	return h
}

// Append adds turns to the end of the history.
func (h *History) Append(msgs ...ChatMessage) {
	h.messages = append(h.messages, msgs...)
}

// Window returns a copy of the most recent n turns.
// A non-positive n returns nothing.
func (h *History) Window(n int) []ChatMessage {
	if n <= 0 || len(h.messages) == 0 {
		return nil
	}
	start := 0
	if len(h.messages) > n {
		start = len(h.messages) - n
	}
	out := make([]ChatMessage, len(h.messages)-start)
	copy(out, h.messages[start:])
	return out
}

// All returns a copy of the full history.
func (h *History) All() []ChatMessage {
	out := make([]ChatMessage, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of stored turns.
func (h *History) Len() int {
	return len(h.messages)
}

// Exchanges returns the number of completed user/assistant pairs.
func (h *History) Exchanges() int {
	return len(h.messages) / 2
}

// Clear empties the history.
func (h *History) Clear() {
	h.messages = make([]ChatMessage, 0)
}

// Replace swaps the history contents for a copy of msgs.
func (h *History) Replace(msgs []ChatMessage) {
	h.messages = make([]ChatMessage, 0, len(msgs))
	h.messages = append(h.messages, msgs...)
}
