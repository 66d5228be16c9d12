package conversation

// State is the ordered conversation history. It is owned by the runner:
// only the runner appends, and only the runner adopts the replacement
// histories produced by compaction. Other components work on snapshots.
type State struct {
	messages []Message
}

// NewState creates a conversation state seeded with an initial history
// (typically loaded from the session store).
func NewState(initial []Message) *State {
	msgs := make([]Message, len(initial))
	copy(msgs, initial)
	return &State{messages: msgs}
}

// Append adds a message at the end of the history.
func (s *State) Append(msg Message) {
	s.messages = append(s.messages, msg)
}

// Snapshot returns a copy of the history. Callers may read and reshape
// the copy freely; the state itself is only mutated through Append and
// Replace.
func (s *State) Snapshot() []Message {
	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)
	return msgs
}

// Replace atomically adopts a new history, e.g. the output of the
// budget manager. The replacement is copied so later caller mutations
// cannot alias into the state.
func (s *State) Replace(history []Message) {
	msgs := make([]Message, len(history))
	copy(msgs, history)
	s.messages = msgs
}

// Len returns the number of messages in the history.
func (s *State) Len() int {
	return len(s.messages)
}
