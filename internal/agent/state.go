package agent

import "sync"

// chatState serializes turns for one (channel, chat_id) destination. Two
// inbound messages for the same chat can never be in processMessage at the
// same time; messages for different chats process concurrently.
type chatState struct {
	mu        sync.Mutex
	sessionID string
}

// stateFor returns the chatState for (channel, chatID), creating it on
// first use. sessionID is a stable derived identifier: the core never
// destroys sessions, so it is deterministic in the destination alone.
func (l *Loop) stateFor(channel, chatID string) *chatState {
	key := channel + ":" + chatID

	l.mu.Lock()
	defer l.mu.Unlock()

	if st, ok := l.chats[key]; ok {
		return st
	}
	st := &chatState{sessionID: key}
	l.chats[key] = st
	return st
}
