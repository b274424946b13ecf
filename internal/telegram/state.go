package telegram

import "sync"

// ChatState represents where a chat is in a multi-step command
type ChatState struct {
	State string
}

// StateManager tracks pending multi-step commands per chat
type StateManager struct {
	mu     sync.RWMutex
	states map[int64]*ChatState
}

// NewStateManager creates a new state manager
func NewStateManager() *StateManager {
	return &StateManager{
		states: make(map[int64]*ChatState),
	}
}

// Set sets a chat's state
func (sm *StateManager) Set(chatID int64, state string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.states[chatID] = &ChatState{State: state}
}

// Get returns a chat's current state
func (sm *StateManager) Get(chatID int64) *ChatState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.states[chatID]
}

// Clear removes a chat's state
func (sm *StateManager) Clear(chatID int64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.states, chatID)
}

// State constants
const (
	StateWaitLinkCode = "wait_link_code"
)
