package store

import (
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/pkg/llms"
)

type inMemory struct {
	mu      sync.RWMutex
	storage map[string][]llms.Message
}

// NewMemoryStore returns the store which keeps the history for the process lifetime
func NewMemoryStore() MessageStore {
	return &inMemory{}
}

func (m *inMemory) Messages(chatID string) []llms.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.storage == nil {
		return nil
	}
	return slices.Clone(m.storage[chatID])
}

func (m *inMemory) Add(chatID string, msgs ...llms.Message) error {
	if chatID == "" {
		return errors.New("invalid chat ID")
	}
	if len(msgs) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storage == nil {
		// create on first use
		m.storage = make(map[string][]llms.Message)
	}
	m.storage[chatID] = append(m.storage[chatID], msgs...)
	return nil
}

func (m *inMemory) Reset(chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storage != nil {
		delete(m.storage, chatID)
	}
	return nil
}
