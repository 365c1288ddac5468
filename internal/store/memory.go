package store

import (
	"sync"

	"github.com/google/uuid"

	"github.com/danmuck/buslink/internal/protocol/session"
)

// MemoryStore is a process-local store for tests and ephemeral clients.
// SaveErr, when set, is returned by every write.
type MemoryStore struct {
	mu       sync.Mutex
	state    *session.State
	deviceID string
	SaveErr  error
	saves    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Seed installs st as the saved session.
func (m *MemoryStore) Seed(st session.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &st
	if st.ClientDeviceID != "" && m.deviceID == "" {
		m.deviceID = st.ClientDeviceID
	}
}

func (m *MemoryStore) Load() (session.State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return session.State{}, false, nil
	}
	if err := m.state.Validate(); err != nil {
		return session.State{}, false, storageErr("load", "", err)
	}
	st := *m.state
	st.Paired = false
	return st, true, nil
}

func (m *MemoryStore) Save(st session.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return storageErr("save", "", m.SaveErr)
	}
	st.Paired = false
	m.state = &st
	m.saves++
	return nil
}

func (m *MemoryStore) SaveSeq(seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return storageErr("save_seq", "", m.SaveErr)
	}
	if m.state == nil {
		return storageErr("save_seq", "", ErrNoSession)
	}
	next := m.state.WithSeq(seq)
	m.state = &next
	return nil
}

func (m *MemoryStore) ClientDeviceID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deviceID == "" {
		m.deviceID = uuid.NewString()
	}
	return m.deviceID, nil
}

// Saves reports how many sessions were written with Save.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Saved returns the stored session, if any.
func (m *MemoryStore) Saved() (session.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return session.State{}, false
	}
	return *m.state, true
}
