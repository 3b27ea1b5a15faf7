// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject failures

package store

import (
	"context"
	"slices"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile // keyed by profile ID
	roles    map[string]RoleName // keyed by user ID
	messages map[string]*Message // keyed by message ID
	failures map[string]error    // keyed by method name, consumed on use
	calls    map[string]int      // keyed by method name
}

// Ensure MockStore implements Store.
var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		profiles: make(map[string]*Profile),
		roles:    make(map[string]RoleName),
		messages: make(map[string]*Message),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// FailNext makes the next call to method return err.
func (m *MockStore) FailNext(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = err
}

// Calls returns how many times method was invoked.
func (m *MockStore) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method]
}

// track records a call and returns any injected failure. Must be called with mu held.
func (m *MockStore) track(method string) error {
	m.calls[method]++
	if err, ok := m.failures[method]; ok {
		delete(m.failures, method)
		return err
	}
	return nil
}

// CreateProfile stores a new profile.
func (m *MockStore) CreateProfile(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("CreateProfile"); err != nil {
		return err
	}

	if _, ok := m.profiles[p.ID]; ok {
		return ErrDuplicateProfile
	}
	for _, existing := range m.profiles {
		if existing.Email == p.Email {
			return ErrDuplicateProfile
		}
	}

	// Make a copy to avoid external modification
	c := *p
	m.profiles[c.ID] = &c
	return nil
}

// GetProfile retrieves a profile by ID.
func (m *MockStore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("GetProfile"); err != nil {
		return nil, err
	}

	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *p
	return &result, nil
}

// ListProfiles returns all profiles ordered by email.
func (m *MockStore) ListProfiles(ctx context.Context) ([]*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("ListProfiles"); err != nil {
		return nil, err
	}

	result := make([]*Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		c := *p
		result = append(result, &c)
	}
	slices.SortFunc(result, func(a, b *Profile) int {
		switch {
		case a.Email < b.Email:
			return -1
		case a.Email > b.Email:
			return 1
		}
		return 0
	})
	return result, nil
}

// SetRole assigns a role.
func (m *MockStore) SetRole(ctx context.Context, userID string, role RoleName) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("SetRole"); err != nil {
		return err
	}
	m.roles[userID] = role
	return nil
}

// GetRole returns the role row for a user.
func (m *MockStore) GetRole(ctx context.Context, userID string) (RoleName, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("GetRole"); err != nil {
		return "", err
	}

	role, ok := m.roles[userID]
	if !ok {
		return "", ErrNotFound
	}
	return role, nil
}

// ListRoles returns the ids holding role, sorted.
func (m *MockStore) ListRoles(ctx context.Context, role RoleName) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("ListRoles"); err != nil {
		return nil, err
	}

	ids := []string{}
	for id, r := range m.roles {
		if r == role {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// InsertMessage appends a message.
func (m *MockStore) InsertMessage(ctx context.Context, msg *Message) (*Message, error) {
	stored, err := prepareMessage(msg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("InsertMessage"); err != nil {
		return nil, err
	}

	c := *stored
	m.messages[c.ID] = &c
	return stored, nil
}

// QueryMessages returns matching messages in (created_at, id) order.
func (m *MockStore) QueryMessages(ctx context.Context, filter MessageFilter) ([]*Message, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("QueryMessages"); err != nil {
		return nil, err
	}
	return m.queryLocked(filter), nil
}

// LatestMessage returns the newest message involving participantID.
func (m *MockStore) LatestMessage(ctx context.Context, participantID string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("LatestMessage"); err != nil {
		return nil, err
	}

	msgs := m.queryLocked(MessageFilter{Participant: participantID, Descending: true, Limit: 1})
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return msgs[0], nil
}

// queryLocked filters and sorts copies of the stored messages. Must be called with mu held.
func (m *MockStore) queryLocked(filter MessageFilter) []*Message {
	var result []*Message
	for _, msg := range m.messages {
		if !filter.matches(msg) {
			continue
		}
		c := *msg
		result = append(result, &c)
	}

	slices.SortFunc(result, func(a, b *Message) int {
		cmp := 0
		switch {
		case a.Less(b):
			cmp = -1
		case b.Less(a):
			cmp = 1
		}
		if filter.Descending {
			cmp = -cmp
		}
		return cmp
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}

// matches mirrors the SQL WHERE clause of SQLiteStore.QueryMessages.
func (f MessageFilter) matches(msg *Message) bool {
	return msg.Involves(f.Participant)
}
