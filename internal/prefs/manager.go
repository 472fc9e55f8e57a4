// Package prefs provides cached access to the user's standing preferences.
// They seed a new conversation's session context when the caller doesn't
// supply one.
package prefs

import (
	"fmt"
	"sync"
	"time"
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	SetPrefKey(key, value string) error
	GetPrefKey(key string) (string, error)
	GetAllPrefKeys() (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Preferences is the structured view of the stored keys.
type Preferences struct {
	Timezone    string `json:"timezone,omitempty"`
	TaskApp     string `json:"task_app,omitempty"`
	CalendarApp string `json:"calendar_app,omitempty"`
}

// Keys recognized by SetField; anything else is rejected.
const (
	KeyTimezone    = "timezone"
	KeyTaskApp     = "task_app"
	KeyCalendarApp = "calendar_app"
)

// Manager provides cached, structured access to the preferences stored in SQLite.
type Manager struct {
	store Store
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   *Preferences
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		clock: realClock{},
		ttl:   60 * time.Second,
	}
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
	}
}

// Get reads all preference keys from storage (or cache) and assembles a
// structured Preferences. Returns a zero-value Preferences on empty store.
func (m *Manager) Get() (Preferences, error) {
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		p := *m.cached
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		return *m.cached, nil
	}

	keys, err := m.store.GetAllPrefKeys()
	if err != nil {
		return Preferences{}, fmt.Errorf("loading preference keys: %w", err)
	}

	p := Preferences{
		Timezone:    keys[KeyTimezone],
		TaskApp:     keys[KeyTaskApp],
		CalendarApp: keys[KeyCalendarApp],
	}
	m.cached = &p
	m.cachedAt = m.clock.Now()
	return p, nil
}

// SetField persists a preference key and invalidates the cache.
func (m *Manager) SetField(key, value string) error {
	switch key {
	case KeyTimezone, KeyTaskApp, KeyCalendarApp:
	default:
		return fmt.Errorf("unknown preference key %q", key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetPrefKey(key, value); err != nil {
		return fmt.Errorf("setting preference key %q: %w", key, err)
	}

	m.cached = nil
	return nil
}
