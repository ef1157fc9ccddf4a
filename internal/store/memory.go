package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiration
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-process, map-backed Store: no real Redis, no
// cross-process fanout, just enough to let tests and single-process
// deployments exercise the same Get/Set/Delete/Publish contract the
// sqlite-backed Store does.
type MemoryStore struct {
	logger *zap.Logger

	mu   sync.RWMutex
	data map[string]memEntry
	subs map[string][]chan []byte
}

// NewMemoryStore returns a ready-to-use in-memory Store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		logger: logger.Named("memory-store"),
		data:   make(map[string]memEntry),
		subs:   make(map[string][]chan []byte),
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if entry.expired(time.Now()) {
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		return nil, ErrNotFound
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	m.data[key] = memEntry{value: stored, expiresAt: expiresAt}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Publish fans payload out to every live Subscribe-r of channel, dropping
// slow subscribers rather than blocking the publisher.
func (m *MemoryStore) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	subscribers := m.subs[channel]
	m.mu.RUnlock()

	for _, ch := range subscribers {
		select {
		case ch <- payload:
		default:
			m.logger.Warn("dropped publish to slow subscriber", zap.String("channel", channel))
		}
	}
	return nil
}

// Subscribe registers an in-process listener on channel. The returned
// cancel func removes the listener; callers must call it to avoid
// leaking the channel's slot in subs.
func (m *MemoryStore) Subscribe(channel string) (<-chan []byte, func()) {
	ch := make(chan []byte, 64)

	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.subs[channel]
		for i, c := range list {
			if c == ch {
				m.subs[channel] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	return ch, cancel
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, list := range m.subs {
		for _, ch := range list {
			close(ch)
		}
	}
	m.subs = make(map[string][]chan []byte)
	m.data = make(map[string]memEntry)
	return nil
}
