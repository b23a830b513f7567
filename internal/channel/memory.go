package channel

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/log"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/metrics"
)

const memoryJanitorInterval = 30 * time.Second

// Memory is the in-process backend: a TTL map with change notification
// and an optional snapshot file so state survives a restart. It is the
// default backend; the control plane shares the process in that setup.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]memEntry
	watchers map[string][]chan struct{}
	snapshot string
	closed   bool

	stopJanitor chan struct{}
	logger      zerolog.Logger
}

type memEntry struct {
	Value []byte `json:"value"`

	// ExpiresAt is zero for entries without TTL.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

func (e memEntry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// NewMemory creates the in-process backend. A non-empty snapshotPath is
// loaded if present (expired entries dropped) and rewritten atomically on
// every mutation.
func NewMemory(snapshotPath string) (*Memory, error) {
	m := &Memory{
		entries:     make(map[string]memEntry),
		watchers:    make(map[string][]chan struct{}),
		snapshot:    snapshotPath,
		stopJanitor: make(chan struct{}),
		logger:      log.WithComponent("channel").With().Str("backend", "memory").Logger(),
	}
	if snapshotPath != "" {
		if err := m.loadSnapshot(); err != nil {
			// A broken snapshot is not fatal; start empty.
			m.logger.Warn().
				Err(err).
				Str("event", "channel.snapshot_load_failed").
				Str(log.FieldPath, snapshotPath).
				Msg("ignoring unreadable snapshot")
		}
	}
	go m.janitor()
	return m, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	e, ok := m.entries[key]
	if !ok || e.expired(time.Now()) {
		metrics.RecordChannelOp("memory", "get", "miss")
		return nil, false, nil
	}
	metrics.RecordChannelOp("memory", "get", "success")
	out := make([]byte, len(e.Value))
	copy(out, e.Value)
	return out, true, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	return m.SetTTL(ctx, key, value, 0)
}

func (m *Memory) SetTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	e := memEntry{Value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.ExpiresAt = time.Now().Add(ttl)
	}
	m.entries[key] = e
	m.notifyLocked(key)
	m.persistLocked()
	metrics.RecordChannelOp("memory", "set", "success")
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.entries[key]; ok {
		delete(m.entries, key)
		m.notifyLocked(key)
		m.persistLocked()
	}
	metrics.RecordChannelOp("memory", "delete", "success")
	return nil
}

// Watch registers a coalescing change signal for key. The returned
// channel has capacity one; a pending signal absorbs further changes.
func (m *Memory) Watch(ctx context.Context, key string) <-chan struct{} {
	ch := make(chan struct{}, 1)

	m.mu.Lock()
	m.watchers[key] = append(m.watchers[key], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		ws := m.watchers[key]
		for i, w := range ws {
			if w == ch {
				m.watchers[key] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		close(ch)
	}()
	return ch
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stopJanitor)
	return nil
}

// notifyLocked signals every watcher of key. Caller holds the lock.
func (m *Memory) notifyLocked(key string) {
	for _, ch := range m.watchers[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// persistLocked rewrites the snapshot file. Caller holds the lock. Write
// failures are logged, not returned; the channel stays usable without
// persistence.
func (m *Memory) persistLocked() {
	if m.snapshot == "" {
		return
	}
	data, err := json.Marshal(m.entries)
	if err != nil {
		m.logger.Error().Err(err).Str("event", "channel.snapshot_encode_failed").Msg("snapshot not written")
		return
	}
	if err := renameio.WriteFile(m.snapshot, data, 0o600); err != nil {
		m.logger.Warn().
			Err(err).
			Str("event", "channel.snapshot_write_failed").
			Str(log.FieldPath, m.snapshot).
			Msg("snapshot not written")
	}
}

func (m *Memory) loadSnapshot() error {
	data, err := os.ReadFile(m.snapshot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries map[string]memEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	now := time.Now()
	for k, e := range entries {
		if !e.expired(now) {
			m.entries[k] = e
		}
	}
	m.logger.Info().
		Str("event", "channel.snapshot_loaded").
		Int("entries", len(m.entries)).
		Msg("restored channel snapshot")
	return nil
}

// janitor evicts expired entries so the map does not grow without bound.
// Expiry itself is enforced on read; this is housekeeping only.
func (m *Memory) janitor() {
	ticker := time.NewTicker(memoryJanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopJanitor:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			var dirty bool
			for k, e := range m.entries {
				if e.expired(now) {
					delete(m.entries, k)
					dirty = true
				}
			}
			if dirty {
				m.persistLocked()
			}
			m.mu.Unlock()
		}
	}
}
