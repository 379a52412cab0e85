package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/toolgate/internal/logging"
	"github.com/aretw0/toolgate/pkg/dedup"
	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/aretw0/toolgate/pkg/loopguard"
	"github.com/aretw0/toolgate/pkg/ports"
	"github.com/aretw0/toolgate/pkg/registry"
	"github.com/aretw0/toolgate/pkg/state"
)

// DefaultLockTTL bounds how long a distributed session lock survives a crashed holder.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager creates, serializes and ends sessions.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	registry *registry.Registry
	store    ports.SnapshotStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	sessMu   sync.RWMutex
	sessions map[string]*Session

	dedupCfg dedup.Config
	dedupOps []dedup.Option
	loopCfg  loopguard.Config

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithStore enables snapshots of ended sessions.
func WithStore(store ports.SnapshotStore) Option {
	return func(m *Manager) {
		m.store = store
	}
}

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the expiry of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithDedup configures the duplicate-call detector of every new session.
func WithDedup(cfg dedup.Config, opts ...dedup.Option) Option {
	return func(m *Manager) {
		m.dedupCfg = cfg
		m.dedupOps = opts
	}
}

// WithLoopGuard configures the loop detector of every new session.
func WithLoopGuard(cfg loopguard.Config) Option {
	return func(m *Manager) {
		m.loopCfg = cfg
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager whose sessions pin snapshots of reg.
func NewManager(reg *registry.Registry, opts ...Option) *Manager {
	m := &Manager{
		registry: reg,
		locks:    make(map[string]*lockEntry),
		sessions: make(map[string]*Session),
		dedupCfg: dedup.DefaultConfig(),
		loopCfg:  loopguard.DefaultConfig(),
		lockTTL:  DefaultLockTTL,
		now:      time.Now,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(sessionID) after unlocking.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// WithLock executes fn while holding the lock for the session.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := m.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, sessionID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"session_id", sessionID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// Start creates a live session. A snapshot saved for the same ID is resumed,
// with initial taking precedence over restored values.
func (m *Manager) Start(ctx context.Context, sessionID string, initial map[string]any) (*Session, error) {
	pinned, ok := m.registry.Snapshot()
	if !ok {
		return nil, domain.ErrRegistryNotLoaded
	}

	var sess *Session
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		m.sessMu.RLock()
		_, live := m.sessions[sessionID]
		m.sessMu.RUnlock()
		if live {
			return fmt.Errorf("%w: %s", domain.ErrSessionExists, sessionID)
		}

		record, err := m.restore(ctx, sessionID)
		if err != nil {
			return err
		}
		for k, v := range initial {
			record[k] = v
		}

		sess = m.newSession(sessionID, pinned, record)
		m.sessMu.Lock()
		m.sessions[sessionID] = sess
		m.sessMu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("Session started", "session_id", sessionID, "registry_version", pinned.Version)
	return sess, nil
}

func (m *Manager) restore(ctx context.Context, sessionID string) (map[string]any, error) {
	record := make(map[string]any)
	if m.store == nil {
		return record, nil
	}
	snap, err := m.store.Load(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return record, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check session existence: %w", err)
	}
	for k, v := range snap {
		record[k] = v
	}
	// a resumed session is live again and its old end marker is spent
	record[state.KeyActive] = true
	delete(record, state.KeyPendingEndSession)
	m.logger.Debug("Session resumed from snapshot", "session_id", sessionID)
	return record, nil
}

func (m *Manager) newSession(id string, pinned registry.Snapshot, record map[string]any) *Session {
	logger := m.logger.With("session_id", id)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        id,
		Pinned:    pinned,
		State:     state.New(record, state.WithLogger(logger)),
		Loop:      loopguard.New(m.loopCfg, loopguard.WithLogger(logger)),
		Dedup:     dedup.New(m.dedupCfg, append([]dedup.Option{dedup.WithLogger(logger)}, m.dedupOps...)...),
		StartedAt: m.now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.nextTurn()
	return s
}

// Get returns a live session.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.sessMu.RLock()
	defer m.sessMu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// StartTurn advances a live session to its next turn and returns the turn number.
func (m *Manager) StartTurn(ctx context.Context, sessionID string) (int, error) {
	var turn int
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := m.Get(sessionID)
		if err != nil {
			return err
		}
		turn = s.nextTurn()
		return nil
	})
	return turn, err
}

// End stops a session. Pending retry timers are cancelled at once; in-flight
// handlers finish and their results are discarded. The final state is
// snapshotted to the store, if any, and returned.
func (m *Manager) End(ctx context.Context, sessionID string) (state.Snapshot, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	// Cancel before taking the lock so a call sleeping between retries wakes up.
	if !s.end() {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}

	var snap state.Snapshot
	err = m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		m.sessMu.Lock()
		delete(m.sessions, sessionID)
		m.sessMu.Unlock()

		s.State.Set(state.KeyActive, false)
		s.Dedup.Close()
		s.Loop.Reset()
		snap = s.State.Snapshot()

		if m.store != nil {
			if err := m.store.Save(ctx, sessionID, snap); err != nil {
				return fmt.Errorf("failed to save session snapshot: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return snap, err
	}
	m.logger.Info("Session ended", "session_id", sessionID, "duration", m.now().Sub(s.StartedAt))
	return snap, nil
}

// Sessions lists the IDs of live sessions.
func (m *Manager) Sessions() []string {
	m.sessMu.RLock()
	defer m.sessMu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Store returns the snapshot store, or nil.
func (m *Manager) Store() ports.SnapshotStore {
	return m.store
}

// Close ends every live session.
func (m *Manager) Close(ctx context.Context) error {
	var errs []error
	for _, id := range m.Sessions() {
		if _, err := m.End(ctx, id); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
