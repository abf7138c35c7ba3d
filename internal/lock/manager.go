package lock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sitesage/sitesage/internal/coord"
	"github.com/sitesage/sitesage/pkg/errors"
	"github.com/sitesage/sitesage/pkg/logging"
	"github.com/sitesage/sitesage/pkg/metrics"
)

// Mode identifies which backend a lock decision came from.
type Mode string

const (
	// ModeShared means the shared store answered; the lock is honored by
	// every instance.
	ModeShared Mode = "shared"
	// ModeLocal means the shared store was unreachable and the lock only
	// excludes work within this process.
	ModeLocal Mode = "local"
	// ModeUnavailable means the shared store was unreachable and local
	// fallback is not allowed; no lock was taken.
	ModeUnavailable Mode = "unavailable"
)

// Acquisition is the result of an Acquire attempt. Token is set only when
// Acquired is true and must be presented to Release.
type Acquisition struct {
	Acquired bool
	Token    string
	Mode     Mode
}

type localEntry struct {
	token     string
	expiresAt time.Time
}

// Config controls lock behavior. AllowLocalFallback must stay false in
// production: a process-local lock cannot exclude other instances, and
// pretending otherwise risks duplicate work on shared resources.
type Config struct {
	AllowLocalFallback bool
	TTL                time.Duration
}

// Manager takes mutual-exclusion locks on named resources. Locks live in
// the shared store so they are honored across instances; every lock
// carries a TTL so a crashed holder cannot wedge the resource forever.
type Manager struct {
	client   *coord.RedisClient
	config   Config
	prefix   string
	mu       sync.Mutex
	local    map[string]localEntry
	degraded atomic.Bool
	metrics  *metrics.Metrics
	logger   *logging.Logger
}

// NewManager creates a lock manager. A nil client is treated the same as
// an unreachable store.
func NewManager(client *coord.RedisClient, cfg Config, m *metrics.Metrics) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	return &Manager{
		client:  client,
		config:  cfg,
		prefix:  "sitesage:lock:",
		local:   make(map[string]localEntry),
		metrics: m,
		logger:  logging.GetLogger(),
	}
}

// Acquire attempts to take the lock on resourceID. A held lock yields
// {Acquired: false} rather than an error; the error return is reserved
// for misuse such as an empty resource ID.
func (m *Manager) Acquire(ctx context.Context, resourceID string) (Acquisition, error) {
	if resourceID == "" {
		return Acquisition{}, fmt.Errorf("resource id is required")
	}

	token := uuid.New().String()

	if m.client != nil {
		created, err := m.client.SetIfAbsent(ctx, m.prefix+resourceID, token, m.config.TTL)
		if err == nil {
			if m.degraded.CompareAndSwap(true, false) {
				m.logger.Info("Shared lock store recovered")
			}
			m.metrics.RecordLockAcquisition(string(ModeShared), created)
			if !created {
				return Acquisition{Acquired: false, Mode: ModeShared}, nil
			}
			return Acquisition{Acquired: true, Token: token, Mode: ModeShared}, nil
		}

		if m.degraded.CompareAndSwap(false, true) {
			m.logger.LogDegradedMode(ctx, "lock", err.Error())
		}
	}

	if !m.config.AllowLocalFallback {
		m.metrics.RecordLockAcquisition(string(ModeUnavailable), false)
		return Acquisition{Acquired: false, Mode: ModeUnavailable}, nil
	}

	acquired := m.acquireLocal(resourceID, token)
	m.metrics.RecordLockAcquisition(string(ModeLocal), acquired)
	if !acquired {
		return Acquisition{Acquired: false, Mode: ModeLocal}, nil
	}
	return Acquisition{Acquired: true, Token: token, Mode: ModeLocal}, nil
}

func (m *Manager) acquireLocal(resourceID, token string) bool {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, held := m.local[resourceID]
	if held && now.Before(entry.expiresAt) {
		return false
	}
	m.local[resourceID] = localEntry{token: token, expiresAt: now.Add(m.config.TTL)}
	return true
}

// Release frees the lock on resourceID if token still identifies the
// current holder. A stale token is a no-op: the lock has since expired
// and may belong to someone else.
func (m *Manager) Release(ctx context.Context, resourceID, token string, mode Mode) error {
	switch mode {
	case ModeShared:
		if m.client == nil {
			return nil
		}
		released, err := m.client.ReleaseIfMatch(ctx, m.prefix+resourceID, token)
		if err != nil {
			return fmt.Errorf("failed to release lock for %s: %w", resourceID, err)
		}
		if !released {
			m.logger.Debug("Stale token on release, lock already reassigned",
				"component", "lock",
				"resource_id", resourceID,
			)
		}
		return nil
	case ModeLocal:
		m.releaseLocal(resourceID, token)
		return nil
	default:
		return nil
	}
}

func (m *Manager) releaseLocal(resourceID, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, held := m.local[resourceID]
	if !held || entry.token != token {
		return
	}
	delete(m.local, resourceID)
}

// WithLock runs fn while holding the lock on resourceID and releases it
// afterwards on every path. When the lock cannot be taken, fn does not
// run and the returned error says why: lock-held when another holder owns
// it, lock-unavailable when the store is down and fallback is off.
func (m *Manager) WithLock(ctx context.Context, resourceID string, fn func(ctx context.Context) error) error {
	acq, err := m.Acquire(ctx, resourceID)
	if err != nil {
		return err
	}
	if !acq.Acquired {
		if acq.Mode == ModeUnavailable {
			return errors.NewLockUnavailableError(resourceID)
		}
		return errors.NewLockHeldError(resourceID)
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if releaseErr := m.Release(releaseCtx, resourceID, acq.Token, acq.Mode); releaseErr != nil {
			m.logger.Warn("Failed to release lock",
				"component", "lock",
				"resource_id", resourceID,
				"error", releaseErr.Error(),
			)
		}
	}()

	return fn(ctx)
}

// Degraded reports whether the last shared store access failed.
func (m *Manager) Degraded() bool {
	return m.degraded.Load()
}
