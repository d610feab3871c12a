package analyze

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/taskwell/mailsync/internal/provider"
)

// ErrRunInProgress is returned when an analysis run is already active
// for the same user and provider.
var ErrRunInProgress = errors.New("analysis already running")

// Manager serializes analysis runs per (user, provider). Concurrent
// requests for the same pair are rejected rather than queued; the
// caller retries once the active run finishes.
type Manager struct {
	analyzer *Analyzer
	log      *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// NewManager wires the run manager.
func NewManager(analyzer *Analyzer, log *zap.Logger) *Manager {
	return &Manager{
		analyzer: analyzer,
		log:      log,
		active:   make(map[string]struct{}),
	}
}

// Run executes one analysis pass, holding the per-pair slot for its
// duration.
func (m *Manager) Run(ctx context.Context, mp provider.MailProvider, userID, providerName string) (*Result, error) {
	key := fmt.Sprintf("%s:%s", userID, providerName)

	m.mu.Lock()
	if _, busy := m.active[key]; busy {
		m.mu.Unlock()
		return nil, ErrRunInProgress
	}
	m.active[key] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.active, key)
		m.mu.Unlock()
	}()

	m.log.Info("analysis run start", zap.String("key", key))
	return m.analyzer.Run(ctx, mp, userID)
}

// IsRunning reports whether a run holds the slot for the pair.
func (m *Manager) IsRunning(userID, providerName string) bool {
	key := fmt.Sprintf("%s:%s", userID, providerName)

	m.mu.Lock()
	defer m.mu.Unlock()
	_, busy := m.active[key]
	return busy
}
