// Package workspace keeps one screening workspace per authenticated owner.
package workspace

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/example/facefinder/internal/screening"
)

// Factory builds the orchestrator for an owner seen for the first time.
type Factory func(owner string) *screening.Orchestrator

// Manager hands out workspaces by owner, creating them on first use.
type Manager struct {
	factory Factory
	logger  *zap.Logger

	mu         sync.Mutex
	workspaces map[string]*screening.Orchestrator
}

// NewManager constructs an empty manager.
func NewManager(factory Factory, logger *zap.Logger) *Manager {
	return &Manager{
		factory:    factory,
		logger:     logger.Named("workspace_manager"),
		workspaces: make(map[string]*screening.Orchestrator),
	}
}

// Get returns the owner's workspace, creating it if needed.
func (m *Manager) Get(owner string) *screening.Orchestrator {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ws, ok := m.workspaces[owner]; ok {
		return ws
	}
	ws := m.factory(owner)
	m.workspaces[owner] = ws
	m.logger.Debug("workspace created", zap.String("owner", owner), zap.Int("workspaces", len(m.workspaces)))
	return ws
}

// Lookup returns the owner's workspace without creating one.
func (m *Manager) Lookup(owner string) (*screening.Orchestrator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[owner]
	return ws, ok
}

// Len reports how many workspaces exist.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workspaces)
}

// Wait blocks until every workspace's latest pass has stopped or ctx ends.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*screening.Orchestrator, 0, len(m.workspaces))
	for _, ws := range m.workspaces {
		all = append(all, ws)
	}
	m.mu.Unlock()

	for _, ws := range all {
		select {
		case <-ws.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
