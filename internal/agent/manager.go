package agent

import (
	"context"
	"fmt"
	"log/slog"

	"crypto_agents/internal/domain"
	"crypto_agents/internal/store"
)

// Manager owns the agent registry: starting and stopping agents by
// name and persisting which agents are enabled so a restart comes back
// in the same configuration.
type Manager struct {
	agents map[string]domain.SignalProducer
	order  []string
	store  *store.Store
}

// NewManager creates an empty registry backed by the store for state
// persistence.
func NewManager(st *store.Store) *Manager {
	return &Manager{
		agents: make(map[string]domain.SignalProducer),
		store:  st,
	}
}

// Register adds an agent under its own name. Registration order is
// preserved for status listings.
func (m *Manager) Register(a domain.SignalProducer) {
	m.agents[a.Name()] = a
	m.order = append(m.order, a.Name())
}

// StartEnabled starts every agent enabled by configuration, with
// persisted state taking precedence over the config default.
func (m *Manager) StartEnabled(ctx context.Context, defaults map[string]bool) error {
	persisted, err := m.store.LoadAgentStates()
	if err != nil {
		return fmt.Errorf("failed to load agent states: %w", err)
	}

	for _, name := range m.order {
		enabled, fromConfig := defaults[name]
		if saved, ok := persisted[name]; ok {
			enabled = saved
		} else if !fromConfig {
			continue
		}
		if !enabled {
			slog.Info("agent disabled", slog.String("agent", name))
			continue
		}
		if err := m.agents[name].Start(ctx); err != nil {
			return fmt.Errorf("failed to start agent %s: %w", name, err)
		}
	}
	return nil
}

// StartAgent starts one agent by name and persists it as enabled.
func (m *Manager) StartAgent(ctx context.Context, name string) error {
	a, ok := m.agents[name]
	if !ok {
		return fmt.Errorf("unknown agent %q", name)
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	return m.store.SaveAgentState(name, true)
}

// StopAgent stops one agent by name and persists it as disabled.
func (m *Manager) StopAgent(name string) error {
	a, ok := m.agents[name]
	if !ok {
		return fmt.Errorf("unknown agent %q", name)
	}
	a.Stop()
	return m.store.SaveAgentState(name, false)
}

// StopAll stops every running agent without touching persisted state,
// used during shutdown.
func (m *Manager) StopAll() {
	// Registration order puts producers before the execution agent, so
	// signal flow quiesces before the consumer goes away.
	for _, name := range m.order {
		m.agents[name].Stop()
	}
}

// Status reports each registered agent's running state.
func (m *Manager) Status() map[string]bool {
	status := make(map[string]bool, len(m.agents))
	for name, a := range m.agents {
		status[name] = a.Running()
	}
	return status
}

// Names returns the registered agent names in registration order, the
// same order startup and shutdown walk them.
func (m *Manager) Names() []string {
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}
