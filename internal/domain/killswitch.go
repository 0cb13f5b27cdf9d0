package domain

import (
	"sync"
	"time"
)

// KillSwitchState is the audit view of the kill switch.
type KillSwitchState struct {
	Enabled bool      `json:"enabled"`
	SetBy   string    `json:"set_by"`
	SetAt   time.Time `json:"set_at"`
}

// KillSwitch is the process-wide halt flag for new order submission.
// It is an explicit shared handle passed to every component that reads
// or writes it, never a hidden singleton. Writes are last-write-wins
// with an audit timestamp; a write is visible to all subsequent reads.
// In-flight orders past PENDING_SUBMIT are unaffected.
type KillSwitch struct {
	mu    sync.RWMutex
	state KillSwitchState
}

// NewKillSwitch creates a disabled kill switch.
func NewKillSwitch() *KillSwitch {
	return &KillSwitch{}
}

// Set flips the switch. Effective immediately for all subsequent risk
// engine evaluations.
func (k *KillSwitch) Set(enabled bool, actor string) {
	k.mu.Lock()
	k.state = KillSwitchState{Enabled: enabled, SetBy: actor, SetAt: time.Now()}
	k.mu.Unlock()
}

// Enabled reports the current flag.
func (k *KillSwitch) Enabled() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state.Enabled
}

// State returns the full audit state.
func (k *KillSwitch) State() KillSwitchState {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state
}
