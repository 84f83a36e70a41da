// Package state tracks per-customer conversation continuity in memory:
// which agent answered last, under which thread, and whether an escalation
// workflow has the customer pinned.
package state

import (
	"sync"
	"time"

	"github.com/convobank/orchestrator/pkg/config"
	"github.com/convobank/orchestrator/pkg/models"
)

// escalationPin marks a customer as mid-escalation. While the pin holds,
// routing bypasses classification and goes straight to the pinned agent.
type escalationPin struct {
	agentName string
	setAt     time.Time
}

// Manager is the in-memory conversation state store. Entries expire after a
// sliding TTL of inactivity; concurrent updates for one customer are last
// writer wins. State is deliberately process-local — it only shapes routing,
// losing it on restart costs one extra classification, nothing more.
type Manager struct {
	entryTTL time.Duration
	pinTTL   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]models.ConversationEntry
	pins    map[string]escalationPin
}

// NewManager builds a state manager with the configured TTLs.
func NewManager(cfg config.ConversationConfig) *Manager {
	return &Manager{
		entryTTL: cfg.EntryTTL,
		pinTTL:   cfg.EscalationPinTTL,
		now:      time.Now,
		entries:  make(map[string]models.ConversationEntry),
		pins:     make(map[string]escalationPin),
	}
}

// Update records a successful dispatch, creating or refreshing the
// customer's entry and sliding its TTL.
func (m *Manager) Update(customerID string, agent config.AgentRef, threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.entries[customerID]
	entry.CustomerID = customerID
	entry.AgentName = agent.Name
	entry.AgentEndpoint = agent.Endpoint
	entry.ThreadID = threadID
	entry.LastActivity = m.now()
	entry.MessageCount++
	m.entries[customerID] = entry
}

// Active returns the customer's entry if it has seen activity within the
// TTL. An expired entry is deleted on observation; reading never slides
// the window, only Update does.
func (m *Manager) Active(customerID string) (models.ConversationEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[customerID]
	if !ok {
		return models.ConversationEntry{}, false
	}
	if m.now().Sub(entry.LastActivity) >= m.entryTTL {
		delete(m.entries, customerID)
		return models.ConversationEntry{}, false
	}
	return entry, true
}

// Clear drops the customer's entry and any escalation pin. Explicit reset.
func (m *Manager) Clear(customerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, customerID)
	delete(m.pins, customerID)
}

// PinEscalation pins the customer to the escalation agent.
func (m *Manager) PinEscalation(customerID, agentName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pins[customerID] = escalationPin{agentName: agentName, setAt: m.now()}
}

// EscalationPin returns the pinned agent name if a pin is active. Pins have
// their own, longer TTL so an abandoned escalation cannot hold a customer
// hostage forever.
func (m *Manager) EscalationPin(customerID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pin, ok := m.pins[customerID]
	if !ok {
		return "", false
	}
	if m.now().Sub(pin.setAt) >= m.pinTTL {
		delete(m.pins, customerID)
		return "", false
	}
	return pin.agentName, true
}

// ClearEscalation resolves the customer's escalation pin, if any.
func (m *Manager) ClearEscalation(customerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pins, customerID)
}

// Len returns the number of live (possibly expired but unobserved) entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
