package service

import "sync"

// Slot names one unit of single-flight control inside a session.
type Slot string

const (
	SlotPlan       Slot = "plan"
	SlotMockup     Slot = "mockup"
	SlotExtraPages Slot = "extra-pages"
	SlotIdeas      Slot = "ideas"
)

func PageSlot(pageID string) Slot    { return Slot("page:" + pageID) }
func ConceptSlot(pageID string) Slot { return Slot("concept:" + pageID) }

type SlotState int

const (
	SlotIdle SlotState = iota
	SlotPlaceholderInserted
	SlotAwaitingProvider
)

func (s SlotState) String() string {
	switch s {
	case SlotPlaceholderInserted:
		return "placeholder_inserted"
	case SlotAwaitingProvider:
		return "awaiting_provider"
	default:
		return "idle"
	}
}

// SlotTable tracks every occupied slot. An absent key means idle.
type SlotTable struct {
	mu     sync.Mutex
	states map[string]SlotState
}

func NewSlotTable() *SlotTable {
	return &SlotTable{states: make(map[string]SlotState)}
}

func slotKey(session string, slot Slot) string {
	return session + "/" + string(slot)
}

// Acquire occupies an idle slot. It reports false when the slot is taken.
func (t *SlotTable) Acquire(session string, slot Slot, state SlotState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := slotKey(session, slot)
	if _, busy := t.states[key]; busy {
		return false
	}
	t.states[key] = state
	return true
}

// Advance moves an occupied slot to the next state.
func (t *SlotTable) Advance(session string, slot Slot, state SlotState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := slotKey(session, slot)
	if _, busy := t.states[key]; busy {
		t.states[key] = state
	}
}

func (t *SlotTable) Release(session string, slot Slot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, slotKey(session, slot))
}

func (t *SlotTable) State(session string, slot Slot) SlotState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[slotKey(session, slot)]
}

// Busy lists the occupied slots of one session.
func (t *SlotTable) Busy(session string) map[Slot]SlotState {
	t.mu.Lock()
	defer t.mu.Unlock()
	prefix := session + "/"
	out := make(map[Slot]SlotState)
	for key, state := range t.states {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out[Slot(key[len(prefix):])] = state
		}
	}
	return out
}
