package keystore

import (
	"fmt"
	"slices"
	"sync"

	"github.com/glinharesb/sekeys/internal/policy"
)

// MemoryStore is a thread-safe in-memory slot store backed by sync.RWMutex.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[policy.Slot]*SlotEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots: make(map[policy.Slot]*SlotEntry),
	}
}

func (m *MemoryStore) Put(entry *SlotEntry) error {
	if entry == nil || entry.PrivateKey == nil {
		return fmt.Errorf("keystore: entry for slot has no key")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.slots[entry.Slot] = entry
	return nil
}

func (m *MemoryStore) Get(slot policy.Slot) (*SlotEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.slots[slot]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSlotEmpty, slot)
	}
	return entry, nil
}

// List returns the occupied slots of the given kind ordered by slot id. A zero
// kind lists every slot.
func (m *MemoryStore) List(kind policy.Kind) ([]*SlotEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*SlotEntry
	for _, entry := range m.slots {
		if kind == 0 || entry.Kind == kind {
			result = append(result, entry)
		}
	}
	slices.SortFunc(result, func(a, b *SlotEntry) int {
		return int(a.Slot) - int(b.Slot)
	})
	return result, nil
}

func (m *MemoryStore) Delete(slot policy.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.slots[slot]; !ok {
		return fmt.Errorf("%w: %s", ErrSlotEmpty, slot)
	}
	delete(m.slots, slot)
	return nil
}
