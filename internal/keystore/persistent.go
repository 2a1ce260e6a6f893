package keystore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glinharesb/sekeys/internal/crypto"
	"github.com/glinharesb/sekeys/internal/policy"
)

// sealedSlot is the on-disk form of a SlotEntry. The PKCS8 private key is
// sealed with AES-GCM and bound to its slot id.
type sealedSlot struct {
	Slot      policy.Slot `json:"slot"`
	Kind      policy.Kind `json:"kind"`
	Type      uint8       `json:"type"`
	Usage     policy.Mask `json:"usage"`
	Sealed    []byte      `json:"sealed_key"`
	CreatedAt time.Time   `json:"created_at"`
}

// PersistentStore wraps MemoryStore and persists to a JSON file using atomic rename.
type PersistentStore struct {
	*MemoryStore
	saveMu  sync.Mutex
	path    string
	sealKey []byte
	logger  *slog.Logger
}

// NewPersistentStore creates a store that persists to the given file path,
// sealing private keys under sealKey (32 bytes, see crypto.DeriveSealKey).
// If the file exists its slots are loaded on startup.
func NewPersistentStore(path string, sealKey []byte, logger *slog.Logger) (*PersistentStore, error) {
	if len(sealKey) != 32 {
		return nil, fmt.Errorf("keystore: seal key must be 32 bytes, got %d", len(sealKey))
	}
	if logger == nil {
		logger = slog.Default()
	}
	ps := &PersistentStore{
		MemoryStore: NewMemoryStore(),
		path:        path,
		sealKey:     sealKey,
		logger:      logger,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := ps.load(); err != nil {
			return nil, fmt.Errorf("load existing data: %w", err)
		}
		logger.Info("slot store loaded", "path", path, "slots", len(ps.slots))
	}

	return ps, nil
}

// Put writes the file first and only then updates memory, so a failed save
// leaves the slot as it was.
func (ps *PersistentStore) Put(entry *SlotEntry) error {
	if entry == nil || entry.PrivateKey == nil {
		return ps.MemoryStore.Put(entry)
	}
	ps.saveMu.Lock()
	defer ps.saveMu.Unlock()

	if err := ps.save(ps.without(entry.Slot), entry); err != nil {
		return err
	}
	return ps.MemoryStore.Put(entry)
}

func (ps *PersistentStore) Delete(slot policy.Slot) error {
	ps.saveMu.Lock()
	defer ps.saveMu.Unlock()

	if _, err := ps.MemoryStore.Get(slot); err != nil {
		return err
	}
	if err := ps.save(ps.without(slot)); err != nil {
		return err
	}
	return ps.MemoryStore.Delete(slot)
}

func (ps *PersistentStore) without(slot policy.Slot) []*SlotEntry {
	all, _ := ps.MemoryStore.List(0)
	kept := all[:0]
	for _, e := range all {
		if e.Slot != slot {
			kept = append(kept, e)
		}
	}
	return kept
}

func slotAAD(slot policy.Slot) []byte {
	return binary.BigEndian.AppendUint16(nil, uint16(slot))
}

// save writes entries plus extra to a temp file then atomically renames it.
// The caller holds saveMu.
func (ps *PersistentStore) save(entries []*SlotEntry, extra ...*SlotEntry) error {
	entries = append(entries, extra...)
	records := make([]sealedSlot, 0, len(entries))
	for _, e := range entries {
		der, err := crypto.MarshalPrivateKey(e.PrivateKey)
		if err != nil {
			return fmt.Errorf("marshal slot %s: %w", e.Slot, err)
		}
		sealed, err := crypto.Seal(ps.sealKey, der, slotAAD(e.Slot))
		if err != nil {
			return fmt.Errorf("seal slot %s: %w", e.Slot, err)
		}
		records = append(records, sealedSlot{
			Slot:      e.Slot,
			Kind:      e.Kind,
			Type:      e.Type,
			Usage:     e.Usage,
			Sealed:    sealed,
			CreatedAt: e.CreatedAt,
		})
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	tmpPath := ps.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, ps.path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

func (ps *PersistentStore) load() error {
	data, err := os.ReadFile(ps.path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	var records []sealedSlot
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("unmarshal json: %w", err)
	}

	for _, r := range records {
		der, err := crypto.Open(ps.sealKey, r.Sealed, slotAAD(r.Slot))
		if err != nil {
			return fmt.Errorf("unseal slot %s: %w", r.Slot, err)
		}
		key, err := crypto.UnmarshalPrivateKey(der)
		if err != nil {
			return fmt.Errorf("unmarshal slot %s: %w", r.Slot, err)
		}
		ps.slots[r.Slot] = &SlotEntry{
			Slot:       r.Slot,
			Kind:       r.Kind,
			Type:       r.Type,
			Usage:      r.Usage,
			PrivateKey: key,
			CreatedAt:  r.CreatedAt,
		}
	}
	return nil
}
