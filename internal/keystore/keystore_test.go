package keystore

import (
	"crypto/elliptic"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glinharesb/sekeys/internal/crypto"
	"github.com/glinharesb/sekeys/internal/policy"
)

func makeEntry(t *testing.T, slot policy.Slot) *SlotEntry {
	t.Helper()
	key, err := crypto.GenerateECDSAKey(elliptic.P256())
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &SlotEntry{
		Slot:       slot,
		Kind:       policy.KindECC,
		Type:       0x03,
		Usage:      policy.DefaultMask,
		PrivateKey: key,
		CreatedAt:  time.Now(),
	}
}

func TestPutAndGet(t *testing.T) {
	store := NewMemoryStore()
	entry := makeEntry(t, policy.SlotECC0)

	if err := store.Put(entry); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(policy.SlotECC0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Slot != policy.SlotECC0 {
		t.Fatalf("slot mismatch: got %s", got.Slot)
	}
}

func TestPutOverwrites(t *testing.T) {
	store := NewMemoryStore()
	first := makeEntry(t, policy.SlotECC1)
	second := makeEntry(t, policy.SlotECC1)
	store.Put(first)

	if err := store.Put(second); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ := store.Get(policy.SlotECC1)
	if got != second {
		t.Fatal("second put should replace slot content")
	}
}

func TestPutRejectsEmptyEntry(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Put(&SlotEntry{Slot: policy.SlotECC0}); err == nil {
		t.Fatal("entry without key should be rejected")
	}
}

func TestGetEmptySlot(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(policy.SlotECC2)
	if !errors.Is(err, ErrSlotEmpty) {
		t.Fatalf("expected ErrSlotEmpty, got %v", err)
	}
}

func TestListAll(t *testing.T) {
	store := NewMemoryStore()
	for _, s := range []policy.Slot{0xe103, 0xe0f2, 0xe0f0, 0xe101} {
		store.Put(makeEntry(t, s))
	}

	slots, err := store.List(0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(slots))
	}
	for i := 1; i < len(slots); i++ {
		if slots[i-1].Slot >= slots[i].Slot {
			t.Fatalf("list not ordered: %s before %s", slots[i-1].Slot, slots[i].Slot)
		}
	}
}

func TestListFiltered(t *testing.T) {
	store := NewMemoryStore()
	for _, s := range []policy.Slot{policy.SlotECC0, policy.SlotECC1, policy.SlotRSA0} {
		e := makeEntry(t, s)
		if s == policy.SlotRSA0 {
			e.Kind = policy.KindRSA
		}
		store.Put(e)
	}

	ecc, _ := store.List(policy.KindECC)
	if len(ecc) != 2 {
		t.Fatalf("expected 2 ecc slots, got %d", len(ecc))
	}

	rsa, _ := store.List(policy.KindRSA)
	if len(rsa) != 1 || rsa[0].Slot != policy.SlotRSA0 {
		t.Fatalf("expected rsa slot 0xe0fc, got %v", rsa)
	}
}

func TestDelete(t *testing.T) {
	store := NewMemoryStore()
	store.Put(makeEntry(t, policy.SlotECC0))

	if err := store.Delete(policy.SlotECC0); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := store.Get(policy.SlotECC0); !errors.Is(err, ErrSlotEmpty) {
		t.Fatal("deleted slot should be empty")
	}
}

func TestDeleteEmptySlot(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Delete(policy.SlotECC3); !errors.Is(err, ErrSlotEmpty) {
		t.Fatalf("expected ErrSlotEmpty, got %v", err)
	}
}

func TestConcurrentReadWrite(t *testing.T) {
	store := NewMemoryStore()
	slots := policy.Slots(policy.KindECC)

	entries := make([]*SlotEntry, len(slots))
	for i, s := range slots {
		entries[i] = makeEntry(t, s)
	}

	var wg sync.WaitGroup
	for range 20 {
		for i := range slots {
			wg.Add(3)
			go func(i int) {
				defer wg.Done()
				store.Put(entries[i])
			}(i)
			go func(i int) {
				defer wg.Done()
				store.Get(slots[i])
			}(i)
			go func() {
				defer wg.Done()
				store.List(0)
			}()
		}
	}
	wg.Wait()

	for i, s := range slots {
		got, err := store.Get(s)
		if err != nil {
			t.Fatalf("%s not found: %v", s, err)
		}
		if got != entries[i] {
			t.Fatalf("%s holds unexpected entry", s)
		}
	}
}
