package keystore

import (
	"crypto"
	"errors"
	"time"

	"github.com/glinharesb/sekeys/internal/policy"
)

var ErrSlotEmpty = errors.New("keystore: slot is empty")

// SlotEntry is the content of one key slot of the simulated element. Type is
// the curve wire id for ECC keys and the type code for RSA keys.
type SlotEntry struct {
	Slot       policy.Slot
	Kind       policy.Kind
	Type       uint8
	Usage      policy.Mask
	PrivateKey crypto.Signer
	CreatedAt  time.Time
}

// Store holds slot contents. Put replaces whatever the slot held before, the
// way key generation on a real element overwrites the slot.
type Store interface {
	Put(entry *SlotEntry) error
	Get(slot policy.Slot) (*SlotEntry, error)
	List(kind policy.Kind) ([]*SlotEntry, error)
	Delete(slot policy.Slot) error
}
