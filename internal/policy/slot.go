// Package policy decides which element slots may hold which kind of key and
// encodes requested key usages into the element's bitmask format.
package policy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidSlot          = errors.New("policy: invalid slot")
	ErrUnsupportedUsageFlag = errors.New("policy: unsupported key usage")
	ErrUnknownKind          = errors.New("policy: unknown key kind")
)

// Kind is the key family a slot holds.
type Kind int

const (
	KindECC Kind = iota + 1
	KindRSA
)

func (k Kind) String() string {
	switch k {
	case KindECC:
		return "ecc"
	case KindRSA:
		return "rsa"
	default:
		return "unknown"
	}
}

// ParseKind accepts "ecc" or "rsa" in any case.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "ecc", "ec":
		return KindECC, nil
	case "rsa":
		return KindRSA, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Slot identifies a key location on the element.
type Slot uint16

const (
	SlotECC0 Slot = 0xe0f0
	SlotECC1 Slot = 0xe0f1
	SlotECC2 Slot = 0xe0f2
	SlotECC3 Slot = 0xe0f3

	SlotRSA0 Slot = 0xe0fc
	SlotRSA1 Slot = 0xe0fd

	// Session slots hold volatile ECC keys that live until the element's
	// session context is released.
	SessionSlotFirst Slot = 0xe100
	SessionSlotLast  Slot = 0xe103
)

func (s Slot) String() string {
	return fmt.Sprintf("0x%04x", uint16(s))
}

// IsSession reports whether s is in the session range.
func (s Slot) IsSession() bool {
	return s >= SessionSlotFirst && s <= SessionSlotLast
}

// ParseSlot accepts decimal or 0x-prefixed hexadecimal.
func ParseSlot(s string) (Slot, error) {
	var v uint64
	var err error
	lower := strings.ToLower(strings.TrimSpace(s))
	if rest, ok := strings.CutPrefix(lower, "0x"); ok {
		v, err = strconv.ParseUint(rest, 16, 16)
	} else {
		v, err = strconv.ParseUint(lower, 10, 16)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: cannot parse %q", ErrInvalidSlot, s)
	}
	return Slot(v), nil
}

// ValidateSlot checks that slot may hold a key of the given kind.
func ValidateSlot(kind Kind, slot Slot) error {
	switch kind {
	case KindECC:
		switch slot {
		case SlotECC0, SlotECC1, SlotECC2, SlotECC3:
			return nil
		}
		if slot.IsSession() {
			return nil
		}
		return fmt.Errorf("%w: %s cannot hold an ECC key", ErrInvalidSlot, slot)
	case KindRSA:
		switch slot {
		case SlotRSA0, SlotRSA1:
			return nil
		}
		return fmt.Errorf("%w: %s cannot hold an RSA key (use %s or %s)", ErrInvalidSlot, slot, SlotRSA0, SlotRSA1)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
	}
}

// Slots lists every legal slot for kind.
func Slots(kind Kind) []Slot {
	switch kind {
	case KindECC:
		out := []Slot{SlotECC0, SlotECC1, SlotECC2, SlotECC3}
		for s := SessionSlotFirst; s <= SessionSlotLast; s++ {
			out = append(out, s)
		}
		return out
	case KindRSA:
		return []Slot{SlotRSA0, SlotRSA1}
	default:
		return nil
	}
}
