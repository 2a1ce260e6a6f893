// Package hsm defines the request/response boundary to a secure element and
// provides the transports the rest of the module talks through.
package hsm

import (
	"context"
	"fmt"
	"time"

	"github.com/glinharesb/sekeys/internal/algorithm"
	"github.com/glinharesb/sekeys/internal/policy"
)

// Status is the code an element returns for every operation. Zero is
// success; any other value is opaque to callers.
type Status uint32

const (
	StatusOK             Status = 0x0000
	StatusEmptySlot      Status = 0x8001
	StatusInternal       Status = 0x8002
	StatusBadParameter   Status = 0x8003
	StatusBufferTooSmall Status = 0x8004
	StatusUsageDenied    Status = 0x8007
	StatusUnsupported    Status = 0x800c

	// StatusTimeout is reported by Serialize when the caller's context ends
	// before the device becomes free.
	StatusTimeout Status = 0xffff0001
)

func (s Status) String() string {
	return fmt.Sprintf("0x%04x", uint32(s))
}

// HardwareFault carries a non-zero status unchanged to the caller.
type HardwareFault struct {
	Code Status
}

func (f *HardwareFault) Error() string {
	return "hsm: hardware fault " + f.Code.String()
}

// Fault converts a status into an error, nil for StatusOK.
func Fault(code Status) error {
	if code == StatusOK {
		return nil
	}
	return &HardwareFault{Code: code}
}

// RandomSource selects the element's random number generator.
type RandomSource uint8

const (
	TRNG RandomSource = iota + 1
	DRNG
)

func (r RandomSource) String() string {
	switch r {
	case TRNG:
		return "trng"
	case DRNG:
		return "drng"
	default:
		return "unknown"
	}
}

// KeyPairRequest asks the element to generate a key into Slot. Type is a
// curve wire id (algorithm.Curve.ID) or an RSA type code
// (algorithm.RSA.TypeCode).
type KeyPairRequest struct {
	Type   uint8
	Usage  policy.Mask
	Export bool
	Slot   policy.Slot
}

// KeyPairResult reports how many bytes of each output buffer were written.
type KeyPairResult struct {
	PublicKeyLen  int
	PrivateKeyLen int
}

// SignRequest asks the element to sign Digest with the key in Slot.
type SignRequest struct {
	Scheme algorithm.Scheme
	Digest []byte
	Slot   policy.Slot
}

// Transport is the abstract call surface of a secure element. Output buffers
// are supplied by the caller and sized for the algorithm's largest result;
// the private key buffer is only written when the request asks for export.
type Transport interface {
	GenerateKeyPair(ctx context.Context, req KeyPairRequest, publicKey, privateKey []byte) (KeyPairResult, Status)
	Sign(ctx context.Context, req SignRequest, signature []byte) (int, Status)
	Random(ctx context.Context, source RandomSource, out []byte) Status
}

// SlotInfo describes a key the element already holds. PublicKey uses the raw
// encoding GenerateKeyPair writes for the same Type.
type SlotInfo struct {
	Slot      policy.Slot
	Kind      policy.Kind
	Type      uint8
	Usage     policy.Mask
	PublicKey []byte
	CreatedAt time.Time
}

// Inventory is implemented by transports that can enumerate the keys they
// hold, so a restarted service can resume using them.
type Inventory interface {
	Slots(ctx context.Context) ([]SlotInfo, Status)
}

// Eraser is implemented by transports that can destroy the key in a slot.
// Erasing an empty slot reports StatusEmptySlot.
type Eraser interface {
	EraseKey(ctx context.Context, slot policy.Slot) Status
}
