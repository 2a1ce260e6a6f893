package element

import (
	"context"
	"fmt"
	"time"

	"github.com/glinharesb/sekeys/internal/algorithm"
	"github.com/glinharesb/sekeys/internal/hsm"
	"github.com/glinharesb/sekeys/internal/metrics"
	"github.com/glinharesb/sekeys/internal/policy"
)

// Resume returns a generated key object for a key the element already holds,
// as reported by an hsm.Inventory. The private key is never available on a
// resumed key.
func Resume(t hsm.Transport, info hsm.SlotInfo, opts ...Option) (*Key, error) {
	if len(info.PublicKey) == 0 {
		return nil, fmt.Errorf("%w: slot %s has no public key", ErrMalformedResponse, info.Slot)
	}
	k, err := newKey(t, info.Kind, info.Slot, opts)
	if err != nil {
		return nil, err
	}
	if info.Usage == 0 {
		return nil, fmt.Errorf("%w: slot %s has no usage", ErrMalformedResponse, info.Slot)
	}

	pub := clone(info.PublicKey)
	switch info.Kind {
	case policy.KindECC:
		curve, ok := algorithm.CurveByID(info.Type)
		if !ok {
			return nil, fmt.Errorf("%w: slot %s holds unknown curve id 0x%02x", ErrMalformedResponse, info.Slot, info.Type)
		}
		k.curve = curve
	case policy.KindRSA:
		params, ok := algorithm.RSAByTypeCode(info.Type)
		if !ok {
			return nil, fmt.Errorf("%w: slot %s holds unknown rsa type 0x%02x", ErrMalformedResponse, info.Slot, info.Type)
		}
		k.rsa = params
		pub = append(params.Header(), pub...)
	}
	k.bind(info.Usage, pub, nil)
	return k, nil
}

// Erase destroys the key in the element slot and clears the bound state. The
// transport must implement hsm.Eraser.
func (k *Key) Erase(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation(metrics.OpErase, k.kind.String(), start, err) }()

	eraser, ok := k.transport.(hsm.Eraser)
	if !ok {
		return fmt.Errorf("erase slot %s: %w", k.slot, hsm.Fault(hsm.StatusUnsupported))
	}
	if err = hsm.Fault(eraser.EraseKey(ctx, k.slot)); err != nil {
		k.logger.Warn("key erase failed", "slot", k.slot, "kind", k.kind, "error", err)
		return fmt.Errorf("erase slot %s: %w", k.slot, err)
	}

	k.generated = false
	k.usage = 0
	k.publicKey = nil
	k.privateKey = nil
	k.rsa = algorithm.RSA{}
	k.logger.Info("key erased", "slot", k.slot, "kind", k.kind)
	return nil
}
