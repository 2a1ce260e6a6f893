package hsm

import (
	"context"

	"github.com/glinharesb/sekeys/internal/policy"
)

// serialized admits one operation at a time to the wrapped transport.
type serialized struct {
	next Transport
	sem  chan struct{}
}

// Serialize wraps t so that at most one operation is in flight on the device.
// Callers waiting for the device give up with StatusTimeout when their
// context ends, without the device being called.
func Serialize(t Transport) Transport {
	return &serialized{next: t, sem: make(chan struct{}, 1)}
}

func (s *serialized) acquire(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case s.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *serialized) release() { <-s.sem }

func (s *serialized) GenerateKeyPair(ctx context.Context, req KeyPairRequest, publicKey, privateKey []byte) (KeyPairResult, Status) {
	if !s.acquire(ctx) {
		return KeyPairResult{}, StatusTimeout
	}
	defer s.release()
	return s.next.GenerateKeyPair(ctx, req, publicKey, privateKey)
}

func (s *serialized) Sign(ctx context.Context, req SignRequest, signature []byte) (int, Status) {
	if !s.acquire(ctx) {
		return 0, StatusTimeout
	}
	defer s.release()
	return s.next.Sign(ctx, req, signature)
}

func (s *serialized) Random(ctx context.Context, source RandomSource, out []byte) Status {
	if !s.acquire(ctx) {
		return StatusTimeout
	}
	defer s.release()
	return s.next.Random(ctx, source, out)
}

// Slots forwards to the wrapped transport when it implements Inventory.
func (s *serialized) Slots(ctx context.Context) ([]SlotInfo, Status) {
	inv, ok := s.next.(Inventory)
	if !ok {
		return nil, StatusUnsupported
	}
	if !s.acquire(ctx) {
		return nil, StatusTimeout
	}
	defer s.release()
	return inv.Slots(ctx)
}

// EraseKey forwards to the wrapped transport when it implements Eraser.
func (s *serialized) EraseKey(ctx context.Context, slot policy.Slot) Status {
	e, ok := s.next.(Eraser)
	if !ok {
		return StatusUnsupported
	}
	if !s.acquire(ctx) {
		return StatusTimeout
	}
	defer s.release()
	return e.EraseKey(ctx, slot)
}
