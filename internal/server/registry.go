package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/glinharesb/sekeys/internal/element"
	"github.com/glinharesb/sekeys/internal/hsm"
	"github.com/glinharesb/sekeys/internal/policy"
)

// record is a generated key and the time of its last generation.
type record struct {
	key       *element.Key
	createdAt time.Time
}

// KeyInfo is a point-in-time copy of a generated key's bindings.
type KeyInfo struct {
	Kind       policy.Kind
	Slot       policy.Slot
	Curve      string
	KeySize    int
	Usage      policy.Mask
	PublicKey  []byte
	PrivateKey []byte
	CreatedAt  time.Time
}

func (rec *record) snapshot() KeyInfo {
	usage, _ := rec.key.Usage()
	info := KeyInfo{
		Kind:       rec.key.Kind(),
		Slot:       rec.key.Slot(),
		KeySize:    rec.key.KeySize(),
		Usage:      usage,
		PublicKey:  rec.key.PublicKey(),
		PrivateKey: rec.key.PrivateKey(),
		CreatedAt:  rec.createdAt,
	}
	if info.Kind == policy.KindECC {
		info.Curve = rec.key.Curve().Name
	}
	return info
}

// Registry owns the key objects the service has generated, one per slot.
// Generation takes the write lock; signing shares the read lock, so a key is
// never regenerated while it signs.
type Registry struct {
	transport hsm.Transport
	logger    *slog.Logger

	mu   sync.RWMutex
	keys map[policy.Slot]*record
}

// NewRegistry wraps t with hsm.Serialize so at most one element command is
// in flight.
func NewRegistry(t hsm.Transport, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		transport: hsm.Serialize(t),
		logger:    logger,
		keys:      make(map[policy.Slot]*record),
	}
}

// Generate creates or regenerates the key in slot. A key object already
// bound to the slot is reused; a new object is kept only when generation
// succeeds.
func (r *Registry) Generate(ctx context.Context, kind policy.Kind, slot policy.Slot, opts element.GenerateOptions) (info KeyInfo, regenerated bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.keys[slot]
	var key *element.Key
	switch {
	case ok && existing.key.Kind() == kind:
		key = existing.key
	case kind == policy.KindECC:
		key, err = element.NewECCKey(r.transport, slot, opts.Curve, element.WithLogger(r.logger))
	case kind == policy.KindRSA:
		key, err = element.NewRSAKey(r.transport, slot, element.WithLogger(r.logger))
	default:
		err = fmt.Errorf("%w: %d", policy.ErrUnknownKind, int(kind))
	}
	if err != nil {
		return KeyInfo{}, false, err
	}

	if err := key.Generate(ctx, opts); err != nil {
		return KeyInfo{}, false, err
	}
	rec := &record{key: key, createdAt: time.Now().UTC()}
	r.keys[slot] = rec
	return rec.snapshot(), ok, nil
}

// Resume binds the keys the element already holds, so slots generated before
// a restart stay usable. Transports without an inventory resume nothing.
func (r *Registry) Resume(ctx context.Context) (int, error) {
	inv, ok := r.transport.(hsm.Inventory)
	if !ok {
		return 0, nil
	}
	infos, status := inv.Slots(ctx)
	if status == hsm.StatusUnsupported {
		r.logger.Debug("transport has no slot inventory")
		return 0, nil
	}
	if err := hsm.Fault(status); err != nil {
		return 0, fmt.Errorf("list element slots: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, info := range infos {
		key, err := element.Resume(r.transport, info, element.WithLogger(r.logger))
		if err != nil {
			r.logger.Warn("skipping stored slot", "slot", info.Slot, "error", err)
			continue
		}
		createdAt := info.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		r.keys[info.Slot] = &record{key: key, createdAt: createdAt}
		n++
	}
	r.logger.Info("keys resumed", "count", n)
	return n, nil
}

// Delete erases the key in slot from the element and forgets it. A slot the
// element reports as already empty is forgotten as well.
func (r *Registry) Delete(ctx context.Context, slot policy.Slot) (KeyInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.keys[slot]
	if !ok {
		return KeyInfo{}, fmt.Errorf("%w %s", errNoKey, slot)
	}
	info := rec.snapshot()
	if err := rec.key.Erase(ctx); err != nil {
		var hf *hsm.HardwareFault
		if !errors.As(err, &hf) || hf.Code != hsm.StatusEmptySlot {
			return KeyInfo{}, err
		}
		r.logger.Warn("slot already empty on element", "slot", slot)
	}
	delete(r.keys, slot)
	return info, nil
}

// With runs fn on the key in slot under the read lock.
func (r *Registry) With(slot policy.Slot, fn func(key *element.Key) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.keys[slot]
	if !ok {
		return fmt.Errorf("%w %s", errNoKey, slot)
	}
	return fn(rec.key)
}

// Get returns the bindings of the key in slot.
func (r *Registry) Get(slot policy.Slot) (KeyInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.keys[slot]
	if !ok {
		return KeyInfo{}, fmt.Errorf("%w %s", errNoKey, slot)
	}
	return rec.snapshot(), nil
}

// List returns the generated keys ordered by slot.
func (r *Registry) List() []KeyInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]KeyInfo, 0, len(r.keys))
	for _, rec := range r.keys {
		out = append(out, rec.snapshot())
	}
	slices.SortFunc(out, func(a, b KeyInfo) int { return int(a.Slot) - int(b.Slot) })
	return out
}

// Random reads n bytes from the element.
func (r *Registry) Random(ctx context.Context, n int, trng bool) ([]byte, error) {
	return element.Random(ctx, r.transport, n, trng)
}
