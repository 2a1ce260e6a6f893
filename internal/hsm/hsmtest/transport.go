// Package hsmtest provides a scriptable hsm.Transport for tests.
package hsmtest

import (
	"context"
	"sync"

	"github.com/glinharesb/sekeys/internal/hsm"
	"github.com/glinharesb/sekeys/internal/policy"
)

// KeyPairCall records one GenerateKeyPair invocation.
type KeyPairCall struct {
	Request       hsm.KeyPairRequest
	PublicBufLen  int
	PrivateBufLen int
}

// SignCall records one Sign invocation. Request.Digest is a copy.
type SignCall struct {
	Request hsm.SignRequest
	BufLen  int
}

// EraseCall records one EraseKey invocation.
type EraseCall struct {
	Slot policy.Slot
}

// RandomCall records one Random invocation.
type RandomCall struct {
	Source hsm.RandomSource
	Length int
}

// Transport implements hsm.Transport. Each operation delegates to its Func
// field when set and otherwise succeeds without writing output.
type Transport struct {
	mu sync.Mutex

	// Configurable behavior
	GenerateKeyPairFunc func(ctx context.Context, req hsm.KeyPairRequest, publicKey, privateKey []byte) (hsm.KeyPairResult, hsm.Status)
	SignFunc            func(ctx context.Context, req hsm.SignRequest, signature []byte) (int, hsm.Status)
	RandomFunc          func(ctx context.Context, source hsm.RandomSource, out []byte) hsm.Status
	SlotsFunc           func(ctx context.Context) ([]hsm.SlotInfo, hsm.Status)
	EraseKeyFunc        func(ctx context.Context, slot policy.Slot) hsm.Status

	// Call tracking
	KeyPairCalls []KeyPairCall
	SignCalls    []SignCall
	RandomCalls  []RandomCall
	EraseCalls   []EraseCall
}

var (
	_ hsm.Transport = (*Transport)(nil)
	_ hsm.Inventory = (*Transport)(nil)
	_ hsm.Eraser    = (*Transport)(nil)
)

func (t *Transport) GenerateKeyPair(ctx context.Context, req hsm.KeyPairRequest, publicKey, privateKey []byte) (hsm.KeyPairResult, hsm.Status) {
	t.mu.Lock()
	t.KeyPairCalls = append(t.KeyPairCalls, KeyPairCall{Request: req, PublicBufLen: len(publicKey), PrivateBufLen: len(privateKey)})
	fn := t.GenerateKeyPairFunc
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, req, publicKey, privateKey)
	}
	return hsm.KeyPairResult{}, hsm.StatusOK
}

func (t *Transport) Sign(ctx context.Context, req hsm.SignRequest, signature []byte) (int, hsm.Status) {
	recorded := req
	recorded.Digest = append([]byte(nil), req.Digest...)

	t.mu.Lock()
	t.SignCalls = append(t.SignCalls, SignCall{Request: recorded, BufLen: len(signature)})
	fn := t.SignFunc
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, req, signature)
	}
	return 0, hsm.StatusOK
}

func (t *Transport) Random(ctx context.Context, source hsm.RandomSource, out []byte) hsm.Status {
	t.mu.Lock()
	t.RandomCalls = append(t.RandomCalls, RandomCall{Source: source, Length: len(out)})
	fn := t.RandomFunc
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, source, out)
	}
	return hsm.StatusOK
}

// Slots reports no keys unless SlotsFunc is set.
func (t *Transport) Slots(ctx context.Context) ([]hsm.SlotInfo, hsm.Status) {
	t.mu.Lock()
	fn := t.SlotsFunc
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return nil, hsm.StatusOK
}

func (t *Transport) EraseKey(ctx context.Context, slot policy.Slot) hsm.Status {
	t.mu.Lock()
	t.EraseCalls = append(t.EraseCalls, EraseCall{Slot: slot})
	fn := t.EraseKeyFunc
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, slot)
	}
	return hsm.StatusOK
}

// CallCount returns the total number of operations the transport received.
func (t *Transport) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.KeyPairCalls) + len(t.SignCalls) + len(t.RandomCalls) + len(t.EraseCalls)
}

// ReturnKeyPair makes GenerateKeyPair write pub, and priv when export was
// requested, and succeed.
func ReturnKeyPair(pub, priv []byte) func(context.Context, hsm.KeyPairRequest, []byte, []byte) (hsm.KeyPairResult, hsm.Status) {
	return func(_ context.Context, req hsm.KeyPairRequest, publicKey, privateKey []byte) (hsm.KeyPairResult, hsm.Status) {
		res := hsm.KeyPairResult{PublicKeyLen: copy(publicKey, pub)}
		if req.Export {
			res.PrivateKeyLen = copy(privateKey, priv)
		}
		return res, hsm.StatusOK
	}
}

// ReturnSignature makes Sign write raw and succeed.
func ReturnSignature(raw []byte) func(context.Context, hsm.SignRequest, []byte) (int, hsm.Status) {
	return func(_ context.Context, _ hsm.SignRequest, signature []byte) (int, hsm.Status) {
		return copy(signature, raw), hsm.StatusOK
	}
}

// FailKeyPair makes GenerateKeyPair fail with code.
func FailKeyPair(code hsm.Status) func(context.Context, hsm.KeyPairRequest, []byte, []byte) (hsm.KeyPairResult, hsm.Status) {
	return func(context.Context, hsm.KeyPairRequest, []byte, []byte) (hsm.KeyPairResult, hsm.Status) {
		return hsm.KeyPairResult{}, code
	}
}

// FailSign makes Sign fail with code.
func FailSign(code hsm.Status) func(context.Context, hsm.SignRequest, []byte) (int, hsm.Status) {
	return func(context.Context, hsm.SignRequest, []byte) (int, hsm.Status) {
		return 0, code
	}
}
