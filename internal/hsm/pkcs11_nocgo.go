//go:build !cgo

package hsm

import (
	"context"
	"log/slog"

	"github.com/glinharesb/sekeys/internal/policy"
)

// PKCS11 is unavailable without cgo; NewPKCS11 always fails.
type PKCS11 struct{}

func NewPKCS11(_ PKCS11Config, _ *slog.Logger) (*PKCS11, error) {
	return nil, ErrPKCS11Unavailable
}

func (p *PKCS11) Close() error { return nil }

func (p *PKCS11) GenerateKeyPair(context.Context, KeyPairRequest, []byte, []byte) (KeyPairResult, Status) {
	return KeyPairResult{}, StatusUnsupported
}

func (p *PKCS11) Sign(context.Context, SignRequest, []byte) (int, Status) {
	return 0, StatusUnsupported
}

func (p *PKCS11) Random(context.Context, RandomSource, []byte) Status {
	return StatusUnsupported
}

func (p *PKCS11) EraseKey(context.Context, policy.Slot) Status {
	return StatusUnsupported
}
