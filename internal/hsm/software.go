package hsm

import (
	"context"
	stdcrypto "crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/glinharesb/sekeys/internal/algorithm"
	"github.com/glinharesb/sekeys/internal/crypto"
	"github.com/glinharesb/sekeys/internal/keystore"
	"github.com/glinharesb/sekeys/internal/policy"
)

// nistCurves are the curves the simulator can compute on. Brainpool curves are
// known to the registry but have no implementation here.
var nistCurves = map[uint8]elliptic.Curve{
	0x03: elliptic.P256(),
	0x04: elliptic.P384(),
	0x05: elliptic.P521(),
}

// SoftwareHSM simulates a secure element in process for development and
// testing. Slot contents live in a keystore.Store and results use the same
// raw encodings a hardware element returns.
type SoftwareHSM struct {
	store   keystore.Store
	seed    []byte
	counter atomic.Uint64
	logger  *slog.Logger
}

// SoftwareOption configures a SoftwareHSM.
type SoftwareOption func(*SoftwareHSM)

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) SoftwareOption {
	return func(s *SoftwareHSM) { s.logger = l }
}

// WithDRNGSeed fixes the seed of the deterministic generator, which makes the
// DRNG output reproducible across instances.
func WithDRNGSeed(seed []byte) SoftwareOption {
	return func(s *SoftwareHSM) { s.seed = append([]byte(nil), seed...) }
}

func NewSoftwareHSM(store keystore.Store, opts ...SoftwareOption) (*SoftwareHSM, error) {
	s := &SoftwareHSM{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.seed == nil {
		seed, err := crypto.NewSealKey()
		if err != nil {
			return nil, fmt.Errorf("hsm: drng seed: %w", err)
		}
		s.seed = seed
	}
	return s, nil
}

func (s *SoftwareHSM) GenerateKeyPair(_ context.Context, req KeyPairRequest, publicKey, privateKey []byte) (KeyPairResult, Status) {
	var (
		entry    *keystore.SlotEntry
		pub, exp []byte
		status   Status
	)
	if curve, ok := algorithm.CurveByID(req.Type); ok {
		entry, pub, exp, status = s.generateECC(curve, req)
	} else if params, ok := algorithm.RSAByTypeCode(req.Type); ok {
		entry, pub, exp, status = s.generateRSA(params, req)
	} else {
		status = StatusBadParameter
	}
	if status != StatusOK {
		s.logger.Debug("key generation rejected", "slot", req.Slot, "type", req.Type, "status", status)
		return KeyPairResult{}, status
	}

	if len(pub) > len(publicKey) {
		return KeyPairResult{}, StatusBufferTooSmall
	}
	if req.Export && len(exp) > len(privateKey) {
		return KeyPairResult{}, StatusBufferTooSmall
	}

	if err := s.store.Put(entry); err != nil {
		s.logger.Error("store slot", "slot", req.Slot, "error", err)
		return KeyPairResult{}, StatusInternal
	}

	res := KeyPairResult{PublicKeyLen: copy(publicKey, pub)}
	if req.Export {
		res.PrivateKeyLen = copy(privateKey, exp)
	}
	s.logger.Debug("key pair generated", "slot", req.Slot, "kind", entry.Kind, "usage", req.Usage, "export", req.Export)
	return res, StatusOK
}

func (s *SoftwareHSM) generateECC(curve algorithm.Curve, req KeyPairRequest) (*keystore.SlotEntry, []byte, []byte, Status) {
	if policy.ValidateSlot(policy.KindECC, req.Slot) != nil {
		return nil, nil, nil, StatusBadParameter
	}
	ec, ok := nistCurves[curve.ID]
	if !ok {
		return nil, nil, nil, StatusUnsupported
	}

	key, err := crypto.GenerateECDSAKey(ec)
	if err != nil {
		return nil, nil, nil, StatusInternal
	}
	pub, err := crypto.MarshalECPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, nil, StatusInternal
	}
	var exp []byte
	if req.Export {
		if exp, err = crypto.MarshalECPrivateScalar(key); err != nil {
			return nil, nil, nil, StatusInternal
		}
	}
	return newEntry(req, policy.KindECC, key), pub, exp, StatusOK
}

func (s *SoftwareHSM) generateRSA(params algorithm.RSA, req KeyPairRequest) (*keystore.SlotEntry, []byte, []byte, Status) {
	if policy.ValidateSlot(policy.KindRSA, req.Slot) != nil {
		return nil, nil, nil, StatusBadParameter
	}

	key, err := crypto.GenerateRSAKey(params.KeySize)
	if err != nil {
		return nil, nil, nil, StatusInternal
	}
	pub, err := crypto.MarshalRSAPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, nil, StatusInternal
	}
	var exp []byte
	if req.Export {
		if exp, err = crypto.MarshalRSAPrivateExponent(key); err != nil {
			return nil, nil, nil, StatusInternal
		}
	}
	return newEntry(req, policy.KindRSA, key), pub, exp, StatusOK
}

func newEntry(req KeyPairRequest, kind policy.Kind, key stdcrypto.Signer) *keystore.SlotEntry {
	return &keystore.SlotEntry{
		Slot:       req.Slot,
		Kind:       kind,
		Type:       req.Type,
		Usage:      req.Usage,
		PrivateKey: key,
		CreatedAt:  time.Now().UTC(),
	}
}

func (s *SoftwareHSM) Sign(_ context.Context, req SignRequest, signature []byte) (int, Status) {
	entry, err := s.store.Get(req.Slot)
	if errors.Is(err, keystore.ErrSlotEmpty) {
		return 0, StatusEmptySlot
	} else if err != nil {
		return 0, StatusInternal
	}
	if !entry.Usage.Has(policy.UsageSignature) {
		return 0, StatusUsageDenied
	}
	if len(req.Digest) == 0 {
		return 0, StatusBadParameter
	}

	var sig []byte
	switch key := entry.PrivateKey.(type) {
	case *ecdsa.PrivateKey:
		if req.Scheme != algorithm.SchemeECDSA {
			return 0, StatusBadParameter
		}
		sig, err = crypto.SignECDSARaw(key, req.Digest)
	case *rsa.PrivateKey:
		h, ok := algorithm.RSAHashByScheme(req.Scheme)
		if !ok || len(req.Digest) != h.Size() {
			return 0, StatusBadParameter
		}
		sig, err = crypto.SignRSAPKCS1v15(key, h.Func, req.Digest)
	default:
		return 0, StatusInternal
	}
	if err != nil {
		s.logger.Error("sign", "slot", req.Slot, "error", err)
		return 0, StatusInternal
	}

	if len(sig) > len(signature) {
		return 0, StatusBufferTooSmall
	}
	return copy(signature, sig), StatusOK
}

// Slots lists the stored keys with their public halves in the encoding
// GenerateKeyPair returns.
func (s *SoftwareHSM) Slots(_ context.Context) ([]SlotInfo, Status) {
	entries, err := s.store.List(0)
	if err != nil {
		s.logger.Error("list slots", "error", err)
		return nil, StatusInternal
	}
	infos := make([]SlotInfo, 0, len(entries))
	for _, e := range entries {
		var pub []byte
		switch key := e.PrivateKey.(type) {
		case *ecdsa.PrivateKey:
			pub, err = crypto.MarshalECPublicKey(&key.PublicKey)
		case *rsa.PrivateKey:
			pub, err = crypto.MarshalRSAPublicKey(&key.PublicKey)
		default:
			err = fmt.Errorf("unexpected key type %T", e.PrivateKey)
		}
		if err != nil {
			s.logger.Error("encode public key", "slot", e.Slot, "error", err)
			return nil, StatusInternal
		}
		infos = append(infos, SlotInfo{
			Slot:      e.Slot,
			Kind:      e.Kind,
			Type:      e.Type,
			Usage:     e.Usage,
			PublicKey: pub,
			CreatedAt: e.CreatedAt,
		})
	}
	return infos, StatusOK
}

// EraseKey removes the key in slot from the store.
func (s *SoftwareHSM) EraseKey(_ context.Context, slot policy.Slot) Status {
	err := s.store.Delete(slot)
	if errors.Is(err, keystore.ErrSlotEmpty) {
		return StatusEmptySlot
	} else if err != nil {
		s.logger.Error("erase slot", "slot", slot, "error", err)
		return StatusInternal
	}
	s.logger.Debug("slot erased", "slot", slot)
	return StatusOK
}

// Random fills out from the OS generator (TRNG) or from an HKDF stream over
// the device seed (DRNG). Each DRNG request expands a fresh block.
func (s *SoftwareHSM) Random(_ context.Context, source RandomSource, out []byte) Status {
	if len(out) == 0 {
		return StatusBadParameter
	}
	switch source {
	case TRNG:
		if _, err := rand.Read(out); err != nil {
			return StatusInternal
		}
	case DRNG:
		info := binary.BigEndian.AppendUint64([]byte("sekeys-drng"), s.counter.Add(1))
		if err := crypto.Expand(s.seed, info, out); err != nil {
			return StatusBadParameter
		}
	default:
		return StatusBadParameter
	}
	return StatusOK
}
