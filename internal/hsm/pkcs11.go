//go:build cgo

package hsm

import (
	"context"
	"crypto/rsa"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/miekg/pkcs11"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/glinharesb/sekeys/internal/algorithm"
	"github.com/glinharesb/sekeys/internal/crypto"
	"github.com/glinharesb/sekeys/internal/policy"
)

// curveOIDs holds the DER encoded named-curve OIDs for CKA_EC_PARAMS, keyed
// by curve wire id.
var curveOIDs = map[uint8][]byte{
	0x03: {0x06, 0x08, 0x2a, 0x86, 0x48, 0xce, 0x3d, 0x03, 0x01, 0x07},
	0x04: {0x06, 0x05, 0x2b, 0x81, 0x04, 0x00, 0x22},
	0x05: {0x06, 0x05, 0x2b, 0x81, 0x04, 0x00, 0x23},
	0x13: {0x06, 0x09, 0x2b, 0x24, 0x03, 0x03, 0x02, 0x08, 0x01, 0x01, 0x07},
	0x15: {0x06, 0x09, 0x2b, 0x24, 0x03, 0x03, 0x02, 0x08, 0x01, 0x01, 0x0b},
	0x16: {0x06, 0x09, 0x2b, 0x24, 0x03, 0x03, 0x02, 0x08, 0x01, 0x01, 0x0d},
}

// digestInfoPrefixes precede the digest in a CKM_RSA_PKCS signing input.
var digestInfoPrefixes = map[algorithm.Scheme][]byte{
	algorithm.SchemeRSAPKCS1SHA256: {0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20},
	algorithm.SchemeRSAPKCS1SHA384: {0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30},
}

// PKCS11 drives a PKCS#11 token as a secure element. Element slots map to
// key objects whose CKA_ID is the big-endian slot id. The transport holds a
// single session and must be wrapped with Serialize when shared.
type PKCS11 struct {
	ctx     *pkcs11.Ctx
	session pkcs11.SessionHandle
	logger  *slog.Logger
}

// NewPKCS11 loads the module, opens a read-write session on the token named
// by cfg.TokenLabel (the first token when empty) and logs in.
func NewPKCS11(cfg PKCS11Config, logger *slog.Logger) (*PKCS11, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx := pkcs11.New(cfg.ModulePath)
	if ctx == nil {
		return nil, fmt.Errorf("hsm: load pkcs11 module %s", cfg.ModulePath)
	}
	if err := ctx.Initialize(); err != nil {
		var p11err pkcs11.Error
		if !errors.As(err, &p11err) || p11err != pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED {
			ctx.Destroy()
			return nil, fmt.Errorf("hsm: initialize pkcs11: %w", err)
		}
	}

	slot, err := findToken(ctx, cfg.TokenLabel)
	if err != nil {
		ctx.Destroy()
		return nil, err
	}
	session, err := ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		ctx.Destroy()
		return nil, fmt.Errorf("hsm: open session: %w", err)
	}
	if cfg.PIN != "" {
		if err := ctx.Login(session, pkcs11.CKU_USER, cfg.PIN); err != nil {
			var p11err pkcs11.Error
			if !errors.As(err, &p11err) || p11err != pkcs11.CKR_USER_ALREADY_LOGGED_IN {
				_ = ctx.CloseSession(session)
				ctx.Destroy()
				return nil, fmt.Errorf("hsm: login: %w", err)
			}
		}
	}

	logger.Info("pkcs11 token opened", "module", cfg.ModulePath, "token_slot", slot)
	return &PKCS11{ctx: ctx, session: session, logger: logger}, nil
}

func findToken(ctx *pkcs11.Ctx, label string) (uint, error) {
	slots, err := ctx.GetSlotList(true)
	if err != nil {
		return 0, fmt.Errorf("hsm: get slot list: %w", err)
	}
	if len(slots) == 0 {
		return 0, fmt.Errorf("hsm: no slots with tokens found")
	}
	if label == "" {
		return slots[0], nil
	}
	for _, s := range slots {
		info, err := ctx.GetTokenInfo(s)
		if err != nil {
			continue
		}
		if info.Label == label {
			return s, nil
		}
	}
	return 0, fmt.Errorf("hsm: token with label %q not found", label)
}

// Close logs out and releases the session. The module itself stays
// initialized since C_Finalize is process wide.
func (p *PKCS11) Close() error {
	_ = p.ctx.Logout(p.session)
	err := p.ctx.CloseSession(p.session)
	p.ctx.Destroy()
	return err
}

// status maps a PKCS#11 error to a status code. CKR_* values pass through.
func (p *PKCS11) status(op string, err error) Status {
	var p11err pkcs11.Error
	if errors.As(err, &p11err) {
		p.logger.Warn("pkcs11 call failed", "op", op, "ckr", uint(p11err))
		return Status(p11err)
	}
	p.logger.Error("pkcs11 call failed", "op", op, "error", err)
	return StatusInternal
}

func slotID(slot policy.Slot) []byte {
	return binary.BigEndian.AppendUint16(nil, uint16(slot))
}

func (p *PKCS11) findObjects(class uint, slot policy.Slot) ([]pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
		pkcs11.NewAttribute(pkcs11.CKA_ID, slotID(slot)),
	}
	if err := p.ctx.FindObjectsInit(p.session, template); err != nil {
		return nil, err
	}
	defer func() { _ = p.ctx.FindObjectsFinal(p.session) }()

	objs, _, err := p.ctx.FindObjects(p.session, 8)
	return objs, err
}

// clearSlot destroys any key objects previously generated into slot.
func (p *PKCS11) clearSlot(slot policy.Slot) error {
	for _, class := range []uint{pkcs11.CKO_PRIVATE_KEY, pkcs11.CKO_PUBLIC_KEY} {
		objs, err := p.findObjects(class, slot)
		if err != nil {
			return err
		}
		for _, o := range objs {
			if err := p.ctx.DestroyObject(p.session, o); err != nil {
				return err
			}
		}
	}
	return nil
}

// EraseKey destroys the key objects held for slot.
func (p *PKCS11) EraseKey(_ context.Context, slot policy.Slot) Status {
	objs, err := p.findObjects(pkcs11.CKO_PRIVATE_KEY, slot)
	if err != nil {
		return p.status("find key", err)
	}
	if len(objs) == 0 {
		return StatusEmptySlot
	}
	if err := p.clearSlot(slot); err != nil {
		return p.status("clear slot", err)
	}
	p.logger.Info("pkcs11 slot erased", "slot", slot)
	return StatusOK
}

func (p *PKCS11) GenerateKeyPair(_ context.Context, req KeyPairRequest, publicKey, privateKey []byte) (KeyPairResult, Status) {
	id := slotID(req.Slot)
	// Session slots are volatile on the element, so they become session objects.
	token := !req.Slot.IsSession()

	pubTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, token),
		pkcs11.NewAttribute(pkcs11.CKA_ID, id),
		pkcs11.NewAttribute(pkcs11.CKA_VERIFY, req.Usage.Has(policy.UsageSignature)),
	}
	privTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, token),
		pkcs11.NewAttribute(pkcs11.CKA_ID, id),
		pkcs11.NewAttribute(pkcs11.CKA_PRIVATE, true),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, req.Usage.Has(policy.UsageSignature)),
		pkcs11.NewAttribute(pkcs11.CKA_DERIVE, req.Usage.Has(policy.UsageKeyAgreement)),
		pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, !req.Export),
		pkcs11.NewAttribute(pkcs11.CKA_EXTRACTABLE, req.Export),
	}

	var (
		mech       *pkcs11.Mechanism
		scalarAttr uint
		scalarSize int
		isEC       bool
	)
	if curve, ok := algorithm.CurveByID(req.Type); ok {
		if policy.ValidateSlot(policy.KindECC, req.Slot) != nil {
			return KeyPairResult{}, StatusBadParameter
		}
		isEC = true
		scalarAttr, scalarSize = pkcs11.CKA_VALUE, curve.FieldSize
		mech = pkcs11.NewMechanism(pkcs11.CKM_EC_KEY_PAIR_GEN, nil)
		pubTemplate = append(pubTemplate,
			pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_EC),
			pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, curveOIDs[curve.ID]),
		)
		privTemplate = append(privTemplate, pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_EC))
	} else if params, ok := algorithm.RSAByTypeCode(req.Type); ok {
		if policy.ValidateSlot(policy.KindRSA, req.Slot) != nil {
			return KeyPairResult{}, StatusBadParameter
		}
		scalarAttr, scalarSize = pkcs11.CKA_PRIVATE_EXPONENT, params.KeyBytes()
		mech = pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_KEY_PAIR_GEN, nil)
		pubTemplate = append(pubTemplate,
			pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA),
			pkcs11.NewAttribute(pkcs11.CKA_MODULUS_BITS, params.KeySize),
			pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, []byte{0x01, 0x00, 0x01}),
			pkcs11.NewAttribute(pkcs11.CKA_ENCRYPT, req.Usage.Has(policy.UsageEncryption)),
		)
		privTemplate = append(privTemplate,
			pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA),
			pkcs11.NewAttribute(pkcs11.CKA_DECRYPT, req.Usage.Has(policy.UsageEncryption)),
		)
	} else {
		return KeyPairResult{}, StatusBadParameter
	}

	if err := p.clearSlot(req.Slot); err != nil {
		return KeyPairResult{}, p.status("clear slot", err)
	}
	pubHandle, privHandle, err := p.ctx.GenerateKeyPair(p.session, []*pkcs11.Mechanism{mech}, pubTemplate, privTemplate)
	if err != nil {
		return KeyPairResult{}, p.status("generate key pair", err)
	}

	var pub, exp []byte
	if isEC {
		pub, err = p.ecPublicKey(pubHandle)
	} else {
		pub, err = p.rsaPublicKey(pubHandle)
	}
	if err != nil {
		return KeyPairResult{}, p.status("read public key", err)
	}
	if len(pub) > len(publicKey) {
		return KeyPairResult{}, StatusBufferTooSmall
	}

	if req.Export {
		exp, err = p.exportScalar(privHandle, scalarAttr, scalarSize)
		if err != nil {
			return KeyPairResult{}, p.status("export private key", err)
		}
		if len(exp) > len(privateKey) {
			return KeyPairResult{}, StatusBufferTooSmall
		}
	}

	res := KeyPairResult{PublicKeyLen: copy(publicKey, pub)}
	if req.Export {
		res.PrivateKeyLen = copy(privateKey, exp)
	}
	return res, StatusOK
}

// ecPublicKey reads CKA_EC_POINT, which tokens return as a DER OCTET STRING
// around the uncompressed point, and re-encodes it as a BIT STRING.
func (p *PKCS11) ecPublicKey(h pkcs11.ObjectHandle) ([]byte, error) {
	attrs, err := p.ctx.GetAttributeValue(p.session, h, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_EC_POINT, nil),
	})
	if err != nil {
		return nil, err
	}
	raw := attrs[0].Value
	in := cryptobyte.String(raw)
	var point cryptobyte.String
	if in.ReadASN1(&point, asn1.OCTET_STRING) && in.Empty() {
		raw = point
	}
	return crypto.MarshalBitString(raw)
}

func (p *PKCS11) rsaPublicKey(h pkcs11.ObjectHandle) ([]byte, error) {
	attrs, err := p.ctx.GetAttributeValue(p.session, h, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS, nil),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, nil),
	})
	if err != nil {
		return nil, err
	}
	pub := &rsa.PublicKey{
		N: new(big.Int).SetBytes(attrs[0].Value),
		E: int(new(big.Int).SetBytes(attrs[1].Value).Int64()),
	}
	return crypto.MarshalRSAPublicKey(pub)
}

func (p *PKCS11) exportScalar(h pkcs11.ObjectHandle, attr uint, size int) ([]byte, error) {
	attrs, err := p.ctx.GetAttributeValue(p.session, h, []*pkcs11.Attribute{
		pkcs11.NewAttribute(attr, nil),
	})
	if err != nil {
		return nil, err
	}
	v := new(big.Int).SetBytes(attrs[0].Value)
	if size < len(attrs[0].Value) {
		size = len(attrs[0].Value)
	}
	return crypto.MarshalOctetString(v.FillBytes(make([]byte, size)))
}

func (p *PKCS11) Sign(_ context.Context, req SignRequest, signature []byte) (int, Status) {
	objs, err := p.findObjects(pkcs11.CKO_PRIVATE_KEY, req.Slot)
	if err != nil {
		return 0, p.status("find key", err)
	}
	if len(objs) == 0 {
		return 0, StatusEmptySlot
	}

	var (
		mech  *pkcs11.Mechanism
		input []byte
	)
	if req.Scheme == algorithm.SchemeECDSA {
		mech = pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)
		input = req.Digest
	} else if prefix, ok := digestInfoPrefixes[req.Scheme]; ok {
		mech = pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)
		input = append(append([]byte(nil), prefix...), req.Digest...)
	} else {
		return 0, StatusBadParameter
	}

	if err := p.ctx.SignInit(p.session, []*pkcs11.Mechanism{mech}, objs[0]); err != nil {
		return 0, p.status("sign init", err)
	}
	sig, err := p.ctx.Sign(p.session, input)
	if err != nil {
		return 0, p.status("sign", err)
	}

	// CKM_ECDSA yields r||s as fixed-width halves; the element format is two
	// INTEGER TLVs.
	if req.Scheme == algorithm.SchemeECDSA {
		half := len(sig) / 2
		r := new(big.Int).SetBytes(sig[:half])
		s := new(big.Int).SetBytes(sig[half:])
		if sig, err = crypto.MarshalIntegerPair(r, s); err != nil {
			return 0, StatusInternal
		}
	}
	if len(sig) > len(signature) {
		return 0, StatusBufferTooSmall
	}
	return copy(signature, sig), StatusOK
}

// Random draws from the token RNG. PKCS#11 exposes a single generator, so
// both sources map to it.
func (p *PKCS11) Random(_ context.Context, _ RandomSource, out []byte) Status {
	if len(out) == 0 {
		return StatusBadParameter
	}
	b, err := p.ctx.GenerateRandom(p.session, len(out))
	if err != nil {
		return p.status("generate random", err)
	}
	copy(out, b)
	return StatusOK
}
