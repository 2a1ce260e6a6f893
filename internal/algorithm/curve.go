package algorithm

import (
	"fmt"
	"strings"
)

// Curve is the parameter set of one elliptic curve supported by the element.
// ID is the identifier sent on the wire with a key generation and FieldSize
// the length of a coordinate or scalar in bytes. MaxSignatureLen bounds the
// raw r||s block the element returns: two DER INTEGERs of FieldSize bytes,
// each possibly carrying a sign byte.
type Curve struct {
	Name            string
	ID              uint8
	FieldSize       int
	Hash            Hash
	MaxSignatureLen int
}

// DigestLen is the length of the digest signed with this curve.
func (c Curve) DigestLen() int {
	return c.Hash.Size()
}

func newCurve(name string, id uint8, fieldSize int, h Hash) Curve {
	return Curve{
		Name:            name,
		ID:              id,
		FieldSize:       fieldSize,
		Hash:            h,
		MaxSignatureLen: 2 * (2 + 1 + fieldSize),
	}
}

// DefaultCurve is used when a caller does not name one.
const DefaultCurve = "secp256r1"

var curves = []Curve{
	newCurve("secp256r1", 0x03, 32, SHA256),
	newCurve("secp384r1", 0x04, 48, SHA384),
	newCurve("secp521r1", 0x05, 66, SHA512),
	newCurve("brainpoolp256r1", 0x13, 32, SHA256),
	newCurve("brainpoolp384r1", 0x15, 48, SHA384),
	newCurve("brainpoolp512r1", 0x16, 64, SHA512),
}

// Curves returns every supported curve in table order.
func Curves() []Curve {
	out := make([]Curve, len(curves))
	copy(out, curves)
	return out
}

// ResolveCurve looks a curve up by name.
func ResolveCurve(name string) (Curve, error) {
	for _, c := range curves {
		if c.Name == name {
			return c, nil
		}
	}
	return Curve{}, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedCurve, name, strings.Join(CurveNames(), ", "))
}

// CurveByID looks a curve up by its wire identifier.
func CurveByID(id uint8) (Curve, bool) {
	for _, c := range curves {
		if c.ID == id {
			return c, true
		}
	}
	return Curve{}, false
}

// CurveNames lists the supported curve names in table order.
func CurveNames() []string {
	names := make([]string, len(curves))
	for i, c := range curves {
		names[i] = c.Name
	}
	return names
}
