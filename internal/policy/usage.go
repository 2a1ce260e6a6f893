package policy

import (
	"fmt"
	"strings"
)

// Usage is one key usage flag; its value is the flag's bit in the element's
// usage byte.
type Usage uint8

const (
	UsageAuthentication Usage = 0x01
	UsageEncryption     Usage = 0x02
	UsageSignature      Usage = 0x10
	UsageKeyAgreement   Usage = 0x20
)

// canonical is the order DecodeUsage reports flags in.
var canonical = []Usage{UsageKeyAgreement, UsageAuthentication, UsageEncryption, UsageSignature}

var usageNames = map[Usage]string{
	UsageKeyAgreement:   "key_agreement",
	UsageAuthentication: "authentication",
	UsageEncryption:     "encryption",
	UsageSignature:      "signature",
}

func (u Usage) String() string {
	if name, ok := usageNames[u]; ok {
		return name
	}
	return fmt.Sprintf("usage(0x%02x)", uint8(u))
}

// ParseUsage maps a textual usage name to its flag.
func ParseUsage(name string) (Usage, error) {
	for u, n := range usageNames {
		if n == name {
			return u, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedUsageFlag, name)
}

// ParseUsages parses a list of names, stopping at the first unknown one.
func ParseUsages(names []string) ([]Usage, error) {
	out := make([]Usage, 0, len(names))
	for _, n := range names {
		u, err := ParseUsage(strings.TrimSpace(n))
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// Mask is a set of usage flags in wire form.
type Mask uint8

// DefaultMask is applied when a generation request names no usage.
const DefaultMask = Mask(UsageKeyAgreement) | Mask(UsageSignature)

// Has reports whether u is in the set.
func (m Mask) Has(u Usage) bool {
	return m&Mask(u) != 0
}

func (m Mask) String() string {
	flags := DecodeUsage(m)
	names := make([]string, len(flags))
	for i, u := range flags {
		names[i] = u.String()
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Allowed returns the usage flags a key of the given kind may carry. ECC keys
// cannot be used for encryption.
func Allowed(kind Kind) []Usage {
	switch kind {
	case KindECC:
		return []Usage{UsageKeyAgreement, UsageAuthentication, UsageSignature}
	case KindRSA:
		return []Usage{UsageKeyAgreement, UsageAuthentication, UsageEncryption, UsageSignature}
	default:
		return nil
	}
}

func allowed(kind Kind, u Usage) bool {
	for _, a := range Allowed(kind) {
		if a == u {
			return true
		}
	}
	return false
}

// EncodeUsage turns the requested flags into a mask. An empty request yields
// DefaultMask. Repeating a flag has no effect.
func EncodeUsage(kind Kind, requested []Usage) (Mask, error) {
	if kind != KindECC && kind != KindRSA {
		return 0, fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
	}
	if len(requested) == 0 {
		return DefaultMask, nil
	}

	var m Mask
	for _, u := range requested {
		if !allowed(kind, u) {
			return 0, fmt.Errorf("%w: %s is not available for %s keys", ErrUnsupportedUsageFlag, u, kind)
		}
		m |= Mask(u)
	}
	return m, nil
}

// DecodeUsage lists the known flags set in m in canonical order. Unknown bits
// are ignored.
func DecodeUsage(m Mask) []Usage {
	var out []Usage
	for _, u := range canonical {
		if m.Has(u) {
			out = append(out, u)
		}
	}
	return out
}
