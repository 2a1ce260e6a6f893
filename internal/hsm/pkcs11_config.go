package hsm

import "errors"

// ErrPKCS11Unavailable is returned by NewPKCS11 in builds without cgo.
var ErrPKCS11Unavailable = errors.New("hsm: pkcs11 transport requires cgo (build with CGO_ENABLED=1)")

// PKCS11Config selects the module and token the PKCS11 transport uses.
type PKCS11Config struct {
	ModulePath string
	TokenLabel string
	PIN        string
}
