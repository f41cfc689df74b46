package vault

import (
	"golang.org/x/crypto/scrypt"
)

// KDF derives a 32-byte AES key from a passphrase and salt. It is a
// pluggable primitive so deployments can trade unlock latency against
// brute-force resistance without touching the vault file format.
type KDF interface {
	Derive(passphrase string, salt []byte) ([]byte, error)
}

// ScryptKDF is the default derivation scheme. Parameters follow the
// interactive-login recommendation (N=2^15, r=8, p=1).
type ScryptKDF struct {
	N int
	R int
	P int
}

// DefaultKDF returns the scrypt derivation with standard parameters.
func DefaultKDF() KDF {
	return ScryptKDF{N: 1 << 15, R: 8, P: 1}
}

// Derive implements KDF.
func (k ScryptKDF) Derive(passphrase string, salt []byte) ([]byte, error) {
	n, r, p := k.N, k.R, k.P
	if n <= 1 {
		n = 1 << 15
	}
	if r <= 0 {
		r = 8
	}
	if p <= 0 {
		p = 1
	}
	return scrypt.Key([]byte(passphrase), salt, n, r, p, 32)
}
