// Package vault holds the agent's single signing key. The plaintext key only
// ever lives in process memory; what touches disk is an AES-GCM blob laid out
// as [16-byte salt][12-byte IV][ciphertext], decryptable with a passphrase.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "AgentPay-Gate/internal/errors"
)

const (
	saltSize  = 16
	nonceSize = 12
)

var keyPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

var (
	// ErrInvalidKeyFormat indicates the supplied key is not 0x + 64 hex chars.
	ErrInvalidKeyFormat = xerrors.New(xerrors.CodeInvalidKeyFormat, "")
	// ErrUnlockFailed covers both a wrong passphrase and a corrupt blob;
	// callers cannot tell which, deliberately.
	ErrUnlockFailed = xerrors.New(xerrors.CodeUnlockFailed, "")
	// ErrNotConfigured indicates no key exists in memory or on disk.
	ErrNotConfigured = xerrors.New(xerrors.CodeWalletNotConfigured, "")
	// ErrLocked indicates an encrypted key exists but is not in memory.
	ErrLocked = xerrors.New(xerrors.CodeWalletLocked, "")
)

// Status reports key availability without exposing material.
type Status struct {
	Exists   bool   `json:"exists"`
	Unlocked bool   `json:"unlocked"`
	Address  string `json:"address,omitempty"`
}

// Vault owns the in-memory signing key and its encrypted-at-rest copy.
type Vault struct {
	mu   sync.Mutex
	path string
	kdf  KDF
	key  *ecdsa.PrivateKey
}

// Option customises vault construction.
type Option func(*Vault)

// WithKDF overrides the passphrase derivation scheme.
func WithKDF(kdf KDF) Option {
	return func(v *Vault) {
		if kdf != nil {
			v.kdf = kdf
		}
	}
}

// New builds a vault persisting its encrypted blob at path.
func New(path string, opts ...Option) *Vault {
	v := &Vault{path: path, kdf: DefaultKDF()}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Load validates and stores a private key in memory. A non-empty passphrase
// additionally persists the encrypted blob; the file is only written after
// the key parsed successfully.
func (v *Vault) Load(key, passphrase string) error {
	key = strings.TrimSpace(key)
	if !keyPattern.MatchString(key) {
		return ErrInvalidKeyFormat
	}
	parsed, err := crypto.HexToECDSA(strings.TrimPrefix(key, "0x"))
	if err != nil {
		return ErrInvalidKeyFormat
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.key = parsed

	if passphrase == "" {
		return nil
	}
	return v.persistLocked(key, passphrase)
}

// Unlock decrypts the persisted blob into memory. On any failure the
// in-memory key stays unset.
func (v *Vault) Unlock(passphrase string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	blob, err := os.ReadFile(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotConfigured
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "read encrypted key file")
	}
	if len(blob) <= saltSize+nonceSize {
		return ErrUnlockFailed
	}

	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+nonceSize]
	ciphertext := blob[saltSize+nonceSize:]

	aead, err := v.aead(passphrase, salt)
	if err != nil {
		return ErrUnlockFailed
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return ErrUnlockFailed
	}

	key := string(plaintext)
	if !keyPattern.MatchString(key) {
		return ErrUnlockFailed
	}
	parsed, err := crypto.HexToECDSA(strings.TrimPrefix(key, "0x"))
	if err != nil {
		return ErrUnlockFailed
	}
	v.key = parsed
	return nil
}

// Clear wipes the in-memory key and deletes the persisted blob. Calling it
// on an empty vault is a no-op.
func (v *Vault) Clear() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.key = nil
	if err := os.Remove(v.path); err != nil && !os.IsNotExist(err) {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "delete encrypted key file")
	}
	return nil
}

// Status reports whether a key exists (memory or disk) and whether it is
// currently usable.
func (v *Vault) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()

	st := Status{}
	if v.key != nil {
		st.Exists = true
		st.Unlocked = true
		st.Address = crypto.PubkeyToAddress(v.key.PublicKey).Hex()
		return st
	}
	if _, err := os.Stat(v.path); err == nil {
		st.Exists = true
	}
	return st
}

// PrivateKey returns the in-memory key, or a coded error describing why it
// is unavailable.
func (v *Vault) PrivateKey() (*ecdsa.PrivateKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key != nil {
		return v.key, nil
	}
	if _, err := os.Stat(v.path); err == nil {
		return nil, ErrLocked
	}
	return nil, ErrNotConfigured
}

// Address returns the payer address derived from the in-memory key.
func (v *Vault) Address() (common.Address, error) {
	key, err := v.PrivateKey()
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

func (v *Vault) persistLocked(key, passphrase string) error {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return xerrors.Wrap(xerrors.CodeSigningFailure, err, "draw salt")
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return xerrors.Wrap(xerrors.CodeSigningFailure, err, "draw nonce")
	}

	aead, err := v.aead(passphrase, salt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSigningFailure, err, "derive encryption key")
	}
	ciphertext := aead.Seal(nil, nonce, []byte(key), nil)

	blob := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)

	if dir := filepath.Dir(v.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "create key directory")
		}
	}
	if err := os.WriteFile(v.path, blob, 0o600); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "write encrypted key file")
	}
	return nil
}

func (v *Vault) aead(passphrase string, salt []byte) (cipher.AEAD, error) {
	derived, err := v.kdf.Derive(passphrase, salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
