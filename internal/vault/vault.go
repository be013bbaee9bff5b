// Package vault encrypts credentials with a key derived from a user
// password. The salt and an encrypted check value live in two files; the key
// itself only ever lives in locked memory.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/samcharles93/hegemon/internal/securemem"
)

const (
	SaltSize  = 16
	NonceSize = 12
)

// CheckPlaintext is encrypted into the check file and compared on unlock.
var CheckPlaintext = []byte("VAULT_OK")

var (
	ErrLocked         = errors.New("vault: locked")
	ErrEmptyPassword  = errors.New("vault: password is empty")
	ErrUninitialized  = errors.New("vault: check file missing, initialize the vault first")
	ErrInitialized    = errors.New("vault: already initialized")
	ErrWrongPassword  = errors.New("vault: incorrect password")
	ErrCiphertext     = errors.New("vault: ciphertext too short")
	ErrCorruptSalt    = errors.New("vault: salt file is empty")
	ErrAuthentication = errors.New("vault: message authentication failed")
)

// Vault holds at most one unlocked key. Methods are safe for concurrent use.
type Vault struct {
	saltPath  string
	checkPath string
	salt      []byte

	mu  sync.Mutex
	key *securemem.Key
}

// Open loads the salt at saltPath, creating a random one if the file does
// not exist. The check file is only read on Unlock.
func Open(saltPath, checkPath string) (*Vault, error) {
	salt, err := loadOrCreateSalt(saltPath)
	if err != nil {
		return nil, err
	}
	return &Vault{saltPath: saltPath, checkPath: checkPath, salt: salt}, nil
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(salt) != SaltSize {
			return nil, fmt.Errorf("%w: %s holds %d bytes, want %d", ErrCorruptSalt, path, len(salt), SaltSize)
		}
		return salt, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("vault: read salt: %w", err)
	}
	salt = make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("vault: generate salt: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("vault: write salt: %w", err)
	}
	return salt, nil
}

// Initialized reports whether the check file exists.
func (v *Vault) Initialized() bool {
	_, err := os.Stat(v.checkPath)
	return err == nil
}

// Initialize derives the key for password, keeps the vault unlocked and
// writes a fresh check file.
func (v *Vault) Initialize(password []byte) error {
	if len(password) == 0 {
		return ErrEmptyPassword
	}
	if v.Initialized() {
		return ErrInitialized
	}
	key, err := securemem.DeriveKey(password, v.salt)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.replaceKey(key)
	return v.createCheck()
}

// Unlock derives a key for password and keeps it only if it decrypts the
// check file. A wrong password returns ErrWrongPassword and leaves the
// vault in its previous state.
func (v *Vault) Unlock(password []byte) error {
	if len(password) == 0 {
		return ErrEmptyPassword
	}
	check, err := v.readCheck()
	if err != nil {
		return err
	}
	key, err := securemem.DeriveKey(password, v.salt)
	if err != nil {
		return err
	}
	if !matchesCheck(key, check) {
		return errors.Join(ErrWrongPassword, key.Close())
	}
	v.mu.Lock()
	v.replaceKey(key)
	v.mu.Unlock()
	return nil
}

// CreateCheck overwrites the check file using the current key.
func (v *Vault) CreateCheck() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.createCheck()
}

func (v *Vault) createCheck() error {
	if v.key == nil {
		return ErrLocked
	}
	sealed, err := seal(v.key, CheckPlaintext)
	if err != nil {
		return err
	}
	if err := os.WriteFile(v.checkPath, sealed, 0o600); err != nil {
		return fmt.Errorf("vault: write check: %w", err)
	}
	return nil
}

// Verify reports whether the current key decrypts the check file.
func (v *Vault) Verify() (bool, error) {
	check, err := v.readCheck()
	if err != nil {
		return false, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key == nil {
		return false, ErrLocked
	}
	return matchesCheck(v.key, check), nil
}

func (v *Vault) readCheck() ([]byte, error) {
	check, err := os.ReadFile(v.checkPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrUninitialized
	}
	if err != nil {
		return nil, fmt.Errorf("vault: read check: %w", err)
	}
	return check, nil
}

// Encrypt returns nonce || ciphertext.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key == nil {
		return nil, ErrLocked
	}
	return seal(v.key, plaintext)
}

// Decrypt reverses Encrypt.
func (v *Vault) Decrypt(data []byte) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key == nil {
		return nil, ErrLocked
	}
	return open(v.key, data)
}

func (v *Vault) Unlocked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.key != nil
}

// Lock wipes and releases the key. It is idempotent.
func (v *Vault) Lock() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key == nil {
		return nil
	}
	err := v.key.Close()
	v.key = nil
	return err
}

// Close is Lock.
func (v *Vault) Close() error { return v.Lock() }

// caller holds v.mu
func (v *Vault) replaceKey(k *securemem.Key) {
	if v.key != nil {
		_ = v.key.Close()
	}
	v.key = k
}

func aead(k *securemem.Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.Bytes())
	if err != nil {
		return nil, fmt.Errorf("vault: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func seal(k *securemem.Key, plaintext []byte) ([]byte, error) {
	gcm, err := aead(k)
	if err != nil {
		return nil, err
	}
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+gcm.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("vault: nonce: %w", err)
	}
	return gcm.Seal(out, out[:NonceSize], plaintext, nil), nil
}

func open(k *securemem.Key, data []byte) ([]byte, error) {
	if len(data) < NonceSize {
		return nil, ErrCiphertext
	}
	gcm, err := aead(k)
	if err != nil {
		return nil, err
	}
	pt, err := gcm.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return pt, nil
}

func matchesCheck(k *securemem.Key, check []byte) bool {
	pt, err := open(k, check)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(pt, CheckPlaintext) == 1
}
