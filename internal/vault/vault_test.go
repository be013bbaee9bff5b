package vault

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/hegemon/internal/securemem"
)

func openVault(t *testing.T) (*Vault, string) {
	t.Helper()
	dir := t.TempDir()
	v, err := Open(filepath.Join(dir, "vault.salt"), filepath.Join(dir, "vault.check"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = v.Close() })
	return v, dir
}

// skipNoLock skips when the host refuses mlock.
func skipNoLock(t *testing.T, err error) {
	t.Helper()
	if errors.Is(err, securemem.ErrLock) {
		t.Skipf("mlock unavailable: %v", err)
	}
}

func TestOpenCreatesThenReusesSalt(t *testing.T) {
	t.Parallel()
	v, dir := openVault(t)
	if len(v.salt) != SaltSize {
		t.Fatalf("salt length = %d", len(v.salt))
	}
	again, err := Open(filepath.Join(dir, "vault.salt"), filepath.Join(dir, "vault.check"))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !bytes.Equal(v.salt, again.salt) {
		t.Fatal("salt regenerated on reopen")
	}
}

func TestOpenRejectsCorruptSalt(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, SaltSize - 1, SaltSize + 1} {
		dir := t.TempDir()
		salt := filepath.Join(dir, "s")
		if err := os.WriteFile(salt, make([]byte, n), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := Open(salt, filepath.Join(dir, "c")); !errors.Is(err, ErrCorruptSalt) {
			t.Fatalf("%d-byte salt: err = %v, want ErrCorruptSalt", n, err)
		}
	}
}

func TestInitializeUnlockRoundTrip(t *testing.T) {
	t.Parallel()
	v, _ := openVault(t)
	err := v.Initialize([]byte("correct horse"))
	skipNoLock(t, err)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !v.Unlocked() || !v.Initialized() {
		t.Fatal("vault not unlocked and initialized")
	}

	sealed, err := v.Encrypt([]byte("api-token"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if len(sealed) < NonceSize+len("api-token") {
		t.Fatalf("sealed length = %d", len(sealed))
	}

	if err := v.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := v.Decrypt(sealed); !errors.Is(err, ErrLocked) {
		t.Fatalf("Decrypt when locked err = %v", err)
	}
	if _, err := v.Verify(); !errors.Is(err, ErrLocked) {
		t.Fatalf("Verify when locked err = %v", err)
	}

	if err := v.Unlock([]byte("wrong")); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("wrong password err = %v", err)
	}
	if v.Unlocked() {
		t.Fatal("wrong password unlocked the vault")
	}

	if err := v.Unlock([]byte("correct horse")); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	ok, err := v.Verify()
	if err != nil || !ok {
		t.Fatalf("Verify = %t, %v", ok, err)
	}
	pt, err := v.Decrypt(sealed)
	if err != nil || string(pt) != "api-token" {
		t.Fatalf("Decrypt = %q, %v", pt, err)
	}
}

func TestEncryptUsesFreshNonces(t *testing.T) {
	t.Parallel()
	v, _ := openVault(t)
	err := v.Initialize([]byte("pw"))
	skipNoLock(t, err)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := v.Encrypt([]byte("same"))
	b, _ := v.Encrypt([]byte("same"))
	if bytes.Equal(a[:NonceSize], b[:NonceSize]) {
		t.Fatal("nonce reused")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	t.Parallel()
	v, _ := openVault(t)
	err := v.Initialize([]byte("pw"))
	skipNoLock(t, err)
	if err != nil {
		t.Fatal(err)
	}
	sealed, _ := v.Encrypt([]byte("secret"))
	sealed[len(sealed)-1] ^= 0xFF
	if _, err := v.Decrypt(sealed); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("tampered err = %v", err)
	}
	if _, err := v.Decrypt([]byte("short")); !errors.Is(err, ErrCiphertext) {
		t.Fatalf("short err = %v", err)
	}
}

func TestStateErrors(t *testing.T) {
	t.Parallel()
	v, _ := openVault(t)
	if err := v.Unlock([]byte("pw")); !errors.Is(err, ErrUninitialized) {
		t.Fatalf("unlock before init err = %v", err)
	}
	if err := v.Initialize(nil); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("empty init err = %v", err)
	}
	if err := v.Unlock(nil); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("empty unlock err = %v", err)
	}
	if _, err := v.Encrypt([]byte("x")); !errors.Is(err, ErrLocked) {
		t.Fatalf("encrypt locked err = %v", err)
	}
	if err := v.CreateCheck(); !errors.Is(err, ErrLocked) {
		t.Fatalf("check locked err = %v", err)
	}

	err := v.Initialize([]byte("pw"))
	skipNoLock(t, err)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Initialize([]byte("pw")); !errors.Is(err, ErrInitialized) {
		t.Fatalf("double init err = %v", err)
	}
	if err := v.Lock(); err != nil {
		t.Fatal(err)
	}
	if err := v.Lock(); err != nil {
		t.Fatalf("second Lock: %v", err)
	}
}
