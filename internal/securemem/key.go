package securemem

import (
	"errors"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost parameters.
const (
	KeyTime    uint32 = 2
	KeyMemory  uint32 = 64 * 1024 // KiB
	KeyThreads uint8  = 1
	KeyLen     uint32 = 32
)

var (
	ErrEmptyPassword = errors.New("securemem: password is empty")
	ErrEmptySalt     = errors.New("securemem: salt is empty")
)

// Key is derived key material held in a locked Buffer.
type Key struct {
	buf *Buffer
}

// DeriveKey stretches password with salt using Argon2id and returns the
// key in locked memory. The transient derived slice is wiped before return.
func DeriveKey(password, salt []byte) (*Key, error) {
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}
	if len(salt) == 0 {
		return nil, ErrEmptySalt
	}
	raw := argon2.IDKey(password, salt, KeyTime, KeyMemory, KeyThreads, KeyLen)
	buf, err := FromBytes(raw)
	if err != nil {
		return nil, err
	}
	return &Key{buf: buf}, nil
}

// Bytes is valid until Close.
func (k *Key) Bytes() []byte {
	if k == nil {
		return nil
	}
	return k.buf.Bytes()
}

func (k *Key) Len() int {
	if k == nil {
		return 0
	}
	return k.buf.Len()
}

// Close wipes and releases the key. It is idempotent.
func (k *Key) Close() error {
	if k == nil {
		return nil
	}
	return k.buf.Close()
}
