package keyvault

import (
	"context"
	"crypto/rand"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	saltLen = 16

	// DefaultScryptN is the scrypt cost used unless configured.
	DefaultScryptN = 1 << 15
	scryptR        = 8
	scryptP        = 1
)

// ErrWrongPassword is returned when decryption fails authentication.
var ErrWrongPassword = errors.New("wrong password or corrupted data")

// Crypter protects key material with a password.
type Crypter interface {
	Encrypt(ctx context.Context, password string, data []byte) ([]byte, error)
	Decrypt(ctx context.Context, password string, data []byte) ([]byte, error)
}

// ScryptCrypter derives a key with scrypt and seals with
// XChaCha20-Poly1305. Output is salt ‖ nonce ‖ ciphertext.
type ScryptCrypter struct {
	N int
}

// NewScryptCrypter returns a crypter with scrypt cost n,
// or DefaultScryptN when n is zero.
func NewScryptCrypter(n int) *ScryptCrypter {
	if n == 0 {
		n = DefaultScryptN
	}
	return &ScryptCrypter{N: n}
}

func (c *ScryptCrypter) deriveKey(password string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(password), salt, c.N, scryptR, scryptP, chacha20poly1305.KeySize)
}

// Encrypt seals data under password with a fresh salt and nonce.
func (c *ScryptCrypter) Encrypt(_ context.Context, password string, data []byte) ([]byte, error) {
	header := make([]byte, saltLen+chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(header); err != nil {
		return nil, errors.Wrap(err, "failed to read random bytes")
	}

	key, err := c.deriveKey(password, header[:saltLen])
	if err != nil {
		return nil, err
	}
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	return aead.Seal(header, header[saltLen:], data, nil), nil
}

// Decrypt opens data sealed by Encrypt.
func (c *ScryptCrypter) Decrypt(_ context.Context, password string, data []byte) ([]byte, error) {
	if len(data) < saltLen+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, errors.New("encrypted data too short")
	}

	key, err := c.deriveKey(password, data[:saltLen])
	if err != nil {
		return nil, err
	}
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	nonce := data[saltLen : saltLen+chacha20poly1305.NonceSizeX]
	plain, err := aead.Open(nil, nonce, data[saltLen+chacha20poly1305.NonceSizeX:], nil)
	if err != nil {
		return nil, ErrWrongPassword
	}

	return plain, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
