package marketauth

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// keyedKeychain is the default Keychain: XChaCha20-Poly1305 under a single
// static key. Blob layout is version byte, then nonce, then ciphertext; the
// version byte leaves room for key rotation without re-sealing everything at
// once.
type keyedKeychain struct {
	aead cipher.AEAD
}

const keychainBlobVersion = 0x01

// NewKeyedKeychain builds a Keychain from a 32-byte key.
func NewKeyedKeychain(key []byte) (Keychain, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("keychain key must be 32 bytes")
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	return &keyedKeychain{aead: aead}, nil
}

func (k *keyedKeychain) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	blob := make([]byte, 0, 1+len(nonce)+len(plaintext)+chacha20poly1305.Overhead)
	blob = append(blob, keychainBlobVersion)
	blob = append(blob, nonce...)
	blob = k.aead.Seal(blob, nonce, plaintext, nil)
	return blob, nil
}

func (k *keyedKeychain) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < 1+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, errors.New("keychain blob too short")
	}
	if blob[0] != keychainBlobVersion {
		return nil, errors.New("unknown keychain blob version")
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := blob[1+chacha20poly1305.NonceSizeX:]

	return k.aead.Open(nil, nonce, ciphertext, nil)
}
