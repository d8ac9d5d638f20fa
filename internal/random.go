// Package internal holds the token material helpers shared by the engine's
// stores: identifiers, random secrets, and the opaque wire encoding that
// joins them.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// TokenID is the public half of an opaque token. It names the record in
// Redis; the secret half never touches storage unhashed.
type TokenID [16]byte

const (
	secretSize   = 32
	tokenRawSize = 16 + secretSize
)

func NewTokenID() (TokenID, error) {
	var id TokenID
	_, err := rand.Read(id[:])
	return id, err
}

func (t TokenID) String() string {
	return base64.RawURLEncoding.EncodeToString(t[:])
}

func ParseTokenID(s string) (TokenID, error) {
	var id TokenID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid token id size")
	}

	copy(id[:], raw)
	return id, nil
}

func NewSecret() ([secretSize]byte, error) {
	var secret [secretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashSecret is what stores persist instead of the secret itself.
func HashSecret(secret [secretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

func HashSecretBytes(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// EncodeToken packs id||secret into a single base64url string handed to the
// end user. The split shape lets validation look up the record by id and
// compare only hashes.
func EncodeToken(id TokenID, secret [secretSize]byte) string {
	var raw [tokenRawSize]byte
	copy(raw[:len(id)], id[:])
	copy(raw[len(id):], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

func DecodeToken(token string) (TokenID, [secretSize]byte, error) {
	var id TokenID
	var secret [secretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return id, secret, err
	}
	if len(raw) != tokenRawSize {
		return id, secret, errors.New("invalid token size")
	}

	copy(id[:], raw[:len(id)])
	copy(secret[:], raw[len(id):])
	return id, secret, nil
}

// RandomBytes fills a fresh slice of n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
