package internal

import (
	"encoding/base32"
	"errors"
	"strings"
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Base32Encode uses the standard A-Z 2-7 alphabet without padding, the form
// authenticator apps expect in provisioning URIs.
func Base32Encode(data []byte) string {
	return b32.EncodeToString(data)
}

// Base32Decode rejects any character outside the alphabet instead of
// skipping it; a corrupted secret must fail loudly, not decode to garbage.
func Base32Decode(s string) ([]byte, error) {
	s = strings.ToUpper(s)
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '2' || r > '7') {
			return nil, errors.New("invalid base32 character")
		}
	}
	return b32.DecodeString(s)
}
