package agent

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// Digest returns the hex SHA-256 of the RFC 8785 canonical form of raw, so two
// replies that differ only in key order or whitespace share a digest.
func Digest(raw []byte) (string, error) {
	canon, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
