package signature

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
)

const DigestAlgorithm = "SHA-256"

// Digest returns the Digest header value for body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return DigestAlgorithm + "=" + base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyDigest checks a Digest header value against the exact body bytes.
// Trailing '=' padding is ignored on both sides since some peers strip it.
func VerifyDigest(header string, body []byte) error {
	algorithm, declared, ok := strings.Cut(strings.TrimSpace(header), "=")
	if !ok || declared == "" {
		return errors.Wrapf(ErrDigestMismatch, "malformed digest %q", header)
	}
	if !strings.EqualFold(algorithm, DigestAlgorithm) {
		return errors.Wrapf(ErrUnsupported, "digest algorithm %s", algorithm)
	}

	sum := sha256.Sum256(body)
	expected := strings.TrimRight(base64.StdEncoding.EncodeToString(sum[:]), "=")
	declared = strings.TrimRight(declared, "=")

	if subtle.ConstantTimeCompare([]byte(expected), []byte(declared)) != 1 {
		return ErrDigestMismatch
	}
	return nil
}
