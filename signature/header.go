// Package signature signs and verifies HTTP requests with draft-cavage HTTP
// Signatures and SHA-256 body digests.
package signature

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

const RequestTarget = "(request-target)"

// RequiredHeaders must all be covered by an inbound signature.
var RequiredHeaders = []string{RequestTarget, "content-type", "date", "digest", "host"}

var (
	ErrMalformedHeader = errors.New("malformed signature header")
	ErrMissingHeaders  = errors.New("signature does not cover required headers")
	ErrVerification    = errors.New("signature verification failed")
	ErrDigestMismatch  = errors.New("digest mismatch")
	ErrUnsupported     = errors.New("unsupported algorithm")
	ErrStaleDate       = errors.New("signed date out of range")
)

// Header is a parsed Signature header.
type Header struct {
	KeyID     string
	Algorithm string
	Headers   []string
	Signature string
}

var attrRegex = regexp.MustCompile(`\b([^"=\s,]+)="([^"]*)"`)

// ParseHeader parses a Signature header value, or an Authorization header using
// the Signature scheme.
func ParseHeader(raw string) (*Header, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Signature "))

	h := &Header{}
	var headers string
	for _, m := range attrRegex.FindAllStringSubmatch(raw, -1) {
		switch m[1] {
		case "keyId":
			h.KeyID = m[2]
		case "algorithm":
			h.Algorithm = m[2]
		case "headers":
			headers = m[2]
		case "signature":
			h.Signature = m[2]
		}
	}

	if h.KeyID == "" {
		return nil, errors.Wrap(ErrMalformedHeader, "missing keyId")
	}
	if headers == "" {
		return nil, errors.Wrap(ErrMalformedHeader, "missing headers")
	}
	if h.Signature == "" {
		return nil, errors.Wrap(ErrMalformedHeader, "missing signature")
	}

	h.Headers = strings.Fields(strings.ToLower(headers))
	for _, required := range RequiredHeaders {
		if !h.Covers(required) {
			return nil, errors.Wrapf(ErrMissingHeaders, "%s is not signed", required)
		}
	}

	return h, nil
}

// Covers reports whether the signature covers the named header.
func (h *Header) Covers(name string) bool {
	name = strings.ToLower(name)
	for _, n := range h.Headers {
		if n == name {
			return true
		}
	}
	return false
}

// String renders the header value.
func (h *Header) String() string {
	var b strings.Builder
	b.WriteString(`keyId="`)
	b.WriteString(h.KeyID)
	b.WriteString(`",`)
	if h.Algorithm != "" {
		b.WriteString(`algorithm="`)
		b.WriteString(h.Algorithm)
		b.WriteString(`",`)
	}
	b.WriteString(`headers="`)
	b.WriteString(strings.Join(h.Headers, " "))
	b.WriteString(`",signature="`)
	b.WriteString(h.Signature)
	b.WriteString(`"`)
	return b.String()
}

// KeyOwner returns the origin and path of a keyId, which names the signing actor.
func KeyOwner(keyID string) (string, error) {
	u, err := url.Parse(keyID)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", errors.Wrapf(ErrMalformedHeader, "invalid keyId %q", keyID)
	}
	return u.Scheme + "://" + u.Host + u.Path, nil
}
