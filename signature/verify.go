package signature

import (
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/totegamma/httpsig"
)

// MaxRequestAge bounds how far a signed Date may be from the verifier's clock.
const MaxRequestAge = 5 * time.Minute

// Verify checks the signature of a request against the signer's public key.
// The signing string is rebuilt from the headers sig declares.
func Verify(publicKeyPEM string, sig *Header, method string, u *url.URL, h http.Header) error {
	key, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return errors.Wrap(ErrVerification, err.Error())
	}

	req := &http.Request{
		Method: method,
		URL:    u,
		Host:   u.Host,
		Header: h.Clone(),
	}
	req.Header.Del("Authorization")
	req.Header.Set("Signature", sig.String())

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return errors.Wrap(ErrVerification, err.Error())
	}
	if err := verifier.Verify(key, httpsig.RSA_SHA256); err != nil {
		return errors.Wrap(ErrVerification, err.Error())
	}
	return nil
}

// CheckDate rejects a Date header that is missing, malformed, or further than
// maxAge from now in either direction.
func CheckDate(date string, now time.Time, maxAge time.Duration) error {
	if date == "" {
		return errors.Wrap(ErrStaleDate, "date is unspecified")
	}
	t, err := http.ParseTime(date)
	if err != nil {
		return errors.Wrapf(ErrStaleDate, "invalid date %q", date)
	}
	skew := now.Sub(t)
	if skew > maxAge || skew < -maxAge {
		return errors.Wrapf(ErrStaleDate, "date %s is outside the accepted window", date)
	}
	return nil
}
