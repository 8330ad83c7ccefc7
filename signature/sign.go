package signature

import (
	"crypto/rsa"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/totegamma/httpsig"
)

// Signed holds the headers produced by Sign.
type Signed struct {
	Date      string
	Digest    string
	Signature string
}

// Sign signs a request described by its parts and returns the headers to send.
// header may be nil; it is not modified.
func Sign(method, rawURL string, header http.Header, body []byte, keyID string, key *rsa.PrivateKey) (*Signed, error) {
	req, err := http.NewRequest(method, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "invalid request")
	}
	if header != nil {
		req.Header = header.Clone()
	}

	if err := SignRequest(req, body, keyID, key); err != nil {
		return nil, err
	}

	return &Signed{
		Date:      req.Header.Get("Date"),
		Digest:    req.Header.Get("Digest"),
		Signature: req.Header.Get("Signature"),
	}, nil
}

// SignRequest adds Date, Host, Digest and Signature headers to req.
// The signature covers (request-target), host and date, plus content-type when
// set and digest when body is not empty.
func SignRequest(req *http.Request, body []byte, keyID string, key *rsa.PrivateKey) error {
	if key == nil {
		return errors.New("missing private key")
	}

	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	if req.Header.Get("Host") == "" {
		req.Header.Set("Host", req.URL.Host)
	}
	req.Header.Del("Digest")
	req.Header.Del("Signature")

	headersToSign := []string{httpsig.RequestTarget, "host", "date"}
	if req.Header.Get("Content-Type") != "" {
		headersToSign = append(headersToSign, "content-type")
	}
	if len(body) > 0 {
		headersToSign = append(headersToSign, "digest")
	} else {
		body = nil
	}

	prefs := []httpsig.Algorithm{httpsig.RSA_SHA256}
	signer, _, err := httpsig.NewSigner(prefs, httpsig.DigestSha256, headersToSign, httpsig.Signature, 0)
	if err != nil {
		return errors.Wrap(err, "failed to create signer")
	}
	if err := signer.SignRequest(key, keyID, req, body); err != nil {
		return errors.Wrap(err, "failed to sign request")
	}
	return nil
}
