package signature

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"

	"github.com/pkg/errors"
)

const (
	// KeyBits is the size of generated keys.
	KeyBits = 2048

	minKeyBits = 2048
	maxKeyBits = 8192
)

// GenerateKeyPair returns a PKCS#1 private key and a PKIX public key, both PEM encoded.
func GenerateKeyPair() (privatePEM string, publicPEM string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to generate key")
	}

	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to marshal public key")
	}

	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
	publicPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub}))
	return privatePEM, publicPEM, nil
}

// ParsePrivateKey parses a PKCS#1 or PKCS#8 RSA private key.
func ParsePrivateKey(privatePEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return nil, errors.New("failed to decode private key pem")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse private key")
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.Wrap(ErrUnsupported, "private key is not rsa")
	}
	return rsaKey, nil
}

// ParsePublicKey parses a PKIX or PKCS#1 RSA public key of an accepted size.
func ParsePublicKey(publicPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicPEM))
	if block == nil {
		return nil, errors.New("failed to decode public key pem")
	}

	var key *rsa.PublicKey
	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, errors.Wrap(ErrUnsupported, "public key is not rsa")
		}
		key = rsaKey
	} else if key, err = x509.ParsePKCS1PublicKey(block.Bytes); err != nil {
		return nil, errors.Wrap(err, "failed to parse public key")
	}

	if bits := key.N.BitLen(); bits < minKeyBits || bits > maxKeyBits {
		return nil, errors.Wrapf(ErrUnsupported, "invalid key size %d", bits)
	}
	return key, nil
}
