package domain

import (
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"

	asoc "github.com/partim/atomtools"
)

// Certificate is a stored peer certificate, keyed by the fingerprint of its
// public key. Raw holds the canonical serialization of the document as it
// was recorded; replaying a byte-identical document has no further effect.
type Certificate struct {
	Fingerprint string
	Subject     string
	Issuer      string
	Algorithm   string
	PublicKey   []byte
	NotBefore   time.Time
	NotAfter    time.Time
	Signature   []byte
	Revoked     bool
	Raw         string
}

// FingerprintOf derives the identity of a public key: the lowercase hex
// SHA3-256 digest of the raw key material.
func FingerprintOf(key []byte) string {
	sum := sha3.Sum256(key)
	return hex.EncodeToString(sum[:])
}

// CertificateFromDocument converts a decoded certificate document into its
// stored form, canonicalizing the raw serialization along the way.
func CertificateFromDocument(doc *asoc.Certificate) (Certificate, error) {
	key, err := doc.PublicKey()
	if err != nil {
		return Certificate{}, errors.Wrap(err, "failed to decode certificate key")
	}
	var sig []byte
	if doc.Signature != "" {
		sig, err = doc.SignatureBytes()
		if err != nil {
			return Certificate{}, errors.Wrap(err, "failed to decode certificate signature")
		}
	}
	return Certificate{
		Fingerprint: FingerprintOf(key),
		Subject:     doc.Subject,
		Issuer:      doc.Issuer,
		Algorithm:   doc.Algorithm,
		PublicKey:   key,
		NotBefore:   doc.NotBefore,
		NotAfter:    doc.NotAfter,
		Signature:   sig,
		Revoked:     doc.Revoked,
		Raw:         string(asoc.EncodeBytes(doc)),
	}, nil
}

// ValidAt reports whether the certificate's validity window covers t. A zero
// notBefore means valid from the beginning of time; a zero notAfter means it
// never expires.
func (c Certificate) ValidAt(t time.Time) bool {
	if !c.NotBefore.IsZero() && t.Before(c.NotBefore) {
		return false
	}
	if !c.NotAfter.IsZero() && t.After(c.NotAfter) {
		return false
	}
	return true
}

// ExpiredAt reports whether t lies past the certificate's notAfter.
func (c Certificate) ExpiredAt(t time.Time) bool {
	return !c.NotAfter.IsZero() && t.After(c.NotAfter)
}
