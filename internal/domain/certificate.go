package domain

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"time"
)

// Certificate is the immutable view of a signer certificate used across many
// signatures. Raw keeps the DER bytes so the container can embed them as-is.
type Certificate struct {
	Subject      string
	Issuer       string
	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time
	Raw          []byte
	Fingerprint  string

	parsed *x509.Certificate
}

func CertificateFromX509(cert *x509.Certificate) Certificate {
	sum := sha256.Sum256(cert.Raw)
	return Certificate{
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.String(),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		Raw:          cert.Raw,
		Fingerprint:  hex.EncodeToString(sum[:]),
		parsed:       cert,
	}
}

func (c Certificate) X509() (*x509.Certificate, error) {
	if c.parsed != nil {
		return c.parsed, nil
	}
	return x509.ParseCertificate(c.Raw)
}

// ValidAt reports whether the validity window includes t.
func (c Certificate) ValidAt(t time.Time) bool {
	return !t.Before(c.NotBefore) && !t.After(c.NotAfter)
}
