package crypto

import (
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"strconv"
	"strings"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

// CMS attribute OIDs.
var (
	oidSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
	oidTimestampToken       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}
	oidSHA256               = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
)

// OIDTimestampToken is the dotted form of id-aa-timeStampToken, the unsigned
// attribute a granted timestamp is appended under.
const OIDTimestampToken = "1.2.840.113549.1.9.16.2.14"

type essCertIDv2 struct {
	HashAlgorithm pkix.AlgorithmIdentifier `asn1:"default:sha256"`
	CertHash      []byte
}

type signingCertificateV2 struct {
	Certs []essCertIDv2
}

// signingCertV2Attribute binds the signer certificate into the signed
// attributes (RFC 5035), so swapping the certificate after signing breaks
// verification.
func signingCertV2Attribute(cert *x509.Certificate) ([]byte, error) {
	sum := sha256.Sum256(cert.Raw)
	value := signingCertificateV2{
		Certs: []essCertIDv2{{
			HashAlgorithm: pkix.AlgorithmIdentifier{
				Algorithm:  oidSHA256,
				Parameters: asn1.RawValue{Tag: asn1.TagNull},
			},
			CertHash: sum[:],
		}},
	}
	return asn1.Marshal(value)
}

// ParseOID converts a dotted OID string into its asn1 form.
func ParseOID(dotted string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(dotted, ".")
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, part := range parts {
		val, err := strconv.Atoi(part)
		if err != nil {
			return nil, domain.Errorf(domain.CodeInvalidConfig, "oid %q is not dotted decimal", dotted)
		}
		oid[i] = val
	}
	return oid, nil
}
