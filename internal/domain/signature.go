package domain

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"hash"
)

type HashAlgorithm string

const (
	HashSHA256 HashAlgorithm = "sha256"
	HashSHA384 HashAlgorithm = "sha384"
	HashSHA512 HashAlgorithm = "sha512"
)

func (h HashAlgorithm) CryptoHash() crypto.Hash {
	switch h {
	case HashSHA384:
		return crypto.SHA384
	case HashSHA512:
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}

func (h HashAlgorithm) New() hash.Hash {
	return h.CryptoHash().New()
}

func (h HashAlgorithm) Sum(data []byte) []byte {
	hh := h.New()
	hh.Write(data)
	return hh.Sum(nil)
}

type SignatureAlgorithm string

const (
	AlgRSAPKCS1SHA256 SignatureAlgorithm = "rsa-pkcs1-sha256"
	AlgRSAPKCS1SHA384 SignatureAlgorithm = "rsa-pkcs1-sha384"
	AlgRSAPKCS1SHA512 SignatureAlgorithm = "rsa-pkcs1-sha512"
	AlgECDSAP256      SignatureAlgorithm = "ecdsa-p256-sha256"
	AlgECDSAP384      SignatureAlgorithm = "ecdsa-p384-sha384"
	AlgECDSAP521      SignatureAlgorithm = "ecdsa-p521-sha512"
)

func (a SignatureAlgorithm) Hash() HashAlgorithm {
	switch a {
	case AlgRSAPKCS1SHA384, AlgECDSAP384:
		return HashSHA384
	case AlgRSAPKCS1SHA512, AlgECDSAP521:
		return HashSHA512
	default:
		return HashSHA256
	}
}

// AlgorithmForPublicKey picks the signature algorithm implied by the
// certificate's key type. Unknown key types are rejected up front so a
// backend is never asked for an algorithm it cannot perform.
func AlgorithmForPublicKey(pub crypto.PublicKey) (SignatureAlgorithm, error) {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		return AlgRSAPKCS1SHA256, nil
	case *ecdsa.PublicKey:
		switch key.Curve {
		case elliptic.P256():
			return AlgECDSAP256, nil
		case elliptic.P384():
			return AlgECDSAP384, nil
		case elliptic.P521():
			return AlgECDSAP521, nil
		default:
			return "", Errorf(CodeUnsupportedAlgorithm, "unsupported ecdsa curve %s", key.Curve.Params().Name)
		}
	default:
		return "", Errorf(CodeUnsupportedAlgorithm, "unsupported public key type %T", pub)
	}
}

// Attribute is one signed or unsigned CMS attribute, kept as the dotted OID
// plus raw DER value.
type Attribute struct {
	OID   string `json:"oid"`
	Value []byte `json:"value"`
}

// SignatureContainer bundles a signature with its signer certificate and
// attributes, CMS style. SignatureBytes must verify against the embedded
// certificate's public key; UnsignedAttributes may later carry a timestamp
// token and nothing else mutates after creation.
type SignatureContainer struct {
	SignerCertificate  Certificate        `json:"signer_certificate"`
	SignedAttributes   []Attribute        `json:"signed_attributes,omitempty"`
	UnsignedAttributes []Attribute        `json:"unsigned_attributes,omitempty"`
	Algorithm          SignatureAlgorithm `json:"algorithm"`
	SignatureBytes     []byte             `json:"signature_bytes"`
	Raw                []byte             `json:"raw"`
	ContentDigest      []byte             `json:"content_digest"`
	DigestAlgorithm    HashAlgorithm      `json:"digest_algorithm"`
}

type DocumentIntegrityStatus string

const (
	IntegrityIntact   DocumentIntegrityStatus = "intact"
	IntegrityModified DocumentIntegrityStatus = "modified"
)

// Failure classes kept distinct for audit purposes.
const (
	FailureNone                 = ""
	FailureCryptographic        = "crypto_invalid"
	FailureCertificateUntrusted = "certificate_untrusted"
)

// SignatureVerification is the structured outcome of verifySignature. A
// signature can be cryptographically sound while its certificate is expired
// or untrusted; callers need to tell those apart.
type SignatureVerification struct {
	SignatureValid   bool                    `json:"signature_valid"`
	CertificateValid bool                    `json:"certificate_valid"`
	ChainTrusted     bool                    `json:"chain_trusted"`
	Integrity        DocumentIntegrityStatus `json:"integrity"`
	FailureClass     string                  `json:"failure_class,omitempty"`
	Errors           []string                `json:"errors,omitempty"`
}

func (v SignatureVerification) Valid() bool {
	return v.SignatureValid && v.CertificateValid && v.Integrity == IntegrityIntact
}

// TrustOptions carries the optional chain-of-trust inputs for verification.
type TrustOptions struct {
	Roots         *x509.CertPool
	Intermediates *x509.CertPool
}
