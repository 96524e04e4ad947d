package crypto

import (
	"bytes"
	"context"
	stdcrypto "crypto"
	"crypto/x509"
	"encoding/asn1"
	"encoding/json"
	"io"
	"time"

	"github.com/smallstep/pkcs7"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/certcache"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/keys"
)

// Engine produces and verifies CMS signature containers. Signing keys stay
// behind the provider registry; the engine only ever handles digests and the
// resulting signature bytes.
type Engine struct {
	registry *keys.Registry
	clock    func() time.Time
	chains   *certcache.Cache
}

func NewEngine(registry *keys.Registry) *Engine {
	return &Engine{registry: registry, clock: time.Now}
}

func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithChainCache remembers chain-trust decisions per signer fingerprint so a
// batch full of signatures from the same certificate builds the chain once.
func (e *Engine) WithChainCache(cache *certcache.Cache) *Engine {
	e.chains = cache
	return e
}

// remoteSigner adapts a registry-held key to crypto.Signer so the CMS builder
// can drive it. The context rides in the struct because the Signer interface
// has no room for one.
type remoteSigner struct {
	ctx      context.Context
	registry *keys.Registry
	ref      domain.SigningKeyRef
	alg      domain.SignatureAlgorithm
	public   stdcrypto.PublicKey
}

func (s *remoteSigner) Public() stdcrypto.PublicKey { return s.public }

func (s *remoteSigner) Sign(_ io.Reader, digest []byte, _ stdcrypto.SignerOpts) ([]byte, error) {
	return s.registry.Sign(s.ctx, s.ref, digest, s.alg)
}

// CreateSignature signs content with the key named by ref and wraps the
// result in a detached CMS container carrying cert and chain. The certificate
// validity window is checked before any backend call, and the finished
// container is verified against the certificate before it is returned, so a
// key that does not match the certificate fails here rather than at some
// later verification.
func (e *Engine) CreateSignature(ctx context.Context, content []byte, ref domain.SigningKeyRef, cert *x509.Certificate, chain []*x509.Certificate) (*domain.SignatureContainer, error) {
	if cert == nil {
		return nil, domain.NewError(domain.CodeInvalidConfig, "signer certificate is required")
	}
	now := e.clock()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return nil, domain.Errorf(domain.CodeCertificateExpired,
			"certificate %s valid %s to %s, not at %s",
			cert.Subject.CommonName,
			cert.NotBefore.Format(time.RFC3339), cert.NotAfter.Format(time.RFC3339),
			now.Format(time.RFC3339))
	}

	alg, err := domain.AlgorithmForPublicKey(cert.PublicKey)
	if err != nil {
		return nil, err
	}

	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, domain.WrapError(domain.CodeSigningFailed, "build signed data", err)
	}
	switch alg.Hash() {
	case domain.HashSHA384:
		sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA384)
	case domain.HashSHA512:
		sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA512)
	default:
		sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	}

	certV2, err := signingCertV2Attribute(cert)
	if err != nil {
		return nil, domain.WrapError(domain.CodeSigningFailed, "marshal signing certificate attribute", err)
	}
	config := pkcs7.SignerInfoConfig{
		ExtraSignedAttributes: []pkcs7.Attribute{{
			Type:  oidSigningCertificateV2,
			Value: asn1.RawValue{FullBytes: certV2},
		}},
	}

	signer := &remoteSigner{ctx: ctx, registry: e.registry, ref: ref, alg: alg, public: cert.PublicKey}
	if err := sd.AddSigner(cert, signer, config); err != nil {
		return nil, domain.WrapError(domain.CodeSigningFailed, "add signer", err)
	}
	for _, c := range chain {
		if bytes.Equal(c.Raw, cert.Raw) {
			continue
		}
		sd.AddCertificate(c)
	}
	sd.Detach()

	raw, err := sd.Finish()
	if err != nil {
		return nil, domain.WrapError(domain.CodeSigningFailed, "finish signed data", err)
	}

	// Self-check before handing the container out.
	if err := verifyDetached(raw, content); err != nil {
		return nil, domain.WrapError(domain.CodeCertificateKeyMismatch,
			"signature does not verify against the supplied certificate", err)
	}

	container := &domain.SignatureContainer{
		SignerCertificate: domain.CertificateFromX509(cert),
		Algorithm:         alg,
		Raw:               raw,
		ContentDigest:     alg.Hash().Sum(content),
		DigestAlgorithm:   alg.Hash(),
	}
	if p7, err := pkcs7.Parse(raw); err == nil && len(p7.Signers) > 0 {
		si := p7.Signers[0]
		container.SignatureBytes = si.EncryptedDigest
		for _, attr := range si.AuthenticatedAttributes {
			container.SignedAttributes = append(container.SignedAttributes, domain.Attribute{
				OID:   attr.Type.String(),
				Value: attr.Value.FullBytes,
			})
		}
	}
	return container, nil
}

func verifyDetached(raw, content []byte) error {
	p7, err := pkcs7.Parse(raw)
	if err != nil {
		return err
	}
	p7.Content = content
	return p7.Verify()
}

// VerifySignature checks a container against content and optional trust
// anchors. It always returns a structured result, never an error: a
// cryptographically broken signature and a sound signature from an untrusted
// certificate are different findings and both are expected outcomes.
func (e *Engine) VerifySignature(container *domain.SignatureContainer, content []byte, trust domain.TrustOptions) domain.SignatureVerification {
	result := domain.SignatureVerification{Integrity: domain.IntegrityIntact}
	if container == nil {
		result.Integrity = domain.IntegrityModified
		result.FailureClass = domain.FailureCryptographic
		result.Errors = append(result.Errors, "no signature container")
		return result
	}

	if len(container.ContentDigest) > 0 &&
		!bytes.Equal(container.ContentDigest, container.DigestAlgorithm.Sum(content)) {
		result.Integrity = domain.IntegrityModified
		result.Errors = append(result.Errors, "content digest mismatch, document changed after signing")
	}

	if err := verifyDetached(container.Raw, content); err != nil {
		result.FailureClass = domain.FailureCryptographic
		result.Errors = append(result.Errors, "signature verification failed: "+err.Error())
	} else {
		result.SignatureValid = true
	}

	cert, err := container.SignerCertificate.X509()
	if err != nil {
		result.FailureClass = domain.FailureCryptographic
		result.Errors = append(result.Errors, "signer certificate unparseable: "+err.Error())
		return result
	}

	now := e.clock()
	if container.SignerCertificate.ValidAt(now) {
		result.CertificateValid = true
	} else {
		result.Errors = append(result.Errors, "signer certificate not valid at "+now.Format(time.RFC3339))
		if result.FailureClass == domain.FailureNone {
			result.FailureClass = domain.FailureCertificateUntrusted
		}
	}

	if trust.Roots != nil {
		if trusted, ok := e.chains.Get(container.SignerCertificate.Fingerprint); ok && trusted {
			result.ChainTrusted = true
		} else {
			opts := x509.VerifyOptions{
				Roots:         trust.Roots,
				Intermediates: trust.Intermediates,
				CurrentTime:   now,
				KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
			}
			if _, err := cert.Verify(opts); err != nil {
				result.Errors = append(result.Errors, "certificate chain untrusted: "+err.Error())
				if result.FailureClass == domain.FailureNone {
					result.FailureClass = domain.FailureCertificateUntrusted
				}
			} else {
				result.ChainTrusted = true
				e.chains.PutVerification(container.SignerCertificate, result)
			}
		}
	}

	if result.Integrity == domain.IntegrityModified && result.FailureClass == domain.FailureNone {
		result.FailureClass = domain.FailureCryptographic
	}
	return result
}

// AttachTimestamp appends a granted timestamp token to the container's
// unsigned attributes. The signed portion is untouched, so the original
// signature keeps verifying.
func (e *Engine) AttachTimestamp(container *domain.SignatureContainer, token *domain.TimestampToken) error {
	if container == nil {
		return domain.NewError(domain.CodeInvalidConfig, "signature container is required")
	}
	if token == nil || len(token.Raw) == 0 {
		return domain.NewError(domain.CodeTimestampMalformed, "timestamp token is empty")
	}
	container.UnsignedAttributes = append(container.UnsignedAttributes, domain.Attribute{
		OID:   OIDTimestampToken,
		Value: token.Raw,
	})
	return nil
}

// ExtractSignatures decodes every container embedded in the document. Fields
// whose payload does not decode come back separately with the decode error,
// so one corrupt field does not hide the rest.
func ExtractSignatures(doc domain.Document) (map[string]*domain.SignatureContainer, map[string]error) {
	containers := make(map[string]*domain.SignatureContainer)
	broken := make(map[string]error)
	if doc == nil {
		return containers, broken
	}
	for field, raw := range doc.Signatures() {
		container, err := DecodeContainer(raw)
		if err != nil {
			broken[field] = err
			continue
		}
		containers[field] = container
	}
	return containers, broken
}

// EncodeContainer serializes a container for embedding into a document field.
func EncodeContainer(container *domain.SignatureContainer) ([]byte, error) {
	if container == nil {
		return nil, domain.NewError(domain.CodeInvalidConfig, "signature container is required")
	}
	data, err := json.Marshal(container)
	if err != nil {
		return nil, domain.WrapError(domain.CodeSigningFailed, "encode signature container", err)
	}
	return data, nil
}

// DecodeContainer is the inverse of EncodeContainer, used when pulling
// signatures back out of a document.
func DecodeContainer(data []byte) (*domain.SignatureContainer, error) {
	var container domain.SignatureContainer
	if err := json.Unmarshal(data, &container); err != nil {
		return nil, domain.WrapError(domain.CodeMalformedDocument, "decode signature container", err)
	}
	if len(container.Raw) == 0 {
		return nil, domain.NewError(domain.CodeMalformedDocument, "signature container holds no signature")
	}
	return &container, nil
}
