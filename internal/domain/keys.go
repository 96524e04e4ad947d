package domain

import (
	"context"
	"crypto"
	"crypto/x509"
)

// SigningKeyRef identifies key material held by a provider backend. It never
// carries the material itself.
type SigningKeyRef struct {
	Provider string `json:"provider"`
	KeyID    string `json:"key_id"`
	Project  string `json:"project,omitempty"`
	Region   string `json:"region,omitempty"`
	Version  string `json:"version,omitempty"`
}

func (r SigningKeyRef) Validate() error {
	if r.Provider == "" || r.KeyID == "" {
		return NewError(CodeInvalidConfig, "signing key ref requires provider and key id")
	}
	return nil
}

// ProviderBackend is the single capability surface every HSM/KMS flavor
// implements. Backends are assumed safe for concurrent use; the registry does
// no serialization on top of them.
type ProviderBackend interface {
	Initialize(ctx context.Context, config map[string]string) error
	Sign(ctx context.Context, ref SigningKeyRef, digest []byte, alg SignatureAlgorithm) ([]byte, error)
	PublicKey(ctx context.Context, ref SigningKeyRef) (crypto.PublicKey, error)
	Close() error
}

// ChainProvider is implemented by backends that can also hand out the signer
// certificate chain (soft keys, PKCS#11 tokens). Cloud KMS backends usually
// cannot, so the chain arrives with the request instead.
type ChainProvider interface {
	Chain(ctx context.Context, ref SigningKeyRef) ([]*x509.Certificate, error)
}
