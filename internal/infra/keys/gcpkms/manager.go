package gcpkms

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/config"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/gcpclient"
)

// Manager signs through Google Cloud KMS asymmetric keys.
type Manager struct {
	client *gcpclient.Client
}

func NewManager(client *gcpclient.Client) *Manager {
	return &Manager{client: client}
}

func NewManagerFromConfig(cfg config.Config) (*Manager, error) {
	client, err := gcpclient.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewManager(client), nil
}

func (m *Manager) Initialize(_ context.Context, _ map[string]string) error {
	if m == nil || m.client == nil {
		return domain.NewError(domain.CodeInvalidConfig, "gcp kms client not configured")
	}
	return nil
}

// keyPath builds the Cloud KMS resource path. Region maps to location and
// KeyID is "keyRing/cryptoKey"; Version defaults to 1.
func keyPath(ref domain.SigningKeyRef) (string, error) {
	parts := strings.SplitN(ref.KeyID, "/", 2)
	if len(parts) != 2 {
		return "", domain.Errorf(domain.CodeInvalidConfig, "gcp key id %q must be keyRing/cryptoKey", ref.KeyID)
	}
	location := ref.Region
	if location == "" {
		location = "global"
	}
	version := ref.Version
	if version == "" {
		version = "1"
	}
	return fmt.Sprintf("locations/%s/keyRings/%s/cryptoKeys/%s/cryptoKeyVersions/%s",
		location, parts[0], parts[1], version), nil
}

func digestField(alg domain.SignatureAlgorithm) string {
	switch alg.Hash() {
	case domain.HashSHA384:
		return "sha384"
	case domain.HashSHA512:
		return "sha512"
	default:
		return "sha256"
	}
}

func (m *Manager) Sign(ctx context.Context, ref domain.SigningKeyRef, digest []byte, alg domain.SignatureAlgorithm) ([]byte, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	path, err := keyPath(ref)
	if err != nil {
		return nil, err
	}
	sig, err := m.client.AsymmetricSign(ctx, path, digestField(alg), digest)
	if err != nil {
		return nil, classify(err)
	}
	return sig, nil
}

func (m *Manager) PublicKey(ctx context.Context, ref domain.SigningKeyRef) (crypto.PublicKey, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	path, err := keyPath(ref)
	if err != nil {
		return nil, err
	}
	pemStr, err := m.client.GetPublicKey(ctx, path)
	if err != nil {
		return nil, classify(err)
	}
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, domain.NewError(domain.CodeSigningFailed, "gcp public key pem is empty")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, domain.WrapError(domain.CodeSigningFailed, "parse gcp public key", err)
	}
	return pub, nil
}

func (m *Manager) Close() error { return nil }

func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "status 403"):
		return domain.WrapError(domain.CodeKeyPermissionDenied, "gcp kms denied access", err)
	case strings.Contains(msg, "status 404"):
		return domain.WrapError(domain.CodeKeyUnavailable, "gcp kms key not found", err)
	case strings.Contains(msg, "status 429"), strings.Contains(msg, "status 503"):
		return domain.WrapError(domain.CodeBackendUnavailable, "gcp kms throttled", err)
	case strings.Contains(msg, "context deadline exceeded"):
		return domain.WrapError(domain.CodeTimeout, "gcp kms timeout", err)
	default:
		return domain.WrapError(domain.CodeNetwork, "gcp kms request failed", err)
	}
}
