package awskms

import (
	"context"
	"crypto"
	"crypto/x509"
	"strings"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/config"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/awsclient"
)

// Manager signs through AWS KMS. Key material never leaves the service; only
// digests travel.
type Manager struct {
	client *awsclient.Client
}

func NewManager(client *awsclient.Client) *Manager {
	return &Manager{client: client}
}

func NewManagerFromConfig(cfg config.Config) (*Manager, error) {
	client, err := awsclient.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewManager(client), nil
}

func (m *Manager) Initialize(_ context.Context, _ map[string]string) error {
	if m == nil || m.client == nil {
		return domain.NewError(domain.CodeInvalidConfig, "aws kms client not configured")
	}
	return nil
}

func (m *Manager) Sign(ctx context.Context, ref domain.SigningKeyRef, digest []byte, alg domain.SignatureAlgorithm) ([]byte, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	kmsAlg, err := kmsAlgorithm(alg)
	if err != nil {
		return nil, err
	}
	sig, err := m.client.Sign(ctx, keyID(ref), digest, kmsAlg)
	if err != nil {
		return nil, classify(err)
	}
	return sig, nil
}

func (m *Manager) PublicKey(ctx context.Context, ref domain.SigningKeyRef) (crypto.PublicKey, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	der, err := m.client.GetPublicKey(ctx, keyID(ref))
	if err != nil {
		return nil, classify(err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, domain.WrapError(domain.CodeSigningFailed, "parse kms public key", err)
	}
	return pub, nil
}

func (m *Manager) Close() error { return nil }

func keyID(ref domain.SigningKeyRef) string {
	if ref.Version != "" {
		return ref.KeyID + ":" + ref.Version
	}
	return ref.KeyID
}

func kmsAlgorithm(alg domain.SignatureAlgorithm) (string, error) {
	switch alg {
	case domain.AlgRSAPKCS1SHA256:
		return "RSASSA_PKCS1_V1_5_SHA_256", nil
	case domain.AlgRSAPKCS1SHA384:
		return "RSASSA_PKCS1_V1_5_SHA_384", nil
	case domain.AlgRSAPKCS1SHA512:
		return "RSASSA_PKCS1_V1_5_SHA_512", nil
	case domain.AlgECDSAP256:
		return "ECDSA_SHA_256", nil
	case domain.AlgECDSAP384:
		return "ECDSA_SHA_384", nil
	case domain.AlgECDSAP521:
		return "ECDSA_SHA_512", nil
	default:
		return "", domain.Errorf(domain.CodeUnsupportedAlgorithm, "aws kms cannot perform %s", alg)
	}
}

// classify folds transport errors into the retryable taxonomy so the batch
// retry budget applies to throttled or unreachable KMS endpoints.
func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "status 403"):
		return domain.WrapError(domain.CodeKeyPermissionDenied, "aws kms denied access", err)
	case strings.Contains(msg, "status 404"):
		return domain.WrapError(domain.CodeKeyUnavailable, "aws kms key not found", err)
	case strings.Contains(msg, "status 429"), strings.Contains(msg, "status 503"):
		return domain.WrapError(domain.CodeBackendUnavailable, "aws kms throttled", err)
	case strings.Contains(msg, "context deadline exceeded"):
		return domain.WrapError(domain.CodeTimeout, "aws kms timeout", err)
	default:
		return domain.WrapError(domain.CodeNetwork, "aws kms request failed", err)
	}
}
