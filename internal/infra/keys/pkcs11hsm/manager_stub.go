//go:build !cgo

package pkcs11hsm

import (
	"context"
	"crypto"
	"crypto/x509"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

// Manager is unavailable without cgo; every call reports the backend down.
type Manager struct{}

func NewManager() *Manager { return &Manager{} }

func (m *Manager) Initialize(context.Context, map[string]string) error {
	return errUnavailable()
}

func (m *Manager) Sign(context.Context, domain.SigningKeyRef, []byte, domain.SignatureAlgorithm) ([]byte, error) {
	return nil, errUnavailable()
}

func (m *Manager) PublicKey(context.Context, domain.SigningKeyRef) (crypto.PublicKey, error) {
	return nil, errUnavailable()
}

func (m *Manager) Chain(context.Context, domain.SigningKeyRef) ([]*x509.Certificate, error) {
	return nil, errUnavailable()
}

func (m *Manager) Close() error { return nil }

func errUnavailable() error {
	return domain.NewError(domain.CodeBackendUnavailable, "pkcs11 support requires a cgo build")
}
