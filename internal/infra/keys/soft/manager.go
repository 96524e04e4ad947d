package soft

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"sync"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

type softKey struct {
	signer crypto.Signer
	chain  []*x509.Certificate
}

// Manager holds software signing keys in process memory. Keys arrive from a
// PKCS#12 bundle, PEM files, or programmatic registration; material never
// leaves the manager.
type Manager struct {
	mu   sync.RWMutex
	keys map[string]softKey
}

func NewManager() *Manager {
	return &Manager{keys: make(map[string]softKey)}
}

// Initialize loads configured credentials. Recognized config keys:
// pkcs12_path/pkcs12_password and cert_pem_path/key_pem_path, each loaded
// under the key id given by key_id (default "default").
func (m *Manager) Initialize(_ context.Context, config map[string]string) error {
	keyID := config["key_id"]
	if keyID == "" {
		keyID = "default"
	}
	if path := config["pkcs12_path"]; path != "" {
		if err := m.loadPKCS12(keyID, path, config["pkcs12_password"]); err != nil {
			return err
		}
	}
	if certPath := config["cert_pem_path"]; certPath != "" {
		if err := m.loadPEM(keyID, certPath, config["key_pem_path"]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) loadPKCS12(keyID, path, password string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.WrapError(domain.CodeInvalidConfig, "read pkcs12 bundle", err)
	}
	priv, cert, caCerts, err := pkcs12.DecodeChain(raw, password)
	if err != nil {
		return domain.WrapError(domain.CodeInvalidConfig, "decode pkcs12 bundle", err)
	}
	signer, ok := priv.(crypto.Signer)
	if !ok {
		return domain.Errorf(domain.CodeInvalidConfig, "pkcs12 private key type %T cannot sign", priv)
	}
	chain := append([]*x509.Certificate{cert}, caCerts...)
	m.Add(keyID, signer, chain)
	return nil
}

func (m *Manager) loadPEM(keyID, certPath, keyPath string) error {
	certRaw, err := os.ReadFile(certPath)
	if err != nil {
		return domain.WrapError(domain.CodeInvalidConfig, "read certificate pem", err)
	}
	keyRaw, err := os.ReadFile(keyPath)
	if err != nil {
		return domain.WrapError(domain.CodeInvalidConfig, "read key pem", err)
	}
	var chain []*x509.Certificate
	for block, rest := pem.Decode(certRaw); block != nil; block, rest = pem.Decode(rest) {
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return domain.WrapError(domain.CodeInvalidConfig, "parse certificate pem", err)
		}
		chain = append(chain, cert)
	}
	if len(chain) == 0 {
		return domain.NewError(domain.CodeInvalidConfig, "certificate pem holds no certificates")
	}
	block, _ := pem.Decode(keyRaw)
	if block == nil {
		return domain.NewError(domain.CodeInvalidConfig, "key pem holds no blocks")
	}
	signer, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return err
	}
	m.Add(keyID, signer, chain)
	return nil
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		if signer, ok := key.(crypto.Signer); ok {
			return signer, nil
		}
		return nil, domain.Errorf(domain.CodeInvalidConfig, "private key type %T cannot sign", key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, domain.NewError(domain.CodeInvalidConfig, "unrecognized private key encoding")
}

// Add registers a signer under keyID, replacing any previous entry.
func (m *Manager) Add(keyID string, signer crypto.Signer, chain []*x509.Certificate) {
	m.mu.Lock()
	m.keys[keyID] = softKey{signer: signer, chain: chain}
	m.mu.Unlock()
}

func (m *Manager) lookup(ref domain.SigningKeyRef) (softKey, error) {
	m.mu.RLock()
	key, ok := m.keys[ref.KeyID]
	m.mu.RUnlock()
	if !ok {
		return softKey{}, domain.Errorf(domain.CodeKeyUnavailable, "key %q not held by soft provider", ref.KeyID)
	}
	return key, nil
}

func (m *Manager) Sign(_ context.Context, ref domain.SigningKeyRef, digest []byte, alg domain.SignatureAlgorithm) ([]byte, error) {
	key, err := m.lookup(ref)
	if err != nil {
		return nil, err
	}
	hash := alg.Hash().CryptoHash()
	if len(digest) != hash.Size() {
		return nil, domain.Errorf(domain.CodeUnsupportedAlgorithm, "digest length %d does not match %s", len(digest), alg.Hash())
	}
	switch signer := key.signer.(type) {
	case *rsa.PrivateKey:
		if !isRSA(alg) {
			return nil, domain.Errorf(domain.CodeUnsupportedAlgorithm, "rsa key cannot perform %s", alg)
		}
		sig, err := rsa.SignPKCS1v15(rand.Reader, signer, hash, digest)
		if err != nil {
			return nil, domain.WrapError(domain.CodeSigningFailed, "rsa sign", err)
		}
		return sig, nil
	case *ecdsa.PrivateKey:
		if isRSA(alg) {
			return nil, domain.Errorf(domain.CodeUnsupportedAlgorithm, "ecdsa key cannot perform %s", alg)
		}
		sig, err := ecdsa.SignASN1(rand.Reader, signer, digest)
		if err != nil {
			return nil, domain.WrapError(domain.CodeSigningFailed, "ecdsa sign", err)
		}
		return sig, nil
	default:
		// Generic crypto.Signer fallback (hardware-wrapped keys added
		// through Add).
		sig, err := key.signer.Sign(rand.Reader, digest, hash)
		if err != nil {
			return nil, domain.WrapError(domain.CodeSigningFailed, "sign", err)
		}
		return sig, nil
	}
}

func isRSA(alg domain.SignatureAlgorithm) bool {
	switch alg {
	case domain.AlgRSAPKCS1SHA256, domain.AlgRSAPKCS1SHA384, domain.AlgRSAPKCS1SHA512:
		return true
	default:
		return false
	}
}

func (m *Manager) PublicKey(_ context.Context, ref domain.SigningKeyRef) (crypto.PublicKey, error) {
	key, err := m.lookup(ref)
	if err != nil {
		return nil, err
	}
	return key.signer.Public(), nil
}

// Chain returns the certificate chain loaded with the key, leaf first.
func (m *Manager) Chain(_ context.Context, ref domain.SigningKeyRef) ([]*x509.Certificate, error) {
	key, err := m.lookup(ref)
	if err != nil {
		return nil, err
	}
	if len(key.chain) == 0 {
		return nil, domain.Errorf(domain.CodeKeyUnavailable, "key %q has no certificate chain", ref.KeyID)
	}
	return key.chain, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	m.keys = make(map[string]softKey)
	m.mu.Unlock()
	return nil
}

// Signer exposes the raw signer for a key id, mainly for wiring tests.
func (m *Manager) Signer(keyID string) (crypto.Signer, error) {
	key, err := m.lookup(domain.SigningKeyRef{Provider: "soft", KeyID: keyID})
	if err != nil {
		return nil, err
	}
	if key.signer == nil {
		return nil, errors.New("nil signer")
	}
	return key.signer, nil
}
