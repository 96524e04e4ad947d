//go:build cgo

package pkcs11hsm

import (
	"context"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"strconv"
	"sync"

	"github.com/miekg/pkcs11"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

// Manager signs through a PKCS#11 module. One session is opened per signing
// call; the module handle lives for the manager's lifetime.
type Manager struct {
	mu     sync.Mutex
	ctx    *pkcs11.Ctx
	slot   uint
	pin    string
	loaded bool
}

func NewManager() *Manager { return &Manager{} }

// Initialize loads the module named by config key module_path and remembers
// slot and pin for later sessions.
func (m *Manager) Initialize(_ context.Context, config map[string]string) error {
	path := config["module_path"]
	if path == "" {
		return domain.NewError(domain.CodeInvalidConfig, "pkcs11 module_path is required")
	}
	slot := uint(0)
	if raw := config["slot"]; raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return domain.Errorf(domain.CodeInvalidConfig, "pkcs11 slot %q is not a number", raw)
		}
		slot = uint(parsed)
	}

	ctx := pkcs11.New(path)
	if ctx == nil {
		return domain.Errorf(domain.CodeInvalidConfig, "load pkcs11 module %q", path)
	}
	if err := ctx.Initialize(); err != nil {
		ctx.Destroy()
		return domain.WrapError(domain.CodeBackendUnavailable, "initialize pkcs11 module", err)
	}

	m.mu.Lock()
	m.ctx = ctx
	m.slot = slot
	m.pin = config["pin"]
	m.loaded = true
	m.mu.Unlock()
	return nil
}

func (m *Manager) session() (*pkcs11.Ctx, pkcs11.SessionHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded || m.ctx == nil {
		return nil, 0, domain.NewError(domain.CodeBackendUnavailable, "pkcs11 module not initialized")
	}
	session, err := m.ctx.OpenSession(m.slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return nil, 0, domain.WrapError(domain.CodeBackendUnavailable, "open pkcs11 session", err)
	}
	if m.pin != "" {
		if err := m.ctx.Login(session, pkcs11.CKU_USER, m.pin); err != nil {
			_ = m.ctx.CloseSession(session)
			return nil, 0, domain.WrapError(domain.CodeKeyPermissionDenied, "pkcs11 login", err)
		}
	}
	return m.ctx, session, nil
}

func findObject(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, class uint, label string) (pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
	}
	if err := ctx.FindObjectsInit(session, template); err != nil {
		return 0, domain.WrapError(domain.CodeBackendUnavailable, "pkcs11 find init", err)
	}
	objs, _, err := ctx.FindObjects(session, 1)
	_ = ctx.FindObjectsFinal(session)
	if err != nil {
		return 0, domain.WrapError(domain.CodeBackendUnavailable, "pkcs11 find", err)
	}
	if len(objs) == 0 {
		return 0, domain.Errorf(domain.CodeKeyUnavailable, "pkcs11 object %q not found", label)
	}
	return objs[0], nil
}

type digestInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	Digest    []byte
}

var hashOIDs = map[domain.HashAlgorithm]asn1.ObjectIdentifier{
	domain.HashSHA256: {2, 16, 840, 1, 101, 3, 4, 2, 1},
	domain.HashSHA384: {2, 16, 840, 1, 101, 3, 4, 2, 2},
	domain.HashSHA512: {2, 16, 840, 1, 101, 3, 4, 2, 3},
}

// wrapDigest builds the DigestInfo expected by CKM_RSA_PKCS, which signs raw
// input without hashing.
func wrapDigest(hash domain.HashAlgorithm, digest []byte) ([]byte, error) {
	oid, ok := hashOIDs[hash]
	if !ok {
		return nil, domain.Errorf(domain.CodeUnsupportedAlgorithm, "no digest oid for %s", hash)
	}
	return asn1.Marshal(digestInfo{
		Algorithm: pkix.AlgorithmIdentifier{
			Algorithm:  oid,
			Parameters: asn1.RawValue{Tag: asn1.TagNull},
		},
		Digest: digest,
	})
}

func (m *Manager) Sign(_ context.Context, ref domain.SigningKeyRef, digest []byte, alg domain.SignatureAlgorithm) ([]byte, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	ctx, session, err := m.session()
	if err != nil {
		return nil, err
	}
	defer ctx.CloseSession(session)

	key, err := findObject(ctx, session, pkcs11.CKO_PRIVATE_KEY, ref.KeyID)
	if err != nil {
		return nil, err
	}

	var mechanism *pkcs11.Mechanism
	input := digest
	switch alg {
	case domain.AlgRSAPKCS1SHA256, domain.AlgRSAPKCS1SHA384, domain.AlgRSAPKCS1SHA512:
		mechanism = pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)
		input, err = wrapDigest(alg.Hash(), digest)
		if err != nil {
			return nil, err
		}
	case domain.AlgECDSAP256, domain.AlgECDSAP384, domain.AlgECDSAP521:
		mechanism = pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)
	default:
		return nil, domain.Errorf(domain.CodeUnsupportedAlgorithm, "pkcs11 cannot perform %s", alg)
	}

	if err := ctx.SignInit(session, []*pkcs11.Mechanism{mechanism}, key); err != nil {
		return nil, domain.WrapError(domain.CodeSigningFailed, "pkcs11 sign init", err)
	}
	sig, err := ctx.Sign(session, input)
	if err != nil {
		return nil, domain.WrapError(domain.CodeSigningFailed, "pkcs11 sign", err)
	}

	// The token returns ECDSA signatures as raw r||s; callers expect ASN.1.
	switch alg {
	case domain.AlgECDSAP256, domain.AlgECDSAP384, domain.AlgECDSAP521:
		if len(sig)%2 != 0 {
			return nil, domain.NewError(domain.CodeSigningFailed, "pkcs11 returned odd-length ecdsa signature")
		}
		half := len(sig) / 2
		r := new(big.Int).SetBytes(sig[:half])
		s := new(big.Int).SetBytes(sig[half:])
		der, err := asn1.Marshal(struct{ R, S *big.Int }{r, s})
		if err != nil {
			return nil, domain.WrapError(domain.CodeSigningFailed, "encode ecdsa signature", err)
		}
		return der, nil
	}
	return sig, nil
}

// PublicKey reads the certificate object labeled like the key and returns its
// public key. Tokens that store bare public keys without a certificate are not
// supported.
func (m *Manager) PublicKey(_ context.Context, ref domain.SigningKeyRef) (crypto.PublicKey, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	cert, err := m.certificate(ref)
	if err != nil {
		return nil, err
	}
	return cert.PublicKey, nil
}

// Chain returns the single certificate stored on the token for the key.
func (m *Manager) Chain(_ context.Context, ref domain.SigningKeyRef) ([]*x509.Certificate, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	cert, err := m.certificate(ref)
	if err != nil {
		return nil, err
	}
	return []*x509.Certificate{cert}, nil
}

func (m *Manager) certificate(ref domain.SigningKeyRef) (*x509.Certificate, error) {
	ctx, session, err := m.session()
	if err != nil {
		return nil, err
	}
	defer ctx.CloseSession(session)

	obj, err := findObject(ctx, session, pkcs11.CKO_CERTIFICATE, ref.KeyID)
	if err != nil {
		return nil, err
	}
	attrs, err := ctx.GetAttributeValue(session, obj, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
	})
	if err != nil || len(attrs) == 0 {
		return nil, domain.WrapError(domain.CodeBackendUnavailable, "read pkcs11 certificate", err)
	}
	cert, err := x509.ParseCertificate(attrs[0].Value)
	if err != nil {
		return nil, domain.WrapError(domain.CodeKeyUnavailable, "parse pkcs11 certificate", err)
	}
	return cert, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx != nil {
		_ = m.ctx.Finalize()
		m.ctx.Destroy()
		m.ctx = nil
	}
	m.loaded = false
	return nil
}
