package tsa

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/smallstep/pkcs7"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

var testPolicy = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 13762, 3}

type tokenSpec struct {
	data    []byte
	nonce   *big.Int
	genTime time.Time
	serial  int64
}

// issueToken builds a CMS-wrapped TSTInfo the way a real authority would,
// signed with a throwaway responder certificate.
func issueToken(t *testing.T, spec tokenSpec) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate responder key: %v", err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(now.UnixNano()),
		Subject:               pkix.Name{CommonName: "test tsa responder"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create responder certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse responder certificate: %v", err)
	}

	genTime := spec.genTime
	if genTime.IsZero() {
		genTime = now
	}
	serial := spec.serial
	if serial == 0 {
		serial = 42
	}
	info := tstInfo{
		Version: 1,
		Policy:  testPolicy,
		MessageImprint: messageImprint{
			HashAlgorithm: pkix.AlgorithmIdentifier{
				Algorithm:  hashOIDs[domain.HashSHA256],
				Parameters: asn1.RawValue{Tag: asn1.TagNull},
			},
			HashedMessage: domain.HashSHA256.Sum(spec.data),
		},
		SerialNumber: big.NewInt(serial),
		GenTime:      genTime.UTC().Truncate(time.Second),
		Nonce:        spec.nonce,
	}
	infoDER, err := asn1.Marshal(info)
	if err != nil {
		t.Fatalf("marshal tstinfo: %v", err)
	}

	sd, err := pkcs7.NewSignedData(infoDER)
	if err != nil {
		t.Fatalf("new signed data: %v", err)
	}
	if err := sd.AddSigner(cert, key, pkcs7.SignerInfoConfig{}); err != nil {
		t.Fatalf("add signer: %v", err)
	}
	token, err := sd.Finish()
	if err != nil {
		t.Fatalf("finish token: %v", err)
	}
	return token
}

func grantedResponse(t *testing.T, token []byte) []byte {
	t.Helper()
	raw, err := asn1.Marshal(timeStampResp{
		Status: pkiStatusInfo{Status: domain.TimestampStatusGranted},
		Token:  asn1.RawValue{FullBytes: token},
	})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return raw
}

func rejectionResponse(t *testing.T) []byte {
	t.Helper()
	raw, err := asn1.Marshal(timeStampResp{
		Status: pkiStatusInfo{Status: domain.TimestampStatusRejection},
	})
	if err != nil {
		t.Fatalf("marshal rejection: %v", err)
	}
	return raw
}

// memorySink collects audit records for assertions.
type memorySink struct {
	mu      sync.Mutex
	records []domain.TimestampAuditRecord
}

func (s *memorySink) Record(_ context.Context, operation string, result map[string]any, success bool, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, domain.TimestampAuditRecord{
		Operation: operation,
		Result:    result,
		Success:   success,
		Error:     errMsg,
	})
}

func (s *memorySink) byOperation(operation string) []domain.TimestampAuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TimestampAuditRecord
	for _, r := range s.records {
		if r.Operation == operation {
			out = append(out, r)
		}
	}
	return out
}
