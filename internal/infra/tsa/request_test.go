package tsa

import (
	"bytes"
	"encoding/asn1"
	"testing"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

func TestBuildRequestDefaults(t *testing.T) {
	data := []byte("timestamp me")
	req, err := BuildRequest(data, domain.TimestampRequestOptions{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if req.State != domain.TimestampBuilt {
		t.Fatalf("state = %s", req.State)
	}
	if req.Imprint.HashAlgorithm != domain.HashSHA256 {
		t.Fatalf("hash = %s", req.Imprint.HashAlgorithm)
	}
	if !bytes.Equal(req.Imprint.HashedMessage, domain.HashSHA256.Sum(data)) {
		t.Fatal("imprint is not the sha256 of the data")
	}
	if req.Nonce != nil {
		t.Fatal("nonce present without IncludeNonce")
	}

	var decoded timeStampReq
	if _, err := asn1.Unmarshal(req.Raw, &decoded); err != nil {
		t.Fatalf("decode encoded request: %v", err)
	}
	if decoded.Version != 1 {
		t.Fatalf("version = %d", decoded.Version)
	}
	if !bytes.Equal(decoded.MessageImprint.HashedMessage, req.Imprint.HashedMessage) {
		t.Fatal("encoded imprint differs from the tracked one")
	}
	if decoded.CertReq {
		t.Fatal("certReq set without RequestCertificate")
	}
}

func TestBuildRequestNonceAndCertReq(t *testing.T) {
	req, err := BuildRequest([]byte("data"), domain.TimestampRequestOptions{
		IncludeNonce:       true,
		RequestCertificate: true,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if req.Nonce == nil || req.Nonce.Sign() == 0 {
		t.Fatal("nonce missing or zero")
	}
	var decoded timeStampReq
	if _, err := asn1.Unmarshal(req.Raw, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Nonce == nil || decoded.Nonce.Cmp(req.Nonce) != 0 {
		t.Fatal("encoded nonce does not match the tracked nonce")
	}
	if !decoded.CertReq {
		t.Fatal("certReq not encoded")
	}
}

func TestBuildRequestNoncesDiffer(t *testing.T) {
	a, _ := BuildRequest([]byte("data"), domain.TimestampRequestOptions{IncludeNonce: true})
	b, _ := BuildRequest([]byte("data"), domain.TimestampRequestOptions{IncludeNonce: true})
	if a.Nonce.Cmp(b.Nonce) == 0 {
		t.Fatal("two requests drew the same nonce")
	}
}

func TestBuildRequestPolicyOID(t *testing.T) {
	req, err := BuildRequest([]byte("data"), domain.TimestampRequestOptions{PolicyOID: "1.3.6.1.4.1.13762.3"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var decoded timeStampReq
	if _, err := asn1.Unmarshal(req.Raw, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.ReqPolicy.Equal(testPolicy) {
		t.Fatalf("policy = %s", decoded.ReqPolicy)
	}

	if _, err := BuildRequest([]byte("data"), domain.TimestampRequestOptions{PolicyOID: "not-an-oid"}); err == nil {
		t.Fatal("invalid policy oid accepted")
	}
}

func TestBuildRequestSHA512(t *testing.T) {
	data := []byte("data")
	req, err := BuildRequest(data, domain.TimestampRequestOptions{HashAlgorithm: domain.HashSHA512})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !bytes.Equal(req.Imprint.HashedMessage, domain.HashSHA512.Sum(data)) {
		t.Fatal("imprint is not the sha512 of the data")
	}
	var decoded timeStampReq
	if _, err := asn1.Unmarshal(req.Raw, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.MessageImprint.HashAlgorithm.Algorithm.Equal(hashOIDs[domain.HashSHA512]) {
		t.Fatalf("algorithm oid = %s", decoded.MessageImprint.HashAlgorithm.Algorithm)
	}
}
