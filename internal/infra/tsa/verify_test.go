package tsa

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

func parseTokenT(t *testing.T, raw []byte) *domain.TimestampToken {
	t.Helper()
	token, err := ParseToken(raw)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	return token
}

func TestVerifyResponseNilNeverErrors(t *testing.T) {
	client := NewClient(nil)
	result := client.VerifyResponse(nil, []byte("data"), nil)
	if result.Valid {
		t.Fatal("nil response verified")
	}
	if len(result.Errors) == 0 {
		t.Fatal("invalid result carries no errors")
	}
}

func TestVerifyResponseNotGranted(t *testing.T) {
	client := NewClient(nil)
	resp := &domain.TimestampResponse{Status: domain.TimestampStatusRejection}
	result := client.VerifyResponse(resp, []byte("data"), nil)
	if result.Valid || len(result.Errors) == 0 {
		t.Fatalf("rejection verified: %+v", result)
	}
}

func TestVerifyResponseGrantedWithoutToken(t *testing.T) {
	client := NewClient(nil)
	resp := &domain.TimestampResponse{Status: domain.TimestampStatusGranted}
	result := client.VerifyResponse(resp, []byte("data"), nil)
	if result.Valid || len(result.Errors) == 0 {
		t.Fatalf("tokenless grant verified: %+v", result)
	}
}

func TestVerifyResponseImprintMismatch(t *testing.T) {
	client := NewClient(nil)
	token := parseTokenT(t, issueToken(t, tokenSpec{data: []byte("other data")}))
	resp := &domain.TimestampResponse{Status: domain.TimestampStatusGranted, Token: token}
	result := client.VerifyResponse(resp, []byte("the real data"), nil)
	if result.Valid {
		t.Fatal("imprint mismatch verified")
	}
	if !containsSubstring(result.Errors, "imprint") {
		t.Fatalf("errors = %v", result.Errors)
	}
}

func TestVerifyResponseNonceNotEchoed(t *testing.T) {
	client := NewClient(nil)
	data := []byte("data")
	req, _ := BuildRequest(data, domain.TimestampRequestOptions{IncludeNonce: true})
	token := parseTokenT(t, issueToken(t, tokenSpec{data: data}))
	resp := &domain.TimestampResponse{Status: domain.TimestampStatusGranted, Token: token}

	result := client.VerifyResponse(resp, data, req)
	if result.Valid {
		t.Fatal("missing nonce echo verified")
	}
	if !containsSubstring(result.Errors, "nonce") {
		t.Fatalf("errors = %v", result.Errors)
	}
	if req.State != domain.TimestampVerificationFailedState {
		t.Fatalf("request state = %s", req.State)
	}
}

func TestVerifyResponseWrongNonce(t *testing.T) {
	client := NewClient(nil)
	data := []byte("data")
	req, _ := BuildRequest(data, domain.TimestampRequestOptions{IncludeNonce: true})
	token := parseTokenT(t, issueToken(t, tokenSpec{data: data, nonce: big.NewInt(999)}))
	resp := &domain.TimestampResponse{Status: domain.TimestampStatusGranted, Token: token}

	if result := client.VerifyResponse(resp, data, req); result.Valid {
		t.Fatal("wrong nonce verified")
	}
}

func TestVerifyResponseGenTimeOutsideResponderValidity(t *testing.T) {
	client := NewClient(nil)
	data := []byte("data")
	token := parseTokenT(t, issueToken(t, tokenSpec{data: data, genTime: time.Now().Add(240 * time.Hour)}))
	resp := &domain.TimestampResponse{Status: domain.TimestampStatusGranted, Token: token}

	result := client.VerifyResponse(resp, data, nil)
	if result.Valid {
		t.Fatal("generation time outside certificate validity verified")
	}
	if !containsSubstring(result.Errors, "generation time") {
		t.Fatalf("errors = %v", result.Errors)
	}
}

func TestVerifyResponseHappyPath(t *testing.T) {
	client := NewClient(nil)
	data := []byte("data")
	req, _ := BuildRequest(data, domain.TimestampRequestOptions{IncludeNonce: true})
	token := parseTokenT(t, issueToken(t, tokenSpec{data: data, nonce: req.Nonce}))
	resp := &domain.TimestampResponse{Status: domain.TimestampStatusGranted, Token: token}

	result := client.VerifyResponse(resp, data, req)
	if !result.Valid {
		t.Fatalf("valid timestamp rejected: %v", result.Errors)
	}
	if req.State != domain.TimestampVerified {
		t.Fatalf("request state = %s", req.State)
	}
}

func containsSubstring(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}
