package tsa

import (
	"bytes"
	"context"
	"encoding/asn1"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallstep/pkcs7"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

const (
	contentTypeQuery = "application/timestamp-query"
	contentTypeReply = "application/timestamp-reply"
)

// AuditSink receives one append-only record per timestamp operation. Nil
// sinks are allowed; recording failures never affect the operation itself.
type AuditSink interface {
	Record(ctx context.Context, operation string, result map[string]any, success bool, errMsg string)
}

// Client talks RFC 3161 over HTTP. One Client serves any number of
// authorities; the URL arrives per call.
type Client struct {
	httpClient *http.Client
	sink       AuditSink
	clock      func() time.Time
}

func NewClient(sink AuditSink) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sink:       sink,
		clock:      time.Now,
	}
}

func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

func (c *Client) WithClock(clock func() time.Time) *Client {
	c.clock = clock
	return c
}

func (c *Client) record(ctx context.Context, operation string, result map[string]any, success bool, errMsg string) {
	if c.sink == nil {
		return
	}
	c.sink.Record(ctx, operation, result, success, errMsg)
}

// Request submits a query to one authority and decodes the reply. A reply
// whose status is not granted is a rejection error; transport problems come
// back as retryable network or timeout errors.
func (c *Client) Request(ctx context.Context, authorityURL string, req *domain.TimestampRequest) (*domain.TimestampResponse, error) {
	if req == nil || len(req.Raw) == 0 {
		return nil, domain.NewError(domain.CodeInvalidConfig, "timestamp request is empty")
	}
	req.State = domain.TimestampSent

	resp, err := c.post(ctx, authorityURL, req.Raw)
	if err != nil {
		c.record(ctx, "timestamp_request", map[string]any{"authority": authorityURL}, false, err.Error())
		return nil, err
	}

	decoded, err := DecodeResponse(resp, authorityURL)
	if err != nil {
		req.State = domain.TimestampRejected
		c.record(ctx, "timestamp_request", map[string]any{"authority": authorityURL}, false, err.Error())
		return nil, err
	}

	switch decoded.Status {
	case domain.TimestampStatusGranted:
		req.State = domain.TimestampGranted
	case domain.TimestampStatusGrantedWithMods:
		req.State = domain.TimestampGrantedWithMods
	default:
		req.State = domain.TimestampRejected
		err := domain.Errorf(domain.CodeTimestampRejected,
			"authority %s rejected the request: status %d %s", authorityURL, decoded.Status, decoded.StatusString)
		c.record(ctx, "timestamp_request", map[string]any{
			"authority": authorityURL,
			"status":    decoded.Status,
		}, false, err.Error())
		return nil, err
	}

	c.record(ctx, "timestamp_request", map[string]any{
		"authority": authorityURL,
		"status":    decoded.Status,
		"serial":    decoded.Token.SerialNumber.String(),
		"gen_time":  decoded.Token.GenerationTime.Format(time.RFC3339),
	}, true, "")
	return decoded, nil
}

func (c *Client) post(ctx context.Context, authorityURL string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, authorityURL, bytes.NewReader(body))
	if err != nil {
		return nil, domain.WrapError(domain.CodeInvalidConfig, "build timestamp request", err)
	}
	httpReq.Header.Set("Content-Type", contentTypeQuery)
	httpReq.Header.Set("Accept", contentTypeReply)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil || strings.Contains(err.Error(), "context deadline exceeded") {
			return nil, domain.WrapError(domain.CodeTimeout, "timestamp authority "+authorityURL+" timed out", err)
		}
		return nil, domain.WrapError(domain.CodeNetwork, "reach timestamp authority "+authorityURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.WrapError(domain.CodeNetwork, "read timestamp reply", err)
	}
	if resp.StatusCode != http.StatusOK {
		code := domain.CodeBackendUnavailable
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			code = domain.CodeTimestampRejected
		}
		return nil, domain.Errorf(code, "authority %s answered status %d", authorityURL, resp.StatusCode)
	}
	return raw, nil
}

// DecodeResponse parses a raw TimeStampResp from authorityURL.
func DecodeResponse(raw []byte, authorityURL string) (*domain.TimestampResponse, error) {
	var resp timeStampResp
	if _, err := asn1.Unmarshal(raw, &resp); err != nil {
		return nil, domain.WrapError(domain.CodeTimestampMalformed, "decode timestamp reply", err)
	}
	out := &domain.TimestampResponse{
		Status:       resp.Status.Status,
		StatusString: string(resp.Status.StatusString.Bytes),
		Raw:          raw,
		Authority:    authorityURL,
	}
	if !out.Granted() {
		return out, nil
	}
	if len(resp.Token.FullBytes) == 0 {
		return nil, domain.NewError(domain.CodeTimestampMalformed, "granted reply carries no token")
	}
	token, err := ParseToken(resp.Token.FullBytes)
	if err != nil {
		return nil, err
	}
	out.Token = token
	return out, nil
}

// ParseToken decodes a timestamp token: a CMS SignedData wrapping a TSTInfo.
func ParseToken(raw []byte) (*domain.TimestampToken, error) {
	p7, err := pkcs7.Parse(raw)
	if err != nil {
		return nil, domain.WrapError(domain.CodeTimestampMalformed, "parse timestamp token", err)
	}
	var info tstInfo
	if _, err := asn1.Unmarshal(p7.Content, &info); err != nil {
		return nil, domain.WrapError(domain.CodeTimestampMalformed, "decode tstinfo", err)
	}
	hashAlg, ok := hashForOID(info.MessageImprint.HashAlgorithm.Algorithm)
	if !ok {
		return nil, domain.Errorf(domain.CodeTimestampMalformed,
			"token uses unknown imprint algorithm %s", info.MessageImprint.HashAlgorithm.Algorithm)
	}
	return &domain.TimestampToken{
		PolicyOID: info.Policy.String(),
		Imprint: domain.MessageImprint{
			HashAlgorithm: hashAlg,
			HashedMessage: info.MessageImprint.HashedMessage,
		},
		SerialNumber:    info.SerialNumber,
		GenerationTime:  info.GenTime,
		AccuracySeconds: info.Accuracy.Seconds,
		AccuracyMillis:  info.Accuracy.Millis,
		AccuracyMicros:  info.Accuracy.Micros,
		Nonce:           info.Nonce,
		Certificates:    p7.Certificates,
		Raw:             raw,
	}, nil
}

// RequestWithFailover walks the authority list front to back until one grants
// the request. Each attempt runs under AttemptTimeout; the whole walk shares
// the FailoverTimeout deadline, so a slow primary eats into the time left for
// fallbacks. When everything fails, the returned error names every authority
// tried and what it answered.
func (c *Client) RequestWithFailover(ctx context.Context, cfg domain.FailoverConfig, req *domain.TimestampRequest) (*domain.TimestampResponse, error) {
	authorities := cfg.Authorities()
	if len(authorities) == 0 {
		return nil, domain.NewError(domain.CodeInvalidConfig, "no timestamp authorities configured")
	}
	maxAttempts := cfg.MaxFailoverAttempts
	if maxAttempts <= 0 || maxAttempts > len(authorities) {
		maxAttempts = len(authorities)
	}

	if cfg.FailoverTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.FailoverTimeout)
		defer cancel()
	}

	var attempts []string
	for i := 0; i < maxAttempts; i++ {
		authority := authorities[i]
		if ctx.Err() != nil {
			attempts = append(attempts, fmt.Sprintf("%s: failover deadline exhausted", authority))
			break
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
		}
		resp, err := c.Request(attemptCtx, authority, req)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return resp, nil
		}
		attempts = append(attempts, fmt.Sprintf("%s: %v", authority, err))
	}

	err := domain.Errorf(domain.CodeTimestampExhausted,
		"all timestamp authorities failed: %s", strings.Join(attempts, "; "))
	c.record(ctx, "timestamp_failover", map[string]any{
		"authorities": authorities,
		"attempts":    attempts,
	}, false, err.Error())
	return nil, err
}
