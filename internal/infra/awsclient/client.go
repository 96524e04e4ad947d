package awsclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/config"
)

const (
	awsServiceKMS   = "kms"
	awsTargetPrefix = "TrentService."
)

// Client speaks the AWS KMS JSON protocol with hand-rolled SigV4, so the
// backend carries no cloud SDK.
type Client struct {
	endpoint     string
	region       string
	accessKey    string
	secretKey    string
	sessionToken string
	httpClient   *http.Client
	clock        func() time.Time
}

func New(endpoint, region, accessKey, secretKey, sessionToken string) *Client {
	return &Client{
		endpoint:     strings.TrimRight(endpoint, "/"),
		region:       region,
		accessKey:    accessKey,
		secretKey:    secretKey,
		sessionToken: sessionToken,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		clock:        time.Now,
	}
}

func NewFromConfig(cfg config.Config) (*Client, error) {
	if cfg.AWSRegion == "" || cfg.AWSAccessKeyID == "" || cfg.AWSSecretAccessKey == "" {
		return nil, errors.New("AWS_REGION, AWS_ACCESS_KEY_ID, and AWS_SECRET_ACCESS_KEY are required")
	}
	endpoint := cfg.AWSKMSEndpoint
	if endpoint == "" {
		endpoint = "https://kms." + cfg.AWSRegion + ".amazonaws.com"
	}
	return New(endpoint, cfg.AWSRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, cfg.AWSSessionToken), nil
}

func (c *Client) WithClock(clock func() time.Time) *Client {
	if c == nil {
		return nil
	}
	c.clock = clock
	return c
}

// Sign submits a precomputed digest and returns the raw signature bytes.
func (c *Client) Sign(ctx context.Context, keyID string, digest []byte, signingAlgorithm string) ([]byte, error) {
	if keyID == "" {
		return nil, errors.New("key id is required")
	}
	body, err := c.do(ctx, "Sign", map[string]any{
		"KeyId":            keyID,
		"Message":          base64.StdEncoding.EncodeToString(digest),
		"MessageType":      "DIGEST",
		"SigningAlgorithm": signingAlgorithm,
	})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Signature string `json:"Signature"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Signature == "" {
		return nil, errors.New("signature missing from kms response")
	}
	return base64.StdEncoding.DecodeString(resp.Signature)
}

// GetPublicKey returns the DER-encoded SubjectPublicKeyInfo for keyID.
func (c *Client) GetPublicKey(ctx context.Context, keyID string) ([]byte, error) {
	if keyID == "" {
		return nil, errors.New("key id is required")
	}
	body, err := c.do(ctx, "GetPublicKey", map[string]any{"KeyId": keyID})
	if err != nil {
		return nil, err
	}
	var resp struct {
		PublicKey string `json:"PublicKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.PublicKey == "" {
		return nil, errors.New("public key missing from kms response")
	}
	return base64.StdEncoding.DecodeString(resp.PublicKey)
}

func (c *Client) do(ctx context.Context, target string, payload any) ([]byte, error) {
	if c == nil {
		return nil, errors.New("aws client is nil")
	}
	if c.endpoint == "" || c.region == "" || c.accessKey == "" || c.secretKey == "" {
		return nil, errors.New("aws client missing configuration")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-amz-json-1.1")
	req.Header.Set("X-Amz-Target", awsTargetPrefix+target)

	if c.clock == nil {
		c.clock = time.Now
	}
	now := c.clock().UTC()
	req.Header.Set("X-Amz-Date", now.Format("20060102T150405Z"))
	if c.sessionToken != "" {
		req.Header.Set("X-Amz-Security-Token", c.sessionToken)
	}

	if err := signRequest(req, body, c.region, c.accessKey, c.secretKey); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aws kms %s failed: status %d", target, resp.StatusCode)
	}
	return respBody, nil
}

func signRequest(req *http.Request, payload []byte, region, accessKey, secretKey string) error {
	parsed, err := url.Parse(req.URL.String())
	if err != nil {
		return err
	}
	if parsed.Host == "" {
		return errors.New("aws host missing")
	}
	req.Header.Set("Host", parsed.Host)

	amzDate := req.Header.Get("X-Amz-Date")
	if amzDate == "" {
		return errors.New("X-Amz-Date is required")
	}
	date := amzDate[:8]

	canonicalHeaders, signedHeaders := buildCanonicalHeaders(req.Header)
	canonicalRequest := strings.Join([]string{
		req.Method,
		"/",
		"",
		canonicalHeaders,
		signedHeaders,
		sha256Hex(payload),
	}, "\n")

	scope := date + "/" + region + "/" + awsServiceKMS + "/aws4_request"
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveSigningKey(secretKey, date, region, awsServiceKMS)
	signature := hmacHex(signingKey, []byte(stringToSign))
	req.Header.Set("Authorization", fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		accessKey, scope, signedHeaders, signature,
	))
	return nil
}

func buildCanonicalHeaders(headers http.Header) (string, string) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		lower := strings.ToLower(k)
		if lower == "authorization" {
			continue
		}
		keys = append(keys, lower)
	}
	sort.Strings(keys)
	var canonical strings.Builder
	for _, k := range keys {
		canonical.WriteString(k)
		canonical.WriteString(":")
		canonical.WriteString(strings.TrimSpace(headers.Get(k)))
		canonical.WriteString("\n")
	}
	return canonical.String(), strings.Join(keys, ";")
}

func deriveSigningKey(secretKey, date, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), []byte(date))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte("aws4_request"))
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func hmacHex(key, data []byte) string {
	return hex.EncodeToString(hmacSHA256(key, data))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
