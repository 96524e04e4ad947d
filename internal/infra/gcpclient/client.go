package gcpclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/config"
)

// Client speaks the Cloud KMS REST surface with a bearer token.
type Client struct {
	endpoint   string
	projectID  string
	token      string
	httpClient *http.Client
}

func New(endpoint, projectID, token string) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		projectID:  projectID,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func NewFromConfig(cfg config.Config) (*Client, error) {
	if cfg.GCPProjectID == "" || cfg.GCPAccessToken == "" {
		return nil, errors.New("GCP_PROJECT_ID and GCP_ACCESS_TOKEN are required")
	}
	endpoint := cfg.GCPKMSEndpoint
	if endpoint == "" {
		endpoint = "https://cloudkms.googleapis.com"
	}
	return New(endpoint, cfg.GCPProjectID, cfg.GCPAccessToken), nil
}

// AsymmetricSign signs a digest with the named key version. keyPath is the
// full resource path below the project (location/keyRing/cryptoKey/version).
func (c *Client) AsymmetricSign(ctx context.Context, keyPath string, digestField string, digest []byte) ([]byte, error) {
	if keyPath == "" {
		return nil, errors.New("key path is required")
	}
	payload := map[string]any{
		"digest": map[string]string{
			digestField: base64.StdEncoding.EncodeToString(digest),
		},
	}
	path := fmt.Sprintf("/v1/projects/%s/%s:asymmetricSign", c.projectID, keyPath)
	body, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Signature == "" {
		return nil, errors.New("signature missing from kms response")
	}
	return base64.StdEncoding.DecodeString(resp.Signature)
}

// GetPublicKey fetches the PEM public key of a key version.
func (c *Client) GetPublicKey(ctx context.Context, keyPath string) (string, error) {
	if keyPath == "" {
		return "", errors.New("key path is required")
	}
	path := fmt.Sprintf("/v1/projects/%s/%s/publicKey", c.projectID, keyPath)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		PEM string `json:"pem"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	if resp.PEM == "" {
		return "", errors.New("pem missing from kms response")
	}
	return resp.PEM, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c == nil {
		return nil, errors.New("gcp client is nil")
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
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
		return nil, fmt.Errorf("gcp kms failed: status %d", resp.StatusCode)
	}
	return respBody, nil
}
