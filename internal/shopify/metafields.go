package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAPIVersion = "2024-07"
	defaultNamespace  = "custom"
	defaultKey        = "discountconfigdata"

	accessTokenHeader = "X-Shopify-Access-Token"
)

var (
	// ErrRejected indicates the Shopify Admin API refused the metafield write.
	ErrRejected = errors.New("shopify: metafield write rejected")
	// ErrUnavailable indicates a transport failure or Shopify server error.
	ErrUnavailable = errors.New("shopify: admin api unavailable")
)

// MetafieldClient publishes discount configuration payloads to a shop
// metafield over the Admin REST API. Each call authenticates with the
// caller-supplied access token; nothing is retried.
type MetafieldClient struct {
	httpClient *http.Client
	apiVersion string
	namespace  string
	key        string
}

// ClientOption customises the metafield client.
type ClientOption func(*MetafieldClient)

// WithHTTPClient overrides the HTTP client used for Admin API calls.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *MetafieldClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithAPIVersion overrides the Admin API version segment.
func WithAPIVersion(version string) ClientOption {
	return func(c *MetafieldClient) {
		if trimmed := strings.TrimSpace(version); trimmed != "" {
			c.apiVersion = trimmed
		}
	}
}

// WithMetafieldKey overrides the namespace and key the payload is stored under.
func WithMetafieldKey(namespace, key string) ClientOption {
	return func(c *MetafieldClient) {
		if trimmed := strings.TrimSpace(namespace); trimmed != "" {
			c.namespace = trimmed
		}
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			c.key = trimmed
		}
	}
}

// NewMetafieldClient constructs a client with sane timeouts.
func NewMetafieldClient(opts ...ClientOption) *MetafieldClient {
	client := &MetafieldClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiVersion: defaultAPIVersion,
		namespace:  defaultNamespace,
		key:        defaultKey,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

type metafieldRequest struct {
	Metafield metafieldBody `json:"metafield"`
}

type metafieldBody struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Type      string `json:"type"`
	Value     string `json:"value"`
}

// Publish writes the payload to the shop's discount configuration metafield.
func (c *MetafieldClient) Publish(ctx context.Context, shopDomain, accessToken string, payload []byte) error {
	shopDomain = strings.TrimSpace(shopDomain)
	if shopDomain == "" {
		return fmt.Errorf("%w: shop domain is required", ErrRejected)
	}
	if strings.TrimSpace(accessToken) == "" {
		return fmt.Errorf("%w: access token is required", ErrRejected)
	}

	body, err := json.Marshal(metafieldRequest{Metafield: metafieldBody{
		Namespace: c.namespace,
		Key:       c.key,
		Type:      "json",
		Value:     string(payload),
	}})
	if err != nil {
		return fmt.Errorf("shopify: marshal metafield: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s/admin/api/%s/metafields.json", shopDomain, c.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("shopify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(accessTokenHeader, strings.TrimSpace(accessToken))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail := readErrorDetail(resp.Body)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		if detail != "" {
			return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, detail)
		}
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
}

// readErrorDetail extracts the errors field from an Admin API error body.
func readErrorDetail(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}

	var parsed struct {
		Errors any `json:"errors"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil || parsed.Errors == nil {
		return strings.TrimSpace(string(data))
	}
	switch v := parsed.Errors.(type) {
	case string:
		return v
	default:
		rendered, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(rendered)
	}
}
