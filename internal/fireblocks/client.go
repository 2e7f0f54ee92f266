package fireblocks

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/provider"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

// tokenLifetime is the validity of each request JWT. Fireblocks rejects
// tokens living longer than 30 seconds.
const tokenLifetime = 29 * time.Second

// Client performs signed REST calls against the Fireblocks API.
type Client struct {
	baseURL    string
	apiKey     string
	key        *rsa.PrivateKey
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP/2 client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithClock injects the time source used for token claims.
func WithClock(now func() time.Time) ClientOption {
	return func(cl *Client) { cl.now = now }
}

// NewClient builds a client from configuration. The private key is read
// from PrivateKeyPEM, or from PrivateKeyPath when the former is empty.
func NewClient(cfg models.FireblocksConfig, opts ...ClientOption) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, provider.NewAuth("fireblocks_init", "FIREBLOCKS_API_KEY is not set")
	}

	pemData := []byte(cfg.PrivateKeyPEM)
	if len(pemData) == 0 && cfg.PrivateKeyPath != "" {
		data, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read private key file: %w", err)
		}
		pemData = data
	}
	if len(pemData) == 0 {
		return nil, provider.NewAuth("fireblocks_init", "no Fireblocks private key configured")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemData)
	if err != nil {
		return nil, provider.NewAuth("fireblocks_init", "unable to parse private key: "+err.Error())
	}

	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		key:     key,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		hc, err := createCustomHttpClient()
		if err != nil {
			return nil, fmt.Errorf("unable to create custom http client: %w", err)
		}
		c.httpClient = hc
	}
	return c, nil
}

func createCustomHttpClient() (*http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, err
	}

	return &http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

// signToken builds the per-request JWT. uri is the path including the query.
func (c *Client) signToken(uri string, body []byte) (string, error) {
	sum := sha256.Sum256(body)
	now := c.now()
	claims := jwt.MapClaims{
		"uri":      uri,
		"nonce":    uuid.New().String(),
		"iat":      now.Unix(),
		"exp":      now.Add(tokenLifetime).Unix(),
		"sub":      c.apiKey,
		"bodyHash": hex.EncodeToString(sum[:]),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.key)
}

// apiError is the Fireblocks error body.
type apiError struct {
	Message string          `json:"message"`
	Code    json.RawMessage `json:"code"`
}

// do sends a signed request and decodes the JSON response into out.
// A non-empty idempotencyKey is sent as the Idempotency-Key header.
func (c *Client) do(ctx context.Context, op, method, path string, in any, idempotencyKey string, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return provider.NewUnavailable(op, err)
	}

	token, err := c.signToken(path, body)
	if err != nil {
		return provider.NewAuth(op, "unable to sign request: "+err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.NewUnavailable(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return provider.NewUnavailable(op, err)
	}

	zap.L().Debug("Fireblocks API call",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 300 {
		return classifyResponse(op, resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return provider.NewUnavailable(op, fmt.Errorf("malformed response: %w", err))
	}
	return nil
}

// classifyResponse maps an HTTP error to the provider taxonomy: 401 and
// 403 are Auth, 5xx is Unavailable, any other status is Rejected.
func classifyResponse(op string, status int, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	code := strings.Trim(string(ae.Code), `"`)
	if code == "" {
		code = fmt.Sprintf("http_%d", status)
	}
	msg := ae.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &provider.Error{Kind: provider.Auth, Op: op, Code: code, Message: msg}
	case status >= 500:
		return &provider.Error{Kind: provider.Unavailable, Op: op, Code: code, Message: msg}
	default:
		return provider.NewRejected(op, code, msg)
	}
}
