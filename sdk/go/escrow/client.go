// Package escrow is a Go client for the escrowd settlement API. Requests are
// signed with the caller's secp256k1 key the way the server's signature
// middleware expects.
package escrow

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"AgentEscrow-Chain/internal/auth"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("escrow api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("escrow api error (%d): %s", e.StatusCode, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client calls the API on behalf of one account.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	key        *ecdsa.PrivateKey
	account    string
	now        func() time.Time
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithKey signs every request with key; the account becomes its address.
func WithKey(key *ecdsa.PrivateKey) Option {
	return func(c *Client) {
		c.key = key
		if key != nil {
			c.account = crypto.PubkeyToAddress(key.PublicKey).Hex()
		}
	}
}

// WithAccount sends account unsigned. Only servers in trusted mode accept it.
func WithAccount(account string) Option {
	return func(c *Client) {
		c.account = account
	}
}

// WithClock overrides the timestamp source used for signatures.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient builds a client for the API rooted at rawURL.
func NewClient(rawURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Account returns the account requests are made for.
func (c *Client) Account() string { return c.account }

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = encoded
	}
	return c.send(ctx, http.MethodPost, endpoint, body, out)
}

func (c *Client) put(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.send(ctx, http.MethodPut, endpoint, body, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return c.send(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *Client) send(ctx context.Context, method, endpoint string, body []byte, out any) error {
	rawPath, rawQuery, _ := strings.Cut(endpoint, "?")
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, rawPath)
	u.RawQuery = rawQuery

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authenticate(req, u.Path, body); err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) authenticate(req *http.Request, urlPath string, body []byte) error {
	if c.account == "" {
		return nil
	}
	req.Header.Set(auth.HeaderAccount, c.account)
	if c.key == nil {
		return nil
	}
	ts := c.now().Unix()
	sig, err := auth.Sign(c.key, auth.CanonicalMessage(req.Method, urlPath, ts, body))
	if err != nil {
		return err
	}
	req.Header.Set(auth.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(auth.HeaderSignature, sig)
	return nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		_ = json.Unmarshal(data, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
