package trust

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultKeyserver is the HKP keyserver used when none is configured.
	DefaultKeyserver = "https://keys.openpgp.org"

	defaultHTTPTimeout = 30 * time.Second
	maxKeySize         = 1 << 20 // 1 MB
)

// ErrKeyNotFound is returned when the keyserver has no key for an id.
var ErrKeyNotFound = errors.New("key not found")

// KeySource looks up public key material for a key id.
type KeySource interface {
	Lookup(ctx context.Context, id KeyID) ([]byte, error)
}

// HKPClient looks up keys on an HKP keyserver.
type HKPClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// HKPOption is a functional option for configuring an HKPClient.
type HKPOption func(*HKPClient)

// WithKeyserverURL sets the keyserver base URL.
func WithKeyserverURL(u string) HKPOption {
	return func(c *HKPClient) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithKeyserverHTTPClient sets the HTTP client used for lookups.
func WithKeyserverHTTPClient(hc *http.Client) HKPOption {
	return func(c *HKPClient) { c.httpClient = hc }
}

// WithLookupRate limits lookups to requestsPerMin using a token bucket.
// Zero means unlimited.
func WithLookupRate(requestsPerMin int) HKPOption {
	return func(c *HKPClient) {
		if requestsPerMin <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMin)/60.0), requestsPerMin)
	}
}

// NewHKPClient creates an HKPClient. Defaults: DefaultKeyserver, 30s timeout,
// no rate limit.
func NewHKPClient(opts ...HKPOption) *HKPClient {
	c := &HKPClient{
		baseURL:    DefaultKeyserver,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup fetches the armored key for id with op=get.
func (c *HKPClient) Lookup(ctx context.Context, id KeyID) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for keyserver rate limit: %w", err)
		}
	}

	q := url.Values{}
	q.Set("op", "get")
	q.Set("options", "mr")
	q.Set("search", "0x"+string(id))
	endpoint := c.baseURL + "/pks/lookup?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying keyserver: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, id)
	default:
		return nil, fmt.Errorf("keyserver returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySize))
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, id)
	}
	return body, nil
}
