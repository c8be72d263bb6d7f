// Package shopify implements the MetafieldClient and OAuthProvider ports
// against the Shopify Admin REST API.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ericfisherdev/ratingsync/internal/domain/model"
	"github.com/ericfisherdev/ratingsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.MetafieldClient = (*Client)(nil)

const (
	// DefaultAPIVersion is the Admin API version used when none is configured.
	DefaultAPIVersion = "2025-01"

	accessTokenHeader = "X-Shopify-Access-Token"
	maxErrorBody      = 4 << 10
	maxResponseBody   = 1 << 20
)

// Request outcomes reported to the RequestRecorder.
const (
	OutcomeOK             = "ok"
	OutcomeHTTPError      = "http_error"
	OutcomeTransportError = "transport_error"
)

// RequestRecorder receives one observation per outbound Admin API call.
type RequestRecorder interface {
	ShopifyRequest(op model.RemoteOp, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ShopifyRequest(model.RemoteOp, string) {}

// Options configures a Client.
type Options struct {
	APIVersion string
	Timeout    time.Duration
	// RPS and Burst pace outbound calls per shop. RPS <= 0 disables pacing.
	RPS   float64
	Burst int
}

// Client implements driven.MetafieldClient. It never retries: a failed call
// surfaces as a *model.RemoteError and the caller decides what to do.
type Client struct {
	httpClient *http.Client
	apiVersion string
	shopURL    func(shop string) string
	limiters   *limiterSet
	recorder   RequestRecorder
	logger     *slog.Logger
}

// NewClient creates a Client that talks to https://{shop}.
func NewClient(opts Options, recorder RequestRecorder, logger *slog.Logger) *Client {
	return newClient(NewHTTPClient(opts.Timeout), func(shop string) string {
		return "https://" + shop
	}, opts, recorder, logger)
}

// NewClientWithBaseURL routes every shop to baseURL. This constructor is
// intended for testing, allowing injection of an httptest server.
func NewClientWithBaseURL(httpClient *http.Client, baseURL string, opts Options, recorder RequestRecorder) *Client {
	return newClient(httpClient, func(string) string { return baseURL }, opts, recorder, nil)
}

func newClient(httpClient *http.Client, shopURL func(string) string, opts Options, recorder RequestRecorder, logger *slog.Logger) *Client {
	if opts.APIVersion == "" {
		opts.APIVersion = DefaultAPIVersion
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		apiVersion: opts.APIVersion,
		shopURL:    shopURL,
		limiters:   newLimiterSet(opts.RPS, opts.Burst),
		recorder:   recorder,
		logger:     logger,
	}
}

// NewHTTPClient returns an http.Client with a pooled transport and an overall
// request timeout. A zero timeout falls back to 15 seconds.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// metafieldJSON is the wire shape of a metafield in both directions.
// Value is raw because Shopify returns json-typed fields as strings and
// numeric types as either strings or bare numbers depending on API version.
type metafieldJSON struct {
	Namespace     string          `json:"namespace"`
	Key           string          `json:"key"`
	Value         json.RawMessage `json:"value"`
	Type          string          `json:"type"`
	OwnerResource string          `json:"owner_resource,omitempty"`
	OwnerID       any             `json:"owner_id,omitempty"`
}

type metafieldListResponse struct {
	Metafields []metafieldJSON `json:"metafields"`
}

type metafieldRequest struct {
	Metafield metafieldJSON `json:"metafield"`
}

// GetField reads a single product metafield. A field that does not exist is
// reported as found=false with a nil error.
func (c *Client) GetField(ctx context.Context, cred model.Credential, ref model.MetafieldRef) (string, bool, error) {
	q := url.Values{}
	q.Set("namespace", ref.Namespace)
	q.Set("key", ref.Key)
	endpoint := fmt.Sprintf("%s/admin/api/%s/products/%s/metafields.json?%s",
		c.shopURL(cred.ShopDomain), c.apiVersion, url.PathEscape(string(ref.OwnerID)), q.Encode())

	body, err := c.do(ctx, cred, model.RemoteRead, ref, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", false, err
	}

	var list metafieldListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return "", false, &model.RemoteError{Op: model.RemoteRead, Ref: ref, Err: fmt.Errorf("decode metafields: %w", err)}
	}

	for _, mf := range list.Metafields {
		if mf.Namespace != ref.Namespace || mf.Key != ref.Key {
			continue
		}
		value, err := rawValue(mf.Value)
		if err != nil {
			return "", false, &model.RemoteError{Op: model.RemoteRead, Ref: ref, Err: err}
		}
		return value, true, nil
	}
	return "", false, nil
}

// SetField creates or overwrites a product metafield.
func (c *Client) SetField(ctx context.Context, cred model.Credential, field model.Metafield) error {
	value, err := json.Marshal(field.Value)
	if err != nil {
		return fmt.Errorf("encode metafield value: %w", err)
	}
	payload, err := json.Marshal(metafieldRequest{Metafield: metafieldJSON{
		Namespace:     field.Ref.Namespace,
		Key:           field.Ref.Key,
		Value:         value,
		Type:          string(field.Type),
		OwnerResource: "product",
		OwnerID:       ownerID(field.Ref.OwnerID),
	}})
	if err != nil {
		return fmt.Errorf("encode metafield request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/admin/api/%s/metafields.json", c.shopURL(cred.ShopDomain), c.apiVersion)
	_, err = c.do(ctx, cred, model.RemoteWrite, field.Ref, http.MethodPost, endpoint, payload)
	return err
}

func (c *Client) do(ctx context.Context, cred model.Credential, op model.RemoteOp, ref model.MetafieldRef, method, endpoint string, payload []byte) ([]byte, error) {
	if err := c.limiters.get(cred.ShopDomain).Wait(ctx); err != nil {
		return nil, &model.RemoteError{Op: op, Ref: ref, Err: fmt.Errorf("waiting for rate limiter: %w", err)}
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, &model.RemoteError{Op: op, Ref: ref, Err: err}
	}
	req.Header.Set(accessTokenHeader, cred.AccessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recorder.ShopifyRequest(op, OutcomeTransportError)
		return nil, &model.RemoteError{Op: op, Ref: ref, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("shopify request",
		"method", method,
		"shop", cred.ShopDomain,
		"field", ref.String(),
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)
	logCallLimit(c.logger, resp, cred.ShopDomain)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.recorder.ShopifyRequest(op, OutcomeHTTPError)
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &model.RemoteError{Op: op, Ref: ref, StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		c.recorder.ShopifyRequest(op, OutcomeTransportError)
		return nil, &model.RemoteError{Op: op, Ref: ref, Err: fmt.Errorf("read response: %w", err)}
	}
	c.recorder.ShopifyRequest(op, OutcomeOK)
	return body, nil
}

// rawValue unquotes JSON strings and passes any other JSON scalar through as
// its literal text.
func rawValue(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode metafield value: %w", err)
		}
		return s, nil
	}
	return string(raw), nil
}

// ownerID sends numeric product IDs as JSON numbers and anything else as a string.
func ownerID(id model.ProductID) any {
	if _, err := strconv.ParseUint(string(id), 10, 64); err == nil {
		return json.Number(id)
	}
	return string(id)
}

// logCallLimit warns when the shop's REST bucket is nearly full. The header
// looks like "32/40".
func logCallLimit(logger *slog.Logger, resp *http.Response, shop string) {
	limit := resp.Header.Get("X-Shopify-Shop-Api-Call-Limit")
	if limit == "" {
		return
	}
	var used, capacity int
	if _, err := fmt.Sscanf(limit, "%d/%d", &used, &capacity); err != nil || capacity == 0 {
		return
	}
	if used*10 >= capacity*8 {
		logger.Warn("shopify call limit nearly exhausted", "shop", shop, "used", used, "capacity", capacity)
	}
}

// limiterSet hands out one token bucket per shop. Shops are bounded by the
// number of installs, so entries are never evicted.
type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newLimiterSet(rps float64, burst int) *limiterSet {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &limiterSet{limiters: make(map[string]*rate.Limiter), limit: limit, burst: burst}
}

func (s *limiterSet) get(shop string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limiters[shop]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[shop] = l
	}
	return l
}
