package xtream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"kptv-player/work/client"
	"kptv-player/work/config"
	"kptv-player/work/logger"
	"kptv-player/work/metrics"
	"kptv-player/work/relay"
	"kptv-player/work/utils"

	"go.uber.org/ratelimit"
)

// Client performs panel RPC calls, transparently retrying across the
// configured relay paths. A path "wins" only when it yields a success-range
// HTTP status with a non-empty, non-HTML body that parses as JSON; every
// other outcome except a 401/403 verdict falls through to the next path.
type Client struct {
	httpClient *client.HeaderSettingClient
	cfg        *config.Config
	relays     *relay.Table
	limiter    ratelimit.Limiter
	log        *logger.Logger
}

// NewClient builds an RPC client. The rate limiter paces panel API calls
// so catalog refreshes cannot hammer a flaky self-hosted server.
func NewClient(httpClient *client.HeaderSettingClient, cfg *config.Config, relays *relay.Table, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		cfg:        cfg,
		relays:     relays,
		limiter:    ratelimit.New(10), // max 10 API calls/sec per panel
		log:        log,
	}
}

// Relays exposes the relay table for collaborators that wrap stream URLs.
func (c *Client) Relays() *relay.Table {
	return c.relays
}

// Authenticate performs the bare player_api.php call and evaluates the
// panel's verdict.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (*AuthResponse, error) {
	raw, err := c.GetJSON(ctx, BuildPlayerAPIURL(creds, "", nil), creds.PreferredPath)
	if err != nil {
		return nil, err
	}

	var resp AuthResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if !IsAuthOk(&resp) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, AuthErrorMessage(&resp))
	}
	return &resp, nil
}

// CallAPI performs a catalog/detail RPC action and returns the raw JSON.
func (c *Client) CallAPI(ctx context.Context, creds Credentials, action string, extra map[string]string) (json.RawMessage, error) {
	values := toValues(extra)
	return c.GetJSON(ctx, BuildPlayerAPIURL(creds, action, values), creds.PreferredPath)
}

// GetJSON fetches rawURL through the ordered network paths for the given
// preferred path, stopping at the first success. On exhaustion it returns
// the last-seen error annotated with the path that produced it.
func (c *Client) GetJSON(ctx context.Context, rawURL string, preferred string) (json.RawMessage, error) {
	paths := c.relays.PathsFor(preferred)

	var lastErr error
	for _, path := range paths {
		body, err := c.fetchOnce(ctx, path, rawURL)
		if err == nil {
			return body, nil
		}

		lastErr = &PathError{Path: path, Err: err}

		// A 401/403 is the panel's verdict on the credentials, not a
		// transport fault; no relay will change it.
		if isInvalidCredentials(err) {
			metrics.RPCFailures.WithLabelValues(path, "invalid_credentials").Inc()
			return nil, lastErr
		}

		metrics.RPCFailures.WithLabelValues(path, "fallthrough").Inc()
		if c.cfg.Debug {
			c.log.Debug("{xtream - GetJSON} path %s failed for %s: %v", path, utils.LogURL(c.cfg, rawURL), err)
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no network paths configured", ErrTransportUnreachable)
	}
	return nil, lastErr
}

// fetchOnce performs one attempt over one network path and classifies the
// outcome into the error taxonomy.
func (c *Client) fetchOnce(ctx context.Context, path string, rawURL string) (json.RawMessage, error) {
	c.limiter.Take()

	finalURL := c.relays.WrapURL(path, rawURL)

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.APITimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, finalURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnreachable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: HTTP %d", ErrInvalidCredentials, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d %s", ErrTransportUnreachable, resp.StatusCode, resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnreachable, err)
	}

	trimmed := strings.TrimSpace(stripBOM(string(raw)))

	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty response body", ErrMalformedResponse)
	}

	// Relays and misconfigured panels return HTML error pages with a 200;
	// those must never reach the JSON parser.
	if looksLikeHTML(trimmed) {
		return nil, fmt.Errorf("%w: HTML error page", ErrMalformedResponse)
	}

	// An empty-array literal is a valid answer for list endpoints.
	if trimmed == "[]" {
		return json.RawMessage("[]"), nil
	}

	if !json.Valid([]byte(trimmed)) {
		return nil, fmt.Errorf("%w: body is not JSON: %s", ErrMalformedResponse, truncate(trimmed, 140))
	}

	return json.RawMessage(trimmed), nil
}

// stripBOM drops a leading UTF-8 byte order mark, which some panels emit.
func stripBOM(s string) string {
	return strings.TrimPrefix(s, "\ufeff")
}

// looksLikeHTML heuristically detects HTML error pages.
func looksLikeHTML(s string) bool {
	t := strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(t, "<!doctype") ||
		strings.HasPrefix(t, "<html") ||
		strings.Contains(t, "<body")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func isInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// toValues converts a plain string map into url.Values.
func toValues(extra map[string]string) url.Values {
	if len(extra) == 0 {
		return nil
	}
	values := url.Values{}
	for k, v := range extra {
		values.Set(k, v)
	}
	return values
}
