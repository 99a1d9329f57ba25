package xtream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kptv-player/work/client"
	"kptv-player/work/config"
	"kptv-player/work/logger"
	"kptv-player/work/relay"
)

type pathHits struct {
	direct, r1, r2 atomic.Int64
}

// newRPCFixture wires a test panel with two relay paths. Each handler is
// scripted per test; relays forward nothing real, they just answer as the
// relay endpoint would.
func newRPCFixture(t *testing.T, direct, relay1, relay2 http.HandlerFunc) (*Client, string, *pathHits) {
	t.Helper()
	hits := &pathHits{}

	mux := http.NewServeMux()
	mux.HandleFunc("/panel/player_api.php", func(w http.ResponseWriter, r *http.Request) {
		hits.direct.Add(1)
		direct(w, r)
	})
	mux.HandleFunc("/r1", func(w http.ResponseWriter, r *http.Request) {
		hits.r1.Add(1)
		relay1(w, r)
	})
	mux.HandleFunc("/r2", func(w http.ResponseWriter, r *http.Request) {
		hits.r2.Add(1)
		relay2(w, r)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		UserAgent:  "test-agent",
		APITimeout: 5 * time.Second,
	}
	relays := relay.NewTable([]config.RelayConfig{
		{Name: "r1", Prefix: srv.URL + "/r1?u=", Style: "query"},
		{Name: "r2", Prefix: srv.URL + "/r2?u=", Style: "query"},
	})

	c := NewClient(client.New(cfg), cfg, relays, logger.New("error"))
	return c, srv.URL + "/panel/player_api.php", hits
}

func serveJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}

func serveStatus(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}
}

func TestGetJSONDirectSuccess(t *testing.T) {
	c, apiURL, hits := newRPCFixture(t,
		serveJSON(`{"ok":true}`), serveStatus(500), serveStatus(500))

	raw, err := c.GetJSON(context.Background(), apiURL, relay.Direct)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(raw))

	require.EqualValues(t, 1, hits.direct.Load())
	require.Zero(t, hits.r1.Load())
	require.Zero(t, hits.r2.Load())
}

func TestGetJSONInvalidCredentialsNeverRetried(t *testing.T) {
	c, apiURL, hits := newRPCFixture(t,
		serveStatus(500), serveStatus(401), serveJSON(`{"ok":true}`))

	_, err := c.GetJSON(context.Background(), apiURL, "r1")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	var pe *PathError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "r1", pe.Path)

	// the panel's credential verdict ends the line; r2 never gets asked
	require.EqualValues(t, 1, hits.r1.Load())
	require.Zero(t, hits.r2.Load())
}

func TestGetJSONHTMLPageFallsThroughToNextPath(t *testing.T) {
	c, apiURL, hits := newRPCFixture(t,
		serveStatus(500),
		serveJSON(`<!DOCTYPE html><html><body>relay quota exceeded</body></html>`),
		serveJSON(`[{"num":1}]`))

	raw, err := c.GetJSON(context.Background(), apiURL, "r1")
	require.NoError(t, err)
	require.JSONEq(t, `[{"num":1}]`, string(raw))

	require.EqualValues(t, 1, hits.r1.Load())
	require.EqualValues(t, 1, hits.r2.Load())
}

func TestGetJSONEmptyArrayIsValid(t *testing.T) {
	c, apiURL, _ := newRPCFixture(t,
		serveJSON(`[]`), serveStatus(500), serveStatus(500))

	raw, err := c.GetJSON(context.Background(), apiURL, relay.Direct)
	require.NoError(t, err)
	require.Equal(t, "[]", string(raw))
}

func TestGetJSONStripsBOM(t *testing.T) {
	c, apiURL, _ := newRPCFixture(t,
		serveJSON("\xef\xbb\xbf{\"ok\":1}"), serveStatus(500), serveStatus(500))

	raw, err := c.GetJSON(context.Background(), apiURL, relay.Direct)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":1}`, string(raw))
}

func TestGetJSONExhaustionReportsLastPath(t *testing.T) {
	c, apiURL, hits := newRPCFixture(t,
		serveStatus(500), serveJSON(""), serveJSON("not json at all"))

	_, err := c.GetJSON(context.Background(), apiURL, "r1")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMalformedResponse)

	var pe *PathError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "r2", pe.Path)

	require.EqualValues(t, 1, hits.r1.Load())
	require.EqualValues(t, 1, hits.r2.Load())
}

func TestAuthenticateAcceptsActiveStatus(t *testing.T) {
	c, apiURL, _ := newRPCFixture(t,
		serveJSON(`{"user_info":{"auth":0,"status":"Active"}}`),
		serveStatus(500), serveStatus(500))

	creds := credsFor(apiURL)
	resp, err := c.Authenticate(context.Background(), creds)
	require.NoError(t, err)
	require.NotNil(t, resp.UserInfo)
}

func TestAuthenticateRejectsExpiredWithStatusMessage(t *testing.T) {
	c, apiURL, _ := newRPCFixture(t,
		serveJSON(`{"user_info":{"auth":0,"status":"Expired"}}`),
		serveStatus(500), serveStatus(500))

	_, err := c.Authenticate(context.Background(), credsFor(apiURL))
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Contains(t, err.Error(), "Status: Expired")
}

func TestAuthenticatePrefersPanelMessage(t *testing.T) {
	c, apiURL, _ := newRPCFixture(t,
		serveJSON(`{"user_info":{"auth":0,"status":"Banned","message":"account suspended"}}`),
		serveStatus(500), serveStatus(500))

	_, err := c.Authenticate(context.Background(), credsFor(apiURL))
	require.Error(t, err)
	require.Contains(t, err.Error(), "account suspended")
}

// credsFor derives credentials whose player_api.php URL lands on the
// fixture's direct handler.
func credsFor(apiURL string) Credentials {
	base := apiURL[:len(apiURL)-len("/player_api.php")]
	return Credentials{
		BaseURL:       base,
		Username:      "u",
		Password:      "p",
		PreferredPath: relay.Direct,
	}
}
