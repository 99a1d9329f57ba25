package xtream

import (
	"context"
	"fmt"
	"sync"

	"kptv-player/work/utils"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// probeResult is one server's answer during the account-add fan-out.
type probeResult struct {
	creds Credentials
	ok    bool
}

// ProbeServers races the authenticate call against every candidate panel
// origin concurrently and accepts the first (in configured server order)
// that reports an authenticated status. Used only at account-add time,
// when the user's login could live on any of the known servers.
//
// Credentials are read-only shared state across the concurrent probes; no
// locking is needed beyond the result map. If no server accepts the login,
// a single generic invalid-login failure is returned — the caller cannot
// and should not distinguish which server or relay failed.
func (c *Client) ProbeServers(ctx context.Context, pool *ants.Pool, servers []string, username, password string) (Credentials, error) {
	if len(servers) == 0 {
		return Credentials{}, fmt.Errorf("%w: no servers configured", ErrTransportUnreachable)
	}

	results := xsync.NewMapOf[string, probeResult]()
	var wg sync.WaitGroup

	for _, server := range servers {
		server := server
		wg.Add(1)

		task := func() {
			defer wg.Done()

			creds := Credentials{
				BaseURL:       NormalizeBaseURL(server),
				Username:      username,
				Password:      password,
				PreferredPath: c.cfg.PreferredPath,
			}

			_, err := c.Authenticate(ctx, creds)
			results.Store(server, probeResult{creds: creds, ok: err == nil})

			if err != nil && c.cfg.Debug {
				c.log.Debug("{xtream - ProbeServers} %s rejected login: %v", utils.LogURL(c.cfg, creds.BaseURL), err)
			}
		}

		// Fall back to inline execution if the pool is saturated or
		// released; the probe must still cover every server.
		if pool == nil || pool.Submit(task) != nil {
			go task()
		}
	}

	wg.Wait()

	// First success in configured server order wins, keeping the outcome
	// deterministic regardless of which probe finished first.
	for _, server := range servers {
		if res, found := results.Load(server); found && res.ok {
			return res.creds, nil
		}
	}

	return Credentials{}, fmt.Errorf("%w: login rejected by all servers", ErrInvalidCredentials)
}
