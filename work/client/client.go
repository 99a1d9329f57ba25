package client

import (
	"net/http"
	"time"

	"kptv-player/work/config"
)

// HeaderSettingClient wraps http.Client to automatically apply the
// configured User-Agent, Origin and Referer headers on every outbound
// request. Panels and relays routinely reject requests without a
// browser-looking User-Agent, so all upstream traffic goes through this.
type HeaderSettingClient struct {
	Client *http.Client
	config *config.Config
}

// New builds a HeaderSettingClient tuned for long-lived streaming
// connections: no overall timeout (a live feed never completes), but a
// bounded response-header timeout so dead upstreams are detected quickly.
func New(cfg *config.Config) *HeaderSettingClient {
	client := &http.Client{
		Timeout: 0, // No overall timeout for streaming
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DisableKeepAlives:     false,
			ResponseHeaderTimeout: 30 * time.Second, // Only timeout for headers
		},
	}

	return &HeaderSettingClient{
		Client: client,
		config: cfg,
	}
}

// Do applies the configured headers and performs the request.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", hsc.config.UserAgent)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Accept", "*/*")

	if hsc.config.ReqOrigin != "" {
		req.Header.Set("Origin", hsc.config.ReqOrigin)
	}
	if hsc.config.ReqReferrer != "" {
		req.Header.Set("Referer", hsc.config.ReqReferrer)
	}
}
