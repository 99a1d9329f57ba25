package xtream

import (
	"fmt"
	"net/url"
	"strings"

	regexp "github.com/grafana/regexp"
)

// Credentials is the full credential set for one authenticated panel
// session: the panel origin, the account and the preferred network path.
// Immutable once a session is authenticated; replaced wholesale when the
// user re-authenticates.
type Credentials struct {
	BaseURL       string // Panel origin, e.g. http://panel.example:8080
	Username      string
	Password      string
	PreferredPath string // "direct" or a relay name
}

// Identity returns the stable identity key for this credential set.
func (c Credentials) Identity() string {
	return c.BaseURL + "::" + c.Username
}

// ProfileName derives a human-readable display name for a saved login.
func (c Credentials) ProfileName() string {
	if u, err := url.Parse(c.BaseURL); err == nil && u.Host != "" {
		return fmt.Sprintf("%s • %s", c.Username, u.Host)
	}
	return fmt.Sprintf("%s • %s", c.Username, c.BaseURL)
}

// apiPathRegex strips pasted API endpoints (users paste full player_api.php
// or get.php URLs) when URL parsing is not possible.
var apiPathRegex = regexp.MustCompile(`(?i)/(?:player_api\.php|get\.php|xmltv\.php).*$`)

// NormalizeBaseURL reduces arbitrary user input to a bare panel origin.
// Users paste anything from "panel.example:8080" to full API URLs with
// query strings; only the origin may be kept, since every Xtream endpoint
// is built by appending well-known paths to it.
func NormalizeBaseURL(input string) string {
	raw := strings.TrimSpace(input)
	withProto := raw
	if !strings.Contains(raw, "://") {
		withProto = "http://" + raw
	}

	if u, err := url.Parse(withProto); err == nil && u.Host != "" {
		return u.Scheme + "://" + u.Host
	}

	// Best-effort cleanup when parsing fails
	cleaned := apiPathRegex.ReplaceAllString(withProto, "")
	return strings.TrimRight(cleaned, "/")
}

// BuildPlayerAPIURL constructs a player_api.php RPC URL. An empty action
// yields the bare authentication call.
func BuildPlayerAPIURL(creds Credentials, action string, extra url.Values) string {
	sp := url.Values{}
	sp.Set("username", creds.Username)
	sp.Set("password", creds.Password)
	if action != "" {
		sp.Set("action", action)
	}
	for k, vs := range extra {
		for _, v := range vs {
			sp.Set(k, v)
		}
	}
	return creds.BaseURL + "/player_api.php?" + sp.Encode()
}

// BuildStreamURL constructs a stream URL in the Xtream convention:
//
//	{origin}/{live|movie|series}/{user}/{pass}/{id}.{ext}
//
// An empty ext omits the extension entirely (some panels only answer the
// bare form).
func BuildStreamURL(creds Credentials, kind string, streamID string, ext string) string {
	base := strings.TrimRight(creds.BaseURL, "/")
	suffix := ""
	if ext != "" {
		suffix = "." + ext
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s%s",
		base, kind,
		url.PathEscape(creds.Username),
		url.PathEscape(creds.Password),
		url.PathEscape(streamID),
		suffix)
}

// FlexBool unmarshals the panel's auth flag, which appears as 1, 0, true,
// false, "1" or "0" depending on the panel build.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(strings.TrimSpace(string(data)), `"`) {
	case "1", "true":
		*b = true
	default:
		*b = false
	}
	return nil
}

// UserInfo is the user_info block of an authentication response.
type UserInfo struct {
	Auth     FlexBool `json:"auth"`
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	Username string   `json:"username"`
	Password string   `json:"password"`
}

// ServerInfo is the server_info block of an authentication response.
type ServerInfo struct {
	URL            string `json:"url"`
	Port           any    `json:"port"`
	HTTPSPort      any    `json:"https_port"`
	ServerProtocol string `json:"server_protocol"`
	TimestampNow   int64  `json:"timestamp_now"`
	TimeNow        string `json:"time_now"`
}

// AuthResponse is the JSON shape returned by a bare player_api.php call.
type AuthResponse struct {
	UserInfo   *UserInfo   `json:"user_info"`
	ServerInfo *ServerInfo `json:"server_info"`
}

// IsAuthOk reports whether the panel accepted the credentials. Panels are
// inconsistent: some only set auth, some only set status, so success is
// auth == 1|true OR status == "active" (case-insensitive).
func IsAuthOk(resp *AuthResponse) bool {
	if resp == nil || resp.UserInfo == nil {
		return false
	}
	if bool(resp.UserInfo.Auth) {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(resp.UserInfo.Status), "active")
}

// AuthErrorMessage extracts the most useful failure description from a
// rejected authentication response.
func AuthErrorMessage(resp *AuthResponse) string {
	if resp != nil && resp.UserInfo != nil {
		if msg := strings.TrimSpace(resp.UserInfo.Message); msg != "" {
			return msg
		}
		if status := strings.TrimSpace(resp.UserInfo.Status); status != "" {
			return "Status: " + status
		}
	}
	return "invalid credentials or inactive account"
}
