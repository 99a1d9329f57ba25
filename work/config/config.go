package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Config holds all application configuration values for the playback client.
// It covers the HTTP surface, the panel RPC layer (relay paths, timeouts),
// the playback session engine (watchdog, reconnect delays) and local storage.
type Config struct {
	ListenPort          int           `json:"listenPort"`          // Port the playback client HTTP surface listens on
	UserAgent           string        `json:"userAgent"`           // User-Agent header sent to panels and relays
	ReqOrigin           string        `json:"reqOrigin"`           // Optional Origin header for upstream requests
	ReqReferrer         string        `json:"reqReferrer"`         // Optional Referer header for upstream requests
	Debug               bool          `json:"debug"`               // Enable debug logging
	ObfuscateUrls       bool          `json:"obfuscateUrls"`       // Obfuscate URLs in logs (credentials are embedded in stream URLs)
	WorkerThreads       int           `json:"workerThreads"`       // Worker pool size for the login probe fan-out
	WatchdogTimeout     time.Duration `json:"watchdogTimeout"`     // How long a candidate may stay in Resolving before fallback
	ReconnectDelayEOF   time.Duration `json:"reconnectDelayEOF"`   // Silent-reconnect delay after the upstream cut the connection
	ReconnectDelayError time.Duration `json:"reconnectDelayError"` // Silent-reconnect delay after a mid-play decode/network error
	APITimeout          time.Duration `json:"apiTimeout"`          // Per-call panel RPC timeout; deliberately large for slow panels
	ProbeTimeout        time.Duration `json:"probeTimeout"`        // Timeout for a single HEAD-probe attempt
	CacheEnabled        bool          `json:"cacheEnabled"`        // Whether the catalog response cache is enabled
	CacheDuration       time.Duration `json:"cacheDuration"`       // Expiration for cached catalog responses
	BufferSizePerStream int64         `json:"bufferSizePerStream"` // Playback output ring buffer size in MB
	DatabasePath        string        `json:"databasePath"`        // Path to the SQLite profile store
	PreferredPath       string        `json:"preferredPath"`       // Default network path: "direct" or a relay name
	Relays              []RelayConfig `json:"relays"`              // Ordered relay definitions for CORS-style forwarding
	Servers             []string      `json:"servers"`             // Candidate panel origins probed at account-add time
}

// RelayConfig describes a single third-party forwarding relay. The wrapping
// style decides how the target URL is appended to the relay prefix.
type RelayConfig struct {
	Name   string `json:"name"`   // Relay identifier used in logs and error annotations
	Prefix string `json:"prefix"` // Fixed URL prefix the target is appended to
	Style  string `json:"style"`  // "query-encoded" (URL-encoded target) or "path" (target appended verbatim)
}

// ConfigFile represents the JSON file structure for unmarshaling
// configuration. Duration fields are strings (e.g. "15s") parsed into
// time.Duration values during conversion.
type ConfigFile struct {
	ListenPort          int           `json:"listenPort"`
	UserAgent           string        `json:"userAgent"`
	ReqOrigin           string        `json:"reqOrigin"`
	ReqReferrer         string        `json:"reqReferrer"`
	Debug               bool          `json:"debug"`
	ObfuscateUrls       bool          `json:"obfuscateUrls"`
	WorkerThreads       int           `json:"workerThreads"`
	WatchdogTimeout     string        `json:"watchdogTimeout"`     // Duration string (e.g. "15s")
	ReconnectDelayEOF   string        `json:"reconnectDelayEOF"`   // Duration string (e.g. "500ms")
	ReconnectDelayError string        `json:"reconnectDelayError"` // Duration string (e.g. "1s")
	APITimeout          string        `json:"apiTimeout"`          // Duration string (e.g. "5m")
	ProbeTimeout        string        `json:"probeTimeout"`        // Duration string (e.g. "8s")
	CacheEnabled        bool          `json:"cacheEnabled"`
	CacheDuration       string        `json:"cacheDuration"` // Duration string (e.g. "30m")
	BufferSizePerStream int64         `json:"bufferSizePerStream"`
	DatabasePath        string        `json:"databasePath"`
	PreferredPath       string        `json:"preferredPath"`
	Relays              []RelayConfig `json:"relays"`
	Servers             []string      `json:"servers"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
)

// LoadConfig loads the configuration from file or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Attempts to load from `/settings/config.json`.
//   - Falls back to default config if file is missing or invalid.
//   - Runs validation to ensure safe defaults.
//
// Returns:
//   - *Config: fully validated configuration object
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	// Attempt to load from file
	configPath := "/settings/config.json"
	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	// Ensure safe defaults for missing values
	validateAndSetDefaults(config)

	// Cache for future calls
	configCache = config

	return config
}

// ClearConfigCache drops the cached configuration so the next LoadConfig
// call re-reads the file. Used by the graceful-restart path.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// loadFromFile reads and parses the configuration from a JSON file.
//
// Parameters:
//   - path: path to JSON config file
//
// Returns:
//   - *Config: parsed configuration
//   - error: if reading/parsing failed
func loadFromFile(path string) (*Config, error) {

	// read from the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// unmarshal the config file
	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// convert to our settings
	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config,
// parsing duration strings into time.Duration.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		ListenPort:          cf.ListenPort,
		UserAgent:           cf.UserAgent,
		ReqOrigin:           cf.ReqOrigin,
		ReqReferrer:         cf.ReqReferrer,
		Debug:               cf.Debug,
		ObfuscateUrls:       cf.ObfuscateUrls,
		WorkerThreads:       cf.WorkerThreads,
		CacheEnabled:        cf.CacheEnabled,
		BufferSizePerStream: cf.BufferSizePerStream,
		DatabasePath:        cf.DatabasePath,
		PreferredPath:       cf.PreferredPath,
		Relays:              cf.Relays,
		Servers:             cf.Servers,
	}

	// Parse duration fields; empty strings keep the zero value and are
	// filled in by validateAndSetDefaults afterwards.
	var err error
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"watchdogTimeout", cf.WatchdogTimeout, &config.WatchdogTimeout},
		{"reconnectDelayEOF", cf.ReconnectDelayEOF, &config.ReconnectDelayEOF},
		{"reconnectDelayError", cf.ReconnectDelayError, &config.ReconnectDelayError},
		{"apiTimeout", cf.APITimeout, &config.APITimeout},
		{"probeTimeout", cf.ProbeTimeout, &config.ProbeTimeout},
		{"cacheDuration", cf.CacheDuration, &config.CacheDuration},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		if *d.dst, err = time.ParseDuration(d.raw); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}

	return config, nil
}

// getDefaultConfig returns a baseline configuration
// with sensible defaults when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		ListenPort:          8080,
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Debug:               false,
		ObfuscateUrls:       true,             // Stream URLs embed credentials; hide them by default
		WorkerThreads:       8,                // Default worker threads
		WatchdogTimeout:     15 * time.Second, // Empirical loading ceiling per candidate
		ReconnectDelayEOF:   500 * time.Millisecond,
		ReconnectDelayError: time.Second,
		APITimeout:          5 * time.Minute, // Tolerates very slow self-hosted panels
		ProbeTimeout:        8 * time.Second,
		CacheEnabled:        true,
		CacheDuration:       30 * time.Minute,
		BufferSizePerStream: 1, // 1 MB ring buffer per playback output
		DatabasePath:        "/settings/profiles.db",
		PreferredPath:       "direct",
		Relays:              DefaultRelays(),
		Servers:             []string{},
	}
}

// DefaultRelays returns the built-in relay table. The set and order are
// configuration, not protocol; operators may replace them wholesale.
func DefaultRelays() []RelayConfig {
	return []RelayConfig{
		{Name: "codetabs", Prefix: "https://api.codetabs.com/v1/proxy?quest=", Style: "query-encoded"},
		{Name: "allorigins", Prefix: "https://api.allorigins.win/raw?url=", Style: "query-encoded"},
		{Name: "corsproxy", Prefix: "https://corsproxy.io/?", Style: "query-encoded"},
		{Name: "jsdelivr", Prefix: "https://cors.jsdelivr.net/", Style: "query-encoded"},
	}
}

// validateAndSetDefaults ensures all config values are valid,
// filling in defaults for missing/invalid ones.
func validateAndSetDefaults(config *Config) {
	defaults := getDefaultConfig()

	if config.ListenPort <= 0 || config.ListenPort > 65535 {
		config.ListenPort = defaults.ListenPort
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = defaults.WorkerThreads
	}
	if config.WatchdogTimeout <= 0 {
		config.WatchdogTimeout = defaults.WatchdogTimeout
	}
	if config.ReconnectDelayEOF <= 0 {
		config.ReconnectDelayEOF = defaults.ReconnectDelayEOF
	}
	if config.ReconnectDelayError <= 0 {
		config.ReconnectDelayError = defaults.ReconnectDelayError
	}
	if config.APITimeout <= 0 {
		config.APITimeout = defaults.APITimeout
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = defaults.ProbeTimeout
	}
	if config.CacheDuration <= 0 {
		config.CacheDuration = defaults.CacheDuration
	}
	if config.BufferSizePerStream <= 0 {
		config.BufferSizePerStream = defaults.BufferSizePerStream
	}
	if config.DatabasePath == "" {
		config.DatabasePath = defaults.DatabasePath
	}
	if config.PreferredPath == "" {
		config.PreferredPath = defaults.PreferredPath
	}
	if len(config.Relays) == 0 {
		config.Relays = DefaultRelays()
	}
}
