package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConvertFromFileParsesDurations(t *testing.T) {
	cf := &ConfigFile{
		ListenPort:          9090,
		WatchdogTimeout:     "15s",
		ReconnectDelayEOF:   "500ms",
		ReconnectDelayError: "1s",
		APITimeout:          "5m",
		ProbeTimeout:        "8s",
		CacheDuration:       "30m",
	}

	cfg, err := convertFromFile(cf)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.ListenPort)
	require.Equal(t, 15*time.Second, cfg.WatchdogTimeout)
	require.Equal(t, 500*time.Millisecond, cfg.ReconnectDelayEOF)
	require.Equal(t, time.Second, cfg.ReconnectDelayError)
	require.Equal(t, 5*time.Minute, cfg.APITimeout)
	require.Equal(t, 8*time.Second, cfg.ProbeTimeout)
	require.Equal(t, 30*time.Minute, cfg.CacheDuration)
}

func TestConvertFromFileRejectsBadDuration(t *testing.T) {
	_, err := convertFromFile(&ConfigFile{WatchdogTimeout: "soon"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "watchdogTimeout")
}

func TestConvertFromFileEmptyDurationsStayZero(t *testing.T) {
	cfg, err := convertFromFile(&ConfigFile{})
	require.NoError(t, err)
	require.Zero(t, cfg.WatchdogTimeout)
	require.Zero(t, cfg.CacheDuration)
}

func TestValidateAndSetDefaultsFillsZeroValues(t *testing.T) {
	cfg := &Config{}
	validateAndSetDefaults(cfg)

	require.Equal(t, 8080, cfg.ListenPort)
	require.NotEmpty(t, cfg.UserAgent)
	require.Equal(t, 8, cfg.WorkerThreads)
	require.Equal(t, 15*time.Second, cfg.WatchdogTimeout)
	require.Equal(t, 500*time.Millisecond, cfg.ReconnectDelayEOF)
	require.Equal(t, time.Second, cfg.ReconnectDelayError)
	require.Equal(t, 5*time.Minute, cfg.APITimeout)
	require.EqualValues(t, 1, cfg.BufferSizePerStream)
	require.Equal(t, "direct", cfg.PreferredPath)
	require.Equal(t, "/settings/profiles.db", cfg.DatabasePath)
	require.NotEmpty(t, cfg.Relays)
}

func TestValidateAndSetDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		ListenPort:      9999,
		WatchdogTimeout: 3 * time.Second,
		PreferredPath:   "codetabs",
		Relays:          []RelayConfig{{Name: "custom", Prefix: "https://relay.example/?u="}},
	}
	validateAndSetDefaults(cfg)

	require.Equal(t, 9999, cfg.ListenPort)
	require.Equal(t, 3*time.Second, cfg.WatchdogTimeout)
	require.Equal(t, "codetabs", cfg.PreferredPath)
	require.Len(t, cfg.Relays, 1)
}

func TestDefaultRelaysOrder(t *testing.T) {
	relays := DefaultRelays()
	require.GreaterOrEqual(t, len(relays), 4)
	require.Equal(t, "codetabs", relays[0].Name)

	for _, r := range relays {
		require.NotEmpty(t, r.Prefix)
	}
}
