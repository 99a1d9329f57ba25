package xtream

import (
	"context"
	"encoding/json"

	"kptv-player/work/config"

	"github.com/maypok86/otter/v2"
)

// Catalog wraps the RPC client with the catalog/detail actions the browsing
// surface consumes, caching responses so flipping between categories does
// not re-hit a slow panel. Detail lookups also feed the candidate
// generator: VOD info carries the declared container extension.
type Catalog struct {
	client *Client
	cfg    *config.Config
	cache  *otter.Cache[string, json.RawMessage]
}

// XCLiveStream is a single live channel entry from get_live_streams.
type XCLiveStream struct {
	StreamID     int    `json:"stream_id"`      // Identifier used in stream URL construction
	Name         string `json:"name"`           // Display name of the live channel
	CategoryID   string `json:"category_id"`    // Category identifier for grouping
	StreamIcon   string `json:"stream_icon"`    // Channel logo URL
	EpgChannelID string `json:"epg_channel_id"` // EPG channel identifier
}

// XCVODStream is a single movie entry from get_vod_streams.
type XCVODStream struct {
	StreamID           int    `json:"stream_id"`           // Identifier used in stream URL construction
	Name               string `json:"name"`                // Display name of the movie
	CategoryID         string `json:"category_id"`         // Category identifier for grouping
	StreamIcon         string `json:"stream_icon"`         // Poster URL
	ContainerExtension string `json:"container_extension"` // Declared container (mp4, mkv, ...)
}

// XCSeries is a single series entry from get_series.
type XCSeries struct {
	SeriesID   int    `json:"series_id"`   // Identifier used in get_series_info lookups
	Name       string `json:"name"`        // Display name of the series
	CategoryID string `json:"category_id"` // Category identifier for grouping
	Cover      string `json:"cover"`       // Cover artwork URL
}

// XCCategory is a category entry shared by all three content kinds.
type XCCategory struct {
	CategoryID   string `json:"category_id"`
	CategoryName string `json:"category_name"`
}

// NewCatalog builds a catalog layer over the RPC client with a TTL cache.
func NewCatalog(client *Client, cfg *config.Config) *Catalog {
	cache := otter.Must(&otter.Options[string, json.RawMessage]{
		MaximumSize:      2048,
		ExpiryCalculator: otter.ExpiryWriting[string, json.RawMessage](cfg.CacheDuration),
	})

	return &Catalog{
		client: client,
		cfg:    cfg,
		cache:  cache,
	}
}

// call performs a cached RPC action. The cache key is the final RPC URL,
// which already encodes credentials, action and parameters.
func (c *Catalog) call(ctx context.Context, creds Credentials, action string, extra map[string]string) (json.RawMessage, error) {
	key := BuildPlayerAPIURL(creds, action, toValues(extra))

	if c.cfg.CacheEnabled {
		if cached, ok := c.cache.GetIfPresent(key); ok {
			return cached, nil
		}
	}

	raw, err := c.client.CallAPI(ctx, creds, action, extra)
	if err != nil {
		return nil, err
	}

	if c.cfg.CacheEnabled {
		c.cache.Set(key, raw)
	}
	return raw, nil
}

// LiveCategories returns the live channel categories.
func (c *Catalog) LiveCategories(ctx context.Context, creds Credentials) (json.RawMessage, error) {
	return c.call(ctx, creds, "get_live_categories", nil)
}

// LiveStreams returns live channels, optionally scoped to one category.
func (c *Catalog) LiveStreams(ctx context.Context, creds Credentials, categoryID string) (json.RawMessage, error) {
	return c.call(ctx, creds, "get_live_streams", categoryParam(categoryID))
}

// VodCategories returns the movie categories.
func (c *Catalog) VodCategories(ctx context.Context, creds Credentials) (json.RawMessage, error) {
	return c.call(ctx, creds, "get_vod_categories", nil)
}

// VodStreams returns movies, optionally scoped to one category.
func (c *Catalog) VodStreams(ctx context.Context, creds Credentials, categoryID string) (json.RawMessage, error) {
	return c.call(ctx, creds, "get_vod_streams", categoryParam(categoryID))
}

// SeriesCategories returns the series categories.
func (c *Catalog) SeriesCategories(ctx context.Context, creds Credentials) (json.RawMessage, error) {
	return c.call(ctx, creds, "get_series_categories", nil)
}

// Series returns series listings, optionally scoped to one category.
func (c *Catalog) Series(ctx context.Context, creds Credentials, categoryID string) (json.RawMessage, error) {
	return c.call(ctx, creds, "get_series", categoryParam(categoryID))
}

// SeriesInfo returns seasons and episodes for one series.
func (c *Catalog) SeriesInfo(ctx context.Context, creds Credentials, seriesID string) (json.RawMessage, error) {
	return c.call(ctx, creds, "get_series_info", map[string]string{"series_id": seriesID})
}

// VodInfo returns detail metadata for one movie, including the declared
// container extension consumed by the candidate generator.
func (c *Catalog) VodInfo(ctx context.Context, creds Credentials, vodID string) (json.RawMessage, error) {
	return c.call(ctx, creds, "get_vod_info", map[string]string{"vod_id": vodID})
}

func categoryParam(categoryID string) map[string]string {
	if categoryID == "" {
		return nil
	}
	return map[string]string{"category_id": categoryID}
}
