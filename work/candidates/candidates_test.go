package candidates

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"kptv-player/work/config"
	"kptv-player/work/relay"
	"kptv-player/work/xtream"
)

func testCreds() xtream.Credentials {
	return xtream.Credentials{
		BaseURL:  "http://panel.example:8080",
		Username: "user",
		Password: "pass",
	}
}

func testRelays() *relay.Table {
	return relay.NewTable([]config.RelayConfig{
		{Name: "codetabs", Prefix: "https://api.codetabs.com/v1/proxy?quest=", Style: "query"},
		{Name: "allorigins", Prefix: "https://api.allorigins.win/raw?url=", Style: "query"},
	})
}

func TestGenerateLiveOrdering(t *testing.T) {
	cands := Generate(KindLive, testCreds(), "55", "", testRelays())
	require.Len(t, cands, 5)

	tsDirect := "http://panel.example:8080/live/user/pass/55.ts"
	hlsDirect := "http://panel.example:8080/live/user/pass/55.m3u8"
	rawDirect := "http://panel.example:8080/live/user/pass/55"

	require.Equal(t, tsDirect, cands[0].URL)
	require.Equal(t, FormatRawTransport, cands[0].Format)
	require.Equal(t, PathDirect, cands[0].Path)

	require.Equal(t, hlsDirect, cands[1].URL)
	require.Equal(t, FormatSegmented, cands[1].Format)

	require.Equal(t, rawDirect, cands[2].URL)
	require.Equal(t, FormatRawTransport, cands[2].Format)

	// relayed candidates route through the primary relay
	require.Equal(t, "https://api.codetabs.com/v1/proxy?quest="+url.QueryEscape(tsDirect), cands[3].URL)
	require.Equal(t, PathRelayed, cands[3].Path)
	require.Equal(t, "https://api.codetabs.com/v1/proxy?quest="+url.QueryEscape(hlsDirect), cands[4].URL)
	require.Equal(t, FormatSegmented, cands[4].Format)
}

func TestGenerateLiveURLsAllDistinct(t *testing.T) {
	cands := Generate(KindLive, testCreds(), "55", "", testRelays())

	seen := make(map[string]bool)
	for _, c := range cands {
		require.False(t, seen[c.URL], "duplicate candidate URL: %s", c.URL)
		seen[c.URL] = true
	}
}

func TestGenerateOnDemandUsesDeclaredExtension(t *testing.T) {
	cands := Generate(KindMovie, testCreds(), "77", "avi", testRelays())
	require.Len(t, cands, 3)

	avi := "http://panel.example:8080/movie/user/pass/77.avi"
	mkv := "http://panel.example:8080/movie/user/pass/77.mkv"
	bare := "http://panel.example:8080/movie/user/pass/77"

	require.Equal(t, "https://api.codetabs.com/v1/proxy?quest="+url.QueryEscape(avi), cands[0].URL)
	require.Equal(t, FormatProgressive, cands[0].Format)
	require.Equal(t, "https://api.codetabs.com/v1/proxy?quest="+url.QueryEscape(mkv), cands[1].URL)
	require.Equal(t, "https://api.codetabs.com/v1/proxy?quest="+url.QueryEscape(bare), cands[2].URL)
	require.Equal(t, FormatUnknown, cands[2].Format)

	for _, c := range cands {
		require.Equal(t, PathRelayed, c.Path)
	}
}

func TestGenerateOnDemandDefaultsToMP4(t *testing.T) {
	cands := Generate(KindMovie, testCreds(), "77", "", testRelays())
	require.Len(t, cands, 3)
	require.Contains(t, cands[0].URL, url.QueryEscape("/movie/user/pass/77.mp4"))
}

func TestGenerateOnDemandDedupesDeclaredMKV(t *testing.T) {
	// declared extension colliding with the fallback must not repeat
	cands := Generate(KindMovie, testCreds(), "77", "mkv", testRelays())
	require.Len(t, cands, 2)
	require.Contains(t, cands[0].URL, url.QueryEscape("77.mkv"))
	require.NotContains(t, cands[1].URL, url.QueryEscape("77.mkv"))
}

func TestGenerateSeriesUsesSeriesSegment(t *testing.T) {
	cands := Generate(KindSeries, testCreds(), "301", "mp4", testRelays())
	require.Contains(t, cands[0].URL, url.QueryEscape("/series/user/pass/301.mp4"))
}

func TestGenerateLiveWithoutRelaysCollapsesToDirect(t *testing.T) {
	// empty relay table: relayed candidates dedupe into the direct ones
	cands := Generate(KindLive, testCreds(), "55", "", relay.NewTable(nil))
	require.Len(t, cands, 3)
	for _, c := range cands {
		require.Equal(t, PathDirect, c.Path)
	}
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind("live")
	require.True(t, ok)
	require.Equal(t, KindLive, k)

	k, ok = ParseKind("vod")
	require.True(t, ok)
	require.Equal(t, KindMovie, k)

	k, ok = ParseKind("episode")
	require.True(t, ok)
	require.Equal(t, KindSeries, k)

	_, ok = ParseKind("radio")
	require.False(t, ok)
}
