package relay

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"kptv-player/work/config"
)

func testTable() *Table {
	return NewTable([]config.RelayConfig{
		{Name: "codetabs", Prefix: "https://api.codetabs.com/v1/proxy?quest=", Style: "query"},
		{Name: "allorigins", Prefix: "https://api.allorigins.win/raw?url=", Style: "query"},
		{Name: "jsdelivr", Prefix: "https://cdn.example.net/fetch/", Style: "path"},
	})
}

func TestWrapURLEncodesTarget(t *testing.T) {
	tbl := testTable()
	target := "http://panel.example:8080/live/user/pass/1.ts"

	wrapped := tbl.WrapURL("codetabs", target)
	require.Equal(t, "https://api.codetabs.com/v1/proxy?quest="+url.QueryEscape(target), wrapped)
}

func TestWrapURLPathStyleAppendsVerbatim(t *testing.T) {
	tbl := testTable()
	target := "http://panel.example/player_api.php"

	wrapped := tbl.WrapURL("jsdelivr", target)
	require.Equal(t, "https://cdn.example.net/fetch/"+target, wrapped)
}

func TestWrapURLDirectAndUnknownPassThrough(t *testing.T) {
	tbl := testTable()
	target := "http://panel.example/x"

	require.Equal(t, target, tbl.WrapURL(Direct, target))
	require.Equal(t, target, tbl.WrapURL("no-such-relay", target))
}

func TestFirst(t *testing.T) {
	require.Equal(t, "codetabs", testTable().First())
	require.Equal(t, Direct, NewTable(nil).First())
}

func TestPathsForDirectStaysDirect(t *testing.T) {
	require.Equal(t, []string{Direct}, testTable().PathsFor(Direct))
}

func TestPathsForPrimaryRelayListsAllRelays(t *testing.T) {
	paths := testTable().PathsFor("codetabs")
	require.Equal(t, []string{"codetabs", "allorigins", "jsdelivr"}, paths)
}

func TestPathsForSecondaryRelayGoesFirst(t *testing.T) {
	paths := testTable().PathsFor("allorigins")
	require.Equal(t, []string{"allorigins", "codetabs", "jsdelivr"}, paths)
}

func TestPathsForUnknownFallsBackToDirect(t *testing.T) {
	require.Equal(t, []string{Direct}, testTable().PathsFor("bogus"))
}
