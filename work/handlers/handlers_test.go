package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kptv-player/work/adapter"
	"kptv-player/work/client"
	"kptv-player/work/config"
	"kptv-player/work/database"
	"kptv-player/work/logger"
	"kptv-player/work/session"
	"kptv-player/work/surface"
)

func testApp(t *testing.T) *App {
	t.Helper()

	cfg := &config.Config{
		UserAgent:           "test",
		WatchdogTimeout:     50 * time.Millisecond,
		ReconnectDelayEOF:   5 * time.Millisecond,
		ReconnectDelayError: 5 * time.Millisecond,
	}
	log := logger.New("error")
	factory := &adapter.Factory{HTTPClient: client.New(cfg), Config: cfg, Log: log}
	sessions := session.NewManager(factory, surface.Null{}, cfg, log)
	t.Cleanup(sessions.Stop)

	return &App{Config: cfg, Log: log, Sessions: sessions}
}

func TestStatusIdleWhenNothingPlaying(t *testing.T) {
	app := testApp(t)

	rec := httptest.NewRecorder()
	HandleStatus(app)(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"phase":"idle"}`, rec.Body.String())
}

func TestStopWithoutSessionIsHarmless(t *testing.T) {
	app := testApp(t)

	rec := httptest.NewRecorder()
	HandleStop(app)(rec, httptest.NewRequest(http.MethodPost, "/api/stop", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestPlayRequiresActiveProfile(t *testing.T) {
	app := testApp(t)

	body := strings.NewReader(`{"kind":"live","streamId":"55"}`)
	rec := httptest.NewRecorder()
	HandlePlay(app)(rec, httptest.NewRequest(http.MethodPost, "/api/play", body))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "sign in")
}

func TestCategoriesRequireActiveProfile(t *testing.T) {
	app := testApp(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/categories/live", nil)
	HandleCategories(app)(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOutputWithoutSessionIs404(t *testing.T) {
	app := testApp(t)

	rec := httptest.NewRecorder()
	HandleOutput(app)(rec, httptest.NewRequest(http.MethodGet, "/playback/stream", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActiveProfileRoundTrip(t *testing.T) {
	app := testApp(t)
	require.Nil(t, app.ActiveProfile())

	p := &database.Profile{ID: 7, Name: "x"}
	app.SetActiveProfile(p)
	require.Same(t, p, app.ActiveProfile())

	app.SetActiveProfile(nil)
	require.Nil(t, app.ActiveProfile())
}
