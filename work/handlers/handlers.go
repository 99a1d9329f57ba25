package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"

	"kptv-player/work/candidates"
	"kptv-player/work/config"
	"kptv-player/work/database"
	"kptv-player/work/logger"
	"kptv-player/work/probe"
	"kptv-player/work/session"
	"kptv-player/work/surface"
	"kptv-player/work/xtream"
)

// App bundles the dependencies the HTTP surface needs. The active profile
// is the one piece of mutable handler state: catalog and playback requests
// run against whichever profile the user signed in with last.
type App struct {
	Config      *config.Config
	Log         *logger.Logger
	DB          *database.DB
	Xtream      *xtream.Client
	Catalog     *xtream.Catalog
	Prober      *probe.Prober
	Sessions    *session.Manager
	Broadcaster *surface.Broadcaster
	Pool        *ants.Pool

	mu      sync.RWMutex
	profile *database.Profile
}

// ActiveProfile returns the signed-in profile, or nil.
func (a *App) ActiveProfile() *database.Profile {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.profile
}

// SetActiveProfile replaces the signed-in profile.
func (a *App) SetActiveProfile(p *database.Profile) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.profile = p
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeRaw(w http.ResponseWriter, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

type loginRequest struct {
	Name     string   `json:"name"`
	Servers  []string `json:"servers"`
	Username string   `json:"username"`
	Password string   `json:"password"`
}

// HandleLogin fans the supplied credentials out to every configured panel
// URL at once and signs in against whichever answers first in configured
// order. Whatever actually went wrong on the losing servers, the client
// only ever sees one generic invalid-login answer.
func HandleLogin(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Username == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "username and password are required")
			return
		}

		servers := req.Servers
		if len(servers) == 0 {
			servers = app.Config.Servers
		}
		if len(servers) == 0 {
			writeError(w, http.StatusBadRequest, "no panel servers configured")
			return
		}

		creds, err := app.Xtream.ProbeServers(r.Context(), app.Pool, servers, req.Username, req.Password)
		if err != nil {
			if errors.Is(err, xtream.ErrInvalidCredentials) {
				writeError(w, http.StatusUnauthorized, "Invalid username or password")
				return
			}
			writeError(w, http.StatusBadGateway, "panel unreachable")
			return
		}

		creds.PreferredPath = app.Config.PreferredPath
		name := req.Name
		if name == "" {
			name = creds.ProfileName()
		}

		id, err := app.DB.SaveProfile(name, creds)
		if err != nil {
			app.Log.Error("{handlers - login} failed to save profile: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to save profile")
			return
		}
		app.DB.TouchProfile(id)

		profile, err := app.DB.GetProfile(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load saved profile")
			return
		}

		app.SetActiveProfile(profile)
		app.Log.Info("{handlers - login} signed in as %s", name)
		writeJSON(w, http.StatusOK, profile)
	}
}

// HandleProfiles lists saved profiles.
func HandleProfiles(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profiles, err := app.DB.ListProfiles()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list profiles")
			return
		}
		if profiles == nil {
			profiles = []*database.Profile{}
		}
		writeJSON(w, http.StatusOK, profiles)
	}
}

// HandleProfileSelect re-authenticates a saved profile and makes it the
// active one.
func HandleProfileSelect(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile, ok := profileFromVars(app, w, r)
		if !ok {
			return
		}

		if _, err := app.Xtream.Authenticate(r.Context(), profile.Credentials()); err != nil {
			if errors.Is(err, xtream.ErrInvalidCredentials) {
				writeError(w, http.StatusUnauthorized, "Invalid username or password")
				return
			}
			writeError(w, http.StatusBadGateway, "panel unreachable")
			return
		}

		app.DB.TouchProfile(profile.ID)
		app.SetActiveProfile(profile)
		writeJSON(w, http.StatusOK, profile)
	}
}

// HandleProfileDelete removes a saved profile. Deleting the active profile
// also signs it out and stops playback.
func HandleProfileDelete(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile, ok := profileFromVars(app, w, r)
		if !ok {
			return
		}

		if err := app.DB.DeleteProfile(profile.ID); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to delete profile")
			return
		}

		if active := app.ActiveProfile(); active != nil && active.ID == profile.ID {
			app.SetActiveProfile(nil)
			app.Sessions.Stop()
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func profileFromVars(app *App, w http.ResponseWriter, r *http.Request) (*database.Profile, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid profile id")
		return nil, false
	}

	profile, err := app.DB.GetProfile(id)
	if err != nil {
		if errors.Is(err, database.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to load profile")
		}
		return nil, false
	}
	return profile, true
}

func requireProfile(app *App, w http.ResponseWriter) (xtream.Credentials, bool) {
	profile := app.ActiveProfile()
	if profile == nil {
		writeError(w, http.StatusUnauthorized, "no active profile, sign in first")
		return xtream.Credentials{}, false
	}
	return profile.Credentials(), true
}

// HandleCategories serves the category list for one content kind.
func HandleCategories(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds, ok := requireProfile(app, w)
		if !ok {
			return
		}

		var raw json.RawMessage
		var err error
		switch mux.Vars(r)["kind"] {
		case "live":
			raw, err = app.Catalog.LiveCategories(r.Context(), creds)
		case "vod":
			raw, err = app.Catalog.VodCategories(r.Context(), creds)
		case "series":
			raw, err = app.Catalog.SeriesCategories(r.Context(), creds)
		default:
			writeError(w, http.StatusBadRequest, "unknown content kind")
			return
		}
		serveCatalog(app, w, raw, err)
	}
}

// HandleStreams serves the stream list for one content kind, optionally
// filtered by the category query parameter.
func HandleStreams(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds, ok := requireProfile(app, w)
		if !ok {
			return
		}

		categoryID := r.URL.Query().Get("category")

		var raw json.RawMessage
		var err error
		switch mux.Vars(r)["kind"] {
		case "live":
			raw, err = app.Catalog.LiveStreams(r.Context(), creds, categoryID)
		case "vod":
			raw, err = app.Catalog.VodStreams(r.Context(), creds, categoryID)
		case "series":
			raw, err = app.Catalog.Series(r.Context(), creds, categoryID)
		default:
			writeError(w, http.StatusBadRequest, "unknown content kind")
			return
		}
		serveCatalog(app, w, raw, err)
	}
}

// HandleSeriesInfo serves season and episode detail for one series.
func HandleSeriesInfo(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds, ok := requireProfile(app, w)
		if !ok {
			return
		}
		raw, err := app.Catalog.SeriesInfo(r.Context(), creds, mux.Vars(r)["id"])
		serveCatalog(app, w, raw, err)
	}
}

// HandleVodInfo serves detail for one movie.
func HandleVodInfo(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds, ok := requireProfile(app, w)
		if !ok {
			return
		}
		raw, err := app.Catalog.VodInfo(r.Context(), creds, mux.Vars(r)["id"])
		serveCatalog(app, w, raw, err)
	}
}

func serveCatalog(app *App, w http.ResponseWriter, raw json.RawMessage, err error) {
	if err != nil {
		if errors.Is(err, xtream.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "panel rejected credentials")
			return
		}
		app.Log.Warn("{handlers - catalog} panel call failed: %v", err)
		writeError(w, http.StatusBadGateway, "panel request failed")
		return
	}
	writeRaw(w, raw)
}

type playRequest struct {
	Kind               string `json:"kind"`
	StreamID           string `json:"streamId"`
	ContainerExtension string `json:"containerExtension"`
	Probe              bool   `json:"probe"`
}

// HandlePlay resolves a stream id into its ranked candidate list and opens
// a playback session over it, replacing whatever was playing.
func HandlePlay(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds, ok := requireProfile(app, w)
		if !ok {
			return
		}

		var req playRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		kind, ok := candidates.ParseKind(req.Kind)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown content kind")
			return
		}
		if req.StreamID == "" {
			writeError(w, http.StatusBadRequest, "streamId is required")
			return
		}

		cands := candidates.Generate(kind, creds, req.StreamID, req.ContainerExtension, app.Xtream.Relays())
		if req.Probe {
			cands = app.Prober.Rank(r.Context(), cands)
		}

		sess, err := app.Sessions.Open(kind, cands)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, sess.Snapshot())
	}
}

// HandleStatus reports the active session's observable state, or idle.
func HandleStatus(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := app.Sessions.Active()
		if sess == nil {
			writeJSON(w, http.StatusOK, map[string]string{"phase": "idle"})
			return
		}
		writeJSON(w, http.StatusOK, sess.Snapshot())
	}
}

// HandleStop closes the active session.
func HandleStop(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		app.Sessions.Stop()
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleOutput attaches the caller to the decoded output stream. Multiple
// consumers may watch the same session; each gets its own read position.
func HandleOutput(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if app.Sessions.Active() == nil {
			http.Error(w, "nothing playing", http.StatusNotFound)
			return
		}

		consumerID := fmt.Sprintf("%s-%d", r.RemoteAddr, time.Now().UnixNano())
		app.Broadcaster.ServeConsumer(r.Context(), consumerID, w)
	}
}
