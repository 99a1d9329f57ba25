package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kptv-player/work/adapter"
	"kptv-player/work/candidates"
	"kptv-player/work/config"
	"kptv-player/work/logger"
	"kptv-player/work/surface"
)

type fakeAdapter struct {
	mu        sync.Mutex
	ev        adapter.Events
	url       string
	attached  bool
	released  int
	reloads   int
	reloadErr error
	attachErr error
}

func (f *fakeAdapter) Attach() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attached = true
	return nil
}

func (f *fakeAdapter) Reload() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return f.reloadErr
}

func (f *fakeAdapter) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
}

func (f *fakeAdapter) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

func (f *fakeAdapter) reloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloads
}

type fakeFactory struct {
	mu        sync.Mutex
	made      []*fakeAdapter
	reloadErr error
}

func (f *fakeFactory) New(format candidates.TransportFormat, sink surface.Surface, url string, ev adapter.Events) (adapter.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fa := &fakeAdapter{ev: ev, url: url, reloadErr: f.reloadErr}
	f.made = append(f.made, fa)
	return fa, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.made)
}

func (f *fakeFactory) at(i int) *fakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.made[i]
}

func testConfig() *config.Config {
	return &config.Config{
		WatchdogTimeout:     40 * time.Millisecond,
		ReconnectDelayEOF:   5 * time.Millisecond,
		ReconnectDelayError: 10 * time.Millisecond,
	}
}

func testCandidates(n int) []candidates.Candidate {
	urls := []string{
		"http://panel.example/live/u/p/9.ts",
		"http://panel.example/live/u/p/9.m3u8",
		"http://panel.example/live/u/p/9",
	}
	out := make([]candidates.Candidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, candidates.Candidate{
			URL:    urls[i%len(urls)],
			Format: candidates.FormatRawTransport,
			Path:   candidates.PathDirect,
			Label:  "test",
		})
	}
	return out
}

func newTestSession(t *testing.T, policy PlayingFatalPolicy, n int) (*Session, *fakeFactory) {
	t.Helper()
	factory := &fakeFactory{}
	kind := candidates.KindLive
	if policy == PlayingFatalIgnore {
		kind = candidates.KindMovie
	}
	s := New(kind, policy, testCandidates(n), factory, surface.Null{}, testConfig(), logger.New("error"))
	t.Cleanup(s.Close)
	return s, factory
}

func TestStartAttachesFirstCandidate(t *testing.T) {
	s, factory := newTestSession(t, PlayingFatalReconnect, 3)
	require.NoError(t, s.Start())

	require.Equal(t, 1, factory.count())
	snap := s.Snapshot()
	require.Equal(t, "resolving", snap.Phase)
	require.Equal(t, 0, snap.Cursor)
	require.Equal(t, 3, snap.CandidateCount)
}

func TestStartWithNoCandidatesExhausts(t *testing.T) {
	s, _ := newTestSession(t, PlayingFatalReconnect, 0)
	require.Error(t, s.Start())
	require.Equal(t, PhaseExhausted, s.Phase())
}

func TestFirstFrameTransitionsToPlaying(t *testing.T) {
	s, factory := newTestSession(t, PlayingFatalReconnect, 3)
	require.NoError(t, s.Start())

	factory.at(0).ev.OnFirstFrame()
	snap := s.Snapshot()
	require.Equal(t, "playing", snap.Phase)
	require.True(t, snap.EverPlayed)

	// duplicate first-frame events change nothing
	factory.at(0).ev.OnFirstFrame()
	require.Equal(t, PhasePlaying, s.Phase())
	require.Equal(t, 0, s.Snapshot().Cursor)
}

func TestWatchdogAdvancesThroughCandidates(t *testing.T) {
	s, factory := newTestSession(t, PlayingFatalReconnect, 2)
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool {
		return s.Snapshot().Cursor == 1
	}, time.Second, 5*time.Millisecond, "watchdog should advance past candidate 0")

	require.Equal(t, 2, factory.count())
	require.Equal(t, 1, factory.at(0).releaseCount())

	require.Eventually(t, func() bool {
		return s.Phase() == PhaseExhausted
	}, time.Second, 5*time.Millisecond, "watchdog should exhaust the list")
}

func TestResolvingFatalAdvancesImmediately(t *testing.T) {
	s, factory := newTestSession(t, PlayingFatalReconnect, 3)
	require.NoError(t, s.Start())

	factory.at(0).ev.OnFatalError(errors.New("connect refused"))

	require.Equal(t, 2, factory.count())
	require.Equal(t, 1, s.Snapshot().Cursor)
	require.Equal(t, PhaseResolving, s.Phase())
	require.Equal(t, 1, factory.at(0).releaseCount())
}

func TestAllCandidatesFailingExhausts(t *testing.T) {
	s, factory := newTestSession(t, PlayingFatalReconnect, 3)
	require.NoError(t, s.Start())

	for i := 0; i < 3; i++ {
		factory.at(i).ev.OnFatalError(errors.New("boom"))
	}

	snap := s.Snapshot()
	require.Equal(t, "exhausted", snap.Phase)
	require.Equal(t, 2, snap.Cursor, "cursor stays on the last candidate")
	require.False(t, snap.EverPlayed)
}

func TestLiveFatalWhilePlayingReconnectsSilently(t *testing.T) {
	s, factory := newTestSession(t, PlayingFatalReconnect, 2)
	require.NoError(t, s.Start())

	first := factory.at(0)
	first.ev.OnFirstFrame()
	require.Equal(t, PhasePlaying, s.Phase())

	first.ev.OnFatalError(adapter.ErrStreamEnded)

	require.Eventually(t, func() bool {
		return first.reloadCount() == 1
	}, time.Second, time.Millisecond, "connection cut should reload in place")

	snap := s.Snapshot()
	require.Equal(t, "playing", snap.Phase)
	require.Equal(t, 0, snap.Cursor, "reconnect never moves the cursor")
	require.Equal(t, 1, factory.count(), "reload keeps the same adapter")
}

func TestLiveReconnectRecreatesWhenReloadFails(t *testing.T) {
	factory := &fakeFactory{reloadErr: errors.New("reload unsupported")}
	s := New(candidates.KindLive, PlayingFatalReconnect, testCandidates(2),
		factory, surface.Null{}, testConfig(), logger.New("error"))
	defer s.Close()
	require.NoError(t, s.Start())

	first := factory.at(0)
	first.ev.OnFirstFrame()
	first.ev.OnFatalError(errors.New("decode error"))

	require.Eventually(t, func() bool {
		return factory.count() == 2
	}, time.Second, time.Millisecond, "failed reload should rebuild the adapter")

	require.Equal(t, PhasePlaying, s.Phase())
	require.Equal(t, 1, first.releaseCount())

	// and however many more fatals land, playing never turns exhausted
	second := factory.at(1)
	second.ev.OnFatalError(errors.New("still broken"))
	require.Never(t, func() bool {
		return s.Phase() == PhaseExhausted
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestOnDemandFatalWhilePlayingIsIgnored(t *testing.T) {
	s, factory := newTestSession(t, PlayingFatalIgnore, 2)
	require.NoError(t, s.Start())

	first := factory.at(0)
	first.ev.OnFirstFrame()
	first.ev.OnFatalError(adapter.ErrStreamEnded)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, PhasePlaying, s.Phase())
	require.Equal(t, 1, factory.count(), "end of an on-demand stream never retries")
	require.Zero(t, first.reloadCount())
}

func TestStaleAdapterEventsAreDiscarded(t *testing.T) {
	s, factory := newTestSession(t, PlayingFatalReconnect, 3)
	require.NoError(t, s.Start())

	stale := factory.at(0)
	stale.ev.OnFatalError(errors.New("boom"))
	require.Equal(t, 1, s.Snapshot().Cursor)

	// late callbacks from the torn-down attempt must not move state
	stale.ev.OnFirstFrame()
	require.Equal(t, PhaseResolving, s.Phase())

	stale.ev.OnFatalError(errors.New("boom again"))
	require.Equal(t, 1, s.Snapshot().Cursor)
}

func TestCloseIsIdempotent(t *testing.T) {
	s, factory := newTestSession(t, PlayingFatalReconnect, 1)
	require.NoError(t, s.Start())

	s.Close()
	s.Close()

	require.Equal(t, 1, factory.at(0).releaseCount())

	// events after close are inert
	factory.at(0).ev.OnFirstFrame()
	require.Equal(t, PhaseResolving, s.Phase())
}

func TestManagerOpenReplacesActiveSession(t *testing.T) {
	factory := &fakeFactory{}
	m := NewManager(factory, surface.Null{}, testConfig(), logger.New("error"))
	defer m.Stop()

	first, err := m.Open(candidates.KindLive, testCandidates(1))
	require.NoError(t, err)
	require.Same(t, first, m.Active())

	second, err := m.Open(candidates.KindMovie, testCandidates(1))
	require.NoError(t, err)
	require.Same(t, second, m.Active())

	// the replaced session's adapter got torn down
	require.Equal(t, 1, factory.at(0).releaseCount())
}

func TestManagerOpenWithoutCandidatesFails(t *testing.T) {
	m := NewManager(&fakeFactory{}, surface.Null{}, testConfig(), logger.New("error"))
	defer m.Stop()

	_, err := m.Open(candidates.KindLive, nil)
	require.Error(t, err)
	require.Nil(t, m.Active())
}

func TestPolicyForKind(t *testing.T) {
	require.Equal(t, PlayingFatalReconnect, PolicyForKind(candidates.KindLive))
	require.Equal(t, PlayingFatalIgnore, PolicyForKind(candidates.KindMovie))
	require.Equal(t, PlayingFatalIgnore, PolicyForKind(candidates.KindSeries))
}
