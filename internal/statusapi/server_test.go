package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haricheung/swordbot/internal/loop"
	"github.com/haricheung/swordbot/internal/stats"
	"github.com/haricheung/swordbot/internal/types"
)

type fakeLoop struct {
	status   types.LoopStatus
	state    types.GameState
	err      error
	pauseErr error
	stopErr  error
	stopped  bool
}

func (f *fakeLoop) State() types.GameState   { return f.state }
func (f *fakeLoop) Status() types.LoopStatus { return f.status }
func (f *fakeLoop) Session() string          { return "sess-1" }
func (f *fakeLoop) Err() error               { return f.err }
func (f *fakeLoop) Resume() error            { return nil }

func (f *fakeLoop) Pause() error {
	if f.pauseErr != nil {
		return f.pauseErr
	}
	f.status = types.StatusPaused
	return nil
}

func (f *fakeLoop) Stop(ctx context.Context) error {
	f.stopped = true
	if f.stopErr != nil {
		return f.stopErr
	}
	f.status = types.StatusStopped
	return nil
}

type fakeStats struct {
	session stats.Session
	open    bool
	levels  []stats.LevelStats
	err     error
}

func (f *fakeStats) Current() (stats.Session, bool)          { return f.session, f.open }
func (f *fakeStats) Cumulative() ([]stats.LevelStats, error) { return f.levels, f.err }

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ── reads ────────────────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	// /healthz answers ok
	rec := do(t, NewRouter(&fakeLoop{}, nil, nil), http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestState_ReturnsSnapshot(t *testing.T) {
	// /api/state returns the game state as JSON
	fl := &fakeLoop{state: types.GameState{Level: 7, Gold: 123456, LastOutcome: types.KindSuccess}}
	rec := do(t, NewRouter(fl, nil, nil), http.MethodGet, "/api/state")
	require.Equal(t, http.StatusOK, rec.Code)

	var st types.GameState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 7, st.Level)
	assert.Equal(t, int64(123456), st.Gold)
}

func TestStatus_IncludesLastError(t *testing.T) {
	// /api/status reports the status, session and fatal error
	fl := &fakeLoop{status: types.StatusError, err: errors.New("too many failures")}
	rec := do(t, NewRouter(fl, nil, nil), http.MethodGet, "/api/status")

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, types.StatusError, resp.Status)
	assert.Equal(t, "sess-1", resp.Session)
	assert.Equal(t, "too many failures", resp.Error)
}

func TestStats_SessionAndLevels(t *testing.T) {
	// /api/stats summarises the open session and lists cumulative levels
	fs := &fakeStats{
		open: true,
		session: stats.Session{
			ID: "s1", StartTime: time.Now().Add(-time.Minute),
			StartingGold: 1000, CurrentGold: 1500, TotalEnhances: 2,
		},
		levels: []stats.LevelStats{{Level: 3, SuccessCount: 1, TotalAttempts: 2}},
	}
	rec := do(t, NewRouter(&fakeLoop{}, fs, nil), http.MethodGet, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Session map[string]any   `json:"session"`
		Levels  []map[string]any `json:"levels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Session)
	assert.Equal(t, "s1", resp.Session["session_id"])
	assert.EqualValues(t, 500, resp.Session["profit"])
	require.Len(t, resp.Levels, 1)
	assert.EqualValues(t, 0.5, resp.Levels[0]["success_rate"])
}

func TestStats_NoSourceIsEmpty(t *testing.T) {
	// Without a collector the endpoint still answers with an empty list
	rec := do(t, NewRouter(&fakeLoop{}, nil, nil), http.MethodGet, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"session":null,"levels":[]}`, rec.Body.String())
}

func TestStats_StoreError(t *testing.T) {
	// A failing store is a 500 with an error envelope
	fs := &fakeStats{err: errors.New("leveldb: closed")}
	rec := do(t, NewRouter(&fakeLoop{}, fs, nil), http.MethodGet, "/api/stats")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "stats_unavailable")
}

// ── control ──────────────────────────────────────────────────────────────────

func TestPause_OK(t *testing.T) {
	// A successful pause returns the new status
	fl := &fakeLoop{status: types.StatusRunning}
	rec := do(t, NewRouter(fl, nil, nil), http.MethodPost, "/api/pause")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"paused"`)
}

func TestPause_NotRunningIsConflict(t *testing.T) {
	// Control calls rejected by the loop map to 409
	fl := &fakeLoop{pauseErr: loop.ErrNotRunning}
	rec := do(t, NewRouter(fl, nil, nil), http.MethodPost, "/api/pause")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_state")
}

func TestStop_SlowCycleIsAccepted(t *testing.T) {
	// A stop that outlasts the wait is accepted, not failed
	fl := &fakeLoop{status: types.StatusRunning, stopErr: context.DeadlineExceeded}
	rec := do(t, NewRouter(fl, nil, nil), http.MethodPost, "/api/stop")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, fl.stopped)
}

func TestStop_OK(t *testing.T) {
	// A completed stop returns 200 with the stopped status
	fl := &fakeLoop{status: types.StatusRunning}
	rec := do(t, NewRouter(fl, nil, nil), http.MethodPost, "/api/stop")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"stopped"`)
}

func TestGetOnControlRouteIsNotFound(t *testing.T) {
	// Control routes only accept POST
	rec := do(t, NewRouter(&fakeLoop{}, nil, nil), http.MethodGet, "/api/stop")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ── Server ───────────────────────────────────────────────────────────────────

func TestServer_ShutsDownOnCancel(t *testing.T) {
	// Run returns nil after ctx is cancelled
	s := New("127.0.0.1:0", &fakeLoop{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
