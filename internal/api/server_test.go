package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mars-colony/internal/agents"
	"github.com/talgya/mars-colony/internal/engine"
	"github.com/talgya/mars-colony/internal/persistence"
	"github.com/talgya/mars-colony/internal/simtime"
	"github.com/talgya/mars-colony/internal/social"
)

const testKey = "s3cret"

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	w := engine.NewWorld(engine.Options{Seed: 5, Start: simtime.SimTime{Sol: 1}}, []*social.Settlement{
		{ID: 1, Name: "Schiaparelli Point", Agenda: social.NewMissionAgenda("science", map[string]float64{agents.TaskResearchScience: 1.5})},
	})
	_, err := w.Populate(1, 2, 1, 1)
	require.NoError(t, err)

	e, err := engine.NewEngine(w, 5, 0)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	require.NoError(t, e.RunTicks(context.Background(), 60))

	dir := t.TempDir()
	s := &Server{
		Eng:         e,
		Saver:       persistence.NewCoordinator(e, filepath.Join(dir, "colony.snap")),
		AdminKey:    testKey,
		SaveDir:     dir,
		SaveTimeout: 5 * time.Second,
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func post(t *testing.T, url, body, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestStatus(t *testing.T) {
	_, ts := newTestServer(t)
	var status map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/status", &status))
	assert.Equal(t, float64(60), status["tick"])
	assert.Equal(t, "Sol 1 0300.000", status["sim_time"])
	assert.Equal(t, float64(2), status["people"])
	assert.Equal(t, false, status["save_in_progress"])
}

func TestAgentsAndActivities(t *testing.T) {
	_, ts := newTestServer(t)

	var list []engine.AgentSummary
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/agents?kind=person", &list))
	require.Len(t, list, 2)

	var one engine.AgentSummary
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/agent/1", &one))
	assert.Equal(t, agents.AgentID(1), one.ID)

	var day struct {
		Sol        uint64               `json:"sol"`
		Activities []agents.OneActivity `json:"activities"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/agent/1/activities?sol=1", &day))
	assert.Equal(t, uint64(1), day.Sol)
	assert.NotNil(t, day.Activities)

	var all map[string][]agents.OneActivity
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/agent/1/activities", &all))
	assert.Contains(t, all, "1")

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/v1/agent/1/activities?sol=999", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/v1/agent/1/activities?sol=abc", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/v1/agent/77", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/v1/agent/x", nil))
}

func TestTaskCatalog(t *testing.T) {
	s, ts := newTestServer(t)

	var tasks []struct {
		Name   string   `json:"name"`
		Phases []string `json:"phases"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/tasks", &tasks))
	names := s.Eng.World.Catalog().Names()
	require.Len(t, tasks, len(names))
	for i, task := range tasks {
		assert.Equal(t, names[i], task.Name)
		assert.NotEmpty(t, task.Phases, task.Name)
	}
}

func TestAgentRelations(t *testing.T) {
	s, ts := newTestServer(t)
	rel := s.Eng.World.Relations()
	rel.SetOpinion(1, 2, 70)
	rel.SetOpinion(1, 3, 20)
	rel.SetOpinion(2, 1, 40)

	var out struct {
		Agent    agents.AgentID   `json:"agent"`
		Opinions []social.Opinion `json:"opinions"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/agent/1/relations", &out))
	assert.Equal(t, agents.AgentID(1), out.Agent)
	require.Len(t, out.Opinions, 2)
	assert.Equal(t, uint64(2), out.Opinions[0].To)
	assert.InDelta(t, 70, out.Opinions[0].Value, 1e-9)
	assert.Equal(t, uint64(3), out.Opinions[1].To)
	assert.InDelta(t, 20, out.Opinions[1].Value, 1e-9)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/v1/agent/77/relations", nil))
}

func TestAgentSummaryNamesUrgentNeed(t *testing.T) {
	_, ts := newTestServer(t)

	var list []engine.AgentSummary
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/agents", &list))
	require.NotEmpty(t, list)
	for _, a := range list {
		if a.Kind == agents.KindPerson.String() {
			assert.Contains(t, []string{"hunger", "fatigue", "stress", "social"}, a.UrgentNeed, a.Name)
		} else {
			assert.Equal(t, "energy", a.UrgentNeed, a.Name)
		}
	}
}

func TestAdminAuth(t *testing.T) {
	_, ts := newTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, post(t, ts.URL+"/api/v1/pause", "", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, post(t, ts.URL+"/api/v1/pause", "", "wrong").StatusCode)
	assert.Equal(t, http.StatusOK, post(t, ts.URL+"/api/v1/pause", "", testKey).StatusCode)
}

func TestPauseResumeSpeed(t *testing.T) {
	s, ts := newTestServer(t)

	require.Equal(t, http.StatusOK, post(t, ts.URL+"/api/v1/pause", "", testKey).StatusCode)
	assert.True(t, s.Eng.Paused())
	require.Equal(t, http.StatusOK, post(t, ts.URL+"/api/v1/resume", "", testKey).StatusCode)
	assert.False(t, s.Eng.Paused())

	require.Equal(t, http.StatusOK, post(t, ts.URL+"/api/v1/speed", `{"speed": 8}`, testKey).StatusCode)
	assert.Equal(t, 8.0, s.Eng.Speed())
	assert.Equal(t, http.StatusBadRequest, post(t, ts.URL+"/api/v1/speed", `{"speed": 0}`, testKey).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(t, ts.URL+"/api/v1/speed", `{"speed": 5000}`, testKey).StatusCode)
}

func TestInterrupt(t *testing.T) {
	s, ts := newTestServer(t)
	resp := post(t, ts.URL+"/api/v1/interrupt/1", `{"reason": "dust storm alarm"}`, testKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	tm, err := s.Eng.World.TaskManager(1)
	require.NoError(t, err)
	st := tm.Status()
	assert.Equal(t, agents.StateInterrupted, st.State)
	assert.Equal(t, "dust storm alarm", st.Reason)

	assert.Equal(t, http.StatusNotFound, post(t, ts.URL+"/api/v1/interrupt/404", "", testKey).StatusCode)
}

func TestSave(t *testing.T) {
	s, ts := newTestServer(t)

	resp := post(t, ts.URL+"/api/v1/save", `{"destination": "manual.db"}`, testKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ev persistence.SaveEvent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ev))
	assert.Equal(t, persistence.SaveCompleted, ev.Kind)
	assert.Equal(t, filepath.Join(s.SaveDir, "manual.db"), ev.Destination)
	assert.True(t, persistence.Exists(ev.Destination))

	assert.Equal(t, http.StatusBadRequest, post(t, ts.URL+"/api/v1/save", `{"destination": "../escape.snap"}`, testKey).StatusCode)

	resp = post(t, ts.URL+"/api/v1/save", "", testKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTickStream(t *testing.T) {
	s, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ticks"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered once the handler runs; keep ticking until a frame arrives.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				_, _ = s.Eng.Step(context.Background())
				time.Sleep(time.Millisecond)
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev engine.TickEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Greater(t, ev.Tick, uint64(60))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.Positive(t, rl.RetryAfter("a"))

	rl.TrustProxies("10.0.0.1")
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	assert.Equal(t, "10.0.0.9", clientIP(r, rl.trusts))
	r.Header.Set("X-Forwarded-For", "1.2.3.4")
	assert.Equal(t, "10.0.0.9", clientIP(r, rl.trusts), "header ignored from an untrusted peer")

	r.RemoteAddr = "10.0.0.1:443"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	assert.Equal(t, "1.2.3.4", clientIP(r, rl.trusts))
}

func TestSaveRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	_, ts := newTestServer(t)
	codes := make([]int, 0, 8)
	for i := 0; i < 8; i++ {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/save", strings.NewReader(`{"destination": "rl.snap"}`))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+testKey)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Contains(t, codes, http.StatusTooManyRequests)
	assert.Equal(t, http.StatusTooManyRequests, codes[len(codes)-1])
}
