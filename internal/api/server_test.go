package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prativedak/internal/config"
	"prativedak/internal/events"
	"prativedak/internal/ingest"
	"prativedak/internal/metrics"
	"prativedak/internal/model"
	"prativedak/internal/monitor"
	"prativedak/internal/notify"
	"prativedak/internal/pipeline"
	"prativedak/internal/sequencer"
	"prativedak/internal/validate"
)

type stubDispatcher struct{}

func (stubDispatcher) Dispatch(_ context.Context, user model.User, _ *model.Location) []model.DispatchResult {
	return []model.DispatchResult{{Contact: user.EmergencyContacts[0].Name, Channel: model.ChannelCall, Success: true, Automatic: true}}
}

func (stubDispatcher) CallPrimary(_ context.Context, user model.User) []model.DispatchResult {
	return []model.DispatchResult{{Contact: user.EmergencyContacts[0].Name, Channel: model.ChannelCall, Success: true, Automatic: true}}
}

type testServer struct {
	handler   http.Handler
	cfg       *config.Manager
	mon       *monitor.Monitor
	feed      *events.Store
	summaries *metrics.Store
	perms     *notify.StaticPermissions
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Permissions = config.PermissionsConfig{Location: true, Call: true, SMS: true}
	mgr := config.NewStaticManager(cfg)

	clock := clockwork.NewFakeClock()
	hub := ingest.NewHub(0, nil)
	perms := notify.NewStaticPermissions(cfg.Permissions)
	feed := events.NewStore(100)
	summaries := metrics.NewStore(10)
	mon := monitor.New(cfg.Detection, hub, perms, clock, nil)
	seq := sequencer.New(cfg.Emergency, stubDispatcher{}, pipeline.NewRecorder(summaries, nil, nil), feed, clock, nil)
	pipe := pipeline.New(cfg.Emergency, mon, seq, validate.NewValidationService(), feed, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		mon.Stop()
		seq.Cancel()
		cancel()
	})
	pipe.Start(ctx)

	srv := NewServer(Deps{
		Config:      mgr,
		Monitor:     mon,
		Pipeline:    pipe,
		Emergency:   seq,
		Events:      feed,
		Summaries:   summaries,
		Hub:         hub,
		Permissions: perms,
		Version:     "test",
	})
	return &testServer{handler: srv.Handler(), cfg: mgr, mon: mon, feed: feed, summaries: summaries, perms: perms}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

const validStart = `{"user":{"id":"u1","name":"Asha","emergency_contacts":[{"name":"Ravi","phone":"9876543210","priority":1}]},"location":{"latitude":19.07,"longitude":72.87}}`

func TestStatus(t *testing.T) {
	ts := newTestServer(t)
	rec, body := ts.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, false, body["monitoring"])
	assert.Equal(t, string(model.StatusIdle), body["sequence"])

	rec, _ = ts.do(t, http.MethodPost, "/status", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMonitorStartStop(t *testing.T) {
	ts := newTestServer(t)
	rec, body := ts.do(t, http.MethodPost, "/monitor/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["monitoring"])
	assert.True(t, ts.mon.Running())

	rec, _ = ts.do(t, http.MethodPost, "/monitor/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, ts.mon.Running())
	assert.Len(t, ts.feed.ListType(model.EventMonitoringStarted, 0), 1)
	assert.Len(t, ts.feed.ListType(model.EventMonitoringStopped, 0), 1)
}

func TestMonitorStartWithoutLocationPermission(t *testing.T) {
	ts := newTestServer(t)
	ts.perms.Set(model.PermissionLocation, false)
	rec, body := ts.do(t, http.MethodPost, "/monitor/start", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "denied", body["status"])
	assert.False(t, ts.mon.Running())
}

func TestSensorsBeforeFirstPoll(t *testing.T) {
	ts := newTestServer(t)
	rec, body := ts.do(t, http.MethodGet, "/sensors/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, body["sample"])

	rec, body = ts.do(t, http.MethodGet, "/sensors/history?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["count"])
}

func TestEmergencyLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec, body := ts.do(t, http.MethodPost, "/emergency/start", validStart)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.NotEmpty(t, body["session_id"])

	rec, body = ts.do(t, http.MethodGet, "/emergency/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(model.StatusCounting), body["status"])
	assert.Equal(t, float64(30), body["countdown_seconds"])

	rec, body = ts.do(t, http.MethodPost, "/emergency/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["cancelled"])

	rec, body = ts.do(t, http.MethodPost, "/emergency/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, false, body["cancelled"])

	rec, _ = ts.do(t, http.MethodPost, "/emergency/call-now", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEmergencyCallNow(t *testing.T) {
	ts := newTestServer(t)
	rec, body := ts.do(t, http.MethodPost, "/emergency/start", validStart)
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := body["session_id"].(string)

	rec, body = ts.do(t, http.MethodPost, "/emergency/call-now", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, body = ts.do(t, http.MethodGet, "/summaries/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body["session_id"])

	rec, body = ts.do(t, http.MethodGet, "/events?session="+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotZero(t, body["count"])
}

func TestEmergencyStartRejectsInvalidInput(t *testing.T) {
	ts := newTestServer(t)
	rec, body := ts.do(t, http.MethodPost, "/emergency/start", `{"user":{"name":"","emergency_contacts":[{"name":"Ravi","phone":"abc","priority":0}]}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errs, ok := body["errors"].([]any)
	require.True(t, ok)
	assert.Len(t, errs, 3)

	rec, _ = ts.do(t, http.MethodPost, "/emergency/start", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmergencyStartUsesConfiguredProfile(t *testing.T) {
	ts := newTestServer(t)
	cfg := *ts.cfg.Get()
	cfg.Emergency.Profile = &model.User{
		ID:                "u2",
		Name:              "Meera",
		EmergencyContacts: []model.EmergencyContact{{Name: "Ravi", Phone: "9876543210", Priority: 1}},
	}
	require.NoError(t, ts.cfg.Update(&cfg))

	rec, _ := ts.do(t, http.MethodPost, "/emergency/start", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
}

func TestDetectionConfigUpdate(t *testing.T) {
	ts := newTestServer(t)
	rec, body := ts.do(t, http.MethodGet, "/config/detection", "")
	require.Equal(t, http.StatusOK, rec.Code)
	det := body["detection"].(map[string]any)
	assert.Equal(t, 15.0, det["collision_threshold"])

	rec, _ = ts.do(t, http.MethodPost, "/config/detection", `{"collision_threshold":18}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 18.0, ts.cfg.Get().Detection.CollisionThreshold)
	assert.Equal(t, config.DefaultDetection().RolloverThreshold, ts.cfg.Get().Detection.RolloverThreshold)

	rec, _ = ts.do(t, http.MethodPost, "/config/detection", `{"rollover_threshold":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, config.DefaultDetection().RolloverThreshold, ts.cfg.Get().Detection.RolloverThreshold)
}

func TestEventsAndDetections(t *testing.T) {
	ts := newTestServer(t)
	ts.feed.Add(model.Event{Type: model.EventDetection, Data: map[string]any{"id": "d1"}})
	ts.feed.Add(model.Event{Type: model.EventCountdownTick})

	rec, body := ts.do(t, http.MethodGet, "/detections", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, body = ts.do(t, http.MethodGet, "/events?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, body = ts.do(t, http.MethodGet, "/events?type=countdown_tick", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, _ = ts.do(t, http.MethodGet, "/events?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/sessions", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSummariesNotFound(t *testing.T) {
	ts := newTestServer(t)
	rec, _ := ts.do(t, http.MethodGet, "/summaries/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, body := ts.do(t, http.MethodGet, "/summaries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["count"])
}

func TestAdminClear(t *testing.T) {
	ts := newTestServer(t)
	ts.feed.Add(model.Event{Type: model.EventCountdownTick})
	ts.summaries.Update("s1", []model.DispatchResult{{Channel: model.ChannelCall, Success: true}})

	rec, _ := ts.do(t, http.MethodPost, "/admin/clear", `{"target":"events"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, ts.feed.List(0))
	assert.Len(t, ts.summaries.GetAll(), 1)

	rec, _ = ts.do(t, http.MethodPost, "/admin/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, ts.summaries.GetAll())

	rec, _ = ts.do(t, http.MethodPost, "/admin/clear", `{"target":"everything"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
