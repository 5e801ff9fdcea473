package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prativedak/internal/config"
	"prativedak/internal/model"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time %q: %v", value, err)
	}
	return ts
}

func speed(v float64) *float64 { return &v }

func TestHubKeepsLatestPerSensor(t *testing.T) {
	hub := NewHub(0, nil)
	assert.Nil(t, hub.Accelerometer())
	assert.Nil(t, hub.Gyroscope())
	assert.Nil(t, hub.Location())

	base := mustTime(t, "2026-02-23T12:00:00Z")
	assert.True(t, hub.Apply(model.Reading{Kind: model.ReadingAccelerometer, Vector: model.Vector3{Z: 9.8}, Timestamp: base}))
	assert.True(t, hub.Apply(model.Reading{Kind: model.ReadingAccelerometer, Vector: model.Vector3{X: 3, Z: 9.8}, Timestamp: base.Add(time.Second)}))
	assert.True(t, hub.Apply(model.Reading{Kind: model.ReadingGyroscope, Vector: model.Vector3{Y: 1}, Timestamp: base}))
	assert.True(t, hub.Apply(model.Reading{
		Kind:      model.ReadingLocation,
		Fix:       &model.LocationFix{Latitude: 19.07, Longitude: 72.87, SpeedKMH: speed(40), Timestamp: base},
		Timestamp: base,
	}))

	require.NotNil(t, hub.Accelerometer())
	assert.Equal(t, 3.0, hub.Accelerometer().X)
	assert.Equal(t, 1.0, hub.Gyroscope().Y)
	require.NotNil(t, hub.Location())
	assert.Equal(t, 19.07, hub.Location().Latitude)

	status := hub.Status()
	assert.Equal(t, int64(4), status.Readings)
	assert.Equal(t, base.Add(time.Second), status.Updated[model.ReadingAccelerometer])

	hub.Reset()
	assert.Nil(t, hub.Accelerometer())
	assert.Equal(t, int64(0), hub.Status().Readings)
}

func TestHubReturnsCopies(t *testing.T) {
	hub := NewHub(0, nil)
	hub.Apply(model.Reading{Kind: model.ReadingGyroscope, Vector: model.Vector3{X: 1}, Timestamp: time.Now()})
	v := hub.Gyroscope()
	v.X = 99
	assert.Equal(t, 1.0, hub.Gyroscope().X)
}

func TestHubDropsDuplicates(t *testing.T) {
	hub := NewHub(time.Minute, nil)
	r := model.Reading{Kind: model.ReadingAccelerometer, DeviceID: "phone01", Vector: model.Vector3{Z: 9.8}, Timestamp: mustTime(t, "2026-02-23T12:00:00Z")}
	assert.True(t, hub.Apply(r))
	r.Source = "mqtt"
	assert.False(t, hub.Apply(r), "same reading over a second transport")
	assert.Equal(t, int64(1), hub.Status().Readings)

	hub.SetDedupeWindow(0)
	assert.True(t, hub.Apply(r))
}

func TestHubRejectsLocationWithoutFix(t *testing.T) {
	hub := NewHub(0, nil)
	assert.False(t, hub.Apply(model.Reading{Kind: model.ReadingLocation, Timestamp: time.Now()}))
	assert.False(t, hub.Apply(model.Reading{Kind: "barometer", Timestamp: time.Now()}))
	assert.Nil(t, hub.Location())
}

func TestHubRun(t *testing.T) {
	hub := NewHub(0, nil)
	in := make(chan model.Reading)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx, in)
		close(done)
	}()
	in <- model.Reading{Kind: model.ReadingGyroscope, Vector: model.Vector3{Z: 2}, Timestamp: time.Now()}
	assert.Eventually(t, func() bool { return hub.Gyroscope() != nil }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("hub did not stop")
	}
}

func TestRESTSamples(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Ingest.Parser.DefaultDeviceID = "phone01"
	out := make(chan model.Reading, 8)
	srv := httptest.NewServer(NewRESTServer(config.NewStaticManager(cfg), out, nil).Handler())
	defer srv.Close()

	body := `[{"timestamp":"2026-02-23T12:00:00Z","accelerometer":{"x":0,"y":0,"z":9.8},"location":{"lat":19.07,"lng":72.87,"speed":10}},` +
		`{"timestamp":"2026-02-23T12:00:01Z","kind":"barometer"}]`
	resp, err := http.Post(srv.URL+"/samples", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []model.Reading
	for len(out) > 0 {
		got = append(got, <-out)
	}
	require.Len(t, got, 2)
	for _, r := range got {
		assert.Equal(t, "rest", r.Source)
		assert.Equal(t, "phone01", r.DeviceID)
		if r.Kind == model.ReadingLocation {
			require.NotNil(t, r.Fix.SpeedKMH)
			assert.InDelta(t, 36.0, *r.Fix.SpeedKMH, 1e-9)
		}
	}
}

func TestRESTRejectsBadRequests(t *testing.T) {
	out := make(chan model.Reading, 1)
	handler := NewRESTServer(config.NewStaticManager(config.DefaultConfig()), out, nil).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/samples", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/samples", strings.NewReader("  ")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/samples", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMQTTPayloadTakesDeviceFromTopic(t *testing.T) {
	out := make(chan model.Reading, 4)
	mgr := config.NewStaticManager(config.DefaultConfig())
	payload := []byte(`{"timestamp":"2026-02-23T12:00:00Z","sensor":"accel","x":1,"y":2,"z":3}`)

	n := handleMQTTPayload(context.Background(), "prativedak/phone42/sensors", payload, mgr, NewParser(), out, nil)
	require.Equal(t, 1, n)
	r := <-out
	assert.Equal(t, "phone42", r.DeviceID)
	assert.Equal(t, "mqtt", r.Source)
	assert.Equal(t, model.Vector3{X: 1, Y: 2, Z: 3}, r.Vector)

	assert.Equal(t, 0, handleMQTTPayload(context.Background(), "prativedak/phone42/sensors", []byte("  "), mgr, NewParser(), out, nil))
	assert.Equal(t, "", deviceFromTopic("sensors"))
}

func TestSendNonBlockingDropsWhenFull(t *testing.T) {
	out := make(chan model.Reading, 1)
	ctx := context.Background()
	assert.True(t, SendNonBlocking(ctx, out, model.Reading{}, nil))
	assert.False(t, SendNonBlocking(ctx, out, model.Reading{}, nil))
}

func TestEmitLineCountsForwarded(t *testing.T) {
	out := make(chan model.Reading, 4)
	mgr := config.NewStaticManager(config.DefaultConfig())
	p := NewParser()
	assert.Equal(t, 1, emitLine(context.Background(), "2026-02-23 12:00:00 gyro x=0 y=6 z=0", "test", p, mgr, out, nil))
	assert.Equal(t, 0, emitLine(context.Background(), "2026-02-23 12:00:00 humidity value=3", "test", p, mgr, out, nil))
}
