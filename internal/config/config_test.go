package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "prativedak.yaml", `
log_level: debug
detection:
  sample_interval: 50ms
  collision_threshold: 18
  collision_bands: {medium: 20, high: 24}
emergency:
  countdown_seconds: 10
  auto_start: false
  profile:
    id: u1
    name: Asha
    emergency_contacts:
      - {name: Ravi, phone: "9876543210", priority: 1}
ingest:
  mqtt:
    enabled: true
    broker: tcp://localhost:1883
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 50*time.Millisecond, cfg.Detection.SampleInterval)
	assert.Equal(t, 18.0, cfg.Detection.CollisionThreshold)
	assert.Equal(t, 5.0, cfg.Detection.RolloverThreshold, "unset thresholds keep defaults")
	assert.Equal(t, 10, cfg.Emergency.CountdownSeconds)
	assert.False(t, cfg.Emergency.AutoStart)
	require.NotNil(t, cfg.Emergency.Profile)
	assert.Equal(t, "Ravi", cfg.Emergency.Profile.EmergencyContacts[0].Name)
	assert.Equal(t, "prativedak/+/sensors", cfg.Ingest.MQTT.Topic)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "prativedak.json", `{"api":{"enabled":true,"addr":":9090"},"emergency":{"country_code":"1"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.API.Addr)
	assert.Equal(t, "1", cfg.Emergency.CountryCode)
	assert.Equal(t, 30, cfg.Emergency.CountdownSeconds)
}

func TestLoadRejectsEmptyAndInvalid(t *testing.T) {
	_, err := Load(writeFile(t, "empty.yaml", "  \n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "ingest:\n  parser:\n    speed_unit: mph\n"))
	assert.ErrorContains(t, err, "speed_unit")

	_, err = Load(writeFile(t, "kafka.yaml", "ingest:\n  kafka:\n    enabled: true\n"))
	assert.ErrorContains(t, err, "kafka")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("TWILIO_FROM_NUMBER", "+15550000000")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("STORAGE_DSN", "postgres://db/prativedak")

	cfg := DefaultConfig()
	ApplyEnv(cfg)
	assert.True(t, cfg.Twilio.Enabled)
	assert.Equal(t, "secret", cfg.Twilio.AuthToken)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "postgres://db/prativedak", cfg.Storage.DSN)
	assert.NoError(t, Validate(cfg))
}

func TestValidateTwilioNeedsCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Twilio.Enabled = true
	assert.Error(t, Validate(cfg))
}

func TestValidateDetection(t *testing.T) {
	d := DefaultDetection()
	assert.NoError(t, ValidateDetection(d))

	d.SuddenStopThreshold = 0
	assert.ErrorContains(t, ValidateDetection(d), "sudden_stop")

	d = DefaultDetection()
	d.RolloverBands = SeverityBands{Medium: 10, High: 8}
	assert.ErrorContains(t, ValidateDetection(d), "rollover_bands")

	d = DefaultDetection()
	d.SuddenStopAxis = "w"
	assert.ErrorContains(t, ValidateDetection(d), "sudden_stop_axis")

	d = DefaultDetection()
	d.SampleInterval = 0
	assert.Error(t, ValidateDetection(d))
}

func TestManagerUpdateAndReload(t *testing.T) {
	path := writeFile(t, "prativedak.yaml", "log_level: info\n")
	m, err := NewManager(path)
	require.NoError(t, err)

	next := *m.Get()
	next.Detection.CollisionThreshold = 22
	require.NoError(t, m.Update(&next))
	assert.Equal(t, 22.0, m.Get().Detection.CollisionThreshold)

	needs, err := m.NeedsReload()
	require.NoError(t, err)
	assert.False(t, needs)

	reloaded, err := m.Reload()
	require.NoError(t, err)
	assert.Equal(t, 22.0, reloaded.Detection.CollisionThreshold)
}

func TestStaticManagerDoesNotWrite(t *testing.T) {
	m := NewStaticManager(DefaultConfig())
	assert.Equal(t, "", m.Path())
	next := *m.Get()
	next.LogLevel = "debug"
	require.NoError(t, m.Update(&next))
	assert.Equal(t, "debug", m.Get().LogLevel)
	needs, err := m.NeedsReload()
	require.NoError(t, err)
	assert.False(t, needs)
}
