package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"prativedak/internal/model"
)

type Config struct {
	LogLevel    string            `json:"log_level" yaml:"log_level"`
	Ingest      IngestConfig      `json:"ingest" yaml:"ingest"`
	Detection   DetectionConfig   `json:"detection" yaml:"detection"`
	Emergency   EmergencyConfig   `json:"emergency" yaml:"emergency"`
	Permissions PermissionsConfig `json:"permissions" yaml:"permissions"`
	Launcher    LauncherConfig    `json:"launcher" yaml:"launcher"`
	Twilio      TwilioConfig      `json:"twilio" yaml:"twilio"`
	Redis       RedisConfig       `json:"redis" yaml:"redis"`
	API         APIConfig         `json:"api" yaml:"api"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Events      EventsConfig      `json:"events" yaml:"events"`
	Summaries   SummariesConfig   `json:"summaries" yaml:"summaries"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	DedupeWindow  time.Duration   `json:"dedupe_window" yaml:"dedupe_window"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	MQTT          MQTTConfig      `json:"mqtt" yaml:"mqtt"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Broker   string `json:"broker" yaml:"broker"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Topic    string `json:"topic" yaml:"topic"`
	QoS      byte   `json:"qos" yaml:"qos"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

type ParserConfig struct {
	Timezone        string `json:"timezone" yaml:"timezone"`
	DefaultDeviceID string `json:"default_device_id" yaml:"default_device_id"`
	// SpeedUnit is the unit location speeds arrive in: "mps" or "kmh".
	SpeedUnit string `json:"speed_unit" yaml:"speed_unit"`
}

// SeverityBands split a positive reading into low / medium / high.
// A value at or above High is high, at or above Medium is medium, otherwise
// low.
type SeverityBands struct {
	Medium float64 `json:"medium" yaml:"medium"`
	High   float64 `json:"high" yaml:"high"`
}

// DetectionConfig thresholds use m/s² for acceleration, rad/s for rotation
// and km/h for speed.
type DetectionConfig struct {
	SampleInterval      time.Duration `json:"sample_interval" yaml:"sample_interval"`
	HistorySize         int           `json:"history_size" yaml:"history_size"`
	CollisionThreshold  float64       `json:"collision_threshold" yaml:"collision_threshold"`
	CollisionBands      SeverityBands `json:"collision_bands" yaml:"collision_bands"`
	RolloverThreshold   float64       `json:"rollover_threshold" yaml:"rollover_threshold"`
	RolloverBands       SeverityBands `json:"rollover_bands" yaml:"rollover_bands"`
	SuddenStopThreshold float64       `json:"sudden_stop_threshold" yaml:"sudden_stop_threshold"`
	SuddenStopAxis      string        `json:"sudden_stop_axis" yaml:"sudden_stop_axis"`
	SuddenStopBands     SeverityBands `json:"sudden_stop_bands" yaml:"sudden_stop_bands"`
	SpeedDeltaThreshold float64       `json:"speed_delta_threshold" yaml:"speed_delta_threshold"`
	SpeedDeltaBands     SeverityBands `json:"speed_delta_bands" yaml:"speed_delta_bands"`
}

type EmergencyConfig struct {
	CountdownSeconds       int           `json:"countdown_seconds" yaml:"countdown_seconds"`
	MessagingDelay         time.Duration `json:"messaging_delay" yaml:"messaging_delay"`
	DefaultEmergencyNumber string        `json:"default_emergency_number" yaml:"default_emergency_number"`
	CountryCode            string        `json:"country_code" yaml:"country_code"`
	AppName                string        `json:"app_name" yaml:"app_name"`
	// AutoStart opens the countdown as soon as the monitor flags an
	// accident, using Profile as the user.
	AutoStart bool        `json:"auto_start" yaml:"auto_start"`
	Profile   *model.User `json:"profile,omitempty" yaml:"profile,omitempty"`
}

// PermissionsConfig mirrors what the device granted the app.
type PermissionsConfig struct {
	Location bool `json:"location" yaml:"location"`
	Call     bool `json:"call" yaml:"call"`
	SMS      bool `json:"sms" yaml:"sms"`
}

type LauncherConfig struct {
	// InstalledSchemes are the URL schemes the device reports it can open.
	InstalledSchemes []string `json:"installed_schemes" yaml:"installed_schemes"`
}

type TwilioConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	AccountSID string `json:"account_sid" yaml:"account_sid"`
	AuthToken  string `json:"-" yaml:"auth_token"`
	FromNumber string `json:"from_number" yaml:"from_number"`
}

type RedisConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"-" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	Channel   string `json:"channel" yaml:"channel"`
	ListKey   string `json:"list_key" yaml:"list_key"`
	ListLimit int64  `json:"list_limit" yaml:"list_limit"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type EventsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type SummariesConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultDetection() DetectionConfig {
	return DetectionConfig{
		SampleInterval:      100 * time.Millisecond,
		HistorySize:         100,
		CollisionThreshold:  15,
		CollisionBands:      SeverityBands{Medium: 17, High: 20},
		RolloverThreshold:   5,
		RolloverBands:       SeverityBands{Medium: 7, High: 9},
		SuddenStopThreshold: 9,
		SuddenStopAxis:      "y",
		SuddenStopBands:     SeverityBands{Medium: 12, High: 15},
		SpeedDeltaThreshold: 20,
		SpeedDeltaBands:     SeverityBands{Medium: 30, High: 40},
	}
}

func DefaultEmergency() EmergencyConfig {
	return EmergencyConfig{
		CountdownSeconds:       30,
		MessagingDelay:         5 * time.Second,
		DefaultEmergencyNumber: "112",
		CountryCode:            "91",
		AppName:                "Prativedak Safety App",
		AutoStart:              true,
	}
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 1000,
			DedupeWindow:  2 * time.Second,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: false},
			Kafka:         KafkaConfig{Enabled: false},
			MQTT:          MQTTConfig{Enabled: false, ClientID: "prativedak", Topic: "prativedak/+/sensors", QoS: 1},
			Parser:        ParserConfig{Timezone: "UTC", DefaultDeviceID: "phone", SpeedUnit: "mps"},
		},
		Detection:   DefaultDetection(),
		Emergency:   DefaultEmergency(),
		Permissions: PermissionsConfig{Location: true, Call: true, SMS: true},
		Launcher:    LauncherConfig{InstalledSchemes: []string{"tel", "sms", "https"}},
		Twilio:      TwilioConfig{Enabled: false},
		Redis: RedisConfig{
			Enabled:   false,
			Addr:      "localhost:6379",
			Channel:   "prativedak:events",
			ListKey:   "prativedak:events:recent",
			ListLimit: 500,
		},
		API:       APIConfig{Enabled: true, Addr: ":8081"},
		Storage:   StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:prativedak.db?_pragma=busy_timeout(5000)"},
		Events:    EventsConfig{StoreLimit: 1000},
		Summaries: SummariesConfig{StoreLimit: 500},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultDetection()
	if cfg.Detection.SampleInterval <= 0 {
		cfg.Detection.SampleInterval = def.SampleInterval
	}
	if cfg.Detection.HistorySize <= 0 {
		cfg.Detection.HistorySize = def.HistorySize
	}
	if cfg.Detection.SuddenStopAxis == "" {
		cfg.Detection.SuddenStopAxis = def.SuddenStopAxis
	}
	if cfg.Emergency.CountdownSeconds <= 0 {
		cfg.Emergency.CountdownSeconds = 30
	}
	if cfg.Emergency.MessagingDelay < 0 {
		cfg.Emergency.MessagingDelay = 0
	}
	if cfg.Emergency.DefaultEmergencyNumber == "" {
		cfg.Emergency.DefaultEmergencyNumber = "112"
	}
	if cfg.Emergency.AppName == "" {
		cfg.Emergency.AppName = "Prativedak Safety App"
	}
	if cfg.Events.StoreLimit <= 0 {
		cfg.Events.StoreLimit = 1000
	}
	if cfg.Summaries.StoreLimit <= 0 {
		cfg.Summaries.StoreLimit = 500
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 1000
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Ingest.Parser.DefaultDeviceID == "" {
		cfg.Ingest.Parser.DefaultDeviceID = "phone"
	}
	if cfg.Ingest.Parser.SpeedUnit == "" {
		cfg.Ingest.Parser.SpeedUnit = "mps"
	}
	if cfg.Redis.ListLimit <= 0 {
		cfg.Redis.ListLimit = 500
	}
}

// ApplyEnv overrides secrets and endpoints from the environment. Callers
// load a .env file first when one is present.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("TWILIO_ACCOUNT_SID"); v != "" {
		cfg.Twilio.AccountSID = v
		cfg.Twilio.Enabled = true
	}
	if v := os.Getenv("TWILIO_AUTH_TOKEN"); v != "" {
		cfg.Twilio.AuthToken = v
	}
	if v := os.Getenv("TWILIO_FROM_NUMBER"); v != "" {
		cfg.Twilio.FromNumber = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.MQTT.Enabled && (cfg.Ingest.MQTT.Broker == "" || cfg.Ingest.MQTT.Topic == "") {
		return errors.New("ingest.mqtt requires broker and topic")
	}
	switch strings.ToLower(cfg.Ingest.Parser.SpeedUnit) {
	case "mps", "kmh":
	default:
		return fmt.Errorf("ingest.parser.speed_unit must be mps or kmh, got %q", cfg.Ingest.Parser.SpeedUnit)
	}
	if err := ValidateDetection(cfg.Detection); err != nil {
		return err
	}
	if cfg.Twilio.Enabled && (cfg.Twilio.AccountSID == "" || cfg.Twilio.AuthToken == "" || cfg.Twilio.FromNumber == "") {
		return errors.New("twilio requires account_sid, auth_token, from_number")
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return errors.New("redis.addr required when redis.enabled is true")
	}
	return nil
}

func ValidateDetection(d DetectionConfig) error {
	checks := []struct {
		name      string
		threshold float64
		bands     SeverityBands
	}{
		{"collision", d.CollisionThreshold, d.CollisionBands},
		{"rollover", d.RolloverThreshold, d.RolloverBands},
		{"sudden_stop", d.SuddenStopThreshold, d.SuddenStopBands},
		{"speed_delta", d.SpeedDeltaThreshold, d.SpeedDeltaBands},
	}
	for _, c := range checks {
		if c.threshold <= 0 {
			return fmt.Errorf("detection.%s_threshold must be > 0", c.name)
		}
		if c.bands.Medium > c.bands.High {
			return fmt.Errorf("detection.%s_bands.medium must not exceed high", c.name)
		}
	}
	switch d.SuddenStopAxis {
	case "", "x", "y", "z":
	default:
		return fmt.Errorf("detection.sudden_stop_axis must be x, y or z: %q", d.SuddenStopAxis)
	}
	if d.SampleInterval <= 0 {
		return fmt.Errorf("detection.sample_interval must be > 0: %s", d.SampleInterval)
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config that is never written back.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
