package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"prativedak/internal/config"
	"prativedak/internal/model"
)

var ErrUnknownKind = errors.New("unknown reading kind")

// ReadingFields is one reading as raw strings, before units and types are
// resolved.
type ReadingFields struct {
	Timestamp string
	DeviceID  string
	Kind      string
	X         string
	Y         string
	Z         string
	Latitude  string
	Longitude string
	Speed     string
	Extras    map[string]string
	Raw       string
}

func Normalize(fields ReadingFields, cfg *config.Config) (model.Reading, error) {
	kind, err := ParseKind(fields)
	if err != nil {
		return model.Reading{}, err
	}

	device := strings.TrimSpace(fields.DeviceID)
	if device == "" {
		device = cfg.Ingest.Parser.DefaultDeviceID
	}

	loc := time.UTC
	if cfg.Ingest.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err == nil {
			loc = l
		}
	}
	ts := time.Now().UTC()
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc)
		if err != nil {
			return model.Reading{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}

	reading := model.Reading{Kind: kind, DeviceID: device, Timestamp: ts, Source: "log"}
	switch kind {
	case model.ReadingAccelerometer, model.ReadingGyroscope:
		v, err := parseVector(fields)
		if err != nil {
			return model.Reading{}, err
		}
		reading.Vector = v
	case model.ReadingLocation:
		fix, err := parseFix(fields, cfg.Ingest.Parser.SpeedUnit)
		if err != nil {
			return model.Reading{}, err
		}
		fix.Timestamp = ts
		reading.Fix = &fix
	}
	return reading, nil
}

// ParseKind resolves the reading kind, inferring location from coordinates
// when no kind is given.
func ParseKind(fields ReadingFields) (model.ReadingKind, error) {
	switch strings.ToLower(strings.TrimSpace(fields.Kind)) {
	case "accelerometer", "accel", "acc", "a":
		return model.ReadingAccelerometer, nil
	case "gyroscope", "gyro", "gyr", "g":
		return model.ReadingGyroscope, nil
	case "location", "gps", "loc", "l":
		return model.ReadingLocation, nil
	case "":
		if fields.Latitude != "" && fields.Longitude != "" {
			return model.ReadingLocation, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, fields.Kind)
}

// parseVector treats a missing axis as zero.
func parseVector(fields ReadingFields) (model.Vector3, error) {
	var v model.Vector3
	var err error
	if v.X, err = parseFloat(fields.X, "x"); err != nil {
		return v, err
	}
	if v.Y, err = parseFloat(fields.Y, "y"); err != nil {
		return v, err
	}
	if v.Z, err = parseFloat(fields.Z, "z"); err != nil {
		return v, err
	}
	return v, nil
}

func parseFix(fields ReadingFields, speedUnit string) (model.LocationFix, error) {
	if strings.TrimSpace(fields.Latitude) == "" || strings.TrimSpace(fields.Longitude) == "" {
		return model.LocationFix{}, errors.New("location requires latitude and longitude")
	}
	lat, err := parseFloat(fields.Latitude, "latitude")
	if err != nil {
		return model.LocationFix{}, err
	}
	lng, err := parseFloat(fields.Longitude, "longitude")
	if err != nil {
		return model.LocationFix{}, err
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return model.LocationFix{}, fmt.Errorf("coordinates out of range: %f,%f", lat, lng)
	}
	fix := model.LocationFix{Latitude: lat, Longitude: lng}
	if s := strings.TrimSpace(fields.Speed); s != "" && !strings.EqualFold(s, "null") {
		speed, err := parseFloat(s, "speed")
		if err != nil {
			return model.LocationFix{}, err
		}
		// receivers report -1 when speed is unknown
		if speed >= 0 {
			kmh := SpeedKMH(speed, speedUnit)
			fix.SpeedKMH = &kmh
		}
	}
	return fix, nil
}

func SpeedKMH(speed float64, unit string) float64 {
	if strings.EqualFold(unit, "kmh") {
		return speed
	}
	return speed * 3.6
}

func parseFloat(value, name string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "<nil>") {
		return 0, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return f, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	dot := false
	for _, ch := range value {
		if ch == '.' && !dot {
			dot = true
			continue
		}
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

// parseUnix accepts seconds or milliseconds; JSON numbers may arrive in
// float notation.
func parseUnix(value string) (time.Time, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return time.Time{}, err
	}
	if f >= 1e12 {
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC(), nil
}
