package model

import (
	"math"
	"time"
)

type Vector3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

func (v Vector3) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// LocationFix is one GPS fix. SpeedKMH is nil when the receiver did not
// report a speed.
type LocationFix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	SpeedKMH  *float64  `json:"speed_kmh,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type MotionSample struct {
	Accelerometer *Vector3     `json:"accelerometer,omitempty"`
	Gyroscope     *Vector3     `json:"gyroscope,omitempty"`
	Location      *LocationFix `json:"location,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}

func (s *MotionSample) Complete() bool {
	return s != nil && s.Accelerometer != nil && s.Gyroscope != nil && s.Location != nil
}

type AccidentType string

const (
	AccidentNone       AccidentType = "none"
	AccidentCollision  AccidentType = "collision"
	AccidentRollover   AccidentType = "rollover"
	AccidentSuddenStop AccidentType = "sudden_stop"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Classification struct {
	IsAccident bool         `json:"is_accident"`
	Type       AccidentType `json:"type"`
	Confidence float64      `json:"confidence"`
	Severity   Severity     `json:"severity"`
	Rule       string       `json:"rule,omitempty"`
	Value      float64      `json:"value,omitempty"`
}

func NoAccident() Classification {
	return Classification{Type: AccidentNone, Severity: SeverityLow}
}

type Detection struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	Classification Classification `json:"classification"`
	Sample         MotionSample   `json:"sample"`
}

type ReadingKind string

const (
	ReadingAccelerometer ReadingKind = "accelerometer"
	ReadingGyroscope     ReadingKind = "gyroscope"
	ReadingLocation      ReadingKind = "location"
)

// Reading is a single normalized sensor value as it arrives from ingest.
type Reading struct {
	Kind      ReadingKind  `json:"kind"`
	DeviceID  string       `json:"device_id,omitempty"`
	Vector    Vector3      `json:"vector,omitempty"`
	Fix       *LocationFix `json:"fix,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Source    string       `json:"source,omitempty"`
}
