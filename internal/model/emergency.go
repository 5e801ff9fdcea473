package model

import "time"

type EmergencyContact struct {
	Name         string `json:"name" yaml:"name" validate:"required"`
	Phone        string `json:"phone" yaml:"phone" validate:"required,phone"`
	Relationship string `json:"relationship,omitempty" yaml:"relationship"`
	Priority     int    `json:"priority" yaml:"priority" validate:"gte=1"`
}

type User struct {
	ID                string             `json:"id" yaml:"id"`
	Name              string             `json:"name" yaml:"name" validate:"required"`
	Phone             string             `json:"phone,omitempty" yaml:"phone"`
	VehicleNumber     string             `json:"vehicle_number,omitempty" yaml:"vehicle_number"`
	EmergencyContacts []EmergencyContact `json:"emergency_contacts" yaml:"emergency_contacts" validate:"dive"`
}

type Location struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

// Known reports whether the location carries real coordinates. A zero on
// either axis is the mobile client's "no fix" value.
func (l *Location) Known() bool {
	return l != nil && l.Latitude != 0 && l.Longitude != 0
}

type Channel string

const (
	ChannelCall      Channel = "call"
	ChannelSMS       Channel = "sms"
	ChannelMessaging Channel = "messaging"
)

type DispatchResult struct {
	Contact   string    `json:"contact"`
	Phone     string    `json:"phone"`
	Channel   Channel   `json:"channel"`
	Success   bool      `json:"success"`
	Automatic bool      `json:"automatic"`
	Method    string    `json:"method,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

type SequenceStatus string

const (
	StatusIdle        SequenceStatus = "idle"
	StatusCounting    SequenceStatus = "counting"
	StatusCancelled   SequenceStatus = "cancelled"
	StatusDispatching SequenceStatus = "dispatching"
	StatusCompleted   SequenceStatus = "completed"
)

func (s SequenceStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

type SequenceState struct {
	SessionID        string           `json:"session_id,omitempty"`
	CountdownSeconds int              `json:"countdown_seconds"`
	Status           SequenceStatus   `json:"status"`
	StartedAt        time.Time        `json:"started_at,omitempty"`
	FinishedAt       time.Time        `json:"finished_at,omitempty"`
	Results          []DispatchResult `json:"results,omitempty"`
}

// Session is the persisted record of one dispatch session.
type Session struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	UserName   string           `json:"user_name"`
	Status     SequenceStatus   `json:"status"`
	Location   *Location        `json:"location,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Results    []DispatchResult `json:"results"`
}

type ChannelSummary struct {
	Channel   Channel `json:"channel"`
	Attempted int     `json:"attempted"`
	Succeeded int     `json:"succeeded"`
	Automatic int     `json:"automatic"`
	Failed    int     `json:"failed"`
}

type DispatchSummary struct {
	SessionID string           `json:"session_id"`
	Channels  []ChannelSummary `json:"channels"`
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
}

type Permission string

const (
	PermissionLocation Permission = "location"
	PermissionCall     Permission = "call"
	PermissionSMS      Permission = "sms"
)

type EventType string

const (
	EventDetection         EventType = "detection"
	EventCountdownStarted  EventType = "countdown_started"
	EventCountdownTick     EventType = "countdown_tick"
	EventSequenceCancelled EventType = "sequence_cancelled"
	EventSequenceDispatch  EventType = "sequence_dispatching"
	EventSequenceCompleted EventType = "sequence_completed"
	EventOpenURL           EventType = "open_url"
	EventMonitoringStarted EventType = "monitoring_started"
	EventMonitoringStopped EventType = "monitoring_stopped"
)

type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	Data      any       `json:"data,omitempty"`
}
