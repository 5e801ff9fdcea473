// Package classifier turns a motion sample and its recent history into an
// accident classification. It has no state and no side effects.
package classifier

import (
	"math"
	"time"

	"prativedak/internal/config"
	"prativedak/internal/model"
)

const (
	RuleCollision  = "collision_impact"
	RuleRollover   = "rollover_rotation"
	RuleSuddenStop = "sudden_stop_axis"
	RuleGPSStop    = "sudden_stop_deceleration"
	RuleSpeedDelta = "speed_delta"
)

// Classify evaluates the rules in order and returns the first match:
// impact, rotation, negative acceleration on the sudden stop axis, GPS
// deceleration, then raw speed change between fixes.
// An incomplete sample classifies as none.
func Classify(cfg config.DetectionConfig, sample *model.MotionSample, history []model.MotionSample) model.Classification {
	if !sample.Complete() {
		return model.NoAccident()
	}

	accel := sample.Accelerometer.Magnitude()
	if accel > cfg.CollisionThreshold {
		return positive(model.AccidentCollision, RuleCollision, accel, cfg.CollisionThreshold, cfg.CollisionBands)
	}

	gyro := sample.Gyroscope.Magnitude()
	if gyro > cfg.RolloverThreshold {
		return positive(model.AccidentRollover, RuleRollover, gyro, cfg.RolloverThreshold, cfg.RolloverBands)
	}

	if c := axisComponent(*sample.Accelerometer, cfg.SuddenStopAxis); c < -cfg.SuddenStopThreshold {
		return positive(model.AccidentSuddenStop, RuleSuddenStop, -c, cfg.SuddenStopThreshold, cfg.SuddenStopBands)
	}

	prev, ok := previousFix(sample, history)
	if !ok {
		return model.NoAccident()
	}
	cur := sample.Location
	delta := *cur.SpeedKMH - *prev.SpeedKMH

	if dt := fixTime(cur, sample.Timestamp).Sub(prev.Timestamp).Seconds(); dt > 0 && delta < 0 {
		decel := (-delta / 3.6) / dt
		if decel > cfg.SuddenStopThreshold {
			return positive(model.AccidentSuddenStop, RuleGPSStop, decel, cfg.SuddenStopThreshold, cfg.SuddenStopBands)
		}
	}

	if change := math.Abs(delta); change > cfg.SpeedDeltaThreshold {
		return positive(model.AccidentCollision, RuleSpeedDelta, change, cfg.SpeedDeltaThreshold, cfg.SpeedDeltaBands)
	}
	return model.NoAccident()
}

// axisComponent reads the forward or vertical axis of a device reading.
// Unset means y, the long edge of a phone mounted in portrait.
func axisComponent(v model.Vector3, axis string) float64 {
	switch axis {
	case "x":
		return v.X
	case "z":
		return v.Z
	default:
		return v.Y
	}
}

// previousFix picks the newest history fix strictly older than the current
// one. Both fixes must carry a speed.
func previousFix(sample *model.MotionSample, history []model.MotionSample) (model.LocationFix, bool) {
	cur := sample.Location
	if cur.SpeedKMH == nil {
		return model.LocationFix{}, false
	}
	curAt := fixTime(cur, sample.Timestamp)
	for i := len(history) - 1; i >= 0; i-- {
		h := history[i]
		if h.Location == nil {
			continue
		}
		at := fixTime(h.Location, h.Timestamp)
		if !at.Before(curAt) {
			continue
		}
		if h.Location.SpeedKMH == nil {
			return model.LocationFix{}, false
		}
		fix := *h.Location
		fix.Timestamp = at
		return fix, true
	}
	return model.LocationFix{}, false
}

func fixTime(fix *model.LocationFix, fallback time.Time) time.Time {
	if fix.Timestamp.IsZero() {
		return fallback
	}
	return fix.Timestamp
}

func positive(kind model.AccidentType, rule string, value, threshold float64, bands config.SeverityBands) model.Classification {
	return model.Classification{
		IsAccident: true,
		Type:       kind,
		Confidence: math.Min(value/threshold, 1),
		Severity:   severity(value, bands),
		Rule:       rule,
		Value:      value,
	}
}

func severity(value float64, bands config.SeverityBands) model.Severity {
	switch {
	case value >= bands.High:
		return model.SeverityHigh
	case value >= bands.Medium:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}
