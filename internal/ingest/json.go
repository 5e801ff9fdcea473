package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"prativedak/internal/normalize"
)

var nestedKinds = map[string]string{
	"accelerometer": "accelerometer",
	"accel":         "accelerometer",
	"gyroscope":     "gyroscope",
	"gyro":          "gyroscope",
	"location":      "location",
	"gps":           "location",
	"coords":        "location",
}

func ParseJSONBytes(data []byte) ([]normalize.ReadingFields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

// ParseJSONMap accepts a single reading or a combined sample whose sensors
// are nested objects. A combined sample yields one reading per sensor.
func ParseJSONMap(obj map[string]interface{}) []normalize.ReadingFields {
	flat := map[string]string{}
	var nested []normalize.ReadingFields
	for key, val := range obj {
		key = strings.ToLower(key)
		if inner, ok := val.(map[string]interface{}); ok {
			if kind, known := nestedKinds[key]; known {
				f := fieldsFromMap(flatten(inner))
				f.Kind = kind
				nested = append(nested, f)
			}
			continue
		}
		flat[key] = stringify(val)
	}
	base := fieldsFromMap(flat)
	if len(nested) == 0 {
		return []normalize.ReadingFields{base}
	}
	for i := range nested {
		if nested[i].Timestamp == "" {
			nested[i].Timestamp = base.Timestamp
		}
		if nested[i].DeviceID == "" {
			nested[i].DeviceID = base.DeviceID
		}
	}
	return nested
}

func flatten(obj map[string]interface{}) map[string]string {
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		out[strings.ToLower(k)] = stringify(v)
	}
	return out
}

func fieldsFromMap(m map[string]string) normalize.ReadingFields {
	return normalize.ReadingFields{
		Timestamp: firstNonEmpty(m, "timestamp", "time", "ts"),
		DeviceID:  firstNonEmpty(m, "device_id", "device", "deviceid", "phone"),
		Kind:      firstNonEmpty(m, "kind", "sensor", "type"),
		X:         firstNonEmpty(m, "x", "ax", "gx"),
		Y:         firstNonEmpty(m, "y", "ay", "gy"),
		Z:         firstNonEmpty(m, "z", "az", "gz"),
		Latitude:  firstNonEmpty(m, "latitude", "lat"),
		Longitude: firstNonEmpty(m, "longitude", "lng", "lon"),
		Speed:     firstNonEmpty(m, "speed", "velocity"),
		Extras:    m,
	}
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	}
	return fmt.Sprint(v)
}
