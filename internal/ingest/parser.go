package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"
	"sync"

	"prativedak/internal/model"
	"prativedak/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=([^\s]+)`)
)

// Parser reads recorded sensor lines: JSON, CSV with or without a header,
// or "timestamp key=value ..." text.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

func (p *Parser) ParseLine(line string) ([]normalize.ReadingFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" || strings.HasPrefix(trim, "#") {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if fields, err := ParseJSONBytes([]byte(trim)); err == nil {
			return withRaw(fields, line), nil
		}
	}
	if strings.Contains(trim, ",") && !strings.Contains(trim, "=") {
		fields, err := p.csv.Parse(trim)
		if err == nil {
			if fields == nil {
				return nil, nil
			}
			return withRaw([]normalize.ReadingFields{*fields}, line), nil
		}
	}
	fields := parsePlain(trim)
	return withRaw([]normalize.ReadingFields{fields}, line), nil
}

func withRaw(fields []normalize.ReadingFields, raw string) []normalize.ReadingFields {
	for i := range fields {
		fields[i].Raw = raw
	}
	return fields
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parsePlain(line string) normalize.ReadingFields {
	ts, rest := extractTimestamp(line)
	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(rest, -1) {
		kv[strings.ToLower(match[1])] = match[2]
	}
	fields := fieldsFromMap(kv)
	if ts != "" {
		fields.Timestamp = ts
	}
	if fields.Kind == "" {
		if tokens := strings.Fields(rest); len(tokens) > 0 && !strings.Contains(tokens[0], "=") {
			fields.Kind = tokens[0]
		}
	}
	return fields
}

func extractTimestamp(line string) (string, string) {
	m := reTimestamp.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		ts := strings.TrimSpace(line[m[2]:m[3]])
		rest := strings.TrimSpace(line[m[3]:])
		return ts, rest
	}
	return "", line
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

// CSVParser remembers the header of the stream it reads. Without a header,
// columns are timestamp,kind,a,b,c where a,b,c are x,y,z or lat,lng,speed.
type CSVParser struct {
	mu     sync.Mutex
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (*normalize.ReadingFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	if p.header != nil {
		m := make(map[string]string, len(p.header))
		for i, name := range p.header {
			if i >= len(record) {
				break
			}
			m[name] = strings.TrimSpace(record[i])
		}
		f := fieldsFromMap(m)
		return &f, nil
	}
	return positional(record), nil
}

func positional(record []string) *normalize.ReadingFields {
	col := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}
	f := &normalize.ReadingFields{Timestamp: col(0), Kind: col(1), Extras: map[string]string{}}
	kind, _ := normalize.ParseKind(normalize.ReadingFields{Kind: f.Kind})
	if kind == model.ReadingLocation {
		f.Latitude, f.Longitude, f.Speed = col(2), col(3), col(4)
	} else {
		f.X, f.Y, f.Z = col(2), col(3), col(4)
	}
	f.DeviceID = col(5)
	return f
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "timestamp", "time", "ts", "kind", "sensor", "latitude", "lat", "device_id", "device":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}
