// Package ingest receives raw sensor readings from the phone over several
// transports and hands normalized readings to the sensor hub.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"prativedak/internal/config"
	"prativedak/internal/model"
	"prativedak/internal/normalize"
)

func SendNonBlocking(ctx context.Context, out chan<- model.Reading, r model.Reading, logger *slog.Logger) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("reading channel full, dropping reading", "kind", r.Kind, "device_id", r.DeviceID, "timestamp", r.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// emitLine parses one line from a stream transport and forwards every
// reading it yields. It returns the number forwarded.
func emitLine(ctx context.Context, line, source string, parser *Parser, cfg *config.Manager, out chan<- model.Reading, logger *slog.Logger) int {
	fields, err := parser.ParseLine(line)
	if err != nil {
		if logger != nil {
			logger.Debug("unparseable reading line", "source", source, "err", err)
		}
		return 0
	}
	return emitFields(ctx, fields, source, cfg.Get(), out, logger)
}

func emitFields(ctx context.Context, fields []normalize.ReadingFields, source string, cfg *config.Config, out chan<- model.Reading, logger *slog.Logger) int {
	sent := 0
	for _, f := range fields {
		r, err := normalize.Normalize(f, cfg)
		if err != nil {
			if logger != nil {
				logger.Warn(source+" normalize error", "err", err)
			}
			continue
		}
		r.Source = source
		if SendNonBlocking(ctx, out, r, logger) {
			sent++
		}
	}
	return sent
}
