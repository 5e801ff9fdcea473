package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"

	"prativedak/internal/config"
	"prativedak/internal/model"
)

// StartTCPStream accepts newline-delimited readings, one connection per
// phone or gateway.
func StartTCPStream(ctx context.Context, cfg *config.Manager, out chan<- model.Reading, logger *slog.Logger) net.Listener {
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return nil
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "err", err)
		}
		return nil
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", ln.Addr().String())
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				if logger != nil {
					logger.Warn("tcp stream accept error", "err", err)
				}
				continue
			}
			go handleTCPStreamConn(ctx, conn, cfg, out, logger)
		}
	}()
	return ln
}

func handleTCPStreamConn(ctx context.Context, conn net.Conn, cfg *config.Manager, out chan<- model.Reading, logger *slog.Logger) {
	defer conn.Close()
	// each connection gets its own CSV header state
	parser := NewParser()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		emitLine(ctx, scanner.Text(), "tcp_stream", parser, cfg, out, logger)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if err := scanner.Err(); err != nil && logger != nil {
		logger.Warn("tcp stream scanner error", "remote", conn.RemoteAddr().String(), "err", err)
	}
}
