package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"

	"zoneguard/internal/config"
	"zoneguard/internal/model"
)

// StartTCPStream accepts connections carrying newline-delimited JSON batches.
func StartTCPStream(ctx context.Context, cfg *config.Manager, out chan<- model.DetectionBatch, logger *slog.Logger) net.Listener {
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", current.Addr)
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "err", err)
		}
		return nil
	}
	ServeTCPStream(ctx, ln, out, logger)
	return ln
}

// ServeTCPStream runs the accept loop on ln until ctx is done.
func ServeTCPStream(ctx context.Context, ln net.Listener, out chan<- model.DetectionBatch, logger *slog.Logger) {
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
			go handleTCPStreamConn(ctx, conn, out, logger)
		}
	}()
}

func handleTCPStreamConn(ctx context.Context, conn net.Conn, out chan<- model.DetectionBatch, logger *slog.Logger) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		batches, err := ParseJSONBytes(line)
		if err != nil {
			if logger != nil {
				logger.Warn("tcp stream decode error", "remote", conn.RemoteAddr().String(), "err", err)
			}
			continue
		}
		for _, b := range batches {
			SendNonBlocking(ctx, out, b, logger)
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if err := scanner.Err(); err != nil && logger != nil {
		logger.Warn("tcp stream scanner error", "err", err)
	}
}
