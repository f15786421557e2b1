package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"zoneguard/internal/config"
	"zoneguard/internal/model"
)

// StartReplay feeds recorded NDJSON batch files into the pipeline, in file order.
// With Follow set each file is tailed after its end is reached.
func StartReplay(ctx context.Context, cfg *config.Manager, out chan<- model.DetectionBatch, logger *slog.Logger) {
	current := cfg.Get().Ingest.Replay
	if !current.Enabled {
		if logger != nil {
			logger.Info("replay ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		if logger != nil {
			logger.Info("replay ingest enabled", "path", path, "follow", current.Follow)
		}
		go ReplayFile(ctx, path, current.Follow, out, logger)
	}
}

// ReplayFile returns when the file is exhausted (follow=false) or ctx is done.
func ReplayFile(ctx context.Context, path string, follow bool, out chan<- model.DetectionBatch, logger *slog.Logger) {
	var file *os.File
	var offset int64
	defer func() {
		if file != nil {
			_ = file.Close()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("replay open failed", "path", path, "err", err)
				}
				if !follow || !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
		}

		reader := bufio.NewReader(file)
		for {
			line, err := reader.ReadString('\n')
			if len(line) > 0 && (err == nil || !follow) {
				offset += int64(len(line))
				replayLine(ctx, line, path, out, logger)
			}
			if err == nil {
				continue
			}
			if err != io.EOF {
				if logger != nil {
					logger.Warn("replay read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			if !follow {
				return
			}
			// Partial trailing line: rewind so it is read whole next time.
			if len(line) > 0 {
				if _, seekErr := file.Seek(offset, io.SeekStart); seekErr == nil {
					reader.Reset(file)
				}
			}
			if !BackoffSleep(ctx, 200*time.Millisecond) {
				return
			}
			info, statErr := os.Stat(path)
			if statErr == nil && info.Size() < offset {
				_ = file.Close()
				file = nil
				break
			}
		}
	}
}

func replayLine(ctx context.Context, line, path string, out chan<- model.DetectionBatch, logger *slog.Logger) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	batches, err := ParseJSONBytes([]byte(line))
	if err != nil {
		if logger != nil {
			logger.Warn("replay decode error", "path", path, "err", err)
		}
		return
	}
	for _, b := range batches {
		if !SendBlocking(ctx, out, b) {
			return
		}
	}
}
