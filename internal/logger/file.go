package logger

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileLogger implements Tier 2: File-based logging
// Features:
// - Rotating file logs with lumberjack, split across two sibling files:
//   durable job-lifecycle entries (LogSourceJob — fetch/ack/state
//   transitions) land in a separate rotated file from internal component
//   chatter (LogSourceInternal — watcher cycles, lock contention), so an
//   operator can tail job history without internal noise and vice versa
// - Async channel-based buffering
// - Batch writes (100 entries or 100ms)
// - Automatic compression of rotated logs
// - <5μs overhead per log
type FileLogger struct {
	config    *Config
	internal  *lumberjack.Logger
	jobs      *lumberjack.Logger
	buffer    chan *LogEntry
	batchBuf  []*LogEntry
	closeChan chan struct{}
	wg        sync.WaitGroup
}

// NewFileLogger creates a new file logger
func NewFileLogger(config *Config) (*FileLogger, error) {
	if !config.File.Enabled {
		return nil, fmt.Errorf("file logging is not enabled")
	}

	internal := &lumberjack.Logger{
		Filename:   config.File.Path,
		MaxSize:    config.File.MaxSizeMB,
		MaxBackups: config.File.MaxBackups,
		MaxAge:     config.File.MaxAgeDays,
		Compress:   config.File.Compress,
	}
	jobs := &lumberjack.Logger{
		Filename:   jobLifecyclePath(config.File.Path),
		MaxSize:    config.File.MaxSizeMB,
		MaxBackups: config.File.MaxBackups,
		MaxAge:     config.File.MaxAgeDays,
		Compress:   config.File.Compress,
	}

	fl := &FileLogger{
		config:    config,
		internal:  internal,
		jobs:      jobs,
		buffer:    make(chan *LogEntry, config.File.BufferSize),
		batchBuf:  make([]*LogEntry, 0, config.File.BatchSize),
		closeChan: make(chan struct{}),
	}

	// Start background batch writer
	fl.wg.Add(1)
	go fl.batchWriter()

	return fl, nil
}

// jobLifecyclePath derives the sibling path that holds LogSourceJob
// entries from the configured internal-log path, e.g.
// "/var/log/redisstore/redisstore.log" -> ".../redisstore-jobs.log".
func jobLifecyclePath(path string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return base + "-jobs" + ext
}

// log buffers an already-built entry for the batch writer (non-blocking).
func (fl *FileLogger) log(entry *LogEntry) {
	select {
	case fl.buffer <- entry:
		// Buffered successfully
	default:
		// Buffer full, drop log (or could write directly)
		// In production, you might want to write directly as fallback
	}
}

// batchWriter runs in a goroutine and writes logs in batches
func (fl *FileLogger) batchWriter() {
	defer fl.wg.Done()

	ticker := time.NewTicker(fl.config.File.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-fl.buffer:
			fl.batchBuf = append(fl.batchBuf, entry)

			// Flush if batch is full
			if len(fl.batchBuf) >= fl.config.File.BatchSize {
				fl.flush()
			}

		case <-ticker.C:
			// Periodic flush
			if len(fl.batchBuf) > 0 {
				fl.flush()
			}

		case <-fl.closeChan:
			// Final flush on close
			if len(fl.batchBuf) > 0 {
				fl.flush()
			}
			return
		}
	}
}

// flush writes the current batch to the file, routing each entry to the
// internal or job-lifecycle file by its LogSource.
func (fl *FileLogger) flush() {
	if len(fl.batchBuf) == 0 {
		return
	}

	for _, entry := range fl.batchBuf {
		data, err := json.Marshal(entry)
		if err != nil {
			continue // Skip malformed entries
		}
		data = append(data, '\n')

		// Ignore write errors - nothing we can do from a background flush.
		if entry.Source == LogSourceJob {
			_, _ = fl.jobs.Write(data)
		} else {
			_, _ = fl.internal.Write(data)
		}
	}

	// Clear batch buffer
	fl.batchBuf = fl.batchBuf[:0]
}

// Close flushes and closes the file logger
func (fl *FileLogger) Close() error {
	close(fl.closeChan)
	fl.wg.Wait()

	var errs []error
	if err := fl.internal.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := fl.jobs.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close file logger: %v", errs)
	}

	return nil
}

// Rotate triggers manual log rotation on both files.
func (fl *FileLogger) Rotate() error {
	if err := fl.internal.Rotate(); err != nil {
		return err
	}
	return fl.jobs.Rotate()
}
