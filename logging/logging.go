package logging

import (
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"listing_scrooper/models"
)

const defaultMaxSize = 2 * 1024 * 1024 // 2MB

var levelRank = map[models.LogLevel]int32{
	models.LogLevelDebug: 0,
	models.LogLevelInfo:  1,
	models.LogLevelWarn:  2,
	models.LogLevelError: 3,
}

var minLevel atomic.Int32

func init() {
	minLevel.Store(levelRank[models.LogLevelInfo])
}

// SetLevel sets the minimum level written by level-aware callers.
// Unknown names fall back to info.
func SetLevel(name string) models.LogLevel {
	lvl := models.LogLevel(strings.ToLower(strings.TrimSpace(name)))
	rank, ok := levelRank[lvl]
	if !ok {
		lvl, rank = models.LogLevelInfo, levelRank[models.LogLevelInfo]
	}
	minLevel.Store(rank)
	return lvl
}

func Enabled(level models.LogLevel) bool {
	rank, ok := levelRank[level]
	if !ok {
		return true
	}
	return rank >= minLevel.Load()
}

// Debugf logs only when the debug level is enabled.
func Debugf(format string, args ...any) {
	if Enabled(models.LogLevelDebug) {
		log.Printf("[debug] "+format, args...)
	}
}

type RotatingWriter struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	size    int64
	maxSize int64
}

// Setup tees the standard logger to stdout and a size-rotated file.
func Setup(logPath string, maxSizeMB int) (*RotatingWriter, error) {
	maxSize := int64(maxSizeMB) * 1024 * 1024
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}

	// Truncate if too large on startup
	if info, err := os.Stat(logPath); err == nil && info.Size() > maxSize {
		os.Truncate(logPath, 0)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	size := int64(0)
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	rw := &RotatingWriter{
		file:    f,
		path:    logPath,
		size:    size,
		maxSize: maxSize,
	}

	log.SetOutput(io.MultiWriter(os.Stdout, rw))

	return rw, nil
}

func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err = w.file.Write(p)
	w.size += int64(n)

	if w.size > w.maxSize {
		w.rotate()
	}

	return n, err
}

func (w *RotatingWriter) rotate() {
	w.file.Close()

	// Keep one backup
	os.Rename(w.path, w.path+".1")

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return
	}

	w.file = f
	w.size = 0
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
