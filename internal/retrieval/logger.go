package retrieval

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type QueryLogEntry struct {
	Timestamp     time.Time     `json:"timestamp"`
	RecordID      string        `json:"licitacao_id"`
	Query         string        `json:"query"`
	NumResults    int           `json:"num_results"`
	Cached        bool          `json:"cached"`
	Success       bool          `json:"success"`
	Action        string        `json:"action,omitempty"`
	CostUSD       float64       `json:"cost_usd,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	LatencyMs     int64         `json:"latency_ms"`
	CorrelationID string        `json:"correlation_id"`
}

type QueryLogger struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewQueryLogger(w io.Writer) *QueryLogger {
	return &QueryLogger{writer: w}
}

func NewFileQueryLogger(path string) (*QueryLogger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}

	cleanPath := filepath.Clean(path)
	f, err := os.OpenFile(cleanPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path is from application config, not user input
	if err != nil {
		return nil, err
	}
	return NewQueryLogger(f), nil
}

// OpenQueryLogger logs to path, or to stdout when the file cannot be opened.
func OpenQueryLogger(path string) *QueryLogger {
	if path == "" {
		return NewQueryLogger(os.Stdout)
	}
	l, err := NewFileQueryLogger(path)
	if err != nil {
		slog.Warn("query log file unavailable, logging queries to stdout", "path", path, "error", err)
		return NewQueryLogger(os.Stdout)
	}
	return l
}

func (l *QueryLogger) Log(entry QueryLogEntry) {
	if l == nil {
		return
	}
	entry.Timestamp = time.Now()
	entry.LatencyMs = entry.Duration.Milliseconds()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := json.NewEncoder(l.writer).Encode(entry); err != nil {
		slog.Error("failed to write query log entry", "error", err)
	}
}
