package retrieval

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryLogger_ThreadSafety(t *testing.T) {
	var buf bytes.Buffer
	logger := NewQueryLogger(&buf)

	concurrency := 50
	iterations := 100
	var wg sync.WaitGroup

	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				logger.Log(QueryLogEntry{
					RecordID: "r1",
					Query:    "test",
					Duration: time.Millisecond,
				})
			}
		}()
	}
	wg.Wait()

	decoder := json.NewDecoder(&buf)
	count := 0
	for decoder.More() {
		var entry QueryLogEntry
		if err := decoder.Decode(&entry); err != nil {
			t.Fatalf("Failed to decode entry %d: %v", count, err)
		}
		count++
	}

	expected := concurrency * iterations
	if count != expected {
		t.Errorf("Expected %d entries, got %d", expected, count)
	}
}

func TestQueryLogger_LatencyDerived(t *testing.T) {
	var buf bytes.Buffer
	NewQueryLogger(&buf).Log(QueryLogEntry{Query: "q", Duration: 1500 * time.Millisecond, Success: true})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, float64(1500), entry["latency_ms"])
	assert.Equal(t, true, entry["success"])
}

func TestOpenQueryLogger(t *testing.T) {
	t.Run("Creates File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "query.log")
		OpenQueryLogger(path).Log(QueryLogEntry{Query: "q"})

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"query":"q"`)
	})

	t.Run("Falls Back To Stdout", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

		l := OpenQueryLogger(filepath.Join(blocker, "query.log"))
		assert.Equal(t, os.Stdout, l.writer)
	})

	t.Run("Nil Logger Is A No-op", func(t *testing.T) {
		var l *QueryLogger
		assert.NotPanics(t, func() { l.Log(QueryLogEntry{}) })
	})
}
