package session

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLogger_WritesNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "run.jsonl")
	logger, err := NewJSONLogger(path)
	require.NoError(t, err)

	require.NoError(t, logger.Log(NewEvent("batch-start", "b1", map[string]any{"total": 12})))
	require.NoError(t, logger.Log(NewEvent("batch-finished", "b1", nil)))
	require.NoError(t, logger.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev), "each line is standalone JSON")
		lines = append(lines, ev)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, lines, 2)
	assert.Equal(t, "batch-start", lines[0].Type)
	assert.Equal(t, "b1", lines[0].BatchID)
	assert.EqualValues(t, 12, lines[0].Data["total"])
	assert.False(t, lines[0].Timestamp.IsZero())
}

func TestNopLogger(t *testing.T) {
	var l Logger = NopLogger{}
	assert.NoError(t, l.Log(NewEvent("batch-start", "b1", nil)))
	assert.NoError(t, l.Close())
}

func TestLogPath(t *testing.T) {
	p := LogPath("sessions", "acme-1")
	assert.Equal(t, "sessions", filepath.Dir(p))
	assert.Contains(t, filepath.Base(p), "acme-1")
	assert.Contains(t, p, ".jsonl")
}
