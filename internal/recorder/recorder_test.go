package recorder_test

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/QUIC-Lab/quic-lab/internal/agd"
	"github.com/QUIC-Lab/quic-lab/internal/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecorder(t *testing.T) (*recorder.Recorder, string) {
	t.Helper()

	dir := t.TempDir()
	base := filepath.Join(dir, "quic-lab-recorder.jsonl")

	r, err := recorder.New(&recorder.Config{
		Logger:   slogutil.New(&slogutil.Config{Output: io.Discard, Format: slogutil.FormatJSON}),
		BasePath: base,
		MaxBytes: 1 << 20,
	})
	require.NoError(t, err)

	return r, base
}

func TestRecorder_recordWritesKeyValueLine(t *testing.T) {
	r, base := newTestRecorder(t)

	err := r.Record(context.Background(), agd.ProbeRecord{
		Key:   "trace-1",
		Value: map[string]any{"ok": true},
	})
	require.NoError(t, err)
	require.NoError(t, r.Close())

	b, err := os.ReadFile(base)
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(bytesTrim(b), &obj))
	assert.Equal(t, "trace-1", obj["key"])
}

func TestRecorder_multipleRecordsAreLineDelimited(t *testing.T) {
	r, base := newTestRecorder(t)

	require.NoError(t, r.Record(context.Background(), agd.ProbeRecord{Key: "a", Value: 1}))
	require.NoError(t, r.Record(context.Background(), agd.ProbeRecord{Key: "b", Value: 2}))
	require.NoError(t, r.Close())

	b, err := os.ReadFile(base)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "a", first["key"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "b", second["key"])
}

func bytesTrim(b []byte) []byte {
	return []byte(strings.TrimRight(string(b), "\n"))
}
