package qlogmux_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/QUIC-Lab/quic-lab/internal/qlogmux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMux(t *testing.T) (*qlogmux.Mux, string) {
	t.Helper()

	dir := t.TempDir()
	base := filepath.Join(dir, "test.sqlog")

	m, err := qlogmux.New(&qlogmux.Config{
		Logger: slogutil.New(&slogutil.Config{
			Output: io.Discard,
			Format: slogutil.FormatJSON,
		}),
		BasePath: base,
		MaxBytes: 1 << 20,
		Header:   qlogmux.Header{Title: "test", Description: "test trace"},
	})
	require.NoError(t, err)

	return m, base
}

func readRecords(t *testing.T, path string) []map[string]any {
	t.Helper()

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var records []map[string]any
	for _, part := range bytes.Split(b, []byte{0x1e}) {
		part = bytes.TrimSpace(part)
		if len(part) == 0 {
			continue
		}

		var rec map[string]any
		require.NoError(t, json.Unmarshal(part, &rec))
		records = append(records, rec)
	}

	return records
}

func TestMux_headerIsFirstRecord(t *testing.T) {
	m, base := newTestMux(t)
	defer m.Close()

	m.Emit(context.Background(), qlogmux.Event{Name: "meta:connection", GroupID: "g1"})
	require.NoError(t, m.Close())

	recs := readRecords(t, base)
	require.GreaterOrEqual(t, len(recs), 1)
	assert.Equal(t, "0.4", recs[0]["qlog_version"])
	assert.Equal(t, "JSON-SEQ", recs[0]["qlog_format"])
}

func TestMux_monotonicTimePerGroup(t *testing.T) {
	m, base := newTestMux(t)

	m.Emit(context.Background(), qlogmux.Event{Name: "a", GroupID: "g1", Time: 5})
	m.Emit(context.Background(), qlogmux.Event{Name: "b", GroupID: "g1", Time: 5})
	m.Emit(context.Background(), qlogmux.Event{Name: "c", GroupID: "g1", Time: 1})
	require.NoError(t, m.Close())

	recs := readRecords(t, base)
	require.Len(t, recs, 4) // header + 3 events

	times := []float64{
		recs[1]["time"].(float64),
		recs[2]["time"].(float64),
		recs[3]["time"].(float64),
	}

	assert.Less(t, times[0], times[1])
	assert.Less(t, times[1], times[2])
}

func TestMux_defaultsMissingGroupID(t *testing.T) {
	m, base := newTestMux(t)

	m.Emit(context.Background(), qlogmux.Event{Name: "a"})
	require.NoError(t, m.Close())

	recs := readRecords(t, base)
	require.Len(t, recs, 2)
	assert.Equal(t, "unknown", recs[1]["group_id"])
}
