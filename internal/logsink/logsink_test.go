package logsink_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QUIC-Lab/quic-lab/internal/logsink"
)

func TestSink_writeImplementsIoWriter(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "quic-lab.log")

	s, err := logsink.New(&logsink.Config{BasePath: base, MaxBytes: 1 << 20})
	require.NoError(t, err)

	n, err := s.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	require.NoError(t, s.Close())

	b, err := os.ReadFile(base)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(b))
}

func TestSink_rotatesWhenOverMaxBytes(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "quic-lab.log")

	s, err := logsink.New(&logsink.Config{BasePath: base, MaxBytes: 8})
	require.NoError(t, err)

	_, err = s.Write([]byte("12345678"))
	require.NoError(t, err)
	_, err = s.Write([]byte("rotated\n"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = os.Stat(base + ".1")
	require.NoError(t, err)
}

func TestSink_asSlogHandlerOutput(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "quic-lab.log")

	s, err := logsink.New(&logsink.Config{BasePath: base, MaxBytes: 1 << 20})
	require.NoError(t, err)

	logger := slog.New(slog.NewJSONHandler(s, nil))
	logger.Info("starting run", "hosts", 3)
	require.NoError(t, s.Close())

	b, err := os.ReadFile(base)
	require.NoError(t, err)
	assert.Contains(t, string(b), "starting run")
	assert.Contains(t, string(b), `"hosts":3`)
}
