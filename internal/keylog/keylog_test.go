package keylog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/QUIC-Lab/quic-lab/internal/keylog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSink_writeAppendsNewline(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "quic-lab.keylog")

	s, err := keylog.New(&keylog.Config{BasePath: base, MaxBytes: 1 << 20})
	require.NoError(t, err)

	err = s.Write("CLIENT_RANDOM abcd 1234")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	b, err := os.ReadFile(base)
	require.NoError(t, err)
	assert.Equal(t, "CLIENT_RANDOM abcd 1234\n", string(b))
}

func TestPerConnKeylog_writeImplementsIoWriter(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "quic-lab.keylog")

	s, err := keylog.New(&keylog.Config{BasePath: base, MaxBytes: 1 << 20})
	require.NoError(t, err)

	conn := s.ForConn()
	n, err := conn.Write([]byte("SERVER_HANDSHAKE_TRAFFIC_SECRET ef01 5678\n"))
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	require.NoError(t, s.Close())

	b, err := os.ReadFile(base)
	require.NoError(t, err)
	assert.Equal(t, "SERVER_HANDSHAKE_TRAFFIC_SECRET ef01 5678\n", string(b))
}

func TestSink_multipleConnsSerializeIntoSameFile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "quic-lab.keylog")

	s, err := keylog.New(&keylog.Config{BasePath: base, MaxBytes: 1 << 20})
	require.NoError(t, err)

	c1 := s.ForConn()
	c2 := s.ForConn()

	_, err = c1.Write([]byte("CLIENT_RANDOM aaaa 1111\n"))
	require.NoError(t, err)
	_, err = c2.Write([]byte("CLIENT_RANDOM bbbb 2222\n"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	b, err := os.ReadFile(base)
	require.NoError(t, err)
	assert.Contains(t, string(b), "CLIENT_RANDOM aaaa 1111\n")
	assert.Contains(t, string(b), "CLIENT_RANDOM bbbb 2222\n")
}
