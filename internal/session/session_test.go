package session_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QUIC-Lab/quic-lab/internal/session"
)

func TestSink_writeCreatesShardedFile(t *testing.T) {
	dir := t.TempDir()

	s, err := session.New(dir)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write("example.com", []byte("blob-one")))

	var found string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if !d.IsDir() && filepath.Base(path) == "example.com.session" {
			found = path
		}

		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, found)

	contents, err := os.ReadFile(found)
	require.NoError(t, err)
	assert.Equal(t, "blob-one", string(contents))
}

func TestSink_writeAppendsAcrossCalls(t *testing.T) {
	dir := t.TempDir()

	s, err := session.New(dir)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write("example.com", []byte("a")))
	require.NoError(t, s.Write("example.com", []byte("b")))

	var found string
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr == nil && !d.IsDir() && filepath.Base(path) == "example.com.session" {
			found = path
		}

		return nil
	})
	require.NotEmpty(t, found)

	contents, err := os.ReadFile(found)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(contents))
}

func TestSink_differentHostsGetDifferentFiles(t *testing.T) {
	dir := t.TempDir()

	s, err := session.New(dir)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write("a.example", []byte("x")))
	require.NoError(t, s.Write("b.example", []byte("y")))

	var names []string
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr == nil && !d.IsDir() {
			names = append(names, filepath.Base(path))
		}

		return nil
	})
	assert.ElementsMatch(t, []string{"a.example.session", "b.example.session"}, names)
}

func TestPerConnSessionCache_getAlwaysMisses(t *testing.T) {
	dir := t.TempDir()

	s, err := session.New(dir)
	require.NoError(t, err)
	defer s.Close()

	cache := s.ForConn("example.com")

	got, ok := cache.Get("anything")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestPerConnSessionCache_putNilIsNoop(t *testing.T) {
	dir := t.TempDir()

	s, err := session.New(dir)
	require.NoError(t, err)
	defer s.Close()

	cache := s.ForConn("example.com")
	cache.Put("anything", nil)

	var names []string
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr == nil && !d.IsDir() {
			names = append(names, filepath.Base(path))
		}

		return nil
	})
	assert.Empty(t, names)
}
