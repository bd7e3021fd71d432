package rotate_test

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/QUIC-Lab/quic-lab/internal/rotate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_Write_rotates(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "test.log")

	var hookCalls int
	w, err := rotate.New(&rotate.Config{
		BasePath: base,
		MaxBytes: 20,
		Hook: func(io.Writer) error {
			hookCalls++

			return nil
		},
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		err = w.Write([]byte(fmt.Sprintf("record-%02d\n", i)))
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())

	assert.Greater(t, hookCalls, 1)

	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Greater(t, len(ents), 1)

	for _, e := range ents {
		info, statErr := os.Stat(filepath.Join(dir, e.Name()))
		require.NoError(t, statErr)
		assert.LessOrEqual(t, info.Size(), int64(20)+int64(len("record-00\n")))
	}
}

func TestWriter_New_resumesHighestSuffix(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "test.log")

	require.NoError(t, os.WriteFile(base, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(base+".1", []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(base+".2", []byte("c"), 0o644))

	w, err := rotate.New(&rotate.Config{BasePath: base, MaxBytes: 1})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Write([]byte("d")))

	b, err := os.ReadFile(base + ".3")
	require.NoError(t, err)
	assert.Equal(t, []byte("d"), b)
}

func TestWriter_Write_oversizedRecordGetsOwnFile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "test.log")

	w, err := rotate.New(&rotate.Config{BasePath: base, MaxBytes: 4})
	require.NoError(t, err)
	defer w.Close()

	big := bytes.Repeat([]byte("x"), 100)
	require.NoError(t, w.Write(big))

	b, err := os.ReadFile(base)
	require.NoError(t, err)
	assert.Equal(t, big, b)
}
