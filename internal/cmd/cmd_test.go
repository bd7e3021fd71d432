package cmd_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QUIC-Lab/quic-lab/internal/cmd"
)

func TestMain_missingConfigFileReturnsConfigError(t *testing.T) {
	status := cmd.Main([]string{filepath.Join(t.TempDir(), "missing.toml")})
	assert.Equal(t, cmd.StatusConfigError, status)
}

func TestMain_missingDomainsFileReturnsIOError(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "quic-lab.toml")

	const body = `
[io]
in_dir = "does-not-exist"
domains_file_name = "domains.txt"
out_dir = "out"

[[connection_config]]
alpn = ["h3"]
max_idle_timeout_ms = 5000
`
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o600))

	status := cmd.Main([]string{configPath})
	assert.Equal(t, cmd.StatusIOError, status)
}

func TestMain_noDomainsSucceedsTrivially(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "quic-lab.toml")
	inDir := filepath.Join(dir, "in")
	require.NoError(t, os.MkdirAll(inDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "domains.txt"), []byte("# no hosts\n"), 0o600))

	body := `
[io]
in_dir = "` + inDir + `"
domains_file_name = "domains.txt"
out_dir = "` + filepath.Join(dir, "out") + `"

[[connection_config]]
alpn = ["h3"]
max_idle_timeout_ms = 5000
`
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o600))

	status := cmd.Main([]string{configPath})
	assert.Equal(t, cmd.StatusSuccess, status)
}

func TestMain_savesLogFilesByDefault(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "quic-lab.toml")
	inDir := filepath.Join(dir, "in")
	outDir := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(inDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "domains.txt"), []byte("# no hosts\n"), 0o600))

	body := `
[io]
in_dir = "` + inDir + `"
domains_file_name = "domains.txt"
out_dir = "` + outDir + `"

[[connection_config]]
alpn = ["h3"]
max_idle_timeout_ms = 5000
`
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o600))

	status := cmd.Main([]string{configPath})
	require.Equal(t, cmd.StatusSuccess, status)

	b, err := os.ReadFile(filepath.Join(outDir, "log_files", "quic-lab.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "starting run")
}
