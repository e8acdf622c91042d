package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 2000, cfg.MessageMaxLength)
	assert.Equal(t, "lifecycle:events", cfg.RealtimeChannel)
}

func TestFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_port: "9000"
store_driver: memory
message_max_length: 500
backoff_initial: 1s
media_s3_path_style: true
`), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MESSAGE_MAX_LENGTH", "750")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, 750, cfg.MessageMaxLength, "env overrides the file")
	assert.Equal(t, time.Second, cfg.BackoffInitial)
	assert.True(t, cfg.MediaS3PathStyle)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_DRIVER", "mongo")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsZeroBackoff(t *testing.T) {
	cfg := Defaults()
	cfg.BackoffInitial = 0
	assert.ErrorContains(t, cfg.Validate(), "backoff_initial")

	t.Setenv("CONFIG_FILE", "")
	t.Setenv("BACKOFF_INITIAL", "0s")
	_, err := Load()
	assert.Error(t, err)
}
