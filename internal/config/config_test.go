package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")

	c, err := Load(viper.New(), "")
	require.NoError(t, err)
	require.Equal(t, "localhost:8443", c.Addr)
	require.Equal(t, filepath.Join("/tmp/xdg", "clinicsync"), c.DataDir)
	require.Equal(t, 15*time.Minute, c.Sync.Interval)
	require.Equal(t, 500, c.Sync.PageSize)
	require.Equal(t, 15*time.Second, c.Sync.ClearTimeout)
	require.Equal(t, 5, c.Pin.MaxAttempts)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "clinicsync.yaml")
	yaml := `
addr: sync.example.org:443
data_dir: ` + dir + `
sync:
  interval: 5m
  page_size: 50
pin:
  block_for: 1h
`
	require.NoError(t, os.WriteFile(file, []byte(yaml), 0o600))
	t.Setenv("CLINICSYNC_SYNC_PAGE_SIZE", "75")
	t.Setenv("CLINICSYNC_PLAINTEXT", "true")

	c, err := Load(viper.New(), file)
	require.NoError(t, err)
	require.Equal(t, "sync.example.org:443", c.Addr)
	require.Equal(t, dir, c.DataDir)
	require.Equal(t, 5*time.Minute, c.Sync.Interval)
	require.Equal(t, 75, c.Sync.PageSize)
	require.Equal(t, time.Hour, c.Pin.BlockFor)
	require.True(t, c.Plaintext)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	c := Config{Addr: "a", DataDir: "d", Sync: SyncConfig{Interval: time.Second, PageSize: 1}}
	require.NoError(t, c.Validate())

	bad := c
	bad.Insecure, bad.Plaintext = true, true
	bad.Sync.PageSize = 0
	err := bad.Validate()
	require.ErrorContains(t, err, "mutually exclusive")
	require.ErrorContains(t, err, "page_size")
}
