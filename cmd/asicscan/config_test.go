package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFleetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
subnets:
  - 192.168.1.0/24
  - 10.0.0.0/16
timeout: 3s
concurrency: 64
credentials:
  antminer_user: admin
  antminer_password: hunter2
  vnish_password: sekrit
`), 0o644))

	cfg, err := loadConfig(path, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"192.168.1.0/24", "10.0.0.0/16"}, cfg.Subnets)
	assert.Equal(t, 3*time.Second, time.Duration(cfg.Timeout))
	assert.Equal(t, 64, cfg.Concurrency)

	creds := cfg.credentials()
	assert.Equal(t, "admin", creds.AntMinerUser)
	assert.Equal(t, "hunter2", creds.AntMinerPassword)
	assert.Equal(t, "sekrit", creds.VNishPassword)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
credentials:
  vnish_password: from-file
`), 0o644))
	t.Setenv("ASICSCAN_VNISH_PASSWORD", "from-env")

	cfg, err := loadConfig(path, "")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.credentials().VNishPassword)
}

func TestLoadConfigExplicitEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "creds.env")
	require.NoError(t, os.WriteFile(envPath,
		[]byte("ASICSCAN_BRAIINS_USER=ops\nASICSCAN_BRAIINS_PASSWORD=bospw\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("ASICSCAN_BRAIINS_USER")
		os.Unsetenv("ASICSCAN_BRAIINS_PASSWORD")
	})

	cfg, err := loadConfig("", envPath)
	require.NoError(t, err)
	creds := cfg.credentials()
	assert.Equal(t, "ops", creds.BraiinsUser)
	assert.Equal(t, "bospw", creds.BraiinsPassword)

	_, err = loadConfig("", filepath.Join(dir, "missing.env"))
	assert.Error(t, err)
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timeout: soon\n"), 0o644))

	_, err := loadConfig(path, "")
	assert.Error(t, err)
}
