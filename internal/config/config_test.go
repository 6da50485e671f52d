package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "http://localhost:4000", cfg.Classifier.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Classifier.Timeout)
	assert.Equal(t, "lesion-images", cfg.Storage.Bucket)
	assert.Equal(t, 224, cfg.Image.TargetSize)
	assert.Equal(t, int64(10*1024*1024), cfg.Image.MaxBytes)
	assert.Equal(t, 14*24*time.Hour, cfg.Alerts.RescanAfter)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skincheck.yaml")
	contents := []byte(`
classifier:
  base_url: http://classifier:9000
  timeout: 5s
database:
  driver: ephemeral
cache:
  backend: memory
`)
	require.NoError(t, os.WriteFile(path, contents, 0o600))
	t.Setenv("SKINCHECK_STORAGE_BUCKET", "scans-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://classifier:9000", cfg.Classifier.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Classifier.Timeout)
	assert.Equal(t, DriverEphemeral, cfg.Database.Driver)
	assert.Equal(t, CacheMemory, cfg.Cache.Backend)
	assert.Equal(t, "scans-test", cfg.Storage.Bucket)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Config{
		Classifier: ClassifierConfig{BaseURL: "not a url"},
		Storage:    StorageConfig{Backend: StorageSFTP, Bucket: "b"},
		Database:   DatabaseConfig{Driver: "oracle"},
		Cache:      CacheConfig{Backend: CacheMemory},
		Image:      ImageConfig{TargetSize: 224, MaxBytes: 1},
		Alerts:     AlertsConfig{RescanAfter: time.Hour},
	}

	err := cfg.Validate()
	var cfgErr *Error
	require.True(t, errors.As(err, &cfgErr))
	assert.Len(t, cfgErr.Problems, 5)
	assert.Contains(t, err.Error(), "storage.sftp.host")
	assert.Contains(t, err.Error(), "unknown database.driver")
}
