package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aewave/aewave/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, types.ModeReadOnly, cfg.Mode)
	assert.True(t, cfg.Tradb.CheckExtension)
	assert.True(t, cfg.Trfdb.CheckExtension)
	assert.True(t, cfg.Pridb.CheckExtension)
	assert.False(t, cfg.Tradb.Compression)

	// A path is required before the config is usable.
	assert.Error(t, cfg.Validate())
	cfg.Tradb.Path = "waves.tradb"
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"read-only", func(c *Config) {}, false},
		{"read-write", func(c *Config) { c.Mode = types.ModeReadWrite }, false},
		{"create mode", func(c *Config) { c.Mode = types.ModeReadWriteCreate }, true},
		{"unknown mode", func(c *Config) { c.Mode = "append" }, true},
		{"no paths", func(c *Config) { c.Tradb.Path = "" }, true},
		{"trfdb only", func(c *Config) { c.Tradb.Path = ""; c.Trfdb.Path = "features.trfdb" }, false},
		{"pridb only", func(c *Config) { c.Tradb.Path = ""; c.Pridb.Path = "hits.pridb" }, false},
		{"create pridb read-only", func(c *Config) { c.Pridb.CreateIfMissing = true }, true},
		{"create read-only", func(c *Config) { c.Tradb.CreateIfMissing = true }, true},
		{"create read-write", func(c *Config) {
			c.Mode = types.ModeReadWrite
			c.Tradb.CreateIfMissing = true
		}, false},
		{"archive only", func(c *Config) {
			c.Tradb.Path = ""
			c.Archive.Backend = "local"
			c.Archive.Path = "/srv/archive"
		}, false},
		{"local archive without path", func(c *Config) { c.Archive.Backend = "local" }, true},
		{"s3 archive without bucket", func(c *Config) { c.Archive.Backend = "s3" }, true},
		{"s3 archive", func(c *Config) { c.Archive.Backend = "s3"; c.Archive.Bucket = "waves" }, false},
		{"unknown archive", func(c *Config) { c.Archive.Backend = "ftp" }, true},
		{"negative concurrency", func(c *Config) {
			c.Archive.Backend = "s3"
			c.Archive.Bucket = "waves"
			c.Archive.Concurrency = -1
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Tradb.Path = "waves.tradb"
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data/run1"
	cfg.Tradb.Path = "waves.tradb"
	cfg.Trfdb.Path = "/abs/features.trfdb"
	cfg.Pridb.Path = "hits.pridb"
	cfg.Resolve()

	assert.Equal(t, filepath.Join("/data/run1", "waves.tradb"), cfg.Tradb.Path)
	assert.Equal(t, filepath.Join("/data/run1", "hits.pridb"), cfg.Pridb.Path)
	assert.Equal(t, "/abs/features.trfdb", cfg.Trfdb.Path)
	assert.Empty(t, cfg.Archive.CacheDir, "no cache without an archive")

	cfg.Archive.Backend = "s3"
	cfg.Resolve()
	assert.Equal(t, filepath.Join("/data/run1", "cache"), cfg.Archive.CacheDir)
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aewave.yaml")
	content := `
mode: rw
data_dir: /data
tradb:
  path: waves.tradb
  compression: true
  create_if_missing: true
trfdb:
  path: features.trfdb
  check_extension: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, types.ModeReadWrite, cfg.Mode)
	assert.Equal(t, "/data", cfg.DataDir)
	assert.Equal(t, "waves.tradb", cfg.Tradb.Path)
	assert.True(t, cfg.Tradb.Compression)
	assert.True(t, cfg.Tradb.CreateIfMissing)
	assert.True(t, cfg.Tradb.CheckExtension, "unset fields keep their defaults")
	assert.False(t, cfg.Trfdb.CheckExtension)
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aewave.json")
	content := `{"mode": "ro", "tradb": {"path": "waves.tradb", "check_extension": false}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, types.ModeReadOnly, cfg.Mode)
	assert.Equal(t, "waves.tradb", cfg.Tradb.Path)
	assert.False(t, cfg.Tradb.CheckExtension)
}

func TestLoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	toml := filepath.Join(dir, "aewave.toml")
	require.NoError(t, os.WriteFile(toml, []byte("mode = 'ro'"), 0o644))
	_, err = LoadFromFile(toml)
	assert.ErrorContains(t, err, "unsupported config file format")

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte("{"), 0o644))
	_, err = LoadFromFile(broken)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("AEWAVE_MODE", "rw")
	t.Setenv("AEWAVE_DATA_DIR", "/env")
	t.Setenv("AEWAVE_TRADB_PATH", "env.tradb")
	t.Setenv("AEWAVE_TRADB_COMPRESSION", "true")
	t.Setenv("AEWAVE_TRADB_CHECK_EXTENSION", "0")
	t.Setenv("AEWAVE_TRFDB_CREATE_IF_MISSING", "not-a-bool")
	t.Setenv("AEWAVE_PRIDB_PATH", "env.pridb")
	t.Setenv("AEWAVE_PRIDB_CHECK_EXTENSION", "false")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, types.ModeReadWrite, cfg.Mode)
	assert.Equal(t, "/env", cfg.DataDir)
	assert.Equal(t, "env.tradb", cfg.Tradb.Path)
	assert.True(t, cfg.Tradb.Compression)
	assert.False(t, cfg.Tradb.CheckExtension)
	assert.False(t, cfg.Trfdb.CreateIfMissing, "invalid booleans are ignored")
	assert.Equal(t, "env.pridb", cfg.Pridb.Path)
	assert.False(t, cfg.Pridb.CheckExtension)
}

func TestLoadFromEnv_Archive(t *testing.T) {
	t.Setenv("AEWAVE_ARCHIVE_BACKEND", "s3")
	t.Setenv("AEWAVE_ARCHIVE_CONCURRENCY", "8")
	t.Setenv("AEWAVE_S3_BUCKET", "waves")
	t.Setenv("AEWAVE_S3_PREFIX", "plant-a")
	t.Setenv("AEWAVE_S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("AEWAVE_S3_USE_PATH_STYLE", "true")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, "s3", cfg.Archive.Backend)
	assert.Equal(t, 8, cfg.Archive.Concurrency)
	assert.Equal(t, "waves", cfg.Archive.Bucket)
	assert.Equal(t, "plant-a", cfg.Archive.Prefix)
	assert.Equal(t, "http://localhost:9000", cfg.Archive.Endpoint)
	assert.True(t, cfg.Archive.UsePathStyle)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aewave.yml")
	require.NoError(t, os.WriteFile(path, []byte("tradb:\n  path: waves.tradb\n"), 0o644))
	t.Setenv("AEWAVE_DATA_DIR", dir)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "waves.tradb"), cfg.Tradb.Path)

	t.Setenv("AEWAVE_MODE", "rwc")
	_, err = Load(path)
	assert.Error(t, err)
}
