package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "carelog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("db", DefaultDB, "")
	fs.String("subject", "", "")
	fs.Duration("dedup-tolerance", DefaultDedupTolerance, "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultDB, cfg.DB)
	assert.Empty(t, cfg.Subject)
	assert.Equal(t, DefaultCacheTTL, cfg.CacheTTL)
	assert.Equal(t, DefaultDedupTolerance, cfg.DedupTolerance)
	assert.Equal(t, DefaultFetchLimit, cfg.FetchLimit)
	assert.Empty(t, cfg.File)
}

func TestLoad_FileEnvAndFlagPrecedence(t *testing.T) {
	path := writeConfig(t, `
db: /var/lib/carelog/care.db
subject: pet-file
cache_ttl: 10m
fetch_limit: 20
`)
	t.Setenv("CARELOG_SUBJECT", "pet-env")
	t.Setenv("CARELOG_FETCH_LIMIT", "30")

	cfg, err := Load(path, flags(t, "--dedup-tolerance=90m"))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/carelog/care.db", cfg.DB, "unset flag keeps file value")
	assert.Equal(t, "pet-env", cfg.Subject, "env overrides file")
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 30, cfg.FetchLimit)
	assert.Equal(t, 90*time.Minute, cfg.DedupTolerance, "set flag overrides default")
	assert.Equal(t, path, cfg.File)

	cfg, err = Load(path, flags(t, "--subject=pet-flag", "--db=other.db"))
	require.NoError(t, err)
	assert.Equal(t, "pet-flag", cfg.Subject, "flag overrides env")
	assert.Equal(t, "other.db", cfg.DB)
}

func TestLoad_ExplicitFileMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.ErrorContains(t, err, "read config")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, "fetch_limit: 0\ncache_ttl: -1m\n")

	_, err := Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch_limit must be > 0")
	assert.Contains(t, err.Error(), "cache_ttl must be >= 0")
}

func TestConfig_RequireSubject(t *testing.T) {
	_, err := (&Config{}).RequireSubject()
	assert.ErrorContains(t, err, "CARELOG_SUBJECT")

	subject, err := (&Config{Subject: "pet-1"}).RequireSubject()
	require.NoError(t, err)
	assert.Equal(t, "pet-1", subject)
}
