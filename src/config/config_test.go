package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const minimalYAML = "" +
	"store:\n" +
	"  connString: postgres://tq:tq@localhost:5432/treasury?sslmode=disable\n"

func TestLoadConfigFileAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(minimalYAML), 0o600))

	cfg, err := loadConfigFile(cfgPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	require.Equal(t, ":8080", cfg.Server.Address)
	require.Equal(t, int32(10), cfg.Store.PoolSize)
	require.Equal(t, int32(2), cfg.Store.ExportPoolSize)
	require.Equal(t, 5*time.Minute, cfg.Store.StatementTimeout)
	require.Equal(t, 150, cfg.Query.PageSize)
	require.Equal(t, int64(5_000_000), cfg.Query.LargeTableRows)
	require.Equal(t, 10_000, cfg.Export.BatchSize)
	require.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	require.Equal(t, time.Hour, cfg.Cache.OptionsTTL)
}

func TestLoadConfigFileYAMLWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := minimalYAML +
		"query:\n" +
		"  pageSize: 100\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o600))

	// override via env (prefix TQ_ with __ for nesting)
	t.Setenv("TQ_QUERY__PAGESIZE", "200")
	t.Setenv("TQ_SERVER__ADDRESS", ":9090")

	cfg, err := loadConfigFile(cfgPath)
	require.NoError(t, err)
	require.Equal(t, 200, cfg.Query.PageSize)
	require.Equal(t, ":9090", cfg.Server.Address)
}

func TestLoadConfigFileDurationStrings(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := "" +
		"store:\n" +
		"  connString: postgres://tq:tq@localhost:5432/treasury?sslmode=disable\n" +
		"  statementTimeout: 90s\n" +
		"cache:\n" +
		"  ttl: 30s\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o600))

	cfg, err := loadConfigFile(cfgPath)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.Cache.TTL)
	require.Equal(t, 90*time.Second, cfg.Store.StatementTimeout)
}

func TestLoadConfigFileMissingConnString(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("server:\n  address: :8080\n"), 0o600))

	_, err := loadConfigFile(cfgPath)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ConnString")
}

func TestLoadConfigFileUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("key='value'"), 0o600))

	_, err := loadConfigFile(path)
	require.Error(t, err)
	var ue *UnsupportedExtensionError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, ".toml", ue.Extension)
}

func TestLoadConfigFileFileNotFound(t *testing.T) {
	_, err := loadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "error opening config file")
}

func TestLoadConfigContentYAMLAndJSONAutoDetect(t *testing.T) {
	cfg, err := loadConfigContent(minimalYAML, "yaml")
	require.NoError(t, err)
	require.Equal(t, "postgres://tq:tq@localhost:5432/treasury?sslmode=disable", cfg.Store.ConnString)

	// JSON auto-detect
	json := `{"store":{"connString":"postgres://tq:tq@localhost:5432/treasury?sslmode=disable"},"query":{"pageSize":50}}`
	cfg2, err := loadConfigContent(json, "")
	require.NoError(t, err)
	require.Equal(t, 50, cfg2.Query.PageSize)
}

func TestLoadConfigContentUnsupportedFormat(t *testing.T) {
	_, err := loadConfigContent("key: val", "toml")
	require.Error(t, err)
	var ue *UnsupportedExtensionError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, "toml", ue.Extension)
}

func TestLoadConfigContentTakesPrecedenceOverFile(t *testing.T) {
	t.Setenv("TQ_CONFIG_FILE_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("TQ_CONFIG_CONTENT", `{"store":{"connString":"postgres://tq:tq@localhost:5432/treasury"}}`)
	t.Setenv("TQ_CONFIG_FORMAT", "json")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "postgres://tq:tq@localhost:5432/treasury", cfg.Store.ConnString)
}

func TestLoadConfigContentSecretEnvIndirection(t *testing.T) {
	t.Setenv("TQ_DATABASE_URL", "postgres://real:secret@db:5432/treasury")

	cfg, err := loadConfigContent("store:\n  connString: env:TQ_DATABASE_URL\n", "yaml")
	require.NoError(t, err)
	require.Equal(t, "postgres://real:secret@db:5432/treasury", cfg.Store.ConnString)
}

func TestLoadConfigContentSecretFileIndirection(t *testing.T) {
	secretPath := filepath.Join(t.TempDir(), "dburl")
	require.NoError(t, os.WriteFile(secretPath, []byte("postgres://real:secret@db:5432/treasury\n"), 0o600))

	cfg, err := loadConfigContent("store:\n  connString: file:"+secretPath+"\n", "yaml")
	require.NoError(t, err)
	require.Equal(t, "postgres://real:secret@db:5432/treasury", cfg.Store.ConnString)
}

func TestLoadConfigContentSecretEnvMissing(t *testing.T) {
	_, err := loadConfigContent("store:\n  connString: env:TQ_NO_SUCH_VAR\n", "yaml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "TQ_NO_SUCH_VAR")
}

func TestUnsupportedExtensionErrorError(t *testing.T) {
	e := &UnsupportedExtensionError{Extension: ".weird"}
	require.Equal(t, "unsupported config file extension: .weird", e.Error())
}
