package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshLoader() *Loader {
	return &Loader{v: viper.New()}
}

func TestLoad_UsesDefaultsWhenNoFile(t *testing.T) {
	l := freshLoader()
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Pipeline.MaxPatchEdge, cfg.Pipeline.MaxPatchEdge)
	assert.Equal(t, DefaultConfig().Server.Port, cfg.Server.Port)
}

func TestLoad_ReadsYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, ConfigFileName+".yaml")
	content := "pipeline:\n  default_feather: 9\nserver:\n  port: 9090\n"
	require.NoError(t, os.WriteFile(yamlPath, []byte(content), 0o644))

	l := freshLoader()
	l.v.AddConfigPath(dir)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Pipeline.DefaultFeather)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_EnvironmentOverridesDefault(t *testing.T) {
	t.Setenv("MASKEDIT_SERVER_PORT", "7000")

	l := freshLoader()
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoad_InvalidConfigFailsValidation(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, ConfigFileName+".yaml")
	content := "log_level: nonsense\n"
	require.NoError(t, os.WriteFile(yamlPath, []byte(content), 0o644))

	l := freshLoader()
	l.v.AddConfigPath(dir)
	_, err := l.Load()
	require.Error(t, err)
}

func TestLoadWithFile_MissingFileErrors(t *testing.T) {
	l := freshLoader()
	_, err := l.LoadWithFile("/no/such/path.yaml")
	require.Error(t, err)
}

func TestGetConfigSearchPaths_IncludesCurrentDir(t *testing.T) {
	paths := GetConfigSearchPaths()
	assert.Contains(t, paths, ".")
}
