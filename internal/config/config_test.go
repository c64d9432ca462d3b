package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveMaxPatchEdge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.MaxPatchEdge = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsFeatherOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.DefaultFeather = 33
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsInvertedGainRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.ColorGainMin = 1.6
	cfg.Pipeline.ColorGainMax = 0.6
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsEmptyStorageRoot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Root = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadServerPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestValidate_RateLimitRequiresPositiveRPMWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerMinute = 0
	assert.Error(t, cfg.Validate())
}
