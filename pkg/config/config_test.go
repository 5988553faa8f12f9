package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pancreasprep/pkg/dataerr"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Dataset.Agents)
	assert.True(t, cfg.Dataset.ReturnLandmarks)
	assert.Equal(t, 1000.0, cfg.DistanceFields.StoppingTime)
	assert.Equal(t, -1.0, cfg.DistanceFields.OutsideValue)
	assert.Equal(t, 0.5, cfg.Resample.TargetSpacing)
	assert.Len(t, cfg.Manifests(), 4)

	cfg.Dataset.ReturnLandmarks = false
	assert.Equal(t, []string{cfg.Dataset.ImageManifest}, cfg.Manifests())
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().DistanceFields, cfg.DistanceFields)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Dataset.Agents = 3
	cfg.DistanceFields.SnapSeed = true
	cfg.Resample.NumCores = 2
	require.NoError(t, SaveConfig(cfg, path))

	back, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "dataset:\n  agents: 2\n  returnLandmarks: false\nresample:\n  targetSpacing: 0.75\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Dataset.Agents)
	assert.False(t, cfg.Dataset.ReturnLandmarks)
	assert.Equal(t, 0.75, cfg.Resample.TargetSpacing)
	assert.Equal(t, "F.mrk.json", cfg.DistanceFields.LandmarkName)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataset: [unterminated"), 0644))
	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, dataerr.ErrParse)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"negative agents":   func(c *Config) { c.Dataset.Agents = -1 },
		"negative seed":     func(c *Config) { c.DistanceFields.SeedIndex = -2 },
		"zero stop":         func(c *Config) { c.DistanceFields.StoppingTime = 0 },
		"zero spacing":      func(c *Config) { c.Resample.TargetSpacing = 0 },
		"negative cores":    func(c *Config) { c.Resample.NumCores = -4 },
		"unknown logformat": func(c *Config) { c.Output.LogFormat = "xml" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), dataerr.ErrConsistency)
		})
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
