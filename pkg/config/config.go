// Package config provides configuration loading and management for pancreasprep.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"pancreasprep/pkg/dataerr"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Dataset parameters used by the sample generator
	Dataset struct {
		// ImageManifest lists one image path per line
		ImageManifest string `yaml:"imageManifest"`

		// EDTManifest, GDTManifest and LandmarkManifest list the matching
		// distance fields and landmark files, row for row
		EDTManifest      string `yaml:"edtManifest"`
		GDTManifest      string `yaml:"gdtManifest"`
		LandmarkManifest string `yaml:"landmarkManifest"`

		// Agents is the number of agents sharing each scan
		Agents int `yaml:"agents"`

		// ReturnLandmarks loads distance fields and landmarks with each sample
		ReturnLandmarks bool `yaml:"returnLandmarks"`

		// CheckFiles verifies every listed file exists before iterating
		CheckFiles bool `yaml:"checkFiles"`
	} `yaml:"dataset"`

	// Distance field parameters
	DistanceFields struct {
		// SegmentationName is the label map file inside a case directory
		SegmentationName string `yaml:"segmentationName"`

		// LandmarkName is the markups file inside a case directory
		LandmarkName string `yaml:"landmarkName"`

		PositiveName string `yaml:"positiveName"`
		NegativeName string `yaml:"negativeName"`
		SignedName   string `yaml:"signedName"`
		GeodesicName string `yaml:"geodesicName"`

		// StoppingTime bounds the geodesic front
		StoppingTime float64 `yaml:"stoppingTime"`

		// OutsideValue marks voxels the front did not reach
		OutsideValue float64 `yaml:"outsideValue"`

		// SeedIndex selects the landmark the front starts from
		SeedIndex int `yaml:"seedIndex"`

		// SnapSeed moves a background seed onto the segmentation
		SnapSeed bool `yaml:"snapSeed"`
	} `yaml:"distanceFields"`

	// Resampling parameters
	Resample struct {
		// TargetSpacing is the isotropic voxel side length in mm
		TargetSpacing float64 `yaml:"targetSpacing"`

		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`
	} `yaml:"resample"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// LogFormat is "text" or "json"
		LogFormat string `yaml:"logFormat"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default dataset parameters
	cfg.Dataset.ImageManifest = "filenames/image_files.txt"
	cfg.Dataset.EDTManifest = "filenames/EDT_files.txt"
	cfg.Dataset.GDTManifest = "filenames/GDT_files.txt"
	cfg.Dataset.LandmarkManifest = "filenames/landmark_files.txt"
	cfg.Dataset.Agents = 1
	cfg.Dataset.ReturnLandmarks = true
	cfg.Dataset.CheckFiles = false

	// Set default distance field parameters
	cfg.DistanceFields.SegmentationName = "Segmentation-Segment_1-label.nii.gz"
	cfg.DistanceFields.LandmarkName = "F.mrk.json"
	cfg.DistanceFields.PositiveName = "Segmentation_distance_field.nii.gz"
	cfg.DistanceFields.NegativeName = "Segmentation_negative_distance_field.nii.gz"
	cfg.DistanceFields.SignedName = "Segmentation_signed_distance_field.nii.gz"
	cfg.DistanceFields.GeodesicName = "Segmentation_fast_marching.nii.gz"
	cfg.DistanceFields.StoppingTime = 1000
	cfg.DistanceFields.OutsideValue = -1
	cfg.DistanceFields.SeedIndex = 0
	cfg.DistanceFields.SnapSeed = false

	// Set default resampling parameters
	cfg.Resample.TargetSpacing = 0.5
	cfg.Resample.NumCores = runtime.NumCPU() // Use all available cores by default

	// Set default output parameters
	cfg.Output.Verbose = false
	cfg.Output.LogFormat = "text"

	return cfg
}

// Manifests returns the manifest paths in the order the sample generator
// expects: the image list alone, or all four lists when landmarks are on.
func (c *Config) Manifests() []string {
	if !c.Dataset.ReturnLandmarks {
		return []string{c.Dataset.ImageManifest}
	}
	return []string{
		c.Dataset.ImageManifest,
		c.Dataset.EDTManifest,
		c.Dataset.GDTManifest,
		c.Dataset.LandmarkManifest,
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.Dataset.Agents < 0 {
		return dataerr.NewConsistency("dataset.agents must not be negative, got %d", c.Dataset.Agents)
	}
	if c.DistanceFields.SeedIndex < 0 {
		return dataerr.NewConsistency("distanceFields.seedIndex must not be negative, got %d", c.DistanceFields.SeedIndex)
	}
	if c.DistanceFields.StoppingTime <= 0 {
		return dataerr.NewConsistency("distanceFields.stoppingTime must be positive, got %g", c.DistanceFields.StoppingTime)
	}
	if c.Resample.TargetSpacing <= 0 {
		return dataerr.NewConsistency("resample.targetSpacing must be positive, got %g", c.Resample.TargetSpacing)
	}
	if c.Resample.NumCores < 0 {
		return dataerr.NewConsistency("resample.numCores must not be negative, got %d", c.Resample.NumCores)
	}
	switch c.Output.LogFormat {
	case "", "text", "json":
	default:
		return dataerr.NewConsistency("output.logFormat must be text or json, got %q", c.Output.LogFormat)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, dataerr.NewParse(configPath, "parsing config file", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
