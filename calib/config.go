package calib

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SegmentConfig declares one (segment, channel) calibration pair.
type SegmentConfig struct {
	ID      int    `yaml:"id" json:"id"`
	Channel string `yaml:"channel" json:"channel"`
}

// MQTTConfig holds MQTT connection settings.
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" json:"broker,omitempty"`
	ClientID      string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty" json:"publishPrefix,omitempty"`
	SurfaceTopic  string `yaml:"surfaceTopic,omitempty" json:"surfaceTopic,omitempty"`
}

// Config is the unified service configuration.
type Config struct {
	MQTT           MQTTConfig      `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`
	Segments       []SegmentConfig `yaml:"segments" json:"segments"`
	SegmentCount   int             `yaml:"segmentCount,omitempty" json:"segmentCount,omitempty"`     // Length of the density vector (default: max segment id)
	DensityStepTol float64         `yaml:"densityStepTol,omitempty" json:"densityStepTol,omitempty"` // Default 0.01
	MaxIterations  int             `yaml:"maxIterations,omitempty" json:"maxIterations,omitempty"`   // Default 30
	InitialDensity float64         `yaml:"initialDensity,omitempty" json:"initialDensity,omitempty"` // Default 0.5
	HistoryDB      string          `yaml:"historyDb,omitempty" json:"historyDb,omitempty"`           // SQLite path; empty disables history
	GeometryFile   string          `yaml:"geometryFile,omitempty" json:"geometryFile,omitempty"`     // Optional segment outlines for rendering
	HTTPPort       int             `yaml:"httpPort,omitempty" json:"httpPort,omitempty"`
}

// LoadConfig loads the unified configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if len(config.Segments) == 0 {
		return nil, fmt.Errorf("at least one segment must be defined")
	}
	for i, sc := range config.Segments {
		if sc.ID < 1 {
			return nil, fmt.Errorf("segment[%d].id must be >= 1", i)
		}
		if _, err := ParseChannel(sc.Channel); err != nil {
			return nil, fmt.Errorf("segment[%d] (%d): %w", i, sc.ID, err)
		}
	}

	config.applyDefaults()
	return &config, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.DensityStepTol <= 0 {
		c.DensityStepTol = DefaultDensityStepTol
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 30
	}
	if c.InitialDensity <= 0 {
		c.InitialDensity = 0.5
	}
	if c.SegmentCount <= 0 {
		for _, sc := range c.Segments {
			if sc.ID > c.SegmentCount {
				c.SegmentCount = sc.ID
			}
		}
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = 8080
	}
}

// SegmentIDs returns the configured segment ids in declaration order.
func (c *Config) SegmentIDs() []int {
	ids := make([]int, len(c.Segments))
	for i, sc := range c.Segments {
		ids[i] = sc.ID
	}
	return ids
}

// Channels returns the configured channel tags in declaration order.
// LoadConfig has already validated every tag.
func (c *Config) Channels() []Channel {
	channels := make([]Channel, len(c.Segments))
	for i, sc := range c.Segments {
		channels[i] = Channel(sc.Channel)
	}
	return channels
}

// BuildCollection constructs the minimization collection declared by the
// config, with the hardened equal-length pairing.
func (c *Config) BuildCollection(obs Observer) (*Collection, error) {
	return NewCollection(c.SegmentIDs(), c.Channels(), c.DensityStepTol, obs)
}

// InitialDensities returns a density vector of SegmentCount entries, all
// set to InitialDensity.
func (c *Config) InitialDensities() []float64 {
	densities := make([]float64, c.SegmentCount)
	for i := range densities {
		densities[i] = c.InitialDensity
	}
	return densities
}
