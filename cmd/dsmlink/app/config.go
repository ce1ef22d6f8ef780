package app

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anytx/dsmlink/internal/dsm"
)

const (
	RadioSim      RadioType = "sim"
	RadioCYRF6936 RadioType = "cyrf6936"

	SticksStatic SticksMode = "static"
	SticksSweep  SticksMode = "sweep"

	defaultMaxBatchSize  = 500
	defaultStatsInterval = 10 * time.Second
	defaultSweepPeriod   = 4 * time.Second
)

type RadioType string

type SticksMode string

type TimeDuration time.Duration

func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.TimeDuration: failed to parse: %s", err)
	}

	*d = TimeDuration(duration)
	return nil
}

func (d TimeDuration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d TimeDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config represents the main application configuration
type Config struct {
	Settings Settings      `yaml:"settings"`
	Link     LinkConfig    `yaml:"link"`
	Radio    RadioConfig   `yaml:"radio"`
	Storage  StorageConfig `yaml:"storage"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel      slog.Level   `yaml:"logLevel"`
	StatsInterval TimeDuration `yaml:"statsInterval"`
}

// LinkConfig holds the session parameters and how long to run the link.
type LinkConfig struct {
	dsm.Config `yaml:",inline"`

	// Duration stops the link after the given time. Zero runs until
	// interrupted.
	Duration       TimeDuration `yaml:"duration" json:"duration,omitempty"`
	FaultThreshold int          `yaml:"faultThreshold" json:"faultThreshold,omitempty"`
	Sticks         SticksConfig `yaml:"sticks" json:"sticks"`
}

// SticksConfig selects the channel source.
type SticksConfig struct {
	Mode   SticksMode   `yaml:"mode" json:"mode"`
	Values []int32      `yaml:"values" json:"values,omitempty"`
	Period TimeDuration `yaml:"period" json:"period,omitempty"`
}

// RadioConfig selects the transceiver.
type RadioConfig struct {
	Type RadioType `yaml:"type"`

	// MfgID is the manufacturer ID of the simulated radio, as six hex bytes.
	MfgID string `yaml:"mfgID"`

	// TelemetryInterval makes the simulated receiver report sensor frames.
	TelemetryInterval TimeDuration `yaml:"telemetryInterval"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DataDirectory string `yaml:"dataDirectory"`
	MaxBatchSize  int    `yaml:"maxBatchSize"`
}

// MQTTConfig represents the broker the link is published to.
type MQTTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Broker  string `yaml:"broker"`
	QoS     byte   `yaml:"qos"`
}

// LoadConfig reads and validates the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	config := Config{
		Settings: Settings{
			LogLevel:      slog.LevelInfo,
			StatsInterval: TimeDuration(defaultStatsInterval),
		},
		Link: LinkConfig{
			Config: dsm.Config{
				Protocol:    dsm.ProtocolDSMX,
				NumChannels: 7,
			},
			Sticks: SticksConfig{Mode: SticksStatic},
		},
		Radio: RadioConfig{Type: RadioSim},
		Storage: StorageConfig{
			Enabled:      true,
			MaxBatchSize: defaultMaxBatchSize,
		},
	}
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks every section of the configuration.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Link.Config.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Link.Duration < 0 {
		errs = append(errs, fmt.Errorf("link.duration must not be negative"))
	}
	if c.Link.FaultThreshold < 0 {
		errs = append(errs, fmt.Errorf("link.faultThreshold must not be negative"))
	}

	switch c.Link.Sticks.Mode {
	case SticksStatic, "":
	case SticksSweep:
		if c.Link.Sticks.Period < 0 {
			errs = append(errs, fmt.Errorf("link.sticks.period must not be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("link.sticks.mode: unknown mode '%s'", c.Link.Sticks.Mode))
	}

	switch c.Radio.Type {
	case RadioSim, RadioCYRF6936:
	default:
		errs = append(errs, fmt.Errorf("radio.type: unknown type '%s'", c.Radio.Type))
	}
	if _, err := c.Radio.mfgID(); err != nil {
		errs = append(errs, err)
	}
	if c.Radio.TelemetryInterval < 0 {
		errs = append(errs, fmt.Errorf("radio.telemetryInterval must not be negative"))
	}

	if c.Storage.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("storage.maxBatchSize must be positive"))
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, fmt.Errorf("mqtt.broker is required when mqtt is enabled"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos %d is not 0, 1 or 2", c.MQTT.QoS))
	}

	if c.Settings.StatsInterval < 0 {
		errs = append(errs, fmt.Errorf("settings.statsInterval must not be negative"))
	}

	return errors.Join(errs...)
}

func (r *RadioConfig) mfgID() ([6]byte, error) {
	var id [6]byte
	if r.MfgID == "" {
		return id, nil
	}

	s := strings.NewReplacer(":", "", "-", "", " ", "").Replace(r.MfgID)
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("radio.mfgID: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("radio.mfgID: want %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}
