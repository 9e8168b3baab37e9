package config

import (
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Transport kinds.
const (
	TransportMock   = "mock"
	TransportSerial = "serial"
	TransportMQTT   = "mqtt"
)

// Config represents the node configuration. Zero values are replaced by the
// build-time defaults in the default tags.
type Config struct {
	Firmware   FirmwareConfig   `yaml:"firmware"`
	Timers     TimersConfig     `yaml:"timers"`
	Poll       PollConfig       `yaml:"poll"`
	ADC        ADCConfig        `yaml:"adc"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Sensors    []SensorConfig   `yaml:"sensors"`
	Simulation SimulationConfig `yaml:"simulation"`
	Transport  TransportConfig  `yaml:"transport"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// FirmwareConfig identifies the node to the collector.
type FirmwareConfig struct {
	Type    string `yaml:"type" default:"buttonb"`
	Version string `yaml:"version" default:"1.0.0"`
}

// TimersConfig contains the measurement and reporting periods.
type TimersConfig struct {
	Voltage      time.Duration `yaml:"voltage" default:"450s"`      // one full voltage window
	Temperature  time.Duration `yaml:"temperature" default:"450s"`  // one temperature reading
	Subscription time.Duration `yaml:"subscription" default:"120s"` // keep-alive sweep
}

// PollConfig contains the sleepy child poll periods.
type PollConfig struct {
	Default      time.Duration `yaml:"default" default:"120s"`
	Fast         time.Duration `yaml:"fast" default:"50ms"`
	FastTimeout  time.Duration `yaml:"fast_timeout" default:"500ms"`
	ChildTimeout time.Duration `yaml:"child_timeout" default:"240s"`
}

// ADCConfig contains sampling parameters.
type ADCConfig struct {
	SamplesPerChannel int `yaml:"samples_per_channel" default:"4"`
}

// SchedulerConfig sizes the deferred work queue.
type SchedulerConfig struct {
	QueueSize uint32 `yaml:"queue_size" default:"32"`
}

// SensorConfig describes one subscription table entry.
type SensorConfig struct {
	Name             string        `yaml:"name"`
	ReportableChange int32         `yaml:"reportable_change"`
	ReportInterval   time.Duration `yaml:"report_interval" default:"10s"`
	Writable         bool          `yaml:"writable"`
	Muted            bool          `yaml:"muted"` // keep reporting disabled after the first value
}

// SimulationConfig drives the simulated peripherals.
type SimulationConfig struct {
	Millivolts   float32 `yaml:"millivolts" default:"3000"`
	Sag          float32 `yaml:"sag"`
	VoltageNoise float32 `yaml:"voltage_noise"`
	Celsius      float32 `yaml:"celsius" default:"24"`
	TempNoise    float32 `yaml:"temp_noise"`
}

// TransportConfig selects and configures the uplink.
type TransportConfig struct {
	Kind   string       `yaml:"kind" default:"mock"`
	Serial SerialConfig `yaml:"serial"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port       string        `yaml:"port" default:"/dev/ttyACM0"`
	BaudRate   int           `yaml:"baud_rate" default:"115200"`
	AckTimeout time.Duration `yaml:"ack_timeout" default:"5s"`
}

// MQTTConfig contains broker configuration.
type MQTTConfig struct {
	Broker    string        `yaml:"broker" default:"localhost:1883"`
	ClientID  string        `yaml:"client_id" default:"buttonb"`
	Topic     string        `yaml:"topic" default:"buttonb/uplink"`
	KeepAlive uint16        `yaml:"keep_alive" default:"30"`
	Timeout   time.Duration `yaml:"timeout" default:"5s"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level string `yaml:"level" default:"info"`
}

// MetricsConfig contains the prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// Default returns the stock node configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.ensureDefaults()
	return cfg
}

func defaultSensors() []SensorConfig {
	return []SensorConfig{
		{Name: "v", ReportInterval: 10 * time.Second},
		{Name: "t", ReportInterval: 10 * time.Second},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults fills every zero field from its default tag.
func (c *Config) ensureDefaults() {
	defaults.SetDefaults(c)

	if len(c.Sensors) == 0 {
		c.Sensors = defaultSensors()
	}
	for i := range c.Sensors {
		defaults.SetDefaults(&c.Sensors[i])
	}
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case TransportMock, TransportSerial, TransportMQTT:
	default:
		return fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}

	if c.ADC.SamplesPerChannel <= 0 {
		return fmt.Errorf("adc.samples_per_channel must be positive, got %d", c.ADC.SamplesPerChannel)
	}
	if c.Timers.Voltage < time.Duration(c.ADC.SamplesPerChannel) {
		return fmt.Errorf("timers.voltage %s too short for %d samples", c.Timers.Voltage, c.ADC.SamplesPerChannel)
	}

	seen := make(map[string]struct{}, len(c.Sensors))
	for i, s := range c.Sensors {
		if len(s.Name) != 1 || s.Name[0] == 0 || s.Name[0] >= utf8.RuneSelf {
			return fmt.Errorf("sensors[%d]: name must be a single ASCII character, got %q", i, s.Name)
		}
		if _, ok := seen[s.Name]; ok {
			return fmt.Errorf("sensors[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = struct{}{}
	}

	return nil
}
