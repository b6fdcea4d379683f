// Package config loads the daemon configuration from YAML.
//
// Defaults come from struct tags and are applied before the file is
// decoded, so a key present in the file always wins, including explicit
// zero values such as auth.response_timeout: 0.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/devm-project/devm-go/pkg/stack"
	"github.com/devm-project/devm-go/pkg/wire"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the daemon configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Local     LocalConfig     `yaml:"local"`
	Features  FeaturesConfig  `yaml:"features"`
	Registry  RegistryConfig  `yaml:"registry"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Auth      AuthConfig      `yaml:"auth"`
	Power     PowerConfig     `yaml:"power"`
	Timers    TimersConfig    `yaml:"timers"`
	Sim       SimConfig       `yaml:"sim"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig selects the listening socket.
type ServerConfig struct {
	Network        string `yaml:"network" default:"unix"`
	Address        string `yaml:"address" default:"/tmp/devm.sock"`
	MaxMessageSize uint32 `yaml:"max_message_size" default:"65536"`
}

// LocalConfig describes the local radio at start-up.
type LocalConfig struct {
	Address       string `yaml:"address" default:"00:1A:7D:DA:71:01"`
	LEAddress     string `yaml:"le_address" default:"C0:1A:7D:DA:71:01"`
	Name          string `yaml:"name" default:"devm"`
	ClassOfDevice uint32 `yaml:"class_of_device" default:"7936"`
	Appearance    uint16 `yaml:"appearance"`
}

// FeaturesConfig is the initially active feature set.
type FeaturesConfig struct {
	LowEnergy              bool `yaml:"low_energy" default:"true"`
	ANTPlus                bool `yaml:"ant_plus"`
	InterleavedAdvertising bool `yaml:"interleaved_advertising" default:"true"`
}

// RegistryConfig bounds the remote-device directory.
type RegistryConfig struct {
	MaxRemoteDevices int    `yaml:"max_remote_devices" default:"256"`
	DeleteOnPowerOff bool   `yaml:"delete_on_power_off"`
	PersistencePath  string `yaml:"persistence_path"`
}

// SchedulerConfig bounds the advertisement queue.
type SchedulerConfig struct {
	MaxPending int `yaml:"max_pending" default:"32"`
}

// AuthConfig configures the negotiator.
type AuthConfig struct {
	// ResponseTimeout of zero disables the implicit rejection.
	ResponseTimeout time.Duration `yaml:"response_timeout" default:"30s"`
}

// PowerConfig configures the power-down handshake.
type PowerConfig struct {
	AckTimeout time.Duration `yaml:"ack_timeout" default:"2s"`
	OnStart    bool          `yaml:"on_start"`
}

// TimersConfig configures the timer facility.
type TimersConfig struct {
	MinResolution time.Duration `yaml:"min_resolution" default:"10ms"`
}

// SimConfig configures the simulated stack.
type SimConfig struct {
	ReportInterval time.Duration     `yaml:"report_interval" default:"200ms"`
	Passkey        uint32            `yaml:"passkey" default:"123456"`
	Devices        []SimDeviceConfig `yaml:"devices"`
}

// SimDeviceConfig is one simulated peer.
type SimDeviceConfig struct {
	Address       string   `yaml:"address"`
	AddressType   uint32   `yaml:"address_type"`
	Name          string   `yaml:"name"`
	ClassOfDevice uint32   `yaml:"class_of_device"`
	Classic       bool     `yaml:"classic"`
	LE            bool     `yaml:"le"`
	RSSI          int8     `yaml:"rssi"`
	Appearance    uint16   `yaml:"appearance"`
	AdvData       []byte   `yaml:"adv_data"`
	Services      []string `yaml:"services"`
	RejectPairing bool     `yaml:"reject_pairing"`
}

// LogConfig configures operational logging and protocol capture.
type LogConfig struct {
	Level       string `yaml:"level" default:"info"`
	Format      string `yaml:"format" default:"text"`
	ProtocolLog string `yaml:"protocol_log"`
}

// Default returns a configuration holding only defaults.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads path over the defaults and validates the result. An empty
// path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Validate checks ranges and formats.
func (c *Config) Validate() error {
	if c.Server.Network != "unix" && c.Server.Network != "tcp" {
		return fmt.Errorf("%w: server.network %q", ErrInvalid, c.Server.Network)
	}
	if c.Server.Address == "" {
		return fmt.Errorf("%w: server.address is empty", ErrInvalid)
	}
	if c.Server.MaxMessageSize < wire.HeaderSize {
		return fmt.Errorf("%w: server.max_message_size %d", ErrInvalid, c.Server.MaxMessageSize)
	}
	if _, err := c.LocalProperties(); err != nil {
		return err
	}
	if c.Registry.MaxRemoteDevices <= 0 {
		return fmt.Errorf("%w: registry.max_remote_devices must be positive", ErrInvalid)
	}
	if c.Scheduler.MaxPending <= 0 {
		return fmt.Errorf("%w: scheduler.max_pending must be positive", ErrInvalid)
	}
	if c.Auth.ResponseTimeout < 0 {
		return fmt.Errorf("%w: auth.response_timeout is negative", ErrInvalid)
	}
	if c.Power.AckTimeout <= 0 {
		return fmt.Errorf("%w: power.ack_timeout must be positive", ErrInvalid)
	}
	if c.Timers.MinResolution <= 0 {
		return fmt.Errorf("%w: timers.min_resolution must be positive", ErrInvalid)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format)
	}
	if _, err := c.SimDevices(); err != nil {
		return err
	}
	return nil
}

// LocalProperties returns the start-up local device description.
func (c *Config) LocalProperties() (wire.LocalProperties, error) {
	var p wire.LocalProperties
	addr, err := wire.ParseBDAddr(c.Local.Address)
	if err != nil {
		return p, fmt.Errorf("%w: local.address: %v", ErrInvalid, err)
	}
	leAddr, err := wire.ParseBDAddr(c.Local.LEAddress)
	if err != nil {
		return p, fmt.Errorf("%w: local.le_address: %v", ErrInvalid, err)
	}
	if len(c.Local.Name) > wire.MaxDeviceNameLength {
		return p, fmt.Errorf("%w: local.name is %d bytes", ErrInvalid, len(c.Local.Name))
	}
	cod := wire.ClassOfDevice(c.Local.ClassOfDevice)
	if !cod.Valid() {
		return p, fmt.Errorf("%w: local.class_of_device %s", ErrInvalid, cod)
	}
	p.Address = addr
	p.LEAddress = leAddr
	p.LEAddressType = wire.AddressTypeStatic
	p.DeviceName = c.Local.Name
	p.ClassOfDevice = cod
	p.Appearance = c.Local.Appearance
	return p, nil
}

// ActiveFeatures returns the configured feature set.
func (c *Config) ActiveFeatures() wire.Feature {
	var f wire.Feature
	if c.Features.LowEnergy {
		f |= wire.FeatureLowEnergy
	}
	if c.Features.ANTPlus {
		f |= wire.FeatureANTPlus
	}
	if c.Features.InterleavedAdvertising {
		f |= wire.FeatureInterleavedAdvertising
	}
	return f
}

// SimDevices converts the configured peers.
func (c *Config) SimDevices() ([]stack.SimDevice, error) {
	out := make([]stack.SimDevice, 0, len(c.Sim.Devices))
	for i, d := range c.Sim.Devices {
		addr, err := wire.ParseBDAddr(d.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: sim.devices[%d]: %v", ErrInvalid, i, err)
		}
		if !d.Classic && !d.LE {
			return nil, fmt.Errorf("%w: sim.devices[%d] supports no transport", ErrInvalid, i)
		}
		if len(d.AdvData) > wire.MaxAdvertisingReportLength {
			return nil, fmt.Errorf("%w: sim.devices[%d].adv_data is %d bytes", ErrInvalid, i, len(d.AdvData))
		}
		services := make([]uuid.UUID, 0, len(d.Services))
		for _, s := range d.Services {
			u, err := uuid.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("%w: sim.devices[%d] service %q: %v", ErrInvalid, i, s, err)
			}
			services = append(services, u)
		}
		out = append(out, stack.SimDevice{
			Address:       addr,
			AddressType:   wire.AddressType(d.AddressType),
			Name:          d.Name,
			ClassOfDevice: wire.ClassOfDevice(d.ClassOfDevice),
			Classic:       d.Classic,
			LE:            d.LE,
			RSSI:          d.RSSI,
			Appearance:    d.Appearance,
			AdvData:       d.AdvData,
			Services:      services,
			RejectPairing: d.RejectPairing,
		})
	}
	return out, nil
}

// NewLogger creates the operational logger.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(c.Log.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}
	return logger
}
