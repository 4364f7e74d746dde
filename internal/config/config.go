package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "./configs/kettler-ant.yml"

// EnvPath overrides the config path when -config is not given.
const EnvPath = "KETTLER_ANT_CONFIG"

type ANTConfig struct {
	NetworkKey       string        `yaml:"network_key"` // hex, 8 bytes; empty = ANT+ public key
	VID              uint16        `yaml:"vid"`         // 0x0fcf
	PID              uint16        `yaml:"pid"`         // 0x1008 / 0x1009
	Profiles         []string      `yaml:"profiles"`    // power, hr, speed, fe
	TransmitInterval time.Duration `yaml:"transmit_interval"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	ResponseTimeout  time.Duration `yaml:"response_timeout"`
	DryRun           bool          `yaml:"dry_run"` // без USB-стика, в память
}

type KettlerConfig struct {
	Mode         string        `yaml:"mode"`   // usb, bluetooth, serial
	Device       string        `yaml:"device"` // "/dev/ttyUSB0", "COM5"; пусто — автопоиск
	Baud         int           `yaml:"baud"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type WebConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	MaxConns int    `yaml:"max_conns"`
}

type Config struct {
	Debug   bool          `yaml:"debug"`
	ANT     ANTConfig     `yaml:"ant"`
	Kettler KettlerConfig `yaml:"kettler"`
	Web     WebConfig     `yaml:"web"`
}

// Load reads path over Defaults(). A missing file at the default path is not
// an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	explicit := path != ""
	if path == "" {
		path = os.Getenv(EnvPath)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	wd, _ := os.Getwd()
	log.Printf("[cfg] load config: path=%s, wd=%s", path, wd)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && !explicit {
		log.Printf("[cfg] %s not found, using defaults", path)
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse yaml %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.ANT.Key(); err != nil {
		return err
	}
	if c.ANT.TransmitInterval <= 0 {
		return fmt.Errorf("ant.transmit_interval must be positive")
	}
	if c.ANT.SettleDelay < 0 {
		return fmt.Errorf("ant.settle_delay must not be negative")
	}
	switch c.Kettler.Mode {
	case "usb", "bluetooth", "serial":
	default:
		return fmt.Errorf("kettler.mode %q: want usb, bluetooth or serial", c.Kettler.Mode)
	}
	if c.Kettler.Mode == "serial" && c.Kettler.Device == "" {
		return fmt.Errorf("kettler.device is required in serial mode")
	}
	for _, p := range c.ANT.Profiles {
		switch strings.ToLower(p) {
		case "power", "hr", "speed", "fe":
		default:
			return fmt.Errorf("ant.profiles: unknown profile %q", p)
		}
	}
	return nil
}

// Key decodes the network key. Empty means the caller's default.
func (a ANTConfig) Key() ([]byte, error) {
	if a.NetworkKey == "" {
		return nil, nil
	}
	k, err := hex.DecodeString(strings.ReplaceAll(a.NetworkKey, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("ant.network_key: %w", err)
	}
	if len(k) != 8 {
		return nil, fmt.Errorf("ant.network_key: want 8 bytes, got %d", len(k))
	}
	return k, nil
}
