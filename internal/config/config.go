package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	TickInterval time.Duration   `yaml:"tick_interval"`
	Network      NetworkConfig   `yaml:"network"`
	Bluetooth    BluetoothConfig `yaml:"bluetooth"`
	Hotkey       HotkeyConfig    `yaml:"hotkey"`
	LED          LEDConfig       `yaml:"led"`
	LogLevel     string          `yaml:"log_level"`
}

// NetworkConfig holds the TCP link settings.
type NetworkConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	IOTimeout    time.Duration `yaml:"io_timeout"`
	RecvBuffer   int           `yaml:"recv_buffer"`
	ConnectRetry time.Duration `yaml:"connect_retry"`
}

// Address returns host:port.
func (n NetworkConfig) Address() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// BluetoothConfig holds the peripheral link settings.
type BluetoothConfig struct {
	Source       string `yaml:"source"` // "ble", "serial", "hotkey" or "none"
	Device       string `yaml:"device"` // MAC address (CoreBluetooth UUID on macOS)
	ServiceUUID  string `yaml:"service_uuid"`
	CharUUID     string `yaml:"char_uuid"`
	SerialPort   string `yaml:"serial_port"` // SPP tty, e.g. /dev/rfcomm0
	Baud         int    `yaml:"baud"`
	ReconnectMax int    `yaml:"reconnect_max"` // seconds
}

// HotkeyConfig holds the desk-emulation bindings.
type HotkeyConfig struct {
	Bindings []HotkeyBinding `yaml:"bindings"`
}

// HotkeyBinding maps a key combination to a peripheral payload.
type HotkeyBinding struct {
	Keys    []string `yaml:"keys"`
	Payload uint32   `yaml:"payload"`
}

// LEDConfig holds the cadence driver settings.
type LEDConfig struct {
	Driver     string        `yaml:"driver"` // "gpio" or "log"
	Pin        string        `yaml:"pin"`
	SlowPeriod time.Duration `yaml:"slow_period"`
	FastPeriod time.Duration `yaml:"fast_period"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "pdm")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with built-in defaults.
func Default() *Config {
	return &Config{
		TickInterval: 100 * time.Millisecond,
		Network: NetworkConfig{
			Enabled:      true,
			Host:         "192.168.0.14",
			Port:         3333,
			DialTimeout:  3 * time.Second,
			IOTimeout:    20 * time.Millisecond,
			RecvBuffer:   128,
			ConnectRetry: 2 * time.Second,
		},
		Bluetooth: BluetoothConfig{
			Source:       "none",
			ServiceUUID:  "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
			CharUUID:     "6e400003-b5a3-f393-e0a9-e50e24dcca9e",
			SerialPort:   "/dev/rfcomm0",
			Baud:         115200,
			ReconnectMax: 30,
		},
		Hotkey: HotkeyConfig{
			Bindings: []HotkeyBinding{
				{Keys: []string{"ctrl", "shift", "f"}, Payload: 0},
				{Keys: []string{"ctrl", "shift", "s"}, Payload: 1},
			},
		},
		LED: LEDConfig{
			Driver:     "gpio",
			Pin:        "GPIO2",
			SlowPeriod: time.Second,
			FastPeriod: 200 * time.Millisecond,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

const defaultHeader = `# pdm configuration
# Durations use Go syntax (100ms, 2s). bluetooth.source is ble, serial, hotkey
# or none. For ble, run pdm -scan and set bluetooth.device first.
# led.driver is gpio or log.
`

// WriteDefault writes the default config to DefaultConfigPath and returns
// the path written. If a config file already exists it is left untouched
// and WriteDefault returns "".
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be > 0")
	}

	if c.Network.Enabled {
		if c.Network.Host == "" {
			return fmt.Errorf("network.host must not be empty")
		}
		if c.Network.Port <= 0 || c.Network.Port > 65535 {
			return fmt.Errorf("network.port must be in 1..65535, got %d", c.Network.Port)
		}
		if c.Network.DialTimeout <= 0 {
			return fmt.Errorf("network.dial_timeout must be > 0")
		}
		if c.Network.IOTimeout <= 0 {
			return fmt.Errorf("network.io_timeout must be > 0")
		}
		if c.Network.IOTimeout >= c.TickInterval {
			return fmt.Errorf("network.io_timeout (%s) must be shorter than tick_interval (%s)", c.Network.IOTimeout, c.TickInterval)
		}
		if c.Network.RecvBuffer <= 0 {
			return fmt.Errorf("network.recv_buffer must be > 0")
		}
		if c.Network.ConnectRetry <= 0 {
			return fmt.Errorf("network.connect_retry must be > 0")
		}
	}

	switch c.Bluetooth.Source {
	case "ble":
		if c.Bluetooth.Device == "" {
			return fmt.Errorf("bluetooth.device is required when bluetooth.source is \"ble\" (find it with pdm -scan)")
		}
		if c.Bluetooth.ServiceUUID == "" || c.Bluetooth.CharUUID == "" {
			return fmt.Errorf("bluetooth.service_uuid and bluetooth.char_uuid must not be empty")
		}
	case "serial":
		if c.Bluetooth.SerialPort == "" {
			return fmt.Errorf("bluetooth.serial_port is required when bluetooth.source is \"serial\"")
		}
		if c.Bluetooth.Baud <= 0 {
			return fmt.Errorf("bluetooth.baud must be > 0")
		}
	case "hotkey":
		if len(c.Hotkey.Bindings) == 0 {
			return fmt.Errorf("hotkey.bindings must not be empty when bluetooth.source is \"hotkey\"")
		}
		for i, b := range c.Hotkey.Bindings {
			if len(b.Keys) == 0 {
				return fmt.Errorf("hotkey.bindings[%d].keys must not be empty", i)
			}
		}
	case "none":
	default:
		return fmt.Errorf("bluetooth.source must be ble, serial, hotkey, or none, got %q", c.Bluetooth.Source)
	}

	switch c.LED.Driver {
	case "gpio":
		if c.LED.Pin == "" {
			return fmt.Errorf("led.pin must not be empty for the gpio driver")
		}
	case "log":
	default:
		return fmt.Errorf("led.driver must be \"gpio\" or \"log\", got %q", c.LED.Driver)
	}
	if c.LED.SlowPeriod <= 0 || c.LED.FastPeriod <= 0 {
		return fmt.Errorf("led.slow_period and led.fast_period must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a log_level string to a slog.Level. Unknown values
// map to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
