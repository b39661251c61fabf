package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lorsi96/pdm/internal/bluetooth"
	"github.com/lorsi96/pdm/internal/config"
	"github.com/lorsi96/pdm/internal/controller"
	"github.com/lorsi96/pdm/internal/hotkey"
	"github.com/lorsi96/pdm/internal/led"
	"github.com/lorsi96/pdm/internal/network"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/pdm/config.yaml)")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	scan := flag.Bool("scan", false, "scan for Bluetooth devices advertising the configured service and exit")
	scanTimeout := flag.Duration("scan-timeout", 10*time.Second, "how long -scan listens for advertisements")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
			return
		}
		log.Printf("Default config written to %s", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if *scan {
		runScan(cfg, *scanTimeout)
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	slog.SetLogLoggerLevel(config.ParseLogLevel(cfg.LogLevel))

	printBanner(cfg)

	// Cadence driver
	pin, err := openPin(cfg.LED)
	if err != nil {
		log.Fatalf("Failed to open LED pin: %v", err)
	}
	blinker := led.NewBlinker(pin, cfg.LED.SlowPeriod, cfg.LED.FastPeriod)
	log.Printf("LED ready (%s, driver: %s)", pin.String(), cfg.LED.Driver)

	opts := controller.Options{
		Cadence:      blinker,
		ConnectRetry: cfg.Network.ConnectRetry,
		Peripheral:   peripheralFactory(cfg),
	}
	if cfg.Network.Enabled {
		opts.Network = network.New(network.Options{
			Address:        cfg.Network.Address(),
			DialTimeout:    cfg.Network.DialTimeout,
			IOTimeout:      cfg.Network.IOTimeout,
			RecvBufferSize: cfg.Network.RecvBuffer,
			RetryInterval:  cfg.Network.ConnectRetry,
		}, nil)
	}

	ctrl, err := controller.New(opts)
	if err != nil {
		log.Fatalf("controller: %v", err)
	}

	// Signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Init(ctx); err != nil {
		if ctx.Err() != nil {
			log.Println("Interrupted during start-up, goodbye!")
			return
		}
		log.Fatalf("Failed to start: %v", err)
	}

	log.Printf("Ready! Ticking every %s. Ctrl+C to quit.", cfg.TickInterval)
	if err := ctrl.Run(ctx, cfg.TickInterval); err != nil {
		log.Printf("ERROR: loop stopped: %v", err)
	}

	log.Println("Shutting down...")
	if err := ctrl.Close(); err != nil {
		log.Printf("ERROR: shutdown: %v", err)
	}
	log.Println("Goodbye!")
	if cfg.Bluetooth.Source == "hotkey" {
		// Exit directly to avoid gohook's C cleanup crash.
		// The OS reclaims the event hook on process exit.
		os.Exit(0)
	}
}

// openPin returns the configured LED output.
func openPin(cfg config.LEDConfig) (led.Pin, error) {
	if cfg.Driver == "log" {
		return led.NewLogPin(cfg.Pin), nil
	}
	return led.OpenGPIO(cfg.Pin)
}

// peripheralFactory builds the configured peripheral source, or nil when
// the peripheral producer is disabled.
func peripheralFactory(cfg *config.Config) controller.PeripheralFactory {
	switch cfg.Bluetooth.Source {
	case "ble":
		return func(handler func(uint32)) (controller.Peripheral, error) {
			link, err := bluetooth.NewLink(bluetooth.NewTinyGoAdapter(), cfg.Bluetooth.Device, handler, bluetooth.LinkOptions{
				ServiceUUID:  cfg.Bluetooth.ServiceUUID,
				CharUUID:     cfg.Bluetooth.CharUUID,
				ReconnectMax: cfg.Bluetooth.ReconnectMax,
			})
			if err != nil {
				return nil, err
			}
			return link, nil
		}
	case "serial":
		return func(handler func(uint32)) (controller.Peripheral, error) {
			link, err := bluetooth.NewSerialLink(bluetooth.SerialOptions{
				Port:         cfg.Bluetooth.SerialPort,
				Baud:         cfg.Bluetooth.Baud,
				ReconnectMax: cfg.Bluetooth.ReconnectMax,
			}, handler)
			if err != nil {
				return nil, err
			}
			return link, nil
		}
	case "hotkey":
		bindings := hotkeyBindings(cfg.Hotkey)
		return func(handler func(uint32)) (controller.Peripheral, error) {
			l, err := hotkey.NewListener(bindings, handler)
			if err != nil {
				return nil, err
			}
			return hotkeyPeripheral{l}, nil
		}
	default:
		return nil
	}
}

func hotkeyBindings(cfg config.HotkeyConfig) []hotkey.Binding {
	bindings := make([]hotkey.Binding, 0, len(cfg.Bindings))
	for _, b := range cfg.Bindings {
		bindings = append(bindings, hotkey.Binding{Keys: b.Keys, Payload: b.Payload})
	}
	return bindings
}

// hotkeyPeripheral runs a hotkey listener as a peripheral session.
type hotkeyPeripheral struct {
	*hotkey.Listener
}

func (h hotkeyPeripheral) Connect(ctx context.Context) error {
	go h.Start()
	return nil
}

func (h hotkeyPeripheral) Close() error {
	h.Stop()
	return nil
}

// runScan lists nearby devices advertising the configured service.
func runScan(cfg *config.Config, timeout time.Duration) {
	log.Printf("Scanning for devices advertising %s (%s)...", cfg.Bluetooth.ServiceUUID, timeout)
	devices, err := bluetooth.ScanForDevices(bluetooth.NewTinyGoAdapter(), cfg.Bluetooth.ServiceUUID, timeout)
	if err != nil {
		log.Fatalf("scan: %v", err)
	}
	if len(devices) == 0 {
		fmt.Println("No devices found.")
		return
	}
	for i, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("  %d. %-20s %s  RSSI %d\n", i+1, name, d.Address, d.RSSI)
	}
	fmt.Println("Set bluetooth.device in your config to one of the addresses above.")
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	netAddr := "disabled"
	if cfg.Network.Enabled {
		netAddr = cfg.Network.Address()
	}
	peripheral := cfg.Bluetooth.Source
	switch cfg.Bluetooth.Source {
	case "ble":
		peripheral = "ble " + cfg.Bluetooth.Device
	case "serial":
		peripheral = fmt.Sprintf("serial %s @ %d", cfg.Bluetooth.SerialPort, cfg.Bluetooth.Baud)
	case "hotkey":
		peripheral = "hotkey " + hotkey.Describe(hotkeyBindings(cfg.Hotkey))
	}

	fmt.Println("=== pdm ===")
	fmt.Printf("  Network:    %s\n", netAddr)
	fmt.Printf("  Peripheral: %s\n", peripheral)
	fmt.Printf("  LED:        %s %s (slow %s, fast %s)\n", cfg.LED.Driver, cfg.LED.Pin, cfg.LED.SlowPeriod, cfg.LED.FastPeriod)
	fmt.Printf("  Tick:       %s\n", cfg.TickInterval)
	fmt.Printf("  Log:        %s\n", cfg.LogLevel)
	fmt.Println("===========")
}
