// Command test-hotkey is a manual test for the desk peripheral. Run it, then
// press the bound combinations to see the payloads they deliver.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--config path]
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lorsi96/pdm/internal/config"
	"github.com/lorsi96/pdm/internal/hotkey"
)

func main() {
	configPath := flag.String("config", "", "read bindings from this config file instead of the defaults")
	flag.Parse()

	bindings := hotkey.DefaultBindings()
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		bindings = bindings[:0]
		for _, b := range cfg.Hotkey.Bindings {
			bindings = append(bindings, hotkey.Binding{Keys: b.Keys, Payload: b.Payload})
		}
	}

	listener, err := hotkey.NewListener(bindings, func(payload uint32) {
		fmt.Printf(">>> payload %d\n", payload)
	})
	if err != nil {
		log.Fatalf("hotkey: %v", err)
	}

	fmt.Printf("Listening for %s\n", hotkey.Describe(bindings))
	fmt.Println("Press Ctrl+C to exit.")

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
