package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/virtdev/chardevd/internal/config"
	"github.com/virtdev/chardevd/internal/server"
)

func main() {
	// Parse flags
	id := flag.Int("id", 0, "Device instance id (overrides env)")
	port := flag.String("port", "", "HTTP port (overrides env)")
	devDir := flag.String("dev-dir", "", "Device root directory (overrides env)")
	configFile := flag.String("config", "", "Optional YAML config file")
	flag.Parse()

	// Load configuration: env first, file overlay if given, flags last
	var cfg *config.Config
	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	} else {
		cfg = config.LoadOrDefault()
	}
	if *id != 0 {
		cfg.Device.ID = *id
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *devDir != "" {
		cfg.Device.DevDir = *devDir
	}

	// Create server; a failed device registration aborts the load
	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize device: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("chardevd serving %s (http %s)", srv.Device().Node().Path, srv.HTTPAddr())

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	if err := srv.Close(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
}
