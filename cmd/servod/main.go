package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"servod/internal/config"
	"servod/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./servod.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logs := web.NewLogBuffer(cfg.Log.BufferLines)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := newDaemon(cfg, logs)
	if err != nil {
		log.Fatalf("servo init failed: %v", err)
	}
	defer d.Close()

	log.Printf("servod starting")
	if err := d.Run(ctx); err != nil {
		log.Printf("servod stopped: %v", err)
		return
	}
	log.Printf("servod stopping")
}
