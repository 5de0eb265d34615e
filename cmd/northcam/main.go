package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"northcam/internal/config"
	"northcam/internal/web"
)

func main() {
	var configPath string
	var summaryPath string
	flag.StringVar(&configPath, "config", "./configs/dev.yaml", "Path to YAML config")
	flag.StringVar(&summaryPath, "log-summary", "", "Print a summary of a recorded sensor log and exit")
	flag.Parse()

	if summaryPath != "" {
		if err := printLogSummary(os.Stdout, summaryPath); err != nil {
			log.Fatalf("log summary failed: %v", err)
		}
		return
	}

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(cfg, logs)
	if err != nil {
		log.Fatalf("runtime init failed: %v", err)
	}
	defer rt.Close()

	log.Printf("northcam starting config=%s", configPath)
	if err := rt.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("northcam stopped: %v", err)
		rt.Close()
		os.Exit(1)
	}
	log.Printf("northcam stopping")
}
