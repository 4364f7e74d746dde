package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"kettler-ant/internal/bootstrap"
	"kettler-ant/internal/config"
	"kettler-ant/internal/radio"
	"kettler-ant/internal/writer"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "Path to YAML config (default "+config.DefaultPath+" or $"+config.EnvPath+")")
		debug   = flag.Bool("debug", false, "Log every broadcast payload")
		dryRun  = flag.Bool("dry-run", false, "Do not open the ANT stick, record broadcasts in memory")
		device  = flag.String("device", "", "Kettler serial device, overrides kettler.device")
	)
	flag.Parse()

	log.Printf("start Load config")
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *debug {
		cfg.Debug = true
	}
	if *dryRun {
		cfg.ANT.DryRun = true
	}
	if *device != "" {
		cfg.Kettler.Device = *device
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	log.Printf("[cfg] kettler mode=%s device=%q, ant profiles=%v interval=%s dry_run=%v",
		cfg.Kettler.Mode, cfg.Kettler.Device, cfg.ANT.Profiles, cfg.ANT.TransmitInterval, cfg.ANT.DryRun)

	err = bootstrap.RunAll(ctx, cfg)

	var setupErr *radio.SetupError
	switch {
	case err == nil:
		log.Printf("stopped")
	case errors.As(err, &setupErr):
		log.Fatalf("ant setup: %v", err)
	case errors.Is(err, writer.ErrLoopDied):
		log.Fatalf("transmit loop: %v", err)
	default:
		log.Fatalf("fatal: %v", err)
	}
}
