package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"faultline/internal/config"
	"faultline/internal/logger"
	"faultline/internal/processor"
)

// Exit codes
const (
	exitOK       = 0
	exitError    = 1
	exitCritical = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv("FAULTLINE_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitError
	}

	logger.Init(cfg.LogLevel)
	log := logger.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := processor.New(cfg)
	if err := p.Run(ctx); err != nil {
		if errors.Is(err, processor.ErrCritical) {
			log.Error().Err(err).Bool("critical", true).Msg("stopped on critical condition, operator action required")
			return exitCritical
		}
		log.Error().Err(err).Msg("processor exited")
		return exitError
	}

	log.Info().Msg("exited")
	return exitOK
}
