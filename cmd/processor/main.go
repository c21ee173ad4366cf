package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yungbote/withdrawal-aggregator/internal/app"
	"github.com/yungbote/withdrawal-aggregator/internal/config"
	"github.com/yungbote/withdrawal-aggregator/internal/domain"
	"github.com/yungbote/withdrawal-aggregator/internal/pkg/logger"
)

func main() {
	typeFlag := flag.String("type", "", "aggregator type (withdrawal|claim); overrides AGGREGATOR_TYPE")
	configPath := flag.String("config", "", "optional YAML config file; overrides CONFIG_FILE")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *typeFlag != "" {
		t, err := domain.ParseAggregatorType(*typeFlag)
		if err != nil {
			fmt.Printf("Invalid -type: %v\n", err)
			os.Exit(1)
		}
		cfg.AggregatorType = t
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.RoleProcessor)
	if err != nil {
		log.Error("Failed to initialize app", "error", err)
		log.Sync()
		os.Exit(1)
	}
	defer a.Close()

	if err := a.RunProcessor(ctx, nil); err != nil {
		log.Error("Processor exited", "error", err)
		a.Close()
		os.Exit(1)
	}
}
