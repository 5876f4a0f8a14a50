package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"seedrelay/config"
	"seedrelay/internal/puller"
	"seedrelay/internal/transfer"
)

func main() {
	cfg := config.LoadPuller()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	executor := transfer.NewExecutor(
		cfg.SSHKeyPath,
		cfg.BwLimitKBps,
		cfg.ConnectTimeout,
		filepath.Join(cfg.Destination, ".staging"),
		filepath.Join(cfg.Destination, ".trash"),
		cfg.DryRun,
	)
	executor.CleanStaging()

	client := puller.New(cfg.APIURL, cfg.APIKey, cfg.Destination, executor)

	pulled, err := client.PullAll(ctx)
	if err != nil {
		log.Fatalf("puller stopped after %d artifacts: %v", pulled, err)
	}
	log.Printf("puller finished, %d artifacts transferred", pulled)
}
