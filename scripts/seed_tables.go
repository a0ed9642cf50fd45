package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"cartbroker/internal/config"
	"cartbroker/internal/google"
	"cartbroker/internal/seed"
	"cartbroker/internal/tables"
	"cartbroker/internal/worker"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	configPath := flag.String("config", "configs/config.yaml", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Google.SpreadsheetID == "" {
		return fmt.Errorf("google.spreadsheet_id is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	sheets, err := google.NewSheetsGateway(ctx, cfg.Google.CredentialsFile, cfg.Google.SpreadsheetID, sheetTitles(cfg), &logger)
	if err != nil {
		return err
	}
	gw := worker.NewRetryingGateway(sheets, worker.DefaultRetryPolicy, cfg.Retry.AttemptTimeout, &logger)

	res, err := seed.Apply(ctx, gw, cfg.Seed, &logger)
	if err != nil {
		return err
	}
	fmt.Printf("done: carts created=%d skipped=%d, users created=%d skipped=%d\n",
		res.CartsCreated, res.CartsSkipped, res.UsersCreated, res.UsersSkipped)
	return nil
}

func sheetTitles(cfg *config.Config) map[tables.Table]string {
	return map[tables.Table]string{
		tables.Users:        cfg.Google.Sheets.Users,
		tables.Reservations: cfg.Google.Sheets.Reservations,
		tables.Carts:        cfg.Google.Sheets.Carts,
	}
}
