package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"makercalc/internal/config"
	"makercalc/internal/db"
	applog "makercalc/internal/log"
	"makercalc/internal/plans"
	"makercalc/internal/service"
)

func main() {
	userID := flag.Uint("user", 0, "refresh a single user, all users when zero")
	concurrency := flag.Int("concurrency", 4, "users refreshed in parallel")
	flag.Parse()

	if err := run(context.Background(), uint(*userID), *concurrency); err != nil {
		fmt.Fprintf(os.Stderr, "refresh failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, userID uint, concurrency int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applog.SetLevel(cfg.Logging.Level); err != nil {
		return err
	}

	database, err := db.Configure(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	catalog, err := plans.Load(cfg.Plans.File)
	if err != nil {
		return err
	}

	return refresh(ctx, service.New(database, service.Options{Plans: catalog}), userID, concurrency, os.Stdout)
}

// refresh writes one JSON report per refreshed user to out.
func refresh(ctx context.Context, svc *service.Service, userID uint, concurrency int, out io.Writer) error {
	enc := json.NewEncoder(out)

	if userID != 0 {
		report, err := svc.RefreshCosts(ctx, userID)
		if err != nil {
			return err
		}
		return enc.Encode(report)
	}

	reports, err := svc.RefreshAllUsers(ctx, concurrency)
	for _, report := range reports {
		if report.UserID == 0 {
			continue
		}
		if encErr := enc.Encode(report); encErr != nil {
			return encErr
		}
	}
	return err
}
