package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/Raiccio/demographics-backend/internal/arcgis"
	"github.com/Raiccio/demographics-backend/internal/config"
	"github.com/Raiccio/demographics-backend/internal/daemon"
	"github.com/Raiccio/demographics-backend/internal/pipeline"
	"github.com/Raiccio/demographics-backend/internal/snapshot"
	"github.com/Raiccio/demographics-backend/internal/store"
	"github.com/Raiccio/demographics-backend/internal/version"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"config.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Serve struct{} `cmd:"" help:"Run the service: scheduled fetch/process jobs plus the REST API"`

	Fetch struct {
		Totals bool `help:"Print server-side aggregated state totals instead of writing a snapshot"`
	} `cmd:"" help:"Fetch county demographics from the upstream feature service once"`

	Process struct {
		Snapshot string `short:"s" help:"Specific snapshot file to process (defaults to the most recent pending one)"`
	} `cmd:"" help:"Process one pending snapshot into the state population table"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	switch ctx.Command() {
	case "serve":
		cfg, err := config.Load(CLI.Config)
		if err != nil {
			slog.Error("Failed to load configuration", "error", err)
			os.Exit(1)
		}
		if err := runServe(cfg); err != nil {
			slog.Error("Serve failed", "error", err)
			os.Exit(1)
		}
	case "fetch":
		cfg, err := config.Load(CLI.Config)
		if err != nil {
			slog.Error("Failed to load configuration", "error", err)
			os.Exit(1)
		}
		if err := runFetch(cfg, CLI.Fetch.Totals); err != nil {
			slog.Error("Fetch failed", "error", err)
			os.Exit(1)
		}
	case "process":
		cfg, err := config.Load(CLI.Config)
		if err != nil {
			slog.Error("Failed to load configuration", "error", err)
			os.Exit(1)
		}
		if err := runProcess(cfg, CLI.Process.Snapshot); err != nil {
			slog.Error("Process failed", "error", err)
			os.Exit(1)
		}
	case "init":
		if err := runInit(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("demographicsd %s (built %s, commit %s)\n",
			version.Version, version.BuildTime, version.GitCommit)
	}
}

func runServe(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(cfg, CLI.Config)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Start(ctx)
	}()

	slog.Info("Daemon started, waiting for shutdown signal...")

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("daemon error: %w", err)
		}
		<-ctx.Done()
		slog.Info("Shutdown signal received, stopping daemon...")
	case <-ctx.Done():
		slog.Info("Shutdown signal received, stopping daemon...")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := d.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	slog.Info("Daemon stopped successfully")
	return nil
}

func runFetch(cfg *config.Config, totals bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := arcgis.NewClient(
		cfg.Source.URL,
		time.Duration(cfg.Source.TimeoutSeconds)*time.Second,
		cfg.Source.PageSize,
		cfg.Source.MaxRecords,
		cfg.Retry.Policy(),
	)

	if totals {
		// Preview path: ask the feature service to aggregate by state and
		// print the result without touching local data.
		rows, err := client.FetchStateTotals(ctx)
		if err != nil {
			return err
		}
		for _, row := range rows {
			fmt.Printf("%-30s %12d\n", row.StateName, row.Population)
		}
		return nil
	}

	snaps, err := snapshot.NewStore(cfg.Data.Dir, cfg.Data.ArchiveDir, cfg.Data.ErrorDir)
	if err != nil {
		return err
	}
	fetcher := arcgis.NewFetcher(client, snaps, nil)
	res, err := fetcher.Fetch(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("fetched %d county rows into %s\n", res.Rows, res.Snapshot)
	return nil
}

func runProcess(cfg *config.Config, ref string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.New(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			slog.Warn("Failed to close database", "error", cerr)
		}
	}()

	snaps, err := snapshot.NewStore(cfg.Data.Dir, cfg.Data.ArchiveDir, cfg.Data.ErrorDir)
	if err != nil {
		return err
	}

	processor := pipeline.NewProcessor(snaps, db, nil)
	res, err := processor.Process(ctx, ref)
	if err != nil {
		return err
	}
	fmt.Printf("processed %d rows across %d states from %s\n",
		res.RowsProcessed, res.StatesUpdated, res.Snapshot)
	return nil
}

func runInit(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}
	if err := config.Default().Save(configPath); err != nil {
		return err
	}
	slog.Info("Configuration written", "path", configPath)
	return nil
}
