// handlers.go contains the run functions behind each command.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/haasonsaas/steward/internal/config"
	"github.com/haasonsaas/steward/internal/observability"
	"github.com/haasonsaas/steward/internal/registry"
	"github.com/haasonsaas/steward/internal/scheduler"
	"github.com/haasonsaas/steward/internal/service"
	"github.com/haasonsaas/steward/internal/storage"
)

const (
	shutdownTimeout = 15 * time.Second
	timeFormat      = "2006-01-02 15:04"
)

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := "info"
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{Level: level})

	svc, err := service.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	logger.Info("gateway started", "listen", cfg.Server.Listen)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return svc.Stop(shutdownCtx)
}

func runSeed(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "text"})

	db, err := storage.Open(cfg.Database.DSN, cfg.Database.Pool)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := storage.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	seeder := registry.NewSeeder(cfg.Agents.Dir, registry.NewPostgresStore(db), logger)
	results, err := seeder.Sync(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tRESULT")
	for name, result := range results {
		fmt.Fprintf(w, "%s\t%s\n", name, result)
	}
	return w.Flush()
}

func runSchedulesList(ctx context.Context, configPath, user string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := storage.Open(cfg.Database.DSN, cfg.Database.Pool)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	sched := scheduler.New(scheduler.NewPostgresStore(db), nil)
	entries, err := sched.ListSchedules(ctx, user)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAGENT\tSKILL\tCRON\tNEXT RUN\tLAST RUN")
	for _, e := range entries {
		lastRun := "-"
		if e.LastRun != nil {
			lastRun = e.LastRun.Format(timeFormat)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.AgentName, e.Skill, e.Cron, e.NextRun.Format(timeFormat), lastRun)
	}
	return w.Flush()
}

func runSchedulesSync(ctx context.Context, configPath, user string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "text"})

	db, err := storage.Open(cfg.Database.DSN, cfg.Database.Pool)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store := registry.NewPostgresStore(db)
	reg := registry.New(store, registry.NewSystemDir(cfg.Agents.SystemDir), logger)
	sched := scheduler.New(scheduler.NewPostgresStore(db), logger)

	counts, err := sched.SyncFromHeartbeats(ctx, reg, user)
	if err != nil {
		return err
	}
	fmt.Printf("created=%d updated=%d unchanged=%d\n", counts.Created, counts.Updated, counts.Unchanged)
	return nil
}

func runAgentsList(ctx context.Context, configPath, user string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(observability.LogConfig{Level: "warn", Format: "text"})

	db, err := storage.Open(cfg.Database.DSN, cfg.Database.Pool)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	reg := registry.New(registry.NewPostgresStore(db), registry.NewSystemDir(cfg.Agents.SystemDir), logger)
	summaries, err := reg.ListAgents(ctx, user)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSOURCE\tINSTANTIATED\tUPGRADE\tDESCRIPTION")
	for _, a := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%s\n",
			a.Name, a.Source, a.Instantiated, a.UpgradeAvailable, a.Description)
	}
	return w.Flush()
}

func runServiceInstall(configPath string, overwrite bool) error {
	result, err := service.InstallUserService(configPath, overwrite)
	if err != nil {
		return err
	}
	fmt.Println("Wrote", result.Path)
	fmt.Println("Next steps:")
	for _, step := range result.Instructions {
		fmt.Println("  " + step)
	}
	return nil
}
