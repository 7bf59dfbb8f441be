package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Vielheim/crux/internal/db"
	"github.com/Vielheim/crux/internal/worker"
)

func newMigrateCmd(a *app) *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres DSN (env DATABASE_URL)")

	run := func(action string, fn func(cmd *cobra.Command, dsn string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			if err := fn(cmd, databaseURL); err != nil {
				return err
			}
			if action != "" {
				a.printer.Success("%s", action)
			}
			return nil
		}
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: run("Migrations applied", func(cmd *cobra.Command, dsn string) error {
			return db.Migrate(cmd.Context(), dsn)
		}),
	}
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: run("Rolled back one migration", func(cmd *cobra.Command, dsn string) error {
			return db.Rollback(cmd.Context(), dsn)
		}),
	}
	status := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: run("", func(cmd *cobra.Command, dsn string) error {
			return db.MigrationStatus(cmd.Context(), dsn)
		}),
	}

	cmd.AddCommand(up, down, status)
	return cmd
}

func newRequeueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <climb-id>",
		Short: "Enqueue a fresh analysis job for a stuck climb",
		Long: `Enqueue a fresh analysis job for a climb that is PENDING or whose
PROCESSING lease has expired. Completed and failed climbs are refused.

Connects to Postgres and Redis directly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("climb id", args[0])
			if err != nil {
				return err
			}

			b, err := openBackends(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			jobID, err := worker.Requeue(cmd.Context(), b.queries, b.queue, id, time.Now())
			if err != nil {
				return fmt.Errorf("failed to requeue climb %d: %w", id, err)
			}

			if a.jsonOutput {
				return a.printer.JSON(map[string]any{"climb_id": id, "job_id": jobID})
			}
			a.printer.Success("Requeued climb %d (job %s)", id, jobID)
			return nil
		},
	}
}

func newSweepCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one recovery sweep over stale and orphaned climbs",
		Long: `Run one recovery sweep: re-enqueue or fail climbs whose processing
lease expired, and enqueue PENDING climbs that never reached the queue.

The sweep takes the same Redis lock as the workers' periodic sweeper
unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackends(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			deps := &worker.SweepDependencies{
				Store:               b.queries,
				Queue:               b.queue,
				Events:              b.events,
				MaxRecoveryAttempts: b.cfg.MaxRecoveryAttempts,
				OrphanGrace:         b.cfg.OrphanGrace,
				RequeueGrace:        b.cfg.LeaseDuration,
			}

			var lock worker.Locker
			if !force {
				lock = worker.NewRedisLock(b.redis, worker.SweepLockKey, b.cfg.SweepInterval)
			}

			stats, ran, err := worker.SweepLocked(cmd.Context(), deps, lock)
			if !ran {
				if err != nil {
					return fmt.Errorf("failed to acquire sweep lock: %w", err)
				}
				return fmt.Errorf("another sweep is running; retry later or use --force")
			}
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}

			if a.jsonOutput {
				return a.printer.JSON(stats)
			}
			a.printer.Success("Sweep finished: %d climbs recovered", stats.Total())
			a.printer.KeyValue("Requeued", fmt.Sprint(stats.Requeued))
			a.printer.KeyValue("Failed", fmt.Sprint(stats.Failed))
			a.printer.KeyValue("Orphans queued", fmt.Sprint(stats.OrphansQueued))
			if stats.EnqueueErrors+stats.DatabaseErrors > 0 {
				a.printer.Warn("%d enqueue errors, %d database errors", stats.EnqueueErrors, stats.DatabaseErrors)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Sweep without taking the shared lock")
	return cmd
}
