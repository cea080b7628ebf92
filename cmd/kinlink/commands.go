package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/kinlink/backend/internal/job"
	"github.com/OFFIS-RIT/kinlink/backend/internal/queue"
	"github.com/OFFIS-RIT/kinlink/backend/internal/storage"
	"github.com/OFFIS-RIT/kinlink/backend/internal/util"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/logger"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/store"
	storepgx "github.com/OFFIS-RIT/kinlink/backend/pkg/store/pgx"
)

func rootCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "kinlink",
		Short: "Resolve individuals and families across the shelter and waitlist exports",
		Long: `kinlink links the raw client ids of the HMIS shelter export and the
Connecting Point waitlist export into global individual and family ids.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogger(debug)
		},
	}
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(
		resolveCmd(),
		defaultJobCmd(),
		migrateCmd(),
		enqueueCmd(),
		lookupCmd(),
	)
	return cmd
}

// loadJob reads a job document, or returns the default layout when path is
// empty.
func loadJob(path string) (*job.Job, error) {
	if path == "" {
		return job.Default("default"), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job: %w", err)
	}
	return job.Parse(data)
}

// snapshotDeps opens the snapshot store and the job locker for j. Both stay
// nil when j wants no snapshot or DATABASE_URL is unset; the runner then
// warns and skips the snapshot.
func snapshotDeps(ctx context.Context, j *job.Job) (store.ResolveStorage, job.Locker, func(), error) {
	noop := func() {}
	if !j.Snapshot {
		return nil, nil, noop, nil
	}
	dbURL := util.GetEnv("DATABASE_URL")
	if dbURL == "" {
		logger.Warn("[CLI] DATABASE_URL not set, running without snapshot and job lock", "job", j.ID)
		return nil, nil, noop, nil
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, noop, fmt.Errorf("connect to database: %w", err)
	}
	locker := leaselock.New(pool, leaselock.Options{
		TTL:    util.GetEnvDuration("JOB_LOCK_TTL", 5*time.Minute),
		Wait:   true,
		Holder: "cli",
	})
	return storepgx.NewResolveDBStorageWithConnection(pool), locker, pool.Close, nil
}

func resolveCmd() *cobra.Command {
	var (
		jobPath  string
		snapshot bool
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Run a resolution job locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			j, err := loadJob(jobPath)
			if err != nil {
				return err
			}
			if snapshot {
				j.Snapshot = true
			}

			files, err := storage.NewStorage(ctx)
			if err != nil {
				return err
			}

			snapshots, locker, closeDB, err := snapshotDeps(ctx, j)
			if err != nil {
				return err
			}
			defer closeDB()

			runner := job.NewRunner(job.NewRunnerParams{
				Storage:              files,
				Store:                snapshots,
				Locker:               locker,
				Parallelism:          util.GetEnvInt("LOAD_PARALLELISM", 4),
				MaxReferenceWarnings: util.GetEnvInt("MAX_REFERENCE_WARNINGS", 20),
			})
			res, err := runner.Run(ctx, j)
			if err != nil {
				return err
			}

			for _, out := range res.Outputs {
				fmt.Fprintln(cmd.OutOrStdout(), out)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jobPath, "job", "", "Job document (JSON); the default export layout is used when empty")
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "Write the run to Postgres")
	return cmd
}

func defaultJobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "default-job [id]",
		Short: "Print the default job document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := "default"
			if len(args) == 1 {
				id = args[0]
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(job.Default(id))
		},
	}
}

func migrateCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the snapshot schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbURL := util.GetEnv("DATABASE_URL")
			if dbURL == "" {
				return fmt.Errorf("DATABASE_URL is not set")
			}
			return storepgx.Migrate(dbURL, path)
		},
	}
	cmd.Flags().StringVar(&path, "path", util.GetEnvString("MIGRATIONS_PATH", "migrations"), "Migrations directory")
	return cmd
}

func enqueueCmd() *cobra.Command {
	var jobPath string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Publish a job to the worker queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := loadJob(jobPath)
			if err != nil {
				return err
			}
			body, err := json.Marshal(j)
			if err != nil {
				return err
			}

			conn := queue.Init()
			defer conn.Close()
			ch, err := conn.Channel()
			if err != nil {
				return fmt.Errorf("open channel: %w", err)
			}
			defer ch.Close()

			if err := queue.PublishFIFO(ch, queue.ResolveQueue, body); err != nil {
				return fmt.Errorf("publish: %w", err)
			}
			logger.Info("Job enqueued", "job", j.ID, "queue", queue.ResolveQueue)
			return nil
		},
	}
	cmd.Flags().StringVar(&jobPath, "job", "", "Job document (JSON); the default export layout is used when empty")
	return cmd
}

func lookupCmd() *cobra.Command {
	var (
		jobID   string
		runID   string
		dataset string
	)

	cmd := &cobra.Command{
		Use:   "lookup <raw-id>...",
		Short: "Print the global ids of raw ids from a stored run",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := pgxpool.New(ctx, util.GetEnv("DATABASE_URL"))
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer pool.Close()
			snapshots := storepgx.NewResolveDBStorageWithConnection(pool)

			if runID == "" {
				runID, err = snapshots.LatestRun(ctx, jobID)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "dataset\traw_id\tindividual_id\tfamily_id")
			for _, raw := range args {
				id, err := snapshots.Lookup(ctx, runID, dataset, raw)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\t%s\t%d\t%d\n", id.Dataset, id.RawID, id.IndividualID, id.FamilyID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jobID, "job-id", "default", "Job whose latest run is used when --run is empty")
	cmd.Flags().StringVar(&runID, "run", "", "Run id")
	cmd.Flags().StringVar(&dataset, "dataset", job.DatasetHMIS, "Dataset namespace of the raw ids")
	return cmd
}
