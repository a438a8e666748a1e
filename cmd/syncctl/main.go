package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/judgefinder/judge-sync/internal/config"
	"github.com/judgefinder/judge-sync/internal/courtlistener"
	"github.com/judgefinder/judge-sync/internal/database"
	"github.com/judgefinder/judge-sync/internal/queue"
	"github.com/judgefinder/judge-sync/internal/syncer"
	"github.com/judgefinder/judge-sync/pkg/logger"
)

// deps bundles everything a subcommand needs.
type deps struct {
	cfg       *config.Config
	db        *gorm.DB
	log       *logger.Logger
	courts    *syncer.CourtSyncManager
	decisions *syncer.DecisionSyncManager
	queue     *queue.Manager
}

func setup() (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	client := courtlistener.NewClient(cfg, log)
	repo := syncer.NewRepository(db, log)
	courts := syncer.NewCourtSyncManager(cfg, db, client, log)
	decisions := syncer.NewDecisionSyncManager(cfg, db, client, repo, log)
	qm := queue.NewManager(cfg, db, courts, decisions, repo, log)

	return &deps{
		cfg:       cfg,
		db:        db,
		log:       log,
		courts:    courts,
		decisions: decisions,
		queue:     qm,
	}, nil
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

var rootCmd = &cobra.Command{
	Use:   "syncctl",
	Short: "Administer the judicial-records sync pipeline",
	Long: `syncctl runs sync operations directly, manages the job queue and runs
the queue worker, against the same database the server uses.`,
	SilenceUsage: true,
}

var courtsCmd = &cobra.Command{
	Use:   "courts",
	Short: "Run a court sync now",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := setup()
		if err != nil {
			return err
		}
		defer d.log.Sync()

		jurisdiction, _ := cmd.Flags().GetString("jurisdiction")
		force, _ := cmd.Flags().GetBool("force")

		result := d.courts.SyncCourts(cmd.Context(), syncer.CourtSyncOptions{
			Jurisdiction: jurisdiction,
			ForceRefresh: force,
		})
		printJSON(result)
		if !result.Success {
			return fmt.Errorf("court sync finished with %d errors", len(result.Errors))
		}
		return nil
	},
}

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Run a decision sync now",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := setup()
		if err != nil {
			return err
		}
		defer d.log.Sync()

		jurisdiction, _ := cmd.Flags().GetString("jurisdiction")
		lookbackDays, _ := cmd.Flags().GetInt("lookback-days")
		yearsBack, _ := cmd.Flags().GetInt("years-back")
		filings, _ := cmd.Flags().GetBool("filings")
		judgeIDs, _ := cmd.Flags().GetUintSlice("judge")

		result := d.decisions.SyncDecisions(cmd.Context(), syncer.DecisionSyncOptions{
			Jurisdiction:   jurisdiction,
			LookbackDays:   lookbackDays,
			YearsBack:      yearsBack,
			IncludeFilings: filings,
			JudgeIDs:       judgeIDs,
		})
		printJSON(result)
		if !result.Success {
			return fmt.Errorf("decision sync finished with %d errors", len(result.Errors))
		}
		return nil
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <court|judge|decision|full|cleanup>",
	Short: "Schedule a sync job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := setup()
		if err != nil {
			return err
		}
		defer d.log.Sync()

		priority, _ := cmd.Flags().GetInt("priority")
		delay, _ := cmd.Flags().GetDuration("delay")
		optionsJSON, _ := cmd.Flags().GetString("options")

		var options map[string]interface{}
		if optionsJSON != "" {
			if err := json.Unmarshal([]byte(optionsJSON), &options); err != nil {
				return fmt.Errorf("invalid --options JSON: %w", err)
			}
		}

		scheduledFor := time.Time{}
		if delay > 0 {
			scheduledFor = time.Now().Add(delay)
		}

		job, err := d.queue.Enqueue(args[0], options, priority, scheduledFor)
		if err != nil {
			return err
		}
		printJSON(job)
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the queue worker until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := setup()
		if err != nil {
			return err
		}
		defer d.log.Sync()

		worker := queue.NewWorker(d.queue, d.cfg.QueuePollInterval, d.log)
		worker.Start(context.Background())

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		worker.Stop()
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished jobs and sync logs past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := setup()
		if err != nil {
			return err
		}
		defer d.log.Sync()

		retention, _ := cmd.Flags().GetInt("retention-days")
		if retention <= 0 {
			retention = d.cfg.JobRetentionDays
		}

		jobs, logs, err := d.queue.CleanupOldJobs(retention)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d jobs and %d sync logs\n", jobs, logs)
		return nil
	},
}

func init() {
	courtsCmd.Flags().String("jurisdiction", "", "Filter courts by jurisdiction code or name substring")
	courtsCmd.Flags().Bool("force", false, "Update every court regardless of staleness")

	decisionsCmd.Flags().String("jurisdiction", "", "Restrict to judges in one jurisdiction")
	decisionsCmd.Flags().Int("lookback-days", 0, "Override the since-date cursor with now minus N days")
	decisionsCmd.Flags().Int("years-back", 0, "Cursor fallback for judges with no stored decisions")
	decisionsCmd.Flags().Bool("filings", false, "Also sync docket filings")
	decisionsCmd.Flags().UintSlice("judge", nil, "Restrict to explicit judge ids (repeatable)")

	enqueueCmd.Flags().Int("priority", 0, "Job priority, higher runs first")
	enqueueCmd.Flags().Duration("delay", 0, "Schedule the job this long from now")
	enqueueCmd.Flags().String("options", "", "Job options as a JSON object")

	cleanupCmd.Flags().Int("retention-days", 0, "Retention window in days (default from config)")

	rootCmd.AddCommand(courtsCmd, decisionsCmd, enqueueCmd, workerCmd, cleanupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
