package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/hfischer/go7zbackup/internal/config"
	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/hfischer/go7zbackup/internal/prompt"
	"github.com/hfischer/go7zbackup/internal/resolve"
	"github.com/hfischer/go7zbackup/internal/services/runner"
	"github.com/hfischer/go7zbackup/internal/services/vss"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var errConfigRequired = errors.New("config file is required")

var (
	flagJob            string
	flagSet            string
	flagSkipJobs       []string
	flagUseVSS         bool
	flagSkipVSS        bool
	flagEnableRetries  bool
	flagSkipRetries    bool
	flagTestArchive    bool
	flagPin            bool
	flagPriority       string
	flagAffinity       string
	flagNotifyProfile  string
	flagLogKeep        int
	flagDryRun         bool
	flagNonInteractive bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute backup jobs",
	Long: `Execute one or more backup jobs:
1. Resolve the effective configuration per job (CLI > Set > Job > Global)
2. Validate source and destination paths
3. Create shadow copies or hypervisor snapshots when configured
4. Archive with 7-Zip, generate checksums and manifests, test integrity
5. Transfer to every configured target, then clean up local files
6. Send the job report and run the post-run action`,
	RunE: runBackup,
}

func init() {
	runCmd.Flags().StringVarP(&flagJob, "job", "j", "", "run a single job by name")
	runCmd.Flags().StringVarP(&flagSet, "set", "s", "", "run a backup set by name")
	runCmd.Flags().StringSliceVar(&flagSkipJobs, "skip-job", nil, "job names to skip (repeatable)")
	runCmd.Flags().BoolVar(&flagUseVSS, "vss", false, "force shadow copies on")
	runCmd.Flags().BoolVar(&flagSkipVSS, "no-vss", false, "force shadow copies off (wins over --vss)")
	runCmd.Flags().BoolVar(&flagEnableRetries, "retries", false, "force archiver retries on")
	runCmd.Flags().BoolVar(&flagSkipRetries, "no-retries", false, "force archiver retries off (wins over --retries)")
	runCmd.Flags().BoolVar(&flagTestArchive, "test-archive", false, "force the post-creation integrity test")
	runCmd.Flags().BoolVar(&flagPin, "pin", false, "pin the created archives against retention")
	runCmd.Flags().StringVar(&flagPriority, "priority", "", "7-Zip process priority (Idle|BelowNormal|Normal|AboveNormal|High)")
	runCmd.Flags().StringVar(&flagAffinity, "affinity", "", "7-Zip CPU affinity mask (hex)")
	runCmd.Flags().StringVar(&flagNotifyProfile, "notify-profile", "", "notification profile (force-enables notifications)")
	runCmd.Flags().IntVar(&flagLogKeep, "log-keep", 0, "run logs to keep in the log directory")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "resolve and validate but do not archive or transfer")
	runCmd.Flags().BoolVar(&flagNonInteractive, "non-interactive", false, "never prompt; fail instead")
}

func cliOverrides() models.CLIOverrides {
	cli := models.CLIOverrides{
		JobName:        flagJob,
		SetName:        flagSet,
		SkipJobs:       flagSkipJobs,
		UseVSS:         flagUseVSS,
		SkipVSS:        flagSkipVSS,
		EnableRetries:  flagEnableRetries,
		SkipRetries:    flagSkipRetries,
		TestArchive:    flagTestArchive,
		Pin:            flagPin,
		Priority:       flagPriority,
		CPUAffinity:    flagAffinity,
		NotifyProfile:  flagNotifyProfile,
		DryRun:         flagDryRun,
		NonInteractive: flagNonInteractive,
	}
	if flagLogKeep > 0 {
		keep := flagLogKeep
		cli.LogRetentionCount = &keep
	}
	return cli
}

func runBackup(cmd *cobra.Command, args []string) error {
	doc, err := loadDocument(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	cli := cliOverrides()
	mode := prompt.DetectRunMode(quiet, flagNonInteractive)

	jobResolver := resolve.NewJobResolver(log.Logger, prompt.NewMenu(log.Logger))
	plan, err := jobResolver.Resolve(doc, cli, mode)
	if err != nil {
		log.Error().Err(err).Msg("job selection failed")
		return err
	}

	log.Info().
		Strs("jobs", plan.JobNames).
		Str("set", plan.SetName).
		Bool("dry_run", cli.DryRun).
		Msg("job plan resolved")

	runnerSvc := runner.New(log.Logger, &vss.DefaultExecutor{})
	reports, err := runnerSvc.RunPlan(ctx, doc, plan, cli)

	for _, r := range reports {
		log.Info().
			Str("job", r.JobName).
			Str("status", string(r.Status)).
			Str("archive", r.ArchivePath).
			Int("warnings", len(r.Warnings)).
			Msg("job result")
	}

	if err != nil {
		log.Error().Err(err).Msg("backup run failed")
		return err
	}

	log.Info().Msg("backup run completed")
	return nil
}

func loadDocument(cmd *cobra.Command) (*models.Document, error) {
	if configFile == "" {
		log.Error().Msg("config file is required")
		_ = cmd.Help()
		return nil, errConfigRequired
	}

	parser := config.NewParser()
	doc, err := parser.Load(configFile, userConfigFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if err := config.Validate(doc); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	log.Info().
		Str("config", configFile).
		Int("jobs", len(doc.BackupLocations)).
		Int("sets", len(doc.BackupSets)).
		Int("targets", len(doc.BackupTargets)).
		Msg("configuration loaded")

	return doc, nil
}
