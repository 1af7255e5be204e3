package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile     string
	userConfigFile string
	verbose        bool
	quiet          bool
	jsonOutput     bool
)

var rootCmd = &cobra.Command{
	Use:   "go7zbackup",
	Short: "A 7-Zip backup orchestrator for Windows hosts",
	Long: `go7zbackup drives 7-Zip backup jobs from a layered YAML configuration:
  - Shadow copies (VSS) or hypervisor snapshots of the sources
  - 7-Zip archiving with retries, checksums and integrity tests
  - Transfer to UNC shares and SFTP targets, with Wake-on-LAN
  - Webhook notifications and post-run actions

Use as a one-shot command with an external scheduler (Task Scheduler, cron, etc.)`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "defaults config file (required)")
	rootCmd.PersistentFlags().StringVarP(&userConfigFile, "user-config", "u", "", "user override config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(jobsCmd)
}

func setupLogging() {
	if jsonOutput {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
