package main

import (
	"fmt"
	"os"

	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/hfischer/go7zbackup/internal/resolve"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration files",
	Long: `Parse and merge the configuration files, then dry-resolve every job
against the global defaults. No backup operations are executed.`,
	RunE: validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			log.Error().Str("file", configFile).Msg("config file not found")
			return fmt.Errorf("config file not found: %s", configFile)
		}
	}

	doc, err := loadDocument(cmd)
	if err != nil {
		return err
	}

	// Dry-resolve each job so required-default errors surface here rather
	// than mid-run. Jobs are checked standalone, without set overrides.
	resolver := resolve.NewResolver(log.Logger)
	failed := 0
	for _, name := range sortedJobNames(doc) {
		if _, _, err := resolver.Resolve(name, doc, nil, models.CLIOverrides{}); err != nil {
			failed++
			fmt.Printf("  job %s: %v\n", name, err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed resolution", failed, len(doc.BackupLocations))
	}

	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  7-Zip binary: %s\n", doc.Global.SevenZipPath)
	fmt.Printf("  Destination: %s\n", doc.Global.DefaultDestinationDir)
	fmt.Printf("  Jobs: %d\n", len(doc.BackupLocations))
	fmt.Printf("  Sets: %d\n", len(doc.BackupSets))
	fmt.Printf("  Targets: %d\n", len(doc.BackupTargets))
	fmt.Printf("  Snapshot providers: %d\n", len(doc.SnapshotProviders))

	return nil
}
