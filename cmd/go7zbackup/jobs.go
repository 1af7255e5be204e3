package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List configured jobs and sets",
	RunE:  listJobs,
}

func listJobs(cmd *cobra.Command, args []string) error {
	doc, err := loadDocument(cmd)
	if err != nil {
		return err
	}

	fmt.Println("Jobs:")
	for _, name := range sortedJobNames(doc) {
		job := doc.BackupLocations[name]
		state := "enabled"
		if job.Enabled != nil && !*job.Enabled {
			state = "disabled"
		}
		targets := "-"
		if len(job.TargetNames) > 0 {
			targets = strings.Join(job.TargetNames, ", ")
		}
		fmt.Printf("  %-24s %-9s sources: %d  targets: %s\n",
			name, state, len(job.SourcePaths), targets)
	}

	if len(doc.BackupSets) > 0 {
		fmt.Println()
		fmt.Println("Sets:")
		setNames := make([]string, 0, len(doc.BackupSets))
		for name := range doc.BackupSets {
			setNames = append(setNames, name)
		}
		sort.Strings(setNames)
		for _, name := range setNames {
			set := doc.BackupSets[name]
			policy := "StopSet"
			if set.OnErrorInJob != nil {
				policy = *set.OnErrorInJob
			}
			fmt.Printf("  %-24s jobs: %s  on-error: %s\n",
				name, strings.Join(set.JobNames, ", "), policy)
		}
	}

	return nil
}

func sortedJobNames(doc *models.Document) []string {
	names := make([]string, 0, len(doc.BackupLocations))
	for name := range doc.BackupLocations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
