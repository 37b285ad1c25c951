package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"activityd/internal/timeline"
)

var timelineLimit int

// timelineCmd lists recent activities from the store.
var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "List recent activities",
	RunE:  runTimeline,
}

func runTimeline(cmd *cobra.Command, args []string) error {
	store, err := timeline.NewSQLiteStore(cfg.Timeline.DatabasePath)
	if err != nil {
		return fmt.Errorf("open timeline store: %w", err)
	}
	defer store.Close()

	acts, err := store.Recent(context.Background(), timelineLimit)
	if err != nil {
		return err
	}
	if len(acts) == 0 {
		fmt.Println("no activities recorded")
		return nil
	}

	for _, act := range acts {
		fmt.Printf("%s  %-12s  %-50.50s  assets=%d snapshots=%d\n",
			act.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
			act.ProcessName, act.Name, len(act.Assets), len(act.Snapshots))
	}
	return nil
}
