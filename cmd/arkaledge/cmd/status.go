package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/arkaledge/orchestrator/internal/events"
	"github.com/arkaledge/orchestrator/internal/kanban"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current kanban board for a project directory",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(c *cobra.Command, args []string) error {
	path := filepath.Join(projectDir, ".arkaledge", "kanban.json")
	store := kanban.New(path, events.New())
	if err := store.Init(); err != nil {
		return err
	}

	tasks, err := store.GetAllTasks()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tASSIGNEE\tTITLE")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Priority, t.Assignee, t.Title)
	}
	tw.Flush()

	health := kanban.ComputeSystemHealth(tasks)
	fmt.Printf("\n%d tasks, blocked ratio %.2f, thrashing %.2f, rework %.2f\n",
		health.TotalTasks, health.BlockedRatio, health.ThrashingRate, health.ReworkRate)
	return nil
}
