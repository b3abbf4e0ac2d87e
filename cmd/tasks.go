package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/tfupload/internal/job"
	"github.com/joescharf/tfupload/internal/models"
	"github.com/joescharf/tfupload/internal/upload"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks [path]",
	Short: "List the TestFairy tasks of a project",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tasksRun(cmd.Context(), args)
	},
}

func init() {
	rootCmd.AddCommand(tasksCmd)
}

func tasksRun(ctx context.Context, args []string) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	p, err := resolveProject(args)
	if err != nil {
		return err
	}
	o := newOrchestrator(nil, ui)

	stop := ui.Spinner("Discovering TestFairy tasks")
	tasks, err := job.Go(ctx, func(ctx context.Context) ([]models.Task, error) {
		return o.DiscoverTasks(ctx, p)
	}).Await(context.Background())
	stop()
	if err != nil {
		return reportStageError(err)
	}
	if len(tasks) == 0 {
		return reportStageError(upload.ErrNoTasksFound)
	}

	table := ui.Table([]string{"TASK", "KIND", "DESCRIPTION"})
	for _, t := range tasks {
		table.Append([]string{t.Name, string(t.Family), t.Explanation})
	}
	return table.Render()
}
