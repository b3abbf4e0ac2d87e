package cmd

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/tfupload/internal/output"
)

var (
	historyLimit int
	historyAll   bool
)

var historyCmd = &cobra.Command{
	Use:   "history [path]",
	Short: "Show recorded uploads, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyRun(cmd.Context(), args)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Maximum number of uploads to show (0 for all)")
	historyCmd.Flags().BoolVarP(&historyAll, "all", "a", false, "Show uploads of every project")
	rootCmd.AddCommand(historyCmd)
}

func historyRun(ctx context.Context, args []string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	var projectID string
	if !historyAll {
		p, err := resolveProject(args)
		if err != nil {
			return err
		}
		projectID = p.ID
	}

	uploads, err := s.ListUploads(ctx, projectID, historyLimit)
	if err != nil {
		return err
	}
	if len(uploads) == 0 {
		ui.Info("No uploads recorded")
		return nil
	}

	table := ui.Table([]string{"STARTED", "TASK", "STATUS", "DURATION", "URL"})
	for _, u := range uploads {
		duration := "-"
		if u.FinishedAt != nil {
			duration = u.FinishedAt.Sub(u.StartedAt).Round(time.Second).String()
		}
		detail := u.URL
		if detail == "" && u.Error != "" {
			detail = firstLine(u.Error)
		}
		table.Append([]string{
			u.StartedAt.Local().Format("2006-01-02 15:04"),
			u.Task,
			output.UploadStatusColor(string(u.Status)),
			duration,
			detail,
		})
	}
	if err := table.Render(); err != nil {
		return err
	}
	ui.VerboseLog("%d upload(s)", len(uploads))
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
