package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/tfupload/internal/job"
	"github.com/joescharf/tfupload/internal/lock"
	"github.com/joescharf/tfupload/internal/models"
	"github.com/joescharf/tfupload/internal/prompt"
	"github.com/joescharf/tfupload/internal/upload"
)

// upload.open_browser values.
const (
	openBrowserAsk    = "ask"
	openBrowserAlways = "always"
	openBrowserNever  = "never"
)

var uploadTask string

// uploadQueue admits one build-and-upload run per process.
var uploadQueue job.Queue

var uploadCmd = &cobra.Command{
	Use:   "upload [path]",
	Short: "Build with a TestFairy task and upload the result",
	Long: `Build an Android project with one of its testfairy* Gradle tasks and
upload the result to TestFairy.

The project is configured first if its build file lacks the TestFairy
plugin or API key. Tasks are discovered from Gradle and offered in a
list unless --task names one. When the build prints a TestFairy URL it
can be opened in the browser (see upload.open_browser).`,
	Args: cobra.MaximumNArgs(1),
	RunE: uploadRun,
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadTask, "task", "t", "", "TestFairy task to run (skips the selection prompt)")
	rootCmd.AddCommand(uploadCmd)
}

// taskChoice is the outcome of the discovery stage.
type taskChoice struct {
	tasks  []models.Task
	labels []string
}

func uploadRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := checkConfig(); err != nil {
		return err
	}
	p, err := resolveProject(args)
	if err != nil {
		return err
	}

	release, err := uploadQueue.Begin()
	if err != nil {
		return err
	}
	defer release()

	// A dry run writes nothing, so it neither takes nor waits on the project lock.
	if !dryRun {
		unlock, err := lock.ForProject(viper.GetString("state_dir"), p.ID).Acquire()
		if err != nil {
			return err
		}
		defer func() { _ = unlock() }()
	}

	s := optionalStore()
	o := newOrchestrator(s, ui)
	o.Console = ui.Console()

	if err := ensureConfigured(ctx, o, p, s); err != nil {
		return reportError(err)
	}
	if dryRun {
		if err := o.CheckConfigured(p); err != nil {
			ui.DryRunMsg("Would discover TestFairy tasks once %s is configured", p.Name())
			return nil
		}
	}

	// Stage 1: discover and explain tasks in the background.
	stop := ui.Spinner("Discovering TestFairy tasks")
	discovered := job.Go(ctx, func(ctx context.Context) ([]models.Task, error) {
		return o.DiscoverTasks(ctx, p)
	})
	explained := job.Then(ctx, discovered, func(_ context.Context, tasks []models.Task) (*taskChoice, error) {
		if len(tasks) == 0 {
			return nil, upload.ErrNoTasksFound
		}
		return &taskChoice{tasks: tasks, labels: upload.Explain(tasks)}, nil
	})
	choice, err := explained.Await(context.Background())
	stop()
	if err != nil {
		return reportStageError(err)
	}

	task, err := chooseTask(choice)
	if err != nil {
		return err
	}
	if task == "" {
		ui.Info("Canceled")
		return nil
	}

	if dryRun {
		ui.DryRunMsg("Would run %s %s in %s", task, strings.Join(o.Arguments(), " "), p.Root)
		return nil
	}

	// Stage 2: build and upload in the background while Gradle streams to the console.
	ui.Info("Running %s", task)
	uploaded := job.Go(ctx, func(ctx context.Context) (*upload.Result, error) {
		return o.Upload(ctx, p, task)
	})
	res, err := uploaded.Await(context.Background())
	if err != nil {
		return reportStageError(err)
	}

	if res.URL != "" {
		ui.Success("Uploaded to TestFairy: %s", res.URL)
		if err := maybeOpenBrowser(res.URL); err != nil {
			ui.Warning("Could not open browser: %v", err)
		}
	}
	ui.Success("Done")
	return nil
}

// chooseTask resolves --task or prompts. An empty name means the user canceled.
func chooseTask(choice *taskChoice) (string, error) {
	if uploadTask != "" {
		for _, t := range choice.tasks {
			if t.Name == uploadTask {
				return t.Name, nil
			}
		}
		names := make([]string, len(choice.tasks))
		for i, t := range choice.tasks {
			names[i] = t.Name
		}
		return "", fmt.Errorf("unknown task %q (available: %s)", uploadTask, strings.Join(names, ", "))
	}

	idx, err := prompter.SelectTask(choice.labels)
	if err != nil {
		return "", err
	}
	if idx == prompt.Canceled {
		return "", nil
	}
	return choice.tasks[idx].Name, nil
}

func maybeOpenBrowser(url string) error {
	switch viper.GetString("upload.open_browser") {
	case openBrowserNever:
		return nil
	case openBrowserAlways:
		return opener.Open(url)
	default:
		ok, err := prompter.ConfirmOpenBrowser(url)
		if err != nil || !ok {
			return err
		}
		return opener.Open(url)
	}
}

// reportStageError maps background stage failures to user-facing messages.
func reportStageError(err error) error {
	var pe *job.PanicError
	switch {
	case errors.Is(err, context.Canceled):
		ui.Warning("Canceled")
		return errSilent
	case errors.As(err, &pe):
		ui.Error("Internal error: %v", pe)
		ui.VerboseLog("%s", pe.Stack)
		return errSilent
	case errors.Is(err, upload.ErrNoTasksFound):
		ui.Error("No TestFairy tasks found. Check that the TestFairy Gradle plugin is available to the build.")
		return errSilent
	}
	return reportError(err)
}
