package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joescharf/tfupload/internal/buildfile"
	"github.com/joescharf/tfupload/internal/credential"
	"github.com/joescharf/tfupload/internal/models"
	"github.com/joescharf/tfupload/internal/prompt"
	"github.com/joescharf/tfupload/internal/store"
	"github.com/joescharf/tfupload/internal/upload"
)

var configureAPIKey string

var configureCmd = &cobra.Command{
	Use:   "configure [path]",
	Short: "Save the TestFairy API key and add the plugin to the build file",
	Long: `Save the TestFairy API key for an Android project and declare it in
app/build.gradle, together with the TestFairy Gradle plugin.

The key is prompted for with masked input unless --api-key is given.
Running configure again replaces the key in place.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := resolveProject(args)
		if err != nil {
			return err
		}
		return reportError(configureProject(cmd.Context(), p, optionalStore(), configureAPIKey))
	},
}

func init() {
	configureCmd.Flags().StringVar(&configureAPIKey, "api-key", "", "API key (skips the prompt)")
	rootCmd.AddCommand(configureCmd)
}

// configureProject stores key for p and patches the build file with it.
// An empty key is prompted for.
func configureProject(ctx context.Context, p *models.Project, s store.Store, key string) error {
	creds := credentialStore(p, s)

	if key == "" {
		if creds.IsConfigured(ctx) {
			ui.Info("An API key is already saved for %s; entering a new one replaces it", p.Name())
		}
		var err error
		key, err = prompter.APIKey()
		if errors.Is(err, prompt.ErrCanceled) {
			return fmt.Errorf("%w: no API key entered", upload.ErrConfigurationMissing)
		}
		if err != nil {
			return err
		}
	}
	if !buildfile.ValidKey(key) {
		return fmt.Errorf("%w: %w", upload.ErrConfigurationMissing, buildfile.ErrInvalidKey)
	}

	if dryRun {
		return previewPatch(p, key)
	}

	if err := creds.Set(ctx, key); err != nil {
		if !errors.Is(err, credential.ErrStoredInMemoryOnly) {
			return fmt.Errorf("save API key: %w", err)
		}
		ui.Warning("API key kept in memory for this session only: %v", err)
	}

	if err := buildfile.Patch(p.BuildFilePath(), key); err != nil {
		return fmt.Errorf("%w: %w", upload.ErrConfigurationMissing, err)
	}
	ui.VerboseLog("Patched %s", p.BuildFilePath())
	ui.Success("API Key Saved")
	return nil
}

// ensureConfigured patches the build file when it lacks the TestFairy
// declaration. A saved key is reused; otherwise the user is asked for one.
func ensureConfigured(ctx context.Context, o *upload.Orchestrator, p *models.Project, s store.Store) error {
	err := o.CheckConfigured(p)
	if err == nil || !errors.Is(err, upload.ErrConfigurationMissing) {
		return err
	}
	if errors.Is(err, buildfile.ErrBuildFileNotFound) {
		return err
	}

	if key, ok := credentialStore(p, s).Get(ctx); ok && buildfile.ValidKey(key) {
		ui.Info("Restoring TestFairy configuration from the saved API key")
		if dryRun {
			return previewPatch(p, key)
		}
		if err := buildfile.Patch(p.BuildFilePath(), key); err != nil {
			return fmt.Errorf("%w: %w", upload.ErrConfigurationMissing, err)
		}
		return nil
	}

	ui.Warning("%s is not configured for TestFairy", p.Name())
	return configureProject(ctx, p, s, "")
}

func previewPatch(p *models.Project, key string) error {
	data, err := os.ReadFile(p.BuildFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %w: %s", upload.ErrConfigurationMissing, buildfile.ErrBuildFileNotFound, p.BuildFilePath())
		}
		return err
	}
	patched, err := buildfile.Render(string(data), key)
	if err != nil {
		return err
	}
	ui.DryRunMsg("Would save the API key and write %s:", p.BuildFilePath())
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, patched)
	return nil
}
