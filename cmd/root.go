package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/tfupload/internal/browser"
	"github.com/joescharf/tfupload/internal/credential"
	"github.com/joescharf/tfupload/internal/gradle"
	"github.com/joescharf/tfupload/internal/models"
	"github.com/joescharf/tfupload/internal/output"
	"github.com/joescharf/tfupload/internal/prompt"
	"github.com/joescharf/tfupload/internal/store"
	"github.com/joescharf/tfupload/internal/upload"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	prompter  prompt.Prompter
	opener    browser.Opener
	connector gradle.Connector

	// memoryCredentials is the session tier shared by every credential.Store.
	memoryCredentials = credential.NewMemoryBackend()

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "tfupload [path]",
	Short: "Build an Android app and upload it to TestFairy",
	Long: `tfupload builds an Android project with the TestFairy Gradle plugin
and uploads the result. It discovers the testfairy* tasks Gradle offers,
runs the one you pick, and prints the TestFairy URL of the new build.

Running bare 'tfupload' is the same as 'tfupload upload'.`,
	Args:              cobra.MaximumNArgs(1),
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		if msg := exitMessage(err); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(1)
	}
}

// exitMessage is what Execute prints for err. Failures already reported
// through ui print nothing more.
func exitMessage(err error) string {
	if errors.Is(err, errSilent) {
		return ""
	}
	return "Error: " + err.Error()
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return uploadRun(cmd, args)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/tfupload/config.yaml)")
	rootCmd.Flags().StringVarP(&uploadTask, "task", "t", "", "TestFairy task to run (skips the selection prompt)")
}

func initConfig() {
	// Project-local .env files do not override variables already set.
	for _, f := range []string{".env", ".env.local"} {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}

	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	bindEnv()
	setDefaults()

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// bindEnv maps nested keys to TFUPLOAD_ variables, e.g. upload.open_browser
// to TFUPLOAD_UPLOAD_OPEN_BROWSER.
func bindEnv() {
	viper.SetEnvPrefix("TFUPLOAD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// setDefaults registers every config key with viper.
func setDefaults() {
	defaultConfigDir, _ := configDirFunc()

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "tfupload.db"))
	viper.SetDefault("gradle.use_wrapper", true)
	viper.SetDefault("gradle.build_file", models.DefaultBuildFile)
	viper.SetDefault("upload.open_browser", openBrowserAsk)
	viper.SetDefault("upload.uploaded_by", upload.DefaultUploadedBy)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	if prompter == nil {
		prompter = &prompt.Terminal{}
	}
	if opener == nil {
		opener = browser.NewOpener()
	}
	if connector == nil {
		c := gradle.NewConnector()
		c.UseWrapper = viper.GetBool("gradle.use_wrapper")
		connector = c
	}

	// Initialize store lazily, only when commands actually need it.
	// This allows config/version commands to run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// optionalStore returns the shared store, or nil with a warning when the
// database cannot be opened. Uploads and credentials still work for the
// session without it.
func optionalStore() store.Store {
	s, err := getStore()
	if err != nil {
		ui.Warning("History and saved keys unavailable: %v", err)
		return nil
	}
	return s
}

// resolveProject turns the optional path argument into a Project.
func resolveProject(args []string) (*models.Project, error) {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	p, err := models.NewProject(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project: %w", err)
	}
	info, err := os.Stat(p.Root)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", p.Root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project %s is not a directory", p.Root)
	}
	p.BuildFile = viper.GetString("gradle.build_file")
	return p, nil
}

// credentialStore returns the two-tier credential store for p.
func credentialStore(p *models.Project, s store.Store) *credential.Store {
	var durable credential.Backend
	if s != nil {
		durable = credential.NewSQLBackend(s)
	}
	return credential.NewStore(p.ID, memoryCredentials, durable)
}

// newOrchestrator wires the orchestrator with the shared connector.
func newOrchestrator(s store.Store, r upload.Reporter) *upload.Orchestrator {
	o := upload.NewOrchestrator(connector, s, r)
	o.Version = buildVersion
	o.UploadedBy = viper.GetString("upload.uploaded_by")
	return o
}

// reportError prints classified errors as short messages and returns a
// silent error so Execute still exits non-zero.
func reportError(err error) error {
	if err == nil {
		return nil
	}
	if upload.Expected(err) {
		ui.Error("%v", err)
		return errSilent
	}
	if verbose {
		ui.Error("Unexpected error: %+v", err)
	}
	return err
}

// errSilent signals failure after the message was already shown.
var errSilent = errors.New("failed")
