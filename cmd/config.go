package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/tfupload/internal/gradle"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "tfupload"), nil
}

var configCmd = &cobra.Command{
	Use:   "config [path]",
	Short: "Show or create the tfupload configuration",
	Long: `Show the effective tfupload configuration, where each value comes
from, and the Gradle executable that would build the project at path.

Running bare 'tfupload config' is the same as 'tfupload config show'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun(args)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write config.yaml from the current effective values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "Show effective configuration, sources, and the resolved Gradle",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun(args)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

// configKey is a setting tfupload reads, with the comment written above it
// by 'config init'.
type configKey struct {
	Key     string
	Comment string
}

var configKeys = []configKey{
	{"state_dir", "Directory for tfupload state and project locks"},
	{"db_path", "SQLite database holding saved API keys and upload history"},
	{"gradle.use_wrapper", "Run the project's gradlew; false uses gradle from PATH"},
	{"gradle.build_file", "Groovy build script patched with the TestFairy plugin, relative to the project root"},
	{"upload.open_browser", "Open the TestFairy URL after an upload: ask, always or never"},
	{"upload.uploaded_by", "Attribution sent to TestFairy with every upload"},
}

// envVar returns the environment variable that overrides key.
func envVar(key string) string {
	return "TFUPLOAD_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// configSource reports whether key is set by the environment, the config
// file, or left at its default.
func configSource(key string) string {
	if _, ok := os.LookupEnv(envVar(key)); ok {
		return "env " + envVar(key)
	}
	if viper.InConfig(key) {
		return "file"
	}
	return "default"
}

// validateConfig returns one message per setting tfupload cannot work with.
func validateConfig() []string {
	var problems []string

	switch v := viper.GetString("upload.open_browser"); v {
	case openBrowserAsk, openBrowserAlways, openBrowserNever:
	default:
		problems = append(problems, fmt.Sprintf("upload.open_browser: %q must be one of ask, always, never", v))
	}

	bf := viper.GetString("gradle.build_file")
	switch {
	case strings.TrimSpace(bf) == "":
		problems = append(problems, "gradle.build_file: must not be empty")
	case filepath.IsAbs(bf):
		problems = append(problems, fmt.Sprintf("gradle.build_file: %q must be relative to the project root", bf))
	case filepath.Ext(bf) != ".gradle":
		problems = append(problems, fmt.Sprintf("gradle.build_file: %q is not a Groovy build script (*.gradle)", bf))
	}

	if strings.TrimSpace(viper.GetString("db_path")) == "" {
		problems = append(problems, "db_path: must not be empty")
	}
	if strings.TrimSpace(viper.GetString("upload.uploaded_by")) == "" {
		problems = append(problems, "upload.uploaded_by: must not be empty")
	}
	return problems
}

// checkConfig prints every configuration problem and fails when there is one.
func checkConfig() error {
	problems := validateConfig()
	for _, p := range problems {
		ui.Error("%s", p)
	}
	if len(problems) > 0 {
		return errSilent
	}
	return nil
}

func configFilePath() (string, error) {
	if f := viper.ConfigFileUsed(); f != "" {
		return f, nil
	}
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// renderConfig encodes the effective value of every key as commented YAML.
func renderConfig() ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	sections := map[string]*yaml.Node{}

	for _, k := range configKeys {
		parent, name := root, k.Key
		if section, leaf, ok := strings.Cut(k.Key, "."); ok {
			if sections[section] == nil {
				sections[section] = &yaml.Node{Kind: yaml.MappingNode}
				root.Content = append(root.Content,
					&yaml.Node{Kind: yaml.ScalarNode, Value: section}, sections[section])
			}
			parent, name = sections[section], leaf
		}

		value := &yaml.Node{}
		if err := value.Encode(viper.Get(k.Key)); err != nil {
			return nil, fmt.Errorf("encode %s: %w", k.Key, err)
		}
		parent.Content = append(parent.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: name, HeadComment: "# " + k.Comment}, value)
	}

	var buf bytes.Buffer
	buf.WriteString("# tfupload configuration. Run 'tfupload config show' for effective values.\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func configInitRun() error {
	if err := checkConfig(); err != nil {
		return err
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfgPath); err == nil && !configForce {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
	}

	data, err := renderConfig()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would write %s:", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, string(data))
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := renameio.WriteFile(cfgPath, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	ui.Success("Wrote %s", cfgPath)
	return nil
}

func configShowRun(args []string) error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: none (defaults and TFUPLOAD_* environment)")
	}

	table := ui.Table([]string{"KEY", "VALUE", "SOURCE"})
	for _, k := range configKeys {
		table.Append([]string{k.Key, fmt.Sprint(viper.Get(k.Key)), configSource(k.Key)})
	}
	if err := table.Render(); err != nil {
		return err
	}

	p, err := resolveProject(args)
	if err != nil {
		return err
	}
	c := gradle.NewConnector()
	c.UseWrapper = viper.GetBool("gradle.use_wrapper")
	if bin, err := c.Resolve(p.Root); err != nil {
		ui.Warning("Gradle for %s: %v", p.Root, err)
	} else {
		ui.Info("Gradle for %s: %s", p.Root, bin)
	}

	return checkConfig()
}
