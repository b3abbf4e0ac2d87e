package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/tfupload/internal/output"
)

// testEnv sets up isolated config dir, viper, and output for testing.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	origFunc := configDirFunc
	configDirFunc = func() (string, error) { return dir, nil }
	t.Cleanup(func() { configDirFunc = origFunc })

	viper.Reset()
	setDefaults()
	t.Cleanup(viper.Reset)

	ui = &output.UI{Out: &bytes.Buffer{}, ErrOut: &bytes.Buffer{}}
	t.Cleanup(func() { configForce = false })

	return dir
}

func outText() string    { return ui.Out.(*bytes.Buffer).String() }
func errOutText() string { return ui.ErrOut.(*bytes.Buffer).String() }

type writtenConfig struct {
	StateDir string `yaml:"state_dir"`
	DBPath   string `yaml:"db_path"`
	Gradle   struct {
		UseWrapper bool   `yaml:"use_wrapper"`
		BuildFile  string `yaml:"build_file"`
	} `yaml:"gradle"`
	Upload struct {
		OpenBrowser string `yaml:"open_browser"`
		UploadedBy  string `yaml:"uploaded_by"`
	} `yaml:"upload"`
}

func TestConfigInit_WritesEffectiveValues(t *testing.T) {
	dir := testEnv(t)
	viper.Set("upload.open_browser", openBrowserNever)

	require.NoError(t, configInitRun())

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Open the TestFairy URL after an upload: ask, always or never")

	var cfg writtenConfig
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, dir, cfg.StateDir)
	assert.Equal(t, filepath.Join(dir, "tfupload.db"), cfg.DBPath)
	assert.True(t, cfg.Gradle.UseWrapper)
	assert.Equal(t, "app/build.gradle", cfg.Gradle.BuildFile)
	assert.Equal(t, "never", cfg.Upload.OpenBrowser)
	assert.Equal(t, "TestFairy Upload CLI", cfg.Upload.UploadedBy)
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	dir := testEnv(t)
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	err := configInitRun()
	assert.ErrorContains(t, err, "already exists")

	configForce = true
	require.NoError(t, configInitRun())
	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "open_browser: ask")
}

func TestConfigInit_RejectsInvalidValues(t *testing.T) {
	dir := testEnv(t)
	viper.Set("upload.open_browser", "sometimes")

	err := configInitRun()
	assert.ErrorIs(t, err, errSilent)
	assert.Contains(t, errOutText(), `upload.open_browser: "sometimes" must be one of ask, always, never`)

	_, err = os.Stat(filepath.Join(dir, "config.yaml"))
	assert.True(t, os.IsNotExist(err), "invalid values must not be written")
}

func TestConfigInit_DryRun(t *testing.T) {
	dir := testEnv(t)
	dryRun = true
	ui.DryRun = true
	t.Cleanup(func() { dryRun = false })

	require.NoError(t, configInitRun())
	assert.Contains(t, outText(), "use_wrapper: true")

	_, err := os.Stat(filepath.Join(dir, "config.yaml"))
	assert.True(t, os.IsNotExist(err), "config file should not exist in dry-run mode")
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
		want string
	}{
		{"defaults", "", nil, ""},
		{"open browser always", "upload.open_browser", "always", ""},
		{"open browser unknown", "upload.open_browser", "yes", "upload.open_browser"},
		{"empty build file", "gradle.build_file", " ", "must not be empty"},
		{"absolute build file", "gradle.build_file", "/src/app/build.gradle", "must be relative"},
		{"kotlin build file", "gradle.build_file", "app/build.gradle.kts", "not a Groovy build script"},
		{"nested module", "gradle.build_file", "mobile/build.gradle", ""},
		{"empty uploaded by", "upload.uploaded_by", "", "upload.uploaded_by"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testEnv(t)
			if tt.key != "" {
				viper.Set(tt.key, tt.val)
			}

			problems := validateConfig()
			if tt.want == "" {
				assert.Empty(t, problems)
				return
			}
			require.Len(t, problems, 1)
			assert.Contains(t, problems[0], tt.want)
		})
	}
}

func TestConfigSource(t *testing.T) {
	dir := testEnv(t)
	t.Setenv("TFUPLOAD_UPLOAD_OPEN_BROWSER", "never")
	bindEnv()

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("gradle:\n  use_wrapper: false\n"), 0644))
	viper.SetConfigFile(cfgPath)
	require.NoError(t, viper.ReadInConfig())

	assert.Equal(t, "never", viper.GetString("upload.open_browser"))
	assert.Equal(t, "env TFUPLOAD_UPLOAD_OPEN_BROWSER", configSource("upload.open_browser"))

	assert.False(t, viper.GetBool("gradle.use_wrapper"))
	assert.Equal(t, "file", configSource("gradle.use_wrapper"))

	assert.Equal(t, "default", configSource("upload.uploaded_by"))
}

func TestConfigShow_ResolvesGradleWrapper(t *testing.T) {
	testEnv(t)
	root := t.TempDir()
	wrapper := filepath.Join(root, "gradlew")
	require.NoError(t, os.WriteFile(wrapper, []byte("#!/bin/sh\n"), 0755))

	require.NoError(t, configShowRun([]string{root}))

	out := outText()
	assert.Contains(t, out, "Config file: none")
	assert.Contains(t, out, "upload.open_browser")
	assert.Contains(t, out, "Gradle for "+root+": "+wrapper)
}

func TestConfigShow_ReportsProblems(t *testing.T) {
	testEnv(t)
	viper.Set("gradle.build_file", "app/build.gradle.kts")

	err := configShowRun([]string{t.TempDir()})
	assert.ErrorIs(t, err, errSilent)
	assert.Contains(t, errOutText(), "not a Groovy build script")
}

func TestSetDefaults(t *testing.T) {
	dir := testEnv(t)

	assert.Equal(t, filepath.Join(dir, "tfupload.db"), viper.GetString("db_path"))
	assert.True(t, viper.GetBool("gradle.use_wrapper"))
	assert.Equal(t, "app/build.gradle", viper.GetString("gradle.build_file"))
	assert.Equal(t, "ask", viper.GetString("upload.open_browser"))
	assert.Equal(t, "TestFairy Upload CLI", viper.GetString("upload.uploaded_by"))
}

func TestExitMessage(t *testing.T) {
	assert.Empty(t, exitMessage(errSilent))
	assert.Empty(t, exitMessage(fmt.Errorf("configure: %w", errSilent)))
	assert.Equal(t, "Error: boom", exitMessage(errors.New("boom")))
}
