package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tfupload/internal/buildfile"
	"github.com/joescharf/tfupload/internal/credential"
	"github.com/joescharf/tfupload/internal/gradle"
	"github.com/joescharf/tfupload/internal/lock"
	"github.com/joescharf/tfupload/internal/models"
	"github.com/joescharf/tfupload/internal/output"
	"github.com/joescharf/tfupload/internal/prompt"
)

const testTasksOutput = `TestFairy tasks
---------------
testfairyDebug - Uploads the Debug build to TestFairy.
testfairyNdkDebug - Uploads native symbols for Debug to TestFairy.
`

const testBuildURL = "https://app.testfairy.com/projects/3/builds/17"

type fakeConnector struct {
	outputs map[string]string
	errs    map[string]error
	ran     []string
}

func (f *fakeConnector) Connect(_ context.Context, _ string) (gradle.Connection, error) {
	return &fakeConnection{f: f}, nil
}

type fakeConnection struct{ f *fakeConnector }

func (c *fakeConnection) Run(_ context.Context, req *gradle.Request) error {
	task := req.Tasks[0]
	c.f.ran = append(c.f.ran, task)
	_, _ = io.WriteString(req.Stdout, c.f.outputs[task])
	return c.f.errs[task]
}

func (c *fakeConnection) Close() error { return nil }

type recordingOpener struct{ urls []string }

func (r *recordingOpener) Open(url string) error {
	r.urls = append(r.urls, url)
	return nil
}

type flowEnv struct {
	root      string
	out       *bytes.Buffer
	errOut    *bytes.Buffer
	connector *fakeConnector
	opener    *recordingOpener
	prompter  *prompt.Scripted
}

// newFlowEnv wires the package globals to fakes and returns an Android
// project layout in a temp dir.
func newFlowEnv(t *testing.T, patched bool) *flowEnv {
	t.Helper()
	testEnv(t)

	root := t.TempDir()
	path := filepath.Join(root, "app", "build.gradle")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("apply plugin: 'com.android.application'\n"), 0644))
	if patched {
		require.NoError(t, buildfile.Patch(path, "abc123"))
	}

	env := &flowEnv{
		root:   root,
		out:    &bytes.Buffer{},
		errOut: &bytes.Buffer{},
		connector: &fakeConnector{
			outputs: map[string]string{
				gradle.TasksTask:    testTasksOutput,
				"testfairyDebug":    "Uploading...\n" + testBuildURL + "\nBUILD SUCCESSFUL\n",
				"testfairyNdkDebug": "BUILD SUCCESSFUL\n",
			},
			errs: map[string]error{},
		},
		opener:   &recordingOpener{},
		prompter: &prompt.Scripted{Task: 0, OpenBrowser: true},
	}

	ui = &output.UI{Out: env.out, ErrOut: env.errOut}
	connector = env.connector
	opener = env.opener
	prompter = env.prompter
	memoryCredentials = credential.NewMemoryBackend()

	t.Cleanup(func() {
		if dataStore != nil {
			_ = dataStore.Close()
		}
		dataStore = nil
		connector = nil
		opener = nil
		prompter = nil
		uploadTask = ""
		configureAPIKey = ""
		dryRun = false
	})
	return env
}

func testCmd() *cobra.Command {
	c := &cobra.Command{}
	c.SetContext(context.Background())
	return c
}

func TestUploadRun_HappyPath(t *testing.T) {
	env := newFlowEnv(t, true)

	require.NoError(t, uploadRun(testCmd(), []string{env.root}))

	assert.Equal(t, []string{gradle.TasksTask, "testfairyDebug"}, env.connector.ran)
	assert.Contains(t, env.out.String(), testBuildURL)
	assert.Contains(t, env.out.String(), "Done")
	assert.Equal(t, []string{testBuildURL}, env.opener.urls)
	assert.False(t, uploadQueue.Busy())

	s, err := getStore()
	require.NoError(t, err)
	uploads, err := s.ListUploads(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, models.UploadStatusSucceeded, uploads[0].Status)
}

func TestUploadRun_ConfiguresFirst(t *testing.T) {
	env := newFlowEnv(t, false)
	env.prompter.Key = "newkey42"

	require.NoError(t, uploadRun(testCmd(), []string{env.root}))

	assert.Contains(t, env.out.String(), "API Key Saved")
	key, ok, err := buildfile.APIKey(filepath.Join(env.root, "app", "build.gradle"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "newkey42", key)
	assert.Contains(t, env.connector.ran, "testfairyDebug")
}

func TestUploadRun_RestoresSavedKey(t *testing.T) {
	env := newFlowEnv(t, false)

	s, err := getStore()
	require.NoError(t, err)
	p, err := resolveProject([]string{env.root})
	require.NoError(t, err)
	require.NoError(t, credentialStore(p, s).Set(context.Background(), "savedkey"))

	require.NoError(t, uploadRun(testCmd(), []string{env.root}))

	key, _, err := buildfile.APIKey(p.BuildFilePath())
	require.NoError(t, err)
	assert.Equal(t, "savedkey", key)
	assert.NotContains(t, env.out.String(), "API Key Saved")
}

func TestUploadRun_ConfigureCanceled(t *testing.T) {
	env := newFlowEnv(t, false)

	err := uploadRun(testCmd(), []string{env.root})
	assert.ErrorIs(t, err, errSilent)
	assert.Contains(t, env.errOut.String(), "no API key entered")
	assert.Empty(t, env.connector.ran, "gradle must not run before configuration")
}

func TestUploadRun_TaskFlag(t *testing.T) {
	env := newFlowEnv(t, true)
	uploadTask = "testfairyNdkDebug"
	env.prompter.Task = -1

	require.NoError(t, uploadRun(testCmd(), []string{env.root}))
	assert.Equal(t, []string{gradle.TasksTask, "testfairyNdkDebug"}, env.connector.ran)
	assert.Contains(t, env.errOut.String(), "URL not found")
	assert.Empty(t, env.opener.urls)
}

func TestUploadRun_UnknownTask(t *testing.T) {
	env := newFlowEnv(t, true)
	uploadTask = "testfairyNope"

	err := uploadRun(testCmd(), []string{env.root})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "testfairyDebug")
}

func TestUploadRun_SelectionCanceled(t *testing.T) {
	env := newFlowEnv(t, true)
	env.prompter.Task = -1

	require.NoError(t, uploadRun(testCmd(), []string{env.root}))
	assert.Equal(t, []string{gradle.TasksTask}, env.connector.ran)
	assert.Contains(t, env.out.String(), "Canceled")
}

func TestUploadRun_NoTasks(t *testing.T) {
	env := newFlowEnv(t, true)
	env.connector.outputs[gradle.TasksTask] = "assemble - Assembles\n"

	err := uploadRun(testCmd(), []string{env.root})
	assert.ErrorIs(t, err, errSilent)
	assert.Contains(t, env.errOut.String(), "No TestFairy tasks found")
}

func TestUploadRun_InvalidAPIKey(t *testing.T) {
	env := newFlowEnv(t, true)
	env.connector.errs["testfairyDebug"] = &gradle.ConnectionError{
		Tasks:  []string{"testfairyDebug"},
		Err:    errors.New("exit status 1"),
		Stderr: "Caused by: java.lang.RuntimeException: Invalid API key\n",
	}

	err := uploadRun(testCmd(), []string{env.root})
	assert.ErrorIs(t, err, errSilent)
	assert.Contains(t, env.errOut.String(), "Invalid API key. Please use 'tfupload configure' to fix.")
	assert.NotContains(t, env.out.String(), "Done")
}

func TestUploadRun_OpenBrowserNever(t *testing.T) {
	env := newFlowEnv(t, true)
	viper.Set("upload.open_browser", openBrowserNever)

	require.NoError(t, uploadRun(testCmd(), []string{env.root}))
	assert.Empty(t, env.opener.urls)
}

func TestUploadRun_DryRun(t *testing.T) {
	env := newFlowEnv(t, true)
	dryRun = true
	ui.DryRun = true

	require.NoError(t, uploadRun(testCmd(), []string{env.root}))
	assert.Equal(t, []string{gradle.TasksTask}, env.connector.ran)
	assert.Contains(t, env.errOut.String(), "Would run testfairyDebug")
}

func TestUploadRun_DryRunSkipsProjectLock(t *testing.T) {
	env := newFlowEnv(t, true)
	p, err := resolveProject([]string{env.root})
	require.NoError(t, err)
	release, err := lock.ForProject(viper.GetString("state_dir"), p.ID).Acquire()
	require.NoError(t, err)
	defer func() { _ = release() }()

	dryRun = true
	ui.DryRun = true
	require.NoError(t, uploadRun(testCmd(), []string{env.root}))
	assert.Contains(t, env.errOut.String(), "Would run testfairyDebug")

	dryRun = false
	ui.DryRun = false
	err = uploadRun(testCmd(), []string{env.root})
	assert.ErrorIs(t, err, lock.ErrHeld)
}

func TestUploadRun_InvalidConfig(t *testing.T) {
	env := newFlowEnv(t, true)
	viper.Set("upload.open_browser", "sometimes")

	err := uploadRun(testCmd(), []string{env.root})
	assert.ErrorIs(t, err, errSilent)
	assert.Empty(t, env.connector.ran)
	assert.Contains(t, env.errOut.String(), "upload.open_browser")
}

func TestConfigureProject(t *testing.T) {
	env := newFlowEnv(t, false)
	p, err := resolveProject([]string{env.root})
	require.NoError(t, err)
	s, err := getStore()
	require.NoError(t, err)

	require.NoError(t, configureProject(context.Background(), p, s, "flagkey"))
	assert.Contains(t, env.out.String(), "API Key Saved")

	patched, err := buildfile.IsPatched(p.BuildFilePath())
	require.NoError(t, err)
	assert.True(t, patched)

	// A fresh memory tier proves the key reached the database.
	memoryCredentials = credential.NewMemoryBackend()
	key, ok := credentialStore(p, s).Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, "flagkey", key)
}

func TestConfigureProject_InvalidKey(t *testing.T) {
	env := newFlowEnv(t, false)
	p, err := resolveProject([]string{env.root})
	require.NoError(t, err)

	err = configureProject(context.Background(), p, nil, "has space")
	assert.ErrorIs(t, err, buildfile.ErrInvalidKey)
}

func TestConfigureProject_MemoryOnly(t *testing.T) {
	env := newFlowEnv(t, false)
	p, err := resolveProject([]string{env.root})
	require.NoError(t, err)

	require.NoError(t, configureProject(context.Background(), p, nil, "abc123"))
	assert.Contains(t, env.errOut.String(), "memory for this session only")
	assert.Contains(t, env.out.String(), "API Key Saved")
}

func TestConfigureProject_DryRunLeavesFile(t *testing.T) {
	env := newFlowEnv(t, false)
	dryRun = true
	ui.DryRun = true
	p, err := resolveProject([]string{env.root})
	require.NoError(t, err)

	before, err := os.ReadFile(p.BuildFilePath())
	require.NoError(t, err)

	require.NoError(t, configureProject(context.Background(), p, nil, "abc123"))

	after, err := os.ReadFile(p.BuildFilePath())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Contains(t, env.out.String(), `apiKey "abc123"`)
}

func TestConfigureProject_MissingBuildFile(t *testing.T) {
	newFlowEnv(t, false)
	p, err := resolveProject([]string{t.TempDir()})
	require.NoError(t, err)

	err = configureProject(context.Background(), p, nil, "abc123")
	assert.ErrorIs(t, err, buildfile.ErrBuildFileNotFound)
}

func TestResolveProject_NotADirectory(t *testing.T) {
	testEnv(t)
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0644))

	_, err := resolveProject([]string{f})
	assert.Error(t, err)
}

func TestHistoryRun(t *testing.T) {
	env := newFlowEnv(t, true)
	require.NoError(t, uploadRun(testCmd(), []string{env.root}))
	env.out.Reset()

	require.NoError(t, historyRun(context.Background(), []string{env.root}))
	assert.Contains(t, env.out.String(), "testfairyDebug")
	assert.Contains(t, env.out.String(), "succeeded")
}

func TestHistoryRun_Empty(t *testing.T) {
	env := newFlowEnv(t, true)

	require.NoError(t, historyRun(context.Background(), []string{env.root}))
	assert.Contains(t, env.out.String(), "No uploads recorded")
}

func TestTasksRun(t *testing.T) {
	env := newFlowEnv(t, true)

	require.NoError(t, tasksRun(context.Background(), []string{env.root}))
	assert.Contains(t, env.out.String(), "testfairyNdkDebug")
	assert.Contains(t, env.out.String(), "symbols")
}
