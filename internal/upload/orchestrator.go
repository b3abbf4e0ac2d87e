// Package upload drives the TestFairy Gradle plugin: it discovers the upload
// tasks a project offers, runs one, and scrapes the result URL from the output.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/joescharf/tfupload/internal/buildfile"
	"github.com/joescharf/tfupload/internal/gradle"
	"github.com/joescharf/tfupload/internal/models"
	"github.com/joescharf/tfupload/internal/store"
)

// DefaultUploadedBy attributes uploads made by this tool.
const DefaultUploadedBy = "TestFairy Upload CLI"

// Reporter receives user-facing progress and diagnostics.
type Reporter interface {
	Info(format string, a ...any)
	Error(format string, a ...any)
}

// Result is the outcome of a build-and-upload run.
type Result struct {
	UploadID string
	Task     string
	URL      string // empty when the output held no TestFairy URL
	Output   string
}

// Orchestrator runs TestFairy tasks for a project.
type Orchestrator struct {
	connector gradle.Connector
	store     store.Store
	reporter  Reporter

	// Version is the tool version reported in the uploaded-by attribution.
	Version string
	// UploadedBy prefixes the attribution string.
	UploadedBy string
	// Console, when set, receives the live build output.
	Console io.Writer
}

// NewOrchestrator creates an Orchestrator. s and r may be nil: history is
// then not recorded and diagnostics are dropped.
func NewOrchestrator(c gradle.Connector, s store.Store, r Reporter) *Orchestrator {
	return &Orchestrator{
		connector:  c,
		store:      s,
		reporter:   r,
		Version:    "dev",
		UploadedBy: DefaultUploadedBy,
	}
}

// CheckConfigured returns ErrConfigurationMissing unless the project's build
// file declares the plugin and a valid-looking key.
func (o *Orchestrator) CheckConfigured(p *models.Project) error {
	patched, err := buildfile.IsPatched(p.BuildFilePath())
	if err != nil {
		return configurationMissing(err)
	}
	if !patched {
		return ErrConfigurationMissing
	}
	return nil
}

// DiscoverTasks lists the TestFairy tasks Gradle reports for the project.
// An empty result is not an error; callers map it to ErrNoTasksFound.
func (o *Orchestrator) DiscoverTasks(ctx context.Context, p *models.Project) ([]models.Task, error) {
	if err := o.CheckConfigured(p); err != nil {
		return nil, err
	}

	o.logInfo("Preparing Gradle Wrapper")
	var out bytes.Buffer
	if err := o.invoke(ctx, p, &gradle.Request{Tasks: []string{gradle.TasksTask}}, &out, nil); err != nil {
		return nil, Classify(err)
	}
	return ParseTasks(out.String()), nil
}

// Arguments returns the fixed arguments passed with every upload task.
func (o *Orchestrator) Arguments() []string {
	return []string{
		"-Pinstrumentation=off",
		fmt.Sprintf("-PtestfairyUploadedBy=%s v%s", o.UploadedBy, o.Version),
	}
}

// Run executes task on a fresh Gradle connection, writing stdout and stderr
// into out. It blocks until Gradle exits.
func (o *Orchestrator) Run(ctx context.Context, p *models.Project, task string, out *bytes.Buffer) error {
	req := &gradle.Request{Tasks: []string{task}, Args: o.Arguments()}
	return Classify(o.invoke(ctx, p, req, out, o.Console))
}

// ExtractResultURL finds the TestFairy URL in build output. A missing URL is
// reported and returned as ErrURLNotFound; callers decide whether it matters.
func (o *Orchestrator) ExtractResultURL(output string) (string, error) {
	url, ok := FindResultURL(output)
	if !ok {
		o.logError("%s", ErrURLNotFound)
		return "", ErrURLNotFound
	}
	return url, nil
}

// Upload runs task, extracts the result URL and records the attempt.
// A build without a URL still succeeds with an empty Result.URL.
func (o *Orchestrator) Upload(ctx context.Context, p *models.Project, task string) (*Result, error) {
	rec := &models.Upload{ProjectID: p.ID, Task: task, Status: models.UploadStatusRunning}
	o.recordStart(ctx, rec)

	var out bytes.Buffer
	err := o.Run(ctx, p, task, &out)
	res := &Result{UploadID: rec.ID, Task: task, Output: out.String()}

	if err != nil {
		rec.Status = models.UploadStatusFailed
		rec.Error = err.Error()
		o.recordFinish(ctx, rec)
		return res, err
	}

	url, urlErr := o.ExtractResultURL(res.Output)
	res.URL = url
	rec.URL = url
	rec.Status = models.UploadStatusSucceeded
	if errors.Is(urlErr, ErrURLNotFound) {
		rec.Status = models.UploadStatusNoURL
	}
	o.recordFinish(ctx, rec)
	return res, nil
}

// invoke opens a connection for one request and closes it afterwards.
// Connections are never reused.
func (o *Orchestrator) invoke(ctx context.Context, p *models.Project, req *gradle.Request, out *bytes.Buffer, console io.Writer) error {
	conn, err := o.connector.Connect(ctx, p.Root)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	var w io.Writer = out
	if console != nil {
		w = io.MultiWriter(out, console)
	}
	shared := gradle.SharedWriter(w)
	req.Stdout = shared
	req.Stderr = shared

	return conn.Run(ctx, req)
}

func (o *Orchestrator) recordStart(ctx context.Context, rec *models.Upload) {
	if o.store == nil {
		return
	}
	if err := o.store.CreateUpload(ctx, rec); err != nil {
		o.logError("Could not record upload: %v", err)
	}
}

func (o *Orchestrator) recordFinish(ctx context.Context, rec *models.Upload) {
	if o.store == nil || rec.ID == "" {
		return
	}
	now := time.Now().UTC()
	rec.FinishedAt = &now
	// The build context may already be cancelled; the record should still land.
	if err := o.store.UpdateUpload(context.WithoutCancel(ctx), rec); err != nil {
		o.logError("Could not record upload: %v", err)
	}
}

func (o *Orchestrator) logInfo(format string, a ...any) {
	if o.reporter != nil {
		o.reporter.Info(format, a...)
	}
}

func (o *Orchestrator) logError(format string, a ...any) {
	if o.reporter != nil {
		o.reporter.Error(format, a...)
	}
}
