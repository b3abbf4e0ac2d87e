package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/tfupload/internal/buildfile"
	"github.com/joescharf/tfupload/internal/credential"
	"github.com/joescharf/tfupload/internal/job"
	"github.com/joescharf/tfupload/internal/lock"
	"github.com/joescharf/tfupload/internal/models"
	"github.com/joescharf/tfupload/internal/store"
	"github.com/joescharf/tfupload/internal/upload"
)

// Server exposes task discovery, uploads, and upload history as MCP tools.
type Server struct {
	store        store.Store
	orchestrator *upload.Orchestrator
	memory       *credential.MemoryBackend
	queue        job.Queue

	// LockDir, when set, holds per-project locks shared with the CLI.
	LockDir string
	// BuildFile overrides the build script path relative to the project root.
	BuildFile string
	// Version is reported to MCP clients.
	Version string
}

// NewServer creates the MCP server wrapper. s may be nil, in which case
// history is unavailable.
func NewServer(s store.Store, o *upload.Orchestrator) *Server {
	return &Server{
		store:        s,
		orchestrator: o,
		memory:       credential.NewMemoryBackend(),
		Version:      "dev",
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("tfupload", s.Version, server.WithToolCapabilities(true))

	srv.AddTool(s.listTasksTool())
	srv.AddTool(s.uploadTool())
	srv.AddTool(s.historyTool())
	srv.AddTool(s.statusTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

type taskOut struct {
	Name        string `json:"name"`
	Family      string `json:"family"`
	Explanation string `json:"explanation"`
}

type uploadOut struct {
	ID         string     `json:"id"`
	Task       string     `json:"task"`
	URL        string     `json:"url,omitempty"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func toUploadOut(u *models.Upload) uploadOut {
	return uploadOut{
		ID:         u.ID,
		Task:       u.Task,
		URL:        u.URL,
		Status:     string(u.Status),
		Error:      u.Error,
		StartedAt:  u.StartedAt,
		FinishedAt: u.FinishedAt,
	}
}

// tfupload_list_tasks
func (s *Server) listTasksTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tfupload_list_tasks",
		mcp.WithDescription("List the TestFairy Gradle tasks of an Android project. Returns a JSON array of tasks with name, family (variant or symbols), and a human-readable explanation. The project must already be configured with an API key."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Android project root directory")),
	)
	return tool, s.handleListTasks
}

func (s *Server) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, errResult := s.projectArg(request)
	if errResult != nil {
		return errResult, nil
	}

	tasks, err := s.orchestrator.DiscoverTasks(ctx, p)
	if err != nil {
		return mcp.NewToolResultError(describeError(err)), nil
	}

	out := make([]taskOut, len(tasks))
	for i, t := range tasks {
		out[i] = taskOut{Name: t.Name, Family: string(t.Family), Explanation: t.Explanation}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal tasks: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// tfupload_upload
func (s *Server) uploadTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tfupload_upload",
		mcp.WithDescription("Build an Android project with a TestFairy task and upload the result. Blocks until Gradle finishes and returns the upload record as JSON, including the TestFairy URL when the build printed one. Only one upload runs at a time."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Android project root directory")),
		mcp.WithString("task", mcp.Required(), mcp.Description("TestFairy task name, e.g. testfairyRelease")),
	)
	return tool, s.handleUpload
}

func (s *Server) handleUpload(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, errResult := s.projectArg(request)
	if errResult != nil {
		return errResult, nil
	}
	task, err := request.RequireString("task")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: task"), nil
	}

	release, err := s.queue.Begin()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	defer release()

	if s.LockDir != "" {
		unlock, err := lock.ForProject(s.LockDir, p.ID).Acquire()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		defer func() { _ = unlock() }()
	}

	if err := s.orchestrator.CheckConfigured(p); err != nil {
		return mcp.NewToolResultError(describeError(err)), nil
	}

	res, err := s.orchestrator.Upload(ctx, p, task)
	if err != nil {
		return mcp.NewToolResultError(describeError(err)), nil
	}

	out := uploadOut{ID: res.UploadID, Task: res.Task, URL: res.URL, Status: string(models.UploadStatusSucceeded)}
	if res.URL == "" {
		out.Status = string(models.UploadStatusNoURL)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal upload: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// tfupload_history
func (s *Server) historyTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tfupload_history",
		mcp.WithDescription("List recorded uploads, newest first. Returns a JSON array with id, task, url, status, error, started_at, and finished_at."),
		mcp.WithString("path", mcp.Description("Android project root directory; omit for all projects")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of records (default 20)")),
	)
	return tool, s.handleHistory
}

func (s *Server) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("upload history is not available: no database configured"), nil
	}

	var projectID string
	if path := request.GetString("path", ""); path != "" {
		p, err := s.project(path)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid path: %v", err)), nil
		}
		projectID = p.ID
	}
	limit := request.GetInt("limit", 20)

	uploads, err := s.store.ListUploads(ctx, projectID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list uploads: %v", err)), nil
	}

	out := make([]uploadOut, len(uploads))
	for i, u := range uploads {
		out[i] = toUploadOut(u)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal uploads: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// tfupload_status
func (s *Server) statusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tfupload_status",
		mcp.WithDescription("Report whether an Android project is configured for TestFairy: build file location, whether the plugin and API key are declared, whether a key is stored, and the most recent upload."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Android project root directory")),
	)
	return tool, s.handleStatus
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, errResult := s.projectArg(request)
	if errResult != nil {
		return errResult, nil
	}

	type statusOut struct {
		Project         string     `json:"project"`
		BuildFile       string     `json:"build_file"`
		BuildFileExists bool       `json:"build_file_exists"`
		Patched         bool       `json:"patched"`
		KeyStored       bool       `json:"key_stored"`
		Busy            bool       `json:"busy"`
		LastUpload      *uploadOut `json:"last_upload,omitempty"`
	}

	out := statusOut{
		Project:   p.Root,
		BuildFile: p.BuildFilePath(),
		Busy:      s.queue.Busy(),
	}

	patched, err := buildfile.IsPatched(p.BuildFilePath())
	switch {
	case err == nil:
		out.BuildFileExists = true
		out.Patched = patched
	case !errors.Is(err, buildfile.ErrBuildFileNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("failed to read build file: %v", err)), nil
	}

	var durable credential.Backend
	if s.store != nil {
		durable = credential.NewSQLBackend(s.store)
	}
	out.KeyStored = credential.NewStore(p.ID, s.memory, durable).IsConfigured(ctx)

	if s.store != nil {
		uploads, err := s.store.ListUploads(ctx, p.ID, 1)
		if err == nil && len(uploads) > 0 {
			last := toUploadOut(uploads[0])
			out.LastUpload = &last
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *Server) projectArg(request mcp.CallToolRequest) (*models.Project, *mcp.CallToolResult) {
	path, err := request.RequireString("path")
	if err != nil {
		return nil, mcp.NewToolResultError("missing required parameter: path")
	}
	p, err := s.project(path)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("invalid path: %v", err))
	}
	return p, nil
}

func (s *Server) project(path string) (*models.Project, error) {
	p, err := models.NewProject(path)
	if err != nil {
		return nil, err
	}
	p.BuildFile = s.BuildFile
	return p, nil
}

// describeError turns the upload taxonomy into messages an agent can act on.
func describeError(err error) string {
	var ice *upload.InvalidCredentialError
	switch {
	case errors.Is(err, upload.ErrConfigurationMissing):
		return "project is not configured for TestFairy; run 'tfupload configure <path>' first"
	case errors.As(err, &ice):
		return ice.Error()
	case errors.Is(err, context.Canceled):
		return "upload canceled"
	default:
		return err.Error()
	}
}
