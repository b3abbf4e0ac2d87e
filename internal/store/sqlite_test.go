package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tfupload/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Credentials ---

func TestCredential_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetCredential(context.Background(), CredentialKey{ProjectID: "/p", Owner: "o", Name: "k"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCredential_SetAndOverwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := CredentialKey{ProjectID: "/p", Owner: "o", Name: "k"}

	require.NoError(t, s.SetCredential(ctx, key, "first"))
	got, err := s.GetCredential(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	require.NoError(t, s.SetCredential(ctx, key, "second"))
	got, err = s.GetCredential(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestCredential_ScopedByProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetCredential(ctx, CredentialKey{ProjectID: "/a", Owner: "o", Name: "k"}, "A"))
	require.NoError(t, s.SetCredential(ctx, CredentialKey{ProjectID: "/b", Owner: "o", Name: "k"}, "B"))

	got, err := s.GetCredential(ctx, CredentialKey{ProjectID: "/a", Owner: "o", Name: "k"})
	require.NoError(t, err)
	assert.Equal(t, "A", got)

	_, err = s.GetCredential(ctx, CredentialKey{ProjectID: "/a", Owner: "other", Name: "k"})
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Uploads ---

func TestUploadLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &models.Upload{ProjectID: "/p", Task: "testfairyRelease"}
	require.NoError(t, s.CreateUpload(ctx, u))
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, models.UploadStatusRunning, u.Status)
	assert.False(t, u.StartedAt.IsZero())

	now := time.Now().UTC()
	u.Status = models.UploadStatusSucceeded
	u.URL = "https://app.testfairy.com/builds/42"
	u.FinishedAt = &now
	require.NoError(t, s.UpdateUpload(ctx, u))

	got, err := s.GetUpload(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UploadStatusSucceeded, got.Status)
	assert.Equal(t, "https://app.testfairy.com/builds/42", got.URL)
	require.NotNil(t, got.FinishedAt)
}

func TestUpdateUpload_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateUpload(context.Background(), &models.Upload{ID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListUploads_FilterAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i, task := range []string{"testfairyDebug", "testfairyRelease", "testfairyNdkRelease"} {
		require.NoError(t, s.CreateUpload(ctx, &models.Upload{
			ProjectID: "/p",
			Task:      task,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.CreateUpload(ctx, &models.Upload{ProjectID: "/other", Task: "testfairyDebug"}))

	all, err := s.ListUploads(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	mine, err := s.ListUploads(ctx, "/p", 0)
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.Equal(t, "testfairyNdkRelease", mine[0].Task, "newest first")

	limited, err := s.ListUploads(ctx, "/p", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
