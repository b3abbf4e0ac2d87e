package store

import (
	"context"
	"errors"

	"github.com/joescharf/tfupload/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// CredentialKey addresses a stored secret.
type CredentialKey struct {
	ProjectID string
	Owner     string
	Name      string
}

// Store defines the persistence interface for tfupload.
type Store interface {
	// Credentials
	GetCredential(ctx context.Context, key CredentialKey) (string, error)
	SetCredential(ctx context.Context, key CredentialKey, value string) error

	// Uploads
	CreateUpload(ctx context.Context, u *models.Upload) error
	UpdateUpload(ctx context.Context, u *models.Upload) error
	GetUpload(ctx context.Context, id string) (*models.Upload, error)
	ListUploads(ctx context.Context, projectID string, limit int) ([]*models.Upload, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
