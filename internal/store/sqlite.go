package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/tfupload/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// The CLI and the MCP server may share one database file; a single
	// connection keeps writes serialized inside this process.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Credentials ---

func (s *SQLiteStore) GetCredential(ctx context.Context, key CredentialKey) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM credentials WHERE project_id = ? AND owner = ? AND name = ?`,
		key.ProjectID, key.Owner, key.Name,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get credential: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) SetCredential(ctx context.Context, key CredentialKey, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (project_id, owner, name, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (project_id, owner, name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key.ProjectID, key.Owner, key.Name, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set credential: %w", err)
	}
	return nil
}

// --- Uploads ---

func (s *SQLiteStore) CreateUpload(ctx context.Context, u *models.Upload) error {
	if u.ID == "" {
		u.ID = newULID()
	}
	if u.StartedAt.IsZero() {
		u.StartedAt = time.Now().UTC()
	}
	if u.Status == "" {
		u.Status = models.UploadStatusRunning
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads (id, project_id, task, url, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.ProjectID, u.Task, u.URL, string(u.Status), u.Error, u.StartedAt, u.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("create upload: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateUpload(ctx context.Context, u *models.Upload) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE uploads SET url=?, status=?, error=?, finished_at=? WHERE id=?`,
		u.URL, string(u.Status), u.Error, u.FinishedAt, u.ID,
	)
	if err != nil {
		return fmt.Errorf("update upload: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("upload %s: %w", u.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetUpload(ctx context.Context, id string) (*models.Upload, error) {
	uploads, err := s.scanUploads(ctx,
		`SELECT id, project_id, task, url, status, error, started_at, finished_at
		FROM uploads WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(uploads) == 0 {
		return nil, fmt.Errorf("upload %s: %w", id, ErrNotFound)
	}
	return uploads[0], nil
}

func (s *SQLiteStore) ListUploads(ctx context.Context, projectID string, limit int) ([]*models.Upload, error) {
	query := `SELECT id, project_id, task, url, status, error, started_at, finished_at
		FROM uploads`
	var args []any

	if projectID != "" {
		query += " WHERE project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY started_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return s.scanUploads(ctx, query, args...)
}

func (s *SQLiteStore) scanUploads(ctx context.Context, query string, args ...any) ([]*models.Upload, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var uploads []*models.Upload
	for rows.Next() {
		u := &models.Upload{}
		var status string
		var finishedAt sql.NullTime

		if err := rows.Scan(&u.ID, &u.ProjectID, &u.Task, &u.URL, &status, &u.Error, &u.StartedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}

		u.Status = models.UploadStatus(status)
		if finishedAt.Valid {
			u.FinishedAt = &finishedAt.Time
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}
