package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Artifact layout inside the workspace.
const (
	soloqueueDir = ".soloqueue"
	artifactsDB  = "artifacts.db"
	blobsSubdir  = "artifacts/blobs"
)

// TagEphemeral marks artifacts the garbage collector may prune after the
// retention window. TagArchived marks blobs moved into the archive tree.
const (
	TagEphemeral = "sys:ephemeral"
	TagArchived  = "sys:archived"
)

// ArtifactRecord is one metadata row. Multiple rows may reference the
// same content hash (different titles/tags); at most one blob exists per
// hash.
type ArtifactRecord struct {
	ID          int64     `json:"id"`
	ContentHash string    `json:"content_hash"`
	GroupID     string    `json:"group_id"`
	Title       string    `json:"title"`
	Tags        []string  `json:"tags"`
	Author      string    `json:"author"`
	CreatedAt   time.Time `json:"created_at"`
	Path        string    `json:"path"` // relative to the workspace root
	Size        int64     `json:"size"`
	Mime        string    `json:"mime"`
}

// Artifact bundles a record with its blob content.
type Artifact struct {
	Metadata ArtifactRecord `json:"metadata"`
	Content  string         `json:"content"`
}

// ArtifactStore is content-addressed blob storage with an indexed sqlite
// metadata table. Blobs live under
// .soloqueue/artifacts/blobs/YYYY/MM/DD/aa/bb/<hash>; saving identical
// content twice creates two rows but a single blob.
type ArtifactStore struct {
	root     string // workspace root
	blobsDir string
	db       *sql.DB
}

func NewArtifactStore(workspaceRoot string) (*ArtifactStore, error) {
	blobsDir := filepath.Join(workspaceRoot, soloqueueDir, blobsSubdir)
	if err := os.MkdirAll(blobsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blobs directory: %w", err)
	}

	db, err := openDB(filepath.Join(workspaceRoot, soloqueueDir, artifactsDB))
	if err != nil {
		return nil, err
	}

	s := &ArtifactStore{root: workspaceRoot, blobsDir: blobsDir, db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *ArtifactStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS artifacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content_hash TEXT NOT NULL,
			group_id TEXT,
			title TEXT,
			tags TEXT,
			author TEXT,
			created_at TIMESTAMP,
			path TEXT,
			size INTEGER,
			mime TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_content_hash ON artifacts(content_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_tags ON artifacts(tags)`,
		`CREATE INDEX IF NOT EXISTS idx_created ON artifacts(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init artifacts schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *ArtifactStore) Close() error { return s.db.Close() }

// DB exposes the handle for the garbage collector, which shares the file.
func (s *ArtifactStore) DB() *sql.DB { return s.db }

// BlobsDir returns the absolute blobs directory.
func (s *ArtifactStore) BlobsDir() string { return s.blobsDir }

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// blobPath returns the blob location for a hash written at ts:
// blobs/YYYY/MM/DD/aa/bb/<hash>.
func (s *ArtifactStore) blobPath(contentHash string, ts time.Time) string {
	return filepath.Join(
		s.blobsDir,
		ts.Format("2006/01/02"),
		contentHash[:2],
		contentHash[2:4],
		contentHash,
	)
}

// Save hashes content, writes the blob only if absent, inserts a
// metadata row unconditionally, and returns the row id. The blob write
// precedes the insert: a crash between the two leaves an orphan blob
// that GC phase 2 collects.
func (s *ArtifactStore) Save(content, title, author, groupID string, tags []string, mime string) (int64, error) {
	contentHash := hashContent(content)
	now := time.Now()

	blobPath := s.blobPath(contentHash, now)
	// An earlier save of the same content may have put its blob under
	// another day's directory; reuse that blob while it is still there.
	var existingPath string
	if err := s.db.QueryRow(`SELECT path FROM artifacts WHERE content_hash = ? LIMIT 1`, contentHash).Scan(&existingPath); err == nil {
		if _, err := os.Stat(filepath.Join(s.root, existingPath)); err == nil {
			blobPath = filepath.Join(s.root, existingPath)
		}
	}
	if _, err := os.Stat(blobPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
			return 0, fmt.Errorf("create blob directory: %w", err)
		}
		if err := os.WriteFile(blobPath, []byte(content), 0o644); err != nil {
			return 0, fmt.Errorf("write blob %s: %w", contentHash[:8], err)
		}
		slog.Debug("wrote new blob", "hash", contentHash[:8])
	} else if err == nil {
		slog.Debug("blob already exists, deduped", "hash", contentHash[:8])
	}

	relPath, err := filepath.Rel(s.root, blobPath)
	if err != nil {
		return 0, fmt.Errorf("relativize blob path: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return 0, fmt.Errorf("marshal tags: %w", err)
	}
	if mime == "" {
		mime = "text"
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin artifact insert: %w", err)
	}
	res, err := tx.Exec(
		`INSERT INTO artifacts (content_hash, group_id, title, tags, author, created_at, path, size, mime)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		contentHash, groupID, title, string(tagsJSON), author,
		now.Format(time.RFC3339Nano), relPath, int64(len(content)), mime,
	)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("insert artifact row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("artifact row id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit artifact insert: %w", err)
	}

	slog.Info("artifact saved", "id", id, "hash", contentHash[:8], "title", title)
	return id, nil
}

// Get returns the artifact's metadata and content, or nil if either the
// row or its blob is missing.
func (s *ArtifactStore) Get(id int64) (*Artifact, error) {
	row := s.db.QueryRow(`SELECT id, content_hash, group_id, title, tags, author, created_at, path, size, mime
		FROM artifacts WHERE id = ?`, id)

	rec, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		slog.Warn("artifact not found", "id", id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load artifact %d: %w", id, err)
	}

	content, err := os.ReadFile(filepath.Join(s.root, rec.Path))
	if err != nil {
		if os.IsNotExist(err) {
			// Orphan metadata: file deleted but row not updated.
			slog.Error("orphan artifact: metadata exists but blob missing", "id", id)
			return nil, nil
		}
		return nil, fmt.Errorf("read artifact blob %d: %w", id, err)
	}

	return &Artifact{Metadata: *rec, Content: string(content)}, nil
}

// List returns metadata rows, optionally filtered by group and tag.
// The tag match is a substring match on the serialized JSON array.
func (s *ArtifactStore) List(groupID, tag string) ([]ArtifactRecord, error) {
	query := `SELECT id, content_hash, group_id, title, tags, author, created_at, path, size, mime
		FROM artifacts WHERE 1=1`
	var args []any
	if groupID != "" {
		query += " AND group_id = ?"
		args = append(args, groupID)
	}
	if tag != "" {
		query += " AND tags LIKE ?"
		args = append(args, `%"`+tag+`"%`)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []ArtifactRecord
	for rows.Next() {
		rec, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Delete removes only the metadata row; the blob stays until GC phase 2
// finds it unreferenced.
func (s *ArtifactStore) Delete(id int64) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM artifacts WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete artifact %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Info("artifact metadata deleted", "id", id)
	}
	return n > 0, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(sc scanner) (*ArtifactRecord, error) {
	var rec ArtifactRecord
	var tagsJSON, createdAt string
	err := sc.Scan(&rec.ID, &rec.ContentHash, &rec.GroupID, &rec.Title, &tagsJSON,
		&rec.Author, &createdAt, &rec.Path, &rec.Size, &rec.Mime)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
		rec.Tags = nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.CreatedAt = ts
	}
	return &rec, nil
}
