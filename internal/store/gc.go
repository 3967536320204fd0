package store

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/adhocore/gronx"
)

// GCStats reports what one collection pass did.
type GCStats struct {
	Phase1Deleted int  `json:"phase1_deleted"`
	Phase2Deleted int  `json:"phase2_deleted"`
	Skipped       bool `json:"skipped"`
}

// ArchiveStats reports what one archive pass did.
type ArchiveStats struct {
	ArchivedCount      int `json:"archived_count"`
	ArchiveDirsCreated int `json:"archive_dirs_created"`
}

// GarbageCollector prunes the artifact store in two phases under a
// process-exclusive file lock:
//
//	Phase 1 deletes metadata rows tagged sys:ephemeral past retention.
//	Phase 2 deletes blob files whose hash no row references.
//
// Concurrent invocations are no-ops: the flock is non-blocking and a
// held lock returns Skipped=true.
type GarbageCollector struct {
	root          string
	retentionDays int
	db            *sql.DB
	blobsDir      string
	lockPath      string
	statePath     string
}

func NewGarbageCollector(workspaceRoot string, store *ArtifactStore, retentionDays int) *GarbageCollector {
	if retentionDays < 0 {
		retentionDays = 0
	}
	base := filepath.Join(workspaceRoot, soloqueueDir)
	return &GarbageCollector{
		root:          workspaceRoot,
		retentionDays: retentionDays,
		db:            store.DB(),
		blobsDir:      store.BlobsDir(),
		lockPath:      filepath.Join(base, ".gc.lock"),
		statePath:     filepath.Join(base, ".gc_state"),
	}
}

// ShouldRun reports whether enough time has passed since the last run.
// Unreadable state means run anyway.
func (gc *GarbageCollector) ShouldRun(cooldownHours int) bool {
	data, err := os.ReadFile(gc.statePath)
	if err != nil {
		return true
	}
	lastRun, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		slog.Warn("gc: unreadable state file, running anyway", "error", err)
		return true
	}
	return time.Since(lastRun) > time.Duration(cooldownHours)*time.Hour
}

// DueByCron reports whether the cron expression fires within the current
// minute. Used by the gateway's maintenance loop alongside ShouldRun.
func (gc *GarbageCollector) DueByCron(expr string) bool {
	if expr == "" {
		return false
	}
	due, err := gronx.IsDue(expr, time.Now())
	if err != nil {
		slog.Warn("gc: invalid cron expression", "expr", expr, "error", err)
		return false
	}
	return due
}

// RunOnce executes garbage collection. skipPhase2 limits the pass to
// metadata pruning (faster). If another process holds the lock, the run
// is skipped without error.
func (gc *GarbageCollector) RunOnce(skipPhase2 bool) (GCStats, error) {
	stats := GCStats{}

	if err := os.MkdirAll(filepath.Dir(gc.lockPath), 0o755); err != nil {
		return stats, fmt.Errorf("gc: create lock directory: %w", err)
	}
	lockFile, err := os.OpenFile(gc.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return stats, fmt.Errorf("gc: open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		slog.Debug("gc: lock held by another process, skipping")
		stats.Skipped = true
		return stats, nil
	}
	defer syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)

	slog.Info("gc: lock acquired, starting garbage collection")

	n, err := gc.phase1MetadataPruning()
	if err != nil {
		return stats, err
	}
	stats.Phase1Deleted = n
	slog.Info("gc: phase 1 complete", "deleted", n)

	if !skipPhase2 {
		n, err := gc.phase2OrphanScan()
		if err != nil {
			return stats, err
		}
		stats.Phase2Deleted = n
		slog.Info("gc: phase 2 complete", "deleted", n)
	}

	if err := os.WriteFile(gc.statePath, []byte(time.Now().Format(time.RFC3339Nano)), 0o644); err != nil {
		slog.Warn("gc: failed to update state file", "error", err)
	}
	return stats, nil
}

// phase1MetadataPruning deletes expired ephemeral metadata rows.
func (gc *GarbageCollector) phase1MetadataPruning() (int, error) {
	cutoff := time.Now().AddDate(0, 0, -gc.retentionDays)

	res, err := gc.db.Exec(
		`DELETE FROM artifacts WHERE tags LIKE '%`+TagEphemeral+`%' AND created_at < ?`,
		cutoff.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("gc: phase 1 delete: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// phase2OrphanScan walks the blobs tree and unlinks every file whose
// basename (the content hash) is not referenced by any metadata row.
// Catches blobs from crashed saves and externally deleted rows.
func (gc *GarbageCollector) phase2OrphanScan() (int, error) {
	if _, err := os.Stat(gc.blobsDir); os.IsNotExist(err) {
		return 0, nil
	}

	rows, err := gc.db.Query(`SELECT DISTINCT content_hash FROM artifacts`)
	if err != nil {
		return 0, fmt.Errorf("gc: load referenced hashes: %w", err)
	}
	valid := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return 0, fmt.Errorf("gc: scan hash: %w", err)
		}
		valid[h] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	deleted := 0
	err = filepath.WalkDir(gc.blobsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if _, ok := valid[d.Name()]; ok {
			return nil
		}
		if rmErr := os.Remove(path); rmErr != nil {
			slog.Warn("gc: failed to delete orphan", "hash", d.Name(), "error", rmErr)
			return nil
		}
		deleted++
		slog.Debug("gc: deleted orphan blob", "hash", shortHash(d.Name()))
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("gc: orphan scan: %w", err)
	}
	return deleted, nil
}

// ArchiveByDate moves non-ephemeral blobs older than archiveDays into
// archive/YYYY-MM-DD/ under a descriptive name and appends sys:archived
// to their tags.
func (gc *GarbageCollector) ArchiveByDate(archiveDays int) (ArchiveStats, error) {
	stats := ArchiveStats{}
	cutoff := time.Now().AddDate(0, 0, -archiveDays)

	rows, err := gc.db.Query(
		`SELECT id, content_hash, created_at, title, path FROM artifacts
		 WHERE created_at < ? AND (tags NOT LIKE '%`+TagEphemeral+`%' OR tags IS NULL)`,
		cutoff.Format(time.RFC3339Nano),
	)
	if err != nil {
		return stats, fmt.Errorf("gc: query archivable artifacts: %w", err)
	}

	type archivable struct {
		id        int64
		hash      string
		createdAt string
		title     string
		path      string
	}
	var candidates []archivable
	for rows.Next() {
		var a archivable
		if err := rows.Scan(&a.id, &a.hash, &a.createdAt, &a.title, &a.path); err != nil {
			rows.Close()
			return stats, fmt.Errorf("gc: scan archivable: %w", err)
		}
		candidates = append(candidates, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	for _, a := range candidates {
		created, err := time.Parse(time.RFC3339Nano, a.createdAt)
		if err != nil {
			created = time.Now()
		}
		dateStr := created.Format("2006-01-02")

		archiveDir := filepath.Join(gc.root, soloqueueDir, "archive", dateStr)
		if _, err := os.Stat(archiveDir); os.IsNotExist(err) {
			if err := os.MkdirAll(archiveDir, 0o755); err != nil {
				slog.Warn("gc: failed to create archive directory", "dir", archiveDir, "error", err)
				continue
			}
			stats.ArchiveDirsCreated++
			slog.Info("gc: created archive directory", "date", dateStr)
		}

		source := filepath.Join(gc.root, a.path)
		if _, err := os.Stat(source); err == nil {
			name := fmt.Sprintf("%d_%s_%s.blob", a.id, safeTitle(a.title), shortHash(a.hash))
			if err := os.Rename(source, filepath.Join(archiveDir, name)); err != nil {
				slog.Warn("gc: failed to archive blob", "id", a.id, "error", err)
				continue
			}
		}

		_, err = gc.db.Exec(
			`UPDATE artifacts SET tags = CASE
				WHEN tags IS NULL OR tags = '' OR tags = '[]' THEN ?
				WHEN tags LIKE '%`+TagArchived+`%' THEN tags
				ELSE substr(tags, 1, length(tags)-1) || ',"' || ? || '"]'
			 END WHERE id = ?`,
			`["`+TagArchived+`"]`, TagArchived, a.id,
		)
		if err != nil {
			slog.Warn("gc: failed to tag archived artifact", "id", a.id, "error", err)
			continue
		}
		stats.ArchivedCount++
	}

	slog.Info("gc: archive pass complete",
		"archived", stats.ArchivedCount, "dirs_created", stats.ArchiveDirsCreated)
	return stats, nil
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

// safeTitle keeps alphanumerics, spaces, dashes and underscores, capped
// at 50 characters, for use in archive filenames.
func safeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > 50 {
		s = s[:50]
	}
	return s
}
