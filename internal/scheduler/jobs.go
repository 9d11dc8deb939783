package scheduler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/worldpam/internal/store"
)

// NewBackupJob returns a Job that copies the bbolt file at dbPath to a
// timestamped path (pam_backup_YYYYMMDD_HHMMSS.db) under backupDir, then
// retains only the most recent keepN copies, deleting the rest.
func NewBackupJob(dbPath, backupDir string, keepN int) Job {
	return func(ctx context.Context) error {
		if err := os.MkdirAll(backupDir, 0o755); err != nil {
			return fmt.Errorf("create backup dir: %w", err)
		}

		dest := filepath.Join(backupDir, fmt.Sprintf("pam_backup_%s.db", time.Now().UTC().Format("20060102_150405")))
		if err := copyFile(ctx, dbPath, dest); err != nil {
			return fmt.Errorf("copy db: %w", err)
		}

		return retainLatest(backupDir, "pam_backup_*.db", keepN)
	}
}

// NewRetentionJob returns a Job that deletes rows older than olderThanDays
// via store.CleanupOldData.
func NewRetentionJob(st store.Store, olderThanDays int) Job {
	return func(ctx context.Context) error {
		_, err := st.CleanupOldData(olderThanDays)
		return err
	}
}

func copyFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if ctx.Err() != nil {
		os.Remove(tmp)
		return ctx.Err()
	}
	return os.Rename(tmp, dst)
}

func retainLatest(dir, pattern string, keepN int) error {
	if keepN <= 0 {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return err
	}
	if len(matches) <= keepN {
		return nil
	}
	sort.Strings(matches) // timestamped names sort chronologically
	toRemove := matches[:len(matches)-keepN]
	for _, m := range toRemove {
		if err := os.Remove(m); err != nil {
			return err
		}
	}
	return nil
}
