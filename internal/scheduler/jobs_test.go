package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/worldpam/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupJobCopiesAndRetainsLatest(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "worldpam.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("fake-bolt-contents"), 0o644))
	backupDir := filepath.Join(dir, "backups")

	job := NewBackupJob(dbPath, backupDir, 2)

	for i := 0; i < 3; i++ {
		require.NoError(t, job(context.Background()))
		time.Sleep(1100 * time.Millisecond) // distinct second-granularity timestamps
	}

	matches, err := filepath.Glob(filepath.Join(backupDir, "pam_backup_*.db"))
	require.NoError(t, err)
	assert.Len(t, matches, 2, "only the most recent keepN backups should remain")
}

func TestRetentionJobDelegatesToStoreCleanup(t *testing.T) {
	st := store.NewMem()
	_, err := st.StoreFeedItem(&store.FeedItem{
		SourceName:  "reuters_world",
		ContentHash: "h1",
		FetchedAt:   time.Now().UTC().Add(-40 * 24 * time.Hour),
	})
	require.NoError(t, err)

	job := NewRetentionJob(st, 30)
	require.NoError(t, job(context.Background()))

	items, err := st.GetFeedItems("", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}
