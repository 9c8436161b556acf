package relay

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ShanRaboy11/unitap/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

func setupImportRepo(t *testing.T) *repository.Repository {
	t.Helper()
	repo, err := repository.OpenWith(sqlite.Open(":memory:"))
	require.NoError(t, err)
	require.NoError(t, repo.Migrate())
	t.Cleanup(func() { repo.Close() })
	return repo
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestImportFile(t *testing.T) {
	ctx := context.Background()

	t.Run("imports rows and skips bad lines", func(t *testing.T) {
		repo := setupImportRepo(t)
		path := writeFile(t, `{"event_name":"TransactionCreated","payload":{"id":"t1"},"tx_id":"TX1","block_number":3,"block_hash":"0303","created_at":"2026-01-15T08:30:00Z"}

{"event_name":"QrTokenCreated","payload":{"id":"sig-1"},"tx_id":"TX2","block_number":null,"block_hash":null,"created_at":"2026-01-15T08:31:00Z"}
this line is not JSON
{"event_name":"QrTokenVerified","payload":{}}
`)

		imported, skipped, err := NewImporter(repo).ImportFile(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, 2, imported)
		assert.Equal(t, 2, skipped) // one malformed, one without tx_id

		count, err := repo.CountEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("replay is idempotent", func(t *testing.T) {
		repo := setupImportRepo(t)
		path := writeFile(t, `{"event_name":"TransactionCreated","payload":{"id":"t1"},"tx_id":"TX1","created_at":"2026-01-15T08:30:00Z"}
`)

		for i := 0; i < 3; i++ {
			_, _, err := NewImporter(repo).ImportFile(ctx, path)
			require.NoError(t, err)
		}

		count, err := repo.CountEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("source file survives the import", func(t *testing.T) {
		repo := setupImportRepo(t)
		path := writeFile(t, `{"event_name":"TransactionCreated","payload":{},"tx_id":"TX1","created_at":"2026-01-15T08:30:00Z"}
`)

		_, _, err := NewImporter(repo).ImportFile(ctx, path)
		require.NoError(t, err)

		_, err = os.Stat(path)
		require.NoError(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		repo := setupImportRepo(t)
		_, _, err := NewImporter(repo).ImportFile(ctx, filepath.Join(t.TempDir(), "absent.jsonl"))
		assert.Error(t, err)
	})

	t.Run("empty file imports nothing", func(t *testing.T) {
		repo := setupImportRepo(t)
		imported, skipped, err := NewImporter(repo).ImportFile(ctx, writeFile(t, ""))
		require.NoError(t, err)
		assert.Zero(t, imported)
		assert.Zero(t, skipped)
	})
}
