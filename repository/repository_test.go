package repository

import (
	"context"
	"testing"
	"time"

	"github.com/ShanRaboy11/unitap/repository/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := OpenWith(sqlite.Open(":memory:"))
	require.NoError(t, err)
	require.NoError(t, repo.Migrate())
	t.Cleanup(func() { repo.Close() })
	return repo
}

func record(txID string) *models.EventRecord {
	return &models.EventRecord{
		EventName: "QrTokenCreated",
		Payload:   `{"tokenSignature":"sig-1"}`,
		TxID:      txID,
		CreatedAt: time.Date(2026, 1, 15, 8, 30, 0, 0, time.UTC),
	}
}

func (r *Repository) findByTxID(t *testing.T, txID string) *models.EventRecord {
	t.Helper()
	var row models.EventRecord
	require.NoError(t, r.db.Where("tx_id = ?", txID).First(&row).Error)
	return &row
}

func TestInsertEvent(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	t.Run("inserts a row", func(t *testing.T) {
		require.NoError(t, repo.InsertEvent(ctx, record("TX1")))

		row := repo.findByTxID(t, "TX1")
		assert.Equal(t, "QrTokenCreated", row.EventName)
		assert.Nil(t, row.BlockNumber)
	})

	t.Run("duplicate tx_id is ignored, not clobbered", func(t *testing.T) {
		num := int64(7)
		hash := "0707"
		first := record("TX2")
		first.BlockNumber = &num
		first.BlockHash = &hash
		require.NoError(t, repo.InsertEvent(ctx, first))

		// Second insert with no block linkage must not null the columns.
		require.NoError(t, repo.InsertEvent(ctx, record("TX2")))

		row := repo.findByTxID(t, "TX2")
		require.NotNil(t, row.BlockNumber)
		assert.Equal(t, int64(7), *row.BlockNumber)

		count, err := repo.CountEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})
}

func TestSetBlockRef(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	t.Run("no matching row", func(t *testing.T) {
		matched, err := repo.SetBlockRef(ctx, "TX-MISSING", 5, "0505")
		require.NoError(t, err)
		assert.False(t, matched)
	})

	t.Run("fills block columns", func(t *testing.T) {
		require.NoError(t, repo.InsertEvent(ctx, record("TX1")))

		matched, err := repo.SetBlockRef(ctx, "TX1", 5, "0505")
		require.NoError(t, err)
		assert.True(t, matched)

		row := repo.findByTxID(t, "TX1")
		require.NotNil(t, row.BlockNumber)
		assert.Equal(t, int64(5), *row.BlockNumber)
		require.NotNil(t, row.BlockHash)
		assert.Equal(t, "0505", *row.BlockHash)
		// The rest of the row is untouched.
		assert.Equal(t, "QrTokenCreated", row.EventName)
	})
}

func TestNotConnected(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	assert.ErrorIs(t, repo.InsertEvent(ctx, record("TX1")), ErrNotConnected)
	_, err := repo.SetBlockRef(ctx, "TX1", 1, "01")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, repo.Ping(ctx), ErrNotConnected)
	assert.ErrorIs(t, repo.Migrate(), ErrNotConnected)
	assert.NoError(t, repo.Close())
}

func TestPing(t *testing.T) {
	repo := setupTestRepo(t)
	assert.NoError(t, repo.Ping(context.Background()))
}
