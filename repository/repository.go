package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ShanRaboy11/unitap/pkg/logger"
	"github.com/ShanRaboy11/unitap/repository/models"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgreSQL error codes as constants
const (
	// Class 23 — Integrity Constraint Violation
	PgErrUniqueViolation  = "23505" // unique_violation
	PgErrNotNullViolation = "23502" // not_null_violation

	// Class 08 — Connection Exception
	PgErrConnectionException = "08000" // connection_exception
	PgErrConnectionFailure   = "08006" // connection_failure

	// Class 53 — Insufficient Resources
	PgErrInsufficientResources = "53000" // insufficient_resources
	PgErrDiskFull              = "53100" // disk_full

	// Class 57 — Operator Intervention
	PgErrAdminShutdown = "57P01" // admin_shutdown
)

// ErrNotConnected is returned when no database connection was established.
var ErrNotConnected = errors.New("repository: database not connected")

// RepositoryError represent an error in the repository layer
type RepositoryError struct {
	Code    string
	Message string
	Detail  string
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
}

// Repository is the off-chain event store, shared by the relay, the
// importer and the health-check routine. The underlying pool is owned here:
// init on start, teardown on shutdown.
type Repository struct {
	db *gorm.DB
}

func NewRepository() *Repository {
	return &Repository{}
}

// ConnectDB dials the store with a bounded retry. The relay tolerates a
// failed connect by running in fallback-only mode, so the error is returned
// rather than fatal.
func (r *Repository) ConnectDB(dsn string) error {
	var lastErr error
	for i := range 10 {
		db, err := gorm.Open(postgres.Open(dsn))
		if err != nil {
			lastErr = err
			logger.Warn("connection attempt failed", "attempt", i+1, "error", err)
			time.Sleep(2 * time.Second)
			continue
		}
		r.db = db
		logger.Info("connected to Postgres")
		return nil
	}
	return lastErr
}

// OpenWith attaches an already-configured GORM dialector. Tests use this
// with the in-memory sqlite driver.
func OpenWith(dialector gorm.Dialector) (*Repository, error) {
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

// Migrate creates the events table.
func (r *Repository) Migrate() error {
	if r.db == nil {
		return ErrNotConnected
	}
	return r.db.AutoMigrate(&models.EventRecord{})
}

// Close releases the connection pool.
func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertEvent upserts an EventRecord with insert-or-ignore semantics keyed
// by tx_id, so a row already written by the other stream is never clobbered
// with partial data.
func (r *Repository) InsertEvent(ctx context.Context, rec *models.EventRecord) error {
	if r.db == nil {
		return ErrNotConnected
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_id"}},
			DoNothing: true,
		}).
		Create(rec).Error
	return wrapError(err)
}

// SetBlockRef fills in the block linkage on the row matching txID. Only the
// two block columns are touched, so a set value can never regress to null.
// Returns false when no row matched.
func (r *Repository) SetBlockRef(ctx context.Context, txID string, number int64, hash string) (bool, error) {
	if r.db == nil {
		return false, ErrNotConnected
	}
	tx := r.db.WithContext(ctx).
		Model(&models.EventRecord{}).
		Where("tx_id = ?", txID).
		Updates(map[string]any{
			"block_number": number,
			"block_hash":   hash,
		})
	if tx.Error != nil {
		return false, wrapError(tx.Error)
	}
	return tx.RowsAffected > 0, nil
}

// CountEvents returns the number of stored rows. Used by the importer to
// report what a replay actually changed.
func (r *Repository) CountEvents(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, ErrNotConnected
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&models.EventRecord{}).Count(&count).Error
	return count, wrapError(err)
}

// Ping checks store reachability for the relay health check.
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return ErrNotConnected
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &RepositoryError{
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Detail:  pgErr.Detail,
		}
	}
	return &RepositoryError{
		Code:    "DATABASE_ERROR",
		Message: "Database error occured",
		Detail:  err.Error(),
	}
}
