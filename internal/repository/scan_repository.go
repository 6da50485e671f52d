package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/skincheck/internal/logging"
)

var (
	// ErrTableMissing means the backing schema has not been provisioned.
	ErrTableMissing = errors.New("table does not exist")
	// ErrNotFound is returned when a row does not exist or belongs to another user.
	ErrNotFound = errors.New("record not found")
)

// pgUndefinedTable is the SQLSTATE for a missing relation.
const pgUndefinedTable = "42P01"

// ScanRepository persists spots and scans.
type ScanRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewScanRepository creates a new repository instance.
func NewScanRepository(db *gorm.DB, logger *zap.Logger) *ScanRepository {
	return &ScanRepository{
		db:             db,
		logger:         logger.Named("scan_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *ScanRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Spot{}, &Scan{})
}

// Ping checks database connectivity.
func (r *ScanRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CreateSpot inserts a spot for userID.
func (r *ScanRepository) CreateSpot(ctx context.Context, requestID string, spot *Spot) error {
	return r.executeWithRetry(ctx, "repository.create_spot", requestID, func() error {
		return classify(r.db.WithContext(ctx).Create(spot).Error)
	})
}

// FindSpot returns the spot if it belongs to userID.
func (r *ScanRepository) FindSpot(ctx context.Context, spotID, userID string) (*Spot, error) {
	var spot Spot
	err := r.executeWithRetry(ctx, "repository.find_spot", "", func() error {
		return classify(r.db.WithContext(ctx).First(&spot, "id = ? AND user_id = ?", spotID, userID).Error)
	})
	if err != nil {
		return nil, err
	}
	return &spot, nil
}

// InsertScan appends a scan row.
func (r *ScanRepository) InsertScan(ctx context.Context, requestID string, scan *Scan) error {
	return r.executeWithRetry(ctx, "repository.insert_scan", requestID, func() error {
		return classify(r.db.WithContext(ctx).Omit("Spot").Create(scan).Error)
	})
}

// FindScan returns a scan whose spot belongs to userID.
func (r *ScanRepository) FindScan(ctx context.Context, scanID, userID string) (*Scan, error) {
	var scan Scan
	err := r.executeWithRetry(ctx, "repository.find_scan", "", func() error {
		return classify(r.ownedScans(ctx, userID).Where("scans.id = ?", scanID).First(&scan).Error)
	})
	if err != nil {
		return nil, err
	}
	return &scan, nil
}

// HistoryForUser returns the user's scans, newest first. Ownership is resolved by
// joining through spots so scans of other users' spots are never returned.
func (r *ScanRepository) HistoryForUser(ctx context.Context, userID string) ([]Scan, error) {
	var scans []Scan
	err := r.executeWithRetry(ctx, "repository.history", "", func() error {
		return classify(r.ownedScans(ctx, userID).Order("scans.scanned_at DESC").Find(&scans).Error)
	})
	if err != nil {
		return nil, err
	}
	return scans, nil
}

// SpotsForUser returns the user's spots, oldest first.
func (r *ScanRepository) SpotsForUser(ctx context.Context, userID string) ([]Spot, error) {
	var spots []Spot
	err := r.executeWithRetry(ctx, "repository.spots", "", func() error {
		return classify(r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Find(&spots).Error)
	})
	if err != nil {
		return nil, err
	}
	return spots, nil
}

func (r *ScanRepository) ownedScans(ctx context.Context, userID string) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&Scan{}).
		Select("scans.*").
		Joins("JOIN spots ON spots.id = scans.spot_id").
		Where("spots.user_id = ?", userID)
}

func (r *ScanRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)

	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == attempts-1 {
			if !errors.Is(err, ErrNotFound) {
				opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewRetryError(operation, requestID, attempt+1, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewRetryError(operation, requestID, attempts, err)
}

// classify maps driver errors onto the package sentinels.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case IsMissingTable(err):
		return errors.Join(ErrTableMissing, err)
	default:
		return err
	}
}

// IsMissingTable reports whether err comes from querying an unprovisioned table on
// PostgreSQL or SQLite.
func IsMissingTable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTableMissing) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUndefinedTable
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such table") || (strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist"))
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return strings.Contains(strings.ToLower(err.Error()), "database is locked")
}
