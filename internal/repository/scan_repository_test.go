package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/skincheck/internal/logging"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func newTestRepository(t *testing.T, migrate bool) *ScanRepository {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, DriverEphemeral, "", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	repo := NewScanRepository(db, zap.NewNop())
	repo.initialBackoff = time.Millisecond
	repo.maxBackoff = 2 * time.Millisecond
	if migrate {
		require.NoError(t, repo.AutoMigrate(ctx))
	}
	return repo
}

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := &ScanRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "req-1", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	repo := &ScanRepository{
		logger:         zap.NewNop(),
		retryAttempts:  2,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "req-2", func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if opErr.RequestID != "req-2" {
		t.Fatalf("unexpected request id: %s", opErr.RequestID)
	}
}

func TestExecuteWithRetryStopsOnCancelledContext(t *testing.T) {
	repo := &ScanRepository{
		logger:         zap.NewNop(),
		retryAttempts:  5,
		initialBackoff: time.Hour,
		maxBackoff:     time.Hour,
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := repo.executeWithRetry(ctx, "test.operation", "req-3", func() error {
		attempts++
		return transientTestError{}
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestExecuteWithRetryReportsExhaustedAttempts(t *testing.T) {
	repo := &ScanRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     time.Millisecond,
	}

	err := repo.executeWithRetry(context.Background(), "repository.find_scan", "req-4", func() error {
		return transientTestError{}
	})

	var opErr *logging.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, 3, opErr.Attempts)
	assert.Contains(t, err.Error(), "attempts=3")
}

func TestIsMissingTable(t *testing.T) {
	assert.True(t, IsMissingTable(&pgconn.PgError{Code: "42P01", Message: `relation "scans" does not exist`}))
	assert.True(t, IsMissingTable(errors.New("no such table: scans")))
	assert.True(t, IsMissingTable(ErrTableMissing))
	assert.False(t, IsMissingTable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsMissingTable(errors.New("connection refused")))
	assert.False(t, IsMissingTable(nil))
}

func TestHistoryIsScopedToOwner(t *testing.T) {
	repo := newTestRepository(t, true)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	spotA := &Spot{UserID: "user-a", CreatedAt: base}
	spotB := &Spot{UserID: "user-b", CreatedAt: base}
	require.NoError(t, repo.CreateSpot(ctx, "req", spotA))
	require.NoError(t, repo.CreateSpot(ctx, "req", spotB))
	require.NotEmpty(t, spotA.ID)

	older := &Scan{SpotID: spotA.ID, Prediction: "LowRisk", Confidence: 0.9, LowRiskProbability: 0.9, HighRiskProbability: 0.1, ScannedAt: base}
	newer := &Scan{SpotID: spotA.ID, Prediction: "HighRisk", Confidence: 0.81, LowRiskProbability: 0.19, HighRiskProbability: 0.81, ScannedAt: base.Add(24 * time.Hour)}
	foreign := &Scan{SpotID: spotB.ID, Prediction: "HighRisk", Confidence: 0.7, LowRiskProbability: 0.3, HighRiskProbability: 0.7, ScannedAt: base.Add(48 * time.Hour)}
	for _, scan := range []*Scan{older, newer, foreign} {
		require.NoError(t, repo.InsertScan(ctx, "req", scan))
	}

	history, err := repo.HistoryForUser(ctx, "user-a")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, newer.ID, history[0].ID)
	assert.Equal(t, older.ID, history[1].ID)

	_, err = repo.FindScan(ctx, foreign.ID, "user-a")
	assert.ErrorIs(t, err, ErrNotFound)

	found, err := repo.FindScan(ctx, foreign.ID, "user-b")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, found.HighRiskProbability, 1e-9)

	_, err = repo.FindSpot(ctx, spotB.ID, "user-a")
	assert.ErrorIs(t, err, ErrNotFound)

	spots, err := repo.SpotsForUser(ctx, "user-b")
	require.NoError(t, err)
	require.Len(t, spots, 1)
	assert.Equal(t, spotB.ID, spots[0].ID)
}

func TestInsertScanWithoutSchemaReportsMissingTable(t *testing.T) {
	repo := newTestRepository(t, false)

	err := repo.InsertScan(context.Background(), "req-9", &Scan{SpotID: "spot", Prediction: "LowRisk", ScannedAt: time.Now()})

	require.Error(t, err)
	assert.True(t, IsMissingTable(err))
	assert.ErrorIs(t, err, ErrTableMissing)

	var opErr *logging.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "repository.insert_scan", opErr.Operation)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "", zap.NewNop())
	assert.ErrorContains(t, err, "unsupported database driver")
}
