package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertIterationSampleSQL = `INSERT INTO iteration_samples (
        tick_ts,
        mode,
        balance,
        collateral_price,
        debt_price,
        pages_scanned,
        corrections,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (tick_ts) DO UPDATE
    SET
        mode             = EXCLUDED.mode,
        balance          = EXCLUDED.balance,
        collateral_price = EXCLUDED.collateral_price,
        debt_price       = EXCLUDED.debt_price,
        pages_scanned    = EXCLUDED.pages_scanned,
        corrections      = EXCLUDED.corrections,
        status           = EXCLUDED.status,
        error            = EXCLUDED.error;`

	listSamplesBetweenSQL = `SELECT
        tick_ts,
        mode,
        balance,
        collateral_price,
        debt_price,
        pages_scanned,
        corrections,
        status,
        error,
        created_at
    FROM iteration_samples
    WHERE tick_ts >= $1
      AND tick_ts < $2
    ORDER BY tick_ts;`

	listRecentSamplesSQL = `SELECT
        tick_ts,
        mode,
        balance,
        collateral_price,
        debt_price,
        pages_scanned,
        corrections,
        status,
        error,
        created_at
    FROM iteration_samples
    ORDER BY tick_ts DESC
    LIMIT $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM iteration_samples;`

	insertCorrectionSQL = `INSERT INTO correction_attempts (
        tick_ts,
        kind,
        account,
        loan_to_value,
        quantity,
        tx_hash,
        outcome
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, tick_ts, kind, account, loan_to_value, quantity, tx_hash, outcome, created_at;`

	listRecentCorrectionsSQL = `SELECT
        id,
        tick_ts,
        kind,
        account,
        loan_to_value,
        quantity,
        tx_hash,
        outcome,
        created_at
    FROM correction_attempts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteCorrectionsBeforeSQL = `DELETE FROM correction_attempts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// IterationSampleStore defines operations for loop telemetry persistence.
type IterationSampleStore interface {
	UpsertIterationSample(ctx context.Context, sample IterationSample) error
	ListSamplesBetween(ctx context.Context, from, to time.Time) ([]IterationSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]IterationSample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// CorrectionStore defines operations for correction auditing.
type CorrectionStore interface {
	InsertCorrection(ctx context.Context, attempt CorrectionAttempt) (CorrectionAttempt, error)
	ListRecentCorrections(ctx context.Context, limit int) ([]CorrectionAttempt, error)
	DeleteCorrectionsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to iteration samples and correction attempts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertIterationSample persists or updates one loop iteration.
func (s *Store) UpsertIterationSample(ctx context.Context, sample IterationSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if sample.Error != nil {
		errMsg = *sample.Error
	}

	_, execErr := pool.Exec(ctx, upsertIterationSampleSQL,
		sample.Tick,
		sample.Mode,
		sample.Balance.String(),
		sample.CollateralPrice.String(),
		sample.DebtPrice.String(),
		sample.PagesScanned,
		sample.Corrections,
		sample.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert iteration sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, from, to time.Time) ([]IterationSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]IterationSample, 0)
	for rows.Next() {
		sample, scanErr := scanIterationSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples lists the most recent samples ordered by descending tick.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]IterationSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]IterationSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanIterationSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// InsertCorrection persists a correction attempt.
func (s *Store) InsertCorrection(ctx context.Context, attempt CorrectionAttempt) (CorrectionAttempt, error) {
	pool, err := s.getPool()
	if err != nil {
		return CorrectionAttempt{}, err
	}

	var txHash interface{}
	if attempt.TxHash != nil {
		txHash = *attempt.TxHash
	}

	row := pool.QueryRow(ctx, insertCorrectionSQL,
		attempt.Tick,
		attempt.Kind,
		attempt.Account,
		attempt.LoanToValue.String(),
		attempt.Quantity.String(),
		txHash,
		attempt.Outcome,
	)
	return scanCorrection(row)
}

// ListRecentCorrections lists the most recent correction attempts.
func (s *Store) ListRecentCorrections(ctx context.Context, limit int) ([]CorrectionAttempt, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentCorrectionsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent corrections: %w", queryErr)
	}
	defer rows.Close()

	attempts := make([]CorrectionAttempt, 0, limit)
	for rows.Next() {
		attempt, scanErr := scanCorrection(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		attempts = append(attempts, attempt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return attempts, nil
}

// DeleteCorrectionsBefore deletes historical correction attempts.
func (s *Store) DeleteCorrectionsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteCorrectionsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete corrections before: %w", execErr)
	}
	return nil
}

func scanIterationSample(rows pgx.Rows) (IterationSample, error) {
	var (
		tick          time.Time
		mode          string
		balanceStr    string
		collateralStr string
		debtStr       string
		pagesScanned  int64
		corrections   int64
		status        string
		errMsg        sql.NullString
		createdAt     time.Time
	)

	if err := rows.Scan(
		&tick,
		&mode,
		&balanceStr,
		&collateralStr,
		&debtStr,
		&pagesScanned,
		&corrections,
		&status,
		&errMsg,
		&createdAt,
	); err != nil {
		return IterationSample{}, err
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return IterationSample{}, fmt.Errorf("parse balance: %w", err)
	}
	collateralPrice, err := decimal.NewFromString(collateralStr)
	if err != nil {
		return IterationSample{}, fmt.Errorf("parse collateral price: %w", err)
	}
	debtPrice, err := decimal.NewFromString(debtStr)
	if err != nil {
		return IterationSample{}, fmt.Errorf("parse debt price: %w", err)
	}

	sample := IterationSample{
		Tick:            tick,
		Mode:            mode,
		Balance:         balance,
		CollateralPrice: collateralPrice,
		DebtPrice:       debtPrice,
		PagesScanned:    pagesScanned,
		Corrections:     corrections,
		Status:          status,
		CreatedAt:       createdAt,
	}

	if errMsg.Valid {
		msg := errMsg.String
		sample.Error = &msg
	}

	return sample, nil
}

func scanCorrection(row pgx.Row) (CorrectionAttempt, error) {
	var (
		rec         CorrectionAttempt
		ltvStr      string
		quantityStr string
		txHash      sql.NullString
	)

	if err := row.Scan(
		&rec.ID,
		&rec.Tick,
		&rec.Kind,
		&rec.Account,
		&ltvStr,
		&quantityStr,
		&txHash,
		&rec.Outcome,
		&rec.CreatedAt,
	); err != nil {
		return CorrectionAttempt{}, fmt.Errorf("scan correction attempt: %w", err)
	}

	var convErr error
	rec.LoanToValue, convErr = decimal.NewFromString(ltvStr)
	if convErr != nil {
		return CorrectionAttempt{}, fmt.Errorf("parse loan to value: %w", convErr)
	}
	rec.Quantity, convErr = decimal.NewFromString(quantityStr)
	if convErr != nil {
		return CorrectionAttempt{}, fmt.Errorf("parse quantity: %w", convErr)
	}

	if txHash.Valid {
		hash := txHash.String
		rec.TxHash = &hash
	}

	return rec, nil
}
