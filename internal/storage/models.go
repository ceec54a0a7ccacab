package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// IterationSample is one persisted agent loop iteration.
type IterationSample struct {
	Tick            time.Time
	Mode            string
	Balance         decimal.Decimal
	CollateralPrice decimal.Decimal
	DebtPrice       decimal.Decimal
	PagesScanned    int64
	Corrections     int64
	Status          string
	Error           *string
	CreatedAt       time.Time
}

// CorrectionAttempt records a submitted vault correction for auditing.
type CorrectionAttempt struct {
	ID          int64
	Tick        time.Time
	Kind        string
	Account     string
	LoanToValue decimal.Decimal
	Quantity    decimal.Decimal
	TxHash      *string
	Outcome     string
	CreatedAt   time.Time
}
