package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/storage"
)

type sampleLister interface {
	ListRecentSamples(ctx context.Context, limit int) ([]storage.IterationSample, error)
}

type correctionLister interface {
	ListRecentCorrections(ctx context.Context, limit int) ([]storage.CorrectionAttempt, error)
}

// Show prints recent iteration samples, or correction attempts with
// --corrections.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Corrections {
		return a.showCorrections(ctx, store, opts.Limit)
	}
	return a.showSamples(ctx, store, opts.Limit)
}

func (a *App) showSamples(ctx context.Context, store sampleLister, limit int) error {
	samples, err := store.ListRecentSamples(ctx, limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no iteration samples found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tMode\tBalance\tCollateral Px\tDebt Px\tPages\tCorrections\tStatus\tError")

	for _, sample := range samples {
		errMsg := ""
		if sample.Error != nil {
			errMsg = sanitizeInline(*sample.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			sample.Tick.UTC().Format(time.RFC3339),
			sample.Mode,
			sample.Balance.StringFixed(2),
			sample.CollateralPrice.StringFixed(0),
			sample.DebtPrice.StringFixed(0),
			sample.PagesScanned,
			sample.Corrections,
			sample.Status,
			errMsg,
		)
	}

	writer.Flush()
	return nil
}

func (a *App) showCorrections(ctx context.Context, store correctionLister, limit int) error {
	attempts, err := store.ListRecentCorrections(ctx, limit)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Fprintln(os.Stdout, "no correction attempts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tKind\tAccount\tLTV%\tQuantity\tOutcome\tTx Hash")

	for _, attempt := range attempts {
		txHash := ""
		if attempt.TxHash != nil {
			txHash = *attempt.TxHash
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			attempt.Tick.UTC().Format(time.RFC3339),
			attempt.Kind,
			attempt.Account,
			attempt.LoanToValue.StringFixed(2),
			attempt.Quantity.StringFixed(2),
			attempt.Outcome,
			txHash,
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
