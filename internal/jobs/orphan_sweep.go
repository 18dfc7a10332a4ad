// Package jobs holds the background loops the server runs next to the HTTP
// surface.
package jobs

import (
	"context"
	"errors"
	"log"
	"time"

	"registrar/internal/identity"
	"registrar/internal/metrics"
	"registrar/internal/model"
)

// AccountDeleter is the slice of the identity directory the sweep needs.
type AccountDeleter interface {
	DeleteAccount(ctx context.Context, accountID string) error
}

// OrphanJournal is the journal surface the sweep reads and drains.
type OrphanJournal interface {
	List(ctx context.Context) ([]model.Orphan, error)
	Remove(ctx context.Context, accountID string) error
}

// StartOrphanSweep retries retryable orphans (identity accounts whose delete
// failed) on a fixed interval until ctx is cancelled. Non-retryable entries
// are left for manual reconciliation.
func StartOrphanSweep(ctx context.Context, interval, timeout time.Duration, journal OrphanJournal, directory AccountDeleter) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		log.Printf("orphan sweep started, interval=%s", interval)

		for {
			select {
			case <-ctx.Done():
				log.Println("orphan sweep stopped")
				return
			case <-ticker.C:
				sweepCtx, cancel := context.WithTimeout(context.Background(), timeout)
				if err := SweepOnce(sweepCtx, journal, directory); err != nil {
					log.Printf("orphan sweep: %v", err)
				}
				cancel()
			}
		}
	}()
}

// SweepOnce retries every retryable orphan once. A delete that succeeds, or
// finds the account already gone, drains the journal entry; any other failure
// keeps it for the next pass.
func SweepOnce(ctx context.Context, journal OrphanJournal, directory AccountDeleter) error {
	orphans, err := journal.List(ctx)
	if err != nil {
		return err
	}

	for _, orphan := range orphans {
		if !orphan.Retryable {
			continue
		}
		err := directory.DeleteAccount(ctx, orphan.AccountID)
		if err != nil && !errors.Is(err, identity.ErrAccountNotFound) {
			metrics.OrphanSweepTotal.WithLabelValues("retry_failed").Inc()
			log.Printf("orphan sweep: delete account %s: %v", orphan.AccountID, err)
			continue
		}
		if err := journal.Remove(ctx, orphan.AccountID); err != nil {
			metrics.OrphanSweepTotal.WithLabelValues("drain_failed").Inc()
			log.Printf("orphan sweep: drain %s: %v", orphan.AccountID, err)
			continue
		}
		metrics.OrphanSweepTotal.WithLabelValues("drained").Inc()
		log.Printf("orphan sweep: account %s cleaned up", orphan.AccountID)
	}
	return nil
}
