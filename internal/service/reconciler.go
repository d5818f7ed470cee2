package service

import (
	"context"
	"sync"
	"time"

	"github.com/dtroode/membergate/internal/logger"
	"github.com/dtroode/membergate/internal/model"
	"github.com/dtroode/membergate/internal/retry"
)

// ReconcilerConfig contains reconciliation loop parameters.
type ReconcilerConfig struct {
	MaxStrikes      int
	SuspendDuration time.Duration
	BatchSize       int
	ScanInterval    time.Duration
	// CheckTimeout bounds each per-account check so one hung upstream call
	// cannot stall the batch.
	CheckTimeout time.Duration
	Workers      int
	// MaxErrors is the consecutive error ceiling that triggers a soft reset.
	MaxErrors int
	// BlockThreshold is the minimum confidence for acting on a not-member
	// determination.
	BlockThreshold int
}

// ReconcilerOracle is the oracle surface the loop needs: checks plus cache
// disposal during a soft reset.
type ReconcilerOracle interface {
	model.MembershipOracle
	ClearCache()
}

// Stats is a snapshot of loop counters for the health endpoint.
type Stats struct {
	ScanCount  int64
	ErrorCount int
	LastScan   time.Time
}

// Reconciler periodically re-checks membership for accounts with live
// identifiers and drives the warn/suspend/delete/restore transitions.
type Reconciler struct {
	accounts    model.AccountStore
	identifiers model.IdentifierStore
	oracle      ReconcilerOracle
	notifier    model.Notifier
	logger      *logger.Logger
	config      ReconcilerConfig

	errorBackoff retry.Policy

	mu         sync.Mutex
	scanCount  int64
	errorCount int
	lastScan   time.Time

	now func() time.Time
}

func NewReconciler(
	accounts model.AccountStore,
	identifiers model.IdentifierStore,
	oracle ReconcilerOracle,
	notifier model.Notifier,
	logger *logger.Logger,
	config ReconcilerConfig,
) *Reconciler {
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &Reconciler{
		accounts:    accounts,
		identifiers: identifiers,
		oracle:      oracle,
		notifier:    notifier,
		logger:      logger,
		config:      config,
		errorBackoff: retry.Policy{
			BaseDelay: time.Second,
			MaxDelay:  30 * time.Second,
			Jitter:    0.2,
		},
		now: time.Now,
	}
}

// Stats returns a snapshot of the loop counters.
func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{ScanCount: r.scanCount, ErrorCount: r.errorCount, LastScan: r.lastScan}
}

// Run executes scan passes until ctx is cancelled. Repeated pass-level errors
// back off exponentially and, past the configured ceiling, trigger a soft
// reset instead of crashing the process.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("Reconciler: started",
		"scan_interval", r.config.ScanInterval.String(),
		"batch_size", r.config.BatchSize)

	for {
		if ctx.Err() != nil {
			r.logger.Info("Reconciler: stopped")
			return
		}

		batchErrs, err := r.ScanOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.logger.Info("Reconciler: stopped")
				return
			}
			r.recordErrors(1)
			r.logger.Error("Reconciler: scan pass failed",
				"error", err.Error(),
				"error_count", r.Stats().ErrorCount)
		} else {
			r.recordErrors(batchErrs)
		}

		errorCount := r.Stats().ErrorCount
		if errorCount >= r.config.MaxErrors {
			r.softReset()
		}

		sleep := r.config.ScanInterval
		if errorCount > 0 {
			if backoff := r.errorBackoff.Delay(errorCount + 1); backoff > sleep {
				sleep = backoff
			}
		}
		if !sleepCtx(ctx, sleep) {
			r.logger.Info("Reconciler: stopped")
			return
		}
	}
}

// ScanOnce processes one batch and returns the number of per-account failures.
func (r *Reconciler) ScanOnce(ctx context.Context) (int, error) {
	accounts, err := r.accounts.ListForReconciliation(ctx, r.config.BatchSize)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.scanCount++
	r.lastScan = r.now()
	r.mu.Unlock()

	if len(accounts) == 0 {
		return 0, nil
	}

	var (
		wg       sync.WaitGroup
		sem      = make(chan struct{}, r.config.Workers)
		errsMu   sync.Mutex
		errCount int
	)

	for _, account := range accounts {
		wg.Add(1)
		sem <- struct{}{}
		go func(account model.Account) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := r.reconcileAccount(ctx, account); err != nil {
				errsMu.Lock()
				errCount++
				errsMu.Unlock()
				r.logger.Error("Reconciler: account check failed",
					"account_id", account.ID,
					"error", err.Error())
			}
		}(account)
	}
	wg.Wait()

	return errCount, nil
}

// reconcileAccount re-checks one account and applies the resulting transition.
// The last-checked timestamp is updated regardless of the check outcome so
// failing accounts keep their place in the cadence.
func (r *Reconciler) reconcileAccount(ctx context.Context, account model.Account) error {
	defer func() {
		if err := r.accounts.TouchChecked(ctx, account.ID); err != nil {
			r.logger.Error("Reconciler: failed to touch account",
				"account_id", account.ID,
				"error", err.Error())
		}
	}()

	checkCtx := ctx
	if r.config.CheckTimeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, r.config.CheckTimeout)
		defer cancel()
	}

	result, err := r.oracle.Check(checkCtx, account.ID)
	if err != nil {
		return err
	}

	switch account.Status {
	case model.AccountActive:
		if !result.IsMember && result.Confidence > r.config.BlockThreshold {
			return r.applyStrike(ctx, account, result)
		}

	case model.AccountWarned:
		if result.IsMember {
			return r.restore(ctx, account, result)
		}
		if result.Confidence > r.config.BlockThreshold {
			return r.applyStrike(ctx, account, result)
		}

	case model.AccountSuspended:
		if result.IsMember {
			return r.restore(ctx, account, result)
		}
		if account.SuspendedUntil != nil && r.now().After(*account.SuspendedUntil) {
			return r.purge(ctx, account, result)
		}
	}

	return nil
}

// applyStrike increments the strike counter, moving the account to warned or,
// at the limit, to suspended.
func (r *Reconciler) applyStrike(ctx context.Context, account model.Account, result model.MembershipResult) error {
	strikes := account.Strikes + 1

	if strikes >= r.config.MaxStrikes {
		until := r.now().Add(r.config.SuspendDuration)
		updated, err := r.accounts.TransitionAccount(ctx, account.ID, model.AccountSuspended, "", model.TransitionOpts{
			Strikes:        strikes,
			SuspendedUntil: &until,
		})
		if err != nil {
			return err
		}
		r.logger.Warn("Reconciler: account suspended",
			"account_id", account.ID,
			"strikes", strikes,
			"suspended_until", until.Format(time.RFC3339))
		r.notifyOnce(ctx, account, updated.Status, model.Notification{
			AccountID:  account.ID,
			Kind:       model.NotificationSuspended,
			Strikes:    strikes,
			MaxStrikes: r.config.MaxStrikes,
			Confidence: result.Confidence,
		})
		return nil
	}

	updated, err := r.accounts.TransitionAccount(ctx, account.ID, model.AccountWarned, "", model.TransitionOpts{Strikes: strikes})
	if err != nil {
		return err
	}
	// A changed strike count re-notifies even though the status is unchanged.
	if account.Strikes != strikes {
		r.notify(ctx, updated.Status, model.Notification{
			AccountID:  account.ID,
			Kind:       model.NotificationWarning,
			Strikes:    strikes,
			MaxStrikes: r.config.MaxStrikes,
			Confidence: result.Confidence,
		})
	}
	return nil
}

func (r *Reconciler) restore(ctx context.Context, account model.Account, result model.MembershipResult) error {
	updated, err := r.accounts.TransitionAccount(ctx, account.ID, model.AccountActive, "", model.TransitionOpts{})
	if err != nil {
		return err
	}
	r.logger.Info("Reconciler: account restored",
		"account_id", account.ID,
		"confidence", result.Confidence)
	r.notifyOnce(ctx, account, updated.Status, model.Notification{
		AccountID:  account.ID,
		Kind:       model.NotificationRestored,
		Confidence: result.Confidence,
	})
	return nil
}

// purge deletes a suspended account whose window elapsed, after one more
// fresh check so a last-moment rejoin cancels the deletion.
func (r *Reconciler) purge(ctx context.Context, account model.Account, result model.MembershipResult) error {
	fresh, err := r.oracle.CheckFresh(ctx, account.ID)
	if err != nil {
		return err
	}
	if fresh.IsMember {
		return r.restore(ctx, account, fresh)
	}

	removed, err := r.identifiers.CountIdentifiers(ctx, account.ID, model.IdentifierSuspended)
	if err != nil {
		return err
	}

	updated, err := r.accounts.TransitionAccount(ctx, account.ID, model.AccountDeleted, model.RemovalReasonLeftChannel, model.TransitionOpts{})
	if err != nil {
		return err
	}
	r.logger.Warn("Reconciler: account purged",
		"account_id", account.ID,
		"ids_removed", removed)
	r.notifyOnce(ctx, account, updated.Status, model.Notification{
		AccountID:  account.ID,
		Kind:       model.NotificationRevoked,
		IDsRemoved: removed,
		Confidence: fresh.Confidence,
	})
	return nil
}

// notifyOnce sends the notification only when the account has not already
// been notified for the new status.
func (r *Reconciler) notifyOnce(ctx context.Context, account model.Account, newStatus model.AccountStatus, n model.Notification) {
	if account.LastNotifiedStatus != nil && *account.LastNotifiedStatus == newStatus {
		return
	}
	r.notify(ctx, newStatus, n)
}

func (r *Reconciler) notify(ctx context.Context, newStatus model.AccountStatus, n model.Notification) {
	r.notifier.Notify(ctx, n)
	if err := r.accounts.SetNotifiedStatus(ctx, n.AccountID, newStatus); err != nil {
		r.logger.Error("Reconciler: failed to record notified status",
			"account_id", n.AccountID,
			"error", err.Error())
	}
}

func (r *Reconciler) recordErrors(batchErrs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if batchErrs == 0 {
		r.errorCount -= 3
		if r.errorCount < 0 {
			r.errorCount = 0
		}
		return
	}
	r.errorCount += batchErrs
	if r.errorCount > r.config.MaxErrors {
		r.errorCount = r.config.MaxErrors
	}
}

// softReset clears cached membership state and the error counter so the loop
// starts over with fresh resources instead of crashing.
func (r *Reconciler) softReset() {
	r.logger.Warn("Reconciler: soft reset after repeated errors")
	r.oracle.ClearCache()
	r.mu.Lock()
	r.errorCount = 0
	r.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
