package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/membergate/internal/model"
	"github.com/dtroode/membergate/internal/testutil"
)

func newTestReconciler(store *fakeStore, oracle *fakeOracle, notifier *recordingNotifier) *Reconciler {
	return NewReconciler(store, store, oracle, notifier, testutil.MakeNoopLogger(), ReconcilerConfig{
		MaxStrikes:      3,
		SuspendDuration: 30 * time.Minute,
		BatchSize:       10,
		ScanInterval:    time.Millisecond,
		Workers:         2,
		MaxErrors:       15,
		BlockThreshold:  75,
	})
}

func TestReconciler_StrikeEscalation(t *testing.T) {
	store := newFakeStore()
	oracle := newFakeOracle()
	notifier := &recordingNotifier{}

	store.seed(model.Account{ID: 1, Status: model.AccountActive}, "key-one", "key-two")
	oracle.set(1, model.MembershipResult{IsMember: false, Confidence: 90, RawStatus: model.RawStatusLeft})

	r := newTestReconciler(store, oracle, notifier)

	ctx := context.Background()

	// First pass: active goes to warned with one strike.
	errCount, err := r.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, errCount)

	account := store.account(1)
	assert.Equal(t, model.AccountWarned, account.Status)
	assert.Equal(t, 1, account.Strikes)

	// Second pass: still warned, second strike.
	_, err = r.ScanOnce(ctx)
	require.NoError(t, err)

	account = store.account(1)
	assert.Equal(t, model.AccountWarned, account.Status)
	assert.Equal(t, 2, account.Strikes)

	// Third pass: strike limit reached, account suspended with a deadline and
	// its identifiers withheld.
	_, err = r.ScanOnce(ctx)
	require.NoError(t, err)

	account = store.account(1)
	assert.Equal(t, model.AccountSuspended, account.Status)
	assert.Equal(t, 3, account.Strikes)
	require.NotNil(t, account.SuspendedUntil)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), *account.SuspendedUntil, time.Minute)

	for _, status := range store.identifierStatuses(1) {
		assert.Equal(t, model.IdentifierSuspended, status)
	}

	assert.Equal(t, []model.NotificationKind{
		model.NotificationWarning,
		model.NotificationWarning,
		model.NotificationSuspended,
	}, notifier.kinds())
	assert.Equal(t, 1, notifier.sent[0].Strikes)
	assert.Equal(t, 2, notifier.sent[1].Strikes)
	assert.Equal(t, 3, notifier.sent[2].Strikes)
	assert.Equal(t, 3, notifier.sent[2].MaxStrikes)

	assert.Equal(t, 3, store.touched[1])
}

func TestReconciler_LowConfidenceNotMemberIgnored(t *testing.T) {
	store := newFakeStore()
	oracle := newFakeOracle()
	notifier := &recordingNotifier{}

	store.seed(model.Account{ID: 1, Status: model.AccountActive}, "key-one")
	oracle.set(1, model.MembershipResult{IsMember: false, Confidence: 50, RawStatus: model.RawStatusUnknown})

	r := newTestReconciler(store, oracle, notifier)

	_, err := r.ScanOnce(context.Background())
	require.NoError(t, err)

	account := store.account(1)
	assert.Equal(t, model.AccountActive, account.Status)
	assert.Zero(t, account.Strikes)
	assert.Empty(t, notifier.sent)
	assert.Equal(t, 1, store.touched[1])
}

func TestReconciler_RestoreFromWarned(t *testing.T) {
	store := newFakeStore()
	oracle := newFakeOracle()
	notifier := &recordingNotifier{}

	store.seed(model.Account{ID: 1, Status: model.AccountWarned, Strikes: 2}, "key-one")
	oracle.set(1, model.MembershipResult{IsMember: true, Confidence: 95, RawStatus: model.RawStatusMember})

	r := newTestReconciler(store, oracle, notifier)

	_, err := r.ScanOnce(context.Background())
	require.NoError(t, err)

	account := store.account(1)
	assert.Equal(t, model.AccountActive, account.Status)
	assert.Zero(t, account.Strikes)
	assert.Equal(t, []model.NotificationKind{model.NotificationRestored}, notifier.kinds())
}

func TestReconciler_PurgeAfterExpiry(t *testing.T) {
	store := newFakeStore()
	oracle := newFakeOracle()
	notifier := &recordingNotifier{}

	past := time.Now().Add(-time.Minute)
	store.seed(model.Account{ID: 1, Status: model.AccountSuspended, Strikes: 3, SuspendedUntil: &past}, "key-one", "key-two")
	oracle.set(1, model.MembershipResult{IsMember: false, Confidence: 90, RawStatus: model.RawStatusLeft})

	r := newTestReconciler(store, oracle, notifier)

	_, err := r.ScanOnce(context.Background())
	require.NoError(t, err)

	account := store.account(1)
	assert.Equal(t, model.AccountDeleted, account.Status)
	assert.Empty(t, store.identifierStatuses(1))

	require.Len(t, store.removals[1], 1)
	assert.Equal(t, model.RemovalReasonLeftChannel, store.removals[1][0].Reason)
	assert.Equal(t, 2, store.removals[1][0].IDsRemoved)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, model.NotificationRevoked, notifier.sent[0].Kind)
	assert.Equal(t, 2, notifier.sent[0].IDsRemoved)
}

func TestReconciler_LastMomentRejoinCancelsPurge(t *testing.T) {
	store := newFakeStore()
	oracle := newFakeOracle()
	notifier := &recordingNotifier{}

	past := time.Now().Add(-time.Minute)
	store.seed(model.Account{ID: 1, Status: model.AccountSuspended, Strikes: 3, SuspendedUntil: &past}, "key-one")

	// The cached read still says absent but a forced fresh read sees the
	// rejoin, so deletion must be called off.
	oracle.set(1, model.MembershipResult{IsMember: false, Confidence: 90, RawStatus: model.RawStatusLeft})
	oracle.setFresh(1, model.MembershipResult{IsMember: true, Confidence: 95, RawStatus: model.RawStatusMember})

	r := newTestReconciler(store, oracle, notifier)

	_, err := r.ScanOnce(context.Background())
	require.NoError(t, err)

	account := store.account(1)
	assert.Equal(t, model.AccountActive, account.Status)
	assert.Zero(t, account.Strikes)
	assert.Equal(t, []model.IdentifierStatus{model.IdentifierActive}, store.identifierStatuses(1))
	assert.Empty(t, store.removals[1])
	assert.Equal(t, []model.NotificationKind{model.NotificationRestored}, notifier.kinds())
}

func TestReconciler_SuspendedMemberRestoredBeforeExpiry(t *testing.T) {
	store := newFakeStore()
	oracle := newFakeOracle()
	notifier := &recordingNotifier{}

	future := time.Now().Add(20 * time.Minute)
	store.seed(model.Account{ID: 1, Status: model.AccountSuspended, Strikes: 3, SuspendedUntil: &future}, "key-one")
	oracle.set(1, model.MembershipResult{IsMember: true, Confidence: 95, RawStatus: model.RawStatusMember})

	r := newTestReconciler(store, oracle, notifier)

	_, err := r.ScanOnce(context.Background())
	require.NoError(t, err)

	account := store.account(1)
	assert.Equal(t, model.AccountActive, account.Status)
	assert.Nil(t, account.SuspendedUntil)
	assert.Equal(t, []model.IdentifierStatus{model.IdentifierActive}, store.identifierStatuses(1))
}

func TestReconciler_RestoreNotificationDeduplicated(t *testing.T) {
	store := newFakeStore()
	oracle := newFakeOracle()
	notifier := &recordingNotifier{}

	notified := model.AccountActive
	store.seed(model.Account{ID: 1, Status: model.AccountWarned, Strikes: 1, LastNotifiedStatus: &notified}, "key-one")
	oracle.set(1, model.MembershipResult{IsMember: true, Confidence: 95, RawStatus: model.RawStatusMember})

	r := newTestReconciler(store, oracle, notifier)

	_, err := r.ScanOnce(context.Background())
	require.NoError(t, err)

	// The transition happens, but the user already saw a restore message.
	assert.Equal(t, model.AccountActive, store.account(1).Status)
	assert.Empty(t, notifier.sent)
}

func TestReconciler_StableAccountsProduceNoRepeatNotifications(t *testing.T) {
	store := newFakeStore()
	oracle := newFakeOracle()
	notifier := &recordingNotifier{}

	future := time.Now().Add(time.Hour)
	store.seed(model.Account{ID: 1, Status: model.AccountSuspended, Strikes: 3, SuspendedUntil: &future}, "key-one")
	oracle.set(1, model.MembershipResult{IsMember: false, Confidence: 90, RawStatus: model.RawStatusLeft})

	r := newTestReconciler(store, oracle, notifier)

	ctx := context.Background()
	for range 5 {
		_, err := r.ScanOnce(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, model.AccountSuspended, store.account(1).Status)
	assert.Empty(t, notifier.sent)
	assert.Equal(t, 5, store.touched[1])
}

func TestReconciler_FailureIsolation(t *testing.T) {
	store := newFakeStore()
	oracle := newFakeOracle()
	notifier := &recordingNotifier{}

	store.seed(model.Account{ID: 1, Status: model.AccountActive}, "key-one")
	store.seed(model.Account{ID: 2, Status: model.AccountWarned, Strikes: 1}, "key-two")

	oracle.setErr(1, errors.New("upstream unavailable"))
	oracle.set(2, model.MembershipResult{IsMember: true, Confidence: 95, RawStatus: model.RawStatusMember})

	r := newTestReconciler(store, oracle, notifier)

	errCount, err := r.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, errCount)

	// The failing account keeps its state, the healthy one still progresses,
	// and both keep their place in the check cadence.
	assert.Equal(t, model.AccountActive, store.account(1).Status)
	assert.Equal(t, model.AccountActive, store.account(2).Status)
	assert.Equal(t, 1, store.touched[1])
	assert.Equal(t, 1, store.touched[2])
}

func TestReconciler_DeletedAccountsNotScanned(t *testing.T) {
	store := newFakeStore()
	oracle := newFakeOracle()

	store.seed(model.Account{ID: 1, Status: model.AccountDeleted})
	oracle.setErr(1, errors.New("must not be called"))

	r := newTestReconciler(store, oracle, &recordingNotifier{})

	errCount, err := r.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, errCount)
	assert.Zero(t, store.touched[1])
}

func TestReconciler_ErrorCounterAndSoftReset(t *testing.T) {
	store := newFakeStore()
	oracle := newFakeOracle()

	r := newTestReconciler(store, oracle, &recordingNotifier{})

	r.recordErrors(4)
	assert.Equal(t, 4, r.Stats().ErrorCount)

	// A clean pass decays the counter instead of zeroing it.
	r.recordErrors(0)
	assert.Equal(t, 1, r.Stats().ErrorCount)
	r.recordErrors(0)
	assert.Zero(t, r.Stats().ErrorCount)

	// The counter saturates at the ceiling.
	r.recordErrors(100)
	assert.Equal(t, 15, r.Stats().ErrorCount)

	r.softReset()
	assert.Zero(t, r.Stats().ErrorCount)
	assert.Equal(t, 1, oracle.cacheClears)
}

func TestReconciler_RunStopsOnCancel(t *testing.T) {
	store := newFakeStore()
	oracle := newFakeOracle()

	r := newTestReconciler(store, oracle, &recordingNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop after cancel")
	}

	assert.Greater(t, r.Stats().ScanCount, int64(0))
}
