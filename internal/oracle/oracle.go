// Package oracle answers "is this account still a member" with retry,
// agreement-based confidence scoring and a short-TTL cache in front of the
// upstream chat member query.
package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dtroode/membergate/internal/logger"
	"github.com/dtroode/membergate/internal/model"
	"github.com/dtroode/membergate/internal/retry"
)

// Config contains oracle tuning parameters.
type Config struct {
	Attempts       int
	AttemptTimeout time.Duration
	CacheTTL       time.Duration
}

// Backoff between upstream attempts, roughly 0.3-0.8s.
var attemptBackoff = retry.Policy{
	BaseDelay: 800 * time.Millisecond,
	MaxDelay:  800 * time.Millisecond,
	Jitter:    0.625,
}

type cacheEntry struct {
	result    model.MembershipResult
	expiresAt time.Time
}

// Oracle wraps a MemberClient with retries, confidence scoring and caching.
// Construct one at startup and inject it; the cache is internal state with an
// explicit lifecycle, not process-wide.
type Oracle struct {
	client  model.MemberClient
	config  Config
	logger  *logger.Logger
	backoff retry.Policy

	mu    sync.RWMutex
	cache map[int64]cacheEntry

	now func() time.Time
}

var _ model.MembershipOracle = (*Oracle)(nil)

// New creates an Oracle around the given upstream client.
func New(client model.MemberClient, config Config, logger *logger.Logger) *Oracle {
	if config.Attempts < 1 {
		config.Attempts = 1
	}
	return &Oracle{
		client:  client,
		config:  config,
		logger:  logger,
		backoff: attemptBackoff,
		cache:   make(map[int64]cacheEntry),
		now:     time.Now,
	}
}

// Check returns the membership determination for accountID, serving a cached
// result when a fresh enough one exists. The only error condition is malformed
// input; upstream failures fold into a conservative not-member result.
func (o *Oracle) Check(ctx context.Context, accountID int64) (model.MembershipResult, error) {
	if accountID <= 0 {
		return model.MembershipResult{}, fmt.Errorf("%w: missing account id", model.ErrValidation)
	}

	if result, ok := o.cached(accountID); ok {
		return result, nil
	}

	return o.checkUpstream(ctx, accountID)
}

// CheckFresh bypasses the cache, queries upstream and refreshes the cache.
func (o *Oracle) CheckFresh(ctx context.Context, accountID int64) (model.MembershipResult, error) {
	if accountID <= 0 {
		return model.MembershipResult{}, fmt.Errorf("%w: missing account id", model.ErrValidation)
	}

	return o.checkUpstream(ctx, accountID)
}

// ClearCache drops all cached results. Used by the reconciler's soft reset.
func (o *Oracle) ClearCache() {
	o.mu.Lock()
	o.cache = make(map[int64]cacheEntry)
	o.mu.Unlock()
}

func (o *Oracle) cached(accountID int64) (model.MembershipResult, bool) {
	o.mu.RLock()
	entry, ok := o.cache[accountID]
	o.mu.RUnlock()
	if !ok || o.now().After(entry.expiresAt) {
		return model.MembershipResult{}, false
	}
	return entry.result, true
}

func (o *Oracle) store(accountID int64, result model.MembershipResult) {
	if o.config.CacheTTL <= 0 {
		return
	}
	o.mu.Lock()
	o.cache[accountID] = cacheEntry{result: result, expiresAt: o.now().Add(o.config.CacheTTL)}
	o.mu.Unlock()
}

func (o *Oracle) checkUpstream(ctx context.Context, accountID int64) (model.MembershipResult, error) {
	var member, notMember, failed int
	rawStatus := model.RawStatusUnknown

	for attempt := 1; attempt <= o.config.Attempts; attempt++ {
		if err := o.backoff.Sleep(ctx, attempt); err != nil {
			break
		}

		raw, err := o.memberStatus(ctx, accountID)
		if err != nil {
			failed++
			o.logger.Debug("Oracle: upstream attempt failed",
				"account_id", accountID,
				"attempt", attempt,
				"error", err.Error())
			continue
		}

		rawStatus = raw
		if model.IsMemberStatus(raw) {
			member++
		} else {
			notMember++
		}

		// Two agreeing reads settle the answer.
		if member >= 2 || notMember >= 2 {
			break
		}
	}

	result := aggregate(member, notMember, failed, rawStatus)
	o.store(accountID, result)

	return result, nil
}

func (o *Oracle) memberStatus(ctx context.Context, accountID int64) (string, error) {
	if o.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.AttemptTimeout)
		defer cancel()
	}
	return o.client.MemberStatus(ctx, accountID)
}

// aggregate turns per-attempt observations into one determination. Repeated
// upstream failures must not count as "left": they produce a low-confidence
// not-member answer instead of trusting a possibly flaky read, and ambiguity
// defaults to the restrictive outcome.
func aggregate(member, notMember, failed int, rawStatus string) model.MembershipResult {
	switch {
	case failed >= 2:
		return model.MembershipResult{IsMember: false, Confidence: 40, RawStatus: rawStatus}
	case member >= 2:
		return model.MembershipResult{IsMember: true, Confidence: 95, RawStatus: rawStatus}
	case notMember >= 2:
		confidence := 85
		if rawStatus == model.RawStatusLeft {
			confidence = 90
		}
		return model.MembershipResult{IsMember: false, Confidence: confidence, RawStatus: rawStatus}
	default:
		return model.MembershipResult{IsMember: false, Confidence: 50, RawStatus: rawStatus}
	}
}
