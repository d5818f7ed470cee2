package service

import (
	"context"
	"sync"
	"time"

	"github.com/dtroode/membergate/internal/model"
)

// fakeStore is an in-memory AccountStore and IdentifierStore with the same
// transition semantics as the postgres repositories. It lets multi-pass
// scenarios run against evolving state instead of scripted return values.
type fakeStore struct {
	mu          sync.Mutex
	accounts    map[int64]*model.Account
	identifiers map[int64][]model.Identifier
	removals    map[int64][]model.RemovalRecord
	touched     map[int64]int

	transitionErr map[int64]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:      make(map[int64]*model.Account),
		identifiers:   make(map[int64][]model.Identifier),
		removals:      make(map[int64][]model.RemovalRecord),
		touched:       make(map[int64]int),
		transitionErr: make(map[int64]error),
	}
}

func (s *fakeStore) seed(account model.Account, values ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := account
	s.accounts[account.ID] = &copied
	for i, value := range values {
		status := model.IdentifierActive
		if account.Status == model.AccountSuspended {
			status = model.IdentifierSuspended
		}
		s.identifiers[account.ID] = append(s.identifiers[account.ID], model.Identifier{
			ID:        int64(i + 1),
			AccountID: account.ID,
			Value:     value,
			Status:    status,
		})
	}
}

func (s *fakeStore) account(id int64) model.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.accounts[id]
}

func (s *fakeStore) identifierStatuses(id int64) []model.IdentifierStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	statuses := make([]model.IdentifierStatus, 0, len(s.identifiers[id]))
	for _, ident := range s.identifiers[id] {
		statuses = append(statuses, ident.Status)
	}
	return statuses
}

func (s *fakeStore) EnsureAccount(ctx context.Context, id int64, displayName string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account, ok := s.accounts[id]; ok {
		return *account, nil
	}
	account := &model.Account{ID: id, Status: model.AccountActive, DisplayName: displayName}
	s.accounts[id] = account
	return *account, nil
}

func (s *fakeStore) GetByID(ctx context.Context, id int64) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return model.Account{}, model.ErrNotFound
	}
	return *account, nil
}

func (s *fakeStore) ListForReconciliation(ctx context.Context, limit int) ([]model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		switch account.Status {
		case model.AccountActive, model.AccountWarned, model.AccountSuspended:
			out = append(out, *account)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) TransitionAccount(ctx context.Context, id int64, newStatus model.AccountStatus, reason model.RemovalReason, opts model.TransitionOpts) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transitionErr[id]; err != nil {
		return model.Account{}, err
	}
	account, ok := s.accounts[id]
	if !ok {
		return model.Account{}, model.ErrNotFound
	}

	switch newStatus {
	case model.AccountActive:
		account.Strikes = 0
		account.SuspendedUntil = nil
		s.setIdentifierStatus(id, model.IdentifierSuspended, model.IdentifierActive)
	case model.AccountWarned:
		account.Strikes = opts.Strikes
	case model.AccountSuspended:
		account.Strikes = opts.Strikes
		account.SuspendedUntil = opts.SuspendedUntil
		s.setIdentifierStatus(id, model.IdentifierActive, model.IdentifierSuspended)
	case model.AccountDeleted:
		removed := 0
		for _, ident := range s.identifiers[id] {
			if ident.Status != model.IdentifierRemoved {
				removed++
			}
		}
		s.removals[id] = append(s.removals[id], model.RemovalRecord{
			AccountID:  id,
			Reason:     reason,
			IDsRemoved: removed,
		})
		delete(s.identifiers, id)
	}
	account.Status = newStatus
	account.UpdatedAt = time.Now()
	return *account, nil
}

func (s *fakeStore) setIdentifierStatus(id int64, from, to model.IdentifierStatus) {
	idents := s.identifiers[id]
	for i := range idents {
		if idents[i].Status == from {
			idents[i].Status = to
		}
	}
}

func (s *fakeStore) TouchChecked(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched[id]++
	if account, ok := s.accounts[id]; ok {
		account.LastCheckedAt = time.Now()
	}
	return nil
}

func (s *fakeStore) SetNotifiedStatus(ctx context.Context, id int64, status model.AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account, ok := s.accounts[id]; ok {
		notified := status
		account.LastNotifiedStatus = &notified
	}
	return nil
}

func (s *fakeStore) AddIdentifier(ctx context.Context, accountID int64, value string) (model.Identifier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return model.Identifier{}, model.ErrNotFound
	}
	if account.Status != model.AccountActive {
		return model.Identifier{}, model.ErrNotEligible
	}
	for _, ident := range s.identifiers[accountID] {
		if ident.Value == value {
			return model.Identifier{}, model.ErrDuplicateIdentifier
		}
	}
	ident := model.Identifier{
		ID:        int64(len(s.identifiers[accountID]) + 1),
		AccountID: accountID,
		Value:     value,
		Status:    model.IdentifierActive,
	}
	s.identifiers[accountID] = append(s.identifiers[accountID], ident)
	return ident, nil
}

func (s *fakeStore) ListIdentifiers(ctx context.Context, accountID int64, statusFilter model.IdentifierStatus) ([]model.Identifier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Identifier, 0, len(s.identifiers[accountID]))
	for _, ident := range s.identifiers[accountID] {
		if statusFilter == "" || ident.Status == statusFilter {
			out = append(out, ident)
		}
	}
	return out, nil
}

func (s *fakeStore) CountIdentifiers(ctx context.Context, accountID int64, statusFilter model.IdentifierStatus) (int, error) {
	idents, err := s.ListIdentifiers(ctx, accountID, statusFilter)
	if err != nil {
		return 0, err
	}
	return len(idents), nil
}

func (s *fakeStore) ListActiveValues(ctx context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, limit)
	for _, idents := range s.identifiers {
		for _, ident := range idents {
			if ident.Status != model.IdentifierActive {
				continue
			}
			out = append(out, ident.Value)
			if len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// fakeOracle serves scripted per-account results and counts cache resets.
type fakeOracle struct {
	mu          sync.Mutex
	results     map[int64]model.MembershipResult
	errs        map[int64]error
	fresh       map[int64]model.MembershipResult
	cacheClears int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		results: make(map[int64]model.MembershipResult),
		errs:    make(map[int64]error),
		fresh:   make(map[int64]model.MembershipResult),
	}
}

func (o *fakeOracle) set(accountID int64, result model.MembershipResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results[accountID] = result
}

func (o *fakeOracle) setErr(accountID int64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs[accountID] = err
}

func (o *fakeOracle) setFresh(accountID int64, result model.MembershipResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fresh[accountID] = result
}

func (o *fakeOracle) Check(ctx context.Context, accountID int64) (model.MembershipResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.errs[accountID]; err != nil {
		return model.MembershipResult{}, err
	}
	return o.results[accountID], nil
}

func (o *fakeOracle) CheckFresh(ctx context.Context, accountID int64) (model.MembershipResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.errs[accountID]; err != nil {
		return model.MembershipResult{}, err
	}
	if result, ok := o.fresh[accountID]; ok {
		return result, nil
	}
	return o.results[accountID], nil
}

func (o *fakeOracle) ClearCache() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cacheClears++
}
