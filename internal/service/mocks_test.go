package service

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/dtroode/membergate/internal/model"
)

// MockAccountStore mocks the AccountStore interface
type MockAccountStore struct {
	mock.Mock
}

func (m *MockAccountStore) EnsureAccount(ctx context.Context, id int64, displayName string) (model.Account, error) {
	args := m.Called(ctx, id, displayName)
	return args.Get(0).(model.Account), args.Error(1)
}

func (m *MockAccountStore) GetByID(ctx context.Context, id int64) (model.Account, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Account), args.Error(1)
}

func (m *MockAccountStore) ListForReconciliation(ctx context.Context, limit int) ([]model.Account, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]model.Account), args.Error(1)
}

func (m *MockAccountStore) TransitionAccount(ctx context.Context, id int64, newStatus model.AccountStatus, reason model.RemovalReason, opts model.TransitionOpts) (model.Account, error) {
	args := m.Called(ctx, id, newStatus, reason, opts)
	return args.Get(0).(model.Account), args.Error(1)
}

func (m *MockAccountStore) TouchChecked(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAccountStore) SetNotifiedStatus(ctx context.Context, id int64, status model.AccountStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

// MockIdentifierStore mocks the IdentifierStore interface
type MockIdentifierStore struct {
	mock.Mock
}

func (m *MockIdentifierStore) AddIdentifier(ctx context.Context, accountID int64, value string) (model.Identifier, error) {
	args := m.Called(ctx, accountID, value)
	return args.Get(0).(model.Identifier), args.Error(1)
}

func (m *MockIdentifierStore) ListIdentifiers(ctx context.Context, accountID int64, statusFilter model.IdentifierStatus) ([]model.Identifier, error) {
	args := m.Called(ctx, accountID, statusFilter)
	return args.Get(0).([]model.Identifier), args.Error(1)
}

func (m *MockIdentifierStore) CountIdentifiers(ctx context.Context, accountID int64, statusFilter model.IdentifierStatus) (int, error) {
	args := m.Called(ctx, accountID, statusFilter)
	return args.Int(0), args.Error(1)
}

func (m *MockIdentifierStore) ListActiveValues(ctx context.Context, limit int) ([]string, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]string), args.Error(1)
}

// MockOracle mocks the MembershipOracle interface
type MockOracle struct {
	mock.Mock
}

func (m *MockOracle) Check(ctx context.Context, accountID int64) (model.MembershipResult, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(model.MembershipResult), args.Error(1)
}

func (m *MockOracle) CheckFresh(ctx context.Context, accountID int64) (model.MembershipResult, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(model.MembershipResult), args.Error(1)
}

func (m *MockOracle) ClearCache() {
	m.Called()
}

// recordingNotifier captures notifications for assertions.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []model.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, notification model.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
}

func (n *recordingNotifier) kinds() []model.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]model.NotificationKind, 0, len(n.sent))
	for _, notification := range n.sent {
		kinds = append(kinds, notification.Kind)
	}
	return kinds
}
