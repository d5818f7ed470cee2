package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dtroode/membergate/internal/logger"
	"github.com/dtroode/membergate/internal/model"
)

// CommandsConfig contains restore policy parameters for command handling.
type CommandsConfig struct {
	// RestoreThreshold is the minimum confidence for restoring a suspended or
	// deleted account on rejoin.
	RestoreThreshold int
	// RestoreGrace restores below-threshold rejoins when the last status
	// change happened within this window.
	RestoreGrace time.Duration
}

// Commands handles inbound events: /start, identifier registration and manual
// membership checks. Handlers are independent and safe to run concurrently;
// conflicting writes for one account serialize inside the store.
type Commands struct {
	accounts    model.AccountStore
	identifiers model.IdentifierStore
	oracle      model.MembershipOracle
	notifier    model.Notifier
	logger      *logger.Logger
	config      CommandsConfig

	now func() time.Time
}

func NewCommands(
	accounts model.AccountStore,
	identifiers model.IdentifierStore,
	oracle model.MembershipOracle,
	notifier model.Notifier,
	logger *logger.Logger,
	config CommandsConfig,
) *Commands {
	return &Commands{
		accounts:    accounts,
		identifiers: identifiers,
		oracle:      oracle,
		notifier:    notifier,
		logger:      logger,
		config:      config,
		now:         time.Now,
	}
}

// Handle dispatches one inbound event to its handler.
func (c *Commands) Handle(ctx context.Context, event model.Event) (model.Reply, error) {
	switch event.Kind {
	case model.EventStart:
		return c.HandleStart(ctx, event.AccountID, event.DisplayName)
	case model.EventAddIdentifier:
		return c.HandleAddIdentifier(ctx, event.AccountID, event.DisplayName, event.Payload)
	case model.EventManualCheck:
		return c.HandleManualCheck(ctx, event.AccountID)
	case model.EventListIdentifiers:
		return c.HandleListIdentifiers(ctx, event.AccountID, event.DisplayName)
	default:
		return model.Reply{Outcome: model.ReplyInvalidInput}, fmt.Errorf("%w: unknown event kind %q", model.ErrValidation, event.Kind)
	}
}

// HandleStart ensures the account exists, checks membership and auto-restores
// suspended or deleted accounts that rejoined.
func (c *Commands) HandleStart(ctx context.Context, accountID int64, displayName string) (model.Reply, error) {
	account, err := c.accounts.EnsureAccount(ctx, accountID, displayName)
	if err != nil {
		return model.Reply{Outcome: model.ReplyTryAgain}, fmt.Errorf("failed to ensure account: %w", err)
	}

	result, err := c.oracle.Check(ctx, accountID)
	if err != nil {
		return model.Reply{Outcome: model.ReplyInvalidInput}, err
	}

	restored := false
	if result.IsMember && account.Status != model.AccountActive {
		if c.restoreEligible(account, result) {
			account, err = c.accounts.TransitionAccount(ctx, accountID, model.AccountActive, "", model.TransitionOpts{})
			if err != nil {
				return model.Reply{Outcome: model.ReplyTryAgain}, fmt.Errorf("failed to restore account: %w", err)
			}
			restored = true

			c.notifier.Notify(ctx, model.Notification{
				AccountID:  accountID,
				Kind:       model.NotificationRestored,
				Confidence: result.Confidence,
			})
			if err := c.accounts.SetNotifiedStatus(ctx, accountID, model.AccountActive); err != nil {
				c.logger.Error("Commands: failed to record notified status",
					"account_id", accountID,
					"error", err.Error())
			}
		}
	}

	activeIDs, err := c.identifiers.CountIdentifiers(ctx, accountID, model.IdentifierActive)
	if err != nil {
		return model.Reply{Outcome: model.ReplyTryAgain}, fmt.Errorf("failed to count identifiers: %w", err)
	}

	outcome := model.ReplyOK
	if !result.IsMember {
		outcome = model.ReplyJoinRequired
	}

	return model.Reply{
		Outcome:    outcome,
		Status:     account.Status,
		IsMember:   result.IsMember,
		Confidence: result.Confidence,
		Restored:   restored,
		ActiveIDs:  activeIDs,
	}, nil
}

// HandleAddIdentifier runs the four gates in order: format, membership,
// duplicate, insert. The first failing gate determines the outcome.
func (c *Commands) HandleAddIdentifier(ctx context.Context, accountID int64, displayName, value string) (model.Reply, error) {
	if err := model.ValidateIdentifierValue(value); err != nil {
		return model.Reply{Outcome: model.ReplyInvalidInput, Value: value}, err
	}

	account, err := c.accounts.EnsureAccount(ctx, accountID, displayName)
	if err != nil {
		return model.Reply{Outcome: model.ReplyTryAgain}, fmt.Errorf("failed to ensure account: %w", err)
	}

	result, err := c.oracle.Check(ctx, accountID)
	if err != nil {
		return model.Reply{Outcome: model.ReplyInvalidInput}, err
	}
	if !result.IsMember {
		return model.Reply{
			Outcome:    model.ReplyJoinRequired,
			Status:     account.Status,
			Confidence: result.Confidence,
		}, nil
	}

	ident, err := c.identifiers.AddIdentifier(ctx, accountID, value)
	switch {
	case errors.Is(err, model.ErrDuplicateIdentifier):
		return model.Reply{Outcome: model.ReplyDuplicate, Status: account.Status, Value: value}, nil
	case errors.Is(err, model.ErrNotEligible):
		return model.Reply{Outcome: model.ReplyJoinRequired, Status: account.Status}, nil
	case errors.Is(err, model.ErrStoreContention):
		return model.Reply{Outcome: model.ReplyTryAgain}, err
	case err != nil:
		return model.Reply{Outcome: model.ReplyTryAgain}, fmt.Errorf("failed to add identifier: %w", err)
	}

	activeIDs, err := c.identifiers.CountIdentifiers(ctx, accountID, model.IdentifierActive)
	if err != nil {
		c.logger.Error("Commands: failed to count identifiers",
			"account_id", accountID,
			"error", err.Error())
		activeIDs = 1
	}

	return model.Reply{
		Outcome:    model.ReplyOK,
		Status:     account.Status,
		IsMember:   true,
		Confidence: result.Confidence,
		ActiveIDs:  activeIDs,
		Value:      ident.Value,
	}, nil
}

// HandleManualCheck forces a non-cached membership check and reports it
// without mutating store state.
func (c *Commands) HandleManualCheck(ctx context.Context, accountID int64) (model.Reply, error) {
	result, err := c.oracle.CheckFresh(ctx, accountID)
	if err != nil {
		return model.Reply{Outcome: model.ReplyInvalidInput}, err
	}

	reply := model.Reply{
		Outcome:    model.ReplyOK,
		IsMember:   result.IsMember,
		Confidence: result.Confidence,
	}
	if !result.IsMember {
		reply.Outcome = model.ReplyJoinRequired
	}

	account, err := c.accounts.GetByID(ctx, accountID)
	if err == nil {
		reply.Status = account.Status
	} else if !errors.Is(err, model.ErrNotFound) {
		return model.Reply{Outcome: model.ReplyTryAgain}, fmt.Errorf("failed to get account: %w", err)
	}

	return reply, nil
}

// HandleListIdentifiers returns the account's identifiers in insertion order.
func (c *Commands) HandleListIdentifiers(ctx context.Context, accountID int64, displayName string) (model.Reply, error) {
	account, err := c.accounts.EnsureAccount(ctx, accountID, displayName)
	if err != nil {
		return model.Reply{Outcome: model.ReplyTryAgain}, fmt.Errorf("failed to ensure account: %w", err)
	}

	idents, err := c.identifiers.ListIdentifiers(ctx, accountID, "")
	if err != nil {
		return model.Reply{Outcome: model.ReplyTryAgain}, fmt.Errorf("failed to list identifiers: %w", err)
	}

	active := 0
	for _, ident := range idents {
		if ident.Status == model.IdentifierActive {
			active++
		}
	}

	return model.Reply{
		Outcome:     model.ReplyOK,
		Status:      account.Status,
		ActiveIDs:   active,
		Identifiers: idents,
	}, nil
}

// restoreEligible decides whether a non-active account that is a member again
// gets its access back. Warned accounts always restore. Suspended and deleted
// accounts restore when the determination is confident enough, or when the
// last status change is recent enough that a flaky low-confidence read should
// not keep a just-rejoined user locked out.
func (c *Commands) restoreEligible(account model.Account, result model.MembershipResult) bool {
	if account.Status == model.AccountWarned {
		return true
	}
	if result.Confidence >= c.config.RestoreThreshold {
		return true
	}
	return c.now().Sub(account.UpdatedAt) <= c.config.RestoreGrace
}
