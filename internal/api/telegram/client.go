package telegram

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v3"

	"github.com/dtroode/membergate/internal/model"
)

var _ model.MemberClient = (*Client)(nil)

// memberAPI is the slice of the bot API the client needs.
type memberAPI interface {
	ChatMemberOf(chat, user tele.Recipient) (*tele.ChatMember, error)
}

// Client answers single membership queries against the gating channel.
type Client struct {
	api     memberAPI
	channel *tele.Chat
}

func NewClient(api memberAPI, channel *tele.Chat) *Client {
	return &Client{
		api:     api,
		channel: channel,
	}
}

// MemberStatus queries the channel for the account's member record and maps
// the role to a raw status string.
func (c *Client) MemberStatus(ctx context.Context, accountID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return model.RawStatusUnknown, err
	}

	member, err := c.api.ChatMemberOf(c.channel, &tele.User{ID: accountID})
	if err != nil {
		return model.RawStatusUnknown, fmt.Errorf("failed to query chat member: %w", err)
	}

	return mapRole(member.Role), nil
}

func mapRole(role tele.MemberStatus) string {
	switch role {
	case tele.Member:
		return model.RawStatusMember
	case tele.Administrator:
		return model.RawStatusAdministrator
	case tele.Creator:
		return model.RawStatusCreator
	case tele.Left:
		return model.RawStatusLeft
	case tele.Kicked:
		return model.RawStatusKicked
	case tele.Restricted:
		return model.RawStatusRestricted
	default:
		return model.RawStatusUnknown
	}
}
