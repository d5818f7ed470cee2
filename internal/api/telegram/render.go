package telegram

import (
	"fmt"
	"strings"

	"github.com/dtroode/membergate/internal/model"
)

// renderStart builds the /start greeting for the given handler reply.
func renderStart(reply model.Reply) string {
	var b strings.Builder

	if reply.Outcome == model.ReplyJoinRequired {
		b.WriteString("👋 Welcome! To use this bot you need to join the channel first.\n\n")
		b.WriteString("Join the channel, then press 🔄 Check Now.")
		return b.String()
	}

	b.WriteString("👋 Welcome back! Your membership is confirmed.\n\n")
	if reply.Restored {
		b.WriteString("✅ Your access has been restored.\n")
	}
	fmt.Fprintf(&b, "Active IDs: %d\n\n", reply.ActiveIDs)
	b.WriteString("Send me an ID value to register it, or use the buttons below.")
	return b.String()
}

func renderAdd(reply model.Reply) string {
	switch reply.Outcome {
	case model.ReplyInvalidInput:
		return fmt.Sprintf(
			"❌ Invalid ID. Values must be %d-%d characters: letters, digits, '_' and '-'.",
			model.IdentifierMinLen, model.IdentifierMaxLen)
	case model.ReplyJoinRequired:
		return "🔒 You need to be a channel member to register IDs. Join the channel and try again."
	case model.ReplyDuplicate:
		return fmt.Sprintf("⚠️ You already registered %q.", reply.Value)
	case model.ReplyTryAgain:
		return "⏳ Something went wrong, please try again in a moment."
	}
	return fmt.Sprintf("✅ Registered %q.\nActive IDs: %d", reply.Value, reply.ActiveIDs)
}

func renderCheck(reply model.Reply) string {
	if reply.IsMember {
		return fmt.Sprintf("✅ Membership confirmed (confidence %d%%).", reply.Confidence)
	}
	return fmt.Sprintf(
		"❌ You don't appear to be a channel member (confidence %d%%).\n\nJoin the channel and check again.",
		reply.Confidence)
}

func renderList(reply model.Reply) string {
	if len(reply.Identifiers) == 0 {
		return "📋 You have no registered IDs yet. Send me a value to add one."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 Your IDs (%d active):\n\n", reply.ActiveIDs)
	for _, ident := range reply.Identifiers {
		marker := "✅"
		switch ident.Status {
		case model.IdentifierSuspended:
			marker = "⏸"
		case model.IdentifierRemoved:
			marker = "🗑"
		}
		fmt.Fprintf(&b, "%s %s\n", marker, ident.Value)
	}
	return b.String()
}

// renderNotification builds the outbound message for a reconciler notification.
func renderNotification(n model.Notification) string {
	switch n.Kind {
	case model.NotificationWarning:
		return fmt.Sprintf(
			"⚠️ Warning %d/%d: you no longer appear to be a channel member.\n\nRejoin the channel to keep your IDs active.",
			n.Strikes, n.MaxStrikes)
	case model.NotificationSuspended:
		return "⏸ Your IDs have been suspended because you left the channel.\n\nRejoin and press /start to restore them."
	case model.NotificationRevoked:
		return fmt.Sprintf(
			"🗑 Your access has been revoked and %d ID(s) were removed.\n\nYou can rejoin the channel and register again.",
			n.IDsRemoved)
	case model.NotificationRestored:
		return "✅ Welcome back! Your access and IDs have been restored."
	}
	return ""
}
