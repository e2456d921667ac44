package deletion

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yuin/goldmark"

	"lorekeeper/internal/adapters/email"
	"lorekeeper/internal/domain/account"
	"lorekeeper/internal/domain/deleteop"
	"lorekeeper/internal/domain/world"
)

// WorldReader loads a world.
type WorldReader interface {
	GetByID(ctx context.Context, id string) (world.World, error)
}

// AccountReader loads an account.
type AccountReader interface {
	GetByID(ctx context.Context, id string) (account.Account, error)
}

// maxListedFailures bounds the failed ids quoted in a notification.
const maxListedFailures = 20

// EmailNotifier emails the world owner when a delete operation ends badly,
// and on success too when NotifyOnComplete is set.
type EmailNotifier struct {
	Worlds           WorldReader
	Accounts         AccountReader
	Sender           email.Sender
	NotifyOnComplete bool
}

// Notify sends the summary. Failures are logged and never returned.
func (n *EmailNotifier) Notify(ctx context.Context, op deleteop.Operation) {
	if op.Status == deleteop.StatusCompleted && !n.NotifyOnComplete {
		return
	}
	w, err := n.Worlds.GetByID(ctx, op.WorldID)
	if err != nil {
		slog.Warn("delete_notify_skipped", "operation_id", op.ID, "reason", "world lookup", "error", err.Error())
		return
	}
	owner, err := n.Accounts.GetByID(ctx, w.OwnerID)
	if err != nil {
		slog.Warn("delete_notify_skipped", "operation_id", op.ID, "reason", "owner lookup", "error", err.Error())
		return
	}

	html, err := renderSummary(w, op)
	if err != nil {
		slog.Error("delete_notify_render_failed", "operation_id", op.ID, "error", err.Error())
		return
	}
	msg := email.Message{
		To:      []string{owner.Email},
		Subject: fmt.Sprintf("[%s] Delete of %q %s", w.Name, displayName(op), op.Status),
		HTML:    html,
	}
	if _, err := n.Sender.Send(ctx, msg); err != nil {
		slog.Error("delete_notify_failed", "operation_id", op.ID, "error", err.Error())
		return
	}
	slog.Info("delete_notify_sent", "operation_id", op.ID, "status", op.Status)
}

// renderSummary builds the markdown summary and converts it to HTML.
func renderSummary(w world.World, op deleteop.Operation) (string, error) {
	var md strings.Builder
	fmt.Fprintf(&md, "## Delete %s\n\n", op.Status)
	fmt.Fprintf(&md, "World **%s**, entity **%s**", w.Name, displayName(op))
	if op.Cascade {
		md.WriteString(" and its descendants")
	}
	md.WriteString(".\n\n")
	fmt.Fprintf(&md, "- Entities: %d\n- Deleted: %d\n- Failed: %d\n", op.TotalEntities, op.DeletedCount, op.FailedCount)
	if op.Error != "" {
		fmt.Fprintf(&md, "- Reason: %s\n", op.Error)
	}
	if len(op.FailedEntityIDs) > 0 {
		md.WriteString("\nEntities that were not deleted:\n\n")
		for i, id := range op.FailedEntityIDs {
			if i == maxListedFailures {
				fmt.Fprintf(&md, "- and %d more\n", len(op.FailedEntityIDs)-maxListedFailures)
				break
			}
			fmt.Fprintf(&md, "- `%s`\n", id)
		}
		md.WriteString("\nFailed deletes are not retried. Issue the delete again to retry them.\n")
	}
	fmt.Fprintf(&md, "\nOperation `%s`.\n", op.ID)

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md.String()), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func displayName(op deleteop.Operation) string {
	if op.RootEntityName != "" {
		return op.RootEntityName
	}
	return op.RootEntityID
}
