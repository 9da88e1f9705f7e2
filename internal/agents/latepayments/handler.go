package latepayments

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kuria-ai/kuria/internal/executor"
	"github.com/kuria-ai/kuria/internal/model"
	"github.com/kuria-ai/kuria/internal/notify"
	"github.com/kuria-ai/kuria/internal/ops"
	"github.com/kuria-ai/kuria/internal/router"
)

// ConfigStore writes per-tenant agent config.
type ConfigStore interface {
	MergeAgentConfig(ctx context.Context, tenantID uuid.UUID, agent string, updates model.AgentConfig) error
}

// HandleOverdueInvoices returns the event handler for EventOverdueInvoices.
// It sets the collections_pressure flag in the tenant's config so the next
// run drafts firmer reminders. Setting a flag is idempotent, which keeps
// redelivery of the same event harmless.
func HandleOverdueInvoices(store ConfigStore, logger *slog.Logger) router.Handler {
	return func(ctx context.Context, tenantID uuid.UUID, payload map[string]any) error {
		err := store.MergeAgentConfig(ctx, tenantID, Name, model.AgentConfig{"collections_pressure": true})
		if err != nil {
			return fmt.Errorf("latepayments: set collections_pressure: %w", err)
		}
		logger.Info("collections pressure flagged", "tenant_id", tenantID, "payload", payload)
		return nil
	}
}

// SendReminderOperation returns the builder that turns an approved
// reminder back into an executable send. The email fields live in the
// stored payload, so the send survives process restarts between queueing
// and approval.
func SendReminderOperation(notifier notify.Notifier) ops.Builder {
	return func(p model.PendingAction) (executor.Operation, error) {
		to, _ := p.Payload["to"].(string)
		subject, _ := p.Payload["subject"].(string)
		body, _ := p.Payload["body"].(string)
		if to == "" {
			return nil, fmt.Errorf("latepayments: reminder %s has no recipient", p.ID)
		}

		return func(ctx context.Context) (map[string]any, error) {
			if err := notifier.SendEmail(ctx, to, subject, body); err != nil {
				return nil, err
			}
			return map[string]any{"sent": true, "to": to}, nil
		}, nil
	}
}
