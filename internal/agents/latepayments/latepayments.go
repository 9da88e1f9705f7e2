// Package latepayments implements the late-payments agent: it watches a
// tenant's invoices, measures how much money is overdue, and proposes
// reminder emails for the tenant's owner to approve.
//
// The agent never sends anything itself. Reminders are submitted as
// supervised actions and sit in the approval queue until a human decides.
package latepayments

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kuria-ai/kuria/internal/connector"
	"github.com/kuria-ai/kuria/internal/draft"
	"github.com/kuria-ai/kuria/internal/executor"
	"github.com/kuria-ai/kuria/internal/model"
	"github.com/kuria-ai/kuria/internal/notify"
)

// Name is the agent's registry name and config key.
const Name = "late_payments"

// EventOverdueInvoices is published once per run that found overdue
// invoices. Payload: invoice count and total outstanding amount.
const EventOverdueInvoices = "invoices_overdue"

// ActionSendReminder is the action type of a queued reminder email.
const ActionSendReminder = "send_invoice_reminder"

// maxRemindersPerRun bounds how many reminders one run may queue so a
// tenant with a neglected ledger is not flooded with approvals.
const maxRemindersPerRun = 5

// ConnectorFactory opens the tenant's invoicing connector. Real
// deployments resolve per-tenant credentials here.
type ConnectorFactory func(ctx context.Context, tenant model.Tenant) (connector.Connector, error)

// Publisher appends events to the tenant's mailbox.
type Publisher interface {
	Publish(ctx context.Context, eventType string, tenantID uuid.UUID, payload map[string]any) error
}

// Agent is the late-payments agent. Stateless between runs: everything a
// run needs arrives through the tenant and its stored config.
type Agent struct {
	connectors ConnectorFactory
	exec       *executor.Executor
	drafter    draft.Drafter
	notifier   notify.Notifier
	events     Publisher
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Agent.
type Option func(*Agent)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// New creates the late-payments agent.
func New(connectors ConnectorFactory, exec *executor.Executor, drafter draft.Drafter, notifier notify.Notifier, events Publisher, logger *slog.Logger, opts ...Option) *Agent {
	a := &Agent{
		connectors: connectors,
		exec:       exec,
		drafter:    drafter,
		notifier:   notifier,
		events:     events,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements agent.Agent.
func (a *Agent) Name() string { return Name }

// Run fetches the tenant's invoices, computes the overdue KPI, queues one
// supervised reminder per overdue invoice, and publishes an
// invoices_overdue event when anything is owed.
//
// Config keys:
//
//	min_overdue_amount   skip invoices owing less than this (default 0)
//	owner_email          where the owner alert goes ("" disables it)
//	collections_pressure firmer reminder tone, set by the event handler
func (a *Agent) Run(ctx context.Context, tenant model.Tenant, cfg model.AgentConfig) (model.AgentRunResult, error) {
	now := a.now()
	minAmount := cfg.Float("min_overdue_amount", 0)

	conn, err := a.connectors(ctx, tenant)
	if err != nil {
		return model.AgentRunResult{}, fmt.Errorf("latepayments: open connector: %w", err)
	}
	if err := conn.Connect(ctx); err != nil {
		return model.AgentRunResult{}, fmt.Errorf("latepayments: connect to %s: %w", conn.Source(), err)
	}

	invoices, err := conn.FetchInvoices(ctx)
	if err != nil {
		return model.AgentRunResult{}, fmt.Errorf("latepayments: fetch invoices: %w", err)
	}

	overdue := overdueInvoices(invoices, now, minAmount)

	var total float64
	for _, inv := range overdue {
		total += inv.Outstanding()
	}

	result := model.AgentRunResult{
		KPIName:  "overdue_total",
		KPIValue: total,
	}

	if len(overdue) == 0 {
		a.logger.Info("no overdue invoices", "tenant_id", tenant.ID, "invoices", len(invoices))
		return result, nil
	}

	a.logger.Info("overdue invoices found",
		"tenant_id", tenant.ID, "count", len(overdue), "total", total)

	firm := cfg.Bool("collections_pressure", false)
	queued := 0
	for _, inv := range overdue {
		if queued == maxRemindersPerRun {
			a.logger.Info("reminder cap reached", "tenant_id", tenant.ID, "remaining", len(overdue)-queued)
			break
		}
		res := a.queueReminder(ctx, tenant, inv, now, firm)
		result.ActionsTaken = append(result.ActionsTaken, model.ActionSummary{
			Type:   ActionSendReminder,
			Level:  model.LevelSupervised,
			Status: res.Status,
		})
		if res.Status == model.ActionFailed {
			result.Errors = append(result.Errors, fmt.Sprintf("queue reminder for %s: %s", inv.RawID, res.Error))
			continue
		}
		queued++
	}

	err = a.events.Publish(ctx, EventOverdueInvoices, tenant.ID, map[string]any{
		"count": len(overdue),
		"total": total,
	})
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("publish %s: %v", EventOverdueInvoices, err))
	}

	if to := cfg.String("owner_email", ""); to != "" {
		a.alertOwner(ctx, tenant, to, overdue, total, now)
	}

	return result, nil
}

// queueReminder drafts a reminder email and submits it as a supervised
// action. The draft is a preview only; the approved operation rebuilds and
// sends the final message.
func (a *Agent) queueReminder(ctx context.Context, tenant model.Tenant, inv connector.Invoice, now time.Time, firm bool) model.ActionResult {
	days := inv.DaysOverdue(now)
	body := a.draftReminder(ctx, tenant, inv, days, firm)

	return a.exec.Run(ctx, model.Action{
		Type:     ActionSendReminder,
		Level:    model.LevelSupervised,
		TenantID: tenant.ID,
		Agent:    Name,
		Payload: map[string]any{
			"invoice_id": inv.RawID,
			"client":     inv.ClientName,
			"to":         inv.ClientEmail,
			"subject":    fmt.Sprintf("Payment reminder: invoice %s", inv.RawID),
			"amount":     inv.Outstanding(),
			"currency":   inv.Currency,
			"body":       body,
		},
		Description: fmt.Sprintf("Remind %s about invoice %s (%.2f %s, %d days overdue)",
			inv.ClientName, inv.RawID, inv.Outstanding(), inv.Currency, days),
		Preview: map[string]any{"body": body},
	}, nil)
}

// draftReminder asks the drafter for the email body and falls back to a
// fixed template when drafting is unavailable.
func (a *Agent) draftReminder(ctx context.Context, tenant model.Tenant, inv connector.Invoice, days int, firm bool) string {
	tone := "friendly"
	if firm {
		tone = "firm but professional"
	}
	instruction := fmt.Sprintf(
		"Write a %s payment reminder email to %s about their overdue invoice. Keep it under 120 words and sign as %s.",
		tone, inv.ClientName, tenant.Name)

	body := a.drafter.Draft(ctx, map[string]any{
		"client":       inv.ClientName,
		"invoice_id":   inv.RawID,
		"amount_due":   inv.Outstanding(),
		"currency":     inv.Currency,
		"days_overdue": days,
	}, instruction)
	if body != "" {
		return body
	}

	return fmt.Sprintf(
		"Hi %s,\n\nThis is a reminder that invoice %s for %.2f %s is %d days past due. Please arrange payment at your earliest convenience.\n\nBest regards,\n%s",
		inv.ClientName, inv.RawID, inv.Outstanding(), inv.Currency, days, tenant.Name)
}

// alertOwner tells the tenant's owner what is outstanding. Delivery
// failure is not a run failure; the queued reminders already carry the
// work.
func (a *Agent) alertOwner(ctx context.Context, tenant model.Tenant, to string, overdue []connector.Invoice, total float64, now time.Time) {
	subject := fmt.Sprintf("%d overdue invoice(s), %.2f outstanding", len(overdue), total)

	var lines string
	for _, inv := range overdue {
		lines += fmt.Sprintf("- %s: %s owes %.2f %s (%d days overdue)\n",
			inv.RawID, inv.ClientName, inv.Outstanding(), inv.Currency, inv.DaysOverdue(now))
	}
	body := fmt.Sprintf("The following invoices are past due:\n\n%s\nReminder emails are queued for your approval.", lines)

	if !a.notifier.Alert(ctx, to, subject, body) {
		a.logger.Warn("owner alert not delivered", "tenant_id", tenant.ID, "to", to)
	}
}

// overdueInvoices filters to invoices past due owing at least minAmount,
// most overdue first.
func overdueInvoices(invoices []connector.Invoice, now time.Time, minAmount float64) []connector.Invoice {
	var overdue []connector.Invoice
	for _, inv := range invoices {
		if inv.Overdue(now) && inv.Outstanding() >= minAmount {
			overdue = append(overdue, inv)
		}
	}
	sort.Slice(overdue, func(i, j int) bool {
		return overdue[i].DueAt.Before(overdue[j].DueAt)
	})
	return overdue
}
