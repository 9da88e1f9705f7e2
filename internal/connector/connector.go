// Package connector defines the contract between agents and a tenant's
// business systems (CRM, invoicing). The translation layer that speaks to
// real external systems lives outside this service; agents only see
// normalized records through this interface.
package connector

import (
	"context"
	"time"
)

// DealStage is the normalized pipeline stage of a deal.
type DealStage string

const (
	DealLead        DealStage = "lead"
	DealProposal    DealStage = "proposal"
	DealNegotiation DealStage = "negotiation"
	DealWon         DealStage = "won"
	DealLost        DealStage = "lost"
)

// InvoiceStatus is the normalized lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceSent      InvoiceStatus = "sent"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// Deal is a normalized CRM deal.
type Deal struct {
	RawID          string // id in the source system
	Title          string
	ClientName     string
	Amount         float64
	Currency       string
	Stage          DealStage
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Invoice is a normalized invoice record. ClientEmail may be empty when
// the source system holds no billing contact.
type Invoice struct {
	RawID       string
	ClientName  string
	ClientEmail string
	Amount      float64
	AmountPaid  float64
	Currency    string
	Status      InvoiceStatus
	IssuedAt    time.Time
	DueAt       time.Time
	PaidAt      *time.Time
}

// Outstanding returns the unpaid remainder.
func (i Invoice) Outstanding() float64 {
	return i.Amount - i.AmountPaid
}

// Overdue reports whether the invoice is past due and still owed money.
func (i Invoice) Overdue(now time.Time) bool {
	if i.Status == InvoicePaid || i.Status == InvoiceCancelled || i.Status == InvoiceDraft {
		return false
	}
	return !i.DueAt.IsZero() && i.DueAt.Before(now) && i.Outstanding() > 0
}

// DaysOverdue returns whole days past due, zero when not overdue.
func (i Invoice) DaysOverdue(now time.Time) int {
	if !i.Overdue(now) {
		return 0
	}
	return int(now.Sub(i.DueAt).Hours() / 24)
}

// Connector is implemented once per external system. Methods take a context
// because every call crosses a network boundary in real implementations.
type Connector interface {
	// Source names the external system, e.g. "hubspot" or "xero".
	Source() string

	// Connect verifies credentials before the first fetch.
	Connect(ctx context.Context) error

	FetchDeals(ctx context.Context) ([]Deal, error)
	FetchInvoices(ctx context.Context) ([]Invoice, error)

	// UpdateDeal patches fields on a deal in the source system.
	UpdateDeal(ctx context.Context, rawID string, fields map[string]any) error

	// AddNote attaches a free-text note to a deal.
	AddNote(ctx context.Context, dealRawID, note string) error
}
