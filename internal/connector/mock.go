package connector

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mock is an in-memory connector for tests and local development. It is
// safe for concurrent use and records every mutation so tests can assert
// what an agent did.
type Mock struct {
	mu       sync.Mutex
	deals    []Deal
	invoices []Invoice

	// Updates and Notes record mutations in call order.
	Updates []MockUpdate
	Notes   []MockNote

	// FailConnect makes Connect return an error.
	FailConnect bool
}

// MockUpdate is one recorded UpdateDeal call.
type MockUpdate struct {
	RawID  string
	Fields map[string]any
}

// MockNote is one recorded AddNote call.
type MockNote struct {
	DealRawID string
	Note      string
}

// NewMock creates a Mock seeded with the given records.
func NewMock(deals []Deal, invoices []Invoice) *Mock {
	return &Mock{deals: deals, invoices: invoices}
}

// SeedOverdueInvoices returns a deterministic invoice set with two overdue
// invoices and one paid, relative to now.
func SeedOverdueInvoices(now time.Time) []Invoice {
	paidAt := now.AddDate(0, 0, -10)
	return []Invoice{
		{
			RawID: "inv-001", ClientName: "Globex", ClientEmail: "billing@globex.test",
			Amount: 4800, Currency: "EUR",
			Status: InvoiceSent, IssuedAt: now.AddDate(0, 0, -45), DueAt: now.AddDate(0, 0, -15),
		},
		{
			RawID: "inv-002", ClientName: "Initech", ClientEmail: "accounts@initech.test",
			Amount: 1250, AmountPaid: 250, Currency: "EUR",
			Status: InvoiceSent, IssuedAt: now.AddDate(0, 0, -60), DueAt: now.AddDate(0, 0, -30),
		},
		{
			RawID: "inv-003", ClientName: "Hooli", Amount: 900, AmountPaid: 900, Currency: "EUR",
			Status: InvoicePaid, IssuedAt: now.AddDate(0, 0, -40), DueAt: now.AddDate(0, 0, -10), PaidAt: &paidAt,
		},
	}
}

func (m *Mock) Source() string { return "mock" }

func (m *Mock) Connect(_ context.Context) error {
	if m.FailConnect {
		return fmt.Errorf("connector: mock connect refused")
	}
	return nil
}

func (m *Mock) FetchDeals(_ context.Context) ([]Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Deal, len(m.deals))
	copy(out, m.deals)
	return out, nil
}

func (m *Mock) FetchInvoices(_ context.Context) ([]Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Invoice, len(m.invoices))
	copy(out, m.invoices)
	return out, nil
}

func (m *Mock) UpdateDeal(_ context.Context, rawID string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.deals {
		if m.deals[i].RawID == rawID {
			m.Updates = append(m.Updates, MockUpdate{RawID: rawID, Fields: fields})
			return nil
		}
	}
	return fmt.Errorf("connector: deal %s not found", rawID)
}

func (m *Mock) AddNote(_ context.Context, dealRawID, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notes = append(m.Notes, MockNote{DealRawID: dealRawID, Note: note})
	return nil
}
