package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-tr-cheques/internal/repository"
)

const (
	maker   = "maker@treasury"
	checker = "checker@treasury"
)

// testClock advances one millisecond per reading so audit timestamps are
// distinct and ordered.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestServices(t *testing.T) (*Services, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	svc := New(Dependencies{Store: store, Clock: newTestClock().Now})
	return svc, store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustBook(t *testing.T, svc *Services, account string, start, end int64) (*repository.ChequeBook, []*repository.ChequeLeaf) {
	t.Helper()
	ctx := context.Background()
	book, err := svc.Books.CreateChequeBook(ctx, maker, &CreateChequeBookRequest{
		AccountID: account, StartNumber: start, EndNumber: end, IssuedDate: "2026-01-15",
	})
	require.NoError(t, err)
	leaves, err := svc.Books.ListLeaves(ctx, book.ID)
	require.NoError(t, err)
	return book, leaves
}

func issueReq(payee, amount, date string) *IssueRequest {
	return &IssueRequest{PayeeName: ptr(payee), Amount: dec(amount), ChequeDate: date}
}

func mustReceive(t *testing.T, svc *Services, number, amount, date string) *repository.IncomingCheque {
	t.Helper()
	c, err := svc.Incoming.Receive(context.Background(), maker, &ReceiveRequest{
		CustomerID:   "CUST-1",
		ChequeNumber: number,
		ChequeDate:   date,
		ReceivedDate: "2026-02-20",
		BankName:     "First Bank",
		Amount:       dec(amount),
	})
	require.NoError(t, err)
	return c
}

func auditFor(t *testing.T, svc *Services, entityType repository.EntityType, id int64) []*repository.AuditLogEntry {
	t.Helper()
	page, err := svc.Audit.Query(context.Background(), AuditQuery{EntityType: entityType, EntityID: &id, Limit: maxAuditPageSize})
	require.NoError(t, err)
	return page.Entries
}
