package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
)

// seedExposure builds a mix of instruments in several statuses.
func seedExposure(t *testing.T, svc *Services) {
	t.Helper()
	ctx := context.Background()
	_, leaves := mustBook(t, svc, "ACC-X", 1, 8)

	for i, amount := range []string{"100.00", "200.50", "300.25", "400.00", "50.00"} {
		_, err := svc.Cheques.Issue(ctx, maker, leaves[i].ID, issueReq("Payee", amount, "2026-03-01"))
		require.NoError(t, err)
	}
	_, err := svc.Cheques.RecordPrint(ctx, maker, leaves[1].ID)
	require.NoError(t, err)
	_, err = svc.Cheques.MarkDue(ctx, maker, leaves[2].ID, "2026-03-01")
	require.NoError(t, err)
	_, err = svc.Cheques.MarkDue(ctx, maker, leaves[3].ID, "2026-03-01")
	require.NoError(t, err)
	_, err = svc.Cheques.Clear(ctx, maker, leaves[3].ID, "cleared")
	require.NoError(t, err)
	_, err = svc.Cheques.MarkMissing(ctx, maker, leaves[5].ID, "lost")
	require.NoError(t, err)
	// Pending approval: excluded everywhere.
	submitIssue(t, svc, leaves[6].ID, "99999")
	_, err = svc.Approvals.Submit(ctx, maker, &SubmitRequest{
		EntityType: repository.EntityChequeLeaf, EntityID: leaves[4].ID,
		ActionType: repository.ActionPrint,
	})
	require.NoError(t, err)

	a := mustReceive(t, svc, "IN-1", "1000.00", "2026-03-05")
	b := mustReceive(t, svc, "IN-2", "2000.00", "2026-03-05")
	c := mustReceive(t, svc, "IN-3", "3000.00", "2026-03-05")
	mustReceive(t, svc, "IN-4", "4000.00", "2026-03-05")
	_, err = svc.Incoming.Deposit(ctx, maker, a.ID)
	require.NoError(t, err)
	_, err = svc.Incoming.Settle(ctx, maker, b.ID, "cash")
	require.NoError(t, err)
	_, err = svc.Approvals.Submit(ctx, maker, &SubmitRequest{
		EntityType: repository.EntityIncomingCheque, EntityID: c.ID, ActionType: repository.ActionDeposit,
	})
	require.NoError(t, err)
}

func TestExposureSummary_ReconcilesWithDetails(t *testing.T) {
	svc, _ := newTestServices(t)
	seedExposure(t, svc)
	ctx := context.Background()

	summary, err := svc.Exposure.Summary(ctx)
	require.NoError(t, err)

	outgoing, err := svc.Exposure.OutgoingDetails(ctx, nil)
	require.NoError(t, err)
	incoming, err := svc.Exposure.IncomingDetails(ctx, nil)
	require.NoError(t, err)

	outTotal := decimal.Zero
	for _, l := range outgoing {
		assert.Equal(t, repository.WorkflowNone, l.WorkflowStatus)
		outTotal = outTotal.Add(l.Amount.Decimal)
	}
	inTotal := decimal.Zero
	for _, c := range incoming {
		assert.Equal(t, repository.WorkflowNone, c.WorkflowStatus)
		inTotal = inTotal.Add(c.Amount)
	}

	assert.True(t, summary.NetOutgoing.Equal(outTotal), "summary %s details %s", summary.NetOutgoing, outTotal)
	assert.True(t, summary.NetIncoming.Equal(inTotal), "summary %s details %s", summary.NetIncoming, inTotal)

	// ISSUED 100, PRINTED 200.50, DUE 300.25, MISSING 0 (never issued).
	assert.True(t, summary.NetOutgoing.Equal(dec("600.75")), summary.NetOutgoing.String())
	// PENDING 4000, DEPOSITED 1000.
	assert.True(t, summary.NetIncoming.Equal(dec("5000")), summary.NetIncoming.String())

	for _, row := range summary.Rows {
		assert.NotEqual(t, string(repository.LeafUnused), row.Status)
		var details decimal.Decimal
		var count int64
		switch row.Type {
		case repository.InstrumentOutgoing:
			rows, err := svc.Exposure.OutgoingDetails(ctx, []repository.LeafStatus{repository.LeafStatus(row.Status)})
			require.NoError(t, err)
			for _, l := range rows {
				details = details.Add(l.Amount.Decimal)
			}
			count = int64(len(rows))
		case repository.InstrumentIncoming:
			rows, err := svc.Exposure.IncomingDetails(ctx, []repository.IncomingStatus{repository.IncomingStatus(row.Status)})
			require.NoError(t, err)
			for _, c := range rows {
				details = details.Add(c.Amount)
			}
			count = int64(len(rows))
		}
		assert.Equal(t, count, row.Count, "%s/%s", row.Type, row.Status)
		assert.True(t, row.TotalAmount.Equal(details), "%s/%s", row.Type, row.Status)
	}
}

func TestExposureDetails_RejectsUnknownStatus(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()

	_, err := svc.Exposure.OutgoingDetails(ctx, []repository.LeafStatus{repository.LeafUnused})
	assert.True(t, errors.Is(err, errors.ErrValidation))
	_, err = svc.Exposure.IncomingDetails(ctx, []repository.IncomingStatus{"LOST"})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

type stubCache struct {
	cached *ExposureSummary
	sets   int
}

func (c *stubCache) GetSummary(ctx context.Context) (*ExposureSummary, error) { return c.cached, nil }

func (c *stubCache) SetSummary(ctx context.Context, s *ExposureSummary) error {
	c.sets++
	c.cached = s
	return nil
}

func TestExposureSummary_ServedFromCache(t *testing.T) {
	cache := &stubCache{}
	store := repository.NewMemoryStore()
	svc := New(Dependencies{Store: store, Clock: newTestClock().Now, Cache: cache})
	ctx := context.Background()

	first, err := svc.Exposure.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)
	assert.Empty(t, first.Rows)

	mustReceive(t, svc, "IN-C", "10", "2026-03-05")

	second, err := svc.Exposure.Summary(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, cache.sets)
}

func TestSummarize(t *testing.T) {
	s := summarize([]repository.ExposureRow{
		{Type: repository.InstrumentOutgoing, Status: "ISSUED", Count: 1, TotalAmount: dec("10")},
		{Type: repository.InstrumentOutgoing, Status: "CLEARED", Count: 1, TotalAmount: dec("20")},
		{Type: repository.InstrumentIncoming, Status: "DUE", Count: 2, TotalAmount: dec("30")},
		{Type: repository.InstrumentIncoming, Status: "RETURNED", Count: 1, TotalAmount: dec("40")},
	}, newTestClock().Now())

	assert.True(t, s.NetOutgoing.Equal(dec("10")))
	assert.True(t, s.NetIncoming.Equal(dec("30")))
}
