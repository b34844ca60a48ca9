package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
)

func outgoingIssued(t *testing.T, svc *Services) repository.ExposureRow {
	t.Helper()
	summary, err := svc.Exposure.Summary(context.Background())
	require.NoError(t, err)
	for _, r := range summary.Rows {
		if r.Type == repository.InstrumentOutgoing && r.Status == string(repository.LeafIssued) {
			return r
		}
	}
	return repository.ExposureRow{}
}

func TestChequeBookScenario(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()

	// Book 1001-1005 on account A.
	book, leaves := mustBook(t, svc, "A", 1001, 1005)
	require.Len(t, leaves, 5)
	assert.Equal(t, int64(5), book.TotalLeaves())
	for _, l := range leaves {
		assert.Equal(t, repository.LeafUnused, l.Status)
	}
	leaf1001, leaf1002, leaf1003 := leaves[0], leaves[1], leaves[2]

	// Direct issue, no gate.
	issued, err := svc.Cheques.Issue(ctx, maker, leaf1001.ID, issueReq("Acme Corp", "500.00", "2026-03-01"))
	require.NoError(t, err)
	assert.Equal(t, repository.LeafIssued, issued.Status)
	require.Len(t, auditFor(t, svc, repository.EntityChequeLeaf, leaf1001.ID), 1)

	row := outgoingIssued(t, svc)
	assert.Equal(t, int64(1), row.Count)
	assert.True(t, row.TotalAmount.Equal(dec("500")))

	// Staged issue of 10,000.00 stays out of exposure.
	req := submitIssue(t, svc, leaf1002.ID, "10000.00")
	assert.Equal(t, repository.ApprovalPending, req.Status)
	pendingLeaf, err := svc.Cheques.GetLeaf(ctx, leaf1002.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.LeafUnused, pendingLeaf.Status)
	row = outgoingIssued(t, svc)
	assert.True(t, row.TotalAmount.Equal(dec("500")), row.TotalAmount.String())

	// A different actor approves.
	out, err := svc.Approvals.Approve(ctx, checker, req.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.ApprovalApproved, out.Request.Status)
	assert.Equal(t, repository.LeafIssued, out.Leaf.Status)
	assert.Equal(t, "Globex", *out.Leaf.PayeeName)
	assert.True(t, out.Leaf.Amount.Decimal.Equal(dec("10000")))

	row = outgoingIssued(t, svc)
	assert.Equal(t, int64(2), row.Count)
	assert.True(t, row.TotalAmount.Equal(dec("10500")), row.TotalAmount.String())

	_, err = svc.Approvals.Approve(ctx, checker, req.ID)
	assert.True(t, errors.Is(err, errors.ErrAlreadyDecided))

	// Void 1003, then it can never be issued.
	voided, err := svc.Cheques.Void(ctx, maker, leaf1003.ID, "printing error")
	require.NoError(t, err)
	assert.Equal(t, repository.LeafVoid, voided.Status)

	_, err = svc.Cheques.Issue(ctx, maker, leaf1003.ID, issueReq("Acme Corp", "1.00", "2026-03-01"))
	assert.True(t, errors.Is(err, errors.ErrIllegalTransition))
}
