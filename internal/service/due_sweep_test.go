package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
)

func TestSweepDue(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()
	_, leaves := mustBook(t, svc, "ACC-SW", 1, 4)

	_, err := svc.Cheques.Issue(ctx, maker, leaves[0].ID, issueReq("A", "10", "2026-03-01"))
	require.NoError(t, err)
	_, err = svc.Cheques.Issue(ctx, maker, leaves[1].ID, issueReq("B", "10", "2026-03-02"))
	require.NoError(t, err)
	_, err = svc.Cheques.RecordPrint(ctx, maker, leaves[1].ID)
	require.NoError(t, err)
	_, err = svc.Cheques.Issue(ctx, maker, leaves[2].ID, issueReq("C", "10", "2026-04-01"))
	require.NoError(t, err)

	due := mustReceive(t, svc, "S-1", "10", "2026-03-02")
	mustReceive(t, svc, "S-2", "10", "2026-05-01")

	result, err := svc.Sweeper.SweepDue(ctx, "scheduler", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, 2, result.LeavesMarked)
	assert.Equal(t, 1, result.IncomingMarked)
	assert.Zero(t, result.Skipped)

	for i, want := range []repository.LeafStatus{repository.LeafDue, repository.LeafDue, repository.LeafIssued, repository.LeafUnused} {
		leaf, err := svc.Cheques.GetLeaf(ctx, leaves[i].ID)
		require.NoError(t, err)
		assert.Equal(t, want, leaf.Status, "leaf %d", i)
	}
	got, err := svc.Incoming.Get(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.IncomingDue, got.Status)

	// A second run finds nothing left to do.
	result, err = svc.Sweeper.SweepDue(ctx, "scheduler", "2026-03-02")
	require.NoError(t, err)
	assert.Zero(t, result.CandidatesFound)
}

func TestSweepDue_SkipsPendingApproval(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()
	_, leaves := mustBook(t, svc, "ACC-SP", 1, 2)

	for _, l := range leaves {
		_, err := svc.Cheques.Issue(ctx, maker, l.ID, issueReq("A", "10", "2026-03-01"))
		require.NoError(t, err)
	}
	_, err := svc.Approvals.Submit(ctx, maker, &SubmitRequest{
		EntityType: repository.EntityChequeLeaf, EntityID: leaves[1].ID, ActionType: repository.ActionPrint,
		Amount: dec("10"),
	})
	require.NoError(t, err)

	result, err := svc.Sweeper.SweepDue(ctx, "scheduler", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, 1, result.LeavesMarked)
	assert.Equal(t, 1, result.Skipped)

	leaf, err := svc.Cheques.GetLeaf(ctx, leaves[1].ID)
	require.NoError(t, err)
	assert.Equal(t, repository.LeafIssued, leaf.Status)
}

func TestSweepDue_Validation(t *testing.T) {
	svc, _ := newTestServices(t)

	_, err := svc.Sweeper.SweepDue(context.Background(), "scheduler", "tomorrow")
	assert.True(t, errors.Is(err, errors.ErrValidation))
	_, err = svc.Sweeper.SweepDue(context.Background(), "", "2026-03-02")
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))
}

func TestClassifySweepError(t *testing.T) {
	skip, fatal := classifySweepError(errors.IllegalTransition("cheque leaf", "DUE", "DUE"))
	assert.True(t, skip)
	assert.False(t, fatal)

	skip, fatal = classifySweepError(errors.New(errors.ErrCodeDuplicatePending, "pending"))
	assert.True(t, skip)
	assert.False(t, fatal)

	skip, fatal = classifySweepError(errors.New(errors.ErrCodeStorageUnavailable, "down"))
	assert.False(t, skip)
	assert.True(t, fatal)
}
