package service

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
)

func TestLeafTransitionTable(t *testing.T) {
	for _, s := range []repository.LeafStatus{
		repository.LeafCleared, repository.LeafBounced, repository.LeafCancelled,
		repository.LeafSettled, repository.LeafVoid, repository.LeafMissing,
	} {
		assert.True(t, IsTerminalLeaf(s), s)
	}
	assert.True(t, CanTransitionLeaf(repository.LeafIssued, repository.LeafDue))
	assert.False(t, CanTransitionLeaf(repository.LeafPrinted, repository.LeafIssued))
	assert.False(t, CanTransitionLeaf(repository.LeafUnused, repository.LeafDue))
}

func TestIssue_Validation(t *testing.T) {
	svc, _ := newTestServices(t)
	_, leaves := mustBook(t, svc, "ACC-V", 1, 1)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *IssueRequest
	}{
		{"no payee or vendor", &IssueRequest{Amount: dec("1"), ChequeDate: "2026-03-01"}},
		{"payee and vendor", &IssueRequest{PayeeName: ptr("A"), VendorID: ptr("V-1"), Amount: dec("1"), ChequeDate: "2026-03-01"}},
		{"zero amount", issueReq("Acme", "0", "2026-03-01")},
		{"three decimals", issueReq("Acme", "1.005", "2026-03-01")},
		{"impossible date", issueReq("Acme", "1", "2026-13-01")},
		{"blank payee", issueReq("  ", "1", "2026-03-01")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Cheques.Issue(ctx, maker, leaves[0].ID, tt.req)
			assert.True(t, errors.Is(err, errors.ErrValidation), "got %v", err)
		})
	}

	leaf, err := svc.Cheques.GetLeaf(ctx, leaves[0].ID)
	require.NoError(t, err)
	assert.Equal(t, repository.LeafUnused, leaf.Status)
}

func TestLeafLifecycle_HappyPaths(t *testing.T) {
	ctx := context.Background()

	resolutions := map[string]func(*ChequeService, int64) (*repository.ChequeLeaf, error){
		"CLEARED": func(s *ChequeService, id int64) (*repository.ChequeLeaf, error) {
			return s.Clear(ctx, maker, id, "cleared on statement")
		},
		"BOUNCED": func(s *ChequeService, id int64) (*repository.ChequeLeaf, error) {
			return s.Bounce(ctx, maker, id, "insufficient funds")
		},
		"CANCELLED": func(s *ChequeService, id int64) (*repository.ChequeLeaf, error) {
			return s.Cancel(ctx, maker, id, "stopped")
		},
		"SETTLED": func(s *ChequeService, id int64) (*repository.ChequeLeaf, error) {
			return s.Settle(ctx, maker, id, "paid by transfer")
		},
	}

	for want, resolve := range resolutions {
		t.Run(want, func(t *testing.T) {
			svc, _ := newTestServices(t)
			_, leaves := mustBook(t, svc, "ACC-H", 1, 1)
			id := leaves[0].ID

			leaf, err := svc.Cheques.Issue(ctx, maker, id, issueReq("Acme Corp", "500.00", "2026-03-01"))
			require.NoError(t, err)
			assert.Equal(t, repository.LeafIssued, leaf.Status)
			assert.Equal(t, "Acme Corp", *leaf.PayeeName)
			assert.True(t, leaf.Amount.Decimal.Equal(dec("500")))

			_, err = svc.Cheques.RecordPrint(ctx, maker, id)
			require.NoError(t, err)

			_, err = svc.Cheques.MarkDue(ctx, maker, id, "2026-02-28")
			assert.True(t, errors.Is(err, errors.ErrIllegalTransition), "not yet due")

			_, err = svc.Cheques.MarkDue(ctx, maker, id, "2026-03-01")
			require.NoError(t, err)

			leaf, err = resolve(svc.Cheques, id)
			require.NoError(t, err)
			assert.Equal(t, repository.LeafStatus(want), leaf.Status)
			assert.True(t, IsTerminalLeaf(leaf.Status))

			entries := auditFor(t, svc, repository.EntityChequeLeaf, id)
			require.Len(t, entries, 4)
			assert.Equal(t, "ISSUE", entries[0].Action)
			assert.Equal(t, "PRINT", entries[1].Action)
			assert.Equal(t, auditMarkDue, entries[2].Action)
		})
	}
}

func TestIssue_AuditCarriesChangedFields(t *testing.T) {
	svc, _ := newTestServices(t)
	_, leaves := mustBook(t, svc, "ACC-AF", 1, 1)
	ctx := context.Background()

	_, err := svc.Cheques.Issue(ctx, maker, leaves[0].ID, &IssueRequest{
		VendorID: ptr("V-77"), Amount: dec("42.50"), ChequeDate: "2026-04-01",
	})
	require.NoError(t, err)

	entries := auditFor(t, svc, repository.EntityChequeLeaf, leaves[0].ID)
	require.Len(t, entries, 1)

	var oldValue, newValue map[string]any
	require.NoError(t, json.Unmarshal(entries[0].OldValue, &oldValue))
	require.NoError(t, json.Unmarshal(entries[0].NewValue, &newValue))
	assert.Equal(t, "UNUSED", oldValue["status"])
	assert.Equal(t, "ISSUED", newValue["status"])
	assert.Equal(t, "V-77", newValue["vendorId"])
	assert.Equal(t, "2026-04-01", newValue["chequeDate"])
	assert.Equal(t, "42.5", newValue["amount"])
	assert.NotContains(t, newValue, "payeeName")
}

func TestVoidAndMissing_OnlyFromUnused(t *testing.T) {
	svc, _ := newTestServices(t)
	_, leaves := mustBook(t, svc, "ACC-VM", 1, 3)
	ctx := context.Background()

	_, err := svc.Cheques.Void(ctx, maker, leaves[0].ID, "")
	assert.True(t, errors.Is(err, errors.ErrValidation), "remarks are required")

	leaf, err := svc.Cheques.Void(ctx, maker, leaves[0].ID, "printing error")
	require.NoError(t, err)
	assert.Equal(t, repository.LeafVoid, leaf.Status)
	assert.Equal(t, "printing error", *leaf.Remarks)

	leaf, err = svc.Cheques.MarkMissing(ctx, maker, leaves[1].ID, "lost in transit")
	require.NoError(t, err)
	assert.Equal(t, repository.LeafMissing, leaf.Status)

	_, err = svc.Cheques.Issue(ctx, maker, leaves[2].ID, issueReq("Acme", "1", "2026-03-01"))
	require.NoError(t, err)
	_, err = svc.Cheques.Void(ctx, maker, leaves[2].ID, "too late")
	assert.True(t, errors.Is(err, errors.ErrIllegalTransition))
}

func TestIssueNext_PicksLowestFreeLeaf(t *testing.T) {
	svc, _ := newTestServices(t)
	book, leaves := mustBook(t, svc, "ACC-N", 10, 13)
	ctx := context.Background()

	_, err := svc.Cheques.Void(ctx, maker, leaves[0].ID, "spoiled")
	require.NoError(t, err)

	leaf, err := svc.Cheques.IssueNext(ctx, maker, book.ID, issueReq("Acme", "5", "2026-03-01"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), leaf.ChequeNumber)

	leaf, err = svc.Cheques.IssueNext(ctx, maker, book.ID, issueReq("Acme", "5", "2026-03-01"))
	require.NoError(t, err)
	assert.Equal(t, int64(12), leaf.ChequeNumber)
}

func TestNextFreeLeaf(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()
	book, leaves := mustBook(t, svc, "ACC-NF", 30, 32)

	submitIssue(t, svc, leaves[0].ID, "20")
	_, err := svc.Cheques.Issue(ctx, maker, leaves[1].ID, issueReq("Acme", "5", "2026-03-01"))
	require.NoError(t, err)

	next, err := svc.Cheques.NextFreeLeaf(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(32), next.ChequeNumber)

	submitIssue(t, svc, leaves[2].ID, "20")
	_, err = svc.Cheques.NextFreeLeaf(ctx, book.ID)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict), "got %v", err)

	_, err = svc.Books.DeactivateChequeBook(ctx, maker, book.ID)
	require.NoError(t, err)
	_, err = svc.Cheques.NextFreeLeaf(ctx, book.ID)
	assert.True(t, errors.Is(err, errors.ErrValidation), "got %v", err)

	_, err = svc.Cheques.NextFreeLeaf(ctx, 9999)
	assert.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)
}

func TestGetLeaves_SkipsUnknownIDs(t *testing.T) {
	svc, _ := newTestServices(t)
	_, leaves := mustBook(t, svc, "ACC-G", 1, 3)

	got, err := svc.Cheques.GetLeaves(context.Background(), []int64{leaves[2].ID, 9999, leaves[0].ID})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

// TestLeafRandomWalk drives leaves with random operations and checks that the
// observed status sequence is always a path through the state machine that
// never revisits a status it left.
func TestLeafRandomWalk(t *testing.T) {
	svc, _ := newTestServices(t)
	_, leaves := mustBook(t, svc, "ACC-RW", 1, 40)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))

	ops := []func(id int64) (*repository.ChequeLeaf, error){
		func(id int64) (*repository.ChequeLeaf, error) {
			return svc.Cheques.Issue(ctx, maker, id, issueReq("Acme", "10", "2026-03-01"))
		},
		func(id int64) (*repository.ChequeLeaf, error) { return svc.Cheques.RecordPrint(ctx, maker, id) },
		func(id int64) (*repository.ChequeLeaf, error) { return svc.Cheques.MarkDue(ctx, maker, id, "2026-03-31") },
		func(id int64) (*repository.ChequeLeaf, error) { return svc.Cheques.Clear(ctx, maker, id, "ok") },
		func(id int64) (*repository.ChequeLeaf, error) { return svc.Cheques.Bounce(ctx, maker, id, "nsf") },
		func(id int64) (*repository.ChequeLeaf, error) { return svc.Cheques.Cancel(ctx, maker, id, "stop") },
		func(id int64) (*repository.ChequeLeaf, error) { return svc.Cheques.Settle(ctx, maker, id, "cash") },
		func(id int64) (*repository.ChequeLeaf, error) { return svc.Cheques.Void(ctx, maker, id, "spoilt") },
		func(id int64) (*repository.ChequeLeaf, error) { return svc.Cheques.MarkMissing(ctx, maker, id, "lost") },
	}

	for _, l := range leaves {
		path := []repository.LeafStatus{repository.LeafUnused}
		for range 12 {
			before := path[len(path)-1]
			got, err := ops[rng.IntN(len(ops))](l.ID)
			if err != nil {
				require.True(t, errors.Is(err, errors.ErrIllegalTransition), "unexpected error %v", err)
				continue
			}
			require.True(t, CanTransitionLeaf(before, got.Status), "%s -> %s", before, got.Status)
			require.NotContains(t, path, got.Status, "status revisited")
			path = append(path, got.Status)
		}

		history := auditFor(t, svc, repository.EntityChequeLeaf, l.ID)
		assert.Len(t, history, len(path)-1)
	}
}
