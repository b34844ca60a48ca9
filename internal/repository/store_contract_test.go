package repository

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
)

// runStoreContract exercises the behaviour both engines must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("book allocation creates every leaf", func(t *testing.T) {
		store := newStore(t)
		book := createBook(t, store, "ACC-1", 1001, 1005)

		var leaves []*ChequeLeaf
		require.NoError(t, store.Read(context.Background(), func(q Queries) error {
			var err error
			leaves, err = q.ListLeavesByBook(context.Background(), book.ID)
			return err
		}))
		require.Len(t, leaves, 5)
		for i, l := range leaves {
			assert.Equal(t, int64(1001+i), l.ChequeNumber)
			assert.Equal(t, LeafUnused, l.Status)
			assert.Equal(t, WorkflowNone, l.WorkflowStatus)
			assert.Equal(t, "ACC-1", l.AccountID)
		}
	})

	t.Run("failed transaction leaves nothing behind", func(t *testing.T) {
		store := newStore(t)
		boom := stderrors.New("boom")
		err := store.InTransaction(context.Background(), func(q Queries) error {
			book := &ChequeBook{AccountID: "ACC-R", StartNumber: 1, EndNumber: 3, IssuedDate: "2026-01-01", CreatedBy: "maker", CreatedAt: time.Now().UTC()}
			if err := q.InsertBook(context.Background(), book); err != nil {
				return err
			}
			if _, err := q.InsertLeaves(context.Background(), book.ID, 1, 3, time.Now().UTC()); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		require.NoError(t, store.Read(context.Background(), func(q Queries) error {
			books, err := q.ListBooks(context.Background(), "ACC-R")
			assert.Empty(t, books)
			return err
		}))
	})

	t.Run("overlapping active range is rejected", func(t *testing.T) {
		store := newStore(t)
		createBook(t, store, "ACC-2", 100, 199)

		err := store.InTransaction(context.Background(), func(q Queries) error {
			return q.InsertBook(context.Background(), &ChequeBook{
				AccountID: "ACC-2", StartNumber: 150, EndNumber: 250,
				IssuedDate: "2026-01-01", CreatedBy: "maker", CreatedAt: time.Now().UTC(),
			})
		})
		assert.True(t, errors.IsCode(err, errors.ErrCodeOverlappingRange), "got %v", err)
	})

	t.Run("stale leaf version conflicts", func(t *testing.T) {
		store := newStore(t)
		book := createBook(t, store, "ACC-3", 1, 1)
		leaf := firstLeaf(t, store, book.ID)

		stale := *leaf
		require.NoError(t, store.InTransaction(context.Background(), func(q Queries) error {
			leaf.Status = LeafVoid
			leaf.UpdatedAt = time.Now().UTC()
			return q.UpdateLeaf(context.Background(), leaf)
		}))
		assert.Equal(t, stale.Version+1, leaf.Version)

		err := store.InTransaction(context.Background(), func(q Queries) error {
			stale.Status = LeafMissing
			return q.UpdateLeaf(context.Background(), &stale)
		})
		assert.True(t, errors.IsCode(err, errors.ErrCodeConflict), "got %v", err)
	})

	t.Run("one pending request per target", func(t *testing.T) {
		store := newStore(t)
		book := createBook(t, store, "ACC-4", 1, 2)
		leaf := firstLeaf(t, store, book.ID)

		first := pendingRequest(EntityChequeLeaf, leaf.ID)
		require.NoError(t, store.InTransaction(context.Background(), func(q Queries) error {
			return q.InsertApproval(context.Background(), first)
		}))

		err := store.InTransaction(context.Background(), func(q Queries) error {
			return q.InsertApproval(context.Background(), pendingRequest(EntityChequeLeaf, leaf.ID))
		})
		assert.True(t, errors.IsCode(err, errors.ErrCodeDuplicatePending), "got %v", err)

		// Requests for targets that do not exist yet are not constrained.
		for range 2 {
			require.NoError(t, store.InTransaction(context.Background(), func(q Queries) error {
				return q.InsertApproval(context.Background(), pendingRequest(EntityIncomingCheque, 0))
			}))
		}

		got := firstLeaf(t, store, book.ID)
		assert.Equal(t, WorkflowPendingApproval, got.WorkflowStatus)
	})

	t.Run("next unused leaf skips pending leaves", func(t *testing.T) {
		store := newStore(t)
		book := createBook(t, store, "ACC-4N", 1, 2)
		leaf := firstLeaf(t, store, book.ID)
		require.NoError(t, store.InTransaction(context.Background(), func(q Queries) error {
			return q.InsertApproval(context.Background(), pendingRequest(EntityChequeLeaf, leaf.ID))
		}))

		var next *ChequeLeaf
		require.NoError(t, store.Read(context.Background(), func(q Queries) error {
			var err error
			next, err = q.NextUnusedLeaf(context.Background(), book.ID)
			return err
		}))
		assert.Equal(t, int64(2), next.ChequeNumber)
		assert.Equal(t, WorkflowNone, next.WorkflowStatus)
	})

	t.Run("decision is recorded once", func(t *testing.T) {
		store := newStore(t)
		req := pendingRequest(EntityIncomingCheque, 0)
		require.NoError(t, store.InTransaction(context.Background(), func(q Queries) error {
			return q.InsertApproval(context.Background(), req)
		}))

		decide := func() error {
			return store.InTransaction(context.Background(), func(q Queries) error {
				now := time.Now().UTC()
				checker := "checker"
				return q.DecideApproval(context.Background(), &ApprovalRequest{
					ID: req.ID, Status: ApprovalRejected, DecidedBy: &checker, DecidedAt: &now,
				})
			})
		}
		require.NoError(t, decide())
		assert.True(t, errors.IsCode(decide(), errors.ErrCodeAlreadyDecided))
	})

	t.Run("duplicate incoming cheque conflicts", func(t *testing.T) {
		store := newStore(t)
		insert := func(ref string) error {
			return store.InTransaction(context.Background(), func(q Queries) error {
				return q.InsertIncoming(context.Background(), &IncomingCheque{
					InternalRef: ref, CustomerID: "CUST-1", ChequeNumber: "000123",
					ChequeDate: "2026-03-01", ReceivedDate: "2026-02-01", BankName: "First Bank",
					Amount: decimal.RequireFromString("250.00"), Status: IncomingPending,
					CreatedBy: "maker", CreatedAt: time.Now().UTC(),
				})
			})
		}
		require.NoError(t, insert("INC-A"))
		assert.True(t, errors.IsCode(insert("INC-B"), errors.ErrCodeConflict))
	})

	t.Run("audit query pages by timestamp then id", func(t *testing.T) {
		store := newStore(t)
		base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		require.NoError(t, store.InTransaction(context.Background(), func(q Queries) error {
			for i, ts := range []time.Time{base, base, base.Add(time.Minute)} {
				err := q.InsertAudit(context.Background(), &AuditLogEntry{
					Timestamp: ts, Username: "maker", Action: "ISSUE",
					EntityType: EntityChequeLeaf, EntityID: int64(i + 1),
					NewValue: []byte(`{"status":"ISSUED"}`),
				})
				if err != nil {
					return err
				}
			}
			return nil
		}))

		var page1, page2 []*AuditLogEntry
		require.NoError(t, store.Read(context.Background(), func(q Queries) error {
			var err error
			page1, err = q.QueryAudit(context.Background(), AuditFilter{Limit: 2})
			if err != nil {
				return err
			}
			last := page1[len(page1)-1]
			page2, err = q.QueryAudit(context.Background(), AuditFilter{
				Limit: 2, AfterTimestamp: &last.Timestamp, AfterID: last.ID,
			})
			return err
		}))
		require.Len(t, page1, 2)
		require.Len(t, page2, 1)
		assert.Equal(t, int64(1), page1[0].EntityID)
		assert.Equal(t, int64(2), page1[1].EntityID)
		assert.Equal(t, int64(3), page2[0].EntityID)
		assert.JSONEq(t, `{"status":"ISSUED"}`, string(page2[0].NewValue))
		assert.Nil(t, page2[0].OldValue)
	})

	t.Run("exposure ignores unused and pending leaves", func(t *testing.T) {
		store := newStore(t)
		book := createBook(t, store, "ACC-5", 1, 3)

		var leaves []*ChequeLeaf
		require.NoError(t, store.Read(context.Background(), func(q Queries) error {
			var err error
			leaves, err = q.ListLeavesByBook(context.Background(), book.ID)
			return err
		}))

		require.NoError(t, store.InTransaction(context.Background(), func(q Queries) error {
			for _, l := range leaves[:2] {
				date := "2026-03-01"
				l.Status = LeafIssued
				l.Amount = decimal.NewNullDecimal(decimal.RequireFromString("100.00"))
				l.ChequeDate = &date
				l.UpdatedAt = time.Now().UTC()
				if err := q.UpdateLeaf(context.Background(), l); err != nil {
					return err
				}
			}
			return q.InsertApproval(context.Background(), pendingRequest(EntityChequeLeaf, leaves[1].ID))
		}))

		var rows []ExposureRow
		var details []*ChequeLeaf
		require.NoError(t, store.ReadSnapshot(context.Background(), func(q Queries) error {
			var err error
			if rows, err = q.ExposureSummary(context.Background()); err != nil {
				return err
			}
			details, err = q.OutgoingDetails(context.Background(), []LeafStatus{LeafIssued})
			return err
		}))

		require.Len(t, rows, 1)
		assert.Equal(t, InstrumentOutgoing, rows[0].Type)
		assert.Equal(t, string(LeafIssued), rows[0].Status)
		assert.Equal(t, int64(1), rows[0].Count)
		assert.True(t, decimal.RequireFromString("100").Equal(rows[0].TotalAmount))
		require.Len(t, details, 1)
		assert.Equal(t, leaves[0].ID, details[0].ID)
	})
}

func createBook(t *testing.T, store Store, account string, start, end int64) *ChequeBook {
	t.Helper()
	book := &ChequeBook{
		AccountID: account, StartNumber: start, EndNumber: end,
		IssuedDate: "2026-01-15", CreatedBy: "maker", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.InTransaction(context.Background(), func(q Queries) error {
		if err := q.LockAccount(context.Background(), account); err != nil {
			return err
		}
		if err := q.InsertBook(context.Background(), book); err != nil {
			return err
		}
		n, err := q.InsertLeaves(context.Background(), book.ID, start, end, book.CreatedAt)
		if err != nil {
			return err
		}
		require.Equal(t, end-start+1, n)
		return nil
	}))
	return book
}

func firstLeaf(t *testing.T, store Store, bookID int64) *ChequeLeaf {
	t.Helper()
	var leaf *ChequeLeaf
	require.NoError(t, store.Read(context.Background(), func(q Queries) error {
		leaves, err := q.ListLeavesByBook(context.Background(), bookID)
		if err != nil {
			return err
		}
		leaf = leaves[0]
		return nil
	}))
	return leaf
}

func pendingRequest(entityType EntityType, entityID int64) *ApprovalRequest {
	return &ApprovalRequest{
		EntityType:  entityType,
		EntityID:    entityID,
		ActionType:  ActionIssue,
		Payload:     []byte(`{"amount":"10.00"}`),
		Amount:      decimal.RequireFromString("10.00"),
		RequestedBy: "maker",
		RequestedAt: time.Now().UTC(),
	}
}
