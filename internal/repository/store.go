package repository

import (
	"context"
	"time"
)

// Store runs units of work against a persistence engine.
//
// InTransaction commits when fn returns nil and rolls back otherwise; nothing
// fn did is observable on failure. Read runs fn without a transaction.
// ReadSnapshot runs fn against one consistent, read-only snapshot.
type Store interface {
	InTransaction(ctx context.Context, fn func(q Queries) error) error
	Read(ctx context.Context, fn func(q Queries) error) error
	ReadSnapshot(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
}

// Queries is the full set of data operations available inside a unit of work.
// The ForUpdate variants take a row lock held until the transaction ends.
type Queries interface {
	BookQueries
	LeafQueries
	IncomingQueries
	ApprovalQueries
	AuditQueries
	ExposureQueries
}

type BookQueries interface {
	// LockAccount serialises book allocation for one account.
	LockAccount(ctx context.Context, accountID string) error
	HasOverlappingBook(ctx context.Context, accountID string, start, end int64) (bool, error)
	InsertBook(ctx context.Context, book *ChequeBook) error
	// InsertLeaves creates one UNUSED leaf per number in [start, end].
	InsertLeaves(ctx context.Context, bookID, start, end int64, at time.Time) (int64, error)
	GetBook(ctx context.Context, id int64) (*ChequeBook, error)
	GetBookForUpdate(ctx context.Context, id int64) (*ChequeBook, error)
	ListBooks(ctx context.Context, accountID string) ([]*ChequeBook, error)
	DeactivateBook(ctx context.Context, id int64) error
}

type LeafQueries interface {
	GetLeaf(ctx context.Context, id int64) (*ChequeLeaf, error)
	GetLeafForUpdate(ctx context.Context, id int64) (*ChequeLeaf, error)
	GetLeaves(ctx context.Context, ids []int64) ([]*ChequeLeaf, error)
	ListLeavesByBook(ctx context.Context, bookID int64) ([]*ChequeLeaf, error)
	// NextUnusedLeaf returns the lowest-numbered UNUSED leaf of the book that
	// has no pending request, without locking it.
	NextUnusedLeaf(ctx context.Context, bookID int64) (*ChequeLeaf, error)
	// NextUnusedLeafForUpdate is NextUnusedLeaf with the row locked, skipping
	// leaves locked by other transactions.
	NextUnusedLeafForUpdate(ctx context.Context, bookID int64) (*ChequeLeaf, error)
	// UpdateLeaf writes the mutable fields when leaf.Version matches the stored
	// version, then bumps leaf.Version.
	UpdateLeaf(ctx context.Context, leaf *ChequeLeaf) error
	// ListDueLeafIDs returns ISSUED or PRINTED leaves dated on or before asOf.
	ListDueLeafIDs(ctx context.Context, asOf string) ([]int64, error)
}

type IncomingQueries interface {
	InsertIncoming(ctx context.Context, c *IncomingCheque) error
	GetIncoming(ctx context.Context, id int64) (*IncomingCheque, error)
	GetIncomingForUpdate(ctx context.Context, id int64) (*IncomingCheque, error)
	GetIncomingMany(ctx context.Context, ids []int64) ([]*IncomingCheque, error)
	ListIncoming(ctx context.Context, filter IncomingFilter) ([]*IncomingCheque, error)
	UpdateIncoming(ctx context.Context, c *IncomingCheque) error
	// ListDueIncomingIDs returns PENDING cheques dated on or before asOf.
	ListDueIncomingIDs(ctx context.Context, asOf string) ([]int64, error)
}

type ApprovalQueries interface {
	InsertApproval(ctx context.Context, req *ApprovalRequest) error
	GetApproval(ctx context.Context, id int64) (*ApprovalRequest, error)
	GetApprovalForUpdate(ctx context.Context, id int64) (*ApprovalRequest, error)
	// DecideApproval moves a PENDING request to status. It fails with
	// AlreadyDecided when the request is no longer PENDING.
	DecideApproval(ctx context.Context, req *ApprovalRequest) error
	ListApprovals(ctx context.Context, filter ApprovalFilter) ([]*ApprovalRequest, error)
	HasPendingApproval(ctx context.Context, entityType EntityType, entityID int64) (bool, error)
}

type AuditQueries interface {
	InsertAudit(ctx context.Context, entry *AuditLogEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]*AuditLogEntry, error)
	// ListAuditAfter returns entries with id > afterID created at or before
	// until, ordered by id.
	ListAuditAfter(ctx context.Context, afterID int64, until time.Time, limit int) ([]*AuditLogEntry, error)
}

type ExposureQueries interface {
	// ExposureSummary groups non-pending instruments by (type, status).
	// UNUSED leaves are not instruments and are left out.
	ExposureSummary(ctx context.Context) ([]ExposureRow, error)
	OutgoingDetails(ctx context.Context, statuses []LeafStatus) ([]*ChequeLeaf, error)
	IncomingDetails(ctx context.Context, statuses []IncomingStatus) ([]*IncomingCheque, error)
}

var (
	_ Store   = (*PostgresStore)(nil)
	_ Store   = (*MemoryStore)(nil)
	_ Queries = (*queries)(nil)
	_ Queries = (*memQueries)(nil)
)
