package repository

import (
	"context"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
)

const leafColumns = `
	l.id, l.book_id, b.account_id, l.cheque_number, l.status::text,
	l.payee_name, l.vendor_id, l.amount, l.cheque_date::text, l.remarks,
	CASE WHEN EXISTS (
		SELECT 1 FROM approval_requests a
		WHERE a.entity_type = 'CHEQUE_LEAF' AND a.entity_id = l.id AND a.status = 'PENDING'
	) THEN 'PENDING_APPROVAL' ELSE 'NONE' END,
	l.version, l.updated_at
`

const leafFrom = ` FROM cheque_leaves l JOIN cheque_books b ON b.id = l.book_id `

func (q *queries) GetLeaf(ctx context.Context, id int64) (*ChequeLeaf, error) {
	return q.getLeaf(ctx, id, "")
}

func (q *queries) GetLeafForUpdate(ctx context.Context, id int64) (*ChequeLeaf, error) {
	return q.getLeaf(ctx, id, "FOR UPDATE OF l")
}

func (q *queries) getLeaf(ctx context.Context, id int64, lock string) (*ChequeLeaf, error) {
	query := `SELECT ` + leafColumns + leafFrom + `WHERE l.id = $1 ` + lock

	leaf, err := scanLeaf(q.db.QueryRow(ctx, query, id))
	if isNoRows(err) {
		return nil, errors.NotFound("cheque_leaf", id)
	}
	if err != nil {
		return nil, mapPgError(err, "failed to get cheque leaf")
	}
	return leaf, nil
}

func (q *queries) GetLeaves(ctx context.Context, ids []int64) ([]*ChequeLeaf, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + leafColumns + leafFrom + `WHERE l.id = ANY($1) ORDER BY l.id`
	return q.listLeaves(ctx, query, ids)
}

func (q *queries) ListLeavesByBook(ctx context.Context, bookID int64) ([]*ChequeLeaf, error) {
	query := `SELECT ` + leafColumns + leafFrom + `WHERE l.book_id = $1 ORDER BY l.cheque_number`
	return q.listLeaves(ctx, query, bookID)
}

func (q *queries) NextUnusedLeaf(ctx context.Context, bookID int64) (*ChequeLeaf, error) {
	return q.nextUnusedLeaf(ctx, bookID, "")
}

func (q *queries) NextUnusedLeafForUpdate(ctx context.Context, bookID int64) (*ChequeLeaf, error) {
	return q.nextUnusedLeaf(ctx, bookID, "FOR UPDATE OF l SKIP LOCKED")
}

func (q *queries) nextUnusedLeaf(ctx context.Context, bookID int64, lock string) (*ChequeLeaf, error) {
	query := `SELECT ` + leafColumns + leafFrom + `
		WHERE l.book_id = $1
		  AND l.status = 'UNUSED'
		  AND NOT EXISTS (
		      SELECT 1 FROM approval_requests a
		      WHERE a.entity_type = 'CHEQUE_LEAF' AND a.entity_id = l.id AND a.status = 'PENDING'
		  )
		ORDER BY l.cheque_number
		LIMIT 1 ` + lock
	leaf, err := scanLeaf(q.db.QueryRow(ctx, query, bookID))
	if isNoRows(err) {
		return nil, errors.Newf(errors.ErrCodeConflict, "cheque book %d has no unused leaves", bookID)
	}
	if err != nil {
		return nil, mapPgError(err, "failed to pick next leaf")
	}
	return leaf, nil
}

func (q *queries) UpdateLeaf(ctx context.Context, leaf *ChequeLeaf) error {
	query := `
		UPDATE cheque_leaves
		SET status      = $3::leaf_status,
		    payee_name  = $4,
		    vendor_id   = $5,
		    amount      = $6,
		    cheque_date = $7::date,
		    remarks     = $8,
		    version     = version + 1,
		    updated_at  = $9
		WHERE id = $1 AND version = $2
		RETURNING version
	`
	err := q.db.QueryRow(ctx, query,
		leaf.ID,
		leaf.Version,
		string(leaf.Status),
		leaf.PayeeName,
		leaf.VendorID,
		leaf.Amount,
		leaf.ChequeDate,
		leaf.Remarks,
		leaf.UpdatedAt,
	).Scan(&leaf.Version)
	if isNoRows(err) {
		return errors.Newf(errors.ErrCodeConflict, "cheque leaf %d was modified concurrently", leaf.ID)
	}
	return mapPgError(err, "failed to update cheque leaf")
}

func (q *queries) ListDueLeafIDs(ctx context.Context, asOf string) ([]int64, error) {
	query := `
		SELECT id FROM cheque_leaves
		WHERE status IN ('ISSUED', 'PRINTED')
		  AND cheque_date <= $1::date
		ORDER BY id
	`
	return q.listIDs(ctx, query, asOf)
}

func (q *queries) listLeaves(ctx context.Context, query string, args ...any) ([]*ChequeLeaf, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError(err, "failed to list cheque leaves")
	}
	defer rows.Close()

	var leaves []*ChequeLeaf
	for rows.Next() {
		leaf, err := scanLeaf(rows)
		if err != nil {
			return nil, mapPgError(err, "failed to scan cheque leaf")
		}
		leaves = append(leaves, leaf)
	}
	return leaves, mapPgError(rows.Err(), "failed to list cheque leaves")
}

func (q *queries) listIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError(err, "failed to list ids")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, mapPgError(err, "failed to scan id")
		}
		ids = append(ids, id)
	}
	return ids, mapPgError(rows.Err(), "failed to list ids")
}

func scanLeaf(row scanner) (*ChequeLeaf, error) {
	leaf := &ChequeLeaf{}
	err := row.Scan(
		&leaf.ID,
		&leaf.BookID,
		&leaf.AccountID,
		&leaf.ChequeNumber,
		&leaf.Status,
		&leaf.PayeeName,
		&leaf.VendorID,
		&leaf.Amount,
		&leaf.ChequeDate,
		&leaf.Remarks,
		&leaf.WorkflowStatus,
		&leaf.Version,
		&leaf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return leaf, nil
}
