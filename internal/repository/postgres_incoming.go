package repository

import (
	"context"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
)

const incomingColumns = `
	c.id, c.internal_ref, c.customer_id, c.cheque_number,
	c.cheque_date::text, c.received_date::text, c.bank_name, c.branch_name,
	c.amount, c.status::text, c.image_ref, c.remarks, c.invoice_number,
	CASE WHEN EXISTS (
		SELECT 1 FROM approval_requests a
		WHERE a.entity_type = 'INCOMING_CHEQUE' AND a.entity_id = c.id AND a.status = 'PENDING'
	) THEN 'PENDING_APPROVAL' ELSE 'NONE' END,
	c.version, c.created_by, c.created_at, c.updated_at
`

func (q *queries) InsertIncoming(ctx context.Context, c *IncomingCheque) error {
	query := `
		INSERT INTO incoming_cheques
		    (internal_ref, customer_id, cheque_number, cheque_date, received_date,
		     bank_name, branch_name, amount, status, image_ref, remarks,
		     invoice_number, version, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4::date, $5::date,
		        $6, $7, $8, $9::incoming_status, $10, $11,
		        $12, 1, $13, $14, $14)
		RETURNING id, version
	`
	err := q.db.QueryRow(ctx, query,
		c.InternalRef,
		c.CustomerID,
		c.ChequeNumber,
		c.ChequeDate,
		c.ReceivedDate,
		c.BankName,
		c.BranchName,
		c.Amount,
		string(c.Status),
		c.ImageRef,
		c.Remarks,
		c.InvoiceNumber,
		c.CreatedBy,
		c.CreatedAt,
	).Scan(&c.ID, &c.Version)
	if isUniqueViolation(err) {
		return errors.Newf(errors.ErrCodeConflict,
			"cheque %s from %s has already been received", c.ChequeNumber, c.BankName)
	}
	if err != nil {
		return mapPgError(err, "failed to create incoming cheque")
	}
	c.UpdatedAt = c.CreatedAt
	c.WorkflowStatus = WorkflowNone
	return nil
}

func (q *queries) GetIncoming(ctx context.Context, id int64) (*IncomingCheque, error) {
	return q.getIncoming(ctx, id, "")
}

func (q *queries) GetIncomingForUpdate(ctx context.Context, id int64) (*IncomingCheque, error) {
	return q.getIncoming(ctx, id, "FOR UPDATE OF c")
}

func (q *queries) getIncoming(ctx context.Context, id int64, lock string) (*IncomingCheque, error) {
	query := `SELECT ` + incomingColumns + ` FROM incoming_cheques c WHERE c.id = $1 ` + lock

	c, err := scanIncoming(q.db.QueryRow(ctx, query, id))
	if isNoRows(err) {
		return nil, errors.NotFound("incoming_cheque", id)
	}
	if err != nil {
		return nil, mapPgError(err, "failed to get incoming cheque")
	}
	return c, nil
}

func (q *queries) GetIncomingMany(ctx context.Context, ids []int64) ([]*IncomingCheque, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + incomingColumns + ` FROM incoming_cheques c WHERE c.id = ANY($1) ORDER BY c.id`
	return q.listIncoming(ctx, query, ids)
}

func (q *queries) ListIncoming(ctx context.Context, filter IncomingFilter) ([]*IncomingCheque, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query := `
		SELECT ` + incomingColumns + `
		FROM incoming_cheques c
		WHERE ($1 = '' OR c.status::text = $1)
		  AND ($2 = '' OR c.customer_id = $2)
		ORDER BY c.cheque_date, c.id
		LIMIT $3
	`
	return q.listIncoming(ctx, query, string(filter.Status), filter.CustomerID, limit)
}

func (q *queries) UpdateIncoming(ctx context.Context, c *IncomingCheque) error {
	query := `
		UPDATE incoming_cheques
		SET status     = $3::incoming_status,
		    remarks    = $4,
		    version    = version + 1,
		    updated_at = $5
		WHERE id = $1 AND version = $2
		RETURNING version
	`
	err := q.db.QueryRow(ctx, query,
		c.ID,
		c.Version,
		string(c.Status),
		c.Remarks,
		c.UpdatedAt,
	).Scan(&c.Version)
	if isNoRows(err) {
		return errors.Newf(errors.ErrCodeConflict, "incoming cheque %d was modified concurrently", c.ID)
	}
	return mapPgError(err, "failed to update incoming cheque")
}

func (q *queries) ListDueIncomingIDs(ctx context.Context, asOf string) ([]int64, error) {
	query := `
		SELECT id FROM incoming_cheques
		WHERE status = 'PENDING'
		  AND cheque_date <= $1::date
		ORDER BY id
	`
	return q.listIDs(ctx, query, asOf)
}

func (q *queries) listIncoming(ctx context.Context, query string, args ...any) ([]*IncomingCheque, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError(err, "failed to list incoming cheques")
	}
	defer rows.Close()

	var out []*IncomingCheque
	for rows.Next() {
		c, err := scanIncoming(rows)
		if err != nil {
			return nil, mapPgError(err, "failed to scan incoming cheque")
		}
		out = append(out, c)
	}
	return out, mapPgError(rows.Err(), "failed to list incoming cheques")
}

func scanIncoming(row scanner) (*IncomingCheque, error) {
	c := &IncomingCheque{}
	err := row.Scan(
		&c.ID,
		&c.InternalRef,
		&c.CustomerID,
		&c.ChequeNumber,
		&c.ChequeDate,
		&c.ReceivedDate,
		&c.BankName,
		&c.BranchName,
		&c.Amount,
		&c.Status,
		&c.ImageRef,
		&c.Remarks,
		&c.InvoiceNumber,
		&c.WorkflowStatus,
		&c.Version,
		&c.CreatedBy,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}
