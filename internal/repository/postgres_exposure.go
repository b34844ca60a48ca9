package repository

import (
	"context"
)

// ExposureSummary runs as one statement so both halves see the same snapshot
// even outside a REPEATABLE READ transaction.
func (q *queries) ExposureSummary(ctx context.Context) ([]ExposureRow, error) {
	query := `
		SELECT 'OUTGOING' AS kind, l.status::text, COUNT(*), COALESCE(SUM(l.amount), 0)
		FROM cheque_leaves l
		WHERE l.status <> 'UNUSED'
		  AND NOT EXISTS (
		      SELECT 1 FROM approval_requests a
		      WHERE a.entity_type = 'CHEQUE_LEAF' AND a.entity_id = l.id AND a.status = 'PENDING'
		  )
		GROUP BY l.status
		UNION ALL
		SELECT 'INCOMING' AS kind, c.status::text, COUNT(*), COALESCE(SUM(c.amount), 0)
		FROM incoming_cheques c
		WHERE NOT EXISTS (
		      SELECT 1 FROM approval_requests a
		      WHERE a.entity_type = 'INCOMING_CHEQUE' AND a.entity_id = c.id AND a.status = 'PENDING'
		  )
		GROUP BY c.status
		ORDER BY kind, 2
	`
	rows, err := q.db.Query(ctx, query)
	if err != nil {
		return nil, mapPgError(err, "failed to compute exposure summary")
	}
	defer rows.Close()

	var out []ExposureRow
	for rows.Next() {
		var row ExposureRow
		if err := rows.Scan(&row.Type, &row.Status, &row.Count, &row.TotalAmount); err != nil {
			return nil, mapPgError(err, "failed to scan exposure row")
		}
		out = append(out, row)
	}
	return out, mapPgError(rows.Err(), "failed to compute exposure summary")
}

func (q *queries) OutgoingDetails(ctx context.Context, statuses []LeafStatus) ([]*ChequeLeaf, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	query := `SELECT ` + leafColumns + leafFrom + `
		WHERE l.status::text = ANY($1)
		  AND NOT EXISTS (
		      SELECT 1 FROM approval_requests a
		      WHERE a.entity_type = 'CHEQUE_LEAF' AND a.entity_id = l.id AND a.status = 'PENDING'
		  )
		ORDER BY l.cheque_date NULLS LAST, l.id
	`
	return q.listLeaves(ctx, query, names)
}

func (q *queries) IncomingDetails(ctx context.Context, statuses []IncomingStatus) ([]*IncomingCheque, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	query := `SELECT ` + incomingColumns + `
		FROM incoming_cheques c
		WHERE c.status::text = ANY($1)
		  AND NOT EXISTS (
		      SELECT 1 FROM approval_requests a
		      WHERE a.entity_type = 'INCOMING_CHEQUE' AND a.entity_id = c.id AND a.status = 'PENDING'
		  )
		ORDER BY c.cheque_date, c.id
	`
	return q.listIncoming(ctx, query, names)
}
