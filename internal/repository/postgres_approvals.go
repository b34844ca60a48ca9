package repository

import (
	"context"
	"encoding/json"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
)

const approvalColumns = `
	id, entity_type, entity_id, action_type, payload, amount,
	requested_by, requested_at, status::text,
	decided_by, decided_at, decision_note
`

func (q *queries) InsertApproval(ctx context.Context, req *ApprovalRequest) error {
	query := `
		INSERT INTO approval_requests
		    (entity_type, entity_id, action_type, payload, amount,
		     requested_by, requested_at, status)
		VALUES ($1, $2, $3, $4::jsonb, $5,
		        $6, $7, 'PENDING'::approval_status)
		RETURNING id
	`
	err := q.db.QueryRow(ctx, query,
		string(req.EntityType),
		req.EntityID,
		string(req.ActionType),
		string(req.Payload),
		req.Amount,
		req.RequestedBy,
		req.RequestedAt,
	).Scan(&req.ID)
	if isUniqueViolation(err) {
		return errors.Newf(errors.ErrCodeDuplicatePending,
			"%s %d already has a pending approval request", req.EntityType, req.EntityID)
	}
	if err != nil {
		return mapPgError(err, "failed to create approval request")
	}
	req.Status = ApprovalPending
	return nil
}

func (q *queries) GetApproval(ctx context.Context, id int64) (*ApprovalRequest, error) {
	return q.getApproval(ctx, id, "")
}

func (q *queries) GetApprovalForUpdate(ctx context.Context, id int64) (*ApprovalRequest, error) {
	return q.getApproval(ctx, id, "FOR UPDATE")
}

func (q *queries) getApproval(ctx context.Context, id int64, lock string) (*ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE id = $1 ` + lock

	req, err := scanApproval(q.db.QueryRow(ctx, query, id))
	if isNoRows(err) {
		return nil, errors.NotFound("approval_request", id)
	}
	if err != nil {
		return nil, mapPgError(err, "failed to get approval request")
	}
	return req, nil
}

func (q *queries) DecideApproval(ctx context.Context, req *ApprovalRequest) error {
	// The status guard makes the loser of two concurrent decisions see zero rows.
	query := `
		UPDATE approval_requests
		SET status        = $2::approval_status,
		    decided_by    = $3,
		    decided_at    = $4,
		    decision_note = $5
		WHERE id = $1 AND status = 'PENDING'
	`
	tag, err := q.db.Exec(ctx, query,
		req.ID,
		string(req.Status),
		req.DecidedBy,
		req.DecidedAt,
		req.DecisionNote,
	)
	if err != nil {
		return mapPgError(err, "failed to record approval decision")
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.ErrCodeAlreadyDecided, "approval request %d is no longer pending", req.ID)
	}
	return nil
}

func (q *queries) ListApprovals(ctx context.Context, filter ApprovalFilter) ([]*ApprovalRequest, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query := `
		SELECT ` + approvalColumns + `
		FROM approval_requests
		WHERE ($1 = '' OR status::text = $1)
		  AND ($2 = '' OR entity_type = $2)
		  AND ($3 = '' OR requested_by = $3)
		ORDER BY requested_at, id
		LIMIT $4
	`
	rows, err := q.db.Query(ctx, query,
		string(filter.Status), string(filter.EntityType), filter.RequestedBy, limit)
	if err != nil {
		return nil, mapPgError(err, "failed to list approval requests")
	}
	defer rows.Close()

	var out []*ApprovalRequest
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, mapPgError(err, "failed to scan approval request")
		}
		out = append(out, req)
	}
	return out, mapPgError(rows.Err(), "failed to list approval requests")
}

func (q *queries) HasPendingApproval(ctx context.Context, entityType EntityType, entityID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM approval_requests
			WHERE entity_type = $1 AND entity_id = $2 AND status = 'PENDING'
		)
	`
	var exists bool
	if err := q.db.QueryRow(ctx, query, string(entityType), entityID).Scan(&exists); err != nil {
		return false, mapPgError(err, "failed to check pending approvals")
	}
	return exists, nil
}

func scanApproval(row scanner) (*ApprovalRequest, error) {
	req := &ApprovalRequest{}
	var payload []byte
	err := row.Scan(
		&req.ID,
		&req.EntityType,
		&req.EntityID,
		&req.ActionType,
		&payload,
		&req.Amount,
		&req.RequestedBy,
		&req.RequestedAt,
		&req.Status,
		&req.DecidedBy,
		&req.DecidedAt,
		&req.DecisionNote,
	)
	if err != nil {
		return nil, err
	}
	req.Payload = json.RawMessage(payload)
	return req, nil
}
