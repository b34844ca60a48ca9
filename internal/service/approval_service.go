package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
)

// ApprovalService is the maker-checker gate. A submission stages an action
// against a target; a different actor approves it, which applies the action,
// or rejects it, which leaves the target untouched.
type ApprovalService struct {
	base
	targets map[repository.EntityType]ApprovalTarget
}

// NewApprovalService creates the gate over the given targets.
func NewApprovalService(b base, targets ...ApprovalTarget) *ApprovalService {
	s := &ApprovalService{base: b, targets: make(map[repository.EntityType]ApprovalTarget, len(targets))}
	for _, t := range targets {
		s.targets[t.EntityType()] = t
	}
	return s
}

// SubmitRequest represents a submit approval request
type SubmitRequest struct {
	EntityType repository.EntityType `json:"entityType"`
	EntityID   int64                 `json:"entityId"`
	ActionType repository.ActionType `json:"actionType"`
	Payload    json.RawMessage       `json:"payload,omitempty"`
	Amount     decimal.Decimal       `json:"amount"`
}

// ApprovalOutcome is the decided request plus whatever it changed.
type ApprovalOutcome struct {
	Request        *repository.ApprovalRequest `json:"request"`
	Leaf           *repository.ChequeLeaf      `json:"leaf,omitempty"`
	IncomingCheque *repository.IncomingCheque  `json:"incomingCheque,omitempty"`
}

func (s *ApprovalService) target(entityType repository.EntityType) (ApprovalTarget, error) {
	t, ok := s.targets[entityType]
	if !ok {
		return nil, errors.InvalidInput("entityType", "approval is not supported for "+string(entityType))
	}
	return t, nil
}

// Submit stages an action. The request is always created PENDING; whether an
// action needs approval at all is decided by the caller.
func (s *ApprovalService) Submit(ctx context.Context, actor string, req *SubmitRequest) (*repository.ApprovalRequest, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	target, err := s.target(req.EntityType)
	if err != nil {
		return nil, err
	}
	switch {
	case req.EntityID < 0:
		return nil, errors.InvalidInput("entityId", "must not be negative")
	case req.Amount.IsNegative():
		return nil, errors.InvalidInput("amount", "must not be negative")
	case !req.Amount.Equal(req.Amount.Round(2)):
		return nil, errors.InvalidInput("amount", "at most two decimal places")
	}

	approval := &repository.ApprovalRequest{
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		ActionType:  req.ActionType,
		Amount:      req.Amount,
		RequestedBy: strings.TrimSpace(actor),
		RequestedAt: s.now(),
	}

	err = s.store.InTransaction(ctx, func(q repository.Queries) error {
		if approval.EntityID != 0 {
			pending, err := q.HasPendingApproval(ctx, approval.EntityType, approval.EntityID)
			if err != nil {
				return err
			}
			if pending {
				return errors.Newf(errors.ErrCodeDuplicatePending,
					"%s %d already has a pending approval request", approval.EntityType, approval.EntityID)
			}
		}

		payload, err := target.Prepare(ctx, q, approval.EntityID, approval.ActionType, req.Payload, approval.Amount)
		if err != nil {
			return err
		}
		approval.Payload = payload

		if err := q.InsertApproval(ctx, approval); err != nil {
			return err
		}
		return s.audit.Record(ctx, q, actor, auditSubmit, repository.EntityApprovalRequest, approval.ID, nil, approval)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Submitted(string(approval.EntityType), string(approval.ActionType))
	s.log.Info().
		Int64("request_id", approval.ID).
		Str("entity_type", string(approval.EntityType)).
		Int64("entity_id", approval.EntityID).
		Str("action", string(approval.ActionType)).
		Str("actor", actor).
		Msg("Approval request submitted")

	return approval, nil
}

// Approve applies the staged action and marks the request APPROVED in one
// transaction. If the action fails nothing changes and the request stays
// PENDING.
func (s *ApprovalService) Approve(ctx context.Context, actor string, requestID int64) (*ApprovalOutcome, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var (
		outcome *ApprovalOutcome
		effect  *ApprovalEffect
	)
	err := s.store.InTransaction(ctx, func(q repository.Queries) error {
		req, err := s.lockPending(ctx, q, actor, requestID)
		if err != nil {
			return err
		}
		target, err := s.target(req.EntityType)
		if err != nil {
			return err
		}

		// Decide first: the target's derived workflow status must read NONE
		// by the time the action runs.
		decide(req, repository.ApprovalApproved, actor, s.now(), nil)
		if err := q.DecideApproval(ctx, req); err != nil {
			return err
		}

		effect, err = target.Apply(ctx, q, req, actor)
		if err != nil {
			return err
		}

		newValue := map[string]any{"status": req.Status, "decidedBy": req.DecidedBy}
		if req.ActionType == repository.ActionReceive && effect.IncomingCheque != nil {
			newValue["incomingChequeId"] = effect.IncomingCheque.ID
		}
		if err := s.audit.Record(ctx, q, actor, auditApprove, repository.EntityApprovalRequest, req.ID,
			map[string]any{"status": repository.ApprovalPending}, newValue); err != nil {
			return err
		}

		outcome = &ApprovalOutcome{Request: req, Leaf: effect.Leaf, IncomingCheque: effect.IncomingCheque}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.observe(effect.tr)
	s.metrics.Decided(string(repository.ApprovalApproved))
	s.log.Info().
		Int64("request_id", requestID).
		Str("action", string(outcome.Request.ActionType)).
		Str("requested_by", outcome.Request.RequestedBy).
		Str("actor", actor).
		Msg("Approval request approved")

	return outcome, nil
}

// Reject closes the request without touching its target.
func (s *ApprovalService) Reject(ctx context.Context, actor string, requestID int64, reason string) (*repository.ApprovalRequest, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	note, err := requireText("reason", &reason)
	if err != nil {
		return nil, err
	}

	var req *repository.ApprovalRequest
	err = s.store.InTransaction(ctx, func(q repository.Queries) error {
		var err error
		req, err = s.lockPending(ctx, q, actor, requestID)
		if err != nil {
			return err
		}
		decide(req, repository.ApprovalRejected, actor, s.now(), note)
		if err := q.DecideApproval(ctx, req); err != nil {
			return err
		}
		return s.audit.Record(ctx, q, actor, auditReject, repository.EntityApprovalRequest, req.ID,
			map[string]any{"status": repository.ApprovalPending},
			map[string]any{"status": req.Status, "decidedBy": req.DecidedBy, "reason": note})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Decided(string(repository.ApprovalRejected))
	s.log.Info().
		Int64("request_id", requestID).
		Str("requested_by", req.RequestedBy).
		Str("actor", actor).
		Msg("Approval request rejected")

	return req, nil
}

// lockPending loads the request for a decision and applies the guards in
// order: missing, already decided, then self-approval.
func (s *ApprovalService) lockPending(ctx context.Context, q repository.Queries, actor string, id int64) (*repository.ApprovalRequest, error) {
	req, err := q.GetApprovalForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != repository.ApprovalPending {
		return nil, errors.Newf(errors.ErrCodeAlreadyDecided, "approval request %d is already %s", id, req.Status)
	}
	if strings.EqualFold(strings.TrimSpace(req.RequestedBy), strings.TrimSpace(actor)) {
		return nil, errors.Newf(errors.ErrCodeSelfApproval, "approval request %d cannot be decided by its requester", id)
	}
	return req, nil
}

func decide(req *repository.ApprovalRequest, status repository.ApprovalStatus, actor string, at time.Time, note *string) {
	req.Status = status
	req.DecidedBy = ptr(strings.TrimSpace(actor))
	req.DecidedAt = ptr(at)
	req.DecisionNote = note
}

// Get returns one approval request.
func (s *ApprovalService) Get(ctx context.Context, id int64) (*repository.ApprovalRequest, error) {
	var req *repository.ApprovalRequest
	err := s.store.Read(ctx, func(q repository.Queries) error {
		var err error
		req, err = q.GetApproval(ctx, id)
		return err
	})
	return req, err
}

// List returns requests in submission order.
func (s *ApprovalService) List(ctx context.Context, filter repository.ApprovalFilter) ([]*repository.ApprovalRequest, error) {
	switch filter.Status {
	case "", repository.ApprovalPending, repository.ApprovalApproved, repository.ApprovalRejected:
	default:
		return nil, errors.InvalidInput("status", "unknown approval status")
	}
	if filter.EntityType != "" {
		if _, err := s.target(filter.EntityType); err != nil {
			return nil, err
		}
	}

	var out []*repository.ApprovalRequest
	err := s.store.Read(ctx, func(q repository.Queries) error {
		var err error
		out, err = q.ListApprovals(ctx, filter)
		return err
	})
	return out, err
}
