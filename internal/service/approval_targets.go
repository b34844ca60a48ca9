package service

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
)

// ApprovalTarget is one entity type that can sit behind the approval gate.
//
// Prepare validates a submission against the current state of the target and
// returns the normalised payload to store. Apply performs the staged action
// inside the approving transaction.
type ApprovalTarget interface {
	EntityType() repository.EntityType
	Prepare(
		ctx context.Context,
		q repository.Queries,
		entityID int64,
		action repository.ActionType,
		payload json.RawMessage,
		amount decimal.Decimal,
	) (json.RawMessage, error)
	Apply(ctx context.Context, q repository.Queries, req *repository.ApprovalRequest, actor string) (*ApprovalEffect, error)
}

// ApprovalEffect is what an approved action changed.
type ApprovalEffect struct {
	Leaf           *repository.ChequeLeaf
	IncomingCheque *repository.IncomingCheque

	tr transition
}

// notePayload carries the free text of a non-issuing action.
type notePayload struct {
	Remarks *string `json:"remarks,omitempty"`
	Reason  *string `json:"reason,omitempty"`
}

func unsupportedAction(entityType repository.EntityType, action repository.ActionType) error {
	return errors.InvalidInput("actionType", "action "+string(action)+" is not supported for "+string(entityType))
}

func requireMatchingAmount(payloadAmount, amount decimal.Decimal) error {
	if !payloadAmount.Equal(amount) {
		return errors.InvalidInput("amount", "must equal the payload amount")
	}
	return nil
}

// ── Cheque leaves ─────────────────────────────────────────────────────────────

type leafTarget struct {
	cheques *ChequeService
}

// NewLeafTarget exposes leaf transitions to the approval gate.
func NewLeafTarget(cheques *ChequeService) ApprovalTarget {
	return &leafTarget{cheques: cheques}
}

func (t *leafTarget) EntityType() repository.EntityType { return repository.EntityChequeLeaf }

func (t *leafTarget) Prepare(
	ctx context.Context,
	q repository.Queries,
	entityID int64,
	action repository.ActionType,
	payload json.RawMessage,
	amount decimal.Decimal,
) (json.RawMessage, error) {
	to, ok := leafActions[action]
	if !ok {
		return nil, unsupportedAction(repository.EntityChequeLeaf, action)
	}
	if entityID == 0 {
		return nil, errors.InvalidInput("entityId", "is required")
	}

	leaf, err := q.GetLeaf(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if !CanTransitionLeaf(leaf.Status, to) {
		return nil, errors.IllegalTransition("cheque leaf", leaf.Status, to)
	}

	switch action {
	case repository.ActionIssue:
		var req IssueRequest
		if err := decodeStrict(payload, &req); err != nil {
			return nil, err
		}
		if err := req.Validate(); err != nil {
			return nil, err
		}
		if err := requireMatchingAmount(req.Amount, amount); err != nil {
			return nil, err
		}
		book, err := q.GetBook(ctx, leaf.BookID)
		if err != nil {
			return nil, err
		}
		if !book.Active {
			return nil, errors.InvalidInput("entityId", "cheque book is inactive")
		}
		return json.Marshal(req)
	case repository.ActionPrint:
		var note notePayload
		if err := decodeStrict(payload, &note); err != nil {
			return nil, err
		}
		return json.Marshal(notePayload{Remarks: optionalText(note.Remarks)})
	default:
		var note notePayload
		if err := decodeStrict(payload, &note); err != nil {
			return nil, err
		}
		r, err := requireText("remarks", note.Remarks)
		if err != nil {
			return nil, err
		}
		return json.Marshal(notePayload{Remarks: r})
	}
}

func (t *leafTarget) Apply(
	ctx context.Context,
	q repository.Queries,
	req *repository.ApprovalRequest,
	actor string,
) (*ApprovalEffect, error) {
	to, ok := leafActions[req.ActionType]
	if !ok {
		return nil, unsupportedAction(repository.EntityChequeLeaf, req.ActionType)
	}
	cmd := leafCommand{action: string(req.ActionType), to: to, approvalID: req.ID}

	if req.ActionType == repository.ActionIssue {
		var issue IssueRequest
		if err := decodeStrict(req.Payload, &issue); err != nil {
			return nil, err
		}
		if err := issue.Validate(); err != nil {
			return nil, err
		}
		cmd.issue = &issue
	} else {
		var note notePayload
		if err := decodeStrict(req.Payload, &note); err != nil {
			return nil, err
		}
		cmd.remarks = optionalText(note.Remarks)
	}

	leaf, tr, err := t.cheques.applyLeaf(ctx, q, actor, req.EntityID, cmd)
	if err != nil {
		return nil, err
	}
	return &ApprovalEffect{Leaf: leaf, tr: tr}, nil
}

// ── Incoming cheques ──────────────────────────────────────────────────────────

type incomingTarget struct {
	incoming *IncomingChequeService
}

// NewIncomingTarget exposes incoming cheque receipt and transitions to the
// approval gate. RECEIVE targets entity 0 because the cheque does not exist
// until the request is approved.
func NewIncomingTarget(incoming *IncomingChequeService) ApprovalTarget {
	return &incomingTarget{incoming: incoming}
}

func (t *incomingTarget) EntityType() repository.EntityType { return repository.EntityIncomingCheque }

// incomingNoteField names the free-text field an incoming action requires, or "" when
// the text is optional.
func incomingNoteField(action repository.ActionType) string {
	switch action {
	case repository.ActionBounce, repository.ActionReturn:
		return "reason"
	case repository.ActionSettle:
		return "remarks"
	}
	return ""
}

func (t *incomingTarget) Prepare(
	ctx context.Context,
	q repository.Queries,
	entityID int64,
	action repository.ActionType,
	payload json.RawMessage,
	amount decimal.Decimal,
) (json.RawMessage, error) {
	to, ok := incomingActions[action]
	if !ok {
		return nil, unsupportedAction(repository.EntityIncomingCheque, action)
	}

	if action == repository.ActionReceive {
		if entityID != 0 {
			return nil, errors.InvalidInput("entityId", "must be 0 for RECEIVE")
		}
		var req ReceiveRequest
		if err := decodeStrict(payload, &req); err != nil {
			return nil, err
		}
		if err := req.Validate(); err != nil {
			return nil, err
		}
		if err := requireMatchingAmount(req.Amount, amount); err != nil {
			return nil, err
		}
		return json.Marshal(req)
	}

	if entityID == 0 {
		return nil, errors.InvalidInput("entityId", "is required")
	}
	cheque, err := q.GetIncoming(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if !CanTransitionIncoming(cheque.Status, to) {
		return nil, errors.IllegalTransition("incoming cheque", cheque.Status, to)
	}

	var note notePayload
	if err := decodeStrict(payload, &note); err != nil {
		return nil, err
	}
	switch field := incomingNoteField(action); field {
	case "reason":
		r, err := requireText(field, note.Reason)
		if err != nil {
			return nil, err
		}
		return json.Marshal(notePayload{Reason: r})
	case "remarks":
		r, err := requireText(field, note.Remarks)
		if err != nil {
			return nil, err
		}
		return json.Marshal(notePayload{Remarks: r})
	default:
		return json.Marshal(notePayload{Remarks: optionalText(note.Remarks)})
	}
}

func (t *incomingTarget) Apply(
	ctx context.Context,
	q repository.Queries,
	req *repository.ApprovalRequest,
	actor string,
) (*ApprovalEffect, error) {
	to, ok := incomingActions[req.ActionType]
	if !ok {
		return nil, unsupportedAction(repository.EntityIncomingCheque, req.ActionType)
	}

	if req.ActionType == repository.ActionReceive {
		var receive ReceiveRequest
		if err := decodeStrict(req.Payload, &receive); err != nil {
			return nil, err
		}
		if err := receive.Validate(); err != nil {
			return nil, err
		}
		cheque, err := t.incoming.receive(ctx, q, actor, &receive, req.ID)
		if err != nil {
			return nil, err
		}
		return &ApprovalEffect{
			IncomingCheque: cheque,
			tr:             transition{entity: repository.EntityIncomingCheque, to: string(repository.IncomingPending)},
		}, nil
	}

	var note notePayload
	if err := decodeStrict(req.Payload, &note); err != nil {
		return nil, err
	}
	remarks := optionalText(note.Remarks)
	if note.Reason != nil {
		remarks = optionalText(note.Reason)
	}

	cheque, tr, err := t.incoming.applyIncoming(ctx, q, actor, req.EntityID, incomingCommand{
		action: string(req.ActionType), to: to, remarks: remarks, approvalID: req.ID,
	})
	if err != nil {
		return nil, err
	}
	return &ApprovalEffect{IncomingCheque: cheque, tr: tr}, nil
}
