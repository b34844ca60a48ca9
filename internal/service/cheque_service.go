package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
)

// ChequeService drives outgoing cheque leaves through their lifecycle.
type ChequeService struct {
	base
}

// IssueRequest carries the values written onto a leaf at issue. Exactly one
// of PayeeName and VendorID is set.
type IssueRequest struct {
	PayeeName  *string         `json:"payeeName,omitempty"`
	VendorID   *string         `json:"vendorId,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	ChequeDate string          `json:"chequeDate"`
	Remarks    *string         `json:"remarks,omitempty"`
}

// Validate normalises the request in place.
func (r *IssueRequest) Validate() error {
	r.PayeeName = optionalText(r.PayeeName)
	r.VendorID = optionalText(r.VendorID)
	r.Remarks = optionalText(r.Remarks)

	if (r.PayeeName == nil) == (r.VendorID == nil) {
		return errors.InvalidInput("payeeName", "exactly one of payeeName and vendorId is required")
	}
	if err := validateAmount("amount", r.Amount); err != nil {
		return err
	}
	return validateDate("chequeDate", r.ChequeDate)
}

// leafCommand describes one requested leaf transition.
type leafCommand struct {
	action     string
	to         repository.LeafStatus
	issue      *IssueRequest
	remarks    *string
	asOf       string
	approvalID int64
}

// ── Lifecycle operations ──────────────────────────────────────────────────────

// Issue writes payee, amount and date onto an UNUSED leaf.
func (s *ChequeService) Issue(ctx context.Context, actor string, leafID int64, req *IssueRequest) (*repository.ChequeLeaf, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.run(ctx, actor, leafID, leafCommand{
		action: string(repository.ActionIssue), to: repository.LeafIssued, issue: req,
	})
}

// IssueNext issues the lowest-numbered free leaf of an active book.
func (s *ChequeService) IssueNext(ctx context.Context, actor string, bookID int64, req *IssueRequest) (*repository.ChequeLeaf, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		leaf *repository.ChequeLeaf
		tr   transition
	)
	err := s.store.InTransaction(ctx, func(q repository.Queries) error {
		book, err := q.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		if !book.Active {
			return errors.InvalidInput("bookId", "cheque book is inactive")
		}
		next, err := q.NextUnusedLeafForUpdate(ctx, bookID)
		if err != nil {
			return err
		}
		leaf, tr, err = s.applyLeaf(ctx, q, actor, next.ID, leafCommand{
			action: string(repository.ActionIssue), to: repository.LeafIssued, issue: req,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.observe(tr)
	s.logTransition(leaf, tr, actor)
	return leaf, nil
}

// RecordPrint marks an ISSUED leaf as printed.
func (s *ChequeService) RecordPrint(ctx context.Context, actor string, leafID int64) (*repository.ChequeLeaf, error) {
	return s.run(ctx, actor, leafID, leafCommand{
		action: string(repository.ActionPrint), to: repository.LeafPrinted,
	})
}

// MarkDue moves an ISSUED or PRINTED leaf to DUE once its cheque date is on
// or before asOf.
func (s *ChequeService) MarkDue(ctx context.Context, actor string, leafID int64, asOf string) (*repository.ChequeLeaf, error) {
	if err := validateDate("asOf", asOf); err != nil {
		return nil, err
	}
	return s.run(ctx, actor, leafID, leafCommand{
		action: auditMarkDue, to: repository.LeafDue, asOf: asOf,
	})
}

// Clear records a DUE cheque as paid by the bank.
func (s *ChequeService) Clear(ctx context.Context, actor string, leafID int64, remarks string) (*repository.ChequeLeaf, error) {
	return s.resolve(ctx, actor, leafID, repository.ActionClear, remarks)
}

// Bounce records a DUE cheque as dishonoured.
func (s *ChequeService) Bounce(ctx context.Context, actor string, leafID int64, remarks string) (*repository.ChequeLeaf, error) {
	return s.resolve(ctx, actor, leafID, repository.ActionBounce, remarks)
}

// Cancel stops payment on a DUE cheque.
func (s *ChequeService) Cancel(ctx context.Context, actor string, leafID int64, remarks string) (*repository.ChequeLeaf, error) {
	return s.resolve(ctx, actor, leafID, repository.ActionCancel, remarks)
}

// Settle records a DUE cheque as paid outside clearing.
func (s *ChequeService) Settle(ctx context.Context, actor string, leafID int64, remarks string) (*repository.ChequeLeaf, error) {
	return s.resolve(ctx, actor, leafID, repository.ActionSettle, remarks)
}

// Void retires an UNUSED leaf.
func (s *ChequeService) Void(ctx context.Context, actor string, leafID int64, remarks string) (*repository.ChequeLeaf, error) {
	return s.resolve(ctx, actor, leafID, repository.ActionVoid, remarks)
}

// MarkMissing records an UNUSED leaf as lost.
func (s *ChequeService) MarkMissing(ctx context.Context, actor string, leafID int64, remarks string) (*repository.ChequeLeaf, error) {
	return s.resolve(ctx, actor, leafID, repository.ActionMarkMissing, remarks)
}

func (s *ChequeService) resolve(ctx context.Context, actor string, leafID int64, action repository.ActionType, remarks string) (*repository.ChequeLeaf, error) {
	r, err := requireText("remarks", &remarks)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, actor, leafID, leafCommand{
		action: string(action), to: leafActions[action], remarks: r,
	})
}

// NextFreeLeaf returns the lowest-numbered UNUSED leaf of an active book that
// has no pending request. Nothing is locked; staging against the leaf is
// guarded by the one-pending-request rule.
func (s *ChequeService) NextFreeLeaf(ctx context.Context, bookID int64) (*repository.ChequeLeaf, error) {
	var leaf *repository.ChequeLeaf
	err := s.store.Read(ctx, func(q repository.Queries) error {
		book, err := q.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		if !book.Active {
			return errors.InvalidInput("bookId", "cheque book is inactive")
		}
		leaf, err = q.NextUnusedLeaf(ctx, bookID)
		return err
	})
	return leaf, err
}

// GetLeaf returns one leaf.
func (s *ChequeService) GetLeaf(ctx context.Context, id int64) (*repository.ChequeLeaf, error) {
	var leaf *repository.ChequeLeaf
	err := s.store.Read(ctx, func(q repository.Queries) error {
		var err error
		leaf, err = q.GetLeaf(ctx, id)
		return err
	})
	return leaf, err
}

// GetLeaves is the batch lookup used for printing. Unknown ids are skipped.
func (s *ChequeService) GetLeaves(ctx context.Context, ids []int64) ([]*repository.ChequeLeaf, error) {
	if len(ids) > MaxLeavesPerBook {
		return nil, errors.InvalidInput("ids", "too many ids")
	}
	var leaves []*repository.ChequeLeaf
	err := s.store.Read(ctx, func(q repository.Queries) error {
		var err error
		leaves, err = q.GetLeaves(ctx, ids)
		return err
	})
	return leaves, err
}

// ── Transaction plumbing ──────────────────────────────────────────────────────

func (s *ChequeService) run(ctx context.Context, actor string, leafID int64, cmd leafCommand) (*repository.ChequeLeaf, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var (
		leaf *repository.ChequeLeaf
		tr   transition
	)
	err := s.store.InTransaction(ctx, func(q repository.Queries) error {
		var err error
		leaf, tr, err = s.applyLeaf(ctx, q, actor, leafID, cmd)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.observe(tr)
	s.logTransition(leaf, tr, actor)
	return leaf, nil
}

// applyLeaf performs one transition inside q. It is shared by the direct
// operations and by approval.
func (s *ChequeService) applyLeaf(
	ctx context.Context,
	q repository.Queries,
	actor string,
	leafID int64,
	cmd leafCommand,
) (*repository.ChequeLeaf, transition, error) {
	leaf, err := q.GetLeafForUpdate(ctx, leafID)
	if err != nil {
		return nil, transition{}, err
	}
	if cmd.approvalID == 0 && leaf.WorkflowStatus == repository.WorkflowPendingApproval && !retiresUnused(cmd.to) {
		return nil, transition{}, errors.Newf(errors.ErrCodeDuplicatePending,
			"cheque leaf %d has a pending approval request", leaf.ID)
	}
	from := leaf.Status
	if !CanTransitionLeaf(from, cmd.to) {
		return nil, transition{}, errors.IllegalTransition("cheque leaf", from, cmd.to)
	}
	before := *leaf

	switch cmd.to {
	case repository.LeafIssued:
		book, err := q.GetBook(ctx, leaf.BookID)
		if err != nil {
			return nil, transition{}, err
		}
		if !book.Active {
			return nil, transition{}, errors.InvalidInput("bookId", "cheque book is inactive")
		}
		leaf.PayeeName = cmd.issue.PayeeName
		leaf.VendorID = cmd.issue.VendorID
		leaf.Amount = decimal.NewNullDecimal(cmd.issue.Amount)
		leaf.ChequeDate = ptr(cmd.issue.ChequeDate)
		if cmd.issue.Remarks != nil {
			leaf.Remarks = cmd.issue.Remarks
		}
	case repository.LeafDue:
		if leaf.ChequeDate == nil || *leaf.ChequeDate > cmd.asOf {
			return nil, transition{}, errors.Newf(errors.ErrCodeIllegalTransition,
				"cheque leaf %d is not due as of %s", leaf.ID, cmd.asOf)
		}
	}
	if cmd.remarks != nil {
		leaf.Remarks = cmd.remarks
	}
	leaf.Status = cmd.to
	leaf.UpdatedAt = s.now()

	if err := q.UpdateLeaf(ctx, leaf); err != nil {
		return nil, transition{}, err
	}

	oldValue, newValue := leafDiff(&before, leaf)
	if cmd.approvalID != 0 {
		newValue["approvalRequestId"] = cmd.approvalID
	}
	if err := s.audit.Record(ctx, q, actor, cmd.action, repository.EntityChequeLeaf, leaf.ID, oldValue, newValue); err != nil {
		return nil, transition{}, err
	}

	return leaf, transition{entity: repository.EntityChequeLeaf, from: string(from), to: string(cmd.to)}, nil
}

// retiresUnused reports whether to takes a leaf out of use without writing
// payee or amount. Those moves stay open while a request is pending; the
// staged action then fails on approval.
func retiresUnused(to repository.LeafStatus) bool {
	return to == repository.LeafVoid || to == repository.LeafMissing
}

func (s *ChequeService) logTransition(leaf *repository.ChequeLeaf, tr transition, actor string) {
	s.log.Info().
		Int64("leaf_id", leaf.ID).
		Int64("cheque_number", leaf.ChequeNumber).
		Str("from", tr.from).
		Str("to", tr.to).
		Str("actor", actor).
		Msg("Cheque leaf transitioned")
}

// leafDiff returns the status plus every field that changed.
func leafDiff(before, after *repository.ChequeLeaf) (map[string]any, map[string]any) {
	oldValue := map[string]any{"status": before.Status}
	newValue := map[string]any{"status": after.Status}

	diffText := func(key string, a, b *string) {
		if deref(a) != deref(b) || (a == nil) != (b == nil) {
			oldValue[key] = a
			newValue[key] = b
		}
	}
	diffText("payeeName", before.PayeeName, after.PayeeName)
	diffText("vendorId", before.VendorID, after.VendorID)
	diffText("chequeDate", before.ChequeDate, after.ChequeDate)
	diffText("remarks", before.Remarks, after.Remarks)

	if before.Amount.Valid != after.Amount.Valid || !before.Amount.Decimal.Equal(after.Amount.Decimal) {
		oldValue["amount"] = before.Amount
		newValue["amount"] = after.Amount
	}
	return oldValue, newValue
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// decodeStrict unmarshals payload rejecting unknown fields.
func decodeStrict(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.InvalidInput("payload", err.Error())
	}
	return nil
}
