package service

import (
	"context"
	"slices"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
)

// IncomingChequeService tracks cheques received from customers.
type IncomingChequeService struct {
	base
}

// ReceiveRequest represents a received cheque.
type ReceiveRequest struct {
	CustomerID    string          `json:"customerId"`
	ChequeNumber  string          `json:"chequeNumber"`
	ChequeDate    string          `json:"chequeDate"`
	ReceivedDate  string          `json:"receivedDate"`
	BankName      string          `json:"bankName"`
	BranchName    *string         `json:"branchName,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	ImageRef      *string         `json:"imageRef,omitempty"`
	Remarks       *string         `json:"remarks,omitempty"`
	InvoiceNumber *string         `json:"invoiceNumber,omitempty"`
}

// Validate normalises the request in place.
func (r *ReceiveRequest) Validate() error {
	r.CustomerID = strings.TrimSpace(r.CustomerID)
	r.ChequeNumber = strings.TrimSpace(r.ChequeNumber)
	r.BankName = strings.TrimSpace(r.BankName)
	r.BranchName = optionalText(r.BranchName)
	r.ImageRef = optionalText(r.ImageRef)
	r.Remarks = optionalText(r.Remarks)
	r.InvoiceNumber = optionalText(r.InvoiceNumber)

	switch {
	case r.CustomerID == "":
		return errors.InvalidInput("customerId", "is required")
	case r.ChequeNumber == "":
		return errors.InvalidInput("chequeNumber", "is required")
	case r.BankName == "":
		return errors.InvalidInput("bankName", "is required")
	}
	if err := validateAmount("amount", r.Amount); err != nil {
		return err
	}
	if err := validateDate("chequeDate", r.ChequeDate); err != nil {
		return err
	}
	return validateDate("receivedDate", r.ReceivedDate)
}

type incomingCommand struct {
	action     string
	to         repository.IncomingStatus
	remarks    *string
	asOf       string
	approvalID int64
}

// ── Lifecycle operations ──────────────────────────────────────────────────────

// Receive records a new cheque in PENDING. The same cheque number from the
// same bank can only be received once.
func (s *IncomingChequeService) Receive(ctx context.Context, actor string, req *ReceiveRequest) (*repository.IncomingCheque, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var cheque *repository.IncomingCheque
	err := s.store.InTransaction(ctx, func(q repository.Queries) error {
		var err error
		cheque, err = s.receive(ctx, q, actor, req, 0)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.observe(transition{entity: repository.EntityIncomingCheque, from: "", to: string(repository.IncomingPending)})
	s.log.Info().
		Int64("incoming_cheque_id", cheque.ID).
		Str("internal_ref", cheque.InternalRef).
		Str("customer_id", cheque.CustomerID).
		Str("amount", cheque.Amount.StringFixed(2)).
		Str("actor", actor).
		Msg("Incoming cheque received")

	return cheque, nil
}

func (s *IncomingChequeService) receive(
	ctx context.Context,
	q repository.Queries,
	actor string,
	req *ReceiveRequest,
	approvalID int64,
) (*repository.IncomingCheque, error) {
	now := s.now()
	cheque := &repository.IncomingCheque{
		InternalRef:   "INC-" + ulid.Make().String(),
		CustomerID:    req.CustomerID,
		ChequeNumber:  req.ChequeNumber,
		ChequeDate:    req.ChequeDate,
		ReceivedDate:  req.ReceivedDate,
		BankName:      req.BankName,
		BranchName:    req.BranchName,
		Amount:        req.Amount,
		Status:        repository.IncomingPending,
		ImageRef:      req.ImageRef,
		Remarks:       req.Remarks,
		InvoiceNumber: req.InvoiceNumber,
		CreatedBy:     actor,
		CreatedAt:     now,
	}
	if err := q.InsertIncoming(ctx, cheque); err != nil {
		return nil, err
	}

	newValue := map[string]any{"cheque": cheque}
	if approvalID != 0 {
		newValue["approvalRequestId"] = approvalID
	}
	if err := s.audit.Record(ctx, q, actor, string(repository.ActionReceive),
		repository.EntityIncomingCheque, cheque.ID, nil, newValue); err != nil {
		return nil, err
	}
	return cheque, nil
}

// MarkDue moves a PENDING cheque to DUE once its date is on or before asOf.
func (s *IncomingChequeService) MarkDue(ctx context.Context, actor string, id int64, asOf string) (*repository.IncomingCheque, error) {
	if err := validateDate("asOf", asOf); err != nil {
		return nil, err
	}
	return s.run(ctx, actor, id, incomingCommand{action: auditMarkDue, to: repository.IncomingDue, asOf: asOf})
}

// Deposit records a PENDING or DUE cheque as banked.
func (s *IncomingChequeService) Deposit(ctx context.Context, actor string, id int64) (*repository.IncomingCheque, error) {
	return s.run(ctx, actor, id, incomingCommand{
		action: string(repository.ActionDeposit), to: repository.IncomingDeposited,
	})
}

// Clear records a deposited cheque as honoured. Remarks are optional.
func (s *IncomingChequeService) Clear(ctx context.Context, actor string, id int64, remarks string) (*repository.IncomingCheque, error) {
	return s.run(ctx, actor, id, incomingCommand{
		action: string(repository.ActionClear), to: repository.IncomingCleared, remarks: optionalText(&remarks),
	})
}

// Bounce records a deposited cheque as dishonoured. A reason is required.
func (s *IncomingChequeService) Bounce(ctx context.Context, actor string, id int64, reason string) (*repository.IncomingCheque, error) {
	return s.withReason(ctx, actor, id, repository.ActionBounce, "reason", reason)
}

// Return records a deposited cheque as returned by the bank. A reason is required.
func (s *IncomingChequeService) Return(ctx context.Context, actor string, id int64, reason string) (*repository.IncomingCheque, error) {
	return s.withReason(ctx, actor, id, repository.ActionReturn, "reason", reason)
}

// Settle records a cheque settled outside the bank, before deposit.
func (s *IncomingChequeService) Settle(ctx context.Context, actor string, id int64, remarks string) (*repository.IncomingCheque, error) {
	return s.withReason(ctx, actor, id, repository.ActionSettle, "remarks", remarks)
}

func (s *IncomingChequeService) withReason(
	ctx context.Context,
	actor string,
	id int64,
	action repository.ActionType,
	field, text string,
) (*repository.IncomingCheque, error) {
	r, err := requireText(field, &text)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, actor, id, incomingCommand{action: string(action), to: incomingActions[action], remarks: r})
}

// Get returns one incoming cheque.
func (s *IncomingChequeService) Get(ctx context.Context, id int64) (*repository.IncomingCheque, error) {
	var c *repository.IncomingCheque
	err := s.store.Read(ctx, func(q repository.Queries) error {
		var err error
		c, err = q.GetIncoming(ctx, id)
		return err
	})
	return c, err
}

// GetMany is the batch lookup. Unknown ids are skipped.
func (s *IncomingChequeService) GetMany(ctx context.Context, ids []int64) ([]*repository.IncomingCheque, error) {
	if len(ids) > MaxLeavesPerBook {
		return nil, errors.InvalidInput("ids", "too many ids")
	}
	var out []*repository.IncomingCheque
	err := s.store.Read(ctx, func(q repository.Queries) error {
		var err error
		out, err = q.GetIncomingMany(ctx, ids)
		return err
	})
	return out, err
}

// List filters incoming cheques by status and customer.
func (s *IncomingChequeService) List(ctx context.Context, filter repository.IncomingFilter) ([]*repository.IncomingCheque, error) {
	if filter.Status != "" && !slices.Contains(repository.AllIncomingStatuses, filter.Status) {
		return nil, errors.InvalidInput("status", "unknown incoming cheque status")
	}
	var out []*repository.IncomingCheque
	err := s.store.Read(ctx, func(q repository.Queries) error {
		var err error
		out, err = q.ListIncoming(ctx, filter)
		return err
	})
	return out, err
}

// ── Transaction plumbing ──────────────────────────────────────────────────────

func (s *IncomingChequeService) run(ctx context.Context, actor string, id int64, cmd incomingCommand) (*repository.IncomingCheque, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var (
		cheque *repository.IncomingCheque
		tr     transition
	)
	err := s.store.InTransaction(ctx, func(q repository.Queries) error {
		var err error
		cheque, tr, err = s.applyIncoming(ctx, q, actor, id, cmd)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.observe(tr)
	s.log.Info().
		Int64("incoming_cheque_id", cheque.ID).
		Str("from", tr.from).
		Str("to", tr.to).
		Str("actor", actor).
		Msg("Incoming cheque transitioned")
	return cheque, nil
}

func (s *IncomingChequeService) applyIncoming(
	ctx context.Context,
	q repository.Queries,
	actor string,
	id int64,
	cmd incomingCommand,
) (*repository.IncomingCheque, transition, error) {
	cheque, err := q.GetIncomingForUpdate(ctx, id)
	if err != nil {
		return nil, transition{}, err
	}
	if cmd.approvalID == 0 && cheque.WorkflowStatus == repository.WorkflowPendingApproval {
		return nil, transition{}, errors.Newf(errors.ErrCodeDuplicatePending,
			"incoming cheque %d has a pending approval request", cheque.ID)
	}
	from := cheque.Status
	if !CanTransitionIncoming(from, cmd.to) {
		return nil, transition{}, errors.IllegalTransition("incoming cheque", from, cmd.to)
	}
	if cmd.to == repository.IncomingDue && cheque.ChequeDate > cmd.asOf {
		return nil, transition{}, errors.Newf(errors.ErrCodeIllegalTransition,
			"incoming cheque %d is not due as of %s", cheque.ID, cmd.asOf)
	}

	oldValue := map[string]any{"status": from}
	newValue := map[string]any{"status": cmd.to}
	if cmd.remarks != nil {
		oldValue["remarks"] = cheque.Remarks
		newValue["remarks"] = cmd.remarks
		cheque.Remarks = cmd.remarks
	}
	if cmd.approvalID != 0 {
		newValue["approvalRequestId"] = cmd.approvalID
	}
	cheque.Status = cmd.to
	cheque.UpdatedAt = s.now()

	if err := q.UpdateIncoming(ctx, cheque); err != nil {
		return nil, transition{}, err
	}
	if err := s.audit.Record(ctx, q, actor, cmd.action, repository.EntityIncomingCheque, cheque.ID, oldValue, newValue); err != nil {
		return nil, transition{}, err
	}
	return cheque, transition{entity: repository.EntityIncomingCheque, from: string(from), to: string(cmd.to)}, nil
}
