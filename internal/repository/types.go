package repository

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// EntityType names an aggregate in approval requests and audit entries.
type EntityType string

const (
	EntityChequeBook      EntityType = "CHEQUE_BOOK"
	EntityChequeLeaf      EntityType = "CHEQUE_LEAF"
	EntityIncomingCheque  EntityType = "INCOMING_CHEQUE"
	EntityApprovalRequest EntityType = "APPROVAL_REQUEST"
)

// LeafStatus is the state of an outgoing cheque leaf.
type LeafStatus string

const (
	LeafUnused    LeafStatus = "UNUSED"
	LeafIssued    LeafStatus = "ISSUED"
	LeafPrinted   LeafStatus = "PRINTED"
	LeafDue       LeafStatus = "DUE"
	LeafCleared   LeafStatus = "CLEARED"
	LeafBounced   LeafStatus = "BOUNCED"
	LeafCancelled LeafStatus = "CANCELLED"
	LeafSettled   LeafStatus = "SETTLED"
	LeafVoid      LeafStatus = "VOID"
	LeafMissing   LeafStatus = "MISSING"
)

// AllLeafStatuses lists every leaf status in lifecycle order.
var AllLeafStatuses = []LeafStatus{
	LeafUnused, LeafIssued, LeafPrinted, LeafDue,
	LeafCleared, LeafBounced, LeafCancelled, LeafSettled, LeafVoid, LeafMissing,
}

// IncomingStatus is the state of a received cheque.
type IncomingStatus string

const (
	IncomingPending   IncomingStatus = "PENDING"
	IncomingDue       IncomingStatus = "DUE"
	IncomingDeposited IncomingStatus = "DEPOSITED"
	IncomingCleared   IncomingStatus = "CLEARED"
	IncomingBounced   IncomingStatus = "BOUNCED"
	IncomingReturned  IncomingStatus = "RETURNED"
	IncomingSettled   IncomingStatus = "SETTLED"
)

// AllIncomingStatuses lists every incoming cheque status in lifecycle order.
var AllIncomingStatuses = []IncomingStatus{
	IncomingPending, IncomingDue, IncomingDeposited,
	IncomingCleared, IncomingBounced, IncomingReturned, IncomingSettled,
}

// WorkflowStatus is derived from the presence of a PENDING approval request.
type WorkflowStatus string

const (
	WorkflowNone            WorkflowStatus = "NONE"
	WorkflowPendingApproval WorkflowStatus = "PENDING_APPROVAL"
)

// ApprovalStatus is the state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// ActionType names the mutation an approval request stages.
type ActionType string

const (
	ActionIssue       ActionType = "ISSUE"
	ActionPrint       ActionType = "PRINT"
	ActionClear       ActionType = "CLEAR"
	ActionBounce      ActionType = "BOUNCE"
	ActionCancel      ActionType = "CANCEL"
	ActionSettle      ActionType = "SETTLE"
	ActionVoid        ActionType = "VOID"
	ActionMarkMissing ActionType = "MARK_MISSING"
	ActionReceive     ActionType = "RECEIVE"
	ActionDeposit     ActionType = "DEPOSIT"
	ActionReturn      ActionType = "RETURN"
)

// ChequeBook is a contiguous, inclusive range of leaf numbers for one account.
type ChequeBook struct {
	ID               int64     `json:"id"`
	AccountID        string    `json:"accountId"`
	SeriesIdentifier *string   `json:"seriesIdentifier,omitempty"`
	StartNumber      int64     `json:"startNumber"`
	EndNumber        int64     `json:"endNumber"`
	IssuedDate       string    `json:"issuedDate"`
	Active           bool      `json:"active"`
	CreatedBy        string    `json:"createdBy"`
	CreatedAt        time.Time `json:"createdAt"`
	UsedLeaves       int64     `json:"usedLeaves"`
}

// TotalLeaves is derived from the range and never stored.
func (b *ChequeBook) TotalLeaves() int64 {
	return b.EndNumber - b.StartNumber + 1
}

// Overlaps reports whether the book's range shares a number with [start, end].
func (b *ChequeBook) Overlaps(start, end int64) bool {
	return b.StartNumber <= end && start <= b.EndNumber
}

// MarshalJSON adds the derived totalLeaves field.
func (b ChequeBook) MarshalJSON() ([]byte, error) {
	type alias ChequeBook
	return json.Marshal(struct {
		alias
		TotalLeaves int64 `json:"totalLeaves"`
	}{alias: alias(b), TotalLeaves: b.TotalLeaves()})
}

// ChequeLeaf is one numbered cheque in a book.
type ChequeLeaf struct {
	ID             int64               `json:"id"`
	BookID         int64               `json:"bookId"`
	AccountID      string              `json:"accountId"`
	ChequeNumber   int64               `json:"chequeNumber"`
	Status         LeafStatus          `json:"status"`
	PayeeName      *string             `json:"payeeName,omitempty"`
	VendorID       *string             `json:"vendorId,omitempty"`
	Amount         decimal.NullDecimal `json:"amount"`
	ChequeDate     *string             `json:"chequeDate,omitempty"`
	Remarks        *string             `json:"remarks,omitempty"`
	WorkflowStatus WorkflowStatus      `json:"workflowStatus"`
	Version        int64               `json:"version"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// IncomingCheque is a cheque received from a customer.
type IncomingCheque struct {
	ID             int64           `json:"id"`
	InternalRef    string          `json:"internalRef"`
	CustomerID     string          `json:"customerId"`
	ChequeNumber   string          `json:"chequeNumber"`
	ChequeDate     string          `json:"chequeDate"`
	ReceivedDate   string          `json:"receivedDate"`
	BankName       string          `json:"bankName"`
	BranchName     *string         `json:"branchName,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Status         IncomingStatus  `json:"status"`
	ImageRef       *string         `json:"imageRef,omitempty"`
	Remarks        *string         `json:"remarks,omitempty"`
	InvoiceNumber  *string         `json:"invoiceNumber,omitempty"`
	WorkflowStatus WorkflowStatus  `json:"workflowStatus"`
	Version        int64           `json:"version"`
	CreatedBy      string          `json:"createdBy"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// ApprovalRequest is a staged mutation awaiting a checker's decision.
// EntityID is 0 when the target does not exist yet.
type ApprovalRequest struct {
	ID           int64           `json:"id"`
	EntityType   EntityType      `json:"entityType"`
	EntityID     int64           `json:"entityId"`
	ActionType   ActionType      `json:"actionType"`
	Payload      json.RawMessage `json:"payload"`
	Amount       decimal.Decimal `json:"amount"`
	RequestedBy  string          `json:"requestedBy"`
	RequestedAt  time.Time       `json:"requestedAt"`
	Status       ApprovalStatus  `json:"status"`
	DecidedBy    *string         `json:"decidedBy,omitempty"`
	DecidedAt    *time.Time      `json:"decidedAt,omitempty"`
	DecisionNote *string         `json:"decisionNote,omitempty"`
}

// AuditLogEntry is one immutable audit record.
type AuditLogEntry struct {
	ID         int64           `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	Username   string          `json:"username"`
	Action     string          `json:"action"`
	EntityType EntityType      `json:"entityType"`
	EntityID   int64           `json:"entityId"`
	OldValue   json.RawMessage `json:"oldValue,omitempty"`
	NewValue   json.RawMessage `json:"newValue,omitempty"`
}

// InstrumentType splits exposure into the two directions.
type InstrumentType string

const (
	InstrumentIncoming InstrumentType = "INCOMING"
	InstrumentOutgoing InstrumentType = "OUTGOING"
)

// ExposureRow is one (type, status) aggregate.
type ExposureRow struct {
	Type        InstrumentType  `json:"type"`
	Status      string          `json:"status"`
	Count       int64           `json:"count"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// IncomingFilter narrows ListIncoming. Empty fields match everything.
type IncomingFilter struct {
	Status     IncomingStatus
	CustomerID string
	Limit      int
}

// ApprovalFilter narrows ListApprovals. Empty fields match everything.
type ApprovalFilter struct {
	Status      ApprovalStatus
	EntityType  EntityType
	RequestedBy string
	Limit       int
}

// AuditFilter narrows QueryAudit. Results are ordered by (timestamp, id) and
// start strictly after (AfterTimestamp, AfterID) when AfterTimestamp is set.
type AuditFilter struct {
	EntityType     EntityType
	EntityID       *int64
	Username       string
	Action         string
	From           *time.Time
	Until          *time.Time
	AfterTimestamp *time.Time
	AfterID        int64
	Limit          int
}
