package service

import (
	"slices"

	"github.com/pesio-ai/be-tr-cheques/internal/repository"
)

// leafTransitions is the outgoing leaf state machine. Statuses with no entry
// are terminal.
var leafTransitions = map[repository.LeafStatus][]repository.LeafStatus{
	repository.LeafUnused:  {repository.LeafIssued, repository.LeafVoid, repository.LeafMissing},
	repository.LeafIssued:  {repository.LeafPrinted, repository.LeafDue},
	repository.LeafPrinted: {repository.LeafDue},
	repository.LeafDue: {
		repository.LeafCleared, repository.LeafBounced,
		repository.LeafCancelled, repository.LeafSettled,
	},
}

// incomingTransitions is the received cheque state machine.
var incomingTransitions = map[repository.IncomingStatus][]repository.IncomingStatus{
	repository.IncomingPending: {repository.IncomingDue, repository.IncomingDeposited, repository.IncomingSettled},
	repository.IncomingDue:     {repository.IncomingDeposited, repository.IncomingSettled},
	repository.IncomingDeposited: {
		repository.IncomingCleared, repository.IncomingBounced, repository.IncomingReturned,
	},
}

// CanTransitionLeaf reports whether from -> to is a legal leaf transition.
func CanTransitionLeaf(from, to repository.LeafStatus) bool {
	return slices.Contains(leafTransitions[from], to)
}

// IsTerminalLeaf reports whether no transition leaves s.
func IsTerminalLeaf(s repository.LeafStatus) bool {
	return len(leafTransitions[s]) == 0
}

// CanTransitionIncoming reports whether from -> to is a legal incoming transition.
func CanTransitionIncoming(from, to repository.IncomingStatus) bool {
	return slices.Contains(incomingTransitions[from], to)
}

// IsTerminalIncoming reports whether no transition leaves s.
func IsTerminalIncoming(s repository.IncomingStatus) bool {
	return len(incomingTransitions[s]) == 0
}

// Statuses still carrying exposure. Everything else has resolved one way or
// another.
var (
	LiveOutgoingStatuses = []repository.LeafStatus{
		repository.LeafIssued, repository.LeafPrinted, repository.LeafDue, repository.LeafMissing,
	}
	LiveIncomingStatuses = []repository.IncomingStatus{
		repository.IncomingPending, repository.IncomingDue, repository.IncomingDeposited,
	}
)

// leafActions maps the approval action vocabulary onto target statuses.
var leafActions = map[repository.ActionType]repository.LeafStatus{
	repository.ActionIssue:       repository.LeafIssued,
	repository.ActionPrint:       repository.LeafPrinted,
	repository.ActionClear:       repository.LeafCleared,
	repository.ActionBounce:      repository.LeafBounced,
	repository.ActionCancel:      repository.LeafCancelled,
	repository.ActionSettle:      repository.LeafSettled,
	repository.ActionVoid:        repository.LeafVoid,
	repository.ActionMarkMissing: repository.LeafMissing,
}

var incomingActions = map[repository.ActionType]repository.IncomingStatus{
	repository.ActionReceive: repository.IncomingPending,
	repository.ActionDeposit: repository.IncomingDeposited,
	repository.ActionClear:   repository.IncomingCleared,
	repository.ActionBounce:  repository.IncomingBounced,
	repository.ActionReturn:  repository.IncomingReturned,
	repository.ActionSettle:  repository.IncomingSettled,
}

// Audit action names for transitions with no approval action.
const (
	auditCreate     = "CREATE"
	auditDeactivate = "DEACTIVATE"
	auditMarkDue    = "MARK_DUE"
	auditSubmit     = "SUBMIT"
	auditApprove    = "APPROVE"
	auditReject     = "REJECT"
)
