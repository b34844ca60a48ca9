package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
	"github.com/pesio-ai/be-tr-cheques/internal/service"
)

// IssueLeafRequest is the body of the issue endpoints.
type IssueLeafRequest struct {
	service.IssueRequest
	RequireApproval bool `json:"requireApproval,omitempty"`
}

// NoteRequest carries the optional free text of a transition.
type NoteRequest struct {
	Remarks         string `json:"remarks,omitempty"`
	Reason          string `json:"reason,omitempty"`
	RequireApproval bool   `json:"requireApproval,omitempty"`
}

// MarkDueRequest is the body of the mark-due endpoints.
type MarkDueRequest struct {
	AsOf string `json:"asOf"`
}

// leafResolutions maps the trailing path segment onto its action.
var leafResolutions = map[string]repository.ActionType{
	"clear":        repository.ActionClear,
	"bounce":       repository.ActionBounce,
	"cancel":       repository.ActionCancel,
	"settle":       repository.ActionSettle,
	"void":         repository.ActionVoid,
	"mark-missing": repository.ActionMarkMissing,
}

// GetLeaves handles GET /cheques?ids=1,2,3
func (h *HTTPHandler) GetLeaves(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDs(r.URL.Query().Get("ids"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(ids) == 0 {
		h.writeError(w, r, errors.InvalidInput("ids", "is required"))
		return
	}
	leaves, err := h.svc.Cheques.GetLeaves(r.Context(), ids)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaves": nonNil(leaves)})
}

func (h *HTTPHandler) GetLeaf(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	leaf, err := h.svc.Cheques.GetLeaf(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, leaf)
}

// IssueLeaf issues the leaf directly, or stages it for approval when the
// caller asks or the amount reaches the threshold. A staged issue answers
// 202 with the approval request.
func (h *HTTPHandler) IssueLeaf(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req IssueLeafRequest
	if !h.decode(w, r, &req) {
		return
	}

	if h.needsApproval(req.RequireApproval, req.Amount) {
		h.stage(w, r, repository.EntityChequeLeaf, id, repository.ActionIssue, req.IssueRequest, req.Amount)
		return
	}

	leaf, err := h.svc.Cheques.Issue(r.Context(), actorOf(r), id, &req.IssueRequest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, leaf)
}

// IssueNext issues the lowest free leaf of a book. When approval is needed
// the leaf is chosen now and the issue is staged against it.
func (h *HTTPHandler) IssueNext(w http.ResponseWriter, r *http.Request) {
	bookID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req IssueLeafRequest
	if !h.decode(w, r, &req) {
		return
	}

	if h.needsApproval(req.RequireApproval, req.Amount) {
		leaf, err := h.svc.Cheques.NextFreeLeaf(r.Context(), bookID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.stage(w, r, repository.EntityChequeLeaf, leaf.ID, repository.ActionIssue, req.IssueRequest, req.Amount)
		return
	}

	leaf, err := h.svc.Cheques.IssueNext(r.Context(), actorOf(r), bookID, &req.IssueRequest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, leaf)
}

func (h *HTTPHandler) RecordPrint(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req NoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.RequireApproval {
		h.stageLeafNote(w, r, id, repository.ActionPrint, req)
		return
	}
	leaf, err := h.svc.Cheques.RecordPrint(r.Context(), actorOf(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, leaf)
}

func (h *HTTPHandler) MarkLeafDue(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req MarkDueRequest
	if !h.decode(w, r, &req) {
		return
	}
	leaf, err := h.svc.Cheques.MarkDue(r.Context(), actorOf(r), id, req.AsOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, leaf)
}

// ResolveLeaf handles the terminal leaf transitions.
func (h *HTTPHandler) ResolveLeaf(w http.ResponseWriter, r *http.Request) {
	action, ok := leafResolutions[chi.URLParam(r, "action")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req NoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.RequireApproval {
		h.stageLeafNote(w, r, id, action, req)
		return
	}

	ctx, actor := r.Context(), actorOf(r)
	var (
		leaf *repository.ChequeLeaf
		err  error
	)
	switch action {
	case repository.ActionClear:
		leaf, err = h.svc.Cheques.Clear(ctx, actor, id, req.Remarks)
	case repository.ActionBounce:
		leaf, err = h.svc.Cheques.Bounce(ctx, actor, id, req.Remarks)
	case repository.ActionCancel:
		leaf, err = h.svc.Cheques.Cancel(ctx, actor, id, req.Remarks)
	case repository.ActionSettle:
		leaf, err = h.svc.Cheques.Settle(ctx, actor, id, req.Remarks)
	case repository.ActionVoid:
		leaf, err = h.svc.Cheques.Void(ctx, actor, id, req.Remarks)
	case repository.ActionMarkMissing:
		leaf, err = h.svc.Cheques.MarkMissing(ctx, actor, id, req.Remarks)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, leaf)
}

// stageLeafNote submits a non-issue leaf action. The request amount is the
// leaf's face value so reviewers see what is at stake.
func (h *HTTPHandler) stageLeafNote(w http.ResponseWriter, r *http.Request, id int64, action repository.ActionType, req NoteRequest) {
	leaf, err := h.svc.Cheques.GetLeaf(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	amount := decimal.Zero
	if leaf.Amount.Valid {
		amount = leaf.Amount.Decimal
	}
	h.stage(w, r, repository.EntityChequeLeaf, id, action, notePayloadOf(req), amount)
}

// notePayloadOf keeps only the text fields that were set.
func notePayloadOf(req NoteRequest) map[string]string {
	payload := map[string]string{}
	if req.Remarks != "" {
		payload["remarks"] = req.Remarks
	}
	if req.Reason != "" {
		payload["reason"] = req.Reason
	}
	return payload
}

// stage submits an approval request and answers 202.
func (h *HTTPHandler) stage(
	w http.ResponseWriter,
	r *http.Request,
	entityType repository.EntityType,
	entityID int64,
	action repository.ActionType,
	payload any,
	amount decimal.Decimal,
) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.writeError(w, r, errors.Wrap(err, errors.ErrCodeInternal, "encode approval payload"))
		return
	}
	req, err := h.svc.Approvals.Submit(r.Context(), actorOf(r), &service.SubmitRequest{
		EntityType: entityType,
		EntityID:   entityID,
		ActionType: action,
		Payload:    raw,
		Amount:     amount,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}
