package handler

import (
	"net/http"

	"github.com/pesio-ai/be-tr-cheques/internal/repository"
	"github.com/pesio-ai/be-tr-cheques/internal/service"
)

// RejectRequest is the body of POST /approvals/{id}/reject.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// SubmitApproval stages an arbitrary supported action.
func (h *HTTPHandler) SubmitApproval(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}
	staged, err := h.svc.Approvals.Submit(r.Context(), actorOf(r), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, staged)
}

func (h *HTTPHandler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := parseLimit(query.Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	requests, err := h.svc.Approvals.List(r.Context(), repository.ApprovalFilter{
		Status:      repository.ApprovalStatus(query.Get("status")),
		EntityType:  repository.EntityType(query.Get("entityType")),
		RequestedBy: query.Get("requestedBy"),
		Limit:       limit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvalRequests": nonNil(requests)})
}

func (h *HTTPHandler) GetApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	req, err := h.svc.Approvals.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// Approve decides a pending request and applies its action.
func (h *HTTPHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	out, err := h.svc.Approvals.Approve(r.Context(), actorOf(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req RejectRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.svc.Approvals.Reject(r.Context(), actorOf(r), id, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
