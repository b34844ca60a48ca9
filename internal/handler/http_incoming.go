package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
	"github.com/pesio-ai/be-tr-cheques/internal/service"
)

// ReceiveChequeRequest is the body of POST /incoming-cheques.
type ReceiveChequeRequest struct {
	service.ReceiveRequest
	RequireApproval bool `json:"requireApproval,omitempty"`
}

var incomingTransitions = map[string]repository.ActionType{
	"deposit": repository.ActionDeposit,
	"clear":   repository.ActionClear,
	"bounce":  repository.ActionBounce,
	"return":  repository.ActionReturn,
	"settle":  repository.ActionSettle,
}

// ReceiveCheque records a received cheque, or stages the receipt.
func (h *HTTPHandler) ReceiveCheque(w http.ResponseWriter, r *http.Request) {
	var req ReceiveChequeRequest
	if !h.decode(w, r, &req) {
		return
	}

	if h.needsApproval(req.RequireApproval, req.Amount) {
		h.stage(w, r, repository.EntityIncomingCheque, 0, repository.ActionReceive, req.ReceiveRequest, req.Amount)
		return
	}

	cheque, err := h.svc.Incoming.Receive(r.Context(), actorOf(r), &req.ReceiveRequest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cheque)
}

// ListIncoming handles GET /incoming-cheques. ?ids= fetches specific
// cheques; otherwise status, customerId and limit filter the list.
func (h *HTTPHandler) ListIncoming(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if raw := query.Get("ids"); raw != "" {
		ids, err := parseIDs(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		cheques, err := h.svc.Incoming.GetMany(r.Context(), ids)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"incomingCheques": nonNil(cheques)})
		return
	}

	limit, err := parseLimit(query.Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cheques, err := h.svc.Incoming.List(r.Context(), repository.IncomingFilter{
		Status:     repository.IncomingStatus(query.Get("status")),
		CustomerID: query.Get("customerId"),
		Limit:      limit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incomingCheques": nonNil(cheques)})
}

func (h *HTTPHandler) GetIncoming(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	cheque, err := h.svc.Incoming.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cheque)
}

func (h *HTTPHandler) MarkIncomingDue(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req MarkDueRequest
	if !h.decode(w, r, &req) {
		return
	}
	cheque, err := h.svc.Incoming.MarkDue(r.Context(), actorOf(r), id, req.AsOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cheque)
}

// TransitionIncoming handles deposit, clear, bounce, return and settle.
func (h *HTTPHandler) TransitionIncoming(w http.ResponseWriter, r *http.Request) {
	action, ok := incomingTransitions[chi.URLParam(r, "action")]
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

	ctx, actor := r.Context(), actorOf(r)
	if req.RequireApproval {
		cheque, err := h.svc.Incoming.Get(ctx, id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.stage(w, r, repository.EntityIncomingCheque, id, action, notePayloadOf(req), cheque.Amount)
		return
	}

	var (
		cheque *repository.IncomingCheque
		err    error
	)
	switch action {
	case repository.ActionDeposit:
		cheque, err = h.svc.Incoming.Deposit(ctx, actor, id)
	case repository.ActionClear:
		cheque, err = h.svc.Incoming.Clear(ctx, actor, id, req.Remarks)
	case repository.ActionBounce:
		cheque, err = h.svc.Incoming.Bounce(ctx, actor, id, firstNonEmpty(req.Reason, req.Remarks))
	case repository.ActionReturn:
		cheque, err = h.svc.Incoming.Return(ctx, actor, id, firstNonEmpty(req.Reason, req.Remarks))
	case repository.ActionSettle:
		cheque, err = h.svc.Incoming.Settle(ctx, actor, id, req.Remarks)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cheque)
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.InvalidInput("limit", "must be a non-negative integer")
	}
	return limit, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
