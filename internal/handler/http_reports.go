package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
	"github.com/pesio-ai/be-tr-cheques/internal/service"
)

// SweepRequest is the body of POST /scheduler/sweep-due. AsOf defaults to
// today in UTC.
type SweepRequest struct {
	AsOf string `json:"asOf,omitempty"`
}

func (h *HTTPHandler) ExposureSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Exposure.Summary(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// OutgoingDetails handles GET /exposure/outgoing?status=ISSUED,DUE
func (h *HTTPHandler) OutgoingDetails(w http.ResponseWriter, r *http.Request) {
	var statuses []repository.LeafStatus
	for _, s := range splitList(r.URL.Query().Get("status")) {
		statuses = append(statuses, repository.LeafStatus(s))
	}
	leaves, err := h.svc.Exposure.OutgoingDetails(r.Context(), statuses)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaves": nonNil(leaves)})
}

// IncomingDetails handles GET /exposure/incoming?status=PENDING,DUE
func (h *HTTPHandler) IncomingDetails(w http.ResponseWriter, r *http.Request) {
	var statuses []repository.IncomingStatus
	for _, s := range splitList(r.URL.Query().Get("status")) {
		statuses = append(statuses, repository.IncomingStatus(s))
	}
	cheques, err := h.svc.Exposure.IncomingDetails(r.Context(), statuses)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incomingCheques": nonNil(cheques)})
}

// QueryAudit handles GET /audit. from and until are RFC 3339 timestamps.
func (h *HTTPHandler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	aq := service.AuditQuery{
		EntityType: repository.EntityType(query.Get("entityType")),
		Username:   query.Get("username"),
		Action:     query.Get("action"),
		Cursor:     query.Get("cursor"),
	}

	if raw := query.Get("entityId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			h.writeError(w, r, errors.InvalidInput("entityId", "must be a non-negative integer"))
			return
		}
		aq.EntityID = &id
	}
	for field, dst := range map[string]**time.Time{"from": &aq.From, "until": &aq.Until} {
		raw := query.Get(field)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, r, errors.InvalidInput(field, "must be an RFC 3339 timestamp"))
			return
		}
		*dst = &ts
	}
	limit, err := parseLimit(query.Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	aq.Limit = limit

	page, err := h.svc.Audit.Query(r.Context(), aq)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page.Entries = nonNil(page.Entries)
	writeJSON(w, http.StatusOK, page)
}

// SweepDue runs the daily due sweep on demand.
func (h *HTTPHandler) SweepDue(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.AsOf == "" {
		req.AsOf = time.Now().UTC().Format(time.DateOnly)
	}
	result, err := h.svc.Sweeper.SweepDue(r.Context(), actorOf(r), req.AsOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
