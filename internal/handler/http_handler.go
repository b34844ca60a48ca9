package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
	"github.com/pesio-ai/be-tr-cheques/internal/platform/logger"
	"github.com/pesio-ai/be-tr-cheques/internal/platform/middleware"
	"github.com/pesio-ai/be-tr-cheques/internal/service"
)

const maxBodyBytes = 1 << 20

// HTTPHandler serves the JSON API.
type HTTPHandler struct {
	svc       *service.Services
	threshold decimal.Decimal
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler. Issue and receive requests at or
// above threshold are routed through the approval gate; a zero threshold
// leaves routing to the caller's requireApproval flag.
func NewHTTPHandler(svc *service.Services, threshold decimal.Decimal, log *logger.Logger) *HTTPHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPHandler{svc: svc, threshold: threshold, log: log}
}

// Routes mounts the API under r.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Route("/cheque-books", func(r chi.Router) {
		r.Post("/", h.CreateChequeBook)
		r.Get("/", h.ListChequeBooks)
		r.Get("/{id}", h.GetChequeBook)
		r.Get("/{id}/leaves", h.ListLeaves)
		r.Post("/{id}/deactivate", h.DeactivateChequeBook)
		r.Post("/{id}/issue-next", h.IssueNext)
	})

	r.Route("/cheques", func(r chi.Router) {
		r.Get("/", h.GetLeaves)
		r.Get("/{id}", h.GetLeaf)
		r.Post("/{id}/issue", h.IssueLeaf)
		r.Post("/{id}/print", h.RecordPrint)
		r.Post("/{id}/mark-due", h.MarkLeafDue)
		r.Post("/{id}/{action}", h.ResolveLeaf)
	})

	r.Route("/incoming-cheques", func(r chi.Router) {
		r.Post("/", h.ReceiveCheque)
		r.Get("/", h.ListIncoming)
		r.Get("/{id}", h.GetIncoming)
		r.Post("/{id}/mark-due", h.MarkIncomingDue)
		r.Post("/{id}/{action}", h.TransitionIncoming)
	})

	r.Route("/approvals", func(r chi.Router) {
		r.Post("/", h.SubmitApproval)
		r.Get("/", h.ListApprovals)
		r.Get("/{id}", h.GetApproval)
		r.Post("/{id}/approve", h.Approve)
		r.Post("/{id}/reject", h.Reject)
	})

	r.Route("/exposure", func(r chi.Router) {
		r.Get("/summary", h.ExposureSummary)
		r.Get("/outgoing", h.OutgoingDetails)
		r.Get("/incoming", h.IncomingDetails)
	})

	r.Get("/audit", h.QueryAudit)
	r.Post("/scheduler/sweep-due", h.SweepDue)
}

// needsApproval is true when the caller asks for approval or the amount is
// at or above the configured threshold.
func (h *HTTPHandler) needsApproval(requested bool, amount decimal.Decimal) bool {
	return requiresApproval(h.threshold, requested, amount)
}

// ── Cheque books ──────────────────────────────────────────────────────────────

// CreateChequeBook handles create cheque book HTTP requests
func (h *HTTPHandler) CreateChequeBook(w http.ResponseWriter, r *http.Request) {
	var req service.CreateChequeBookRequest
	if !h.decode(w, r, &req) {
		return
	}

	book, err := h.svc.Books.CreateChequeBook(r.Context(), actorOf(r), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (h *HTTPHandler) ListChequeBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.svc.Books.ListChequeBooks(r.Context(), r.URL.Query().Get("accountId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chequeBooks": nonNil(books)})
}

func (h *HTTPHandler) GetChequeBook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	book, err := h.svc.Books.GetChequeBook(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *HTTPHandler) ListLeaves(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	leaves, err := h.svc.Books.ListLeaves(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaves": nonNil(leaves)})
}

func (h *HTTPHandler) DeactivateChequeBook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	book, err := h.svc.Books.DeactivateChequeBook(r.Context(), actorOf(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      errors.Code `json:"code"`
	Message   string      `json:"message"`
	Field     string      `json:"field,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
}

// httpStatus maps an error code onto a response status.
func httpStatus(code errors.Code) int {
	switch code {
	case errors.ErrCodeValidation, errors.ErrCodeInvalidRange:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeOverlappingRange, errors.ErrCodeIllegalTransition, errors.ErrCodeDuplicatePending,
		errors.ErrCodeAlreadyDecided, errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeSelfApproval:
		return http.StatusForbidden
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrCodeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	status := httpStatus(code)

	detail := errorDetail{Code: code, Message: err.Error(), RequestID: middleware.RequestIDFrom(r.Context())}
	var appErr *errors.Error
	if errors.As(err, &appErr) {
		detail.Field = appErr.Field
		if appErr.Message != "" {
			detail.Message = appErr.Message
		}
	}
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("request_id", detail.RequestID).
			Str("path", r.URL.Path).
			Msg("Request failed")
		if status == http.StatusInternalServerError {
			detail.Message = "internal server error"
		}
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body, rejecting unknown fields. An empty body decodes
// to the zero value.
func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body: "+err.Error()))
		return false
	}
	return true
}

func (h *HTTPHandler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, r, errors.InvalidInput("id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}

// parseIDs reads a comma separated id list such as ?ids=1,2,3.
func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.InvalidInput("ids", "must be a comma separated list of positive integers")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// splitList splits a comma separated query value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func actorOf(r *http.Request) string {
	actor, _ := middleware.ActorFrom(r.Context())
	return actor
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
