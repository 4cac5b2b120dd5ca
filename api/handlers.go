/*
handlers.go - HTTP API handlers for the advance payment engine

PURPOSE:
  Exposes the advance lifecycle engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Advances:
    GET    /api/advances                        List (filter + pagination)
    POST   /api/advances                        Create payment request
    GET    /api/advances/{id}                   Full detail + ledger + progress
    POST   /api/advances/{id}/approve           pending -> approved
    POST   /api/advances/{id}/activate          approved -> active
    POST   /api/advances/{id}/cancel            any non-terminal -> cancelled
    POST   /api/advances/{id}/deductions        Record one payroll cycle
    PUT    /api/advances/{id}/monthly-deduction Tune nominal installment
    GET    /api/advances/{id}/ledger            Ledger entries only

  Employees:
    GET    /api/employees                 List employee references
    POST   /api/employees                 Register employee reference
    GET    /api/employees/{id}            Get employee reference
    GET    /api/employees/{id}/advances   Advances for one employee

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (service, processor, projection)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Domain errors map to HTTP status via handleDomainError:
  - 400: Validation errors (malformed input)
  - 404: Unknown payment id / employee
  - 409: Operations forbidden by the current status, version
         conflicts, duplicate installment numbers
  - 500: Everything else

SECURITY NOTE:
  Currently NO authentication or authorization. The actor fields in
  request bodies are trusted as-is; an upstream gateway must vouch for
  them before this runs anywhere real.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/advance-engine/advance"
	"github.com/warp/advance-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *advance.Service
	Store   *sqlite.Store
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{
		Service: advance.NewService(store),
		Store:   store,
	}
}

// =============================================================================
// ADVANCE HANDLERS
// =============================================================================

// CreateAdvance creates a new payment request in 'pending'.
// POST /api/advances
func (h *Handler) CreateAdvance(w http.ResponseWriter, r *http.Request) {
	var req CreateAdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	created, err := h.Service.CreateRequest(r.Context(), advance.CreateInput{
		EmployeeID:   advance.EmployeeID(req.EmployeeID),
		Principal:    advance.MoneyFromFloat(req.Principal),
		Installments: req.Installments,
		Priority:     advance.Priority(req.Priority),
		IsEmergency:  req.IsEmergency,
		Purpose:      req.Purpose,
		RequestedBy:  advance.ActorID(req.RequestedBy),
	})
	if err != nil {
		handleDomainError(w, "Failed to create advance", err)
		return
	}

	writeJSON(w, http.StatusCreated, toAdvanceDTO(created))
}

// parseListQuery builds the filter and page from the query string. On a
// bad value it writes the 400 itself and reports ok=false.
func parseListQuery(w http.ResponseWriter, r *http.Request) (f advance.Filter, page advance.Page, ok bool) {
	q := r.URL.Query()

	if v := q.Get("status"); v != "" {
		status := advance.Status(v)
		if !advance.ValidStatus(status) {
			writeError(w, http.StatusBadRequest, "Unknown status: "+v, nil)
			return f, page, false
		}
		f.Status = &status
	}
	if v := q.Get("priority"); v != "" {
		priority := advance.Priority(v)
		if !advance.ValidPriority(priority) {
			writeError(w, http.StatusBadRequest, "Unknown priority: "+v, nil)
			return f, page, false
		}
		f.Priority = &priority
	}
	if v := q.Get("employee_id"); v != "" {
		id := advance.EmployeeID(v)
		f.EmployeeID = &id
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
			return f, page, false
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
			return f, page, false
		}
		// Inclusive through end of day.
		t = t.Add(24*time.Hour - time.Nanosecond)
		f.To = &t
	}
	f.Search = q.Get("q")

	page.Limit = 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return f, page, false
		}
		// limit=0 keeps the default page size; no query string can
		// disable pagination.
		if n > 0 {
			page.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset", err)
			return f, page, false
		}
		page.Offset = n
	}
	return f, page, true
}

func (h *Handler) writeAdvanceList(w http.ResponseWriter, r *http.Request, f advance.Filter, page advance.Page) {
	items, err := h.Service.List(r.Context(), f, page)
	if err != nil {
		handleDomainError(w, "Failed to list advances", err)
		return
	}

	dtos := make([]AdvanceListItemDTO, len(items))
	for i, item := range items {
		dtos[i] = AdvanceListItemDTO{
			AdvanceDTO: toAdvanceDTO(item.Request),
			Progress:   toProgressDTO(item.Progress),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListAdvances returns filtered requests, newest first, with progress
// derived per row.
// GET /api/advances?status=&priority=&employee_id=&from=&to=&q=&limit=&offset=
func (h *Handler) ListAdvances(w http.ResponseWriter, r *http.Request) {
	f, page, ok := parseListQuery(w, r)
	if !ok {
		return
	}
	h.writeAdvanceList(w, r, f, page)
}

// GetAdvance returns the full view: request, ledger, derived progress.
// GET /api/advances/{id}
func (h *Handler) GetAdvance(w http.ResponseWriter, r *http.Request) {
	id := advance.PaymentID(chi.URLParam(r, "id"))

	details, err := h.Service.GetDetails(r.Context(), id)
	if err != nil {
		handleDomainError(w, "Failed to get advance", err)
		return
	}

	writeJSON(w, http.StatusOK, AdvanceDetailDTO{
		AdvanceDTO: toAdvanceDTO(details.Request),
		Progress:   toProgressDTO(details.Progress),
		Ledger:     toLedgerEntryDTOs(details.Entries),
	})
}

// ApproveAdvance moves a pending request to approved.
// POST /api/advances/{id}/approve
func (h *Handler) ApproveAdvance(w http.ResponseWriter, r *http.Request) {
	id := advance.PaymentID(chi.URLParam(r, "id"))

	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	updated, err := h.Service.Approve(r.Context(), id, advance.ActorID(req.Approver))
	if err != nil {
		handleDomainError(w, "Failed to approve advance", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(updated))
}

// ActivateAdvance starts repayment on an approved request.
// POST /api/advances/{id}/activate
func (h *Handler) ActivateAdvance(w http.ResponseWriter, r *http.Request) {
	id := advance.PaymentID(chi.URLParam(r, "id"))

	updated, err := h.Service.Activate(r.Context(), id)
	if err != nil {
		handleDomainError(w, "Failed to activate advance", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(updated))
}

// CancelAdvance terminates a non-completed request. Requires a reason.
// POST /api/advances/{id}/cancel
func (h *Handler) CancelAdvance(w http.ResponseWriter, r *http.Request) {
	id := advance.PaymentID(chi.URLParam(r, "id"))

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	updated, err := h.Service.Cancel(r.Context(), id, req.Reason, advance.ActorID(req.Actor))
	if err != nil {
		handleDomainError(w, "Failed to cancel advance", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(updated))
}

// ApplyDeduction records one payroll cycle against an active advance.
// A zero amount records a skip.
// POST /api/advances/{id}/deductions
func (h *Handler) ApplyDeduction(w http.ResponseWriter, r *http.Request) {
	id := advance.PaymentID(chi.URLParam(r, "id"))

	var req ApplyDeductionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	paymentDate := time.Now().UTC().Truncate(24 * time.Hour)
	if req.PaymentDate != "" {
		t, err := time.Parse("2006-01-02", req.PaymentDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid payment_date (use YYYY-MM-DD)", err)
			return
		}
		paymentDate = t
	}

	entry, err := h.Service.ApplyDeduction(r.Context(), id,
		advance.MoneyFromFloat(req.Amount),
		advance.ActorID(req.ProcessedBy), paymentDate)
	if err != nil {
		handleDomainError(w, "Failed to apply deduction", err)
		return
	}

	details, err := h.Service.GetDetails(r.Context(), id)
	if err != nil {
		handleDomainError(w, "Failed to load advance after deduction", err)
		return
	}

	writeJSON(w, http.StatusCreated, ApplyDeductionResponse{
		Entry:    toLedgerEntryDTO(*entry),
		Advance:  toAdvanceDTO(details.Request),
		Progress: toProgressDTO(details.Progress),
	})
}

// SetMonthlyDeduction tunes the nominal installment before activation.
// PUT /api/advances/{id}/monthly-deduction
func (h *Handler) SetMonthlyDeduction(w http.ResponseWriter, r *http.Request) {
	id := advance.PaymentID(chi.URLParam(r, "id"))

	var req SetMonthlyDeductionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	updated, err := h.Service.SetMonthlyDeduction(r.Context(), id,
		advance.MoneyFromFloat(req.Amount), advance.ActorID(req.Actor))
	if err != nil {
		handleDomainError(w, "Failed to set monthly deduction", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(updated))
}

// GetLedger returns the ledger entries for an advance.
// GET /api/advances/{id}/ledger
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id := advance.PaymentID(chi.URLParam(r, "id"))

	details, err := h.Service.GetDetails(r.Context(), id)
	if err != nil {
		handleDomainError(w, "Failed to get ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerEntryDTOs(details.Entries))
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employee references.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = EmployeeDTO{
			ID:         e.ID,
			Name:       e.Name,
			Email:      e.Email,
			Department: e.Department,
			CreatedAt:  e.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee reference.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	emp, err := h.Store.GetEmployee(r.Context(), id)
	if err != nil {
		handleDomainError(w, "Failed to get employee", err)
		return
	}

	writeJSON(w, http.StatusOK, EmployeeDTO{
		ID:         emp.ID,
		Name:       emp.Name,
		Email:      emp.Email,
		Department: emp.Department,
		CreatedAt:  emp.CreatedAt.Format(time.RFC3339),
	})
}

// ListEmployeeAdvances returns one employee's advances, same query
// surface as ListAdvances with the employee fixed by the path.
// GET /api/employees/{id}/advances
func (h *Handler) ListEmployeeAdvances(w http.ResponseWriter, r *http.Request) {
	f, page, ok := parseListQuery(w, r)
	if !ok {
		return
	}
	id := advance.EmployeeID(chi.URLParam(r, "id"))
	f.EmployeeID = &id
	h.writeAdvanceList(w, r, f, page)
}

// CreateEmployee registers an employee reference.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	emp := sqlite.Employee{
		ID:         req.ID,
		Name:       req.Name,
		Email:      req.Email,
		Department: req.Department,
	}
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save employee", err)
		return
	}

	writeJSON(w, http.StatusCreated, EmployeeDTO{
		ID:         emp.ID,
		Name:       emp.Name,
		Email:      emp.Email,
		Department: emp.Department,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// handleDomainError maps domain errors to HTTP status codes. Conflict
// classes are checked before the broader client-error class: a request
// whose current status forbids the operation is a 409 against that
// state, not a malformed input, and duplicate installments fall in both
// classes.
func handleDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case advance.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, advance.ErrConcurrentModification),
		errors.Is(err, advance.ErrDuplicateInstallment),
		errors.Is(err, advance.ErrIllegalState),
		errors.Is(err, advance.ErrIllegalTransition):
		writeError(w, http.StatusConflict, message, err)
	case advance.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
