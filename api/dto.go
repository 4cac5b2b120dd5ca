/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY REPRESENTATION:
  Amounts are accepted as JSON numbers and returned as fixed-two-decimal
  strings ("2500.00"). Parsing goes through advance.MoneyFromFloat at
  this boundary only; everything past the handlers is decimal.

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - advance/service.go: Domain inputs these convert into
*/
package api

import (
	"time"

	"github.com/warp/advance-engine/advance"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// AdvanceDTO represents a payment request in API responses.
type AdvanceDTO struct {
	ID                       string  `json:"id"`
	EmployeeID               string  `json:"employee_id"`
	RequestNumber            string  `json:"request_number"`
	Principal                string  `json:"principal"`
	InstallmentCount         int     `json:"installment_count"`
	OriginalInstallmentCount int     `json:"original_installment_count"`
	MonthlyDeduction         string  `json:"monthly_deduction"`
	Priority                 string  `json:"priority"`
	IsEmergency              bool    `json:"is_emergency"`
	Purpose                  string  `json:"purpose"`
	Status                   string  `json:"status"`
	RemainingBalance         string  `json:"remaining_balance"`
	PaidInstallments         int     `json:"paid_installments"`
	TotalSkips               int     `json:"total_skips"`
	StartDate                *string `json:"start_date,omitempty"`
	CompletionDate           *string `json:"completion_date,omitempty"`
	CancelReason             string  `json:"cancel_reason,omitempty"`
	RequestedBy              string  `json:"requested_by"`
	ApprovedBy               string  `json:"approved_by,omitempty"`
	Version                  int     `json:"version"`
	CreatedAt                string  `json:"created_at,omitempty"`
	UpdatedAt                string  `json:"updated_at,omitempty"`
}

// CreateAdvanceRequest is the request to create a payment request.
type CreateAdvanceRequest struct {
	EmployeeID   string  `json:"employee_id"`
	Principal    float64 `json:"principal"`
	Installments int     `json:"installments"`
	Priority     string  `json:"priority,omitempty"`
	IsEmergency  bool    `json:"is_emergency,omitempty"`
	Purpose      string  `json:"purpose"`
	RequestedBy  string  `json:"requested_by"`
}

// ApproveRequest is the request body for the approve transition.
type ApproveRequest struct {
	Approver string `json:"approver"`
}

// CancelRequest is the request body for the cancel transition.
type CancelRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

// ApplyDeductionRequest records one payroll cycle. A zero amount (or an
// absent field) records a skip for that cycle.
type ApplyDeductionRequest struct {
	Amount      float64 `json:"amount"`
	ProcessedBy string  `json:"processed_by"`
	PaymentDate string  `json:"payment_date,omitempty"` // YYYY-MM-DD, defaults to today
}

// SetMonthlyDeductionRequest tunes the nominal installment amount.
type SetMonthlyDeductionRequest struct {
	Amount float64 `json:"amount"`
	Actor  string  `json:"actor"`
}

// LedgerEntryDTO represents one immutable ledger entry.
type LedgerEntryDTO struct {
	ID                string `json:"id"`
	PaymentID         string `json:"payment_id"`
	InstallmentNumber int    `json:"installment_number"`
	Kind              string `json:"kind"`
	Amount            string `json:"amount"`
	PaymentDate       string `json:"payment_date"`
	ProcessedBy       string `json:"processed_by"`
	CreatedAt         string `json:"created_at,omitempty"`
}

// ProgressDTO carries the fields derived from the ledger.
type ProgressDTO struct {
	Percent             int    `json:"percent"`
	PaidInstallments    int    `json:"paid_installments"`
	TotalSkips          int    `json:"total_skips"`
	InstallmentCount    int    `json:"installment_count"`
	ExtraInstallments   int    `json:"extra_installments"`
	DeductedTotal       string `json:"deducted_total"`
	RemainingBalance    string `json:"remaining_balance"`
	TrailingInstallment string `json:"trailing_installment"`
}

// AdvanceDetailDTO is the full view: request + ledger + derived progress.
type AdvanceDetailDTO struct {
	AdvanceDTO
	Progress ProgressDTO      `json:"progress"`
	Ledger   []LedgerEntryDTO `json:"ledger"`
}

// AdvanceListItemDTO is one listing row with its derived progress.
type AdvanceListItemDTO struct {
	AdvanceDTO
	Progress ProgressDTO `json:"progress"`
}

// ApplyDeductionResponse returns the appended entry alongside the
// advance as it stands after the cycle committed.
type ApplyDeductionResponse struct {
	Entry    LedgerEntryDTO `json:"entry"`
	Advance  AdvanceDTO     `json:"advance"`
	Progress ProgressDTO    `json:"progress"`
}

// EmployeeDTO represents an employee reference record.
type EmployeeDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Department string `json:"department,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// CreateEmployeeRequest is the request to register an employee.
type CreateEmployeeRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Department string `json:"department,omitempty"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toAdvanceDTO(r *advance.PaymentRequest) AdvanceDTO {
	return AdvanceDTO{
		ID:                       string(r.ID),
		EmployeeID:               string(r.EmployeeID),
		RequestNumber:            r.RequestNumber,
		Principal:                r.Principal.String(),
		InstallmentCount:         r.InstallmentCount,
		OriginalInstallmentCount: r.OriginalInstallmentCount,
		MonthlyDeduction:         r.MonthlyDeduction.String(),
		Priority:                 string(r.Priority),
		IsEmergency:              r.IsEmergency,
		Purpose:                  r.Purpose,
		Status:                   string(r.Status),
		RemainingBalance:         r.RemainingBalance.String(),
		PaidInstallments:         r.PaidInstallments,
		TotalSkips:               r.TotalSkips,
		StartDate:                dateStr(r.StartDate),
		CompletionDate:           dateStr(r.CompletionDate),
		CancelReason:             r.CancelReason,
		RequestedBy:              string(r.RequestedBy),
		ApprovedBy:               string(r.ApprovedBy),
		Version:                  r.Version,
		CreatedAt:                r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:                r.UpdatedAt.Format(time.RFC3339),
	}
}

func toProgressDTO(p advance.Progress) ProgressDTO {
	return ProgressDTO{
		Percent:             p.Percent,
		PaidInstallments:    p.PaidInstallments,
		TotalSkips:          p.TotalSkips,
		InstallmentCount:    p.InstallmentCount,
		ExtraInstallments:   p.ExtraInstallments,
		DeductedTotal:       p.DeductedTotal.String(),
		RemainingBalance:    p.RemainingBalance.String(),
		TrailingInstallment: p.TrailingInstallment.String(),
	}
}

func toLedgerEntryDTO(e advance.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:                string(e.ID),
		PaymentID:         string(e.PaymentID),
		InstallmentNumber: e.InstallmentNumber,
		Kind:              string(e.Kind),
		Amount:            e.Amount.String(),
		PaymentDate:       e.PaymentDate.Format("2006-01-02"),
		ProcessedBy:       string(e.ProcessedBy),
		CreatedAt:         e.CreatedAt.Format(time.RFC3339),
	}
}

func toLedgerEntryDTOs(entries []advance.LedgerEntry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toLedgerEntryDTO(e)
	}
	return dtos
}

func dateStr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format("2006-01-02")
	return &s
}
