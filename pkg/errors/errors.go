// Package errors defines the error taxonomy for the reconciliation
// service. Errors carry a category, a specific code, optional context
// and a suggestion for the operator, plus a stack trace captured at
// construction time.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryExtraction    ErrorCategory = "extraction"
	CategoryMatching      ErrorCategory = "matching"
	CategoryCurrency      ErrorCategory = "currency"
	CategoryLedger        ErrorCategory = "ledger"
	CategoryRepository    ErrorCategory = "repository"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryNetwork       ErrorCategory = "network"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Extraction errors
	CodeExtractionMissing ErrorCode = "extraction_missing"
	CodeInvalidPayload    ErrorCode = "invalid_payload"

	// Matching errors
	CodeNoCandidatePool ErrorCode = "no_candidate_pool"
	CodeMatchingFailed  ErrorCode = "matching_failed"

	// Currency errors
	CodeRateLookupFailed ErrorCode = "rate_lookup_failed"
	CodeUnknownCurrency  ErrorCode = "unknown_currency"

	// Ledger errors
	CodeLedgerConflict         ErrorCode = "ledger_conflict"
	CodeInvalidChargeSelection ErrorCode = "invalid_charge_selection"
	CodeLedgerWriteFailed      ErrorCode = "ledger_write_failed"

	// Repository errors
	CodeShipmentNotFound ErrorCode = "shipment_not_found"
	CodeQueryFailed      ErrorCode = "query_failed"

	// Validation errors
	CodeMissingField ErrorCode = "missing_field"
	CodeInvalidData  ErrorCode = "invalid_data"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"

	// Network errors
	CodeConnectionFailed ErrorCode = "connection_failed"
	CodeTimeout          ErrorCode = "timeout"
)

// Context provides additional information about the error
type Context map[string]interface{}

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate process exit code for the error
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryExtraction, CategoryValidation:
		return 2
	case CategoryConfiguration:
		return 3
	case CategoryMatching, CategoryCurrency:
		return 4
	case CategoryLedger, CategoryRepository:
		return 5
	case CategoryNetwork:
		return 6
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// ExtractionError creates an extraction-related error
func ExtractionError(code ErrorCode, detail string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeExtractionMissing:
		message = fmt.Sprintf("extraction produced no charges: %s", detail)
		suggestion = "nothing to reconcile; re-run extraction if the invoice has line items"
	case CodeInvalidPayload:
		message = fmt.Sprintf("invalid extraction payload: %s", detail)
		suggestion = "check the extraction service output against the expected schema"
	default:
		message = fmt.Sprintf("extraction error: %s", detail)
		suggestion = "inspect the extracted invoice data"
	}

	return build(err, CategoryExtraction, code, message).
		WithSuggestion(suggestion).
		WithContext("detail", detail)
}

// MatchingError creates a matching-related error
func MatchingError(code ErrorCode, invoiceShipmentID string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeNoCandidatePool:
		message = fmt.Sprintf("no candidate shipments available for invoice shipment '%s'", invoiceShipmentID)
		suggestion = "a manual match is required; verify the shipment exists in the system"
	case CodeMatchingFailed:
		message = fmt.Sprintf("matching failed for invoice shipment '%s'", invoiceShipmentID)
		suggestion = "review the invoice references and try a manual match"
	default:
		message = fmt.Sprintf("matching error for invoice shipment '%s'", invoiceShipmentID)
		suggestion = "review the matching configuration"
	}

	return build(err, CategoryMatching, code, message).
		WithSuggestion(suggestion).
		WithContext("invoice_shipment_id", invoiceShipmentID)
}

// CurrencyError creates a currency-related error. These are recovered
// locally with an identity rate and never surface to users.
func CurrencyError(code ErrorCode, currency string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeRateLookupFailed:
		message = fmt.Sprintf("rate lookup failed for currency '%s'", currency)
		suggestion = "conversion degraded to identity rate; check the rate service"
	case CodeUnknownCurrency:
		message = fmt.Sprintf("unknown currency code '%s'", currency)
		suggestion = "conversion degraded to identity rate; verify the currency code"
	default:
		message = fmt.Sprintf("currency error for '%s'", currency)
		suggestion = "check the rate table"
	}

	return build(err, CategoryCurrency, code, message).
		WithSuggestion(suggestion).
		WithContext("currency", currency)
}

// LedgerError creates a ledger-mutation error. Ledger failures are the
// only hard errors propagated to callers.
func LedgerError(code ErrorCode, shipmentID string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeLedgerConflict:
		message = fmt.Sprintf("could not update charges for shipment '%s', try again", shipmentID)
		suggestion = "another writer updated this shipment concurrently; retry the operation"
	case CodeInvalidChargeSelection:
		message = fmt.Sprintf("invalid charge selection for shipment '%s'", shipmentID)
		suggestion = "refresh the comparison rows; the selected indices may be stale"
	case CodeLedgerWriteFailed:
		message = fmt.Sprintf("ledger write failed for shipment '%s'", shipmentID)
		suggestion = "check the billing store and retry"
	default:
		message = fmt.Sprintf("ledger error for shipment '%s'", shipmentID)
		suggestion = "check the ledger state"
	}

	return build(err, CategoryLedger, code, message).
		WithSuggestion(suggestion).
		WithContext("shipment_id", shipmentID)
}

// RepositoryError creates a shipment-repository error
func RepositoryError(code ErrorCode, detail string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeShipmentNotFound:
		message = fmt.Sprintf("shipment not found: %s", detail)
		suggestion = "verify the shipment id"
	case CodeQueryFailed:
		message = fmt.Sprintf("shipment query failed: %s", detail)
		suggestion = "check the repository connection"
	default:
		message = fmt.Sprintf("repository error: %s", detail)
		suggestion = "check the shipment repository"
	}

	return build(err, CategoryRepository, code, message).
		WithSuggestion(suggestion).
		WithContext("detail", detail)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeInvalidData:
		message = fmt.Sprintf("invalid data in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value"
	}

	return build(err, CategoryValidation, code, message).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(setting string, value interface{}, err error) *ReconcilerError {
	message := fmt.Sprintf("invalid configuration for '%s': %v", setting, value)

	return build(err, CategoryConfiguration, CodeInvalidConfig, message).
		WithSuggestion("check the configuration documentation for valid values").
		WithContext("setting", setting).
		WithContext("value", value)
}

// NetworkError creates a network-related error
func NetworkError(code ErrorCode, endpoint string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeTimeout:
		message = fmt.Sprintf("timeout connecting to %s", endpoint)
		suggestion = "increase the timeout setting or check network speed"
	default:
		message = fmt.Sprintf("connection failed to %s", endpoint)
		suggestion = "check network connectivity and endpoint availability"
	}

	return build(err, CategoryNetwork, code, message).
		WithSuggestion(suggestion).
		WithContext("endpoint", endpoint)
}

func build(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// IsReconcilerError checks if an error is a ReconcilerError
func IsReconcilerError(err error) bool {
	_, ok := err.(*ReconcilerError)
	return ok
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code ErrorCode) bool {
	if re, ok := AsReconcilerError(err); ok {
		return re.Code == code
	}
	return false
}
