package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/railzwaylabs/revshare/internal/ledger/domain"
	payoutdomain "github.com/railzwaylabs/revshare/internal/payout/domain"
	disbursementdomain "github.com/railzwaylabs/revshare/internal/providers/disbursement/domain"
	settlementdomain "github.com/railzwaylabs/revshare/internal/settlement/domain"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
)

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type validationError struct {
	field   string
	message string
}

func (e *validationError) Error() string { return e.message }

func (e *validationError) Unwrap() error { return ErrInvalidRequest }

func newValidationError(field, message string) error {
	return &validationError{field: field, message: message}
}

func invalidRequestError() error {
	return ErrInvalidRequest
}

// AbortWithError maps domain sentinels to HTTP statuses. Unknown errors are
// reported as internal without leaking their text.
func AbortWithError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

func errorResponse(err error) (int, errorBody) {
	var verr *validationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, errorBody{Type: ErrInvalidRequest.Error(), Message: verr.message, Field: verr.field}
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		return status, errorBody{Type: "internal_error", Message: "internal error"}
	}
	return status, errorBody{Type: rootCode(err), Message: err.Error()}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, disbursementdomain.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, settlementdomain.ErrInvalidPeriod),
		errors.Is(err, disbursementdomain.ErrMalformedWebhook),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidAccount),
		errors.Is(err, payoutdomain.ErrInvalidStatus),
		errors.Is(err, payoutdomain.ErrAlreadySettled):
		return http.StatusBadRequest
	case errors.Is(err, payoutdomain.ErrNotFound),
		errors.Is(err, settlementdomain.ErrRunNotFound),
		errors.Is(err, settlementdomain.ErrInvestorNotFound),
		errors.Is(err, disbursementdomain.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, settlementdomain.ErrRunAlreadyExists),
		errors.Is(err, settlementdomain.ErrSettlementLocked),
		errors.Is(err, payoutdomain.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// rootCode returns the innermost error text, which for sentinels is their
// snake_case code.
func rootCode(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
