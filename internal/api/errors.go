package api

import (
	"net/http"

	"github.com/punchamoorthee/bankops/internal/domain"
)

// statusByCode overrides the default status of a kind for specific codes.
// The values follow what the web client has always received.
var statusByCode = map[string]int{
	domain.ErrRecipientHasNoAccounts.Code: http.StatusBadRequest,
	domain.ErrChallengeNotFound.Code:      http.StatusBadRequest,
	domain.ErrForbidden.Code:              http.StatusForbidden,
	domain.ErrInvalidOTP.Code:             http.StatusBadRequest,
	domain.ErrOTPAttemptsExceeded.Code:    http.StatusBadRequest,
	domain.ErrInsufficientBalance.Code:    http.StatusBadRequest,
	domain.ErrSelfTransfer.Code:           http.StatusBadRequest,
	domain.ErrNotificationFailure.Code:    http.StatusInternalServerError,
}

var statusByKind = map[domain.Kind]int{
	domain.KindValidation:    http.StatusBadRequest,
	domain.KindNotFound:      http.StatusNotFound,
	domain.KindAuthorization: http.StatusUnauthorized,
	domain.KindConflict:      http.StatusConflict,
	domain.KindExpired:       http.StatusBadRequest,
	domain.KindDependency:    http.StatusBadGateway,
	domain.KindInternal:      http.StatusInternalServerError,
}

// errorStatus returns the HTTP status and the domain error to report for err.
// Errors outside the domain taxonomy are reported as internal.
func errorStatus(err error) (int, *domain.Error) {
	e, ok := domain.AsError(err)
	if !ok {
		return http.StatusInternalServerError, domain.ErrInternal
	}
	if status, ok := statusByCode[e.Code]; ok {
		return status, e
	}
	if status, ok := statusByKind[e.Kind]; ok {
		return status, e
	}
	return http.StatusInternalServerError, e
}
