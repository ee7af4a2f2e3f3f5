package domain

import "errors"

// Kind groups error codes into the broad classes callers branch on.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindAuthorization Kind = "authorization"
	KindConflict      Kind = "conflict"
	KindExpired       Kind = "expired"
	KindDependency    Kind = "dependency"
	KindInternal      Kind = "internal"
)

// Error carries a stable machine-readable code and a human message.
// Two errors are considered the same by errors.Is when their codes match.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Wrap returns a copy of e with cause attached.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// WithMessage returns a copy of e with a more specific message.
func (e *Error) WithMessage(msg string) *Error {
	cp := *e
	cp.Message = msg
	return &cp
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrInvalidRequest    = newError(KindValidation, "invalid_request", "invalid request")
	ErrInvalidAmount     = newError(KindValidation, "invalid_amount", "amount must be a positive number with at most two decimal places")
	ErrAmountTooLarge    = newError(KindValidation, "amount_exceeds_limit", "amount exceeds the transfer limit")
	ErrMissingRecipient  = newError(KindValidation, "missing_recipient", "provide recipient email or account number")
	ErrRecipientMismatch = newError(KindValidation, "recipient_email_mismatch", "email does not match the account provided")

	ErrUserNotFound           = newError(KindNotFound, "user_not_found", "user not found")
	ErrAccountNotFound        = newError(KindNotFound, "account_not_found", "account not found")
	ErrSenderNotFound         = newError(KindNotFound, "sender_not_found", "sender not found")
	ErrSenderAccountNotFound  = newError(KindNotFound, "sender_account_not_found", "sender account not found")
	ErrRecipientNotFound      = newError(KindNotFound, "recipient_not_found", "recipient not found")
	ErrRecipientHasNoAccounts = newError(KindNotFound, "recipient_has_no_accounts", "recipient has no accounts")
	ErrChallengeNotFound      = newError(KindNotFound, "challenge_not_found_or_expired", "challenge not found or expired")

	ErrUnauthenticated     = newError(KindAuthorization, "unauthenticated", "authentication required")
	ErrForbidden           = newError(KindAuthorization, "challenge_forbidden", "challenge does not belong to user")
	ErrInvalidOTP          = newError(KindAuthorization, "invalid_otp", "invalid OTP")
	ErrOTPAttemptsExceeded = newError(KindAuthorization, "otp_attempts_exceeded", "too many invalid OTP attempts, start a new transfer")
	ErrInvalidCredentials  = newError(KindAuthorization, "invalid_credentials", "incorrect password")

	ErrInsufficientBalance = newError(KindConflict, "insufficient_balance", "insufficient balance")
	ErrSelfTransfer        = newError(KindConflict, "self_transfer", "cannot transfer to your own account")
	ErrDuplicateTransfer   = newError(KindConflict, "duplicate_transfer", "transfer already executed for this request")

	ErrChallengeExpired = newError(KindExpired, "challenge_expired", "challenge expired")

	ErrNotificationFailure = newError(KindDependency, "otp_delivery_failed", "failed to send OTP")

	ErrInternal = newError(KindInternal, "internal_error", "internal server error")
)

// AsError extracts the *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal for anything untyped.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindInternal
}
