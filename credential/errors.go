package credential

import (
	"errors"
	"fmt"
)

// Code identifies a failure of the credential lifecycle.
type Code string

// Error codes
const (
	CodeTenantNotConfigured Code = "tenant_not_configured"
	CodeClientSecretMissing Code = "client_secret_missing"
	CodeNotConnected        Code = "not_connected"
	CodeExchangeFailed      Code = "exchange_failed"
	CodeRefreshFailed       Code = "refresh_failed"
	CodeTenantNotFound      Code = "tenant_not_found"
	CodeInvalidState        Code = "invalid_state"
	CodeInvalidRequest      Code = "invalid_request"
	CodeNotMember           Code = "not_member"
)

// Kind groups codes by who has to act on them.
type Kind int

const (
	// KindConfiguration errors need a tenant administrator
	KindConfiguration Kind = iota + 1

	// KindConnection errors need the principal to (re)connect their account
	KindConnection

	// KindRequest errors are caused by bad caller input
	KindRequest
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindConnection:
		return "connection"
	case KindRequest:
		return "request"
	default:
		return "unknown"
	}
}

// KindOf returns the kind of a code.
func KindOf(code Code) Kind {
	switch code {
	case CodeTenantNotConfigured, CodeClientSecretMissing:
		return KindConfiguration
	case CodeNotConnected, CodeRefreshFailed, CodeExchangeFailed:
		return KindConnection
	default:
		return KindRequest
	}
}

// Error is returned by every credential operation that fails for a reason in
// the taxonomy above. Infrastructure failures (storage unreachable) are
// returned as plain wrapped errors instead.
type Error struct {
	Code        Code
	Op          string
	TenantID    string
	PrincipalID string
	Err         error
}

// Sentinels for errors.Is
var (
	ErrTenantNotConfigured = &Error{Code: CodeTenantNotConfigured}
	ErrClientSecretMissing = &Error{Code: CodeClientSecretMissing}
	ErrNotConnected        = &Error{Code: CodeNotConnected}
	ErrExchangeFailed      = &Error{Code: CodeExchangeFailed}
	ErrRefreshFailed       = &Error{Code: CodeRefreshFailed}
	ErrTenantNotFound      = &Error{Code: CodeTenantNotFound}
	ErrInvalidState        = &Error{Code: CodeInvalidState}
	ErrInvalidRequest      = &Error{Code: CodeInvalidRequest}
	ErrNotMember           = &Error{Code: CodeNotMember}
)

// ErrNoRefreshToken is wrapped by RefreshFailed when the record cannot be refreshed at all
var ErrNoRefreshToken = errors.New("no refresh token stored")

func newError(code Code, op, tenantID, principalID string, err error) *Error {
	return &Error{
		Code:        code,
		Op:          op,
		TenantID:    tenantID,
		PrincipalID: principalID,
		Err:         err,
	}
}

// Kind returns the error kind
func (e *Error) Kind() Kind {
	return KindOf(e.Code)
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.TenantID != "" {
		msg = fmt.Sprintf("%s (tenant %s)", msg, e.TenantID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err, ErrNotConnected)
// works for errors carrying operation details.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// RequiresReconsent reports whether the caller must send the principal
// through the consent flow with forceConsent=true.
func RequiresReconsent(err error) bool {
	switch CodeOf(err) {
	case CodeNotConnected, CodeRefreshFailed:
		return true
	default:
		return false
	}
}

// IsConfigurationError reports whether err must be fixed by a tenant administrator.
func IsConfigurationError(err error) bool {
	code := CodeOf(err)
	return code != "" && KindOf(code) == KindConfiguration
}
