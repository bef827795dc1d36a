package tenantoauth

import (
	"errors"

	"github.com/giantswarm/tenant-oauth/credential"
)

// Sentinels for errors.Is, re-exported from the credential package
var (
	ErrTenantNotConfigured = credential.ErrTenantNotConfigured
	ErrClientSecretMissing = credential.ErrClientSecretMissing
	ErrNotConnected        = credential.ErrNotConnected
	ErrExchangeFailed      = credential.ErrExchangeFailed
	ErrRefreshFailed       = credential.ErrRefreshFailed
	ErrTenantNotFound      = credential.ErrTenantNotFound
	ErrInvalidState        = credential.ErrInvalidState
	ErrInvalidRequest      = credential.ErrInvalidRequest
	ErrNotMember           = credential.ErrNotMember
)

// Messages safe to show to end users
const (
	MessageContactAdministrator = "Your organization's connection to Google is not set up correctly. Please contact your administrator."
	MessageReconnect            = "Your Google account is not connected or the connection expired. Please reconnect your account."
	MessageRetry                = "The request could not be completed. Please try again."
	MessageInternal             = "Something went wrong. Please try again later."
	MessageNotMember            = "You are not a member of this organization."
)

// RequiresReconsent reports whether the caller must send the principal
// through the consent flow with ForceConsent set.
func RequiresReconsent(err error) bool {
	return credential.RequiresReconsent(err)
}

// IsConfigurationError reports whether err must be fixed by a tenant administrator.
func IsConfigurationError(err error) bool {
	return credential.IsConfigurationError(err)
}

// UserMessage maps an error returned by the Manager to a message for the end
// user. Administrator-facing misconfiguration is kept distinct from problems
// the user can fix by reconnecting.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var cerr *credential.Error
	if !errors.As(err, &cerr) {
		return MessageInternal
	}

	switch cerr.Kind() {
	case credential.KindConfiguration:
		return MessageContactAdministrator
	case credential.KindConnection:
		if cerr.Code == credential.CodeExchangeFailed {
			return MessageRetry
		}
		return MessageReconnect
	default:
		if cerr.Code == credential.CodeNotMember {
			return MessageNotMember
		}
		return MessageRetry
	}
}
