package platform

import "fmt"

// AuthErrorCode classifies why a login attempt terminally failed.
type AuthErrorCode string

const (
	AuthFailed                AuthErrorCode = "failed"
	AuthCaptchaRequired       AuthErrorCode = "captcha-required"
	AuthPageBlocked           AuthErrorCode = "page-blocked"
	AuthTwoFactorRequired     AuthErrorCode = "two-factor-required"
	AuthSecurityCheckRequired AuthErrorCode = "security-check-required"
	AuthInviteConfirmRequired AuthErrorCode = "invite-confirmation-required"
)

// AuthError is a terminal authorization failure. The session jar is already
// cleared when one of these is returned.
type AuthError struct {
	Code    AuthErrorCode
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authorization failed (%s): %s", e.Code, e.Message)
}

// RemoteErrorKind is the closed classification of numeric error codes the
// platform embeds in payload responses.
type RemoteErrorKind string

const (
	KindEmailNotConfirmed          RemoteErrorKind = "email-not-confirmed"
	KindCaptchaRequired            RemoteErrorKind = "captcha-required"
	KindAuthFailed                 RemoteErrorKind = "auth-failed"
	KindMakeRedirect               RemoteErrorKind = "make-redirect"
	KindReload                     RemoteErrorKind = "reload"
	KindMobileActivationRequired   RemoteErrorKind = "mobile-activation-required"
	KindMessage                    RemoteErrorKind = "message"
	KindFailed                     RemoteErrorKind = "failed"
	KindVotesPayment               RemoteErrorKind = "votes-payment"
	KindZeroZone                   RemoteErrorKind = "zero-zone"
	KindEvalCode                   RemoteErrorKind = "eval-code"
	KindOTP                        RemoteErrorKind = "otp"
	KindPasswordValidationRequired RemoteErrorKind = "password-validation-required"
)

// RemoteError carries a classified platform payload error.
type RemoteError struct {
	Kind    RemoteErrorKind
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error #%d (%s): %s", e.Code, e.Kind, e.Message)
}

// IsAuthFailure reports whether the error means the session is no longer
// authorized and the account must log in again.
func (e *RemoteError) IsAuthFailure() bool {
	return e.Kind == KindAuthFailed
}

// ClassifyRemoteCode maps a numeric payload code to its kind. Code 0 is
// success and yields no error kind; every unknown non-zero code degrades to
// KindFailed rather than being dropped.
func ClassifyRemoteCode(code int) (RemoteErrorKind, bool) {
	switch code {
	case 0:
		return "", false
	case 1:
		return KindEmailNotConfirmed, true
	case 2:
		return KindCaptchaRequired, true
	case 3:
		return KindAuthFailed, true
	case 4:
		return KindMakeRedirect, true
	case 5:
		return KindReload, true
	case 6, 11, 12:
		return KindMobileActivationRequired, true
	case 7:
		return KindMessage, true
	case 8:
		return KindFailed, true
	case 9:
		return KindVotesPayment, true
	case 10:
		return KindZeroZone, true
	case 13:
		return KindEvalCode, true
	case 14:
		return KindOTP, true
	case 15:
		return KindPasswordValidationRequired, true
	}
	return KindFailed, true
}

// SchemaError reports that the live track schema could not be fetched or is
// missing an index the decoder depends on.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("track schema invalid: field %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("track schema invalid: %s", e.Reason)
}
