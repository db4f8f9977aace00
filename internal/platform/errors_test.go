package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyRemoteCode(t *testing.T) {
	tests := []struct {
		code int
		want RemoteErrorKind
		ok   bool
	}{
		{code: 0, want: "", ok: false},
		{code: 1, want: KindEmailNotConfirmed, ok: true},
		{code: 2, want: KindCaptchaRequired, ok: true},
		{code: 3, want: KindAuthFailed, ok: true},
		{code: 4, want: KindMakeRedirect, ok: true},
		{code: 5, want: KindReload, ok: true},
		{code: 6, want: KindMobileActivationRequired, ok: true},
		{code: 7, want: KindMessage, ok: true},
		{code: 8, want: KindFailed, ok: true},
		{code: 9, want: KindVotesPayment, ok: true},
		{code: 10, want: KindZeroZone, ok: true},
		{code: 11, want: KindMobileActivationRequired, ok: true},
		{code: 12, want: KindMobileActivationRequired, ok: true},
		{code: 13, want: KindEvalCode, ok: true},
		{code: 14, want: KindOTP, ok: true},
		{code: 15, want: KindPasswordValidationRequired, ok: true},
		{code: 99, want: KindFailed, ok: true},
	}

	for _, tt := range tests {
		kind, ok := ClassifyRemoteCode(tt.code)
		assert.Equal(t, tt.ok, ok, "code %d", tt.code)
		assert.Equal(t, tt.want, kind, "code %d", tt.code)
	}
}

func TestRemoteErrorIsAuthFailure(t *testing.T) {
	assert.True(t, (&RemoteError{Kind: KindAuthFailed}).IsAuthFailure())
	assert.False(t, (&RemoteError{Kind: KindFailed}).IsAuthFailure())
}
