package captcha

import (
	"context"
	"errors"
)

// ErrUnsolvable means the service looked at the image and gave up. The caller
// should fetch a fresh captcha instead of retrying the same payload.
var ErrUnsolvable = errors.New("captcha reported unsolvable")

// ErrBadKey means the configured service key was rejected.
var ErrBadKey = errors.New("captcha service key rejected")

// Challenge is one image captcha pulled out of a login page.
type Challenge struct {
	// SID identifies the challenge on the platform side and is resubmitted
	// with the solved text.
	SID string
	// Image is the raw image bytes fetched from the challenge URL.
	Image []byte
}

// Solver turns captcha images into text. Implementations must be safe for
// concurrent use.
type Solver interface {
	Solve(ctx context.Context, image []byte) (string, error)
	Balance(ctx context.Context) (float64, error)
}
