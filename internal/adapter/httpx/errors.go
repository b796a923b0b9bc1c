// Package httpx maps HTTP outcomes of remote providers onto domain error kinds.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"siteqa/internal/domain"
)

const maxBodyPreview = 200

// StatusError classifies a non-2xx response. kind is the component's
// unavailability error (domain.ErrProviderUnavailable or domain.ErrIndexUnavailable).
func StatusError(kind error, op string, status int, body []byte) error {
	preview := string(body)
	if len(preview) > maxBodyPreview {
		preview = preview[:maxBodyPreview]
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s: status %d: %w: %w", op, status, kind, domain.ErrAuth)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%s: status %d: %w: %w", op, status, kind, domain.ErrRateLimited)
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: status %d: %s: %w: %w", op, status, preview, kind, domain.ErrNotFound)
	case status >= 500:
		return fmt.Errorf("%s: status %d: %s: %w: %w", op, status, preview, kind, domain.ErrTransient)
	default:
		return fmt.Errorf("%s: status %d: %s: %w", op, status, preview, domain.ErrValidation)
	}
}

// TransportError classifies a failure to complete the round trip. Timeouts
// and connection errors are transient; a cancelled context is returned as is.
func TransportError(kind error, op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s: timeout: %w: %w", op, kind, domain.ErrTransient)
	}
	return fmt.Errorf("%s: %v: %w: %w", op, err, kind, domain.ErrTransient)
}
