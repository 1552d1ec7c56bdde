package cli

import (
	"context"
	"errors"
	"fmt"

	"fb_downloader/internal/auth"
	"fb_downloader/internal/graph"
)

// describe maps a failure to an operator message naming its class and the
// corrective action.
func describe(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "Cancelled."
	case errors.Is(err, auth.ErrAuth):
		return fmt.Sprintf("Authentication failed: %v\n  Choose option 1 to try again.", err)
	case errors.Is(err, graph.ErrAuthExpired):
		return "Facebook rejected the access token (expired or revoked).\n  Choose option 1 to re-authenticate."
	case errors.Is(err, graph.ErrRateLimitExceeded):
		return "Facebook is still rate limiting after several retries.\n  Wait a few minutes, then try again."
	case errors.Is(err, graph.ErrTransient):
		return fmt.Sprintf("Could not reach Facebook: %v\n  Check your connection and try again.", err)
	case errors.Is(err, graph.ErrRequest):
		return fmt.Sprintf("Facebook rejected the request: %v\n  Retrying will not help; check the app's permissions.", err)
	default:
		return err.Error()
	}
}

// class names the failure class of err for grouping.
func class(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, auth.ErrAuth):
		return "auth"
	case errors.Is(err, graph.ErrAuthExpired):
		return "auth_expired"
	case errors.Is(err, graph.ErrRateLimitExceeded):
		return "rate_limited"
	case errors.Is(err, graph.ErrTransient):
		return "transient"
	case errors.Is(err, graph.ErrRequest):
		return "request"
	default:
		return "other"
	}
}
