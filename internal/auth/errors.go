package auth

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAuth matches every *AuthError under errors.Is.
var ErrAuth = errors.New("authentication failed")

// AuthError reports a rejected or failed OAuth exchange. The whole flow can
// be retried; nothing from a failed attempt is kept.
type AuthError struct {
	// Op names the step that failed, e.g. "exchange code".
	Op         string
	StatusCode int
	// Body holds the raw provider response, which usually names the reason.
	Body string
	Err  error
}

func (e *AuthError) Error() string {
	var sb strings.Builder
	sb.WriteString("auth error")
	if e.Op != "" {
		fmt.Fprintf(&sb, " during %s", e.Op)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, ": status code %d", e.StatusCode)
	}
	if e.Body != "" {
		fmt.Fprintf(&sb, ", body: %q", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ", err: %v", e.Err)
	}
	return sb.String()
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == ErrAuth }
