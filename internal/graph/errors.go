package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrAuthExpired       = errors.New("access token expired or revoked")
	ErrRateLimitExceeded = errors.New("rate limit retry budget exhausted")
	ErrTransient         = errors.New("transient failure")
	ErrRequest           = errors.New("invalid request")
)

// Kind classifies a failed Graph API call by the corrective action it needs.
type Kind int

const (
	KindRequest Kind = iota
	KindAuthExpired
	KindRateLimited
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindAuthExpired:
		return "auth_expired"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	default:
		return "request"
	}
}

func (k Kind) retryable() bool {
	return k == KindRateLimited || k == KindTransient
}

func (k Kind) sentinel() error {
	switch k {
	case KindAuthExpired:
		return ErrAuthExpired
	case KindRateLimited:
		return ErrRateLimitExceeded
	case KindTransient:
		return ErrTransient
	default:
		return ErrRequest
	}
}

// Error is returned by Session.Call for every provider or transport failure.
// It matches exactly one of the package sentinels under errors.Is.
type Error struct {
	Kind       Kind
	Endpoint   string
	StatusCode int
	Code       int
	Subcode    int
	Type       string
	Message    string
	TraceID    string
	Attempts   int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("graph ")
	sb.WriteString(e.Kind.String())
	if e.Endpoint != "" {
		fmt.Fprintf(&sb, " on %s", e.Endpoint)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, ": status %d", e.StatusCode)
	}
	if e.Code != 0 {
		fmt.Fprintf(&sb, ", code %d", e.Code)
		if e.Subcode != 0 {
			fmt.Fprintf(&sb, "/%d", e.Subcode)
		}
	}
	if e.Message != "" {
		fmt.Fprintf(&sb, ", %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&sb, " (after %d attempts)", e.Attempts)
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

type errorEnvelope struct {
	Error *struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		Subcode   int    `json:"error_subcode"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// classify maps a non-2xx Graph response onto the error taxonomy.
func classify(status int, body []byte) *Error {
	e := &Error{StatusCode: status}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		e.Code = env.Error.Code
		e.Subcode = env.Error.Subcode
		e.Type = env.Error.Type
		e.Message = env.Error.Message
		e.TraceID = env.Error.FBTraceID
	} else {
		e.Message = http.StatusText(status)
	}

	switch {
	case status == http.StatusTooManyRequests || isRateLimitCode(e.Code):
		e.Kind = KindRateLimited
	case status == http.StatusUnauthorized || isAuthCode(e.Code, e.Subcode):
		e.Kind = KindAuthExpired
	case status >= 500 || e.Code == 1 || e.Code == 2:
		e.Kind = KindTransient
	default:
		e.Kind = KindRequest
	}
	return e
}

// Application, user, page and business-use-case throttling codes.
func isRateLimitCode(code int) bool {
	switch code {
	case 4, 17, 32, 613:
		return true
	}
	return code >= 80001 && code <= 80014
}

// 190 invalid/expired token, 102 session, 458-467 user/session state.
func isAuthCode(code, subcode int) bool {
	if code == 190 || code == 102 {
		return true
	}
	return subcode >= 458 && subcode <= 467
}
