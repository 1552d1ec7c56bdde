package graph

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fb_downloader/internal/domain"
)

const (
	userAgent       = "fb_downloader/1.0"
	maxResponseSize = 16 << 20
	defaultBurst    = 5
)

// Config holds Session transport and retry configuration.
type Config struct {
	BaseURL           string
	Version           string
	AppSecret         string
	Timeout           time.Duration
	RequestsPerSecond float64
	RateLimitAttempts int
	TransientAttempts int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Session is the single authenticated call surface for the Graph API.
// It owns one Credential and shares its rate-limit state between all
// concurrent callers.
type Session struct {
	httpClient *http.Client
	baseURL    *url.URL
	token      string
	proof      string

	rateLimitAttempts int
	transientAttempts int
	initialBackoff    time.Duration
	maxBackoff        time.Duration

	limiter     *rate.Limiter
	mu          sync.Mutex
	pauseUntil  time.Time
	throttled   int
	throttledAt time.Time

	logger *slog.Logger
}

// NewSession creates a Session bound to cred.
func NewSession(cfg Config, cred domain.Credential, logger *slog.Logger) (*Session, error) {
	if cred.AccessToken == "" {
		return nil, &Error{Kind: KindAuthExpired, Message: "empty access token"}
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.Version != "" {
		base = base.JoinPath(cfg.Version)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	s := &Session{
		httpClient:        httpClient,
		baseURL:           base,
		token:             cred.AccessToken,
		rateLimitAttempts: max(cfg.RateLimitAttempts, 1),
		transientAttempts: max(cfg.TransientAttempts, 1),
		initialBackoff:    cfg.InitialBackoff,
		maxBackoff:        cfg.MaxBackoff,
		logger:            logger.With("component", "graph"),
	}
	if cfg.AppSecret != "" {
		s.proof = appSecretProof(cfg.AppSecret, cred.AccessToken)
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), defaultBurst)
	}
	if s.maxBackoff < s.initialBackoff {
		s.maxBackoff = s.initialBackoff
	}

	return s, nil
}

// Call issues a GET against endpoint (relative to the versioned base URL, or
// an absolute URL on the same host) and returns the raw JSON body.
// Rate-limit and transient failures are retried with exponential backoff
// within their budgets; auth rejections and other request errors are
// returned after a single attempt.
//
// The rate-limit budget belongs to the Session: consecutive throttled
// responses are counted across all concurrent callers and the count resets
// on the first success.
func (s *Session) Call(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	target, err := s.resolve(endpoint, params)
	if err != nil {
		return nil, &Error{Kind: KindRequest, Endpoint: endpoint, Message: "build url", Err: err}
	}

	var transient int
	for attempt := 1; ; attempt++ {
		if err := s.wait(ctx); err != nil {
			return nil, err
		}

		if s.throttleSpent() {
			return nil, &Error{
				Kind:     KindRateLimited,
				Endpoint: endpoint,
				Message:  "rate limit budget spent by concurrent calls",
				Attempts: attempt - 1,
			}
		}

		body, err := s.do(ctx, target)
		if err == nil {
			s.clearThrottle()
			return body, nil
		}

		var gerr *Error
		if !errors.As(err, &gerr) {
			return nil, err
		}
		gerr.Endpoint = endpoint
		gerr.Attempts = attempt

		if !gerr.Kind.retryable() {
			return nil, gerr
		}

		var used, budget int
		if gerr.Kind == KindRateLimited {
			used, budget = s.throttle(), s.rateLimitAttempts
		} else {
			transient++
			used, budget = transient, s.transientAttempts
		}
		if used >= budget {
			return nil, gerr
		}

		backoff := s.backoff(used)
		if gerr.RetryAfter > backoff {
			backoff = min(gerr.RetryAfter, s.maxBackoff)
		}

		s.logger.Warn("graph call failed, retrying",
			"endpoint", endpoint,
			"kind", gerr.Kind.String(),
			"attempt", attempt,
			"backoff", backoff,
		)

		if gerr.Kind == KindRateLimited {
			s.pause(backoff)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (s *Session) resolve(endpoint string, params url.Values) (string, error) {
	var u *url.URL
	var err error
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		u, err = url.Parse(endpoint)
		if err == nil && (u.Scheme != s.baseURL.Scheme || u.Host != s.baseURL.Host) {
			err = fmt.Errorf("endpoint host %q is not %q", u.Host, s.baseURL.Host)
		}
	} else {
		u, err = s.baseURL.Parse(strings.TrimPrefix(endpoint, "/"))
	}
	if err != nil {
		return "", err
	}

	q := u.Query()
	for k, vs := range params {
		q.Del(k)
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("access_token", s.token)
	if s.proof != "" {
		q.Set("appsecret_proof", s.proof)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (s *Session) do(ctx context.Context, target string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &Error{Kind: KindRequest, Message: "create request", Err: err}
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Kind: KindTransient, Message: "execute request", Err: redact(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &Error{Kind: KindTransient, StatusCode: resp.StatusCode, Message: "read response", Err: redact(err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gerr := classify(resp.StatusCode, body)
		gerr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, gerr
	}

	if !json.Valid(body) {
		return nil, &Error{Kind: KindTransient, StatusCode: resp.StatusCode, Message: "malformed json response"}
	}

	return body, nil
}

func (s *Session) backoff(attempt int) time.Duration {
	backoff := s.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > s.maxBackoff {
		backoff = s.maxBackoff
	}
	return backoff
}

// wait blocks until the shared pause has elapsed and the limiter admits
// one request.
func (s *Session) wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		until := s.pauseUntil
		s.mu.Unlock()

		d := time.Until(until)
		if d <= 0 {
			break
		}

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// pause defers every caller of this Session for at least d.
func (s *Session) pause(d time.Duration) {
	until := time.Now().Add(d)

	s.mu.Lock()
	if until.After(s.pauseUntil) {
		s.pauseUntil = until
	}
	s.mu.Unlock()
}

// throttle records a rate-limited response and returns how many consecutive
// throttled responses the Session has seen.
func (s *Session) throttle() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.throttled++
	s.throttledAt = time.Now()
	return s.throttled
}

// throttleSpent reports whether the shared rate-limit budget is used up. A
// spent budget is forgiven once no throttled response has been seen for
// maxBackoff, so a long-lived Session can recover between runs.
func (s *Session) throttleSpent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.throttled >= s.rateLimitAttempts && time.Since(s.throttledAt) > s.maxBackoff {
		s.throttled = 0
	}
	return s.throttled >= s.rateLimitAttempts
}

func (s *Session) clearThrottle() {
	s.mu.Lock()
	s.throttled = 0
	s.mu.Unlock()
}

func appSecretProof(secret, token string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// redact strips credentials from URLs embedded in transport errors.
func redact(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	if u, perr := url.Parse(uerr.URL); perr == nil {
		q := u.Query()
		if q.Has("access_token") {
			q.Set("access_token", "REDACTED")
		}
		q.Del("appsecret_proof")
		u.RawQuery = q.Encode()
		uerr.URL = u.String()
	}
	return err
}
