package graph

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fb_downloader/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:           baseURL,
		Version:           "v19.0",
		Timeout:           2 * time.Second,
		RequestsPerSecond: 1000,
		RateLimitAttempts: 5,
		TransientAttempts: 3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
	}
}

func newTestSession(t *testing.T, srv *httptest.Server) *Session {
	t.Helper()
	s, err := NewSession(testConfig(srv.URL), domain.Credential{AccessToken: "tok"}, testLogger())
	require.NoError(t, err)
	return s
}

const (
	rateLimitBody = `{"error":{"message":"(#4) Application request limit reached","type":"OAuthException","code":4,"fbtrace_id":"A1"}}`
	expiredBody   = `{"error":{"message":"Error validating access token: Session has expired","type":"OAuthException","code":190,"error_subcode":463}}`
	badParamBody  = `{"error":{"message":"(#100) Tried accessing nonexisting field","type":"OAuthException","code":100}}`
)

func TestSession_RetriesRateLimitThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 3 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(rateLimitBody))
			return
		}
		_, _ = w.Write([]byte(`{"id":"1","name":"Test User"}`))
	}))
	defer srv.Close()

	s := newTestSession(t, srv)
	body, err := s.Call(context.Background(), "me", url.Values{"fields": {"id,name"}})

	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1","name":"Test User"}`, string(body))
	assert.Equal(t, int32(4), attempts.Load())
}

func TestSession_RateLimitBudgetExhausted(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := newTestSession(t, srv)
	_, err := s.Call(context.Background(), "me/posts", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, int32(5), attempts.Load())

	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, 5, gerr.Attempts)
	assert.Equal(t, "me/posts", gerr.Endpoint)
}

func TestSession_AuthRejectionIsNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(expiredBody))
	}))
	defer srv.Close()

	s := newTestSession(t, srv)
	_, err := s.Call(context.Background(), "me", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthExpired)
	assert.NotErrorIs(t, err, ErrRequest)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestSession_Unauthorized401IsAuthExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestSession(t, srv).Call(context.Background(), "me", nil)
	assert.ErrorIs(t, err, ErrAuthExpired)
}

func TestSession_TransientRetriedThenFails(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestSession(t, srv).Call(context.Background(), "me", nil)

	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestSession_TransientRecovers(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	_, err := newTestSession(t, srv).Call(context.Background(), "me", nil)

	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestSession_RequestErrorIsNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(badParamBody))
	}))
	defer srv.Close()

	_, err := newTestSession(t, srv).Call(context.Background(), "me", nil)

	assert.ErrorIs(t, err, ErrRequest)
	assert.Equal(t, int32(1), attempts.Load())

	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, 100, gerr.Code)
	assert.Contains(t, gerr.Message, "nonexisting field")
}

func TestSession_NetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	s, err := NewSession(testConfig(addr), domain.Credential{AccessToken: "secret-token"}, testLogger())
	require.NoError(t, err)

	_, err = s.Call(context.Background(), "me", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestSession_AttachesTokenAndProof(t *testing.T) {
	var got url.Values
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		path = r.URL.Path
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.AppSecret = "app-secret"
	s, err := NewSession(cfg, domain.Credential{AccessToken: "tok"}, testLogger())
	require.NoError(t, err)

	_, err = s.Call(context.Background(), "/me/posts", url.Values{"fields": {"id"}})
	require.NoError(t, err)

	assert.Equal(t, "/v19.0/me/posts", path)
	assert.Equal(t, "tok", got.Get("access_token"))
	assert.Equal(t, "id", got.Get("fields"))
	assert.Equal(t, appSecretProof("app-secret", "tok"), got.Get("appsecret_proof"))
}

func TestSession_AbsoluteEndpoint(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path + "?" + r.URL.Query().Get("after")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := newTestSession(t, srv).Call(context.Background(), srv.URL+"/v19.0/123/comments?after=XYZ", nil)
	require.NoError(t, err)
	assert.Equal(t, "/v19.0/123/comments?XYZ", path)
}

func TestSession_AbsoluteEndpointOnOtherHostRejected(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := newTestSession(t, srv).Call(context.Background(), "https://evil.example.com/v19.0/me", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequest)
	assert.Equal(t, int32(0), attempts.Load())
}

func TestSession_ConcurrentCallersShareRateLimitBudget(t *testing.T) {
	const callers = 4

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxBackoff = time.Second
	s, err := NewSession(cfg, domain.Credential{AccessToken: "tok"}, testLogger())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.Call(context.Background(), "123/comments", nil)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrRateLimitExceeded)
	}
	// Requests already in flight when the budget runs out may still land.
	assert.LessOrEqual(t, int(attempts.Load()), cfg.RateLimitAttempts+callers-1)
}

func TestSession_SuccessResetsRateLimitBudget(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Every third request succeeds.
		if attempts.Add(1)%3 != 0 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	s := newTestSession(t, srv)
	for range 4 {
		_, err := s.Call(context.Background(), "me", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(12), attempts.Load())
}

func TestSession_EmptyTokenRejected(t *testing.T) {
	_, err := NewSession(testConfig("https://graph.example.com"), domain.Credential{}, testLogger())
	assert.ErrorIs(t, err, ErrAuthExpired)
}

func TestSession_RateLimitPausesAllCallers(t *testing.T) {
	s, err := NewSession(testConfig("https://graph.example.com"), domain.Credential{AccessToken: "tok"}, testLogger())
	require.NoError(t, err)

	s.pause(30 * time.Millisecond)

	start := time.Now()
	require.NoError(t, s.wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestSession_WaitHonoursCancellation(t *testing.T) {
	s, err := NewSession(testConfig("https://graph.example.com"), domain.Credential{AccessToken: "tok"}, testLogger())
	require.NoError(t, err)

	s.pause(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.wait(ctx), context.Canceled)
}

func TestSession_Backoff(t *testing.T) {
	s := &Session{initialBackoff: time.Second, maxBackoff: 10 * time.Second}

	assert.Equal(t, 1*time.Second, s.backoff(1))
	assert.Equal(t, 2*time.Second, s.backoff(2))
	assert.Equal(t, 8*time.Second, s.backoff(4))
	assert.Equal(t, 10*time.Second, s.backoff(5))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"http 429", http.StatusTooManyRequests, "", ErrRateLimitExceeded},
		{"app limit", http.StatusBadRequest, rateLimitBody, ErrRateLimitExceeded},
		{"bucket limit", http.StatusBadRequest, `{"error":{"code":80001}}`, ErrRateLimitExceeded},
		{"expired token", http.StatusBadRequest, expiredBody, ErrAuthExpired},
		{"revoked subcode", http.StatusBadRequest, `{"error":{"code":10,"error_subcode":460}}`, ErrAuthExpired},
		{"server error", http.StatusInternalServerError, "", ErrTransient},
		{"unknown api error", http.StatusBadRequest, `{"error":{"code":2}}`, ErrTransient},
		{"bad field", http.StatusBadRequest, badParamBody, ErrRequest},
		{"not found", http.StatusNotFound, "not json", ErrRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.status, []byte(tt.body)), tt.want)
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("soon"))
}
