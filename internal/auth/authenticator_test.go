package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/oauth2"

	"fb_downloader/internal/domain"
	"fb_downloader/internal/graph"
)

type promptFunc func(ctx context.Context, authURL string) (string, error)

func (f promptFunc) Prompt(ctx context.Context, authURL string) (string, error) {
	return f(ctx, authURL)
}

type AuthenticatorTestSuite struct {
	suite.Suite
	srv        *httptest.Server
	auth       *Authenticator
	rejectCode bool
	exchanged  []string
}

func (s *AuthenticatorTestSuite) SetupTest() {
	s.rejectCode = false
	s.exchanged = nil

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if s.rejectCode || r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"This authorization code has expired."}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"EAAshort","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v19.0/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		s.exchanged = append(s.exchanged, q.Get("fb_exchange_token"))
		if q.Get("grant_type") != "fb_exchange_token" || q.Get("client_secret") != "app-secret" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"Error validating client secret.","code":1}}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"EAAlong","token_type":"bearer","expires_in":5184000}`))
	})
	mux.HandleFunc("/v19.0/me", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("access_token") {
		case "EAAlong":
			_, _ = w.Write([]byte(`{"id":"1"}`))
		case "flaky":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"Error validating access token: The user has not authorized application.","type":"OAuthException","code":190,"error_subcode":458}}`))
		}
	})
	s.srv = httptest.NewServer(mux)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	a, err := NewAuthenticator(Config{
		AppID:       "42",
		AppSecret:   "app-secret",
		RedirectURL: "https://www.facebook.com/connect/login_success.html",
		Scopes:      []string{"public_profile", "user_posts"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://www.facebook.com/v19.0/dialog/oauth",
			TokenURL:  s.srv.URL + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Graph: graph.Config{
			BaseURL:           s.srv.URL,
			Version:           "v19.0",
			Timeout:           2 * time.Second,
			RateLimitAttempts: 2,
			TransientAttempts: 2,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        time.Millisecond,
		},
	}, logger)
	s.Require().NoError(err)
	s.auth = a
}

func (s *AuthenticatorTestSuite) TearDownTest() {
	s.srv.Close()
}

func TestAuthenticatorTestSuite(t *testing.T) {
	suite.Run(t, new(AuthenticatorTestSuite))
}

func redirectWith(authURL, params string) string {
	u, _ := url.Parse(authURL)
	return "https://www.facebook.com/connect/login_success.html?" + params + "&state=" + u.Query().Get("state") + "#_=_"
}

func (s *AuthenticatorTestSuite) TestAuthURL_ContainsScopesAndState() {
	u, err := url.Parse(s.auth.AuthURL("xyz"))
	s.Require().NoError(err)

	q := u.Query()
	s.Equal("42", q.Get("client_id"))
	s.Equal("xyz", q.Get("state"))
	s.Equal("public_profile user_posts", q.Get("scope"))
	s.Equal("code", q.Get("response_type"))
}

func (s *AuthenticatorTestSuite) TestAuthenticate_WithRedirectURL() {
	cred, err := s.auth.Authenticate(context.Background(), promptFunc(func(_ context.Context, authURL string) (string, error) {
		return redirectWith(authURL, "code=good-code"), nil
	}))

	s.Require().NoError(err)
	s.Equal("EAAlong", cred.AccessToken)
	s.Equal("42", cred.AppID)
	s.False(cred.ObtainedAt.IsZero())
	s.Equal(int64(60*24*60*60), cred.ExpiresIn)
	s.Equal([]string{"EAAshort"}, s.exchanged)
}

func (s *AuthenticatorTestSuite) TestAuthenticate_WithShortLivedToken() {
	cred, err := s.auth.Authenticate(context.Background(), promptFunc(func(context.Context, string) (string, error) {
		return "  EAAshort-pasted \n", nil
	}))

	s.Require().NoError(err)
	s.Equal("EAAlong", cred.AccessToken)
	s.Equal([]string{"EAAshort-pasted"}, s.exchanged)
}

func (s *AuthenticatorTestSuite) TestAuthenticate_RejectedCode() {
	s.rejectCode = true

	cred, err := s.auth.Authenticate(context.Background(), promptFunc(func(context.Context, string) (string, error) {
		return "good-code", nil
	}))

	s.Require().Error(err)
	s.ErrorIs(err, ErrAuth)
	s.Empty(cred.AccessToken)
	s.Empty(s.exchanged)

	var ae *AuthError
	s.Require().True(errors.As(err, &ae))
	s.Equal("exchange code", ae.Op)
	s.Equal(http.StatusBadRequest, ae.StatusCode)
}

func (s *AuthenticatorTestSuite) TestAuthenticate_DeniedConsent() {
	_, err := s.auth.Authenticate(context.Background(), promptFunc(func(_ context.Context, authURL string) (string, error) {
		return redirectWith(authURL, "error=access_denied&error_reason=user_denied"), nil
	}))

	s.ErrorIs(err, ErrAuth)
	s.Contains(err.Error(), "access_denied")
	s.Empty(s.exchanged)
}

func (s *AuthenticatorTestSuite) TestAuthenticate_StateMismatch() {
	_, err := s.auth.Authenticate(context.Background(), promptFunc(func(context.Context, string) (string, error) {
		return "https://www.facebook.com/connect/login_success.html?code=good-code&state=forged", nil
	}))

	s.ErrorIs(err, ErrAuth)
	s.Contains(err.Error(), "state mismatch")
}

func (s *AuthenticatorTestSuite) TestAuthenticate_PromptFailure() {
	_, err := s.auth.Authenticate(context.Background(), promptFunc(func(context.Context, string) (string, error) {
		return "", errors.New("stdin closed")
	}))

	s.ErrorIs(err, ErrAuth)
}

func (s *AuthenticatorTestSuite) TestExchangeLongLived_NetworkFailure() {
	s.srv.Close()

	_, err := s.auth.ExchangeLongLived(context.Background(), "EAAshort")

	s.ErrorIs(err, ErrAuth)
	s.NotContains(err.Error(), "app-secret")
}

func (s *AuthenticatorTestSuite) TestTestConnection_Valid() {
	ok, err := s.auth.TestConnection(context.Background(), domain.Credential{AccessToken: "EAAlong"})

	s.NoError(err)
	s.True(ok)
}

func (s *AuthenticatorTestSuite) TestTestConnection_RevokedReturnsFalse() {
	ok, err := s.auth.TestConnection(context.Background(), domain.Credential{AccessToken: "revoked"})

	s.NoError(err)
	s.False(ok)
}

func (s *AuthenticatorTestSuite) TestTestConnection_EmptyTokenReturnsFalse() {
	ok, err := s.auth.TestConnection(context.Background(), domain.Credential{})

	s.NoError(err)
	s.False(ok)
}

func (s *AuthenticatorTestSuite) TestTestConnection_TransientIsSurfaced() {
	ok, err := s.auth.TestConnection(context.Background(), domain.Credential{AccessToken: "flaky"})

	s.False(ok)
	s.ErrorIs(err, graph.ErrTransient)
}

func TestNewAuthenticator_RequiresAppCredentials(t *testing.T) {
	_, err := NewAuthenticator(Config{AppID: "42"}, slog.Default())
	assert.ErrorIs(t, err, ErrAuth)
}

func TestParseGrant(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  grant
	}{
		{"bare code", "AQDx_abc", grant{code: "AQDx_abc"}},
		{"bare token", "EAAGm0PX4ZCpsBA", grant{token: "EAAGm0PX4ZCpsBA"}},
		{"query string", "code=abc&state=s1", grant{code: "abc"}},
		{"redirect with code", "https://example.com/cb?code=abc&state=s1#_=_", grant{code: "abc"}},
		{"redirect with fragment token", "https://example.com/cb#access_token=EAAx&expires_in=3600&state=s1", grant{token: "EAAx"}},
		{"fragment only", "#access_token=EAAy", grant{token: "EAAy"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseGrant(tt.input, "s1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseGrant_Rejects(t *testing.T) {
	for _, input := range []string{
		"",
		"   ",
		"https://example.com/cb?foo=bar",
		"https://example.com/cb?code=abc#_=_",
		"https://example.com/cb?code=abc&state=other",
	} {
		_, err := parseGrant(input, "s1")
		assert.ErrorIs(t, err, ErrAuth, input)
	}
}
