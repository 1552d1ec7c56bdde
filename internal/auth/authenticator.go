package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"

	"fb_downloader/internal/domain"
	"fb_downloader/internal/graph"
)

// Config holds the OAuth application settings.
type Config struct {
	AppID       string
	AppSecret   string
	RedirectURL string
	Scopes      []string

	// Endpoint overrides the Facebook OAuth endpoint.
	Endpoint oauth2.Endpoint

	// Graph is used for the long-lived token exchange and liveness checks.
	Graph graph.Config
}

// Prompter hands the authorization URL to the operator and returns whatever
// they paste back: a code, a redirect URL, or a short-lived token.
type Prompter interface {
	Prompt(ctx context.Context, authURL string) (string, error)
}

type Authenticator struct {
	oauth      *oauth2.Config
	appSecret  string
	graphCfg   graph.Config
	httpClient *http.Client
	logger     *slog.Logger
}

func NewAuthenticator(cfg Config, logger *slog.Logger) (*Authenticator, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, &AuthError{Op: "configure", Err: errors.New("app id and app secret are required")}
	}

	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = facebook.Endpoint
	}

	httpClient := cfg.Graph.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Graph.Timeout}
	}

	graphCfg := cfg.Graph
	graphCfg.AppSecret = cfg.AppSecret
	graphCfg.HTTPClient = httpClient

	return &Authenticator{
		oauth: &oauth2.Config{
			ClientID:     cfg.AppID,
			ClientSecret: cfg.AppSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		appSecret:  cfg.AppSecret,
		graphCfg:   graphCfg,
		httpClient: httpClient,
		logger:     logger.With("component", "auth"),
	}, nil
}

// AuthURL returns the consent URL for the configured scopes.
func (a *Authenticator) AuthURL(state string) string {
	return a.oauth.AuthCodeURL(state)
}

// Authenticate runs the interactive authorization-code flow and returns a
// long-lived Credential. It either returns a complete Credential or an
// *AuthError.
func (a *Authenticator) Authenticate(ctx context.Context, prompter Prompter) (domain.Credential, error) {
	state, err := newState()
	if err != nil {
		return domain.Credential{}, &AuthError{Op: "generate state", Err: err}
	}

	input, err := prompter.Prompt(ctx, a.AuthURL(state))
	if err != nil {
		return domain.Credential{}, &AuthError{Op: "read authorization response", Err: err}
	}

	grant, err := parseGrant(input, state)
	if err != nil {
		return domain.Credential{}, err
	}

	shortLived := grant.token
	if grant.code != "" {
		a.logger.Debug("exchanging authorization code")
		tok, err := a.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, a.httpClient), grant.code)
		if err != nil {
			return domain.Credential{}, exchangeError(err)
		}
		shortLived = tok.AccessToken
	}

	return a.ExchangeLongLived(ctx, shortLived)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ExchangeLongLived trades a short-lived user token for a long-lived one.
func (a *Authenticator) ExchangeLongLived(ctx context.Context, shortLived string) (domain.Credential, error) {
	const op = "exchange long-lived token"

	u, err := url.Parse(a.graphCfg.BaseURL)
	if err != nil {
		return domain.Credential{}, &AuthError{Op: op, Err: err}
	}
	u = u.JoinPath(a.graphCfg.Version, "oauth", "access_token")
	u.RawQuery = url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {a.oauth.ClientID},
		"client_secret":     {a.appSecret},
		"fb_exchange_token": {shortLived},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.Credential{}, &AuthError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return domain.Credential{}, &AuthError{Op: op, Err: errors.New("token endpoint unreachable")}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Credential{}, &AuthError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return domain.Credential{}, &AuthError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return domain.Credential{}, &AuthError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode token response: %w", err)}
	}
	if tr.AccessToken == "" {
		return domain.Credential{}, &AuthError{Op: op, StatusCode: resp.StatusCode, Err: errors.New("access token was empty in response")}
	}

	cred := domain.Credential{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		ObtainedAt:  time.Now().UTC(),
		AppID:       a.oauth.ClientID,
	}
	if tr.ExpiresIn > 0 {
		cred.ExpiresIn = tr.ExpiresIn
	}

	a.logger.Info("obtained long-lived token", "expires_in_seconds", tr.ExpiresIn)

	return cred, nil
}

// TestConnection checks cred against the provider. Authentication rejections
// yield false with a nil error; network failures are returned as graph
// transient errors.
func (a *Authenticator) TestConnection(ctx context.Context, cred domain.Credential) (bool, error) {
	session, err := graph.NewSession(a.graphCfg, cred, a.logger)
	if err != nil {
		if errors.Is(err, graph.ErrAuthExpired) {
			return false, nil
		}
		return false, err
	}

	_, err = session.Call(ctx, "me", url.Values{"fields": {"id"}})
	if err == nil {
		return true, nil
	}

	if errors.Is(err, graph.ErrAuthExpired) {
		a.logger.Info("cached token rejected", "error", err)
		return false, nil
	}

	return false, err
}

// NewSession wraps a validated Credential in a Session.
func (a *Authenticator) NewSession(cred domain.Credential) (*graph.Session, error) {
	return graph.NewSession(a.graphCfg, cred, a.logger)
}

type grant struct {
	code  string
	token string
}

// parseGrant accepts a bare code, a bare short-lived token, or the full
// redirect URL (code in the query, token in the fragment).
func parseGrant(input, state string) (grant, error) {
	const op = "read authorization response"

	// Facebook appends "#_=_" to redirects that carry no fragment.
	input = strings.TrimSuffix(strings.TrimSpace(input), "#_=_")
	if input == "" {
		return grant{}, &AuthError{Op: op, Err: errors.New("empty authorization response")}
	}

	if !strings.Contains(input, "=") {
		if strings.HasPrefix(input, "EAA") {
			return grant{token: input}, nil
		}
		return grant{code: input}, nil
	}

	var query, fragment url.Values
	redirect := false
	if u, err := url.Parse(input); err == nil && u.Scheme != "" {
		redirect = true
		query = u.Query()
		fragment, _ = url.ParseQuery(u.Fragment)
	} else {
		query, _ = url.ParseQuery(strings.TrimLeft(input, "?#"))
		fragment = query
	}

	if reason := query.Get("error"); reason != "" {
		desc := query.Get("error_description")
		if desc == "" {
			desc = query.Get("error_reason")
		}
		return grant{}, &AuthError{Op: "authorize", Err: fmt.Errorf("%s: %s", reason, desc)}
	}

	got := query.Get("state")
	if got == "" {
		got = fragment.Get("state")
	}
	if got != "" && got != state {
		return grant{}, &AuthError{Op: op, Err: errors.New("state mismatch")}
	}

	if code := query.Get("code"); code != "" {
		// A full redirect is only trusted when it echoes our state.
		if redirect && got == "" {
			return grant{}, &AuthError{Op: op, Err: errors.New("redirect carries no state")}
		}
		return grant{code: code}, nil
	}
	if tok := fragment.Get("access_token"); tok != "" {
		return grant{token: tok}, nil
	}
	if tok := query.Get("access_token"); tok != "" {
		return grant{token: tok}, nil
	}

	return grant{}, &AuthError{Op: op, Err: errors.New("no code or access token found")}
}

func exchangeError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		ae := &AuthError{Op: "exchange code", Body: string(rerr.Body)}
		if rerr.ErrorDescription != "" {
			ae.Err = errors.New(rerr.ErrorDescription)
		}
		if rerr.Response != nil {
			ae.StatusCode = rerr.Response.StatusCode
		}
		return ae
	}
	return &AuthError{Op: "exchange code", Err: err}
}

func newState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
