package google

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/fitness/v1"
	"google.golang.org/api/sheets/v4"
)

var (
	// ErrMissingCredentials means no client ID or secret was configured.
	ErrMissingCredentials = errors.New("oauth client ID and secret are not configured")
	// ErrNotAuthorized means the user never completed authorization, or reset it.
	ErrNotAuthorized = errors.New("not authorized: run the authorize command first")
)

// FitScopes are requested by the Google Fit session.
var FitScopes = []string{
	fitness.FitnessActivityReadScope,
	fitness.FitnessBodyReadScope,
	fitness.FitnessLocationReadScope,
}

// SheetsScopes are requested by the session that writes the destination sheet.
var SheetsScopes = []string{sheets.SpreadsheetsScope}

// OAuthConfig is fixed when a Session is built.
type OAuthConfig struct {
	// Service names the token in the TokenStore.
	Service      string
	AuthURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// LoginHint skips the account chooser for users signed into several accounts.
	LoginHint string
}

// FitConfig returns the Google Fit session configuration.
func FitConfig(clientID, clientSecret, redirectURL, loginHint string) OAuthConfig {
	return OAuthConfig{
		Service:      "fit",
		AuthURL:      google.Endpoint.AuthURL,
		TokenURL:     google.Endpoint.TokenURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       FitScopes,
		LoginHint:    loginHint,
	}
}

// SheetsConfig returns the Google Sheets session configuration.
func SheetsConfig(clientID, clientSecret, redirectURL, loginHint string) OAuthConfig {
	cfg := FitConfig(clientID, clientSecret, redirectURL, loginHint)
	cfg.Service = "sheets"
	cfg.Scopes = SheetsScopes
	return cfg
}

// CallbackRequest carries the query parameters of an authorization redirect.
type CallbackRequest struct {
	Code  string
	State string
	Error string
}

func CallbackFromQuery(q url.Values) CallbackRequest {
	return CallbackRequest{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	}
}

type SessionOption func(*Session)

// WithHTTPClient sets the client used for token exchange and refresh.
func WithHTTPClient(client *http.Client) SessionOption {
	return func(s *Session) {
		s.httpClient = client
	}
}

// WithBaseContext bounds the refreshes and store access made through Token,
// which oauth2 calls without a context.
func WithBaseContext(ctx context.Context) SessionOption {
	return func(s *Session) {
		s.baseCtx = ctx
	}
}

func WithSessionLogger(logger *log.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// Session manages one OAuth2 authorization and its persisted token.
type Session struct {
	cfg        OAuthConfig
	oauth      *oauth2.Config
	store      TokenStore
	state      string
	httpClient *http.Client
	logger     *log.Logger
	baseCtx    context.Context
}

func NewSession(cfg OAuthConfig, store TokenStore, opts ...SessionOption) *Session {
	s := &Session{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		store:   store,
		state:   uuid.NewString(),
		logger:  log.Default(),
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Service() string {
	return s.cfg.Service
}

// RedirectURL is where the authorization server redirects after consent.
func (s *Session) RedirectURL() string {
	return s.cfg.RedirectURL
}

// HasValidAccessToken reports whether a usable token is stored. An expired
// token counts as valid when it can be refreshed.
func (s *Session) HasValidAccessToken(ctx context.Context) (bool, error) {
	if _, err := s.AccessToken(ctx); err != nil {
		if errors.Is(err, ErrMissingCredentials) {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// AuthorizationURL is the consent page the user opens to authorize access.
func (s *Session) AuthorizationURL() (string, error) {
	if err := s.validate(); err != nil {
		return "", err
	}
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if s.cfg.LoginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", s.cfg.LoginHint))
	}
	return s.oauth.AuthCodeURL(s.state, opts...), nil
}

// AccessToken returns a current access token, refreshing and persisting the
// stored token when it has expired.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	if err := s.validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tok, err := s.store.Load(ctx, s.cfg.Service)
	if errors.Is(err, ErrTokenNotFound) {
		return "", ErrNotAuthorized
	}
	if err != nil {
		return "", fmt.Errorf("unable to load %s token: %w", s.cfg.Service, err)
	}
	if tok.Valid() {
		return tok.AccessToken, nil
	}
	if tok.RefreshToken == "" {
		return "", ErrNotAuthorized
	}

	fresh, err := s.oauth.TokenSource(s.clientContext(ctx), tok).Token()
	if err != nil {
		return "", fmt.Errorf("unable to refresh %s token: %w", s.cfg.Service, err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	if err := s.store.Save(ctx, s.cfg.Service, fresh); err != nil {
		return "", fmt.Errorf("unable to save refreshed %s token: %w", s.cfg.Service, err)
	}
	return fresh.AccessToken, nil
}

// Token implements oauth2.TokenSource so API clients can authenticate
// through the session.
func (s *Session) Token() (*oauth2.Token, error) {
	access, err := s.AccessToken(s.baseCtx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: access, TokenType: "Bearer"}, nil
}

// CompleteAuthorization exchanges the authorization code of a callback for
// tokens and persists them. Denied, malformed and forged callbacks, and failed
// exchanges, report false without an error.
func (s *Session) CompleteAuthorization(ctx context.Context, req CallbackRequest) (bool, error) {
	if err := s.validate(); err != nil {
		return false, err
	}
	if req.Error != "" {
		s.logger.Printf("%s authorization denied: %s", s.cfg.Service, req.Error)
		return false, nil
	}
	if req.Code == "" {
		s.logger.Printf("%s authorization callback without code", s.cfg.Service)
		return false, nil
	}
	if req.State != s.state {
		s.logger.Printf("%s authorization callback with unexpected state", s.cfg.Service)
		return false, nil
	}

	tok, err := s.oauth.Exchange(s.clientContext(ctx), req.Code)
	if err != nil {
		s.logger.Printf("%s token exchange failed: %v", s.cfg.Service, err)
		return false, nil
	}
	if err := s.store.Save(ctx, s.cfg.Service, tok); err != nil {
		return false, fmt.Errorf("unable to save %s token: %w", s.cfg.Service, err)
	}
	return true, nil
}

// Reset deletes every token stored for the current user.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.validate(); err != nil {
		return err
	}
	return s.store.DeleteAll(ctx)
}

func (s *Session) validate() error {
	if s.cfg.ClientID == "" || s.cfg.ClientSecret == "" {
		return ErrMissingCredentials
	}
	return nil
}

func (s *Session) clientContext(ctx context.Context) context.Context {
	if s.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// authorizedClient wraps base so every request carries a bearer token from src.
func authorizedClient(src oauth2.TokenSource, base *http.Client) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	return &http.Client{
		Transport: &oauth2.Transport{Source: src, Base: base.Transport},
		Timeout:   base.Timeout,
	}
}
