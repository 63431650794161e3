package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"golang.org/x/oauth2/github"
)

// Provider names. They appear in URLs (/auth/{provider}/login), in the
// accounts table and in the state audience.
const (
	ProviderGitHub = "github"
	ProviderGoogle = "google"
)

// ErrEmailUnverified is returned when the provider cannot vouch for the
// user's email address. We never provision or link on an unverified email:
// anyone can type someone else's address into a provider profile.
var ErrEmailUnverified = errors.New("auth: provider returned no verified email")

// Identity is the normalized result of a successful OAuth exchange.
// Email is always set and verified by the provider.
type Identity struct {
	Provider  string
	Subject   string // provider's stable account ID
	Email     string
	Name      string
	AvatarURL string
}

// Provider is one third-party identity source.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
// 1. We redirect the user to AuthURL(state).
// 2. The user approves on the provider's site.
// 3. The provider redirects back to our callback with a short-lived code.
// 4. Exchange trades the code for an access token (server-to-server, with
//    our client secret) and uses it to fetch the profile.
type Provider interface {
	Name() string
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// =========================================================================
// GITHUB
// =========================================================================

// GitHubProvider wraps golang.org/x/oauth2 for GitHub.
//
// GitHub's /user payload only carries the public email, which may be empty
// or unverified, so Exchange also reads /user/emails and takes the
// primary verified address.
type GitHubProvider struct {
	config  *oauth2.Config
	apiBase string
}

// NewGitHubProvider creates a GitHubProvider.
//
// callbackURL must match the "Authorization callback URL" registered on
// the OAuth App exactly, e.g. "http://localhost:8080/auth/github/callback".
func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiBase: "https://api.github.com",
	}
}

func (p *GitHubProvider) Name() string { return ProviderGitHub }

func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// Exchange trades the code for a token and loads the GitHub profile.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging github code: %w", err)
	}
	// The returned client adds "Authorization: Bearer <token>" to every request.
	client := p.config.Client(ctx, token)

	var u githubUser
	if err := getJSON(ctx, client, p.apiBase+"/user", &u); err != nil {
		return nil, fmt.Errorf("auth: github /user: %w", err)
	}
	if u.ID == 0 {
		return nil, errors.New("auth: github returned an invalid user (ID = 0)")
	}

	var emails []githubEmail
	if err := getJSON(ctx, client, p.apiBase+"/user/emails", &emails); err != nil {
		return nil, fmt.Errorf("auth: github /user/emails: %w", err)
	}

	email := ""
	for _, e := range emails {
		if e.Primary && e.Verified {
			email = e.Email
			break
		}
	}
	if email == "" {
		return nil, ErrEmailUnverified
	}

	name := u.Name
	if name == "" {
		name = u.Login
	}

	return &Identity{
		Provider:  ProviderGitHub,
		Subject:   strconv.FormatInt(u.ID, 10),
		Email:     NormalizeEmail(email),
		Name:      name,
		AvatarURL: u.AvatarURL,
	}, nil
}

// =========================================================================
// GOOGLE
// =========================================================================

// GoogleProvider signs users in with their Google account via the OpenID
// Connect userinfo endpoint.
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

// NewGoogleProvider creates a GoogleProvider.
func NewGoogleProvider(clientID, clientSecret, callbackURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoints.Google,
		},
		userInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
	}
}

func (p *GoogleProvider) Name() string { return ProviderGoogle }

func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type googleUserInfo struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Exchange trades the code for a token and loads the OpenID profile.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging google code: %w", err)
	}

	var info googleUserInfo
	if err := getJSON(ctx, p.config.Client(ctx, token), p.userInfoURL, &info); err != nil {
		return nil, fmt.Errorf("auth: google userinfo: %w", err)
	}
	if info.Subject == "" {
		return nil, errors.New("auth: google returned no subject")
	}
	if info.Email == "" || !info.EmailVerified {
		return nil, ErrEmailUnverified
	}

	return &Identity{
		Provider:  ProviderGoogle,
		Subject:   info.Subject,
		Email:     NormalizeEmail(info.Email),
		Name:      info.Name,
		AvatarURL: info.Picture,
	}, nil
}

// getJSON performs an authenticated GET and decodes a 200 response into dst.
func getJSON(ctx context.Context, client *http.Client, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// NormalizeEmail returns the canonical form used for lookups and storage:
// trimmed and lower-cased.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
