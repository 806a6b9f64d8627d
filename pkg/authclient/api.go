package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/utafrali/rentchain/pkg/httpclient"
)

// serviceName qualifies errors parsed from session service responses.
const serviceName = "session-service"

// Identity mirrors the identity returned by the session service.
type Identity struct {
	ID            string    `json:"id"`
	Email         string    `json:"email,omitempty"`
	Username      string    `json:"username"`
	WalletAddress string    `json:"walletAddress,omitempty"`
	Role          string    `json:"role"`
	ProfileImage  string    `json:"profileImage,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// AuthResult is the body of a successful registration, login or role change.
type AuthResult struct {
	Identity    *Identity `json:"identity"`
	AccessToken string    `json:"accessToken"`
}

// API calls the session service endpoints. Public endpoints go through
// public, which must carry the cookie jar holding the refresh cookie;
// identity endpoints go through authed, normally a Coordinator.
type API struct {
	baseURL string
	public  httpclient.Doer
	authed  httpclient.Doer
}

// NewAPI creates an API client for the service at baseURL.
func NewAPI(baseURL string, public, authed httpclient.Doer) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		public:  public,
		authed:  authed,
	}
}

// Register creates a password identity. The refresh cookie lands in the jar.
func (a *API) Register(ctx context.Context, email, username, password string) (*AuthResult, error) {
	var out AuthResult
	err := a.call(ctx, a.public, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    email,
		"username": username,
		"password": password,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Login authenticates with an email address or username.
func (a *API) Login(ctx context.Context, emailOrUsername, password string) (*AuthResult, error) {
	var out AuthResult
	err := a.call(ctx, a.public, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"emailOrUsername": emailOrUsername,
		"password":        password,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh rotates the refresh cookie and returns a new access token. It
// implements Refresher.
func (a *API) Refresh(ctx context.Context) (string, error) {
	var out struct {
		AccessToken string `json:"accessToken"`
	}
	if err := a.call(ctx, a.public, http.MethodPost, "/api/v1/auth/session/refresh", nil, &out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

// Logout revokes the refresh cookie. It succeeds without a session.
func (a *API) Logout(ctx context.Context) error {
	return a.call(ctx, a.public, http.MethodPost, "/api/v1/auth/session/logout", nil, nil)
}

// Me returns the authenticated identity.
func (a *API) Me(ctx context.Context) (*Identity, error) {
	return a.identity(ctx, a.authed, http.MethodGet, "/api/v1/users/me", nil)
}

// ConnectWallet links address to the authenticated identity.
func (a *API) ConnectWallet(ctx context.Context, address string) (*Identity, error) {
	return a.identity(ctx, a.authed, http.MethodPut, "/api/v1/users/me/wallet", map[string]string{
		"walletAddress": address,
	})
}

// ChangeRole changes the authenticated identity's role. The result carries
// a token issued after the change.
func (a *API) ChangeRole(ctx context.Context, role string) (*AuthResult, error) {
	var out AuthResult
	if err := a.call(ctx, a.authed, http.MethodPut, "/api/v1/users/me/role", map[string]string{"role": role}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnsureWalletIdentity finds or creates the identity linked to address.
func (a *API) EnsureWalletIdentity(ctx context.Context, address string) (*Identity, error) {
	return a.identity(ctx, a.public, http.MethodPost, "/api/v1/users/wallet", map[string]string{
		"walletAddress": address,
	})
}

// GetByWallet returns the identity linked to address.
func (a *API) GetByWallet(ctx context.Context, address string) (*Identity, error) {
	return a.identity(ctx, a.public, http.MethodGet, "/api/v1/users/wallet/"+url.PathEscape(address), nil)
}

func (a *API) identity(ctx context.Context, doer httpclient.Doer, method, path string, body any) (*Identity, error) {
	var out struct {
		Identity *Identity `json:"identity"`
	}
	if err := a.call(ctx, doer, method, path, body, &out); err != nil {
		return nil, err
	}
	return out.Identity, nil
}

// call sends a JSON request and decodes the data member of the response
// envelope into out. Non-2xx responses become AppErrors.
func (a *API) call(ctx context.Context, doer httpclient.Doer, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := doer.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpclient.ParseResponseError(resp, serviceName)
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", path, err)
	}
	return nil
}
