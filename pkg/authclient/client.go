package authclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/utafrali/rentchain/pkg/httpclient"
)

// Config configures a Client.
type Config struct {
	// BaseURL of the session service, e.g. https://api.example.com.
	BaseURL string

	HTTP    httpclient.Config
	Breaker httpclient.CircuitBreakerConfig

	// Store persists the access token and snapshot. Optional.
	Store SnapshotStore

	// Wallet is the wallet provider watched by Run. Optional.
	Wallet       WalletProvider
	PollInterval time.Duration

	// OnSessionExpired fires once per failed rotation, after local state is
	// cleared. Applications send the user to the login surface here.
	OnSessionExpired func()

	Logger *slog.Logger
}

// DefaultConfig returns a Config for the service at baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		HTTP:         httpclient.DefaultConfig(),
		Breaker:      httpclient.DefaultCircuitBreakerConfig(serviceName),
		PollInterval: DefaultPollInterval,
	}
}

// Client is an explicit session handle: it owns the cookie jar, the refresh
// coordinator and the identity reconciler. Use Do for authenticated calls to
// any rentchain API.
type Client struct {
	api         *API
	breaker     *httpclient.CircuitBreakerClient
	coordinator *Coordinator
	reconciler  *Reconciler
	store       SnapshotStore
	cfg         Config
	logger      *slog.Logger

	persistMu sync.Mutex
}

// New creates a Client and restores any state saved in cfg.Store.
func New(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.HTTP.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		cfg.HTTP.Jar = jar
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker = httpclient.DefaultCircuitBreakerConfig(serviceName)
	}

	base := httpclient.NewCircuitBreakerClient(httpclient.New(cfg.HTTP), cfg.Breaker, logger)

	c := &Client{breaker: base, store: cfg.Store, cfg: cfg, logger: logger}

	// The coordinator needs the API to refresh and the API needs the
	// coordinator for authenticated calls.
	var api *API
	c.coordinator = NewCoordinator(base, RefresherFunc(func(ctx context.Context) (string, error) {
		return api.Refresh(ctx)
	}), CoordinatorHooks{
		OnRefreshed:      func(string) { c.persist() },
		OnSessionExpired: c.expire,
	}, logger)
	api = NewAPI(cfg.BaseURL, base, c.coordinator)
	c.api = api
	c.reconciler = NewReconciler(api, func(Snapshot) { c.persist() }, logger)

	if err := c.restore(); err != nil {
		logger.Warn("discarding saved session state", slog.String("error", err.Error()))
	}
	return c, nil
}

// API exposes the typed session endpoints.
func (c *Client) API() *API { return c.api }

// Do sends an authenticated request through the refresh coordinator.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.coordinator.Do(ctx, req)
}

// Snapshot returns the reconciled identity view.
func (c *Client) Snapshot() Snapshot { return c.reconciler.Snapshot() }

// AccessToken returns the current access token.
func (c *Client) AccessToken() string { return c.coordinator.Token() }

// Register creates a password identity and starts its session.
func (c *Client) Register(ctx context.Context, email, username, password string) (*Identity, error) {
	res, err := c.api.Register(ctx, email, username, password)
	if err != nil {
		return nil, err
	}
	return c.begin(ctx, res)
}

// Login starts a password session.
func (c *Client) Login(ctx context.Context, emailOrUsername, password string) (*Identity, error) {
	res, err := c.api.Login(ctx, emailOrUsername, password)
	if err != nil {
		return nil, err
	}
	return c.begin(ctx, res)
}

// Me fetches the session identity and folds it into the snapshot.
func (c *Client) Me(ctx context.Context) (*Identity, error) {
	identity, err := c.api.Me(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.reconciler.ObserveIdentity(ctx, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// ChangeRole changes the role of the session identity and adopts the token
// issued with it.
func (c *Client) ChangeRole(ctx context.Context, role string) (*Identity, error) {
	res, err := c.api.ChangeRole(ctx, role)
	if err != nil {
		return nil, err
	}
	c.coordinator.SetToken(res.AccessToken)
	if err := c.reconciler.ObserveIdentity(ctx, res.Identity); err != nil {
		return nil, err
	}
	return res.Identity, nil
}

// Logout revokes the session on the server and forgets it locally. A wallet
// identity, if connected, is kept.
func (c *Client) Logout(ctx context.Context) error {
	err := c.api.Logout(ctx)
	c.coordinator.Clear()
	if rerr := c.reconciler.SetClassicIdentity(ctx, nil); rerr != nil && err == nil {
		err = rerr
	}
	c.persist()
	return err
}

// Run reconciles wallet signals and polls the authoritative role until ctx ends.
func (c *Client) Run(ctx context.Context) {
	c.reconciler.Run(ctx, c.cfg.Wallet, c.cfg.PollInterval)
}

func (c *Client) begin(ctx context.Context, res *AuthResult) (*Identity, error) {
	c.coordinator.SetToken(res.AccessToken)
	if err := c.reconciler.SetClassicIdentity(ctx, res.Identity); err != nil {
		// The session is valid even if linking the connected wallet failed.
		c.logger.WarnContext(ctx, "wallet reconciliation after login failed", slog.String("error", err.Error()))
	}
	c.persist()
	return res.Identity, nil
}

// expire clears local session state after a failed rotation.
func (c *Client) expire(err error) {
	attrs := []any{slog.String("error", err.Error())}
	if errors.Is(err, httpclient.ErrCircuitOpen) {
		// The service was never asked; the refresh credential may still be valid.
		attrs = append(attrs, slog.String("breaker", c.breaker.State().String()))
		c.logger.Warn("session expired while session service unavailable", attrs...)
	} else {
		c.logger.Info("session expired", attrs...)
	}
	_ = c.reconciler.SetClassicIdentity(context.Background(), nil)
	if c.store != nil {
		if err := c.store.Clear(); err != nil {
			c.logger.Warn("failed to clear session state", slog.String("error", err.Error()))
		}
	}
	if c.cfg.OnSessionExpired != nil {
		c.cfg.OnSessionExpired()
	}
}

func (c *Client) restore() error {
	if c.store == nil {
		return nil
	}
	state, err := c.store.Load()
	if err != nil || state == nil {
		return err
	}
	if state.AccessToken != "" {
		c.coordinator.SetToken(state.AccessToken)
	}
	c.reconciler.Restore(state.Snapshot)
	return nil
}

func (c *Client) persist() {
	if c.store == nil {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	state := &State{
		AccessToken: c.coordinator.Token(),
		Snapshot:    c.reconciler.Snapshot(),
		SavedAt:     time.Now().UTC(),
	}
	if err := c.store.Save(state); err != nil {
		c.logger.Warn("failed to save session state", slog.String("error", err.Error()))
	}
}
