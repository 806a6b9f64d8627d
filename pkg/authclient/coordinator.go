// Package authclient is the client side of the session service: it keeps the
// access token fresh across concurrent calls and reconciles wallet and
// password identities into one snapshot.
package authclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/utafrali/rentchain/pkg/httpclient"
)

// ErrSessionExpired is returned when the access token was rejected and the
// refresh credential could not be rotated. The caller must log in again.
var ErrSessionExpired = errors.New("session expired")

// Refresher rotates the refresh credential and returns a new access token.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context) (string, error)

// Refresh implements Refresher.
func (f RefresherFunc) Refresh(ctx context.Context) (string, error) { return f(ctx) }

// CoordinatorHooks are notified of session transitions. Both are optional.
type CoordinatorHooks struct {
	// OnRefreshed runs after a rotation produced token.
	OnRefreshed func(token string)
	// OnSessionExpired runs once when a rotation fails. Every caller waiting
	// on that rotation receives ErrSessionExpired.
	OnSessionExpired func(err error)
}

// Coordinator attaches the current access token to outgoing requests and,
// when one is rejected with 401 or 403, coalesces every concurrent failure
// into a single rotation before replaying each request once.
type Coordinator struct {
	base           httpclient.Doer
	refresher      Refresher
	hooks          CoordinatorHooks
	refreshTimeout time.Duration
	logger         *slog.Logger

	mu      sync.RWMutex
	token   string
	expired bool

	group singleflight.Group
}

// NewCoordinator wraps base. refresher is called at most once per wave of
// rejected requests.
func NewCoordinator(base httpclient.Doer, refresher Refresher, hooks CoordinatorHooks, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		base:           base,
		refresher:      refresher,
		hooks:          hooks,
		refreshTimeout: 15 * time.Second,
		logger:         logger,
	}
}

// Token returns the current access token.
func (c *Coordinator) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken installs a token obtained from login, registration or a role change.
func (c *Coordinator) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expired = false
}

// Clear forgets the token, as on logout. No rotation is attempted until a new
// token is set.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expired = true
}

func (c *Coordinator) state() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.expired
}

// Do sends req with the current token. On 401 or 403 it either replays with a
// token that was rotated while req was in flight, or joins the single pending
// rotation and replays with its result. A request is replayed at most once.
func (c *Coordinator) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := makeReplayable(req); err != nil {
		return nil, err
	}

	used := c.Token()
	resp, err := c.send(ctx, req, used)
	if err != nil || !isAuthFailure(resp.StatusCode) {
		return resp, err
	}
	drain(resp)

	current, expired := c.state()
	switch {
	case current != used && current != "":
		return c.send(ctx, req, current)
	case expired:
		return nil, ErrSessionExpired
	}

	token, err := c.refresh(ctx, used)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, req, token)
}

// refresh joins or starts the single pending rotation for a request that was
// rejected with used. A rotation that completed after the caller's own state
// check is reused instead of rotating again.
func (c *Coordinator) refresh(ctx context.Context, used string) (string, error) {
	ch := c.group.DoChan("refresh", func() (any, error) {
		current, expired := c.state()
		switch {
		case current != used && current != "":
			return current, nil
		case expired:
			return "", ErrSessionExpired
		}

		// Detached so that one waiter giving up does not fail the others.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()

		token, err := c.refresher.Refresh(rctx)
		if err != nil {
			c.Clear()
			c.logger.WarnContext(ctx, "session refresh failed", slog.String("error", err.Error()))
			if c.hooks.OnSessionExpired != nil {
				c.hooks.OnSessionExpired(err)
			}
			return "", fmt.Errorf("%w: %w", ErrSessionExpired, err)
		}

		c.SetToken(token)
		if c.hooks.OnRefreshed != nil {
			c.hooks.OnRefreshed(token)
		}
		return token, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Coordinator) send(ctx context.Context, req *http.Request, token string) (*http.Response, error) {
	out := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		out.Body = body
	}
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}
	return c.base.Do(ctx, out)
}

// makeReplayable buffers a body that cannot be re-read.
func makeReplayable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	b, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return fmt.Errorf("buffer request body: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	req.Body, _ = req.GetBody()
	return nil
}

func isAuthFailure(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
