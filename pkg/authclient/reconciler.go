package authclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	apperrors "github.com/utafrali/rentchain/pkg/errors"
)

// DefaultPollInterval is how often the authoritative role is re-read.
const DefaultPollInterval = 30 * time.Second

// Source says where the current identity came from.
type Source int

const (
	SourceNone Source = iota
	SourceFromWallet
	SourceFromClassicSession
)

var sourceNames = map[Source]string{
	SourceNone:               "none",
	SourceFromWallet:         "wallet",
	SourceFromClassicSession: "classic",
}

func (s Source) String() string {
	if name, ok := sourceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Source(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Source) UnmarshalText(b []byte) error {
	for src, name := range sourceNames {
		if name == string(b) {
			*s = src
			return nil
		}
	}
	return fmt.Errorf("unknown identity source %q", b)
}

// Snapshot is the one identity view the application reads. Role is a cached
// hint for presentation; the server never trusts it.
type Snapshot struct {
	Source        Source    `json:"source"`
	Identity      *Identity `json:"identity,omitempty"`
	WalletAddress string    `json:"walletAddress,omitempty"`
	Role          string    `json:"role,omitempty"`
}

// WalletSignal reports the wallet provider's account state.
type WalletSignal struct {
	Address   string
	Connected bool
}

// WalletProvider is the browser or device wallet. Watch emits the current
// account state and every change until ctx ends, then closes the channel.
type WalletProvider interface {
	Watch(ctx context.Context) <-chan WalletSignal
}

// WalletAPI is the part of the session API the reconciler calls.
type WalletAPI interface {
	ConnectWallet(ctx context.Context, address string) (*Identity, error)
	EnsureWalletIdentity(ctx context.Context, address string) (*Identity, error)
	GetByWallet(ctx context.Context, address string) (*Identity, error)
}

// --- Reducer ---

type signal interface{ isSignal() }

type walletChanged WalletSignal

type classicChanged struct{ identity *Identity }

type identityFetched struct{ identity *Identity }

func (walletChanged) isSignal()   {}
func (classicChanged) isSignal()  {}
func (identityFetched) isSignal() {}

type effectKind int

const (
	effectNone effectKind = iota
	effectConnectWallet
	effectEnsureWalletIdentity
)

type effect struct {
	kind    effectKind
	address string
}

type reconcileState struct {
	classic        *Identity
	walletIdentity *Identity
	wallet         string

	// connectTried guards ConnectWallet to one attempt per address.
	connectTried map[string]bool
}

// reduce applies sig and returns the follow-up call, if any. It performs no
// I/O; the caller runs the effect and feeds its result back as identityFetched.
func reduce(s reconcileState, sig signal) (reconcileState, effect) {
	switch sig := sig.(type) {
	case walletChanged:
		if !sig.Connected {
			s.wallet = ""
			s.walletIdentity = nil
			return s, effect{}
		}
		s.wallet = normalizeAddress(sig.Address)
		if s.walletIdentity != nil && !sameAddress(s.walletIdentity.WalletAddress, s.wallet) {
			s.walletIdentity = nil
		}
		if s.classic != nil {
			return s, s.connectOnce()
		}
		if s.walletIdentity == nil {
			return s, effect{kind: effectEnsureWalletIdentity, address: s.wallet}
		}

	case classicChanged:
		s.classic = sig.identity
		if s.classic != nil && s.wallet != "" {
			return s, s.connectOnce()
		}
		if s.classic == nil && s.wallet != "" && s.walletIdentity == nil {
			return s, effect{kind: effectEnsureWalletIdentity, address: s.wallet}
		}

	case identityFetched:
		id := sig.identity
		switch {
		case id == nil:
		case s.classic != nil && s.classic.ID == id.ID:
			s.classic = id
		case s.classic == nil && s.wallet != "" && sameAddress(id.WalletAddress, s.wallet):
			s.walletIdentity = id
		}
	}
	return s, effect{}
}

// connectOnce links the connected wallet to the classic identity unless it
// already has one or this address was tried before.
func (s *reconcileState) connectOnce() effect {
	if s.classic.WalletAddress != "" || s.connectTried[s.wallet] {
		return effect{}
	}
	if s.connectTried == nil {
		s.connectTried = make(map[string]bool)
	}
	s.connectTried[s.wallet] = true
	return effect{kind: effectConnectWallet, address: s.wallet}
}

func derive(s reconcileState) Snapshot {
	switch {
	case s.classic != nil:
		return Snapshot{Source: SourceFromClassicSession, Identity: s.classic, WalletAddress: s.wallet, Role: s.classic.Role}
	case s.walletIdentity != nil:
		return Snapshot{Source: SourceFromWallet, Identity: s.walletIdentity, WalletAddress: s.wallet, Role: s.walletIdentity.Role}
	default:
		return Snapshot{Source: SourceNone, WalletAddress: s.wallet}
	}
}

// --- Reconciler ---

// Reconciler feeds wallet signals, classic-session changes and role polls
// through reduce and publishes the resulting Snapshot.
type Reconciler struct {
	api      WalletAPI
	onChange func(Snapshot)
	logger   *slog.Logger

	mu       sync.Mutex
	state    reconcileState
	snapshot Snapshot
}

// NewReconciler creates a reconciler. onChange, when set, receives every new
// snapshot.
func NewReconciler(api WalletAPI, onChange func(Snapshot), logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{api: api, onChange: onChange, logger: logger}
}

// Snapshot returns the current identity view.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot
}

// Restore seeds the reconciler from a persisted snapshot without calling the API.
func (r *Reconciler) Restore(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = reconcileState{wallet: normalizeAddress(s.WalletAddress)}
	switch s.Source {
	case SourceFromClassicSession:
		r.state.classic = s.Identity
	case SourceFromWallet:
		r.state.walletIdentity = s.Identity
	}
	r.snapshot = derive(r.state)
}

// HandleWallet applies a wallet provider signal.
func (r *Reconciler) HandleWallet(ctx context.Context, sig WalletSignal) error {
	return r.dispatch(ctx, walletChanged(sig))
}

// SetClassicIdentity records the identity of a password session, or nil
// after logout.
func (r *Reconciler) SetClassicIdentity(ctx context.Context, identity *Identity) error {
	return r.dispatch(ctx, classicChanged{identity: identity})
}

// ObserveIdentity folds in a fresher copy of the current identity, such as the
// result of a role change.
func (r *Reconciler) ObserveIdentity(ctx context.Context, identity *Identity) error {
	return r.dispatch(ctx, identityFetched{identity: identity})
}

// Poll re-reads the identity linked to the connected wallet so a role changed
// elsewhere replaces the cached one.
func (r *Reconciler) Poll(ctx context.Context) error {
	r.mu.Lock()
	wallet := r.state.wallet
	r.mu.Unlock()
	if wallet == "" {
		return nil
	}

	identity, err := r.api.GetByWallet(ctx, wallet)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("poll wallet identity: %w", err)
	}
	return r.dispatch(ctx, identityFetched{identity: identity})
}

// Run consumes wallet signals and polls every interval until ctx ends.
// Errors are logged; they never stop the loop.
func (r *Reconciler) Run(ctx context.Context, provider WalletProvider, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	var signals <-chan WalletSignal
	if provider != nil {
		signals = provider.Watch(ctx)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			if err := r.HandleWallet(ctx, sig); err != nil {
				r.logger.WarnContext(ctx, "wallet reconciliation failed", slog.String("error", err.Error()))
			}
		case <-ticker.C:
			if err := r.Poll(ctx); err != nil {
				r.logger.WarnContext(ctx, "wallet role poll failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Reconciler) dispatch(ctx context.Context, sig signal) error {
	r.mu.Lock()
	next, eff := reduce(r.state, sig)
	r.state = next
	changed := r.publishLocked()
	r.mu.Unlock()

	if changed != nil && r.onChange != nil {
		r.onChange(*changed)
	}

	var (
		identity *Identity
		err      error
	)
	switch eff.kind {
	case effectNone:
		return nil
	case effectConnectWallet:
		identity, err = r.api.ConnectWallet(ctx, eff.address)
		if err != nil {
			return fmt.Errorf("connect wallet: %w", err)
		}
	case effectEnsureWalletIdentity:
		identity, err = r.api.EnsureWalletIdentity(ctx, eff.address)
		if err != nil {
			return fmt.Errorf("ensure wallet identity: %w", err)
		}
	}
	return r.dispatch(ctx, identityFetched{identity: identity})
}

// publishLocked recomputes the snapshot and returns it when it changed.
func (r *Reconciler) publishLocked() *Snapshot {
	next := derive(r.state)
	if reflect.DeepEqual(next, r.snapshot) {
		return nil
	}
	r.snapshot = next
	return &next
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func sameAddress(a, b string) bool {
	return a != "" && normalizeAddress(a) == normalizeAddress(b)
}
