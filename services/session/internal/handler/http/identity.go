package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/rentchain/pkg/httputil"
	"github.com/utafrali/rentchain/pkg/middleware"
	"github.com/utafrali/rentchain/pkg/validator"
	"github.com/utafrali/rentchain/services/session/internal/domain"
	"github.com/utafrali/rentchain/services/session/internal/service"
)

// IdentityHandler handles HTTP requests for identity profiles and wallets.
type IdentityHandler struct {
	identities *service.IdentityService
	logger     *slog.Logger
}

// NewIdentityHandler creates a new identity HTTP handler.
func NewIdentityHandler(identities *service.IdentityService, logger *slog.Logger) *IdentityHandler {
	return &IdentityHandler{identities: identities, logger: logger}
}

// --- Request DTOs ---

// UpdateProfileRequest is the JSON request body for updating a profile.
type UpdateProfileRequest struct {
	Username     *string `json:"username" validate:"omitempty,min=3,max=50"`
	ProfileImage *string `json:"profileImage" validate:"omitempty,max=2048"`
}

// WalletRequest carries a wallet address.
type WalletRequest struct {
	WalletAddress string `json:"walletAddress" validate:"required,eth_addr"`
}

// ChangeRoleRequest is the JSON request body for changing the caller's role.
type ChangeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=TENANT OWNER ADMIN"`
}

// IdentityResponse wraps a single identity.
type IdentityResponse struct {
	Identity *domain.Identity `json:"identity"`
}

// PublicIdentity is what anyone holding a wallet address may learn about
// its owner.
type PublicIdentity struct {
	ID            string      `json:"id"`
	Username      string      `json:"username"`
	WalletAddress string      `json:"walletAddress"`
	Role          domain.Role `json:"role"`
}

// PublicIdentityResponse wraps a single public identity.
type PublicIdentityResponse struct {
	Identity *PublicIdentity `json:"identity"`
}

func newPublicIdentityResponse(identity *domain.Identity) PublicIdentityResponse {
	return PublicIdentityResponse{Identity: &PublicIdentity{
		ID:            identity.ID,
		Username:      identity.Username,
		WalletAddress: identity.WalletAddress,
		Role:          identity.Role,
	}}
}

// --- Handlers ---

// GetMe handles GET /api/v1/users/me
func (h *IdentityHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	identity, err := h.identities.GetProfile(r.Context(), middleware.IdentityIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: IdentityResponse{Identity: identity}})
}

// UpdateMe handles PUT /api/v1/users/me
func (h *IdentityHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req UpdateProfileRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	identity, err := h.identities.UpdateProfile(r.Context(), middleware.IdentityIDFromContext(r.Context()), service.UpdateProfileInput{
		Username:     req.Username,
		ProfileImage: req.ProfileImage,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: IdentityResponse{Identity: identity}})
}

// ConnectWallet handles PUT /api/v1/users/me/wallet
func (h *IdentityHandler) ConnectWallet(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req WalletRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	identity, err := h.identities.ConnectWallet(r.Context(), middleware.IdentityIDFromContext(r.Context()), req.WalletAddress)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: IdentityResponse{Identity: identity}})
}

// ChangeRole handles PUT /api/v1/users/me/role. The response carries a fresh
// access token.
func (h *IdentityHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req ChangeRoleRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	identity, token, err := h.identities.ChangeRole(r.Context(), middleware.IdentityIDFromContext(r.Context()), domain.Role(req.Role))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: SessionResponse{Identity: identity, AccessToken: token},
	})
}

// EnsureWalletIdentity handles POST /api/v1/users/wallet. Both wallet routes are
// unauthenticated and answer with the public view only.
func (h *IdentityHandler) EnsureWalletIdentity(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req WalletRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	identity, err := h.identities.EnsureWalletIdentity(r.Context(), req.WalletAddress)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: newPublicIdentityResponse(identity)})
}

// GetByWallet handles GET /api/v1/users/wallet/{address}
func (h *IdentityHandler) GetByWallet(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if err := validator.Validate(WalletRequest{WalletAddress: address}); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	identity, err := h.identities.GetByWallet(r.Context(), address)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: newPublicIdentityResponse(identity)})
}
