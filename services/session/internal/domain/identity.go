package domain

import (
	"errors"
	"strings"
	"time"
)

// Role is the flat authorization role of an identity. Roles are compared by
// equality only.
type Role string

const (
	RoleTenant Role = "TENANT"
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
)

// ValidRoles returns the set of valid roles.
func ValidRoles() []Role {
	return []Role{RoleTenant, RoleOwner, RoleAdmin}
}

// Valid reports whether r is one of ValidRoles.
func (r Role) Valid() bool {
	for _, v := range ValidRoles() {
		if v == r {
			return true
		}
	}
	return false
}

// ErrNoLoginMethod is returned when an identity would have neither a password
// nor a wallet address.
var ErrNoLoginMethod = errors.New("identity needs a password or a wallet address")

// Identity is a registered principal, reachable by password, wallet or both.
// Email and PasswordHash are empty for wallet-only identities.
type Identity struct {
	ID            string    `json:"id"`
	Email         string    `json:"email,omitempty"`
	Username      string    `json:"username"`
	PasswordHash  string    `json:"-"`
	WalletAddress string    `json:"walletAddress,omitempty"`
	Role          Role      `json:"role"`
	ProfileImage  string    `json:"profileImage,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// HasPassword reports whether the identity can log in with a password.
func (i *Identity) HasPassword() bool { return i.PasswordHash != "" }

// HasWallet reports whether a wallet address is linked.
func (i *Identity) HasWallet() bool { return i.WalletAddress != "" }

// Validate checks the invariants enforced by the identities table.
func (i *Identity) Validate() error {
	if !i.HasPassword() && !i.HasWallet() {
		return ErrNoLoginMethod
	}
	if !i.Role.Valid() {
		return errors.New("invalid role " + string(i.Role))
	}
	if i.Username == "" {
		return errors.New("username is required")
	}
	return nil
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername trims a username. Usernames keep their case.
func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

// NormalizeWalletAddress lowercases a hex wallet address so that checksummed
// and plain forms compare equal.
func NormalizeWalletAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// WalletUsername synthesises the username of a wallet-only identity:
// "wallet-" followed by the first ten hex characters of the address.
func WalletUsername(addr string) string {
	hex := strings.TrimPrefix(NormalizeWalletAddress(addr), "0x")
	if len(hex) > 10 {
		hex = hex[:10]
	}
	return "wallet-" + hex
}
