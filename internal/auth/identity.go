// Package auth derives the vendor identity from the session bearer token.
// The order backend verifies signatures; this side only reads the claims to
// learn who it is registering as on the socket.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Aidin1998/vendorpulse/pkg/errors"
)

// RoleVendor is the only role allowed to run an intake session
const RoleVendor = "vendor"

// TokenClaims represents the claims the backend puts in a session token
type TokenClaims struct {
	UserID   string `json:"userId"`
	ID       string `json:"id"`
	LegacyID string `json:"_id"`
	Role     string `json:"role"`
	Name     string `json:"name"`
	jwt.RegisteredClaims
}

// Identity is the authenticated vendor a session acts for
type Identity struct {
	VendorID string
	Role     string
	Name     string
	Token    string
}

// BearerHeader returns the Authorization header value for REST calls
func (i Identity) BearerHeader() string {
	return "Bearer " + i.Token
}

// ParseIdentity reads the vendor identity out of token.
// A non-empty vendorOverride replaces the id taken from the claims.
func ParseIdentity(token, vendorOverride string, now time.Time) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return Identity{}, errors.Validation.Explain("vendor token is required")
	}

	claims := &TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, errors.Validation.Explain("failed to parse token").Wrap(err)
	}

	if claims.ExpiresAt != nil && now.After(claims.ExpiresAt.Time) {
		return Identity{}, errors.Validation.Explain("token expired at %s", claims.ExpiresAt.Time.Format(time.RFC3339))
	}

	id := Identity{
		VendorID: firstNonEmpty(vendorOverride, claims.UserID, claims.ID, claims.LegacyID, claims.Subject),
		Role:     strings.ToLower(claims.Role),
		Name:     claims.Name,
		Token:    token,
	}
	if err := RequireVendor(id); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// RequireVendor rejects identities that are not vendors or carry no id
func RequireVendor(id Identity) error {
	if id.Role != RoleVendor {
		return errors.Validation.Explain("role %q may not run a vendor session", id.Role).
			WithField("role", "role", fmt.Sprintf("must be %s", RoleVendor))
	}
	if id.VendorID == "" {
		return errors.Validation.Explain("token carries no vendor id")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
