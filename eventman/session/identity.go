package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/eventman/eventman-live/eventman/rest"
)

// Identity is the authenticated user as the page sees it.
type Identity struct {
	UserID    string
	Name      string
	Email     string
	Role      string
	ExpiresAt time.Time
}

// IsAdmin reports the platform admin role.
func (i Identity) IsAdmin() bool { return i.Role == rest.RoleAdmin }

// Expired reports whether the credential expired at now. A token without an
// expiry never expires.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// IdentityFromToken reads the user claims of an access token. The signature
// is not verified: the server does that on every request, the client only
// needs to know who it is.
func IdentityFromToken(token string) (Identity, error) {
	if token == "" {
		return Identity{}, errors.New("empty token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}

	id := Identity{
		UserID: firstString(claims, "id", "_id", "userId", "sub"),
		Name:   firstString(claims, "name"),
		Email:  firstString(claims, "email"),
		Role:   firstString(claims, "role"),
	}
	if id.UserID == "" {
		return Identity{}, errors.New("token has no user id claim")
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}

// IdentityFromUser converts a REST user.
func IdentityFromUser(u *rest.User) Identity {
	if u == nil {
		return Identity{}
	}
	return Identity{UserID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

func firstString(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if s, ok := claims[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
