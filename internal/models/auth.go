package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the claims carry the admin role.
func (c *JWTClaims) IsAdmin() bool {
	return c != nil && c.Role == RoleAdmin
}

// Actor is the staff member performing a lifecycle operation.
type Actor struct {
	ID   string
	Name string
	Role UserRole
}

// ActorFromClaims derives the acting user from token claims.
func ActorFromClaims(c *JWTClaims) Actor {
	if c == nil {
		return Actor{}
	}
	name := c.FullName
	if name == "" {
		name = c.Email
	}
	return Actor{ID: c.UserID, Name: name, Role: c.Role}
}
