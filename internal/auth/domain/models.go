package domain

import "github.com/golang-jwt/jwt/v5"

// Claims carries the identity issued by the account service. The user id
// travels in the "uuid" claim; "sub" is accepted as a fallback.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uuid,omitempty"`
	Email  string `json:"email,omitempty"`
}

type Identity struct {
	UserID string
	Email  string
}
