package jwttoken

import (
	authmw "propledger/pkg/platform/middleware/auth"
)

// JWTServiceAdapter lets the auth middleware validate registry access tokens
// without importing this package.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

// ValidateToken returns the middleware view of a valid token. The subject is
// rewritten to the checksummed principal so callers see one spelling per
// address.
func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	principal, err := claims.Principal()
	if err != nil {
		return nil, err
	}
	return &authmw.JWTClaims{Subject: principal.String(), JTI: claims.ID}, nil
}
