// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

// Package auth verifies participant identity. The chat core treats
// identity as an opaque capability: a token either verifies to an
// Identity{ID, TenantID, Role} or fails.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/switchboard/internal/chaterr"
	"github.com/tomtom215/switchboard/internal/models"
)

// Identity is the verified subject of a connection.
type Identity struct {
	ID       string
	TenantID string
	Role     models.Role
}

// Verifier validates raw credentials into an Identity.
type Verifier interface {
	Verify(token string) (*Identity, error)
}

// Claims are the JWT claims Switchboard understands. Tokens are issued
// by the external identity collaborator; we only verify.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HMAC-signed tokens.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier creates a verifier for HS256 tokens signed with secret.
// If issuer is non-empty, the iss claim must match.
func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 characters")
	}
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}, nil
}

// Verify parses and validates the token. All failures map to
// chaterr.ErrAuthentication; the caller terminates the connection.
func (v *JWTVerifier) Verify(tokenStr string) (*Identity, error) {
	if tokenStr == "" {
		return nil, fmt.Errorf("%w: missing token", chaterr.ErrAuthentication)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", chaterr.ErrAuthentication, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", chaterr.ErrAuthentication)
	}

	role := models.Role(claims.Role)
	if claims.Subject == "" || claims.TenantID == "" || !role.Valid() {
		return nil, fmt.Errorf("%w: token missing subject, tenant, or role", chaterr.ErrAuthentication)
	}

	return &Identity{
		ID:       claims.Subject,
		TenantID: claims.TenantID,
		Role:     role,
	}, nil
}
