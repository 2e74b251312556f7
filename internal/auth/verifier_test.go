// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/switchboard/internal/chaterr"
	"github.com/tomtom215/switchboard/internal/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func validClaims() Claims {
	return Claims{
		TenantID: "acme",
		Role:     string(models.RoleAgent),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "agent-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func newVerifier(t *testing.T, issuer string) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret, issuer)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func TestVerifyValidToken(t *testing.T) {
	v := newVerifier(t, "")

	identity, err := v.Verify(signToken(t, testSecret, validClaims()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.ID != "agent-1" || identity.TenantID != "acme" || identity.Role != models.RoleAgent {
		t.Errorf("identity = %+v", identity)
	}
}

func TestVerifyRejections(t *testing.T) {
	v := newVerifier(t, "")

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	noSubject := validClaims()
	noSubject.Subject = ""

	noTenant := validClaims()
	noTenant.TenantID = ""

	badRole := validClaims()
	badRole.Role = "superuser"

	cases := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage", "not.a.jwt"},
		{"wrong secret", signToken(t, "ffffffffffffffffffffffffffffffff", validClaims())},
		{"expired", signToken(t, testSecret, expired)},
		{"missing expiry", signToken(t, testSecret, noExpiry)},
		{"missing subject", signToken(t, testSecret, noSubject)},
		{"missing tenant", signToken(t, testSecret, noTenant)},
		{"unknown role", signToken(t, testSecret, badRole)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(tc.token)
			if !errors.Is(err, chaterr.ErrAuthentication) {
				t.Errorf("err = %v, want ErrAuthentication", err)
			}
		})
	}
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	v := newVerifier(t, "")

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, validClaims()).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := v.Verify(token); !errors.Is(err, chaterr.ErrAuthentication) {
		t.Errorf("err = %v, want ErrAuthentication", err)
	}
}

func TestVerifyIssuerCheck(t *testing.T) {
	v := newVerifier(t, "switchboard")

	matching := validClaims()
	matching.Issuer = "switchboard"
	if _, err := v.Verify(signToken(t, testSecret, matching)); err != nil {
		t.Errorf("matching issuer rejected: %v", err)
	}

	wrong := validClaims()
	wrong.Issuer = "somebody-else"
	if _, err := v.Verify(signToken(t, testSecret, wrong)); !errors.Is(err, chaterr.ErrAuthentication) {
		t.Error("wrong issuer accepted")
	}

	missing := validClaims()
	if _, err := v.Verify(signToken(t, testSecret, missing)); !errors.Is(err, chaterr.ErrAuthentication) {
		t.Error("missing issuer accepted")
	}
}

func TestNewJWTVerifierShortSecret(t *testing.T) {
	if _, err := NewJWTVerifier("too-short", ""); err == nil {
		t.Error("short secret accepted")
	}
}
