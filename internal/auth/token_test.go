package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParseToken(t *testing.T) {
	verifier := NewVerifier([]byte("secret"), "https://issuer.test/", "https://api.test")
	issued, err := verifier.Issue("auth0|user-1", "Avery@Example.com", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := verifier.Parse(issued)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Subject != "auth0|user-1" || claims.Email != "Avery@Example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ExpiresAt.IsZero() {
		t.Fatal("expected expiry to be populated")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	verifier := NewVerifier([]byte("secret"), "", "")
	issued, err := verifier.Issue("user-1", "", -time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := verifier.Parse(issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsWrongSecretAndAudience(t *testing.T) {
	issuer := NewVerifier([]byte("secret"), "", "https://api.test")
	token, err := issuer.Issue("user-1", "", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := NewVerifier([]byte("other"), "", "https://api.test").Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := NewVerifier([]byte("secret"), "", "https://other.test").Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong audience, got %v", err)
	}
	if _, err := issuer.Parse("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestParseTokenRejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if _, err := NewVerifier([]byte("secret"), "", "").Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseReadsNamespacedEmail(t *testing.T) {
	secret := []byte("secret")
	audience := "https://api.test"
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":              "user-1",
		"aud":              audience,
		"exp":              time.Now().Add(time.Hour).Unix(),
		audience + "/email": "ns@example.org",
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	claims, err := NewVerifier(secret, "", audience).Parse(signed)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Email != "ns@example.org" {
		t.Fatalf("expected namespaced email, got %q", claims.Email)
	}
}

func TestResolveEmail(t *testing.T) {
	cases := []struct {
		name   string
		claims Claims
		header string
		trust  bool
		want   string
	}{
		{name: "claim wins", claims: Claims{Subject: "s", Email: "A@B.com"}, header: "h@b.com", trust: true, want: "a@b.com"},
		{name: "trusted header", claims: Claims{Subject: "s"}, header: "H@B.com", trust: true, want: "h@b.com"},
		{name: "untrusted header ignored", claims: Claims{Subject: "auth0|123"}, header: "h@b.com", trust: false, want: "auth0_123@example.com"},
		{name: "synthetic", claims: Claims{Subject: "google-oauth2|42"}, want: "google-oauth2_42@example.com"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveEmail(tc.claims, tc.header, tc.trust); got != tc.want {
				t.Fatalf("ResolveEmail() = %q, want %q", got, tc.want)
			}
		})
	}
}
