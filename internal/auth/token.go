package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of a verified bearer token the API relies on.
type Claims struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Verifier checks HS256 bearer tokens issued by the identity provider.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
}

func NewVerifier(secret []byte, issuer, audience string) *Verifier {
	return &Verifier{secret: secret, issuer: issuer, audience: audience}
}

// Parse validates signature, expiry and, when configured, issuer and audience.
// The email is taken from the standard claim or the audience-namespaced one.
func (v *Verifier) Parse(token string) (Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		options = append(options, jwt.WithAudience(v.audience))
	}

	mapClaims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, mapClaims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, options...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}

	subject, _ := mapClaims.GetSubject()
	claims := Claims{Subject: strings.TrimSpace(subject)}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if email, ok := mapClaims["email"].(string); ok && strings.TrimSpace(email) != "" {
		claims.Email = strings.TrimSpace(email)
	} else if v.audience != "" {
		if email, ok := mapClaims[v.audience+"/email"].(string); ok {
			claims.Email = strings.TrimSpace(email)
		}
	}
	return claims, nil
}

// Issue signs a token for the given subject. Used by local tooling and tests.
func (v *Verifier) Issue(subject, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if email != "" {
		claims["email"] = email
	}
	if v.issuer != "" {
		claims["iss"] = v.issuer
	}
	if v.audience != "" {
		claims["aud"] = v.audience
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ResolveEmail picks the caller's email: token claim, then the X-User-Email
// header when trusted, then an address derived from the subject.
func ResolveEmail(claims Claims, headerEmail string, trustHeader bool) string {
	if claims.Email != "" {
		return strings.ToLower(claims.Email)
	}
	if trustHeader {
		if email := strings.TrimSpace(headerEmail); email != "" {
			return strings.ToLower(email)
		}
	}
	return strings.ToLower(strings.Replace(claims.Subject, "|", "_", 1)) + "@example.com"
}
