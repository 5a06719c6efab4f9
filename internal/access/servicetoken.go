package access

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const serviceTokenIssuer = "sitewright-uas"

// ErrInvalidServiceToken indicates a service token failed validation.
var ErrInvalidServiceToken = errors.New("access: invalid service token")

// ServiceClaims are the JWT claims carried by platform service tokens.
// Scopes name the decision endpoints the caller may use; the subject is
// the calling component (page renderer, an installed feature script).
type ServiceClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// ServiceTokens signs and verifies HS256 tokens that the rest of the
// platform uses to call the decision endpoints. Visitor sessions are
// opaque database tokens; these JWTs are strictly service-to-service.
type ServiceTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewServiceTokens constructs the issuer. The secret comes from process
// configuration, never from ambient globals.
func NewServiceTokens(secret string, ttl time.Duration) (*ServiceTokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("service token secret is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ServiceTokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for the named platform component.
func (t *ServiceTokens) Issue(subject string, scopes []string) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("subject is required")
	}
	now := t.now().UTC()
	claims := ServiceClaims{
		Scopes: dedupeScopes(scopes),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    serviceTokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and required claims.
func (t *ServiceTokens) Verify(token string) (*ServiceClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidServiceToken
	}
	parsed, err := jwt.ParseWithClaims(token, &ServiceClaims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidServiceToken
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return t.now().UTC() }))
	if err != nil {
		return nil, ErrInvalidServiceToken
	}
	claims, ok := parsed.Claims.(*ServiceClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidServiceToken
	}
	if claims.Issuer != serviceTokenIssuer || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidServiceToken
	}
	claims.Scopes = dedupeScopes(claims.Scopes)
	return claims, nil
}

// HasScope reports whether the claims carry the scope.
func (c *ServiceClaims) HasScope(scope string) bool {
	scope = strings.TrimSpace(strings.ToLower(scope))
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

func dedupeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(scopes))
	var out []string
	for _, s := range scopes {
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
