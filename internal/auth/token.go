package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aisaas-platform/aisaas/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Verifier turns a bearer credential into the identity it asserts.
type Verifier interface {
	Verify(ctx context.Context, credential string) (models.Identity, error)
}

// TokenClaims represents the claims in a JWT token. The subject is the
// external identity id.
type TokenClaims struct {
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager verifies and issues HS256 tokens with a shared secret.
type TokenManager struct {
	secretKey []byte
	issuer    string
	now       func() time.Time
}

// NewTokenManager creates a new TokenManager. An empty issuer disables the
// issuer check.
func NewTokenManager(secretKey, issuer string) *TokenManager {
	return &TokenManager{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		now:       time.Now,
	}
}

// GenerateToken creates a signed token for ident valid for duration.
func (tm *TokenManager) GenerateToken(ident models.Identity, duration time.Duration) (string, error) {
	if ident.ExternalID == "" {
		return "", errors.New("external id is required")
	}
	now := tm.now()
	claims := TokenClaims{
		Email:   ident.Email,
		Name:    ident.Name,
		Picture: ident.ImageURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ident.ExternalID,
			Issuer:    tm.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secretKey)
}

// ValidateToken validates a JWT token and returns the claims
func (tm *TokenManager) ValidateToken(tokenString string) (*TokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	}
	if tm.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tm.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return tm.secretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Verify implements Verifier.
func (tm *TokenManager) Verify(_ context.Context, credential string) (models.Identity, error) {
	claims, err := tm.ValidateToken(credential)
	if err != nil {
		return models.Identity{}, err
	}
	return models.Identity{
		ExternalID: claims.Subject,
		Email:      claims.Email,
		Name:       claims.Name,
		ImageURL:   claims.Picture,
	}, nil
}
