package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"chorus/chat-service/models"
)

// Claims is the bearer token payload.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens and resolves the embedded identity
// against the user store. Safe for concurrent use; verification has no
// side effects.
type Verifier struct {
	secret []byte
	store  Store
}

func NewVerifier(secret string, store Store) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		store:  store,
	}
}

// Verify parses and validates the token and returns the user it identifies.
// Failures are reported as UnauthorizedError values: missing token, expired,
// invalid, or unknown user.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*models.User, error) {
	if tokenString == "" {
		return nil, models.ErrMissingToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Validate the alg is what we expect
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrTokenExpired
		}
		return nil, models.ErrTokenInvalid
	}
	if !token.Valid {
		return nil, models.ErrTokenInvalid
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, models.ErrTokenInvalid
	}

	user, err := v.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnknownUser
		}
		return nil, fmt.Errorf("failed to resolve token identity: %w", err)
	}
	return user, nil
}

// Issue signs a bearer token for the user with the given validity window.
func (v *Verifier) Issue(user *models.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   user.ID.String(),
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
