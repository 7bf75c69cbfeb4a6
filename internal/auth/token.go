package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"livraison/internal/config"
	"livraison/internal/domain"
)

var signingMethod = jwt.SigningMethodHS256

// Claims is the access token payload issued by the identity service.
type Claims struct {
	UserID       string      `json:"user_id"`
	Role         domain.Role `json:"role"`
	RestaurantID string      `json:"restaurant_id,omitempty"`
	jwt.RegisteredClaims
}

func (c Claims) Actor() domain.Actor {
	return domain.Actor{
		UserID:       c.UserID,
		Role:         c.Role,
		RestaurantID: c.RestaurantID,
	}
}

// Mint signs a token for actor. The service itself never logs users in; this
// backs the CLI token command and tests.
func Mint(cfg config.AuthConfig, now time.Time, ttl time.Duration, actor domain.Actor) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	if err := checkActor(actor); err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive")
	}

	claims := Claims{
		UserID:       actor.UserID,
		Role:         actor.Role,
		RestaurantID: actor.RestaurantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   actor.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// Parse validates signature, issuer and expiry, then the claims themselves.
func Parse(cfg config.AuthConfig, tokenString string) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{signingMethod.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != signingMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		opts...,
	)
	if err != nil {
		return nil, err
	}
	if err := checkActor(claims.Actor()); err != nil {
		return nil, err
	}
	return claims, nil
}

func checkActor(actor domain.Actor) error {
	if strings.TrimSpace(actor.UserID) == "" {
		return fmt.Errorf("user_id is required")
	}
	// system is reserved for in-process callers and never comes over the wire.
	if !actor.Role.IsValid() || actor.Role == domain.RoleSystem {
		return fmt.Errorf("invalid role %q", actor.Role)
	}
	if actor.Role == domain.RoleRestaurant && actor.RestaurantID == "" {
		return fmt.Errorf("restaurant_id is required for restaurant tokens")
	}
	return nil
}
