package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Operator is a back-office account allowed on the admin surface. Payers
// never authenticate against this service; only staff reviewing flagged
// transactions do.
type Operator struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	Name         string    `db:"name"`
	PasswordHash string    `db:"password_hash"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// TokenGenerator creates and validates JWT tokens.
type TokenGenerator interface {
	GenerateAccessToken(operatorID string) (string, error)
	GenerateRefreshToken(operatorID string) (string, error)
	ValidateAccessToken(tokenString string) (*Claims, error)
	ValidateRefreshToken(tokenString string) (*Claims, error)
}

type AuthTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Claims represents JWT token claims
type Claims struct {
	OperatorID string `json:"operator_id"`
	jwt.RegisteredClaims
}
