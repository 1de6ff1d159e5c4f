// Package auth signs and verifies the JWT carried by a Connect frame's
// handshake, adapted from the teacher's gateway JWT manager.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aetherflow/qmux/pkg/wireid"
)

var (
	// ErrInvalidToken is returned for a token that fails signature or
	// claim validation, or whose connection id does not match the Connect
	// frame's; expired tokens and tokens without a host id get the errors
	// below instead.
	ErrInvalidToken = errors.New("invalid connect token")
	// ErrExpiredToken is returned for a token past its expiry.
	ErrExpiredToken = errors.New("connect token has expired")
	// ErrMissingClaims is returned when a structurally valid token omits
	// a required claim.
	ErrMissingClaims = errors.New("connect token missing required claims")
)

// ConnectClaims identifies the peer presenting a Connect frame.
type ConnectClaims struct {
	HostID       string `json:"host_id"`
	ConnectionID uint32 `json:"connection_id"`
	jwt.RegisteredClaims
}

// Manager issues and verifies Connect-frame tokens for one host
// instance.
type Manager struct {
	secret []byte
	expire time.Duration
	issuer string
}

// NewManager creates a Manager with the given shared secret, issuer, and
// token lifetime.
func NewManager(secret, issuer string, expireSeconds int64) *Manager {
	return &Manager{
		secret: []byte(secret),
		expire: time.Duration(expireSeconds) * time.Second,
		issuer: issuer,
	}
}

// NewConnectionID mints a fresh connection_id for a Connect frame by
// generating a timestamp-ordered wire id and folding it to 32 bits.
func NewConnectionID() (uint32, error) {
	id, err := wireid.NewWithTimestamp()
	if err != nil {
		return 0, fmt.Errorf("mint connection id: %w", err)
	}
	return id.Uint32(), nil
}

// IssueToken produces a signed token identifying hostID for the given
// connection id, to be carried out-of-band alongside a Connect frame.
func (m *Manager) IssueToken(hostID string, connectionID uint32) (string, error) {
	now := time.Now()
	claims := ConnectClaims{
		HostID:       hostID,
		ConnectionID: connectionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expire)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// VerifyToken validates tokenString and, on success, confirms its
// connection id matches the Connect frame's connectionID.
func (m *Manager) VerifyToken(tokenString string, connectionID uint32) (*ConnectClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ConnectClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*ConnectClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.HostID == "" {
		return nil, ErrMissingClaims
	}
	if claims.ConnectionID != connectionID {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
