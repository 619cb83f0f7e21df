package manager

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
)

// Join roles
const (
	RoleVoter    = "voter"
	RoleNonvoter = "nonvoter"
)

var (
	// ErrInvalidToken is returned for unknown join tokens
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned for join tokens past their expiry
	ErrTokenExpired = errors.New("token expired")
)

// TokenManager manages join tokens for the cluster
type TokenManager struct {
	tokens map[string]*JoinToken
	clock  clock.Clock
	mu     sync.RWMutex
}

// JoinToken represents a token for joining the cluster.
// A zero ExpiresAt never expires.
type JoinToken struct {
	Token     string
	Role      string // "voter" or "nonvoter"
	CreatedAt time.Time
	ExpiresAt time.Time
}

// NewTokenManager creates a new token manager
func NewTokenManager(clk clock.Clock) *TokenManager {
	if clk == nil {
		clk = clock.WallClock
	}
	return &TokenManager{
		tokens: make(map[string]*JoinToken),
		clock:  clk,
	}
}

// AddStaticToken registers a pre-shared voter token that never expires
func (tm *TokenManager) AddStaticToken(token string) {
	if token == "" {
		return
	}

	tm.mu.Lock()
	tm.tokens[token] = &JoinToken{
		Token:     token,
		Role:      RoleVoter,
		CreatedAt: tm.clock.Now(),
	}
	tm.mu.Unlock()
}

// GenerateToken generates a new join token
func (tm *TokenManager) GenerateToken(role string, duration time.Duration) (*JoinToken, error) {
	if role != RoleVoter && role != RoleNonvoter {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return nil, fmt.Errorf("failed to generate random token: %w", err)
	}

	now := tm.clock.Now()
	jt := &JoinToken{
		Token:     hex.EncodeToString(bytes),
		Role:      role,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
	}

	tm.mu.Lock()
	tm.tokens[jt.Token] = jt
	tm.mu.Unlock()

	return jt, nil
}

// ValidateToken validates a join token and returns its role
func (tm *TokenManager) ValidateToken(token string) (string, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	jt, exists := tm.tokens[token]
	if !exists {
		return "", ErrInvalidToken
	}

	if !jt.ExpiresAt.IsZero() && tm.clock.Now().After(jt.ExpiresAt) {
		return "", ErrTokenExpired
	}

	return jt.Role, nil
}

// RevokeToken revokes a join token
func (tm *TokenManager) RevokeToken(token string) {
	tm.mu.Lock()
	delete(tm.tokens, token)
	tm.mu.Unlock()
}

// CleanupExpiredTokens removes expired tokens
func (tm *TokenManager) CleanupExpiredTokens() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := tm.clock.Now()
	for token, jt := range tm.tokens {
		if !jt.ExpiresAt.IsZero() && now.After(jt.ExpiresAt) {
			delete(tm.tokens, token)
		}
	}
}
