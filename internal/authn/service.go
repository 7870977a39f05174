package authn

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/guardpost/guardpost/internal/shared"
)

// TokenStore defines persistence used by the Service.
type TokenStore interface {
	Insert(ctx context.Context, token ServiceToken) error
	Get(ctx context.Context, id string) (ServiceToken, error)
	Revoke(ctx context.Context, id string, now time.Time) error
}

// Service issues and verifies service tokens.
type Service struct {
	store TokenStore
	clock func() time.Time
}

// NewService constructs a Service.
func NewService(store TokenStore) *Service {
	return &Service{store: store, clock: time.Now}
}

// Issue mints a token for a principal and returns the plaintext credential.
// The plaintext is shown once; only its hash survives.
func (s *Service) Issue(ctx context.Context, principalID int64, label string, ttl time.Duration) (string, ServiceToken, error) {
	if principalID <= 0 {
		return "", ServiceToken{}, fmt.Errorf("authn: principal id required: %w", shared.ErrValidation)
	}
	secretBytes := make([]byte, 24)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", ServiceToken{}, fmt.Errorf("authn: generate secret: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", ServiceToken{}, fmt.Errorf("authn: hash secret: %w", err)
	}
	now := s.clock().UTC()
	token := ServiceToken{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Label:       strings.TrimSpace(label),
		SecretHash:  string(hash),
		CreatedAt:   now,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		token.ExpiresAt = &expires
	}
	if err := s.store.Insert(ctx, token); err != nil {
		return "", ServiceToken{}, err
	}
	return token.ID + "." + secret, token, nil
}

// Authenticate verifies a plaintext credential and returns the principal id
// it is bound to. Every failure maps to ErrUnauthorized so callers cannot
// distinguish unknown tokens from revoked or expired ones.
func (s *Service) Authenticate(ctx context.Context, credential string) (int64, error) {
	id, secret, ok := strings.Cut(strings.TrimSpace(credential), ".")
	if !ok || id == "" || secret == "" {
		return 0, shared.ErrUnauthorized
	}
	token, err := s.store.Get(ctx, id)
	if err != nil {
		return 0, shared.ErrUnauthorized
	}
	if !token.Usable(s.clock().UTC()) {
		return 0, shared.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(token.SecretHash), []byte(secret)); err != nil {
		return 0, shared.ErrUnauthorized
	}
	return token.PrincipalID, nil
}

// Revoke invalidates an issued token.
func (s *Service) Revoke(ctx context.Context, tokenID string) error {
	return s.store.Revoke(ctx, tokenID, s.clock().UTC())
}
