package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/attlog/internal/core/domain"
)

type stubAPIKeyRepo struct {
	findFn func(ctx context.Context, tokenHash string) (domain.APIKey, error)
}

func (s *stubAPIKeyRepo) FindByTokenHash(ctx context.Context, tokenHash string) (domain.APIKey, error) {
	if s.findFn != nil {
		return s.findFn(ctx, tokenHash)
	}
	return domain.APIKey{}, domain.ErrAPIKeyNotFound
}

func (s *stubAPIKeyRepo) Upsert(context.Context, domain.APIKey) error { return nil }

func TestAuthenticateEmptyToken(t *testing.T) {
	svc := NewAuthService(&stubAPIKeyRepo{})

	_, err := svc.Authenticate(context.Background(), "   ")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAuthenticateUnknownToken(t *testing.T) {
	svc := NewAuthService(&stubAPIKeyRepo{})

	_, err := svc.Authenticate(context.Background(), "nope")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAuthenticateInactiveKey(t *testing.T) {
	svc := NewAuthService(&stubAPIKeyRepo{findFn: func(_ context.Context, _ string) (domain.APIKey, error) {
		return domain.APIKey{TokenHash: "h", Name: "old", Active: false}, nil
	}})

	_, err := svc.Authenticate(context.Background(), "token")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAuthenticateActiveKeyByHash(t *testing.T) {
	token := "secret-token"
	svc := NewAuthService(&stubAPIKeyRepo{findFn: func(_ context.Context, tokenHash string) (domain.APIKey, error) {
		if tokenHash != HashToken(token) {
			return domain.APIKey{}, domain.ErrAPIKeyNotFound
		}
		return domain.APIKey{TokenHash: tokenHash, Name: "ci", Active: true, CreatedAt: time.Now().UTC()}, nil
	}})

	apiKey, err := svc.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if apiKey.Name != "ci" {
		t.Fatalf("unexpected key: %+v", apiKey)
	}
}
