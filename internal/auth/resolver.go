package auth

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/aisaas-platform/aisaas/internal/apperr"
	"github.com/aisaas-platform/aisaas/internal/models"
)

// UserStore is the persistence the resolver needs.
type UserStore interface {
	UpsertUser(ctx context.Context, ident models.Identity) (*models.User, error)
}

// Resolver maps a credential to a local user, creating the user on first
// sight.
type Resolver struct {
	verifier Verifier
	users    UserStore
	logger   *zap.Logger
}

func NewResolver(verifier Verifier, users UserStore, logger *zap.Logger) *Resolver {
	return &Resolver{verifier: verifier, users: users, logger: logger}
}

// Resolve verifies credential and upserts its user. Verification failures
// are Unauthenticated; store failures are Unavailable and never fall
// through to an authenticated result.
func (r *Resolver) Resolve(ctx context.Context, credential string) (*models.User, error) {
	if credential == "" {
		return nil, apperr.Unauthenticated(errors.New("missing credential"))
	}

	ident, err := r.verifier.Verify(ctx, credential)
	if err != nil {
		return nil, apperr.Unauthenticated(err)
	}

	user, err := r.users.UpsertUser(ctx, ident)
	if err != nil {
		r.logger.Error("Failed to resolve principal", zap.String("external_id", ident.ExternalID), zap.Error(err))
		return nil, apperr.Unavailable(err)
	}
	return user, nil
}
