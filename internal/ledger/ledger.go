// Package ledger runs tool invocations and keeps the append-only record of
// their results.
package ledger

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"time"

	"go.uber.org/zap"

	"github.com/aisaas-platform/aisaas/internal/apperr"
	"github.com/aisaas-platform/aisaas/internal/entitlement"
	"github.com/aisaas-platform/aisaas/internal/generation"
	"github.com/aisaas-platform/aisaas/internal/models"
	"github.com/aisaas-platform/aisaas/internal/storage"
	"github.com/aisaas-platform/aisaas/internal/store"
)

// recordTimeout bounds the ledger insert once generation has succeeded.
// The insert does not inherit the caller's cancellation.
const recordTimeout = 5 * time.Second

// ArtifactStore keeps image bytes outside the database.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, userID string, data []byte, contentType string) (*storage.UploadResult, error)
	DeleteFile(ctx context.Context, key string) error
}

type Ledger struct {
	store     *store.Store
	backend   generation.Backend
	artifacts ArtifactStore
	timeout   time.Duration
	logger    *zap.Logger
}

// New builds a Ledger. artifacts may be nil, in which case inline image
// bytes are returned as data URLs.
func New(st *store.Store, backend generation.Backend, artifacts ArtifactStore, timeout time.Duration, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:     st,
		backend:   backend,
		artifacts: artifacts,
		timeout:   timeout,
		logger:    logger,
	}
}

// Run invokes tool for u and records the result. Nothing is recorded when
// authorization, validation or generation fails.
func (l *Ledger) Run(ctx context.Context, u *models.User, tool models.ToolType, params []byte) (*models.Creation, error) {
	if err := entitlement.Authorize(u, entitlement.ToolTier(tool), l.store.Now()).Err(); err != nil {
		return nil, err
	}

	in, err := generation.ParseInput(tool, params)
	if err != nil {
		return nil, err
	}

	res, err := l.generate(ctx, in)
	if err != nil {
		l.logger.Warn("Generation failed",
			zap.String("user_id", u.ID),
			zap.String("tool", string(tool)),
			zap.Error(err),
		)
		return nil, apperr.Generation(err)
	}

	meta := maps.Clone(in.Metadata)
	maps.Copy(meta, res.Metadata)
	output := res.Content

	if tool.ProducesImage() {
		if res.Data != nil {
			output, err = l.storeImage(ctx, u.ID, res, meta)
			if err != nil {
				return nil, err
			}
		}
		meta[models.MetaImageURL] = output
	}

	c := &models.Creation{
		UserID:   u.ID,
		ToolType: tool,
		Title:    in.Title,
		Input:    in.JSON(),
		Output:   output,
		Metadata: meta,
	}
	if _, err := l.Record(ctx, c); err != nil {
		if key := meta.String(models.MetaStorageKey); key != "" {
			l.discardArtifact(key)
		}
		return nil, err
	}
	return c, nil
}

func (l *Ledger) generate(ctx context.Context, in *generation.Input) (*generation.Result, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	res, err := l.backend.Generate(ctx, in)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("backend returned no result")
	}
	if res.Metadata == nil {
		res.Metadata = models.Metadata{}
	}
	return res, nil
}

func (l *Ledger) storeImage(ctx context.Context, userID string, res *generation.Result, meta models.Metadata) (string, error) {
	if l.artifacts == nil {
		return "data:" + res.ContentType + ";base64," + base64.StdEncoding.EncodeToString(res.Data), nil
	}
	up, err := l.artifacts.SaveArtifact(ctx, userID, res.Data, res.ContentType)
	if err != nil {
		return "", apperr.Generation(fmt.Errorf("store artifact: %w", err))
	}
	meta[models.MetaStorageKey] = up.Key
	return up.URL, nil
}

func (l *Ledger) discardArtifact(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := l.artifacts.DeleteFile(ctx, key); err != nil {
		l.logger.Warn("Failed to delete orphaned artifact", zap.String("key", key), zap.Error(err))
	}
}

// Record appends c to the ledger in a single insert and returns its id.
// The insert runs even if ctx is cancelled after generation completed.
func (l *Ledger) Record(ctx context.Context, c *models.Creation) (string, error) {
	if c.UserID == "" {
		return "", apperr.Invalid("creation has no owner")
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := l.store.InsertCreation(ctx, c); err != nil {
		l.logger.Error("Failed to record creation",
			zap.String("user_id", c.UserID),
			zap.String("tool", string(c.ToolType)),
			zap.Error(err),
		)
		return "", apperr.Unavailable(err)
	}

	l.logger.Info("Creation recorded",
		zap.String("creation_id", c.ID),
		zap.String("user_id", c.UserID),
		zap.String("tool", string(c.ToolType)),
	)
	return c.ID, nil
}

// List returns u's creations newest first, optionally for one tool.
func (l *Ledger) List(ctx context.Context, u *models.User, tool models.ToolType, p models.Pagination) (models.Page[models.Creation], error) {
	page, err := l.store.ListCreations(ctx, models.CreationFilter{UserID: u.ID, ToolType: tool}, p)
	if err != nil {
		return models.Page[models.Creation]{}, apperr.Unavailable(err)
	}
	return page, nil
}

// Get returns one of u's creations.
func (l *Ledger) Get(ctx context.Context, u *models.User, id string) (*models.Creation, error) {
	c, err := l.store.GetCreation(ctx, id, u.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("creation")
	}
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return c, nil
}

// Remove deletes one of u's creations. Another principal's creation is
// reported as not found.
func (l *Ledger) Remove(ctx context.Context, u *models.User, id string) error {
	c, err := l.Get(ctx, u, id)
	if err != nil {
		return err
	}

	err = l.store.DeleteCreation(ctx, id, u.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("creation")
	}
	if err != nil {
		return apperr.Unavailable(err)
	}

	if key := c.Metadata.String(models.MetaStorageKey); key != "" && l.artifacts != nil {
		l.discardArtifact(key)
	}
	l.logger.Info("Creation removed", zap.String("creation_id", id), zap.String("user_id", u.ID))
	return nil
}
