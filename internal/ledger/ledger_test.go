package ledger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/aisaas-platform/aisaas/internal/apperr"
	"github.com/aisaas-platform/aisaas/internal/generation"
	"github.com/aisaas-platform/aisaas/internal/models"
	"github.com/aisaas-platform/aisaas/internal/storage"
	"github.com/aisaas-platform/aisaas/internal/store"
	"github.com/aisaas-platform/aisaas/internal/store/storetest"
)

type fakeArtifacts struct {
	saved   []string
	deleted []string
	fail    bool
}

func (f *fakeArtifacts) SaveArtifact(_ context.Context, userID string, data []byte, contentType string) (*storage.UploadResult, error) {
	if f.fail {
		return nil, errors.New("bucket unreachable")
	}
	key := storage.CreationKey(userID, "fixed", ".png")
	f.saved = append(f.saved, key)
	return &storage.UploadResult{Key: key, URL: "https://cdn.example.com/" + key + "?sig=1", Size: int64(len(data))}, nil
}

func (f *fakeArtifacts) DeleteFile(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

type LedgerTestSuite struct {
	suite.Suite
	ctx   context.Context
	store *store.Store
	now   time.Time
	calls atomic.Int32
}

func (s *LedgerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)
	s.store = storetest.New(s.T()).WithClock(func() time.Time { return s.now })
	s.calls.Store(0)
}

func TestLedgerTestSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}

func (s *LedgerTestSuite) ledger(backend generation.Backend, artifacts ArtifactStore, timeout time.Duration) *Ledger {
	counted := generation.BackendFunc(func(ctx context.Context, in *generation.Input) (*generation.Result, error) {
		s.calls.Add(1)
		return backend.Generate(ctx, in)
	})
	return New(s.store, counted, artifacts, timeout, zap.NewNop())
}

func (s *LedgerTestSuite) user(externalID string, pro bool) *models.User {
	u, err := s.store.UpsertUser(s.ctx, models.Identity{ExternalID: externalID})
	s.Require().NoError(err)
	if pro {
		yes := true
		s.Require().NoError(s.store.UpdateFlags(s.ctx, u.ID, store.FlagUpdate{IsPro: &yes}))
		u, err = s.store.GetUserByID(s.ctx, u.ID)
		s.Require().NoError(err)
	}
	return u
}

func (s *LedgerTestSuite) count(userID string) int {
	n, err := s.store.CountCreations(s.ctx, models.CreationFilter{UserID: userID}, time.Time{})
	s.Require().NoError(err)
	return n
}

func (s *LedgerTestSuite) TestRunRecordsExactlyOneCreation() {
	l := s.ledger(generation.NewTemplateBackend(), nil, time.Second)
	u := s.user("ext-1", false)

	c, err := l.Run(s.ctx, u, models.ToolArticleWriter, []byte(`{"topic":"Observability"}`))
	s.Require().NoError(err)

	s.NotEmpty(c.ID)
	s.Equal(1, s.count(u.ID))

	stored, err := l.Get(s.ctx, u, c.ID)
	s.Require().NoError(err)
	s.Equal(models.ToolArticleWriter, stored.ToolType)
	s.Equal("Observability", stored.Title)
	s.Contains(stored.Output, "## Observability")
	s.JSONEq(`{"topic":"Observability","tone":"professional","length":"medium"}`, string(stored.Input))
	s.True(stored.CreatedAt.Equal(s.now))
}

func (s *LedgerTestSuite) TestFailedGenerationRecordsNothing() {
	failing := generation.BackendFunc(func(context.Context, *generation.Input) (*generation.Result, error) {
		return nil, errors.New("model overloaded")
	})
	l := s.ledger(failing, nil, time.Second)
	u := s.user("ext-1", false)

	_, err := l.Run(s.ctx, u, models.ToolBlogGenerator, []byte(`{"keyword":"Go"}`))
	s.Require().Error(err)
	s.ErrorIs(err, apperr.ErrGeneration)
	s.Equal(0, s.count(u.ID))
}

func (s *LedgerTestSuite) TestGenerationTimeoutRecordsNothing() {
	slow := generation.BackendFunc(func(ctx context.Context, _ *generation.Input) (*generation.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	l := s.ledger(slow, nil, 20*time.Millisecond)
	u := s.user("ext-1", false)

	_, err := l.Run(s.ctx, u, models.ToolArticleWriter, []byte(`{"topic":"slow"}`))
	s.Require().Error(err)
	s.ErrorIs(err, apperr.ErrGeneration)
	s.ErrorIs(err, context.DeadlineExceeded)
	s.Equal(0, s.count(u.ID))
}

func (s *LedgerTestSuite) TestProToolRejectedBeforeBackend() {
	l := s.ledger(generation.NewTemplateBackend(), nil, time.Second)
	u := s.user("ext-free", false)

	_, err := l.Run(s.ctx, u, models.ToolImageGenerator, []byte(`{"prompt":"castle"}`))
	s.Require().Error(err)
	s.ErrorIs(err, apperr.ErrForbidden)
	s.Equal(apperr.ReasonProRequired, apperr.ReasonOf(err))
	s.Equal(int32(0), s.calls.Load())
	s.Equal(0, s.count(u.ID))
}

func (s *LedgerTestSuite) TestExpiredProIsRejected() {
	l := s.ledger(generation.NewTemplateBackend(), nil, time.Second)
	u := s.user("ext-lapsed", true)
	past := s.now.Add(-time.Hour)
	u.SubscriptionEndDate = &past
	s.Require().NoError(s.store.SaveSubscription(s.ctx, u))

	_, err := l.Run(s.ctx, u, models.ToolResumeReviewer, []byte(`{"resume":"cv"}`))
	s.ErrorIs(err, apperr.ErrForbidden)
	s.Equal(int32(0), s.calls.Load())
}

func (s *LedgerTestSuite) TestInvalidParamsRecordNothing() {
	l := s.ledger(generation.NewTemplateBackend(), nil, time.Second)
	u := s.user("ext-1", false)

	_, err := l.Run(s.ctx, u, models.ToolArticleWriter, []byte(`{}`))
	s.ErrorIs(err, apperr.ErrInvalidInput)
	s.Equal(int32(0), s.calls.Load())
	s.Equal(0, s.count(u.ID))
}

func (s *LedgerTestSuite) TestRecordSurvivesCallerCancellation() {
	ctx, cancel := context.WithCancel(s.ctx)
	backend := generation.BackendFunc(func(context.Context, *generation.Input) (*generation.Result, error) {
		cancel()
		return &generation.Result{Content: "done", ContentType: generation.ContentMarkdown}, nil
	})
	l := s.ledger(backend, nil, time.Second)
	u := s.user("ext-1", false)

	c, err := l.Run(ctx, u, models.ToolArticleWriter, []byte(`{"topic":"late"}`))
	s.Require().NoError(err)
	s.NotEmpty(c.ID)
	s.Equal(1, s.count(u.ID))
}

func (s *LedgerTestSuite) TestImageBytesGoToArtifactStore() {
	png := generation.BackendFunc(func(context.Context, *generation.Input) (*generation.Result, error) {
		return &generation.Result{Content: "data:image/png;base64,AAAA", ContentType: "image/png", Data: []byte{0, 0, 0}}, nil
	})
	artifacts := &fakeArtifacts{}
	l := s.ledger(png, artifacts, time.Second)
	u := s.user("ext-pro", true)

	c, err := l.Run(s.ctx, u, models.ToolImageGenerator, []byte(`{"prompt":"owl"}`))
	s.Require().NoError(err)

	key := storage.CreationKey(u.ID, "fixed", ".png")
	s.Equal([]string{key}, artifacts.saved)
	s.Equal("https://cdn.example.com/"+key+"?sig=1", c.Output)
	s.Equal(key, c.Metadata.String(models.MetaStorageKey))
	s.Equal(c.Output, c.Metadata.String(models.MetaImageURL))
	s.Equal("realistic", c.Metadata.String(models.MetaStyle))

	s.Require().NoError(l.Remove(s.ctx, u, c.ID))
	s.Equal([]string{key}, artifacts.deleted)
}

func (s *LedgerTestSuite) TestImageBytesInlineWithoutArtifactStore() {
	png := generation.BackendFunc(func(context.Context, *generation.Input) (*generation.Result, error) {
		return &generation.Result{ContentType: "image/png", Data: []byte("abc")}, nil
	})
	l := s.ledger(png, nil, time.Second)
	u := s.user("ext-pro", true)

	c, err := l.Run(s.ctx, u, models.ToolBackgroundRemoval, []byte(`{"image":"https://img.example.com/a.png"}`))
	s.Require().NoError(err)
	s.Equal("data:image/png;base64,YWJj", c.Output)
}

func (s *LedgerTestSuite) TestArtifactFailureRecordsNothing() {
	png := generation.BackendFunc(func(context.Context, *generation.Input) (*generation.Result, error) {
		return &generation.Result{ContentType: "image/png", Data: []byte("abc")}, nil
	})
	l := s.ledger(png, &fakeArtifacts{fail: true}, time.Second)
	u := s.user("ext-pro", true)

	_, err := l.Run(s.ctx, u, models.ToolImageGenerator, []byte(`{"prompt":"owl"}`))
	s.ErrorIs(err, apperr.ErrGeneration)
	s.Equal(0, s.count(u.ID))
}

func (s *LedgerTestSuite) TestRemoveEnforcesOwnership() {
	l := s.ledger(generation.NewTemplateBackend(), nil, time.Second)
	owner := s.user("ext-owner", false)
	other := s.user("ext-other", false)

	c, err := l.Run(s.ctx, owner, models.ToolBlogGenerator, []byte(`{"keyword":"Go"}`))
	s.Require().NoError(err)

	s.ErrorIs(l.Remove(s.ctx, other, c.ID), apperr.ErrNotFound)
	_, err = l.Get(s.ctx, other, c.ID)
	s.ErrorIs(err, apperr.ErrNotFound)
	s.Equal(1, s.count(owner.ID))

	s.Require().NoError(l.Remove(s.ctx, owner, c.ID))
	s.Equal(0, s.count(owner.ID))
	s.ErrorIs(l.Remove(s.ctx, owner, c.ID), apperr.ErrNotFound)
}

func (s *LedgerTestSuite) TestRecordRequiresOwner() {
	l := s.ledger(generation.NewTemplateBackend(), nil, time.Second)
	_, err := l.Record(s.ctx, &models.Creation{ToolType: models.ToolArticleWriter})
	s.ErrorIs(err, apperr.ErrInvalidInput)
}

func (s *LedgerTestSuite) TestListFiltersAndPaginates() {
	l := s.ledger(generation.NewTemplateBackend(), nil, time.Second)
	u := s.user("ext-1", false)

	for i := 0; i < 3; i++ {
		s.now = s.now.Add(time.Minute)
		_, err := l.Run(s.ctx, u, models.ToolBlogGenerator, []byte(`{"keyword":"k"}`))
		s.Require().NoError(err)
	}
	s.now = s.now.Add(time.Minute)
	latest, err := l.Run(s.ctx, u, models.ToolArticleWriter, []byte(`{"topic":"t"}`))
	s.Require().NoError(err)

	all, err := l.List(s.ctx, u, "", models.Pagination{Page: 1, Limit: 2})
	s.Require().NoError(err)
	s.Equal(4, all.Total)
	s.Equal(2, all.Pages)
	s.Len(all.Items, 2)
	s.Equal(latest.ID, all.Items[0].ID)

	blogs, err := l.List(s.ctx, u, models.ToolBlogGenerator, models.Pagination{})
	s.Require().NoError(err)
	s.Equal(3, blogs.Total)
	for _, c := range blogs.Items {
		s.Equal(models.ToolBlogGenerator, c.ToolType)
	}
}

func (s *LedgerTestSuite) TestDashboard() {
	l := s.ledger(generation.NewTemplateBackend(), nil, time.Second)
	u := s.user("ext-1", false)

	s.Require().NoError(s.store.InsertCreation(s.ctx, &models.Creation{
		UserID: u.ID, ToolType: models.ToolArticleWriter, Title: "old",
		CreatedAt: time.Date(2026, 9, 30, 23, 0, 0, 0, time.UTC),
	}))
	s.Require().NoError(s.store.InsertCreation(s.ctx, &models.Creation{
		UserID: u.ID, ToolType: models.ToolArticleWriter, Title: "this month",
		CreatedAt: time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC),
	}))
	_, err := l.Run(s.ctx, u, models.ToolBlogGenerator, []byte(`{"keyword":"today"}`))
	s.Require().NoError(err)

	stats, err := l.Dashboard(s.ctx, u)
	s.Require().NoError(err)
	s.Equal(3, stats.TotalCreations)
	s.Equal(2, stats.MonthCreations)
	s.Equal(1, stats.TodayCreations)
	s.Equal(2, stats.ToolStats[models.ToolArticleWriter])
	s.Equal(1, stats.ToolStats[models.ToolBlogGenerator])
	s.Len(stats.RecentCreations, 3)
	s.Equal("today", stats.RecentCreations[0].Title)
	s.False(stats.EffectivePro)
}

func TestStartOfDayAndMonth(t *testing.T) {
	ts := time.Date(2026, 10, 16, 23, 59, 0, 0, time.FixedZone("X", 3*3600))
	assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), StartOfDay(ts))
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), StartOfMonth(ts))
}
