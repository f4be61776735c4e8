// Package admin provides read-only rollups over users, creations and
// payments, plus the administrator's user flag edits.
package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aisaas-platform/aisaas/internal/apperr"
	"github.com/aisaas-platform/aisaas/internal/ledger"
	"github.com/aisaas-platform/aisaas/internal/models"
	"github.com/aisaas-platform/aisaas/internal/store"
)

const revenueMonths = 6

type Service struct {
	store  *store.Store
	logger *zap.Logger
}

func NewService(st *store.Store, logger *zap.Logger) *Service {
	return &Service{store: st, logger: logger}
}

// MonthRevenue is the succeeded payment total for one calendar month.
type MonthRevenue struct {
	Month   string `json:"month"` // YYYY-MM
	Revenue int64  `json:"revenue"`
	Count   int    `json:"count"`
}

type Overview struct {
	UserCount          int                     `json:"userCount"`
	ProUserCount       int                     `json:"proUserCount"`
	FreeUserCount      int                     `json:"freeUserCount"`
	AdminUserCount     int                     `json:"adminUserCount"`
	NewUsersToday      int                     `json:"newUsersToday"`
	TotalCreations     int                     `json:"totalCreations"`
	TodayCreationCount int                     `json:"todayCreationCount"`
	TotalPayments      int                     `json:"totalPayments"`
	SuccessfulPayments int                     `json:"successfulPayments"`
	TotalRevenue       int64                   `json:"totalRevenue"`
	ToolStats          map[models.ToolType]int `json:"toolStats"`
	MonthlyRevenue     []MonthRevenue          `json:"monthlyRevenue"`
}

// Overview computes the dashboard rollups concurrently.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	now := s.store.Now()
	today := ledger.StartOfDay(now)
	firstMonth := ledger.StartOfMonth(now).AddDate(0, -(revenueMonths - 1), 0)

	var (
		o        Overview
		users    store.UserCounts
		payments store.PaymentTotals
		points   []store.RevenuePoint
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		users, err = s.store.CountUsers(gctx)
		return err
	})
	g.Go(func() (err error) {
		o.NewUsersToday, err = s.store.CountUsersSince(gctx, today)
		return err
	})
	g.Go(func() (err error) {
		o.TotalCreations, err = s.store.CountCreations(gctx, models.CreationFilter{}, time.Time{})
		return err
	})
	g.Go(func() (err error) {
		o.TodayCreationCount, err = s.store.CountCreations(gctx, models.CreationFilter{}, today)
		return err
	})
	g.Go(func() (err error) {
		o.ToolStats, err = s.store.CountCreationsByTool(gctx, "")
		return err
	})
	g.Go(func() (err error) {
		payments, err = s.store.SumPayments(gctx)
		return err
	})
	g.Go(func() (err error) {
		points, err = s.store.SucceededPaymentsSince(gctx, firstMonth)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("Failed to compute admin overview", zap.Error(err))
		return nil, apperr.Unavailable(err)
	}

	o.UserCount = users.Total
	o.ProUserCount = users.Pro
	o.FreeUserCount = users.Total - users.Pro
	o.AdminUserCount = users.Admin
	o.TotalPayments = payments.Count
	o.SuccessfulPayments = payments.Succeeded
	o.TotalRevenue = payments.Revenue
	o.MonthlyRevenue = bucketByMonth(points, firstMonth, revenueMonths)
	return &o, nil
}

// bucketByMonth sums points into n consecutive calendar months starting
// at first. Months without payments are present with zero revenue.
func bucketByMonth(points []store.RevenuePoint, first time.Time, n int) []MonthRevenue {
	buckets := make([]MonthRevenue, n)
	index := make(map[string]int, n)
	for i := range buckets {
		key := first.AddDate(0, i, 0).Format("2006-01")
		buckets[i].Month = key
		index[key] = i
	}
	for _, p := range points {
		if i, ok := index[p.CreatedAt.UTC().Format("2006-01")]; ok {
			buckets[i].Revenue += p.Amount
			buckets[i].Count++
		}
	}
	return buckets
}

// ListUsers pages through users. status is "", "pro", "free" or "admin".
func (s *Service) ListUsers(ctx context.Context, filter models.UserFilter, p models.Pagination) (models.Page[models.UserSummary], error) {
	switch filter.Status {
	case "", "pro", "free", "admin":
	default:
		return models.Page[models.UserSummary]{}, apperr.Invalid(fmt.Sprintf("unknown status filter %q", filter.Status))
	}
	page, err := s.store.ListUsers(ctx, filter, p)
	if err != nil {
		return page, apperr.Unavailable(err)
	}
	return page, nil
}

// UserDetail is one user with their activity.
type UserDetail struct {
	User      *models.User            `json:"user"`
	ToolStats map[models.ToolType]int `json:"toolStats"`
	Payments  []models.Payment        `json:"payments"`
}

func (s *Service) GetUser(ctx context.Context, id string) (*UserDetail, error) {
	u, err := s.store.GetUserByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, apperr.Unavailable(err)
	}

	tools, err := s.store.CountCreationsByTool(ctx, id)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	payments, err := s.store.ListPayments(ctx, models.PaymentFilter{UserID: id}, models.Pagination{Page: 1, Limit: 10})
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return &UserDetail{User: u, ToolStats: tools, Payments: payments.Items}, nil
}

// UpdateUser applies flag changes requested by actor. An administrator
// cannot revoke their own admin flag.
func (s *Service) UpdateUser(ctx context.Context, actor *models.User, id string, upd store.FlagUpdate) (*models.User, error) {
	if actor.ID == id && upd.IsAdmin != nil && !*upd.IsAdmin {
		return nil, apperr.Forbidden(apperr.ReasonSelfDemotion)
	}

	err := s.store.UpdateFlags(ctx, id, upd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, apperr.Unavailable(err)
	}

	u, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}

	fields := []zap.Field{zap.String("actor_id", actor.ID), zap.String("user_id", id)}
	if upd.IsPro != nil {
		fields = append(fields, zap.Bool("is_pro", *upd.IsPro))
	}
	if upd.IsAdmin != nil {
		fields = append(fields, zap.Bool("is_admin", *upd.IsAdmin))
	}
	s.logger.Info("User flags updated", fields...)
	return u, nil
}

func (s *Service) ListPayments(ctx context.Context, filter models.PaymentFilter, p models.Pagination) (models.Page[models.Payment], error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return models.Page[models.Payment]{}, apperr.Invalid(fmt.Sprintf("unknown payment status %q", filter.Status))
	}
	if filter.PlanType != "" && !filter.PlanType.Valid() {
		return models.Page[models.Payment]{}, apperr.Invalid(fmt.Sprintf("unknown plan type %q", filter.PlanType))
	}
	page, err := s.store.ListPayments(ctx, filter, p)
	if err != nil {
		return page, apperr.Unavailable(err)
	}
	return page, nil
}

func (s *Service) ListCreations(ctx context.Context, filter models.CreationFilter, p models.Pagination) (models.Page[models.Creation], error) {
	if filter.ToolType != "" {
		if _, ok := models.ParseToolType(string(filter.ToolType)); !ok {
			return models.Page[models.Creation]{}, apperr.Invalid(fmt.Sprintf("unknown tool type %q", filter.ToolType))
		}
	}
	page, err := s.store.ListCreations(ctx, filter, p)
	if err != nil {
		return page, apperr.Unavailable(err)
	}
	return page, nil
}
