package ledger

import (
	"context"
	"time"

	"github.com/aisaas-platform/aisaas/internal/apperr"
	"github.com/aisaas-platform/aisaas/internal/entitlement"
	"github.com/aisaas-platform/aisaas/internal/models"
)

const recentLimit = 10

// DashboardStats summarizes a principal's own activity.
type DashboardStats struct {
	TotalCreations      int                     `json:"totalCreations"`
	TodayCreations      int                     `json:"todayCreations"`
	MonthCreations      int                     `json:"monthCreations"`
	ToolStats           map[models.ToolType]int `json:"toolStats"`
	RecentCreations     []models.Creation       `json:"recentCreations"`
	IsPro               bool                    `json:"isPro"`
	EffectivePro        bool                    `json:"effectivePro"`
	SubscriptionStatus  string                  `json:"subscriptionStatus"`
	SubscriptionEndDate *time.Time              `json:"subscriptionEndDate"`
}

// StartOfDay returns midnight UTC of t's day.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// StartOfMonth returns midnight UTC on the first of t's month.
func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Dashboard computes u's stats at the store's current time.
func (l *Ledger) Dashboard(ctx context.Context, u *models.User) (*DashboardStats, error) {
	now := l.store.Now()
	own := models.CreationFilter{UserID: u.ID}

	stats := &DashboardStats{
		IsPro:               u.IsPro,
		EffectivePro:        entitlement.EffectivePro(u, now),
		SubscriptionStatus:  string(u.SubscriptionStatus),
		SubscriptionEndDate: u.SubscriptionEndDate,
		RecentCreations:     []models.Creation{},
	}

	var err error
	if stats.TotalCreations, err = l.store.CountCreations(ctx, own, time.Time{}); err != nil {
		return nil, apperr.Unavailable(err)
	}
	if stats.TodayCreations, err = l.store.CountCreations(ctx, own, StartOfDay(now)); err != nil {
		return nil, apperr.Unavailable(err)
	}
	if stats.MonthCreations, err = l.store.CountCreations(ctx, own, StartOfMonth(now)); err != nil {
		return nil, apperr.Unavailable(err)
	}
	if stats.ToolStats, err = l.store.CountCreationsByTool(ctx, u.ID); err != nil {
		return nil, apperr.Unavailable(err)
	}

	recent, err := l.store.ListCreations(ctx, own, models.Pagination{Page: 1, Limit: recentLimit})
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	if recent.Items != nil {
		stats.RecentCreations = recent.Items
	}
	return stats, nil
}
