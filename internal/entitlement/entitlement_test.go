package entitlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aisaas-platform/aisaas/internal/apperr"
	"github.com/aisaas-platform/aisaas/internal/models"
)

func TestAuthorize(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(30 * 24 * time.Hour)

	free := &models.User{ID: "free"}
	pro := &models.User{ID: "pro", IsPro: true, SubscriptionStatus: models.SubscriptionActive, SubscriptionEndDate: &future}
	proNoEnd := &models.User{ID: "pro-manual", IsPro: true}
	lapsed := &models.User{ID: "lapsed", IsPro: true, SubscriptionStatus: models.SubscriptionActive, SubscriptionEndDate: &past}
	admin := &models.User{ID: "admin", IsAdmin: true}
	adminPro := &models.User{ID: "admin-pro", IsAdmin: true, IsPro: true}

	tests := []struct {
		name    string
		user    *models.User
		tier    Tier
		granted bool
		reason  string
	}{
		{"public anonymous", nil, Public, true, ""},
		{"authenticated anonymous", nil, Authenticated, false, reasonAuthRequired},
		{"authenticated free", free, Authenticated, true, ""},
		{"pro free", free, Pro, false, apperr.ReasonProRequired},
		{"pro active", pro, Pro, true, ""},
		{"pro without end date", proNoEnd, Pro, true, ""},
		{"pro lapsed end date", lapsed, Pro, false, apperr.ReasonProRequired},
		{"pro anonymous", nil, Pro, false, apperr.ReasonProRequired},
		{"admin free", free, Admin, false, apperr.ReasonAdminRequired},
		{"admin pro user", pro, Admin, false, apperr.ReasonAdminRequired},
		{"admin admin", admin, Admin, true, ""},
		{"admin is not pro", admin, Pro, false, apperr.ReasonProRequired},
		{"admin pro", adminPro, Pro, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Authorize(tt.user, tt.tier, now)
			assert.Equal(t, tt.granted, d.Granted)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestLazyExpiryIgnoresStoredFlag(t *testing.T) {
	now := time.Now()
	end := now.Add(-time.Hour)
	u := &models.User{IsPro: true, SubscriptionStatus: models.SubscriptionActive, SubscriptionEndDate: &end}

	d := Authorize(u, Pro, now)
	assert.False(t, d.Granted)
	assert.True(t, u.IsPro, "authorization does not mutate the principal")

	err := d.Err()
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, apperr.ReasonProRequired, apperr.ReasonOf(err))
}

func TestDecisionErr(t *testing.T) {
	assert.NoError(t, Authorize(nil, Public, time.Now()).Err())
	assert.ErrorIs(t, Authorize(nil, Authenticated, time.Now()).Err(), apperr.ErrUnauthenticated)
}

func TestToolTier(t *testing.T) {
	assert.Equal(t, Authenticated, ToolTier(models.ToolArticleWriter))
	assert.Equal(t, Authenticated, ToolTier(models.ToolBlogGenerator))
	for _, tool := range []models.ToolType{
		models.ToolImageGenerator, models.ToolBackgroundRemoval, models.ToolObjectRemoval, models.ToolResumeReviewer,
	} {
		assert.Equal(t, Pro, ToolTier(tool), tool)
	}
	assert.Equal(t, Admin, ToolTier("unclassified"))
}
