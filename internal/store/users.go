package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aisaas-platform/aisaas/internal/models"
)

const userColumns = `id, external_id, email, name, image_url, is_admin, is_pro,
	subscription_status, subscription_id, subscription_end_date, stripe_customer_id,
	last_login, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, extra ...any) (*models.User, error) {
	u := &models.User{}
	var subID, customerID sql.NullString
	var endDate sql.NullTime
	dest := []any{
		&u.ID, &u.ExternalID, &u.Email, &u.Name, &u.ImageURL, &u.IsAdmin, &u.IsPro,
		&u.SubscriptionStatus, &subID, &endDate, &customerID,
		&u.LastLogin, &u.CreatedAt, &u.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	u.SubscriptionID = stringPtr(subID)
	u.StripeCustomerID = stringPtr(customerID)
	u.SubscriptionEndDate = timePtr(endDate)
	u.LastLogin = u.LastLogin.UTC()
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

// UpsertUser creates the user for an external identity on first sight and
// otherwise refreshes last_login and any non-empty profile claims. The
// unique index on external_id arbitrates concurrent first requests: the
// losing insert becomes an update of the winner's row.
func (s *Store) UpsertUser(ctx context.Context, ident models.Identity) (*models.User, error) {
	now := s.now()
	_, err := s.exec(ctx, `
		INSERT INTO users (id, external_id, email, name, image_url, is_admin, is_pro,
			subscription_status, last_login, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_id) DO UPDATE SET
			last_login = excluded.last_login,
			email = CASE WHEN excluded.email <> '' THEN excluded.email ELSE users.email END,
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE users.name END,
			image_url = CASE WHEN excluded.image_url <> '' THEN excluded.image_url ELSE users.image_url END`,
		generateID(), ident.ExternalID, ident.Email, ident.Name, ident.ImageURL, false, false,
		models.SubscriptionNone, now, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.GetUserByExternalID(ctx, ident.ExternalID)
}

// GetUserByID retrieves a user by local id
func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetUserByExternalID retrieves a user by identity provider subject
func (s *Store) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	return scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = ?`, externalID))
}

// FindUsersByCustomerID returns every user linked to a processor customer.
// More than one result means the mapping is ambiguous.
func (s *Store) FindUsersByCustomerID(ctx context.Context, customerID string) ([]*models.User, error) {
	return s.listUsers(ctx, `SELECT `+userColumns+` FROM users WHERE stripe_customer_id = ? LIMIT 2`, customerID)
}

// FindUsersBySubscriptionID returns every user holding a processor subscription.
func (s *Store) FindUsersBySubscriptionID(ctx context.Context, subscriptionID string) ([]*models.User, error) {
	return s.listUsers(ctx, `SELECT `+userColumns+` FROM users WHERE subscription_id = ? LIMIT 2`, subscriptionID)
}

func (s *Store) listUsers(ctx context.Context, query string, args ...any) ([]*models.User, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateProfile changes the user-editable profile fields.
func (s *Store) UpdateProfile(ctx context.Context, id, name, imageURL string) error {
	result, err := s.exec(ctx,
		`UPDATE users SET name = ?, image_url = ?, updated_at = ? WHERE id = ?`,
		name, imageURL, s.now(), id,
	)
	if err != nil {
		return err
	}
	return expectOne(result)
}

// LinkCustomer stores the processor customer id unless one is already set.
func (s *Store) LinkCustomer(ctx context.Context, id, customerID string) error {
	_, err := s.exec(ctx,
		`UPDATE users SET stripe_customer_id = ?, updated_at = ? WHERE id = ? AND stripe_customer_id IS NULL`,
		customerID, s.now(), id,
	)
	return err
}

// SaveSubscription writes the subscription fields of u.
func (s *Store) SaveSubscription(ctx context.Context, u *models.User) error {
	u.UpdatedAt = s.now()
	result, err := s.exec(ctx, `
		UPDATE users SET is_pro = ?, subscription_status = ?, subscription_id = ?,
			subscription_end_date = ?, stripe_customer_id = ?, updated_at = ?
		WHERE id = ?`,
		u.IsPro, u.SubscriptionStatus, nullString(u.SubscriptionID),
		nullTime(u.SubscriptionEndDate), nullString(u.StripeCustomerID), u.UpdatedAt, u.ID,
	)
	if err != nil {
		return err
	}
	return expectOne(result)
}

// FlagUpdate carries optional admin changes; nil fields are left alone.
type FlagUpdate struct {
	IsPro   *bool
	IsAdmin *bool
}

// UpdateFlags applies admin flag changes. Granting Pro by hand marks the
// subscription active with no end date.
func (s *Store) UpdateFlags(ctx context.Context, id string, upd FlagUpdate) error {
	var sets []string
	var args []any
	if upd.IsPro != nil {
		sets = append(sets, "is_pro = ?")
		args = append(args, *upd.IsPro)
		if *upd.IsPro {
			sets = append(sets, "subscription_status = ?", "subscription_end_date = NULL")
			args = append(args, models.SubscriptionActive)
		}
	}
	if upd.IsAdmin != nil {
		sets = append(sets, "is_admin = ?")
		args = append(args, *upd.IsAdmin)
	}
	if len(sets) == 0 {
		_, err := s.GetUserByID(ctx, id)
		return err
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.now(), id)

	result, err := s.exec(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return expectOne(result)
}

// SetAdminByExternalID is the bootstrap path for the first administrator.
func (s *Store) SetAdminByExternalID(ctx context.Context, externalID string, isAdmin bool) error {
	result, err := s.exec(ctx,
		`UPDATE users SET is_admin = ?, updated_at = ? WHERE external_id = ?`,
		isAdmin, s.now(), externalID,
	)
	if err != nil {
		return err
	}
	return expectOne(result)
}

// effectivePro matches users whose Pro flag has not lapsed. It takes the
// arguments true and the current time.
const effectivePro = `(is_pro = ? AND (subscription_end_date IS NULL OR subscription_end_date >= ?))`

// ListUsers returns users newest first with their creation counts. The pro
// and free filters use the effective tier, so a lapsed Pro flag is free.
func (s *Store) ListUsers(ctx context.Context, filter models.UserFilter, p models.Pagination) (models.Page[models.UserSummary], error) {
	p = p.Normalize()
	var w where
	if filter.Search != "" {
		like := "%" + strings.ToLower(filter.Search) + "%"
		w.add("(LOWER(email) LIKE ? OR LOWER(name) LIKE ?)", like, like)
	}
	now := s.now()
	switch filter.Status {
	case "pro":
		w.add(effectivePro, true, now)
	case "free":
		w.add("NOT "+effectivePro, true, now)
	case "admin":
		w.add("is_admin = ?", true)
	}

	total, err := s.count(ctx, `SELECT COUNT(*) FROM users`+w.String(), w.args...)
	if err != nil {
		return models.Page[models.UserSummary]{}, err
	}

	args := append(append([]any{}, w.args...), p.Limit, p.Offset())
	rows, err := s.query(ctx, `
		SELECT `+userColumns+`,
			(SELECT COUNT(*) FROM creations c WHERE c.user_id = users.id)
		FROM users`+w.String()+`
		ORDER BY created_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return models.Page[models.UserSummary]{}, err
	}
	defer rows.Close()

	var items []models.UserSummary
	for rows.Next() {
		var n int
		u, err := scanUser(rows, &n)
		if err != nil {
			return models.Page[models.UserSummary]{}, err
		}
		items = append(items, models.UserSummary{User: *u, CreationCount: n})
	}
	if err := rows.Err(); err != nil {
		return models.Page[models.UserSummary]{}, err
	}
	return models.NewPage(items, int(total), p), nil
}

// UserCounts is the user side of the admin overview.
type UserCounts struct {
	Total int
	Pro   int
	Admin int
}

// CountUsers counts all, effectively Pro and admin users in one pass.
func (s *Store) CountUsers(ctx context.Context) (UserCounts, error) {
	var total int
	var pro, admin sql.NullInt64
	err := s.queryRow(ctx, `
		SELECT COUNT(*),
			SUM(CASE WHEN `+effectivePro+` THEN 1 ELSE 0 END),
			SUM(CASE WHEN is_admin THEN 1 ELSE 0 END)
		FROM users`, true, s.now()).Scan(&total, &pro, &admin)
	if err != nil {
		return UserCounts{}, err
	}
	return UserCounts{Total: total, Pro: int(pro.Int64), Admin: int(admin.Int64)}, nil
}

// CountUsersSince counts users created at or after t.
func (s *Store) CountUsersSince(ctx context.Context, t time.Time) (int, error) {
	n, err := s.count(ctx, `SELECT COUNT(*) FROM users WHERE created_at >= ?`, t.UTC())
	return int(n), err
}
