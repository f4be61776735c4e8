package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aisaas-platform/aisaas/internal/apperr"
	"github.com/aisaas-platform/aisaas/internal/models"
	"github.com/aisaas-platform/aisaas/internal/store/storetest"
)

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) CreateCustomer(ctx context.Context, u *models.User) (string, error) {
	args := m.Called(ctx, u)
	return args.String(0), args.Error(1)
}

func (m *MockProcessor) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	args := m.Called(ctx, req)
	sess, _ := args.Get(0).(*CheckoutSession)
	return sess, args.Error(1)
}

func (m *MockProcessor) CreatePaymentIntent(ctx context.Context, req CheckoutRequest) (*PaymentIntent, error) {
	args := m.Called(ctx, req)
	pi, _ := args.Get(0).(*PaymentIntent)
	return pi, args.Error(1)
}

func TestStartCheckoutCreatesCustomerOnce(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	u, err := st.UpsertUser(ctx, models.Identity{ExternalID: "ext-1", Email: "a@example.com"})
	require.NoError(t, err)

	proc := new(MockProcessor)
	proc.On("CreateCustomer", mock.Anything, mock.AnythingOfType("*models.User")).Return("cus_1", nil).Once()
	proc.On("CreateCheckoutSession", mock.Anything, CheckoutRequest{
		UserID: u.ID, ExternalID: "ext-1", CustomerID: "cus_1",
		PlanType: models.PlanPro, Amount: 2900, Currency: "usd",
	}).Return(&CheckoutSession{ID: "cs_1", URL: "https://checkout/cs_1"}, nil).Once()

	svc := NewService(st, proc, 2900, "usd", zap.NewNop())
	sess, err := svc.StartCheckout(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, "cs_1", sess.ID)

	got, err := st.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StripeCustomerID)
	assert.Equal(t, "cus_1", *got.StripeCustomerID)

	pending, err := st.GetPaymentByExternalRef(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, pending.Status)
	assert.Equal(t, int64(2900), pending.Amount)

	// A second checkout reuses the linked customer.
	proc.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req CheckoutRequest) bool {
		return req.CustomerID == "cus_1"
	})).Return(&CheckoutSession{ID: "cs_2"}, nil).Once()
	_, err = svc.StartCheckout(ctx, got)
	require.NoError(t, err)

	proc.AssertExpectations(t)
	proc.AssertNumberOfCalls(t, "CreateCustomer", 1)

	history, err := svc.History(ctx, got, models.Pagination{})
	require.NoError(t, err)
	assert.Equal(t, 2, history.Total)
}

func TestStartCheckoutProcessorErrors(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	u, err := st.UpsertUser(ctx, models.Identity{ExternalID: "ext-1"})
	require.NoError(t, err)

	_, err = NewService(st, nil, 2900, "usd", zap.NewNop()).StartCheckout(ctx, u)
	assert.ErrorIs(t, err, ErrProcessorDisabled)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)

	proc := new(MockProcessor)
	proc.On("CreateCustomer", mock.Anything, mock.Anything).Return("", errors.New("api down"))
	_, err = NewService(st, proc, 2900, "usd", zap.NewNop()).StartCheckout(ctx, u)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)

	history, err := NewService(st, nil, 0, "", zap.NewNop()).History(ctx, u, models.Pagination{})
	require.NoError(t, err)
	assert.Zero(t, history.Total)
}

func TestStartCheckoutUsesCustomerLinkedConcurrently(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	u, err := st.UpsertUser(ctx, models.Identity{ExternalID: "ext-1"})
	require.NoError(t, err)

	proc := new(MockProcessor)
	proc.On("CreateCustomer", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			// Another checkout for the same user links its customer first.
			require.NoError(t, st.LinkCustomer(ctx, u.ID, "cus_first"))
		}).
		Return("cus_second", nil).Once()
	proc.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req CheckoutRequest) bool {
		return req.CustomerID == "cus_first"
	})).Return(&CheckoutSession{ID: "cs_1"}, nil).Once()

	_, err = NewService(st, proc, 2900, "usd", zap.NewNop()).StartCheckout(ctx, u)
	require.NoError(t, err)
	proc.AssertExpectations(t)

	pending, err := st.GetPaymentByExternalRef(ctx, "cs_1")
	require.NoError(t, err)
	require.NotNil(t, pending.ExternalCustomerID)
	assert.Equal(t, "cus_first", *pending.ExternalCustomerID)

	got, err := st.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "cus_first", *got.StripeCustomerID)
}

func TestCreditPaymentLifecycle(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	u, err := st.UpsertUser(ctx, models.Identity{ExternalID: "ext-1"})
	require.NoError(t, err)
	require.NoError(t, st.LinkCustomer(ctx, u.ID, "cus_1"))
	u, err = st.GetUserByID(ctx, u.ID)
	require.NoError(t, err)

	proc := new(MockProcessor)
	proc.On("CreatePaymentIntent", mock.Anything, CheckoutRequest{
		UserID: u.ID, ExternalID: "ext-1", CustomerID: "cus_1",
		PlanType: models.PlanCreditsLegacy, Amount: 2500, Currency: "usd",
	}).Return(&PaymentIntent{ID: "pi_1", ClientSecret: "secret_1"}, nil).Once()
	proc.On("CreatePaymentIntent", mock.Anything, mock.Anything).
		Return(&PaymentIntent{ID: "pi_2", ClientSecret: "secret_2"}, nil).Once()

	svc := NewService(st, proc, 2900, "usd", zap.NewNop())
	rec := NewReconciler(st, 30, "usd", zap.NewNop())

	purchase, err := svc.StartCreditPayment(ctx, u, 25)
	require.NoError(t, err)
	assert.Equal(t, "pi_1", purchase.ID)
	assert.Equal(t, "secret_1", purchase.ClientSecret)
	assert.Equal(t, int64(25), purchase.Credits)
	proc.AssertNotCalled(t, "CreateCustomer", mock.Anything, mock.Anything)

	pending, err := st.GetPaymentByExternalRef(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, pending.Status)
	assert.Equal(t, models.PlanCreditsLegacy, pending.PlanType)
	assert.Equal(t, int64(2500), pending.Amount)
	assert.EqualValues(t, 25, pending.Metadata[models.MetaCredits])

	out, err := rec.Apply(ctx, Event{ID: "evt_ok", Payload: PaymentSucceeded{
		PrincipalRef: u.ID, ExternalCustomerID: "cus_1", ExternalPaymentRef: "pi_1",
		Amount: 2500, Currency: "usd", PlanType: models.PlanCreditsLegacy,
	}})
	require.NoError(t, err)
	assert.Equal(t, Applied, out.Status)

	settled, err := st.GetPaymentByExternalRef(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, pending.ID, settled.ID)
	assert.Equal(t, models.PaymentSucceeded, settled.Status)
	assert.EqualValues(t, 25, settled.Metadata[models.MetaCredits])

	got, err := st.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPro)

	_, err = rec.Apply(ctx, Event{ID: "evt_refund", Payload: PaymentRefunded{ExternalPaymentRef: "pi_1"}})
	require.NoError(t, err)
	refunded, err := st.GetPaymentByExternalRef(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, refunded.Status)

	_, err = svc.StartCreditPayment(ctx, u, 10)
	require.NoError(t, err)
	out, err = rec.Apply(ctx, Event{ID: "evt_fail", Payload: PaymentFailed{ExternalPaymentRef: "pi_2"}})
	require.NoError(t, err)
	assert.Equal(t, Applied, out.Status)
	failed, err := st.GetPaymentByExternalRef(ctx, "pi_2")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, failed.Status)

	history, err := svc.History(ctx, u, models.Pagination{})
	require.NoError(t, err)
	assert.Equal(t, 2, history.Total)

	totals, err := st.SumPayments(ctx)
	require.NoError(t, err)
	assert.Zero(t, totals.Revenue)
	proc.AssertExpectations(t)
}

func TestStartCreditPaymentValidatesAmount(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	u, err := st.UpsertUser(ctx, models.Identity{ExternalID: "ext-1"})
	require.NoError(t, err)

	proc := new(MockProcessor)
	svc := NewService(st, proc, 2900, "usd", zap.NewNop())
	for _, units := range []int64{0, -5, MaxCreditPurchase + 1} {
		_, err := svc.StartCreditPayment(ctx, u, units)
		assert.ErrorIs(t, err, apperr.ErrInvalidInput, "units=%d", units)
	}
	proc.AssertNotCalled(t, "CreatePaymentIntent", mock.Anything, mock.Anything)

	_, err = NewService(st, nil, 2900, "usd", zap.NewNop()).StartCreditPayment(ctx, u, 5)
	assert.ErrorIs(t, err, ErrProcessorDisabled)
}

func TestPaymentIsOwnerScoped(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	owner, err := st.UpsertUser(ctx, models.Identity{ExternalID: "ext-owner"})
	require.NoError(t, err)
	other, err := st.UpsertUser(ctx, models.Identity{ExternalID: "ext-other"})
	require.NoError(t, err)

	ref := "pi_owned"
	pay := &models.Payment{UserID: owner.ID, ExternalRef: &ref, Amount: 100, Currency: "usd",
		Status: models.PaymentPending, PlanType: models.PlanCreditsLegacy}
	require.NoError(t, st.InsertPayment(ctx, pay))

	svc := NewService(st, nil, 2900, "usd", zap.NewNop())
	got, err := svc.Payment(ctx, owner, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, pay.ID, got.ID)

	_, err = svc.Payment(ctx, other, pay.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.Payment(ctx, owner, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
