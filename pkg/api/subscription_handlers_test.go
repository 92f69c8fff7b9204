package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/billing"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements"
)

type fakeGateway struct {
	mu        sync.Mutex
	customers map[string]string
	sessions  []billing.SessionRequest
	fail      error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{customers: make(map[string]string)}
}

func (g *fakeGateway) FindCustomerByEmail(_ context.Context, email string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.customers[email], g.fail
}

func (g *fakeGateway) CreateCustomer(_ context.Context, req billing.CustomerRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return "", g.fail
	}
	id := "cus_" + req.UserID
	g.customers[req.Email] = id
	return id, nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req billing.SessionRequest) (billing.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return billing.CheckoutSession{}, g.fail
	}
	g.sessions = append(g.sessions, req)
	return billing.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

func (g *fakeGateway) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	return "https://billing.stripe.com/p/session/" + customerID + "?return=" + returnURL, g.fail
}

func withCheckout(gateway billing.CheckoutGateway) func(*Dependencies) {
	return func(d *Dependencies) {
		d.Checkout = billing.NewCheckoutService(gateway, d.Store, billing.CheckoutConfig{
			ProPriceID: testProPrice,
			AppURL:     "https://qa.example.com/",
		})
	}
}

func TestCreateCheckout(t *testing.T) {
	gateway := newFakeGateway()
	env := newTestEnv(t, withCheckout(gateway))
	env.seed("u1", "u1@example.com", entitlements.TierFree, 30)
	token := devToken("u1", "u1@example.com")

	for _, path := range []string{"/api/subscriptions/create-checkout", "/api/create-checkout"} {
		t.Run(path, func(t *testing.T) {
			w := env.do(t, "POST", path, token, map[string]string{"tier": "pro"})
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.JSONEq(t, `{"sessionId":"cs_test_1","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`, w.Body.String())
		})
	}

	require.Len(t, gateway.sessions, 2)
	req := gateway.sessions[0]
	assert.Equal(t, "cus_u1", req.CustomerID)
	assert.Equal(t, testProPrice, req.PriceID)
	assert.Equal(t, "https://qa.example.com/?success=true&tier=pro", req.SuccessURL)
	assert.Equal(t, "https://qa.example.com/?canceled=true", req.CancelURL)
	assert.Equal(t, map[string]string{"userId": "u1", "tier": "pro"}, req.Metadata)
	assert.Equal(t, "cus_u1", gateway.sessions[1].CustomerID)
}

func TestCreateCheckout_Errors(t *testing.T) {
	t.Run("billing not configured", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed("u1", "u1@example.com", entitlements.TierFree, 0)
		w := env.do(t, "POST", "/api/subscriptions/create-checkout", devToken("u1", "u1@example.com"),
			map[string]string{"tier": "pro"})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	gateway := newFakeGateway()
	env := newTestEnv(t, withCheckout(gateway))
	env.seed("u1", "u1@example.com", entitlements.TierFree, 0)
	token := devToken("u1", "u1@example.com")

	tests := []struct {
		name  string
		token string
		body  interface{}
		want  int
	}{
		{"free tier", token, map[string]string{"tier": "free"}, http.StatusBadRequest},
		{"legacy tier name", token, map[string]string{"tier": "builder"}, http.StatusBadRequest},
		{"missing body", token, nil, http.StatusBadRequest},
		{"unknown user", devToken("ghost", "ghost@example.com"), map[string]string{"tier": "pro"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/subscriptions/create-checkout", tt.token, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	t.Run("stripe failure", func(t *testing.T) {
		gateway.fail = errors.New("stripe: api_connection_error")
		defer func() { gateway.fail = nil }()
		w := env.do(t, "POST", "/api/subscriptions/create-checkout", token, map[string]string{"tier": "pro"})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "api_connection_error")
	})

	assert.Empty(t, gateway.sessions)
}

func TestCreatePortal(t *testing.T) {
	env := newTestEnv(t, withCheckout(newFakeGateway()))
	env.seed("u1", "u1@example.com", entitlements.TierFree, 0)
	env.store.Seed(entitlements.Record{
		UserID:             "payer",
		Email:              "payer@example.com",
		Tier:               entitlements.TierPro,
		Status:             entitlements.StatusActive,
		MonthlyLimit:       entitlements.Unlimited,
		ExternalCustomerID: "cus_payer",
		LastResetDate:      testNow,
	})

	t.Run("customer with billing history", func(t *testing.T) {
		w := env.do(t, "POST", "/api/subscriptions/portal", devToken("payer", "payer@example.com"),
			map[string]string{"returnUrl": "https://qa.example.com/account"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t,
			`{"url":"https://billing.stripe.com/p/session/cus_payer?return=https://qa.example.com/account"}`,
			w.Body.String())
	})

	t.Run("default return url", func(t *testing.T) {
		w := env.do(t, "POST", "/api/subscriptions/portal", devToken("payer", "payer@example.com"), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "return=https://qa.example.com/")
	})

	t.Run("never paid", func(t *testing.T) {
		w := env.do(t, "POST", "/api/subscriptions/portal", devToken("u1", "u1@example.com"), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("foreign return url", func(t *testing.T) {
		w := env.do(t, "POST", "/api/subscriptions/portal", devToken("payer", "payer@example.com"),
			map[string]string{"returnUrl": "https://evil.example.net/phish"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NotContains(t, w.Body.String(), "billing.stripe.com")
	})
}
