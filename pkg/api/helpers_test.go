package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/billing"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/middleware"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/questions"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/storage/memory"
)

const (
	testWebhookSecret = "whsec_api_test"
	testProPrice      = "price_pro"
	adminEmail        = "admin@example.com"
)

// testNow is mid-March; the next reset is 1 April
var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// countingStore counts every subscription write and can be told to fail them
type countingStore struct {
	*memory.EntitlementStore
	calls atomic.Int32
	fail  atomic.Bool
}

var errStoreDown = errors.New("connection reset by peer")

func (s *countingStore) Get(ctx context.Context, userID string) (*entitlements.Record, error) {
	s.calls.Add(1)
	return s.EntitlementStore.Get(ctx, userID)
}

func (s *countingStore) FindByCustomerID(ctx context.Context, customerID string) ([]string, error) {
	s.calls.Add(1)
	if s.fail.Load() {
		return nil, errStoreDown
	}
	return s.EntitlementStore.FindByCustomerID(ctx, customerID)
}

func (s *countingStore) ApplySubscription(ctx context.Context, change entitlements.SubscriptionChange) error {
	s.calls.Add(1)
	if s.fail.Load() {
		return errStoreDown
	}
	return s.EntitlementStore.ApplySubscription(ctx, change)
}

func (s *countingStore) RevertToFree(ctx context.Context, userID, subscriptionID string, occurredAt time.Time) error {
	s.calls.Add(1)
	if s.fail.Load() {
		return errStoreDown
	}
	return s.EntitlementStore.RevertToFree(ctx, userID, subscriptionID, occurredAt)
}

type testEnv struct {
	server    *Server
	store     *countingStore
	questions *memory.QuestionStore
}

func newTestEnv(t *testing.T, opts ...func(*Dependencies)) *testEnv {
	t.Helper()
	store := &countingStore{EntitlementStore: memory.NewEntitlementStore()}
	questionStore := memory.NewQuestionStore()
	admins := entitlements.NewAllowList(adminEmail)
	clock := func() time.Time { return testNow }

	reconciler := billing.NewReconciler(store, billing.ReconcilerConfig{ProPriceID: testProPrice})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		reconciler.Wait(ctx)
	})

	deps := Dependencies{
		Store: store,
		Resolver: entitlements.NewResolver(store, admins,
			entitlements.WithClock(clock),
			entitlements.WithLocation(time.UTC)),
		Questions:  questions.NewService(questionStore, nil, nil),
		Tokens:     middleware.DevVerifier{},
		Admins:     admins,
		Webhooks:   billing.NewVerifier(testWebhookSecret),
		Reconciler: reconciler,
		Location:   time.UTC,
		Clock:      clock,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return &testEnv{server: NewServer(deps), store: store, questions: questionStore}
}

func (e *testEnv) seed(id, email string, tier entitlements.Tier, used int) {
	e.store.Seed(entitlements.Record{
		UserID:         id,
		Email:          email,
		Tier:           tier,
		Status:         entitlements.StatusNone,
		MonthlyLimit:   tier.MonthlyLimit(),
		UsedThisPeriod: used,
		LastResetDate:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
}

func (e *testEnv) used(t *testing.T, id string) int {
	t.Helper()
	rec, err := e.store.EntitlementStore.Get(context.Background(), id)
	require.NoError(t, err)
	return rec.UsedThisPeriod
}

func (e *testEnv) record(t *testing.T, id string) *entitlements.Record {
	t.Helper()
	rec, err := e.store.EntitlementStore.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func devToken(userID, email string) string {
	return "dev:" + userID + ":" + email
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func (e *testEnv) postWebhook(t *testing.T, path string, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set(billing.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func subscriptionEvent(t *testing.T, eventID, eventType, subID, customer, status string, metadata map[string]string) []byte {
	t.Helper()
	object, err := json.Marshal(map[string]interface{}{
		"id":                 subID,
		"object":             "subscription",
		"customer":           customer,
		"status":             status,
		"current_period_end": time.Date(2026, 4, 14, 0, 0, 0, 0, time.UTC).Unix(),
		"metadata":           metadata,
	})
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]interface{}{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"created":     testNow.Unix(),
		"api_version": "2024-06-20",
		"data":        map[string]json.RawMessage{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func signPayload(payload []byte, secret string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	}).Header
}
