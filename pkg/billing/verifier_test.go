package billing_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/billing"
)

func TestVerifier_Verify(t *testing.T) {
	payload := eventJSON(t, "evt_1", "customer.subscription.created",
		subscription("sub_1", "cus_1", "active", map[string]string{"userId": "u1"}))

	t.Run("valid signature", func(t *testing.T) {
		event, err := billing.NewVerifier(testSecret).Verify(payload, sign(payload, testSecret))
		require.NoError(t, err)
		assert.Equal(t, "evt_1", event.ID)
		assert.Equal(t, "customer.subscription.created", string(event.Type))
		require.NotNil(t, event.Data)
		assert.NotEmpty(t, event.Data.Raw)
	})

	t.Run("tampered body", func(t *testing.T) {
		header := sign(payload, testSecret)
		tampered := bytes.Replace(payload, []byte(`"u1"`), []byte(`"u2"`), 1)
		_, err := billing.NewVerifier(testSecret).Verify(tampered, header)
		assert.ErrorIs(t, err, billing.ErrUnverifiedEvent)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := billing.NewVerifier(testSecret).Verify(payload, sign(payload, "whsec_other"))
		assert.ErrorIs(t, err, billing.ErrUnverifiedEvent)
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := billing.NewVerifier(testSecret).Verify(payload, "")
		assert.ErrorIs(t, err, billing.ErrUnverifiedEvent)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		header := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    testSecret,
			Timestamp: time.Now().Add(-time.Hour),
		}).Header
		_, err := billing.NewVerifier(testSecret).Verify(payload, header)
		assert.ErrorIs(t, err, billing.ErrUnverifiedEvent)
	})

	t.Run("no secret configured", func(t *testing.T) {
		_, err := billing.NewVerifier("").Verify(payload, sign(payload, testSecret))
		assert.ErrorIs(t, err, billing.ErrUnverifiedEvent)
		assert.ErrorIs(t, err, billing.ErrNotConfigured)
	})
}
