package billing_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements"
)

const testSecret = "whsec_test_secret"

var (
	periodEnd  = time.Date(2024, 4, 14, 0, 0, 0, 0, time.UTC)
	eventEpoch = time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
)

func freeUser(id string, used int) entitlements.Record {
	return entitlements.Record{
		UserID:         id,
		Email:          id + "@example.com",
		Tier:           entitlements.TierFree,
		Status:         entitlements.StatusNone,
		MonthlyLimit:   entitlements.FreeMonthlyLimit,
		UsedThisPeriod: used,
		LastResetDate:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

type subscriptionObject struct {
	ID               string            `json:"id"`
	Object           string            `json:"object"`
	Customer         string            `json:"customer"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            *itemList         `json:"items,omitempty"`
}

type itemList struct {
	Object string     `json:"object"`
	Data   []itemData `json:"data"`
}

type itemData struct {
	ID    string `json:"id"`
	Price struct {
		ID string `json:"id"`
	} `json:"price"`
}

func subscription(id, customer, status string, metadata map[string]string) subscriptionObject {
	return subscriptionObject{
		ID:               id,
		Object:           "subscription",
		Customer:         customer,
		Status:           status,
		CurrentPeriodEnd: periodEnd.Unix(),
		Metadata:         metadata,
	}
}

func withPrice(sub subscriptionObject, priceID string) subscriptionObject {
	item := itemData{ID: "si_1"}
	item.Price.ID = priceID
	sub.Items = &itemList{Object: "list", Data: []itemData{item}}
	return sub
}

func eventJSON(t *testing.T, id, eventType string, object interface{}) []byte {
	t.Helper()
	return eventJSONAt(t, id, eventType, object, eventEpoch)
}

func eventJSONAt(t *testing.T, id, eventType string, object interface{}, created time.Time) []byte {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     created.Unix(),
		"api_version": "2024-06-20",
		"data":        map[string]json.RawMessage{"object": raw},
	})
	require.NoError(t, err)
	return payload
}

// newEvent builds an event as the verifier would hand it over
func newEvent(t *testing.T, id, eventType string, object interface{}) stripe.Event {
	t.Helper()
	var event stripe.Event
	require.NoError(t, json.Unmarshal(eventJSON(t, id, eventType, object), &event))
	return event
}

// newEventAt is newEvent with an explicit creation time
func newEventAt(t *testing.T, id, eventType string, object interface{}, created time.Time) stripe.Event {
	t.Helper()
	var event stripe.Event
	require.NoError(t, json.Unmarshal(eventJSONAt(t, id, eventType, object, created), &event))
	return event
}

func sign(payload []byte, secret string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	}).Header
}
