package payments

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"ticketcap/internal/models"

	"github.com/stripe/stripe-go/v76/webhook"
)

const testSecret = "whsec_test_secret"

func sign(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func TestConstructEventCheckoutCompleted(t *testing.T) {
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed",
		"data":{"object":{"id":"cs_1","object":"checkout.session","payment_link":"plink_1"}}}`)

	event, err := NewVerifier(testSecret).ConstructEvent(payload, sign(t, payload, testSecret))
	if err != nil {
		t.Fatalf("ConstructEvent() error = %v", err)
	}
	if event.Kind != models.EventCheckoutCompleted {
		t.Fatalf("Kind = %v, want EventCheckoutCompleted", event.Kind)
	}
	if event.Checkout.SessionID != "cs_1" || event.Checkout.ChannelID != "plink_1" {
		t.Errorf("Checkout = %+v", event.Checkout)
	}
}

func TestConstructEventOtherType(t *testing.T) {
	payload := []byte(`{"id":"evt_2","object":"event","type":"payment_intent.created",
		"data":{"object":{"id":"pi_1","object":"payment_intent"}}}`)

	event, err := NewVerifier(testSecret).ConstructEvent(payload, sign(t, payload, testSecret))
	if err != nil {
		t.Fatalf("ConstructEvent() error = %v", err)
	}
	if event.Kind != models.EventOther || event.Checkout != nil {
		t.Errorf("event = %+v, want opaque other event", event)
	}
	if event.Type != "payment_intent.created" {
		t.Errorf("Type = %q", event.Type)
	}
}

func TestConstructEventRejectsBadSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_3","object":"event","type":"checkout.session.completed","data":{"object":{}}}`)

	tests := []struct {
		name   string
		header string
		body   []byte
	}{
		{name: "wrong secret", header: sign(t, payload, "whsec_other"), body: payload},
		{name: "missing header", header: "", body: payload},
		{name: "garbage header", header: "nonsense", body: payload},
		{name: "tampered body", header: sign(t, payload, testSecret), body: append([]byte(" "), payload...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewVerifier(testSecret).ConstructEvent(tt.body, tt.header); err == nil {
				t.Fatalf("ConstructEvent() expected error")
			}
		})
	}
}

func newStripeServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("sk_test_123", srv.URL)
}

func TestListLineItemsSinglePage(t *testing.T) {
	var calls int32
	c := newStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/v1/checkout/sessions/cs_1/line_items" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "100" {
			t.Errorf("limit = %q, want 100", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","url":"/v1/checkout/sessions/cs_1/line_items","has_more":true,
			"data":[{"id":"li_1","object":"item","quantity":2},{"id":"li_2","object":"item","quantity":3}]}`))
	})

	items, err := c.ListLineItems(context.Background(), "cs_1", 100)
	if err != nil {
		t.Fatalf("ListLineItems() error = %v", err)
	}
	if len(items) != 2 || items[0].Quantity != 2 || items[1].Quantity != 3 {
		t.Errorf("items = %+v", items)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected a single page request, got %d", n)
	}
}

func TestGetAndUpdateChannel(t *testing.T) {
	var updated atomic.Value
	c := newStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"id":"plink_1","object":"payment_link","active":true,
				"metadata":{"tickets_sold":"75","event":"gala"}}`))
		case http.MethodPost:
			if err := r.ParseForm(); err != nil {
				t.Errorf("ParseForm() error = %v", err)
			}
			updated.Store(r.PostForm)
			w.Write([]byte(`{"id":"plink_1","object":"payment_link","active":false}`))
		}
	})

	ch, err := c.GetChannel(context.Background(), "plink_1")
	if err != nil {
		t.Fatalf("GetChannel() error = %v", err)
	}
	if !ch.Active || ch.Metadata["tickets_sold"] != "75" || ch.Metadata["event"] != "gala" {
		t.Errorf("channel = %+v", ch)
	}

	err = c.UpdateChannel(context.Background(), "plink_1", models.ChannelUpdate{
		Metadata:   map[string]string{"tickets_sold": "85", "event": "gala"},
		Deactivate: true,
	})
	if err != nil {
		t.Fatalf("UpdateChannel() error = %v", err)
	}

	form, _ := updated.Load().(url.Values)
	if form == nil {
		t.Fatalf("update request not received")
	}
	if got := form["metadata[tickets_sold]"]; len(got) != 1 || got[0] != "85" {
		t.Errorf("metadata[tickets_sold] = %v, want 85", got)
	}
	if got := form["active"]; len(got) != 1 || got[0] != "false" {
		t.Errorf("active = %v, want false", got)
	}
}

func TestUpdateChannelWithoutDeactivate(t *testing.T) {
	var sawActive atomic.Bool
	c := newStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if _, ok := r.PostForm["active"]; ok {
			sawActive.Store(true)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"plink_1","object":"payment_link","active":true}`))
	})

	err := c.UpdateChannel(context.Background(), "plink_1", models.ChannelUpdate{
		Metadata: map[string]string{"tickets_sold": "78"},
	})
	if err != nil {
		t.Fatalf("UpdateChannel() error = %v", err)
	}
	if sawActive.Load() {
		t.Errorf("active flag must not be sent below the cap")
	}
}

func TestRemoteFailureNotRetried(t *testing.T) {
	var calls int32
	c := newStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"type":"api_error","message":"unavailable"}}`))
	})

	if _, err := c.GetChannel(context.Background(), "plink_1"); err == nil {
		t.Fatalf("GetChannel() expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected exactly one attempt, got %d", n)
	}
}

func TestConstructEventMalformedCheckout(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "bad payment link", payload: `{"id":"evt_4","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","payment_link":12}}}`},
		{name: "missing data", payload: `{"id":"evt_4","object":"event","type":"checkout.session.completed"}`},
		{name: "null object", payload: `{"id":"evt_4","object":"event","type":"checkout.session.completed","data":{"object":null}}`},
		{name: "string object", payload: `{"id":"evt_4","object":"event","type":"checkout.session.completed","data":{"object":"cs_1"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := []byte(tt.payload)
			event, err := NewVerifier(testSecret).ConstructEvent(payload, sign(t, payload, testSecret))
			if !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("ConstructEvent() error = %v, want ErrInvalidPayload", err)
			}
			if event.ID != "evt_4" || event.Type != "checkout.session.completed" || event.Checkout != nil {
				t.Errorf("event = %+v", event)
			}
		})
	}
}

func TestConstructEventInvalidJSONIsNotMalformedEvent(t *testing.T) {
	payload := []byte(`{"id":"evt_5",`)

	_, err := NewVerifier(testSecret).ConstructEvent(payload, sign(t, payload, testSecret))
	if err == nil || errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("ConstructEvent() error = %v, want a decode error", err)
	}
}
