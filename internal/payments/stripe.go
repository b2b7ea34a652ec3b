package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"ticketcap/internal/models"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

var ErrInvalidPayload = models.ErrMalformedEvent

// Verifier checks Stripe-Signature headers against the endpoint secret.
type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

type eventEnvelope struct {
	ID   string           `json:"id"`
	Type stripe.EventType `json:"type"`
	Data *struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ConstructEvent verifies the signature over the raw body and decodes it.
// Once the signature is valid, a checkout payload that cannot be decoded is
// returned with ID and Type set and an error wrapping ErrInvalidPayload.
func (v *Verifier) ConstructEvent(body []byte, signature string) (models.Event, error) {
	if err := webhook.ValidatePayloadWithTolerance(body, signature, v.secret, webhook.DefaultTolerance); err != nil {
		return models.Event{}, err
	}

	var evt eventEnvelope
	if err := json.Unmarshal(body, &evt); err != nil {
		return models.Event{}, fmt.Errorf("failed to parse webhook body json: %w", err)
	}

	event := models.Event{ID: evt.ID, Type: string(evt.Type), Kind: models.EventOther}
	if evt.Type != stripe.EventTypeCheckoutSessionCompleted {
		return event, nil
	}
	if evt.Data == nil {
		return event, fmt.Errorf("%w: missing data.object for %s", ErrInvalidPayload, evt.ID)
	}
	// Stripe types also decode a bare ID string, so require an object.
	if obj := bytes.TrimSpace(evt.Data.Object); len(obj) == 0 || obj[0] != '{' {
		return event, fmt.Errorf("%w: data.object for %s is not an object", ErrInvalidPayload, evt.ID)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Object, &session); err != nil {
		return event, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	event.Kind = models.EventCheckoutCompleted
	event.Checkout = &models.CheckoutCompleted{SessionID: session.ID}
	if session.PaymentLink != nil {
		event.Checkout.ChannelID = session.PaymentLink.ID
	}
	return event, nil
}

// Client wraps the Stripe API calls used against checkout sessions and
// payment links.
type Client struct {
	api *client.API
}

// NewClient builds a Stripe client with network retries disabled. A
// non-empty apiURL replaces the default API backend.
func NewClient(secretKey, apiURL string) *Client {
	cfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if apiURL != "" {
		cfg.URL = stripe.String(apiURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
	backends := &stripe.Backends{
		API:     backend,
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}
	return &Client{api: client.New(secretKey, backends)}
}

// ListLineItems returns the first page of line items only.
func (c *Client) ListLineItems(ctx context.Context, sessionID string, limit int64) ([]models.LineItem, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	params.Limit = stripe.Int64(limit)
	params.Single = true
	params.Context = ctx

	var items []models.LineItem
	iter := c.api.CheckoutSessions.ListLineItems(params)
	for iter.Next() {
		li := iter.LineItem()
		items = append(items, models.LineItem{ID: li.ID, Quantity: li.Quantity})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list line items for session %s: %w", sessionID, err)
	}
	return items, nil
}

func (c *Client) GetChannel(ctx context.Context, channelID string) (*models.SalesChannel, error) {
	params := &stripe.PaymentLinkParams{}
	params.Context = ctx

	pl, err := c.api.PaymentLinks.Get(channelID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve payment link %s: %w", channelID, err)
	}

	metadata := make(map[string]string, len(pl.Metadata))
	for k, v := range pl.Metadata {
		metadata[k] = v
	}
	return &models.SalesChannel{ID: pl.ID, Active: pl.Active, Metadata: metadata}, nil
}

func (c *Client) UpdateChannel(ctx context.Context, channelID string, update models.ChannelUpdate) error {
	params := &stripe.PaymentLinkParams{}
	params.Context = ctx
	for k, v := range update.Metadata {
		params.AddMetadata(k, v)
	}
	if update.Deactivate {
		params.Active = stripe.Bool(false)
	}

	if _, err := c.api.PaymentLinks.Update(channelID, params); err != nil {
		return fmt.Errorf("failed to update payment link %s: %w", channelID, err)
	}
	return nil
}
