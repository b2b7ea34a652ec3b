package service

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"ticketcap/internal/config"
	"ticketcap/internal/models"
)

type fakeVerifier struct {
	event models.Event
	err   error
}

func (v fakeVerifier) ConstructEvent(body []byte, signature string) (models.Event, error) {
	if v.err != nil {
		return v.event, v.err
	}
	return v.event, nil
}

// memoryGateway is an in-memory payment provider holding one set of line
// items and any number of channels.
type memoryGateway struct {
	mu        sync.Mutex
	lineItems []models.LineItem
	channels  map[string]*models.SalesChannel
	updates   []models.ChannelUpdate
	calls     int

	listErr   error
	getErr    error
	updateErr error
}

func newMemoryGateway(channelID string, metadata map[string]string, items ...int64) *memoryGateway {
	g := &memoryGateway{channels: map[string]*models.SalesChannel{
		channelID: {ID: channelID, Active: true, Metadata: metadata},
	}}
	for _, q := range items {
		g.lineItems = append(g.lineItems, models.LineItem{Quantity: q})
	}
	return g
}

func (g *memoryGateway) ListLineItems(ctx context.Context, sessionID string, limit int64) ([]models.LineItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.listErr != nil {
		return nil, g.listErr
	}
	items := g.lineItems
	if int64(len(items)) > limit {
		items = items[:limit]
	}
	return append([]models.LineItem(nil), items...), nil
}

func (g *memoryGateway) GetChannel(ctx context.Context, channelID string) (*models.SalesChannel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.getErr != nil {
		return nil, g.getErr
	}
	ch, ok := g.channels[channelID]
	if !ok {
		return nil, errors.New("no such payment link")
	}
	metadata := make(map[string]string, len(ch.Metadata))
	for k, v := range ch.Metadata {
		metadata[k] = v
	}
	return &models.SalesChannel{ID: ch.ID, Active: ch.Active, Metadata: metadata}, nil
}

func (g *memoryGateway) UpdateChannel(ctx context.Context, channelID string, update models.ChannelUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.updateErr != nil {
		return g.updateErr
	}
	ch, ok := g.channels[channelID]
	if !ok {
		return errors.New("no such payment link")
	}
	g.updates = append(g.updates, update)
	if ch.Metadata == nil {
		ch.Metadata = map[string]string{}
	}
	for k, v := range update.Metadata {
		ch.Metadata[k] = v
	}
	if update.Deactivate {
		ch.Active = false
	}
	return nil
}

func (g *memoryGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type memoryDeduper struct {
	mu       sync.Mutex
	seen     map[string]bool
	released []string
}

func (d *memoryDeduper) MarkSession(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	if d.seen[sessionID] {
		return false, nil
	}
	d.seen[sessionID] = true
	return true, nil
}

func (d *memoryDeduper) ReleaseSession(ctx context.Context, sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, sessionID)
	d.released = append(d.released, sessionID)
	return nil
}

type memoryRecorder struct {
	records []*models.CompletionRecord
	err     error
}

func (r *memoryRecorder) RecordCompletion(ctx context.Context, record *models.CompletionRecord) error {
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, record)
	return nil
}

type mutexLocker struct {
	mu    sync.Mutex
	locks int
}

func (l *mutexLocker) Lock(ctx context.Context, channelID string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	l.locks++
	return func(context.Context) error {
		l.mu.Unlock()
		return nil
	}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		PaymentLinkID:     "plink_1",
		MaxTickets:        80,
		LineItemPageLimit: 100,
		CounterLockTTL:    time.Second,
		DedupeTTL:         time.Hour,
	}
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func checkoutEvent(sessionID, channelID string) models.Event {
	return models.Event{
		ID:       "evt_" + sessionID,
		Type:     "checkout.session.completed",
		Kind:     models.EventCheckoutCompleted,
		Checkout: &models.CheckoutCompleted{SessionID: sessionID, ChannelID: channelID},
	}
}
