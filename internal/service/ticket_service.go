package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"ticketcap/internal/config"
	"ticketcap/internal/models"
)

var (
	ErrAuthentication  = errors.New("webhook signature verification failed")
	ErrRemoteService   = errors.New("payment service call failed")
	ErrLockNotAcquired = errors.New("counter lock not acquired")
)

type Outcome string

const (
	OutcomeProcessed      Outcome = "processed"
	OutcomeIgnoredEvent   Outcome = "ignored_event"
	OutcomeIgnoredChannel Outcome = "ignored_channel"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeFailed         Outcome = "failed"
)

type EventVerifier interface {
	ConstructEvent(body []byte, signature string) (models.Event, error)
}

type PaymentGateway interface {
	ChannelGateway
	ListLineItems(ctx context.Context, sessionID string, limit int64) ([]models.LineItem, error)
}

// SessionDeduper remembers checkout sessions that were already counted.
type SessionDeduper interface {
	MarkSession(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)
	ReleaseSession(ctx context.Context, sessionID string) error
}

type CompletionRecorder interface {
	RecordCompletion(ctx context.Context, record *models.CompletionRecord) error
}

type Option func(*TicketService)

func WithLocker(locker ChannelLocker) Option {
	return func(s *TicketService) { s.locker = locker }
}

func WithDeduper(deduper SessionDeduper) Option {
	return func(s *TicketService) { s.deduper = deduper }
}

func WithRecorder(recorder CompletionRecorder) Option {
	return func(s *TicketService) { s.recorder = recorder }
}

type TicketService struct {
	verifier EventVerifier
	gateway  PaymentGateway
	counter  *ChannelCounter
	locker   ChannelLocker
	deduper  SessionDeduper
	recorder CompletionRecorder
	config   *config.Config
	logger   *log.Logger
	now      func() time.Time
}

func NewTicketService(logger *log.Logger, verifier EventVerifier, gateway PaymentGateway, cfg *config.Config, opts ...Option) *TicketService {
	s := &TicketService{
		verifier: verifier,
		gateway:  gateway,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.counter = NewChannelCounter(logger, gateway, s.locker, cfg.CounterLockTTL)
	return s
}

// Receive verifies and handles one webhook delivery. Only ErrAuthentication
// is returned; every later failure, including a signed payload that cannot
// be decoded, is logged and reported as OutcomeFailed so the delivery is
// still acknowledged.
func (s *TicketService) Receive(ctx context.Context, body []byte, signature string) (Outcome, error) {
	event, err := s.verifier.ConstructEvent(body, signature)
	if errors.Is(err, models.ErrMalformedEvent) {
		s.logger.Printf("Error handling event %s (%s): %v", event.ID, event.Type, err)
		return OutcomeFailed, nil
	}
	if err != nil {
		s.logger.Printf("Webhook signature verification failed: %v", err)
		return "", fmt.Errorf("%w: %w", ErrAuthentication, err)
	}

	s.logger.Printf("Received event %s (%s)", event.ID, event.Type)

	if event.Kind != models.EventCheckoutCompleted || event.Checkout == nil {
		return OutcomeIgnoredEvent, nil
	}

	outcome, err := s.processCompletion(ctx, event.Checkout)
	if err != nil {
		s.logger.Printf("Error handling checkout.session.completed for session %s: %v", event.Checkout.SessionID, err)
		return OutcomeFailed, nil
	}
	return outcome, nil
}

func (s *TicketService) processCompletion(ctx context.Context, session *models.CheckoutCompleted) (Outcome, error) {
	if session.ChannelID != s.config.PaymentLinkID {
		s.logger.Printf("checkout.session.completed for a different payment link: %q", session.ChannelID)
		return OutcomeIgnoredChannel, nil
	}

	s.logger.Printf("Handling checkout.session.completed for session %s", session.SessionID)

	if s.deduper != nil {
		first, err := s.deduper.MarkSession(ctx, session.SessionID, s.config.DedupeTTL)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("failed to check session %s for replay: %w", session.SessionID, err)
		}
		if !first {
			s.logger.Printf("Session %s was already counted, skipping", session.SessionID)
			return OutcomeDuplicate, nil
		}
	}

	update, err := s.countSession(ctx, session)
	if err != nil {
		if s.deduper != nil {
			if releaseErr := s.deduper.ReleaseSession(context.WithoutCancel(ctx), session.SessionID); releaseErr != nil {
				s.logger.Printf("Warning: failed to release replay marker for session %s: %v", session.SessionID, releaseErr)
			}
		}
		return OutcomeFailed, err
	}

	suffix := ""
	if update.Deactivated {
		suffix = " Payment link deactivated."
	}
	s.logger.Printf("Sold %d tickets in this order. Total = %d / %d.%s", update.Added, update.Total, update.Max, suffix)

	s.record(ctx, session, update)
	return OutcomeProcessed, nil
}

func (s *TicketService) countSession(ctx context.Context, session *models.CheckoutCompleted) (*models.CounterUpdate, error) {
	items, err := s.gateway.ListLineItems(ctx, session.SessionID, s.config.LineItemPageLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteService, err)
	}

	var quantity int64
	for _, item := range items {
		quantity += item.Quantity
	}
	s.logger.Printf("Tickets in this order: %d", quantity)

	update, err := s.counter.Add(ctx, s.config.PaymentLinkID, quantity, s.config.MaxTickets)
	if err != nil {
		return nil, err
	}

	s.logger.Printf("Previous total: %d, new total: %d (max %d)", update.Previous, update.Total, update.Max)
	if update.Deactivated {
		s.logger.Println("Ticket cap reached. Deactivating payment link.")
	}
	return update, nil
}

func (s *TicketService) record(ctx context.Context, session *models.CheckoutCompleted, update *models.CounterUpdate) {
	if s.recorder == nil {
		return
	}
	rec := &models.CompletionRecord{
		SessionID:     session.SessionID,
		ChannelID:     update.ChannelID,
		Quantity:      update.Added,
		PreviousTotal: update.Previous,
		NewTotal:      update.Total,
		Deactivated:   update.Deactivated,
		ProcessedAt:   s.now().UTC(),
	}
	if err := s.recorder.RecordCompletion(ctx, rec); err != nil {
		s.logger.Printf("Warning: failed to record completion for session %s: %v", session.SessionID, err)
	}
}
