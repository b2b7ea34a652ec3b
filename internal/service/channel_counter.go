package service

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"ticketcap/internal/models"
)

// ChannelGateway is the slice of the payment provider used to read and
// write a sales channel.
type ChannelGateway interface {
	GetChannel(ctx context.Context, channelID string) (*models.SalesChannel, error)
	UpdateChannel(ctx context.Context, channelID string, update models.ChannelUpdate) error
}

// ChannelLocker serializes counter updates for one channel. Unlock must be
// safe to call after the lock has expired.
type ChannelLocker interface {
	Lock(ctx context.Context, channelID string, ttl time.Duration) (unlock func(context.Context) error, err error)
}

// ChannelCounter performs the read-modify-write of the sold counter stored
// in channel metadata. Without a locker, concurrent adds may lose updates.
type ChannelCounter struct {
	gateway ChannelGateway
	locker  ChannelLocker
	lockTTL time.Duration
	logger  *log.Logger
}

func NewChannelCounter(logger *log.Logger, gateway ChannelGateway, locker ChannelLocker, lockTTL time.Duration) *ChannelCounter {
	return &ChannelCounter{gateway: gateway, locker: locker, lockTTL: lockTTL, logger: logger}
}

// Add returns an error only when the channel was not updated. A lock that
// cannot be released after a successful write is logged and left to expire.
func (c *ChannelCounter) Add(ctx context.Context, channelID string, quantity, maxTickets int64) (*models.CounterUpdate, error) {
	if c.locker != nil {
		unlock, lockErr := c.locker.Lock(ctx, channelID, c.lockTTL)
		if lockErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrLockNotAcquired, lockErr)
		}
		defer func() {
			if unlockErr := unlock(context.WithoutCancel(ctx)); unlockErr != nil {
				c.logger.Printf("Warning: failed to release counter lock for %s: %v", channelID, unlockErr)
			}
		}()
	}

	channel, err := c.gateway.GetChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteService, err)
	}

	current := ParseSoldCounter(channel.Metadata)
	newTotal := current + quantity

	metadata := make(map[string]string, len(channel.Metadata)+1)
	for k, v := range channel.Metadata {
		metadata[k] = v
	}
	metadata[models.SoldCounterKey] = strconv.FormatInt(newTotal, 10)

	change := models.ChannelUpdate{Metadata: metadata, Deactivate: newTotal >= maxTickets}
	if err := c.gateway.UpdateChannel(ctx, channelID, change); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteService, err)
	}

	return &models.CounterUpdate{
		ChannelID:   channelID,
		Previous:    current,
		Added:       quantity,
		Total:       newTotal,
		Max:         maxTickets,
		Deactivated: change.Deactivate,
	}, nil
}

// ParseSoldCounter reads the sold counter from channel metadata. Missing,
// malformed, or negative values count as zero.
func ParseSoldCounter(metadata map[string]string) int64 {
	raw, ok := metadata[models.SoldCounterKey]
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
