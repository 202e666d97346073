// Package service adapts protocol-level occurrences into a
// subscribable event stream for API/UI consumers, trimmed to the
// events this protocol can actually produce.
package service

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"sync"
	"time"
)

// EventType classifies one protocol-level occurrence.
type EventType int

const (
	EventEnvelopeDisplayed EventType = iota + 1
	EventDuplicateDropped
	EventChunkCommitted
	EventDigestMismatch
	EventTransferCompleted
	EventTransferFailed
)

func (e EventType) String() string {
	switch e {
	case EventEnvelopeDisplayed:
		return "ENVELOPE_DISPLAYED"
	case EventDuplicateDropped:
		return "DUPLICATE_DROPPED"
	case EventChunkCommitted:
		return "CHUNK_COMMITTED"
	case EventDigestMismatch:
		return "DIGEST_MISMATCH"
	case EventTransferCompleted:
		return "TRANSFER_COMPLETED"
	case EventTransferFailed:
		return "TRANSFER_FAILED"
	default:
		return "UNKNOWN"
	}
}

// TransferEvent is one occurrence within a session's lifetime.
type TransferEvent struct {
	SessionID string
	EventType EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// EventSubscription is an active event subscription.
type EventSubscription struct {
	ID              string
	SessionIDFilter string
	Channel         chan *TransferEvent
}

// EventPublisher fans protocol events out to subscribers without
// blocking the session that published them.
type EventPublisher struct {
	mu            sync.RWMutex
	subscriptions map[string]*EventSubscription
	bufferSize    int
}

// NewEventPublisher creates a publisher whose subscription channels
// are buffered to bufferSize.
func NewEventPublisher(bufferSize int) *EventPublisher {
	return &EventPublisher{
		subscriptions: make(map[string]*EventSubscription),
		bufferSize:    bufferSize,
	}
}

// Subscribe creates a new event subscription, optionally filtered to
// one session ID.
func (p *EventPublisher) Subscribe(sessionIDFilter string) *EventSubscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub := &EventSubscription{
		ID:              generateSubscriptionID(),
		SessionIDFilter: sessionIDFilter,
		Channel:         make(chan *TransferEvent, p.bufferSize),
	}
	p.subscriptions[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (p *EventPublisher) Unsubscribe(subscriptionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sub, exists := p.subscriptions[subscriptionID]; exists {
		close(sub.Channel)
		delete(p.subscriptions, subscriptionID)
	}
}

// Publish broadcasts event to all matching subscribers. A full
// subscriber channel drops the event rather than blocking the caller.
func (p *EventPublisher) Publish(event *TransferEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, sub := range p.subscriptions {
		if sub.SessionIDFilter != "" && sub.SessionIDFilter != event.SessionID {
			continue
		}
		select {
		case sub.Channel <- event:
		default:
		}
	}
}

// PublishEnvelopeDisplayed records one envelope a session rendered.
func (p *EventPublisher) PublishEnvelopeDisplayed(sessionID, kind string) {
	p.Publish(&TransferEvent{
		SessionID: sessionID,
		EventType: EventEnvelopeDisplayed,
		Timestamp: time.Now(),
		Message:   "envelope displayed",
		Metadata:  map[string]string{"kind": kind},
	})
}

// PublishDuplicateDropped records an observation dropped by nonce dedup.
func (p *EventPublisher) PublishDuplicateDropped(sessionID string, nonce int64) {
	p.Publish(&TransferEvent{
		SessionID: sessionID,
		EventType: EventDuplicateDropped,
		Timestamp: time.Now(),
		Message:   "duplicate nonce ignored",
		Metadata:  map[string]string{"nonce": strconv.FormatInt(nonce, 10)},
	})
}

// PublishChunkCommitted records a chunk the Receiver committed.
func (p *EventPublisher) PublishChunkCommitted(sessionID string, committedCount int) {
	p.Publish(&TransferEvent{
		SessionID: sessionID,
		EventType: EventChunkCommitted,
		Timestamp: time.Now(),
		Message:   "chunk committed",
		Metadata:  map[string]string{"committed_count": strconv.Itoa(committedCount)},
	})
}

// PublishDigestMismatch records a digest mismatch the Receiver reported.
func (p *EventPublisher) PublishDigestMismatch(sessionID string) {
	p.Publish(&TransferEvent{
		SessionID: sessionID,
		EventType: EventDigestMismatch,
		Timestamp: time.Now(),
		Message:   "digest mismatch, retransmitting",
	})
}

// PublishTransferCompleted records a transfer that reached Done/Finalized.
func (p *EventPublisher) PublishTransferCompleted(sessionID string) {
	p.Publish(&TransferEvent{
		SessionID: sessionID,
		EventType: EventTransferCompleted,
		Timestamp: time.Now(),
		Message:   "transfer completed",
	})
}

// PublishTransferFailed records a transfer torn down before completion.
func (p *EventPublisher) PublishTransferFailed(sessionID, reason string) {
	p.Publish(&TransferEvent{
		SessionID: sessionID,
		EventType: EventTransferFailed,
		Timestamp: time.Now(),
		Message:   reason,
	})
}

// SubscriptionCount returns the number of active subscriptions.
func (p *EventPublisher) SubscriptionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions)
}

func generateSubscriptionID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return time.Now().Format("20060102150405.000000000")
	}
	return hex.EncodeToString(buf)
}
