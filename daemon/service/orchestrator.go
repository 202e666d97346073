package service

import (
	"context"

	"github.com/qrxfer/qrxfer/channel"
	"github.com/qrxfer/qrxfer/chunker"
	"github.com/qrxfer/qrxfer/envelope"
	"github.com/qrxfer/qrxfer/internal/observability"
	"github.com/qrxfer/qrxfer/reassembler"
	"github.com/qrxfer/qrxfer/receiver"
	"github.com/qrxfer/qrxfer/sender"
)

var tracer = observability.Tracer("qrxfer/service")

// SenderOrchestrator wires a sender.Session to a channel.Adapter,
// republishing every envelope it displays and every terminal outcome
// as a TransferEvent. This is the thin orchestration layer between a
// bare Session and a UI/API consumer.
type SenderOrchestrator struct {
	session *sender.Session
	adapter channel.Adapter
	events  *EventPublisher
}

// NewSenderOrchestrator creates a Sender session over source and wires
// it to adapter, registering the orchestrator as the adapter's observer.
func NewSenderOrchestrator(source chunker.Source, meta chunker.Metadata, adapter channel.Adapter, log *observability.Logger, metrics *observability.Metrics, events *EventPublisher) *SenderOrchestrator {
	s := sender.New(source, meta, log, metrics)
	o := &SenderOrchestrator{session: s, adapter: adapter, events: events}
	adapter.SetObserver(o.observe)
	return o
}

// SessionID returns the underlying session's correlation ID.
func (o *SenderOrchestrator) SessionID() string { return o.session.SessionID }

// State returns the underlying session's current state.
func (o *SenderOrchestrator) State() sender.State { return o.session.State() }

// Begin starts the transfer and displays the initial meta_info envelope.
func (o *SenderOrchestrator) Begin() error {
	env, err := o.session.Start()
	if err != nil {
		return err
	}
	o.display(env)
	return nil
}

// Stop tears the session down and publishes a transfer-failed event.
func (o *SenderOrchestrator) Stop(reason string) {
	o.session.Stop()
	o.events.PublishTransferFailed(o.session.SessionID, reason)
}

func (o *SenderOrchestrator) observe(e envelope.Envelope) {
	_, span := tracer.Start(context.Background(), "sender.produce_chunk")
	defer span.End()

	next, ok, err := o.session.Observe(e)
	if err != nil {
		o.events.PublishTransferFailed(o.session.SessionID, err.Error())
		return
	}
	if !ok {
		return
	}
	o.display(next)
	if next.Kind == envelope.KindCompleted {
		if err := o.session.FinalizeDone(); err == nil {
			o.events.PublishTransferCompleted(o.session.SessionID)
		}
	}
	if next.Kind == envelope.KindInvalidSHA256 {
		o.events.PublishDigestMismatch(o.session.SessionID)
	}
}

func (o *SenderOrchestrator) display(e envelope.Envelope) {
	o.adapter.Display(e)
	o.events.PublishEnvelopeDisplayed(o.session.SessionID, e.Kind.String())
}

// ReceiverOrchestrator wires a receiver.Session to a channel.Adapter,
// the Receiver-side counterpart of SenderOrchestrator.
type ReceiverOrchestrator struct {
	session *receiver.Session
	adapter channel.Adapter
	events  *EventPublisher
}

// NewReceiverOrchestrator creates a Receiver session handing the
// reconstructed file to delivery, wired to adapter.
func NewReceiverOrchestrator(delivery reassembler.FileDelivery, adapter channel.Adapter, log *observability.Logger, metrics *observability.Metrics, events *EventPublisher) *ReceiverOrchestrator {
	r := receiver.New(delivery, log, metrics)
	o := &ReceiverOrchestrator{session: r, adapter: adapter, events: events}
	adapter.SetObserver(o.observe)
	return o
}

// SessionID returns the underlying session's correlation ID.
func (o *ReceiverOrchestrator) SessionID() string { return o.session.SessionID }

// State returns the underlying session's current state.
func (o *ReceiverOrchestrator) State() receiver.State { return o.session.State() }

// CommittedCount returns how many chunks have been committed so far.
func (o *ReceiverOrchestrator) CommittedCount() int { return o.session.CommittedCount() }

// Cancel tears the session down and publishes a transfer-failed event.
func (o *ReceiverOrchestrator) Cancel(reason string) {
	o.session.Cancel()
	o.events.PublishTransferFailed(o.session.SessionID, reason)
}

func (o *ReceiverOrchestrator) observe(e envelope.Envelope) {
	_, span := tracer.Start(context.Background(), "receiver.reassemble")
	defer span.End()

	prevCommitted := o.session.CommittedCount()
	prevState := o.session.State()
	next, ok, err := o.session.Observe(e)
	if err != nil {
		o.events.PublishTransferFailed(o.session.SessionID, err.Error())
		return
	}
	if o.session.CommittedCount() > prevCommitted {
		o.events.PublishChunkCommitted(o.session.SessionID, o.session.CommittedCount())
	}
	if e.Kind == envelope.KindInvalidSHA256 {
		o.events.PublishDigestMismatch(o.session.SessionID)
	}
	if !ok {
		if prevState != receiver.Finalized && o.session.State() == receiver.Finalized {
			o.events.PublishTransferCompleted(o.session.SessionID)
		}
		return
	}
	o.adapter.Display(next)
	o.events.PublishEnvelopeDisplayed(o.session.SessionID, next.Kind.String())
}
