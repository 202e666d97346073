// Package receiver drives the Receiver half of the visual-channel
// transfer protocol: Awaiting-meta -> Collecting -> Finalized.
package receiver

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/qrxfer/qrxfer/chunker"
	"github.com/qrxfer/qrxfer/envelope"
	"github.com/qrxfer/qrxfer/internal/observability"
	"github.com/qrxfer/qrxfer/reassembler"
)

// State is one of the three Receiver states. There is no separate Idle
// state: a new session starts in Awaiting-meta, and Cancel moves it to
// Finalized.
type State int

const (
	AwaitingMeta State = iota
	Collecting
	Finalized
)

func (s State) String() string {
	switch s {
	case AwaitingMeta:
		return "Awaiting-meta"
	case Collecting:
		return "Collecting"
	case Finalized:
		return "Finalized"
	default:
		return "Unknown"
	}
}

// ErrInvalidMetadata is returned when a meta_info body fails
// validation; the session is not created and the receiver stays in
// Awaiting-meta (spec §7).
var ErrInvalidMetadata = errors.New("invalid transfer metadata")

// Session drives the Receiver state machine for one transfer.
type Session struct {
	SessionID string

	delivery reassembler.FileDelivery
	reasm    *reassembler.Reassembler
	meta     chunker.Metadata

	state State

	nonce          int64
	lastObservedAt int64
	haveObserved   bool

	log     *observability.Logger
	metrics *observability.Metrics
}

// New creates a Receiver session awaiting meta_info, handing the
// eventually-reconstructed file to delivery.
func New(delivery reassembler.FileDelivery, log *observability.Logger, metrics *observability.Metrics) *Session {
	id := uuid.New().String()
	return &Session{
		SessionID: id,
		delivery:  delivery,
		state:     AwaitingMeta,
		log:       log.WithSession(id, "receiver"),
		metrics:   metrics,
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	return s.state
}

// Metadata returns the metadata received in meta_info, valid once the
// session has left Awaiting-meta.
func (s *Session) Metadata() chunker.Metadata {
	return s.meta
}

// CommittedCount returns how many chunks have been committed so far.
func (s *Session) CommittedCount() int {
	if s.reasm == nil {
		return 0
	}
	return s.reasm.CommittedCount()
}

func (s *Session) setState(next State, event string) {
	s.log.Transition(s.state.String(), next.String(), event)
	s.state = next
}

func (s *Session) emit(kind envelope.Kind, body string) envelope.Envelope {
	s.nonce++
	if s.metrics != nil {
		s.metrics.EnvelopesDisplayed.WithLabelValues(kind.String()).Inc()
	}
	return envelope.Envelope{Kind: kind, Body: body, Nonce: s.nonce}
}

// Cancel tears the session down unconditionally (user `stop`), so no
// partial file is delivered and subsequent Sender envelopes have no
// effect (spec §5 scenario 5).
func (s *Session) Cancel() {
	s.log.Transition(s.state.String(), Finalized.String(), "cancel")
	s.state = Finalized
	s.reasm = nil
	if s.metrics != nil {
		s.metrics.TransfersFailed.Inc()
	}
}

// Observe processes one fresh observation from the Sender and returns
// the envelope to display next, or ok=false if nothing should be
// displayed.
func (s *Session) Observe(obs envelope.Envelope) (next envelope.Envelope, ok bool, err error) {
	if s.haveObserved && obs.Nonce <= s.lastObservedAt {
		if s.metrics != nil {
			s.metrics.DuplicateDrops.Inc()
		}
		return envelope.Envelope{}, false, nil
	}
	if s.metrics != nil {
		s.metrics.EnvelopesObserved.WithLabelValues(obs.Kind.String()).Inc()
	}

	switch {
	case s.state == AwaitingMeta && obs.Kind == envelope.KindMetaInfo:
		s.lastObservedAt, s.haveObserved = obs.Nonce, true
		return s.handleMetaInfo(obs.Body)

	case s.state == Collecting && obs.Kind == envelope.KindOKNext:
		s.lastObservedAt, s.haveObserved = obs.Nonce, true
		return s.handleOKNext(obs.Body)

	case s.state == Collecting && obs.Kind == envelope.KindInvalidSHA256:
		s.lastObservedAt, s.haveObserved = obs.Nonce, true
		return s.handleInvalidSHA256(obs.Body)

	case s.state == Collecting && obs.Kind == envelope.KindCompleted:
		s.lastObservedAt, s.haveObserved = obs.Nonce, true
		return s.handleCompleted()

	default:
		// Metadata already set while Awaiting-meta, protocol violation,
		// or unknown kind: ignored silently (spec §4.5, §7).
		return envelope.Envelope{}, false, nil
	}
}

func (s *Session) handleMetaInfo(body string) (envelope.Envelope, bool, error) {
	meta, err := chunker.DecodeMetaInfo(body)
	if err != nil {
		return envelope.Envelope{}, false, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	s.meta = meta
	s.reasm = reassembler.New(meta, s.delivery)
	s.setState(Collecting, "meta_info")
	return s.emit(envelope.KindMetaInfoReceived, ""), true, nil
}

func (s *Session) handleOKNext(wireForm string) (envelope.Envelope, bool, error) {
	// ok_next always commits the prior pending chunk before decoding the
	// new one (spec §4.5 critical policy).
	if err := s.reasm.Commit(); err != nil {
		return envelope.Envelope{}, false, err
	}
	if s.metrics != nil && s.reasm.CommittedCount() > 0 {
		s.metrics.ChunksCommitted.Inc()
	}
	digest, err := s.reasm.SetPending(wireForm)
	if err != nil {
		return envelope.Envelope{}, false, err
	}
	return s.emit(envelope.KindEvalSHA256, digest), true, nil
}

func (s *Session) handleInvalidSHA256(wireForm string) (envelope.Envelope, bool, error) {
	// invalid_sha256 discards the pending chunk and takes the carried
	// wire form as the fresh retry attempt (spec §4.5 critical policy).
	s.reasm.DropPending()
	if s.metrics != nil {
		s.metrics.DigestMismatches.Inc()
	}
	digest, err := s.reasm.SetPending(wireForm)
	if err != nil {
		return envelope.Envelope{}, false, err
	}
	return s.emit(envelope.KindEvalSHA256, digest), true, nil
}

func (s *Session) handleCompleted() (envelope.Envelope, bool, error) {
	before := s.reasm.CommittedCount()
	if err := s.reasm.Commit(); err != nil {
		return envelope.Envelope{}, false, err
	}
	if s.metrics != nil && s.reasm.CommittedCount() > before {
		s.metrics.ChunksCommitted.Inc()
	}
	if err := s.reasm.Finalize(); err != nil {
		return envelope.Envelope{}, false, err
	}
	s.setState(Finalized, "completed")
	if s.metrics != nil {
		s.metrics.TransfersCompleted.Inc()
	}
	return envelope.Envelope{}, false, nil
}
