// Package sender drives the Sender half of the visual-channel transfer
// protocol: Idle -> Advertising -> Transmitting(N) -> Finalizing -> Done.
package sender

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/qrxfer/qrxfer/chunker"
	"github.com/qrxfer/qrxfer/envelope"
	"github.com/qrxfer/qrxfer/internal/observability"
)

// State is one of the five Sender states (spec §4.4).
type State int

const (
	Idle State = iota
	Advertising
	Transmitting
	Finalizing
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Advertising:
		return "Advertising"
	case Transmitting:
		return "Transmitting"
	case Finalizing:
		return "Finalizing"
	case Done:
		return "Done"
	default:
		return "Unknown"
	}
}

var validTransitions = map[State][]State{
	Idle:         {Advertising},
	Advertising:  {Transmitting, Idle},
	Transmitting: {Transmitting, Finalizing, Idle},
	Finalizing:   {Done, Idle},
	Done:         {},
}

// ErrInvalidStateTransition is returned for a transition the table
// does not list for the current state.
var ErrInvalidStateTransition = errors.New("invalid sender state transition")

// ErrNotIdle is returned by Start when the session has already begun.
var ErrNotIdle = errors.New("sender is not idle")

// Session drives the Sender state machine for one transfer.
type Session struct {
	SessionID string

	chunker *chunker.Chunker
	meta    chunker.Metadata

	state     State
	curChunk  uint64 // last-produced chunk's 1-based index
	curWire   string
	curDigest string

	nonce          int64
	lastObservedAt int64
	haveObserved   bool

	log     *observability.Logger
	metrics *observability.Metrics
}

// New creates a Sender session for the file described by meta, reading
// chunk bytes from source.
func New(source chunker.Source, meta chunker.Metadata, log *observability.Logger, metrics *observability.Metrics) *Session {
	id := uuid.New().String()
	return &Session{
		SessionID: id,
		chunker:   chunker.New(source, meta),
		meta:      meta,
		state:     Idle,
		log:       log.WithSession(id, "sender"),
		metrics:   metrics,
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	return s.state
}

// CurrentChunk returns the 1-based index of the last-produced chunk.
func (s *Session) CurrentChunk() uint64 {
	return s.curChunk
}

func (s *Session) transitionTo(next State) error {
	allowed := validTransitions[s.state]
	ok := false
	for _, a := range allowed {
		if a == next {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, s.state, next)
	}
	s.log.Transition(s.state.String(), next.String(), "")
	s.state = next
	return nil
}

func (s *Session) emit(kind envelope.Kind, body string) envelope.Envelope {
	s.nonce++
	if s.metrics != nil {
		s.metrics.EnvelopesDisplayed.WithLabelValues(kind.String()).Inc()
	}
	return envelope.Envelope{Kind: kind, Body: body, Nonce: s.nonce}
}

// Start begins the session: the user has selected a file. Returns the
// meta_info envelope to display.
func (s *Session) Start() (envelope.Envelope, error) {
	if s.state != Idle {
		return envelope.Envelope{}, ErrNotIdle
	}
	if err := s.transitionTo(Advertising); err != nil {
		return envelope.Envelope{}, err
	}
	body, err := chunker.EncodeMetaInfo(s.meta)
	if err != nil {
		return envelope.Envelope{}, err
	}
	return s.emit(envelope.KindMetaInfo, body), nil
}

// Stop tears the session down unconditionally, returning to Idle
// (spec §4.4: user `stop` from any state).
func (s *Session) Stop() {
	s.log.Transition(s.state.String(), Idle.String(), "stop")
	s.state = Idle
	s.curChunk = 0
	s.curWire = ""
	s.curDigest = ""
	s.haveObserved = false
	if s.metrics != nil {
		s.metrics.TransfersFailed.Inc()
	}
}

// FinalizeDone marks the end of the Finalizing grace window (spec
// §4.4: "hold ~2s, teardown visual session"). Callers own the timer;
// Observe does not drive wall-clock time.
func (s *Session) FinalizeDone() error {
	if err := s.transitionTo(Done); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.TransfersCompleted.Inc()
	}
	return nil
}

// Observe processes one fresh observation from the Receiver and
// returns the envelope to display next, or ok=false if no new
// envelope should be displayed (e.g. a duplicate or out-of-protocol
// observation, spec §3 invariant 5, §7).
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
	case s.state == Advertising && obs.Kind == envelope.KindMetaInfoReceived:
		s.lastObservedAt, s.haveObserved = obs.Nonce, true
		return s.advanceToFirstChunk()

	case s.state == Transmitting && obs.Kind == envelope.KindEvalSHA256:
		s.lastObservedAt, s.haveObserved = obs.Nonce, true
		return s.handleDigestReport(obs.Body)

	default:
		// Protocol violation or unknown kind: ignored silently (spec §7).
		return envelope.Envelope{}, false, nil
	}
}

func (s *Session) advanceToFirstChunk() (envelope.Envelope, bool, error) {
	if s.meta.ChunkCount == 0 {
		if err := s.transitionTo(Finalizing); err != nil {
			return envelope.Envelope{}, false, err
		}
		return s.emit(envelope.KindCompleted, ""), true, nil
	}

	wire, digest, err := s.chunker.Produce(1)
	if err != nil {
		return envelope.Envelope{}, false, err
	}
	s.curChunk, s.curWire, s.curDigest = 1, wire, digest
	if err := s.transitionTo(Transmitting); err != nil {
		return envelope.Envelope{}, false, err
	}
	return s.emit(envelope.KindOKNext, wire), true, nil
}

func (s *Session) handleDigestReport(reportedDigest string) (envelope.Envelope, bool, error) {
	if reportedDigest != s.curDigest {
		// Retransmit the SAME wire form, not a fresh read (spec §4.4 tie-break).
		if s.metrics != nil {
			s.metrics.DigestMismatches.Inc()
		}
		return s.emit(envelope.KindInvalidSHA256, s.curWire), true, nil
	}

	if s.curChunk == s.meta.ChunkCount {
		if err := s.transitionTo(Finalizing); err != nil {
			return envelope.Envelope{}, false, err
		}
		return s.emit(envelope.KindCompleted, ""), true, nil
	}

	next := s.curChunk + 1
	wire, digest, err := s.chunker.Produce(next)
	if err != nil {
		return envelope.Envelope{}, false, err
	}
	s.curChunk, s.curWire, s.curDigest = next, wire, digest
	return s.emit(envelope.KindOKNext, wire), true, nil
}
