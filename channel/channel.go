// Package channel realizes the visual-channel boundary spec.md treats
// as an external collaborator: a peer displays an Envelope and a peer
// observes one, with no notion of QR image, camera, or DOM in between.
package channel

import (
	"sync"

	"github.com/qrxfer/qrxfer/envelope"
)

// Adapter is the seam a Sender or Receiver session is driven through.
// Display renders one envelope for the other side to eventually
// observe; SetObserver registers the callback invoked for each
// envelope this side observes.
type Adapter interface {
	Display(env envelope.Envelope)
	SetObserver(observe func(envelope.Envelope))
}

// mailbox is a single-slot inbox: a push while the slot is full
// overwrites whatever was there, so a side that is mid-observation
// never sees more than the newest envelope once it looks again
// (spec §5's one-slot, overwrite mailbox).
type mailbox struct {
	ch chan envelope.Envelope
}

func newMailbox() *mailbox {
	return &mailbox{ch: make(chan envelope.Envelope, 1)}
}

func (m *mailbox) push(e envelope.Envelope) {
	for {
		select {
		case m.ch <- e:
			return
		default:
		}
		select {
		case <-m.ch:
		default:
		}
	}
}

func (m *mailbox) tryPop() (envelope.Envelope, bool) {
	select {
	case e := <-m.ch:
		return e, true
	default:
		return envelope.Envelope{}, false
	}
}

type side struct {
	out *mailbox

	mu       sync.Mutex
	observer func(envelope.Envelope)
}

func (s *side) Display(e envelope.Envelope) {
	s.out.push(e)
}

func (s *side) SetObserver(observe func(envelope.Envelope)) {
	s.mu.Lock()
	s.observer = observe
	s.mu.Unlock()
}

func (s *side) notify(e envelope.Envelope) {
	s.mu.Lock()
	observe := s.observer
	s.mu.Unlock()
	if observe != nil {
		observe(e)
	}
}

// Loopback connects a Sender-side and a Receiver-side Adapter
// in-process. It never touches a camera or a QR image; it is the
// direct hookup spec.md §6 says the core may assume behind the
// external-collaborator boundary.
type Loopback struct {
	senderSide   *side
	receiverSide *side
	toReceiver   *mailbox
	toSender     *mailbox

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewLoopback creates an idle Loopback with nothing queued on either side.
func NewLoopback() *Loopback {
	toReceiver := newMailbox()
	toSender := newMailbox()
	return &Loopback{
		senderSide:   &side{out: toReceiver},
		receiverSide: &side{out: toSender},
		toReceiver:   toReceiver,
		toSender:     toSender,
	}
}

// SenderAdapter returns the Adapter the Sender session should be wired to.
func (lb *Loopback) SenderAdapter() Adapter { return lb.senderSide }

// ReceiverAdapter returns the Adapter the Receiver session should be wired to.
func (lb *Loopback) ReceiverAdapter() Adapter { return lb.receiverSide }

// Pump delivers at most one pending envelope to each side's observer
// and reports how many were delivered. Tests drive a scenario
// deterministically with Pump rather than waiting on wall-clock time.
func (lb *Loopback) Pump() int {
	delivered := 0
	if e, ok := lb.toReceiver.tryPop(); ok {
		lb.receiverSide.notify(e)
		delivered++
	}
	if e, ok := lb.toSender.tryPop(); ok {
		lb.senderSide.notify(e)
		delivered++
	}
	return delivered
}

// PumpUntilIdle calls Pump repeatedly until neither side has anything
// pending, or maxRounds is reached (a stuck protocol should not hang a
// test forever).
func (lb *Loopback) PumpUntilIdle(maxRounds int) {
	for i := 0; i < maxRounds; i++ {
		if lb.Pump() == 0 {
			return
		}
	}
}

// Run starts background goroutines that continuously drain both
// mailboxes, for callers (the demo CLI) that want the loopback to
// behave like a live channel instead of being pumped step by step.
func (lb *Loopback) Run() {
	lb.stop = make(chan struct{})
	lb.wg.Add(2)
	go lb.drain(lb.toReceiver, lb.receiverSide)
	go lb.drain(lb.toSender, lb.senderSide)
}

func (lb *Loopback) drain(mb *mailbox, dest *side) {
	defer lb.wg.Done()
	for {
		select {
		case e := <-mb.ch:
			dest.notify(e)
		case <-lb.stop:
			return
		}
	}
}

// Close stops the background goroutines started by Run.
func (lb *Loopback) Close() {
	if lb.stop != nil {
		close(lb.stop)
		lb.wg.Wait()
	}
}
