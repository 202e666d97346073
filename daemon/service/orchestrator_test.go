package service

import (
	"bytes"
	"io"
	"testing"

	"github.com/qrxfer/qrxfer/channel"
	"github.com/qrxfer/qrxfer/chunker"
	"github.com/qrxfer/qrxfer/internal/observability"
)

type capturingDelivery struct {
	delivered bool
	content   []byte
}

func (d *capturingDelivery) Deliver(fileName, fileType string, content io.Reader) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	d.delivered = true
	d.content = data
	return nil
}

func TestOrchestratorsDriveTransferAndPublishEvents(t *testing.T) {
	data := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	meta, err := chunker.NewMetadata("file.bin", "", uint64(len(data)), 4)
	if err != nil {
		t.Fatalf("NewMetadata failed: %v", err)
	}

	log := observability.NewLogger("test", io.Discard)
	events := NewEventPublisher(32)
	sub := events.Subscribe("")

	lb := channel.NewLoopback()
	senderOrch := NewSenderOrchestrator(bytes.NewReader(data), meta, lb.SenderAdapter(), log, nil, events)
	delivery := &capturingDelivery{}
	receiverOrch := NewReceiverOrchestrator(delivery, lb.ReceiverAdapter(), log, nil, events)

	if err := senderOrch.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	lb.PumpUntilIdle(20)

	if !delivery.delivered {
		t.Fatal("expected file to be delivered")
	}
	if !bytes.Equal(delivery.content, data) {
		t.Errorf("delivered content = %v, want %v", delivery.content, data)
	}
	if receiverOrch.CommittedCount() != 2 {
		t.Errorf("expected 2 committed chunks, got %d", receiverOrch.CommittedCount())
	}

	sawCompleted := false
	drained := 0
drain:
	for {
		select {
		case ev := <-sub.Channel:
			drained++
			if ev.EventType == EventTransferCompleted {
				sawCompleted = true
			}
		default:
			break drain
		}
	}
	if drained == 0 {
		t.Fatal("expected at least one published event")
	}
	if !sawCompleted {
		t.Fatal("expected a transfer-completed event from the receiver side")
	}
}

func TestSenderOrchestratorStopPublishesFailure(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	meta, err := chunker.NewMetadata("file.bin", "", uint64(len(data)), 4)
	if err != nil {
		t.Fatalf("NewMetadata failed: %v", err)
	}
	log := observability.NewLogger("test", io.Discard)
	events := NewEventPublisher(8)
	sub := events.Subscribe("")

	lb := channel.NewLoopback()
	senderOrch := NewSenderOrchestrator(bytes.NewReader(data), meta, lb.SenderAdapter(), log, nil, events)
	if err := senderOrch.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	senderOrch.Stop("user cancelled")

	var sawFailed bool
	for {
		select {
		case ev := <-sub.Channel:
			if ev.EventType == EventTransferFailed {
				sawFailed = true
			}
		default:
			if sawFailed {
				return
			}
			t.Fatal("expected a transfer-failed event after Stop")
		}
	}
}
