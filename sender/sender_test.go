package sender

import (
	"bytes"
	"os"
	"testing"

	"github.com/qrxfer/qrxfer/chunker"
	"github.com/qrxfer/qrxfer/envelope"
	"github.com/qrxfer/qrxfer/internal/observability"
)

func newTestSender(t *testing.T, data []byte, chunkSize uint64) *Session {
	t.Helper()
	meta, err := chunker.NewMetadata("file.bin", "", uint64(len(data)), chunkSize)
	if err != nil {
		t.Fatalf("NewMetadata failed: %v", err)
	}
	log := observability.NewLogger("test", os.Stderr)
	return New(bytes.NewReader(data), meta, log, nil)
}

func TestSenderHappyPathTwoChunks(t *testing.T) {
	data := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	s := newTestSender(t, data, 4)

	metaEnv, err := s.Start()
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if metaEnv.Kind != envelope.KindMetaInfo {
		t.Fatalf("expected meta_info, got %v", metaEnv.Kind)
	}
	if s.State() != Advertising {
		t.Fatalf("expected Advertising, got %v", s.State())
	}

	next, ok, err := s.Observe(envelope.Envelope{Kind: envelope.KindMetaInfoReceived, Nonce: 1})
	if err != nil || !ok {
		t.Fatalf("Observe(meta_info_received) failed: ok=%v err=%v", ok, err)
	}
	if next.Kind != envelope.KindOKNext || next.Body != "AAECAw==" {
		t.Fatalf("expected ok_next(AAECAw==), got %v %q", next.Kind, next.Body)
	}
	if s.State() != Transmitting || s.CurrentChunk() != 1 {
		t.Fatalf("expected Transmitting(1), got %v/%d", s.State(), s.CurrentChunk())
	}

	d1 := chunker.Digest("AAECAw==")
	next, ok, err = s.Observe(envelope.Envelope{Kind: envelope.KindEvalSHA256, Body: d1, Nonce: 2})
	if err != nil || !ok {
		t.Fatalf("Observe(eval_sha256 d1) failed: ok=%v err=%v", ok, err)
	}
	if next.Kind != envelope.KindOKNext || next.Body != "BAUGBw==" {
		t.Fatalf("expected ok_next(BAUGBw==), got %v %q", next.Kind, next.Body)
	}
	if s.CurrentChunk() != 2 {
		t.Fatalf("expected chunk 2, got %d", s.CurrentChunk())
	}

	d2 := chunker.Digest("BAUGBw==")
	next, ok, err = s.Observe(envelope.Envelope{Kind: envelope.KindEvalSHA256, Body: d2, Nonce: 3})
	if err != nil || !ok {
		t.Fatalf("Observe(eval_sha256 d2) failed: ok=%v err=%v", ok, err)
	}
	if next.Kind != envelope.KindCompleted {
		t.Fatalf("expected completed, got %v", next.Kind)
	}
	if s.State() != Finalizing {
		t.Fatalf("expected Finalizing, got %v", s.State())
	}

	if err := s.FinalizeDone(); err != nil {
		t.Fatalf("FinalizeDone failed: %v", err)
	}
	if s.State() != Done {
		t.Fatalf("expected Done, got %v", s.State())
	}
}

func TestSenderDigestMismatchRetransmitsSameChunk(t *testing.T) {
	data := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	s := newTestSender(t, data, 4)
	s.Start()
	s.Observe(envelope.Envelope{Kind: envelope.KindMetaInfoReceived, Nonce: 1})

	next, ok, err := s.Observe(envelope.Envelope{Kind: envelope.KindEvalSHA256, Body: "not-the-digest", Nonce: 2})
	if err != nil || !ok {
		t.Fatalf("Observe(bad digest) failed: ok=%v err=%v", ok, err)
	}
	if next.Kind != envelope.KindInvalidSHA256 || next.Body != "AAECAw==" {
		t.Fatalf("expected invalid_sha256(AAECAw==), got %v %q", next.Kind, next.Body)
	}
	if s.State() != Transmitting || s.CurrentChunk() != 1 {
		t.Fatalf("sender should remain on chunk 1, got %v/%d", s.State(), s.CurrentChunk())
	}

	// Retry with the correct digest now proceeds normally.
	d1 := chunker.Digest("AAECAw==")
	next, ok, err = s.Observe(envelope.Envelope{Kind: envelope.KindEvalSHA256, Body: d1, Nonce: 3})
	if err != nil || !ok {
		t.Fatalf("Observe(good digest after retry) failed: ok=%v err=%v", ok, err)
	}
	if next.Kind != envelope.KindOKNext || next.Body != "BAUGBw==" {
		t.Fatalf("expected to advance to chunk 2, got %v %q", next.Kind, next.Body)
	}
}

func TestSenderDuplicateNonceIgnored(t *testing.T) {
	data := []byte{0x00, 0x01, 0x02, 0x03}
	s := newTestSender(t, data, 4)
	s.Start()

	_, ok, err := s.Observe(envelope.Envelope{Kind: envelope.KindMetaInfoReceived, Nonce: 7})
	if err != nil || !ok {
		t.Fatalf("first observation should succeed: ok=%v err=%v", ok, err)
	}
	firstChunk := s.CurrentChunk()

	for i := 0; i < 2; i++ {
		_, ok, err := s.Observe(envelope.Envelope{Kind: envelope.KindMetaInfoReceived, Nonce: 7})
		if err != nil {
			t.Fatalf("duplicate observation errored: %v", err)
		}
		if ok {
			t.Fatalf("duplicate nonce %d should produce no transition", i)
		}
	}
	if s.CurrentChunk() != firstChunk {
		t.Fatalf("state changed after duplicate observation")
	}
}

func TestSenderEmptyFileCompletesImmediately(t *testing.T) {
	s := newTestSender(t, nil, 4)
	s.Start()

	next, ok, err := s.Observe(envelope.Envelope{Kind: envelope.KindMetaInfoReceived, Nonce: 1})
	if err != nil || !ok {
		t.Fatalf("Observe(meta_info_received) failed: ok=%v err=%v", ok, err)
	}
	if next.Kind != envelope.KindCompleted {
		t.Fatalf("expected completed immediately for empty file, got %v", next.Kind)
	}
	if s.State() != Finalizing {
		t.Fatalf("expected Finalizing, got %v", s.State())
	}
}

func TestSenderStopResetsToIdle(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	s := newTestSender(t, data, 4)
	s.Start()
	s.Observe(envelope.Envelope{Kind: envelope.KindMetaInfoReceived, Nonce: 1})
	if s.State() != Transmitting {
		t.Fatalf("expected Transmitting before stop, got %v", s.State())
	}

	s.Stop()
	if s.State() != Idle {
		t.Fatalf("expected Idle after Stop, got %v", s.State())
	}
	if s.CurrentChunk() != 0 {
		t.Fatalf("expected chunk cursor reset, got %d", s.CurrentChunk())
	}
}

func TestSenderNoncesStrictlyIncrease(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	s := newTestSender(t, data, 4)
	e1, _ := s.Start()
	e2, _, _ := s.Observe(envelope.Envelope{Kind: envelope.KindMetaInfoReceived, Nonce: 1})
	if e2.Nonce <= e1.Nonce {
		t.Fatalf("nonce did not strictly increase: %d -> %d", e1.Nonce, e2.Nonce)
	}
}
