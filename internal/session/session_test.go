package session

import (
	"bytes"
	"testing"
	"time"

	"github.com/llpmimic/llp/internal/llpcrypto"
	"github.com/llpmimic/llp/internal/wire"
)

func mustKey(t *testing.T, seed byte) [llpcrypto.KeySize]byte {
	t.Helper()
	var k [llpcrypto.KeySize]byte
	for i := range k {
		k[i] = seed
	}
	return k
}

func TestDataRoundTrip(t *testing.T) {
	key := mustKey(t, 0x42)
	sender := New(1, key, Config{})
	receiver := New(1, key, Config{})

	payload := bytes.Repeat([]byte{0xAB}, 1200)

	out, err := sender.Send(payload, wire.FlagData)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	raw, err := wire.Encode(out.Header, out.Payload)
	if err != nil {
		t.Fatalf("wire.Encode: %v", err)
	}

	in, action, err := receiver.Receive(raw)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if action != ActionDrop {
		t.Fatalf("action = %v, want ActionDrop (success case reuses the drop constant)", action)
	}
	if !bytes.Equal(in.Plaintext, payload) {
		t.Fatalf("plaintext mismatch: got %d bytes want %d bytes", len(in.Plaintext), len(payload))
	}
	if receiver.window.High() != 0 {
		t.Fatalf("recv_window_high = %d, want 0", receiver.window.High())
	}
	if !receiver.window.testBit(0) {
		t.Fatalf("bit 0 not set after first accepted counter")
	}
}

func TestReplayRejection(t *testing.T) {
	key := mustKey(t, 0x11)
	sender := New(1, key, Config{})
	receiver := New(1, key, Config{})

	out, err := sender.Send([]byte("hello"), wire.FlagData)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	raw, err := wire.Encode(out.Header, out.Payload)
	if err != nil {
		t.Fatalf("wire.Encode: %v", err)
	}

	if _, _, err := receiver.Receive(raw); err != nil {
		t.Fatalf("first Receive: %v", err)
	}
	if _, action, err := receiver.Receive(append([]byte(nil), raw...)); err != ErrReplayedOrOld {
		t.Fatalf("second Receive: err=%v action=%v, want ErrReplayedOrOld", err, action)
	}
}

func TestReorderWithinWindow(t *testing.T) {
	key := mustKey(t, 0x22)
	sender := New(1, key, Config{})
	receiver := New(1, key, Config{})

	var records [][]byte
	for i := 0; i < 5; i++ {
		out, err := sender.Send([]byte{byte(i)}, wire.FlagData)
		if err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		raw, err := wire.Encode(out.Header, out.Payload)
		if err != nil {
			t.Fatalf("wire.Encode %d: %v", i, err)
		}
		records = append(records, raw)
	}

	order := []int{2, 0, 4, 1, 3}
	for _, idx := range order {
		if _, _, err := receiver.Receive(records[idx]); err != nil {
			t.Fatalf("Receive counter %d: %v", idx, err)
		}
	}

	for _, idx := range order {
		if _, _, err := receiver.Receive(append([]byte(nil), records[idx]...)); err != ErrReplayedOrOld {
			t.Fatalf("re-receive counter %d: err=%v, want ErrReplayedOrOld", idx, err)
		}
	}
}

func TestRekeyThresholdTriggersRekeying(t *testing.T) {
	key := mustKey(t, 0x33)
	sender := New(1, key, Config{RekeyPacketThreshold: 4})

	for i := 0; i < 4; i++ {
		if _, err := sender.Send([]byte("data"), wire.FlagData); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if !sender.NeedsRekey() {
		t.Fatalf("expected NeedsRekey after reaching threshold")
	}

	if _, err := sender.Send([]byte("data"), wire.FlagData); err != ErrRekeyInProgress {
		t.Fatalf("Send during rekey: got %v, want ErrRekeyInProgress", err)
	}
}

func TestRekeyRoundTrip(t *testing.T) {
	key := mustKey(t, 0x55)
	initiator := New(1, key, Config{})
	responder := New(1, key, Config{})

	material, err := initiator.BeginRekey()
	if err != nil {
		t.Fatalf("BeginRekey: %v", err)
	}
	if err := responder.AcceptRekey(material); err != nil {
		t.Fatalf("responder AcceptRekey: %v", err)
	}
	if err := initiator.AcceptRekey(material); err != nil {
		t.Fatalf("initiator AcceptRekey (self-install of the same derived key): %v", err)
	}

	out, err := initiator.Send([]byte("post-rekey"), wire.FlagData)
	if err != nil {
		t.Fatalf("Send after rekey: %v", err)
	}
	raw, err := wire.Encode(out.Header, out.Payload)
	if err != nil {
		t.Fatalf("wire.Encode: %v", err)
	}
	in, _, err := responder.Receive(raw)
	if err != nil {
		t.Fatalf("Receive under new key: %v", err)
	}
	if !bytes.Equal(in.Plaintext, []byte("post-rekey")) {
		t.Fatalf("plaintext mismatch after rekey")
	}
}

func TestReceiveRejectsWrongSession(t *testing.T) {
	key := mustKey(t, 0x66)
	sender := New(1, key, Config{})
	receiver := New(2, key, Config{})

	out, err := sender.Send([]byte("x"), wire.FlagData)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	raw, err := wire.Encode(out.Header, out.Payload)
	if err != nil {
		t.Fatalf("wire.Encode: %v", err)
	}
	if _, action, err := receiver.Receive(raw); err != ErrWrongSession || action != ActionTeardown {
		t.Fatalf("got err=%v action=%v, want ErrWrongSession/ActionTeardown", err, action)
	}
}

func TestReceiveRejectsFragmentFlags(t *testing.T) {
	key := mustKey(t, 0x77)
	sender := New(1, key, Config{})
	receiver := New(1, key, Config{})

	out, err := sender.Send([]byte("x"), wire.FlagData|wire.FlagFragment)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	raw, err := wire.Encode(out.Header, out.Payload)
	if err != nil {
		t.Fatalf("wire.Encode: %v", err)
	}
	if _, _, err := receiver.Receive(raw); err != ErrFragmentationUnsupported {
		t.Fatalf("got %v, want ErrFragmentationUnsupported", err)
	}
}

func TestLifetimeExpired(t *testing.T) {
	key := mustKey(t, 0x99)
	s := New(1, key, Config{SessionLifetime: time.Millisecond})
	if s.LifetimeExpired() {
		t.Fatalf("freshly created session reports expired")
	}
	time.Sleep(5 * time.Millisecond)
	if !s.LifetimeExpired() {
		t.Fatalf("session past its configured lifetime reports not expired")
	}

	unbounded := New(1, key, Config{})
	time.Sleep(2 * time.Millisecond)
	if unbounded.LifetimeExpired() {
		t.Fatalf("zero SessionLifetime falls back to the one-hour default, so a fresh session must not be expired")
	}
}

func TestCloseZeroizesKey(t *testing.T) {
	key := mustKey(t, 0x88)
	s := New(1, key, Config{})
	s.Close()

	var zero [llpcrypto.KeySize]byte
	if s.key != zero {
		t.Fatalf("session key not zeroized after Close")
	}
	if s.State() != StateClosed {
		t.Fatalf("state = %v, want Closed", s.State())
	}
}
