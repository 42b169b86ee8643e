package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/llpmimic/llp/internal/carrier"
	"github.com/llpmimic/llp/internal/mimicry"
	"github.com/llpmimic/llp/internal/session"
	"github.com/llpmimic/llp/internal/tun"
	"github.com/llpmimic/llp/internal/wire"
)

// maxIPPacket bounds a single TUN read; large enough for any realistic
// tunnel MTU without risking truncation.
const maxIPPacket = 65535

// maintenanceTick is how often the maintenance loop checks keepalive, idle
// timeout and session lifetime.
const maintenanceTick = 5 * time.Second

// runSession drives one session's lifetime: a TUN-to-carrier loop, a
// carrier-to-TUN loop, and a maintenance loop for keepalive, idle timeout
// and session lifetime (rekey is triggered from the TUN-to-carrier loop) —
// the two-cooperative-tasks-per-session shape of
// spec.md §5, plus the maintenance task that shape's "one task selecting
// over both directions" variant would fold in. It blocks until the session
// ends for any reason: a fatal send/receive error, the carrier closing, the
// session going idle past its timeout, its lifetime expiring, or ctx being
// canceled.
func runSession(ctx context.Context, conn *carrier.Conn, sess *session.Session, wrap *mimicry.Wrapper, dev tun.Device, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		if err == nil {
			return
		}
		errOnce.Do(func() { firstErr = err })
		cancel()
	}

	wg.Add(3)
	go func() { defer wg.Done(); fail(tunToCarrier(ctx, dev, conn, sess, wrap, log)) }()
	go func() { defer wg.Done(); fail(carrierToTun(ctx, conn, dev, sess, wrap, log)) }()
	go func() { defer wg.Done(); fail(maintain(ctx, conn, sess, wrap, log)) }()
	wg.Wait()

	sess.Close()
	conn.Close()

	if firstErr != nil && !errors.Is(firstErr, context.Canceled) {
		return firstErr
	}
	return nil
}

// sendRecord encrypts payload under sess, encodes it as a wire record,
// wraps it in the bound mimicry profile's envelope, and writes it as one
// carrier frame.
func sendRecord(conn *carrier.Conn, sess *session.Session, wrap *mimicry.Wrapper, payload []byte, flags wire.Flags) error {
	out, err := sess.Send(payload, flags)
	if err != nil {
		return err
	}
	raw, err := wire.Encode(out.Header, out.Payload)
	if err != nil {
		return fmt.Errorf("daemon: encode record: %w", err)
	}
	envelope, err := wrap.Wrap(raw)
	if err != nil {
		return fmt.Errorf("daemon: wrap envelope: %w", err)
	}
	return conn.WriteFrame(envelope)
}

// performRekey runs the in-band rekey exchange described in spec.md §4.4:
// derive fresh material under the still-current key, send it as a
// CONTROL|REKEY record, then install the same derived key locally. Both
// peers end up at the identical new key without any additional round trip,
// since the derivation depends only on the (already-shared) old key and the
// nonce carried in the record just sent.
func performRekey(conn *carrier.Conn, sess *session.Session, wrap *mimicry.Wrapper) error {
	material, err := sess.BeginRekey()
	if err != nil {
		return fmt.Errorf("daemon: begin rekey: %w", err)
	}
	if err := sendRecord(conn, sess, wrap, material.Encode(), wire.FlagControl|wire.FlagRekey); err != nil {
		return fmt.Errorf("daemon: send rekey record: %w", err)
	}
	if err := sess.AcceptRekey(material); err != nil {
		return fmt.Errorf("daemon: install rekeyed key: %w", err)
	}
	return nil
}

// tunToCarrier reads IP packets off dev and emits them as DATA records.
// Crossing the rekey threshold is handled synchronously, in this same
// goroutine, right after the packet that triggered it: since this is the
// only goroutine that calls Send with FlagData, there is no concurrent
// sender to race against the pending state transition.
func tunToCarrier(ctx context.Context, dev tun.Device, conn *carrier.Conn, sess *session.Session, wrap *mimicry.Wrapper, log *slog.Logger) error {
	buf := make([]byte, maxIPPacket)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := dev.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("daemon: tun read: %w", err)
		}

		packet := append([]byte(nil), buf[:n]...)
		if err := sendRecord(conn, sess, wrap, packet, wire.FlagData); err != nil {
			if errors.Is(err, session.ErrNotEstablished) || errors.Is(err, session.ErrCounterExhausted) {
				return fmt.Errorf("daemon: send data record: %w", err)
			}
			log.Warn("dropped outbound packet", "err", err)
			continue
		}

		if sess.NeedsRekey() {
			if err := performRekey(conn, sess, wrap); err != nil {
				return err
			}
		}
	}
}

// carrierToTun reads carrier frames, unwraps and decrypts them, and
// dispatches on the record's flags: DATA is delivered to the TUN device,
// REKEY installs the peer-initiated key rotation, KEEPALIVE is a no-op
// beyond the liveness timestamp Receive already recorded.
func carrierToTun(ctx context.Context, conn *carrier.Conn, dev tun.Device, sess *session.Session, wrap *mimicry.Wrapper, log *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		envelope, err := conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("daemon: carrier read: %w", err)
		}

		raw, err := wrap.Unwrap(envelope)
		if err != nil {
			log.Debug("dropped malformed envelope", "err", err)
			continue
		}

		in, action, err := sess.Receive(raw)
		if err != nil {
			if action == session.ActionTeardown {
				return fmt.Errorf("daemon: %w", err)
			}
			log.Debug("dropped inbound record", "err", err)
			continue
		}

		switch {
		case in.Header.Flags.Has(wire.FlagRekey):
			material, err := session.DecodeRekeyMaterial(in.Plaintext)
			if err != nil {
				log.Warn("malformed rekey material", "err", err)
				continue
			}
			if err := sess.AcceptRekey(material); err != nil {
				return fmt.Errorf("daemon: accept rekey: %w", err)
			}
		case in.Header.Flags.Has(wire.FlagKeepalive):
			// last_rx_time already updated by Receive; nothing else to do.
		case in.Header.Flags.Has(wire.FlagData):
			if _, err := dev.Write(in.Plaintext); err != nil {
				return fmt.Errorf("daemon: tun write: %w", err)
			}
		}
	}
}

// maintain periodically checks keepalive, idle timeout and session lifetime
// and emits keepalive records as needed.
func maintain(ctx context.Context, conn *carrier.Conn, sess *session.Session, wrap *mimicry.Wrapper, log *slog.Logger) error {
	ticker := time.NewTicker(maintenanceTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if sess.IdleTimedOut() {
				return errors.New("daemon: session idle timeout")
			}
			if sess.LifetimeExpired() {
				return errors.New("daemon: session lifetime expired")
			}
			if sess.NeedsKeepalive() {
				if err := sendRecord(conn, sess, wrap, nil, wire.FlagKeepalive); err != nil {
					return fmt.Errorf("daemon: send keepalive: %w", err)
				}
			}
		}
	}
}
