package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/llpmimic/llp/internal/carrier"
	"github.com/llpmimic/llp/internal/handshake"
	"github.com/llpmimic/llp/internal/mimicry"
	"github.com/llpmimic/llp/internal/natgw"
	"github.com/llpmimic/llp/internal/session"
	"github.com/llpmimic/llp/internal/tun"
)

// ClientConfig is the subset of a client's configuration the orchestration
// layer needs to establish and run one connection.
type ClientConfig struct {
	// Peer is the identifier passed to Selector.Resolve to find the dial
	// address — the destination-selection function spec.md §1 models NAT
	// gateway routing as.
	Peer     string
	Selector natgw.Selector

	MimicryProfile   mimicry.Profile
	Session          session.Config
	HandshakeTimeout time.Duration
}

// Client drives one outbound LLP connection: resolve the peer, run the
// client side of the handshake, then service the resulting session.
type Client struct {
	cfg ClientConfig
	dev tun.Device
	log *slog.Logger
}

// NewClient binds a Client to the TUN device it will tunnel IP packets
// through.
func NewClient(cfg ClientConfig, dev tun.Device, log *slog.Logger) *Client {
	return &Client{cfg: cfg, dev: dev, log: log}
}

// Run dials the peer, completes the handshake, and services the resulting
// session until ctx is canceled or the connection ends. Run does not retry:
// per spec.md §4.3's failure semantics, a failed handshake or a torn-down
// session means the caller opens a fresh connection if it wants another
// attempt.
func (c *Client) Run(ctx context.Context) error {
	addr, err := c.cfg.Selector.Resolve(c.cfg.Peer)
	if err != nil {
		return fmt.Errorf("daemon: resolve peer %q: %w", c.cfg.Peer, err)
	}

	conn, err := carrier.Dial(ctx, addr.String(), c.cfg.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("daemon: dial %s: %w", addr, err)
	}

	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	result, err := handshake.RunClient(hctx, conn, uint16(c.cfg.MimicryProfile))
	cancel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("daemon: handshake: %w", err)
	}

	sessCfg := c.cfg.Session
	sessCfg.ProfileID = uint16(c.cfg.MimicryProfile)
	sess := session.New(result.SessionID, result.SessionKey, sessCfg)
	result.Zeroize()

	wrap := mimicry.NewWrapper(c.cfg.MimicryProfile)

	c.log.Info("session established",
		"session_id", fmt.Sprintf("%016x", sess.ID()),
		"peer", c.cfg.Peer,
		"profile", wrap.Profile(),
	)

	return runSession(ctx, conn, sess, wrap, c.dev, c.log)
}
