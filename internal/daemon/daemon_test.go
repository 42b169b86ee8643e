package daemon

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/llpmimic/llp/internal/logging"
	"github.com/llpmimic/llp/internal/mimicry"
	"github.com/llpmimic/llp/internal/natgw"
	"github.com/llpmimic/llp/internal/session"
	"github.com/llpmimic/llp/internal/tun"
)

// fakeTUN is an in-memory tun.Device: packets queued on in are delivered to
// Read, packets given to Write are captured on out.
type fakeTUN struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
}

func newFakeTUN() *fakeTUN {
	return &fakeTUN{
		in:     make(chan []byte, 8),
		out:    make(chan []byte, 8),
		closed: make(chan struct{}),
	}
}

func (f *fakeTUN) Name() string { return "faketun" }

func (f *fakeTUN) Read(buf []byte) (int, error) {
	select {
	case p := <-f.in:
		return copy(buf, p), nil
	case <-f.closed:
		return 0, io.EOF
	}
}

func (f *fakeTUN) Write(buf []byte) (int, error) {
	cp := append([]byte(nil), buf...)
	select {
	case f.out <- cp:
	case <-f.closed:
	}
	return len(buf), nil
}

func (f *fakeTUN) SetMTU(int) error                          { return nil }
func (f *fakeTUN) AddIPAddress(net.IP, net.IPMask) error     { return nil }
func (f *fakeTUN) SetUp() error                              { return nil }
func (f *fakeTUN) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func TestSessionTableInsertRemove(t *testing.T) {
	tbl := NewSessionTable()
	sess := session.New(42, [32]byte{1, 2, 3}, session.Config{})

	if _, ok := tbl.Get(42); ok {
		t.Fatalf("session present before Insert")
	}
	tbl.Insert(sess)
	if got, ok := tbl.Get(42); !ok || got != sess {
		t.Fatalf("Get after Insert = %v, %v", got, ok)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tbl.Len())
	}
	tbl.Remove(42)
	if _, ok := tbl.Get(42); ok {
		t.Fatalf("session still present after Remove")
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len = %d, want 0", tbl.Len())
	}
}

func TestAllocateSessionIDUnique(t *testing.T) {
	tbl := NewSessionTable()
	seen := make(map[uint64]bool)
	for i := 0; i < 50; i++ {
		id, err := allocateSessionID(tbl)
		if err != nil {
			t.Fatalf("allocateSessionID: %v", err)
		}
		if id == 0 {
			t.Fatalf("allocateSessionID returned 0")
		}
		if seen[id] {
			t.Fatalf("allocateSessionID returned a duplicate: %d", id)
		}
		seen[id] = true
		tbl.Insert(session.New(id, [32]byte{}, session.Config{}))
	}
}

// TestClientServerDataRoundTrip exercises the full stack end to end: a
// Server listening on an OS-assigned loopback port, a Client dialing it via
// a static natgw.Selector, the handshake completing, and one IP packet
// flowing client TUN -> carrier -> server TUN.
func TestClientServerDataRoundTrip(t *testing.T) {
	log := logging.NopLogger()

	serverTUN := newFakeTUN()
	srv := NewServer(ServerConfig{
		Listen:           "127.0.0.1:0",
		Session:          session.Config{},
		HandshakeTimeout: 2 * time.Second,
	}, func(uint64) (tun.Device, error) { return serverTUN, nil }, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- srv.Run(ctx) }()

	var addr net.Addr
	for i := 0; i < 100; i++ {
		if addr = srv.Addr(); addr != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if addr == nil {
		t.Fatalf("server never bound a listen address")
	}

	selector := natgw.NewStatic(map[string]net.Addr{"server": addr})
	clientTUN := newFakeTUN()
	cli := NewClient(ClientConfig{
		Peer:             "server",
		Selector:         selector,
		MimicryProfile:   mimicry.ProfileVkVideo,
		Session:          session.Config{},
		HandshakeTimeout: 2 * time.Second,
	}, clientTUN, log)

	clientErrCh := make(chan error, 1)
	go func() { clientErrCh <- cli.Run(ctx) }()

	packet := bytes.Repeat([]byte{0xCD}, 64)
	select {
	case clientTUN.in <- packet:
	case <-time.After(time.Second):
		t.Fatalf("could not queue packet on client TUN")
	}

	select {
	case got := <-serverTUN.out:
		if !bytes.Equal(got, packet) {
			t.Fatalf("server received %x, want %x", got, packet)
		}
	case err := <-clientErrCh:
		t.Fatalf("client exited early: %v", err)
	case err := <-serverErrCh:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for packet to reach server TUN")
	}

	cancel()
}
