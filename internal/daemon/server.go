package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/llpmimic/llp/internal/carrier"
	"github.com/llpmimic/llp/internal/handshake"
	"github.com/llpmimic/llp/internal/mimicry"
	"github.com/llpmimic/llp/internal/session"
	"github.com/llpmimic/llp/internal/tun"
)

// ServerConfig is the subset of a server's configuration the orchestration
// layer needs.
type ServerConfig struct {
	Listen           string
	Session          session.Config
	HandshakeTimeout time.Duration
}

// TUNFactory creates a fresh TUN device for a newly-established session.
// LLP is a point-to-point protocol (spec.md §1): each accepted connection
// is its own link and gets its own device, rather than sharing one TUN
// across sessions and inventing a per-destination routing table spec.md
// never specifies.
type TUNFactory func(sessionID uint64) (tun.Device, error)

// EventSink receives session lifecycle notifications. It exists so an
// external observer (the admin API's audit log and live event stream) can
// learn about sessions without the daemon package importing anything about
// HTTP, databases, or websockets. A nil EventSink is valid and means no one
// is watching.
type EventSink interface {
	SessionEstablished(id uint64, remoteAddr, profile string)
	SessionClosed(id uint64, reason string, sent, dropped uint64)
	HandshakeCompleted(success bool)
}

// Server accepts inbound carrier connections, runs the server side of the
// handshake on each, and services the resulting session concurrently with
// every other session it hosts.
type Server struct {
	cfg    ServerConfig
	table  *SessionTable
	newTUN TUNFactory
	events EventSink
	log    *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer constructs a Server. newTUN is called once per accepted
// connection, after that connection's handshake succeeds. events may be
// nil.
func NewServer(cfg ServerConfig, newTUN TUNFactory, events EventSink, log *slog.Logger) *Server {
	return &Server{cfg: cfg, table: NewSessionTable(), newTUN: newTUN, events: events, log: log}
}

// Sessions returns the server's live session table, e.g. for an admin API
// to report on.
func (s *Server) Sessions() *SessionTable { return s.table }

// SetEventSink attaches (or replaces) the server's EventSink after
// construction. Useful when the sink itself needs the server's session
// table to build (e.g. the admin API), which would otherwise create a
// construction-order cycle with NewServer. Call this before Run; it is not
// safe to call concurrently with an active session being established.
func (s *Server) SetEventSink(sink EventSink) {
	s.events = sink
}

// Addr returns the address Run is listening on, or nil before Run's
// listener is established. Useful when cfg.Listen uses an OS-assigned port
// (":0") and the caller needs to learn the real bound address.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run listens on cfg.Listen and services connections until ctx is
// canceled. Each connection's handshake and session run in their own
// goroutine, so one slow or malicious peer cannot stall another.
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("daemon: listen %s: %w", s.cfg.Listen, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("daemon: accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, carrier.NewConn(raw))
		}()
	}
}

// handleConn runs the server side of the handshake on a freshly-accepted
// connection and, on success, inserts its session into the table and
// services it until it ends.
func (s *Server) handleConn(ctx context.Context, conn *carrier.Conn) {
	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	result, err := handshake.RunServer(hctx, conn, func() uint64 {
		id, allocErr := allocateSessionID(s.table)
		if allocErr != nil {
			s.log.Error("allocate session id", "err", allocErr)
		}
		return id
	})
	cancel()
	if err != nil {
		s.log.Debug("handshake failed", "remote", conn.RemoteAddr(), "err", err)
		if s.events != nil {
			s.events.HandshakeCompleted(false)
		}
		conn.Close()
		return
	}
	if s.events != nil {
		s.events.HandshakeCompleted(true)
	}

	sessCfg := s.cfg.Session
	sessCfg.ProfileID = result.ProfileID
	sess := session.New(result.SessionID, result.SessionKey, sessCfg)
	result.Zeroize()

	s.table.Insert(sess)
	defer s.table.Remove(sess.ID())

	dev, err := s.newTUN(sess.ID())
	if err != nil {
		s.log.Error("create tun device", "session_id", fmt.Sprintf("%016x", sess.ID()), "err", err)
		sess.Close()
		conn.Close()
		return
	}
	defer dev.Close()

	wrap := mimicry.NewWrapper(mimicry.Profile(sessCfg.ProfileID))

	s.log.Info("session established",
		"session_id", fmt.Sprintf("%016x", sess.ID()),
		"remote", conn.RemoteAddr(),
		"profile", wrap.Profile(),
	)
	if s.events != nil {
		s.events.SessionEstablished(sess.ID(), conn.RemoteAddr().String(), wrap.Profile().String())
	}

	runErr := runSession(ctx, conn, sess, wrap, dev, s.log)
	reason := "closed"
	if runErr != nil {
		reason = runErr.Error()
		s.log.Warn("session ended", "session_id", fmt.Sprintf("%016x", sess.ID()), "err", runErr)
	}
	if s.events != nil {
		s.events.SessionClosed(sess.ID(), reason, sess.SentCount(), sess.DroppedCount())
	}
}
