package adminapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/llpmimic/llp/internal/config"
	"github.com/llpmimic/llp/internal/daemon"
	"gorm.io/gorm"
)

// Server is the local monitoring/admin HTTP API: login, session listing,
// session history, a live event websocket, and Prometheus metrics. It
// observes an internal/daemon.Server through the daemon.EventSink
// interface; it never drives the daemon.
type Server struct {
	cfg      config.AdminConfig
	db       *gorm.DB
	hub      *Hub
	sessions *daemon.SessionTable
	router   *gin.Engine
	log      *slog.Logger

	httpSrv *http.Server
}

// New builds a Server bound to sessions (the daemon's live session table)
// and seeds the single admin account from cfg if the user table is empty.
func New(cfg config.AdminConfig, sessions *daemon.SessionTable, log *slog.Logger) (*Server, error) {
	db, err := InitDB(cfg.Database)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		db:       db,
		hub:      NewHub(db, log),
		sessions: sessions,
		log:      log.With("component", "adminapi"),
	}

	if err := s.ensureAdminUser(cfg.Username, cfg.Password); err != nil {
		return nil, fmt.Errorf("adminapi: create admin user: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s.router = router
	s.setupRoutes(router)

	return s, nil
}

func (s *Server) ensureAdminUser(username, password string) error {
	var count int64
	s.db.Model(&AdminUser{}).Count(&count)
	if count > 0 {
		return nil
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.db.Create(&AdminUser{Username: username, Password: hash}).Error
}

// EventSink returns the Server's daemon.EventSink implementation, for
// wiring into daemon.NewServer.
func (s *Server) EventSink() daemon.EventSink { return s.hub }

// Run serves the admin API until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("adminapi: listen %s: %w", s.cfg.Listen, err)
	}

	s.httpSrv = &http.Server{Handler: s.router}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.Serve(ln) }()

	s.log.Info("admin api listening", "addr", ln.Addr())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
