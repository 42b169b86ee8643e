package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/llpmimic/llp/internal/adminapi"
	"github.com/llpmimic/llp/internal/config"
	"github.com/llpmimic/llp/internal/daemon"
	"github.com/llpmimic/llp/internal/logging"
	"github.com/llpmimic/llp/internal/session"
	"github.com/llpmimic/llp/internal/tun"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "llp-server",
		Short:         "LLP server: accept connections and tunnel IP traffic over an HTTP-mimicking carrier",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "/etc/llp/server.yaml", "path to server config file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("llp-server %s\n", version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "llp-server:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

	var tunBaseAddr *net.IPNet
	if cfg.TUNAddress != "" {
		_, ipNet, err := net.ParseCIDR(cfg.TUNAddress)
		if err != nil {
			return fmt.Errorf("parse tun_address: %w", err)
		}
		tunBaseAddr = ipNet
	}

	// One TUN device per accepted session (spec.md §1: LLP is strictly
	// point-to-point). The device name is derived from the low byte of the
	// session id, so two concurrent sessions whose ids share that byte get
	// the same interface name.
	newTUN := func(sessionID uint64) (tun.Device, error) {
		name := fmt.Sprintf("%s%d", cfg.TUNName, sessionID&0xff)
		dev, err := tun.NewLinuxTUN(name)
		if err != nil {
			return nil, err
		}
		if tunBaseAddr != nil {
			if err := dev.AddIPAddress(tunBaseAddr.IP, tunBaseAddr.Mask); err != nil {
				dev.Close()
				return nil, err
			}
		}
		if err := dev.SetUp(); err != nil {
			dev.Close()
			return nil, err
		}
		return dev, nil
	}

	srv := daemon.NewServer(daemon.ServerConfig{
		Listen:           cfg.Listen,
		Session:          sessionConfigFrom(cfg.Session),
		HandshakeTimeout: cfg.Session.HandshakeTimeout(),
	}, newTUN, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	if cfg.Admin.Enabled {
		admin, err := adminapi.New(cfg.Admin, srv.Sessions(), log)
		if err != nil {
			return fmt.Errorf("start admin api: %w", err)
		}
		srv.SetEventSink(admin.EventSink())

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := admin.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("admin api exited", "err", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	runErr := srv.Run(ctx)
	wg.Wait()
	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("server run: %w", runErr)
	}
	return nil
}

func sessionConfigFrom(c config.SessionConfig) session.Config {
	return session.Config{
		ReplayWindowSize:     c.ReplayWindowSize,
		MaxTimestampDrift:    c.MaxTimestampDrift(),
		KeepaliveInterval:    c.KeepaliveInterval(),
		KeepaliveTimeout:     c.KeepaliveTimeout(),
		RekeyPacketThreshold: c.RekeyPacketThreshold,
		SessionLifetime:      c.SessionLifetime(),
	}
}
