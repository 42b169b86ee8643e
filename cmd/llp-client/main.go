package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/llpmimic/llp/internal/config"
	"github.com/llpmimic/llp/internal/daemon"
	"github.com/llpmimic/llp/internal/logging"
	"github.com/llpmimic/llp/internal/mimicry"
	"github.com/llpmimic/llp/internal/natgw"
	"github.com/llpmimic/llp/internal/session"
	"github.com/llpmimic/llp/internal/tun"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "llp-client",
		Short:         "LLP client: dial a server and tunnel IP traffic over an HTTP-mimicking carrier",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "/etc/llp/client.yaml", "path to client config file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the client version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("llp-client %s\n", version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "llp-client:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadClientConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

	profile, err := mimicry.ParseProfile(cfg.MimicryProfile)
	if err != nil {
		return fmt.Errorf("mimicry profile: %w", err)
	}

	dev, err := tun.NewLinuxTUN(cfg.TUNName)
	if err != nil {
		return fmt.Errorf("create tun device: %w", err)
	}
	defer dev.Close()

	if cfg.TUNAddress != "" {
		ip, ipNet, err := net.ParseCIDR(cfg.TUNAddress)
		if err != nil {
			return fmt.Errorf("parse tun_address: %w", err)
		}
		if err := dev.AddIPAddress(ip, ipNet.Mask); err != nil {
			return fmt.Errorf("assign tun address: %w", err)
		}
	}
	if err := dev.SetUp(); err != nil {
		return fmt.Errorf("bring up tun device: %w", err)
	}

	serverAddr, err := net.ResolveTCPAddr("tcp", cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("resolve server_addr: %w", err)
	}
	selector := natgw.NewStatic(map[string]net.Addr{"server": serverAddr})

	cli := daemon.NewClient(daemon.ClientConfig{
		Peer:             "server",
		Selector:         selector,
		MimicryProfile:   profile,
		Session:          sessionConfigFrom(cfg.Session),
		HandshakeTimeout: cfg.Session.HandshakeTimeout(),
	}, dev, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := cli.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("client run: %w", err)
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
