// Command raidad runs a single RAIDA node: the page cache, free-serial
// bitmap, command dispatcher, Merkle integrity tree, ticket pool, and
// healing subsystem, over both the binary wire protocol (spec.md §4.D) and
// a localhost admin HTTP surface (spec.md §6).
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/raida-consortium/raida-server/internal/commands"
	"github.com/raida-consortium/raida-server/internal/config"
	"github.com/raida-consortium/raida-server/internal/freebitmap"
	"github.com/raida-consortium/raida-server/internal/healing"
	"github.com/raida-consortium/raida-server/internal/merkle"
	"github.com/raida-consortium/raida-server/internal/pagecache"
	"github.com/raida-consortium/raida-server/internal/peer"
	"github.com/raida-consortium/raida-server/internal/server"
	"github.com/raida-consortium/raida-server/internal/ticketpool"
	"github.com/raida-consortium/raida-server/internal/util"
)

func main() {
	rootCmd := &cobra.Command{Use: "raidad"}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(keygenCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the node, serving the wire protocol and admin HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configDir)
		},
	}
	cmd.Flags().StringVar(&configDir, "config-dir", ".", "directory containing config.toml")
	return cmd
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "print a fresh proxy_key/admin_key hex pair for config.toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			var proxyKey, adminKey [16]byte
			if err := util.RandomBytes(proxyKey[:], 16); err != nil {
				return fmt.Errorf("raidad: keygen: %w", err)
			}
			if err := util.RandomBytes(adminKey[:], 16); err != nil {
				return fmt.Errorf("raidad: keygen: %w", err)
			}
			fmt.Printf("proxy_key = \"%s\"\n", hex.EncodeToString(proxyKey[:]))
			fmt.Printf("admin_key = \"%s\"\n", hex.EncodeToString(adminKey[:]))
			return nil
		},
	}
}

func runServe(configDir string) error {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("raidad: %w", err)
	}

	bitmap := freebitmap.New()
	cache, err := pagecache.New(configDir, bitmap, cfg.BackupFreqDuration(), log)
	if err != nil {
		return fmt.Errorf("raidad: page cache: %w", err)
	}

	store := &commands.Store{
		Pages:        cache,
		Bitmap:       bitmap,
		RaidaID:      cfg.Server.RaidaID,
		Lockers:      commands.NewLockerIndex(),
		TradeLockers: commands.NewLockerIndex(),
	}

	merkleCache := merkle.New(configDir, cfg.IntegrityFreqDuration(), func() bool { return cfg.Server.SynchronizationEnabled }, log)
	tickets := ticketpool.New()

	dialer := peer.NewDialer(5*time.Second, 30*time.Second)
	pool := peer.NewPool(dialer, 4, 2*time.Minute)
	defer pool.Close()
	peerClient := peer.NewClient(pool, cfg.Server.CoinID, cfg.Server.RaidaID, log)

	var peerAddrs [healing.NumPeers]string
	for i, addr := range cfg.Server.RaidaServers {
		if i == int(cfg.Server.RaidaID) {
			continue // never dial ourselves
		}
		peerAddrs[i] = addr
	}

	healer := &healing.Healer{
		Store:         store,
		Tickets:       tickets,
		PeerClient:    peerClient,
		PeerAddresses: peerAddrs,
		RaidaID:       cfg.Server.RaidaID,
		Log:           log,
	}

	metrics := server.NewMetrics()

	dispatcher := &server.Dispatcher{
		Store:   store,
		Healer:  healer,
		Merkle:  merkleCache,
		Tickets: tickets,
		Log:     log,
		Metrics: metrics,
	}

	cache.StartPersistence()
	merkleCache.StartBackgroundRebuild()
	defer cache.Shutdown()
	defer merkleCache.Shutdown()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := server.NewListener(addr, dispatcher, metrics, log, server.CoinKeyLookup(store))
	if err != nil {
		return fmt.Errorf("raidad: listen: %w", err)
	}

	adminAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.AdminPort)
	admin := server.NewAdminServer(adminAddr, cfg.AdminKey, metrics, func() server.StatsSnapshot {
		return server.StatsSnapshot{
			ResidentPages: cache.ResidentCount(),
			TicketsInUse:  tickets.InUseCount(),
		}
	}, log)
	admin.Start()

	ctx, cancel := signalContext()
	defer cancel()

	log.WithFields(logrus.Fields{"raida_id": cfg.Server.RaidaID, "port": cfg.Server.Port}).Info("raidad: serving")

	go reportGauges(ctx, metrics, cache, tickets)

	serveErr := make(chan error, 1)
	go func() { serveErr <- ln.Serve(ctx) }()

	select {
	case <-ctx.Done():
		log.Info("raidad: shutdown signal received, draining connections")
	case err := <-serveErr:
		if err != nil {
			log.WithError(err).Error("raidad: listener exited")
		}
	}

	ln.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("raidad: admin server shutdown")
	}
	return nil
}

// reportGauges keeps the resident-pages/tickets-in-use gauges current for
// /metrics scrapers; /stats computes the same numbers fresh on each request.
func reportGauges(ctx context.Context, metrics *server.Metrics, cache *pagecache.Cache, tickets *ticketpool.Pool) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetResidentPages(cache.ResidentCount())
			metrics.SetTicketsInUse(tickets.InUseCount())
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
