// cmd/keeper launches one keeper: the clock broadcaster (spec.md §4.J), the
// migrator (§4.K), and the keeper peer RPC (§4.L) all run in the same
// process, since a keeper is a single coordinator role, not three.
//
// Example, three keepers watching five backends:
//
//	./keeper --self 0 --keepers :9300,:9301,:9302 \
//	         --backs :9000,:9001,:9002,:9003,:9004 \
//	         --addr :9300
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cse223b/tribstore/internal/bin"
	"github.com/cse223b/tribstore/internal/config"
	"github.com/cse223b/tribstore/internal/keeper"
	"github.com/cse223b/tribstore/internal/lock"
	"github.com/cse223b/tribstore/internal/logging"
	"github.com/cse223b/tribstore/internal/storageclient"
)

func main() {
	var (
		addr        string
		self        int
		keepersCSV  string
		backsCSV    string
		configPath  string
	)

	root := &cobra.Command{
		Use:   "keeper",
		Short: "Run one keeper (clock broadcast + migration + peer RPC)",
		RunE: func(cmd *cobra.Command, args []string) error {
			keepers := splitCSV(keepersCSV)
			backs := splitCSV(backsCSV)
			return run(addr, self, keepers, backs, configPath)
		},
	}
	root.Flags().StringVar(&addr, "addr", ":9300", "this keeper's listen address")
	root.Flags().IntVar(&self, "self", 0, "this keeper's index into --keepers")
	root.Flags().StringVar(&keepersCSV, "keepers", ":9300", "comma-separated keeper addresses")
	root.Flags().StringVar(&backsCSV, "backs", ":9000,:9001,:9002,:9003,:9004", "comma-separated backend addresses")
	root.Flags().StringVar(&configPath, "config", "config.env", "path to config.env")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func run(addr string, self int, keepers, backs []string, configPath string) error {
	log := logging.New("keeper", addr)

	lockCfg := config.LoadLock(configPath)
	lockAddrs := lockCfg.Addresses("127.0.0.1")

	cache := storageclient.NewCache(0)
	factory := &storageclient.Factory{Cache: cache}

	lockClient := lock.NewClient(lockAddrs, true)
	dir := bin.NewDirectory(backs, factory, lockClient, config.DefaultScanInterval)

	broadcaster := keeper.NewBroadcaster(keepers, self, backs, cache, config.DefaultBroadcastClockInterval, log)
	migrator := keeper.NewMigrator(keepers, self, backs, dir, lockClient, cache, config.DefaultMigrationInterval, log)

	srv := keeper.NewServer(log)
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go broadcaster.Run(ctx)
	go migrator.Run(ctx)

	go func() {
		log.Info().Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()
	shCtx, shCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shCancel()
	return httpSrv.Shutdown(shCtx)
}
