// cmd/lockserver launches one shard of the sharded lock fleet (spec.md
// §4.E). Shard addresses are LOCK_SERVERS_STARTING_PORT + i; each shard is
// its own process.
//
// Example:
//
//	./lockserver --addr :9100
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cse223b/tribstore/internal/lock"
	"github.com/cse223b/tribstore/internal/logging"
)

func main() {
	var addr string

	root := &cobra.Command{
		Use:   "lockserver",
		Short: "Run a single lock-service shard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(addr)
		},
	}
	root.Flags().StringVar(&addr, "addr", ":9100", "listen address (host:port)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(addr string) error {
	log := logging.New("lockserver", addr)

	srv := lock.NewServer(log)
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

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
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}
