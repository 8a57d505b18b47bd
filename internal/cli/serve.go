package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flulink/engine/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := server.New(rt.router,
		server.WithLogger(rt.logger.Named("http")),
		server.WithGatherer(rt.registry),
	)
	addr := rt.cfg.ListenAddr()
	users := "-"
	if rt.store != nil {
		n, err := rt.store.CountUsers(cmd.Context())
		if err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		users = strconv.Itoa(n)
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "flulink serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  index: %s (%s), %s users\n", rt.cfg.Index.Backend, rt.location, users)
		fmt.Fprintf(os.Stderr, "  embedder: %s\n", rt.engine.Content.Model())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-done:
	}
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
