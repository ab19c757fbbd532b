// Command balance-relay serves the live-voice relay endpoint. It bridges
// websocket clients speaking the balance live protocol onto the Gemini live
// API, keeping the provider key server-side.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/balanceai/balance/internal/dotenv"
	"github.com/balanceai/balance/pkg/oracle/gemini"
)

func main() {
	if err := dotenv.LoadDefault(); err != nil {
		fmt.Fprintln(os.Stderr, "balance-relay:", err)
		os.Exit(1)
	}

	var (
		addr  = flag.String("addr", ":8787", "listen address")
		debug = flag.Bool("debug", false, "verbose logging")
	)
	flag.Parse()

	if err := run(*addr, *debug); err != nil {
		fmt.Fprintln(os.Stderr, "balance-relay:", err)
		os.Exit(1)
	}
}

func run(addr string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := gemini.New(ctx, gemini.Config{
		APIKey: os.Getenv("GEMINI_API_KEY"),
		Logger: log,
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/live", newRelayServer(client, log).handleLive)

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		log.Info("relay listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
