package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and worker pool",
		Long: `Starts the clone API. Submitted runs are queued and executed by the
worker pool; SIGINT or SIGTERM drains in-flight runs and shuts down.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := a.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	port := a.Config.Server.Port
	// Cloud Run injects PORT.
	if env := os.Getenv("PORT"); env != "" {
		if p, perr := strconv.Atoi(env); perr == nil && p > 0 {
			port = p
		}
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           a.Server().Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		logger.Info("dispatcher started", zap.Int("workers", a.Config.Queue.Workers))
		a.Dispatcher.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	a.Queue.Close()
	<-dispatchDone
	logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
