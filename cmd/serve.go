package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	httptransport "github.com/porthorian/authlite/pkg/transport/http"
	"github.com/spf13/cobra"
)

type serveConfig struct {
	Address         string
	SubjectHeader   string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

func init() {
	rootCmd.AddCommand(newServeCommand())
}

func newServeCommand() *cobra.Command {
	cfg := serveConfig{
		Address:         ":8080",
		SubjectHeader:   httptransport.DefaultConfig().SubjectHeader,
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient()
			if err != nil {
				return err
			}
			defer client.Close()

			logger := newLogger().WithName("http")
			middleware := httptransport.DefaultConfig()
			middleware.SubjectHeader = cfg.SubjectHeader
			middleware.Logger = logger

			server := &http.Server{
				Addr: cfg.Address,
				Handler: httptransport.NewRouter(client, httptransport.RouterOptions{
					Middleware: middleware,
					Timeout:    cfg.RequestTimeout,
				}),
				ReadHeaderTimeout: 10 * time.Second,
			}

			return runServer(cmd.Context(), server, cfg.ShutdownTimeout, func() {
				logger.Info("listening", "address", cfg.Address)
			})
		},
	}

	serveCmd.Flags().StringVar(&cfg.Address, "listen", cfg.Address, "Address to listen on.")
	serveCmd.Flags().StringVar(&cfg.SubjectHeader, "subject-header", cfg.SubjectHeader, "Header carrying the authenticated user id.")
	serveCmd.Flags().DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Per-request timeout.")
	serveCmd.Flags().DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Grace period for in-flight requests on shutdown.")
	return serveCmd
}

// runServer serves until ctx is done, then drains in-flight requests.
func runServer(ctx context.Context, server *http.Server, shutdownTimeout time.Duration, started func()) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	if started != nil {
		started()
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
