package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/api"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/broadcast"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/orchestrator"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and live websocket updates",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	logger, syncLog, err := newLogger()
	if err != nil {
		return err
	}
	defer syncLog()

	gen, closeGen, err := newGenerator()
	if err != nil {
		return err
	}
	defer closeGen()

	hub := broadcast.NewHub(broadcast.WithHubLogger(logger))
	defer hub.Close()
	publishers := broadcast.Fanout{hub}

	if cfg.Broadcast.NATSURL != "" {
		np, err := broadcast.NewNATSPublisher(cfg.Broadcast.NATSURL, cfg.Broadcast.Subject)
		if err != nil {
			return err
		}
		defer np.Close()
		publishers = append(publishers, np)
		logger.Info("nats publishing enabled", zap.String("url", cfg.Broadcast.NATSURL), zap.String("subject", np.Subject()))
	}

	opts := []orchestrator.Option{orchestrator.WithLogger(logger), orchestrator.WithPublisher(publishers)}
	store, err := openJournal()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		opts = append(opts, orchestrator.WithJournal(store))
		logger.Info("turn journal enabled", zap.String("dsn", cfg.Journal.DSN))
	}

	gin.SetMode(cfg.Server.Mode)
	sessions := orchestrator.NewManager(gen, sessionConfig(), opts...)
	server := api.New(sessions,
		api.WithWebsocket(http.HandlerFunc(hub.ServeWS)),
		api.WithLogger(logger),
		api.WithAllowOrigins(cfg.Server.AllowOrigins),
	)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("controller listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("provider", cfg.Generator.Provider),
			zap.String("model", sessions.Model()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	// websocket connections are hijacked and not tracked by Shutdown
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
