package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/face-analysis/internal/controller"
	"github.com/example/face-analysis/internal/events"
	"github.com/example/face-analysis/internal/handlers"
	"github.com/example/face-analysis/internal/preview"
	"github.com/example/face-analysis/internal/session"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP widget host",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

// host is the widget host with the stores its routes share.
type host struct {
	server   *http.Server
	sessions *session.Store
	events   *events.Hub[controller.View]
}

func (a *app) newHost() *host {
	cfg := a.cfg

	previews := preview.NewStore(preview.DefaultPrefix)
	hub := events.NewHub[controller.View]()
	deps := a.controllerDeps(previews, hub)
	sessions := session.NewStore(func(id string) *controller.Controller {
		return controller.New(id, deps)
	}, a.logger)
	sessions.OnClose(hub.Close)

	router := handlers.NewRouter(handlers.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StaticRoot:     cfg.Server.StaticRoot,
		MaxUploadSize:  cfg.Server.MaxUploadBytes,
		Logger:         a.logger,
	})
	handlers.RegisterRoutes(router, handlers.Dependencies{
		Sessions:      sessions,
		Previews:      previews,
		Events:        hub,
		MaxUploadSize: cfg.Server.MaxUploadBytes,
		Logger:        a.logger,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Event streams only end when their watch does.
	server.RegisterOnShutdown(hub.CloseAll)

	return &host{server: server, sessions: sessions, events: hub}
}

func (a *app) serve(ctx context.Context) error {
	if !a.cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	h := a.newHost()
	defer h.sessions.CloseAll()

	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.server.Addr, err)
	}

	a.logger.Info("widget host listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("predict_endpoint", a.cfg.Predict.Endpoint),
		zap.String("tips_url", a.cfg.Tips.URL),
	)
	if err := runServer(ctx, h.server, listener, a.cfg.Server.ShutdownTimeout, a.logger); err != nil {
		a.logger.Error("server failed", zap.Error(err))
		return err
	}
	a.logger.Info("widget host stopped")
	return nil
}

// runServer serves on listener until ctx is done, then lets in-flight
// requests finish for at most shutdownTimeout.
func runServer(ctx context.Context, server *http.Server, listener net.Listener, shutdownTimeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down widget host", zap.NamedError("cause", context.Cause(ctx)))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
