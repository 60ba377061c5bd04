package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/iliamunaev/tap-checkout/internal/app"
	"github.com/iliamunaev/tap-checkout/internal/config"
	httptransport "github.com/iliamunaev/tap-checkout/internal/transport/http"
)

func serveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Serve the checkout HTTP API",
		PreRunE: c.load,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer c.sync()
			return runServe(cmd.Context(), c.cfg, c.log)
		},
	}
}

// newServer builds the HTTP server. The write timeout leaves room for a
// checkout that runs for the full request timeout.
func newServer(cfg config.ServerConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// listen opens the listener, capped at maxConns concurrent connections when
// maxConns is positive.
func listen(addr string, maxConns int) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return ln, nil
}

// runServe starts the session, connects the reader in the background and
// serves until ctx is done.
func runServe(ctx context.Context, cfg *config.Config, log *zap.Logger, opts ...app.Option) error {
	a, err := app.New(ctx, cfg, log, opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	h := httptransport.New(a.Checkout, a.Connection, a.Status, a.RequestTimeout, log)
	srv := newServer(cfg.Server, h.Routes())

	ln, err := listen(cfg.Server.Addr, cfg.Server.MaxConns)
	if err != nil {
		return err
	}

	a.Connection.EnsureConnected()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", ln.Addr().String()), zap.Int("max_conns", cfg.Server.MaxConns))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}
