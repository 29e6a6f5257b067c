package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/sync/errgroup"

	"github.com/apparentlymart/ocipfs-registry/internal/config"
	"github.com/apparentlymart/ocipfs-registry/internal/logging"
	"github.com/apparentlymart/ocipfs-registry/internal/resolver"
)

// Run serves the registry API, and the metrics endpoint if configured, until
// the given context is cancelled or one of the listeners fails.
func Run(ctx context.Context, config *config.Config, res *resolver.Resolver) error {
	logger := logging.ContextLogger(ctx)

	httpServer := &http.Server{
		Addr:    config.Server.ListenAddr,
		Handler: NewHandler(res),
		BaseContext: func(l net.Listener) context.Context {
			// In-flight requests are drained by Shutdown rather than
			// being cancelled along with ctx.
			return context.WithoutCancel(ctx)
		},
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			connLogger := logger.With("remote_addr", c.RemoteAddr().String())
			return logging.ContextWithLogger(ctx, connLogger)
		},
	}

	if config.Server.TLS != nil {
		httpServer.TLSConfig = tlsConfig(config.Server.TLS)
		logger.Info("HTTPS server listening", "addr", config.Server.ListenAddr)
	} else {
		logger.Info("HTTP server listening", "addr", config.Server.ListenAddr)
	}

	var metricsServer *http.Server
	if config.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    config.Server.MetricsAddr,
			Handler: mux,
		}
		logger.Info("metrics server listening", "addr", config.Server.MetricsAddr)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		if httpServer.TLSConfig != nil {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		return ignoreServerClosed(err)
	})
	if metricsServer != nil {
		eg.Go(func() error {
			return ignoreServerClosed(metricsServer.ListenAndServe())
		})
	}
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		if metricsServer != nil {
			err = errors.Join(err, metricsServer.Shutdown(shutdownCtx))
		}
		return err
	})
	return eg.Wait()
}

func tlsConfig(cfg *config.TLSConfig) *tls.Config {
	if cfg.Certificate != nil {
		return &tls.Config{
			Certificates: []tls.Certificate{*cfg.Certificate},
		}
	}

	m := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cfg.ACMEDomains...),
	}
	if cfg.ACMECacheDir != "" {
		m.Cache = autocert.DirCache(cfg.ACMECacheDir)
	}
	return m.TLSConfig()
}

func ignoreServerClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
