package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/reflection"

	"github.com/glinharesb/sekeys/internal/audit"
	"github.com/glinharesb/sekeys/internal/config"
	"github.com/glinharesb/sekeys/internal/crypto"
	"github.com/glinharesb/sekeys/internal/hsm"
	"github.com/glinharesb/sekeys/internal/interceptor"
	"github.com/glinharesb/sekeys/internal/keystore"
	"github.com/glinharesb/sekeys/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	auditLogger := audit.NewLogger(audit.Config{BufferSize: cfg.AuditBuffer, Out: os.Stdout, Logger: logger})

	transport, closer, err := openTransport(cfg, logger)
	if err != nil {
		slog.Error("open transport", "transport", cfg.Transport, "error", err)
		os.Exit(1)
	}
	defer closer.Close()

	var opts []grpc.ServerOption
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			slog.Error("load tls", "error", err)
			os.Exit(1)
		}
		opts = append(opts, grpc.Creds(creds))
	}
	opts = append(opts,
		grpc.ChainUnaryInterceptor(
			interceptor.RecoveryUnary(logger),
			interceptor.LoggingUnary(logger),
			interceptor.MetricsUnary(),
			interceptor.RateLimitUnary(cfg.RateLimitRPS),
			interceptor.AuthUnary(cfg.AuthToken),
		),
		grpc.ChainStreamInterceptor(
			interceptor.RecoveryStream(logger),
			interceptor.LoggingStream(logger),
			interceptor.MetricsStream(),
			interceptor.RateLimitStream(cfg.RateLimitRPS),
			interceptor.AuthStream(cfg.AuthToken),
		),
	)
	srv := grpc.NewServer(opts...)

	registry := server.NewRegistry(transport, logger)
	if _, err := registry.Resume(context.Background()); err != nil {
		slog.Error("resume stored keys", "error", err)
		os.Exit(1)
	}
	server.NewServices(registry, auditLogger).Register(srv)
	reflection.Register(srv)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		slog.Error("listen", "error", err)
		os.Exit(1)
	}

	admin := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           server.NewAdminRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("server starting", "addr", cfg.GRPCAddr, "transport", cfg.Transport)
		if err := srv.Serve(lis); err != nil {
			slog.Error("serve", "error", err)
		}
	}()
	go func() {
		slog.Info("admin server starting", "addr", cfg.AdminAddr)
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin serve", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		slog.Warn("admin shutdown", "error", err)
	}

	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("shutdown complete")
	case <-shutdownCtx.Done():
		slog.Warn("graceful shutdown timed out, forcing stop")
		srv.Stop()
		<-done
	}
	auditLogger.Close()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openTransport builds the element transport named by cfg.Transport.
func openTransport(cfg config.Config, logger *slog.Logger) (hsm.Transport, io.Closer, error) {
	switch cfg.Transport {
	case config.TransportPKCS11:
		p, err := hsm.NewPKCS11(hsm.PKCS11Config{
			ModulePath: cfg.PKCS11.Library,
			TokenLabel: cfg.PKCS11.Token,
			PIN:        cfg.PKCS11PIN(),
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil

	case config.TransportSoftware:
		var store keystore.Store
		if cfg.DataDir != "" {
			sealKey, err := crypto.DeriveSealKey([]byte(cfg.SealSecret))
			if err != nil {
				return nil, nil, err
			}
			path := filepath.Join(cfg.DataDir, "slots.json")
			ps, err := keystore.NewPersistentStore(path, sealKey, logger)
			if err != nil {
				return nil, nil, fmt.Errorf("persistent store: %w", err)
			}
			store = ps
			slog.Info("using persistent store", "path", path)
		} else {
			store = keystore.NewMemoryStore()
			slog.Info("using in-memory store")
		}
		h, err := hsm.NewSoftwareHSM(store, hsm.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return h, nopCloser{}, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
