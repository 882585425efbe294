// Package probes serves the liveness and readiness endpoints. The
// controller-runtime manager normally hosts these, but this program runs
// without one.
package probes

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
)

const (
	HealthzPath  = "/healthz"
	ReadyzPath   = "/readyz"
	shutdownWait = 5 * time.Second
)

// Disabled is the bind address that turns a server off.
const Disabled = "0"

// HealthHandler serves /healthz (always ok while the process runs) and
// /readyz backed by the given checks.
func HealthHandler(readyz map[string]healthz.Checker) http.Handler {
	mux := http.NewServeMux()
	live := &healthz.Handler{Checks: map[string]healthz.Checker{"ping": healthz.Ping}}
	ready := &healthz.Handler{Checks: readyz}

	mux.Handle(HealthzPath, http.StripPrefix(HealthzPath, live))
	mux.Handle(HealthzPath+"/", http.StripPrefix(HealthzPath, live))
	mux.Handle(ReadyzPath, http.StripPrefix(ReadyzPath, ready))
	mux.Handle(ReadyzPath+"/", http.StripPrefix(ReadyzPath, ready))
	return mux
}

// Serve listens on addr and serves handler until ctx is cancelled. It
// returns nil immediately when addr is Disabled or empty.
func Serve(ctx context.Context, log logr.Logger, addr string, handler http.Handler) error {
	if addr == "" || addr == Disabled {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return serveListener(ctx, log, ln, handler)
}

func serveListener(ctx context.Context, log logr.Logger, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", ln.Addr(), err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown %s: %w", ln.Addr(), err)
	}
	return nil
}
