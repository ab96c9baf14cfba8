package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

func main() {
	if err := newRootCmd(buildApp).Execute(); err != nil {
		log.Printf("bustime: %v", err)
		os.Exit(1)
	}
}

func newServeCmd(configPath *string, build appBuilder) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the in-process scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			deps, cleanup, err := build(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			addr := cfg.Server.Addr
			if addr == "" {
				addr = ":8080"
			}
			srv := &http.Server{Addr: addr, Handler: deps.handler, ReadHeaderTimeout: 10 * time.Second}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Printf("listening on %s", addr)
			return runServer(ctx, srv, deps.sched, 10*time.Second)
		},
	}
}

// runServer 同时运行 HTTP 服务与调度器，ctx 取消后优雅关闭并等待调度器退出。
func runServer(ctx context.Context, srv httpServer, sched schedulerRunner, shutdownTimeout time.Duration) error {
	ctx, stopSched := context.WithCancel(ctx)
	defer stopSched()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("scheduler stopped: %v", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}
	stopSched()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}

	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		log.Printf("scheduler did not stop within %s", shutdownTimeout)
	}
	return err
}
