package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// 收到取消信号后关闭 HTTP 服务，并等调度器退出。
func TestRunServerGracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := &blockingScheduler{}
	srv := newFakeServer()

	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv, sched, time.Second) }()

	select {
	case <-srv.listening:
	case <-time.After(time.Second):
		t.Fatal("server never started listening")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runServer error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runServer did not return after cancel")
	}
	if srv.shutdowns.Load() != 1 {
		t.Fatalf("expected one Shutdown call, got %d", srv.shutdowns.Load())
	}
	if sched.stopped.Load() != 1 {
		t.Fatalf("scheduler did not observe cancellation")
	}
}

func TestRunServerListenErrorStopsScheduler(t *testing.T) {
	sched := &blockingScheduler{}
	srv := newFakeServer()
	srv.listenErr = errors.New("listen tcp :8080: bind: address already in use")

	err := runServer(context.Background(), srv, sched, time.Second)
	if err == nil || !strings.Contains(err.Error(), "address already in use") {
		t.Fatalf("expected listen error, got %v", err)
	}
	if sched.stopped.Load() != 1 {
		t.Fatalf("scheduler must stop when the server fails")
	}
}

// 调度器迟迟不退出时，runServer 在关闭超时后仍然返回。
func TestRunServerDoesNotHangOnStuckScheduler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := newFakeServer()
	stuck := make(chan struct{})
	defer close(stuck)

	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv, stuckScheduler(stuck), 50*time.Millisecond) }()
	<-srv.listening
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runServer waited past the shutdown timeout")
	}
}

// --- stubs ---

type fakeServer struct {
	listening chan struct{}
	closed    chan struct{}
	listenErr error
	shutdowns atomic.Int32
}

func newFakeServer() *fakeServer {
	return &fakeServer{listening: make(chan struct{}), closed: make(chan struct{})}
}

func (s *fakeServer) ListenAndServe() error {
	close(s.listening)
	if s.listenErr != nil {
		return s.listenErr
	}
	<-s.closed
	return http.ErrServerClosed
}

func (s *fakeServer) Shutdown(context.Context) error {
	if s.shutdowns.Add(1) == 1 && s.listenErr == nil {
		close(s.closed)
	}
	return nil
}

type blockingScheduler struct {
	stopped atomic.Int32
}

func (s *blockingScheduler) Start(ctx context.Context) error {
	<-ctx.Done()
	s.stopped.Add(1)
	return ctx.Err()
}

type stuckScheduler chan struct{}

func (s stuckScheduler) Start(ctx context.Context) error {
	<-s
	return nil
}
