// Package server wires the game binary's long-running components into a
// single start/stop sequence: each component registers as a Service, and
// the Lifecycle brings them up together and winds them down in reverse
// on signal, context cancellation, or the first failure.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service is one long-running component of the game binary. Start blocks
// for the life of the component; Stop asks it to wind down and must make
// a blocked Start return.
type Service interface {
	Start() error
	Stop()
}

// FuncService adapts a start/stop closure pair into a Service.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

// Start calls StartFn.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls StopFn.
func (f *FuncService) Stop() { f.StopFn() }

// Lifecycle runs registered services as a group. Registration order is
// start order; stop order is its reverse.
type Lifecycle struct {
	logger *zap.Logger
	mu     sync.Mutex
	regs   []registration
}

type registration struct {
	name string
	svc  Service
}

// NewLifecycle creates a Lifecycle.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

// Add registers svc under name.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.regs = append(l.regs, registration{name: name, svc: svc})
}

// Run starts every registered service and blocks until SIGINT or SIGTERM
// arrives, ctx is cancelled, or a service's Start fails. It then stops
// the services in reverse registration order and returns the failure
// that forced the shutdown, or nil when shutdown was merely requested.
//
// Postcondition: every registered service's Stop has run when Run returns.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	failures := make(chan error, len(l.regs))
	for _, reg := range l.regs {
		reg := reg
		go func() {
			l.logger.Info("starting service", zap.String("service", reg.name))
			began := time.Now()
			if err := reg.svc.Start(); err != nil {
				l.logger.Error("service failed",
					zap.String("service", reg.name),
					zap.Error(err),
					zap.Duration("uptime", time.Since(began)),
				)
				failures <- fmt.Errorf("service %s: %w", reg.name, err)
				cancel()
			}
		}()
	}

	l.logger.Info("all services started",
		zap.Int("count", len(l.regs)),
		zap.Duration("startup", time.Since(start)),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var cause error
	select {
	case sig := <-sigCh:
		l.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case cause = <-failures:
		l.logger.Error("service error, shutting down", zap.Error(cause))
	case <-ctx.Done():
		l.logger.Info("context cancelled, shutting down")
	}
	if cause == nil {
		// A failing service queues its error before cancelling ctx, so
		// when the cancellation branch won the race the failure is
		// already buffered and still belongs to the caller.
		select {
		case cause = <-failures:
		default:
		}
	}

	l.stopAll()

	l.logger.Info("shutdown complete", zap.Duration("total_uptime", time.Since(start)))
	return cause
}

func (l *Lifecycle) stopAll() {
	began := time.Now()
	for i := len(l.regs) - 1; i >= 0; i-- {
		reg := l.regs[i]
		stopBegan := time.Now()
		l.logger.Info("stopping service", zap.String("service", reg.name))
		reg.svc.Stop()
		l.logger.Info("service stopped",
			zap.String("service", reg.name),
			zap.Duration("elapsed", time.Since(stopBegan)),
		)
	}
	l.logger.Info("all services stopped", zap.Duration("shutdown_elapsed", time.Since(began)))
}
