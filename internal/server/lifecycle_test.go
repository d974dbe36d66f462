package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) add(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *eventLog) stops() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, ev := range e.events {
		if strings.HasPrefix(ev, "stop:") {
			out = append(out, ev)
		}
	}
	return out
}

// blockingService records its lifecycle into log and blocks in Start
// until Stop releases it.
func blockingService(name string, log *eventLog) *FuncService {
	done := make(chan struct{})
	return &FuncService{
		StartFn: func() error {
			log.add("start:" + name)
			<-done
			return nil
		},
		StopFn: func() {
			log.add("stop:" + name)
			close(done)
		},
	}
}

func runAsync(lc *Lifecycle, ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- lc.Run(ctx) }()
	return errCh
}

func waitForRun(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestRunStopsInReverseOrderOnCancel(t *testing.T) {
	log := &eventLog{}
	lc := NewLifecycle(zap.NewNop())
	lc.Add("first", blockingService("first", log))
	lc.Add("second", blockingService("second", log))
	lc.Add("third", blockingService("third", log))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(lc, ctx)
	cancel()

	require.NoError(t, waitForRun(t, errCh))
	assert.Equal(t, []string{"stop:third", "stop:second", "stop:first"}, log.stops())
}

func TestRunReturnsServiceFailure(t *testing.T) {
	log := &eventLog{}
	boom := errors.New("listener exploded")

	lc := NewLifecycle(zap.NewNop())
	lc.Add("steady", blockingService("steady", log))
	lc.Add("flaky", &FuncService{
		StartFn: func() error { return boom },
		StopFn:  func() { log.add("stop:flaky") },
	})

	err := lc.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "flaky")

	// The failure still winds everything down, in reverse order.
	assert.Equal(t, []string{"stop:flaky", "stop:steady"}, log.stops())
}

func TestRunReturnsNilWhenShutdownRequested(t *testing.T) {
	lc := NewLifecycle(zap.NewNop())
	lc.Add("only", blockingService("only", &eventLog{}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(lc, ctx)
	cancel()

	assert.NoError(t, waitForRun(t, errCh))
}

func TestStopUnblocksStart(t *testing.T) {
	log := &eventLog{}
	svc := blockingService("svc", log)

	started := make(chan error, 1)
	go func() { started <- svc.Start() }()

	svc.Stop()
	select {
	case err := <-started:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
