package loop

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrInterrupt = errors.New("signal interrupt")

	restartInterval = time.Second
)

// Runner is a long running sample producer, e.g. an ICMP monitor.
type Runner interface {
	Name() string
	// Start blocks until the runner finishes or Stop is called.
	Start(ctx context.Context) error
	Stop() error
}

// Loop runs every runner and restarts the ones that return until ctx is done
// or the process receives SIGINT/SIGTERM, in which case ErrInterrupt is
// returned.
func Loop(ctx context.Context, runners []Runner) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var interrupted atomic.Bool
	go func() {
		select {
		case sig := <-sigChan:
			interrupted.Store(true)
			logrus.Infof("Recv signal %s, exiting...", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		for _, r := range runners {
			logrus.Infof("stopping %s", r.Name())
			if err := r.Stop(); err != nil {
				logrus.WithError(err).WithField("runner", r.Name()).Error("failed to stop runner")
			}
		}
	}()

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			supervise(ctx, r)
		}(r)
	}
	wg.Wait()
	cancel()
	<-stopped

	if interrupted.Load() {
		return ErrInterrupt
	}
	return nil
}

func supervise(ctx context.Context, r Runner) {
	for {
		if err := r.Start(ctx); err != nil {
			logrus.WithError(err).WithField("runner", r.Name()).Error("failed to run")
		}

		select {
		case <-ctx.Done():
			logrus.Infof("exiting %s", r.Name())
			return
		case <-time.After(restartInterval):
			logrus.Infof("restarting %s", r.Name())
		}
	}
}
