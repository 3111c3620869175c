// Package scheduler runs synchronisation of every registered record type, on demand or
// periodically.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/clinic-sync/internal/errs"
	syncer "github.com/and161185/clinic-sync/internal/sync"
)

// ErrRunning is returned by Start when the periodic loop is already running.
var ErrRunning = errors.New("scheduler: already running")

// Gate reports whether a periodic run may start now.
type Gate func(ctx context.Context) bool

// Probe checks that the server is reachable before a periodic run.
type Probe func(ctx context.Context) error

// Scheduler syncs a fixed set of record types.
type Scheduler struct {
	models      []syncer.ModelSync
	concurrency int
	interval    time.Duration
	gate        Gate
	probe       Probe
	newBackOff  func() backoff.BackOff
	log         *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConcurrency limits how many record types sync at once.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithInterval sets the periodic cadence.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithGate skips periodic runs while g returns false. On-demand runs are not gated.
func WithGate(g Gate) Option { return func(s *Scheduler) { s.gate = g } }

// WithProbe skips periodic runs while p fails.
func WithProbe(p Probe) Option { return func(s *Scheduler) { s.probe = p } }

// WithBackOff replaces the retry policy of SyncImmediately.
func WithBackOff(f func() backoff.BackOff) Option { return func(s *Scheduler) { s.newBackOff = f } }

// New returns a scheduler for models.
func New(models []syncer.ModelSync, log *zap.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scheduler{
		models:      models,
		concurrency: 4,
		interval:    15 * time.Minute,
		newBackOff:  func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		log:         log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SyncAll runs Sync for every record type. A failing or panicking type does not stop the others;
// all failures are returned joined.
func (s *Scheduler) SyncAll(ctx context.Context) error {
	var (
		mu     sync.Mutex
		failed []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, m := range s.models {
		g.Go(func() error {
			if err := s.syncOne(gctx, m); err != nil {
				mu.Lock()
				failed = append(failed, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(failed...)
}

func (s *Scheduler) syncOne(ctx context.Context, m syncer.ModelSync) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("sync panic",
				zap.String("resource", string(m.Resource())),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = errs.Unexpected(fmt.Errorf("sync %s: panic: %v", m.Resource(), r))
		}
	}()
	if err = m.Sync(ctx); err != nil {
		s.log.Warn("sync failed", zap.String("resource", string(m.Resource())), zap.Error(err))
	}
	return err
}

// SyncImmediately runs SyncAll, retrying up to retries times while any failure is network
// related, and gives up when timeout elapses. The caller decides whether the error matters.
func (s *Scheduler) SyncImmediately(ctx context.Context, retries int, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if retries < 0 {
		retries = 0
	}
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := s.SyncAll(ctx)
		if err != nil && !errs.HasKind(err, errs.KindNetwork) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(uint(retries)+1),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log.Info("immediate sync retry", zap.Int("attempt", attempt), zap.Duration("in", next), zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("immediate sync: %w", err)
	}
	return nil
}

// Start launches the periodic loop. It stops when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.tick(ctx)
			}
		}
	}()
	s.log.Info("periodic sync started", zap.Duration("interval", s.interval))
	return nil
}

// Stop ends the periodic loop and waits for a run in progress.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.gate != nil && !s.gate(ctx) {
		s.log.Debug("periodic sync skipped: not allowed")
		return
	}
	if s.probe != nil {
		if err := s.probe(ctx); err != nil {
			s.log.Info("periodic sync skipped: server unreachable", zap.Error(err))
			return
		}
	}
	if err := s.SyncAll(ctx); err != nil {
		s.log.Warn("periodic sync finished with errors", zap.Error(err))
	}
}
