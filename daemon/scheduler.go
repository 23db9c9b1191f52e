package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/waffletower/invokeai-graph/invoker"
)

var standardCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

func parseCronExpressionUTC(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, errors.New("daemon: cron expression is required")
	}
	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, errors.New("daemon: cron expression must be UTC-only")
	}
	schedule, err := standardCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("daemon: invalid cron expression %q: %w", clean, err)
	}
	return schedule, nil
}

// Pruner deletes completed sessions past their retention window.
// Implemented by store.SQLiteStore.
type Pruner interface {
	Prune(ctx context.Context) error
}

// SchedulerConfig configures the background scheduler.
type SchedulerConfig struct {
	Invoker      *invoker.Invoker
	Pruner       Pruner
	PollInterval time.Duration
	PruneCron    string
	Logger       *slog.Logger
}

// Scheduler advances tracked execution states on a poll interval and
// prunes completed sessions on a cron schedule. Grounded on the
// teacher's server/cron.go (UTC-only cron parsing) and
// server/workflow_scheduler.go (ticker poll loop, active set,
// cancel/done shutdown), repurposed to drive invoker.Invoke across
// pending sessions instead of workflow runs.
type Scheduler struct {
	inv          *invoker.Invoker
	pruner       Pruner
	pollInterval time.Duration
	pruneSchedule cron.Schedule
	logger       *slog.Logger

	mu     sync.Mutex
	active map[string]struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler instance.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Invoker == nil {
		return nil, errors.New("daemon: scheduler invoker is nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var schedule cron.Schedule
	if strings.TrimSpace(cfg.PruneCron) != "" {
		s, err := parseCronExpressionUTC(cfg.PruneCron)
		if err != nil {
			return nil, err
		}
		schedule = s
	}

	return &Scheduler{
		inv:           cfg.Invoker,
		pruner:        cfg.Pruner,
		pollInterval:  cfg.PollInterval,
		pruneSchedule: schedule,
		logger:        cfg.Logger,
		active:        map[string]struct{}{},
	}, nil
}

// Track registers a session id for poll-driven advancement.
func (s *Scheduler) Track(stateID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[stateID] = struct{}{}
}

// Untrack removes a session id from poll-driven advancement.
func (s *Scheduler) Untrack(stateID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, stateID)
}

func (s *Scheduler) trackedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

// RunOnce advances every tracked session by one Invoke call, untracking
// any that have reached completion.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var firstErr error
	for _, id := range s.trackedIDs() {
		state, err := s.inv.Store.Get(ctx, id)
		if err != nil {
			s.logger.Error("daemon: fetch tracked session", "state_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if state.IsComplete() {
			s.Untrack(id)
			continue
		}
		if _, err := s.inv.Invoke(ctx, state, true); err != nil {
			s.logger.Error("daemon: invoke tracked session", "state_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if state.IsComplete() {
			s.Untrack(id)
		}
	}
	return firstErr
}

// Start begins the background poll loop and, if a prune cron schedule
// and pruner are configured, the background prune loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pollLoop(loopCtx)
	}()

	if s.pruneSchedule != nil && s.pruner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.pruneLoop(loopCtx)
		}()
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	_ = ctx
	return nil
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.RunOnce(ctx)
		}
	}
}

func (s *Scheduler) pruneLoop(ctx context.Context) {
	now := time.Now().UTC()
	for {
		next := s.pruneSchedule.Next(now)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case fired := <-timer.C:
			if err := s.pruner.Prune(ctx); err != nil {
				s.logger.Error("daemon: prune", "error", err)
			}
			now = fired.UTC()
		}
	}
}

// Stop cancels the background loops and waits for them to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
