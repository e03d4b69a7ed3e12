// Package scheduling runs recurring maintenance actions on cron
// expressions or fixed intervals.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Action identifies a registered maintenance action.
type Action string

const (
	// ActionHealthCheck probes every provider and updates gateway health.
	ActionHealthCheck Action = "health_check"
	// ActionSessionReap evicts sessions idle past their TTL.
	ActionSessionReap Action = "session_reap"
	// ActionBlueprintRescan re-reads loaded blueprints from disk.
	ActionBlueprintRescan Action = "blueprint_rescan"
)

// Task is one recurring entry, usually read from configuration.
type Task struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *" or duration "30m"
	Action   Action
}

type actionFunc func(ctx context.Context) error

// taskTimeout bounds a single task execution.
const taskTimeout = 5 * time.Minute

// Scheduler runs registered actions on their configured schedules.
type Scheduler struct {
	cron    *cron.Cron
	actions map[Action]actionFunc
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a stopped scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		actions: make(map[Action]actionFunc),
		logger:  logger,
	}
}

// RegisterAction binds a handler to an action name. Tasks referencing
// an unregistered action are rejected by AddTask.
func (s *Scheduler) RegisterAction(action Action, fn actionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// AddTask schedules a recurring task.
func (s *Scheduler) AddTask(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.actions[task.Action]
	if !ok {
		return fmt.Errorf("scheduler: unknown action %q for task %q", task.Action, task.Name)
	}
	schedule, err := parseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for task %q: %w", task.Schedule, task.Name, err)
	}

	name := task.Name
	s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.run(name, fn)
	}))
	s.logger.Info("task scheduled", "name", task.Name, "schedule", task.Schedule, "action", string(task.Action))
	return nil
}

// run executes one task under the scheduler's lifetime context.
func (s *Scheduler) run(name string, fn actionFunc) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if ctx == nil {
		s.logger.Debug("scheduler stopped, skipping task", "task", name)
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	start := time.Now()
	if err := fn(taskCtx); err != nil {
		s.logger.Warn("scheduled task failed",
			"task", name,
			"error", err,
			"duration", time.Since(start))
		return
	}
	s.logger.Info("scheduled task completed",
		"task", name,
		"duration", time.Since(start))
}

// Start begins firing scheduled tasks. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop halts scheduling and waits for running tasks to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.started = false
	return nil
}

// parseSchedule accepts a standard five-field cron expression, a cron
// descriptor like "@every 30m", or a plain duration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return &constantDelay{delay: dur}, nil
}

// constantDelay implements cron.Schedule for a fixed interval. Unlike
// cron.Every(), it supports sub-second durations.
type constantDelay struct {
	delay time.Duration
}

func (d *constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}
