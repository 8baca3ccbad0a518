package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dsa110/taskq/pkg/logger"
)

// Scheduler spawns tasks from persisted schedule definitions.
// Several schedulers may share one store; FireSchedule makes each slot fire once.
type Scheduler struct {
	repo      ScheduleRepository
	interval  time.Duration
	batchSize int
	now       func() time.Time
	logger    *slog.Logger
}

// NewScheduler creates a new task scheduler
func NewScheduler(repo ScheduleRepository, opts ...SchedulerOption) (*Scheduler, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &schedulerOptions{
		checkInterval: 30 * time.Second,
		batchSize:     100,
		now:           time.Now,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		repo:      repo,
		interval:  options.checkInterval,
		batchSize: options.batchSize,
		now:       options.now,
		logger:    options.logger,
	}, nil
}

// Add validates and stores a schedule. A zero NextRunAt is computed from now.
func (s *Scheduler) Add(ctx context.Context, def ScheduleDefinition) (*ScheduleDefinition, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("%w: schedule name is required", ErrInvalidSchedule)
	}
	if def.TaskName == "" {
		return nil, ErrEmptyTaskName
	}
	if def.TaskName == DeadLetterTaskName {
		return nil, ErrReservedTaskName
	}
	sched, err := ParseSchedule(def.Spec)
	if err != nil {
		return nil, err
	}
	if def.Queue == "" {
		def.Queue = DefaultQueueName
	}
	if def.MaxRetries < 0 {
		return nil, ErrInvalidMaxRetries
	}
	if def.Params, err = normalizeParams(def.Params); err != nil {
		return nil, err
	}

	now := s.now()
	def.Spec = sched.String()
	if def.NextRunAt.IsZero() {
		def.NextRunAt = sched.Next(now)
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}

	if err := s.repo.SaveSchedule(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to save schedule %q: %w", def.Name, err)
	}

	s.logger.InfoContext(ctx, "registered schedule",
		slog.String("schedule", def.Name),
		logger.TaskName(def.TaskName),
		slog.String("spec", def.Spec),
		slog.Time("next_run_at", def.NextRunAt))

	return &def, nil
}

// ScheduleUpdate lists the fields Update changes. Nil fields are kept.
type ScheduleUpdate struct {
	Spec       *string
	Params     json.RawMessage
	Priority   *int
	MaxRetries *int
	Enabled    *bool
}

// Update changes a stored schedule. next_run_at is recomputed from now when
// the expression changes or a disabled schedule is re-enabled, so neither fires a
// stale slot.
func (s *Scheduler) Update(ctx context.Context, name string, upd ScheduleUpdate) (*ScheduleDefinition, error) {
	def, err := s.repo.GetSchedule(ctx, name)
	if err != nil {
		return nil, err
	}

	now := s.now()
	recompute := false
	if upd.Spec != nil {
		if _, err := ParseSchedule(*upd.Spec); err != nil {
			return nil, err
		}
		def.Spec = *upd.Spec
		recompute = true
	}
	if upd.Params != nil {
		if def.Params, err = normalizeParams(upd.Params); err != nil {
			return nil, err
		}
	}
	if upd.Priority != nil {
		def.Priority = *upd.Priority
	}
	if upd.MaxRetries != nil {
		if *upd.MaxRetries < 0 {
			return nil, ErrInvalidMaxRetries
		}
		def.MaxRetries = *upd.MaxRetries
	}
	if upd.Enabled != nil {
		if *upd.Enabled && !def.Enabled {
			recompute = true
		}
		def.Enabled = *upd.Enabled
	}

	sched, err := ParseSchedule(def.Spec)
	if err != nil {
		return nil, err
	}
	def.Spec = sched.String()
	if recompute {
		def.NextRunAt = sched.Next(now)
	}

	if err := s.repo.SaveSchedule(ctx, *def); err != nil {
		return nil, fmt.Errorf("failed to save schedule %q: %w", def.Name, err)
	}

	s.logger.InfoContext(ctx, "updated schedule",
		slog.String("schedule", def.Name),
		slog.String("spec", def.Spec),
		slog.Bool("enabled", def.Enabled),
		slog.Time("next_run_at", def.NextRunAt))

	return def, nil
}

// Trigger spawns the schedule's task immediately. The regular cadence is
// left alone.
func (s *Scheduler) Trigger(ctx context.Context, name string) (*Task, error) {
	def, err := s.repo.GetSchedule(ctx, name)
	if err != nil {
		return nil, err
	}

	now := s.now()
	task, err := scheduledTask(*def, now)
	if err != nil {
		return nil, err
	}
	if err := s.repo.TriggerSchedule(ctx, name, now, task); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "schedule triggered manually",
		slog.String("schedule", name),
		logger.TaskID(task.ID),
		logger.TaskName(task.Name),
		logger.Queue(task.Queue))

	return task, nil
}

func (s *Scheduler) Remove(ctx context.Context, name string) error {
	return s.repo.DeleteSchedule(ctx, name)
}

func (s *Scheduler) List(ctx context.Context) ([]ScheduleDefinition, error) {
	return s.repo.ListSchedules(ctx)
}

// Start checks for due schedules until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if _, err := s.Tick(ctx); err != nil {
		s.logger.ErrorContext(ctx, "scheduler tick failed", logger.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.ErrorContext(ctx, "scheduler tick failed", logger.Error(err))
			}
		}
	}
}

// Run returns a function suitable for errgroup
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		return s.Start(ctx)
	}
}

// Tick fires every due schedule once and returns how many tasks were spawned.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.repo.DueSchedules(ctx, now, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to load due schedules: %w", err)
	}

	fired := 0
	for _, def := range due {
		ok, err := s.fire(ctx, def, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to fire schedule",
				slog.String("schedule", def.Name),
				logger.Error(err))
			continue
		}
		if ok {
			fired++
		}
	}
	return fired, nil
}

func (s *Scheduler) fire(ctx context.Context, def ScheduleDefinition, now time.Time) (bool, error) {
	sched, err := ParseSchedule(def.Spec)
	if err != nil {
		return false, err
	}

	// missed slots collapse into one run
	next := sched.Next(now)

	task, err := scheduledTask(def, now)
	if err != nil {
		return false, err
	}

	ok, err := s.repo.FireSchedule(ctx, def.Name, def.NextRunAt, next, now, task)
	if err != nil {
		return false, err
	}

	if ok {
		s.logger.InfoContext(ctx, "schedule fired",
			slog.String("schedule", def.Name),
			logger.TaskID(task.ID),
			logger.TaskName(task.Name),
			logger.Queue(task.Queue),
			slog.Time("next_run_at", next))
	} else {
		s.logger.DebugContext(ctx, "schedule already fired elsewhere",
			slog.String("schedule", def.Name))
	}

	return ok, nil
}

func scheduledTask(def ScheduleDefinition, now time.Time) (*Task, error) {
	params := def.Params
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	return buildTask(def.Queue, def.TaskName, params,
		&spawnOptions{priority: def.Priority, maxRetries: def.MaxRetries}, now)
}
