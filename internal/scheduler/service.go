package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"hooksched/internal/dispatch"
	"hooksched/internal/domain"
	"hooksched/internal/history"
	"hooksched/internal/metrics"
	"hooksched/internal/taskstore"
)

const DefaultInterval = 30 * time.Second

// Store loads and persists task collections. The service is its only writer.
type Store interface {
	List(ctx context.Context) ([]string, error)
	Load(ctx context.Context, path string) (*taskstore.Collection, error)
	Save(ctx context.Context, c *taskstore.Collection) error
}

// Dispatcher triggers a task remotely. A nil error means the trigger was accepted.
type Dispatcher interface {
	Dispatch(ctx context.Context, task domain.Task) (dispatch.Result, error)
}

// Recorder keeps a log of dispatch attempts.
type Recorder interface {
	Record(ctx context.Context, a history.Attempt) error
}

type Options struct {
	Interval time.Duration
	Location *time.Location
	Recorder Recorder
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Status is a snapshot of the loop for the admin API.
type Status struct {
	StartedAt         time.Time     `json:"started_at"`
	LastTick          time.Time     `json:"last_tick"`
	LastSweepMinute   time.Time     `json:"last_sweep_minute"`
	LastSweepDuration time.Duration `json:"last_sweep_duration_ns"`
	LastError         string        `json:"last_error,omitempty"`
	Sweeps            int           `json:"sweeps"`
	SkippedTicks      int           `json:"skipped_ticks"`
	Dispatched        int           `json:"dispatched"`
	DispatchFailures  int           `json:"dispatch_failures"`
	Disabled          int           `json:"disabled"`
	TasksLoaded       int           `json:"tasks_loaded"`
}

type Service struct {
	store      Store
	dispatcher Dispatcher
	recorder   Recorder
	metrics    *metrics.Metrics
	interval   time.Duration
	loc        *time.Location
	now        func() time.Time

	stop     chan struct{}
	stopOnce sync.Once

	// lastMinute is owned by the goroutine running ticks.
	lastMinute time.Time

	mu     sync.Mutex
	status Status
}

func NewService(store Store, dispatcher Dispatcher, opts Options) *Service {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		recorder:   opts.Recorder,
		metrics:    opts.Metrics,
		interval:   opts.Interval,
		loc:        opts.Location,
		now:        opts.Now,
		stop:       make(chan struct{}),
	}
}

// Location is the fixed offset the service evaluates schedules in.
func (s *Service) Location() *time.Location { return s.loc }

// Start ticks immediately, then sleeps the full interval after every tick
// regardless of how long the sweep took. It returns when ctx is done or Stop
// is called.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	s.status.StartedAt = s.now()
	s.mu.Unlock()

	log.Info().Dur("interval", s.interval).Str("offset", s.now().In(s.loc).Format("-07:00")).Msg("schedule service started")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-timer.C:
			s.RunOnce(ctx)
			timer.Reset(s.interval)
		}
	}
}

func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Status returns a copy of the loop state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// RunOnce runs one tick: the minute gate, then a sweep when the minute is new.
// It reports whether a sweep ran. Sweep errors and panics end here.
func (s *Service) RunOnce(ctx context.Context) bool {
	now := s.now().In(s.loc)
	minute := now.Truncate(time.Minute)

	s.mu.Lock()
	s.status.LastTick = now
	s.mu.Unlock()

	// The cron matcher is stateless; this gate is what keeps a cron task from
	// firing twice within one matching minute.
	if minute.Equal(s.lastMinute) {
		s.mu.Lock()
		s.status.SkippedTicks++
		s.mu.Unlock()
		s.metrics.TickSkipped()
		return false
	}
	s.lastMinute = minute

	start := time.Now()
	err := s.safeSweep(ctx, now)
	took := time.Since(start)
	s.metrics.SweepDone(took, err)

	s.mu.Lock()
	s.status.Sweeps++
	s.status.LastSweepMinute = minute
	s.status.LastSweepDuration = took
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Msg("sweep failed")
	}
	return true
}

func (s *Service) safeSweep(ctx context.Context, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panic: %v", r)
		}
	}()
	return s.sweep(ctx, now)
}

func (s *Service) sweep(ctx context.Context, now time.Time) error {
	paths, err := s.store.List(ctx)
	if err != nil {
		return err
	}

	loaded := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := s.store.Load(ctx, path)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("failed to load task file")
			s.metrics.LoadFailed()
			continue
		}
		loaded += len(c.Tasks)
		if err := s.sweepCollection(ctx, c, now); err != nil {
			return err
		}
	}

	s.metrics.SetTasksLoaded(loaded)
	s.mu.Lock()
	s.status.TasksLoaded = loaded
	s.mu.Unlock()
	return nil
}

func (s *Service) sweepCollection(ctx context.Context, c *taskstore.Collection, now time.Time) error {
	dirty := false
	for i, task := range c.Tasks {
		if ctx.Err() != nil {
			break
		}
		due, err := IsDue(task, now, s.loc)
		if err != nil {
			log.Warn().Err(err).Str("task_id", task.ID).Str("file", c.Name()).Msg("cannot evaluate task schedule")
			continue
		}
		if !due {
			continue
		}

		log.Info().
			Str("task_id", task.ID).
			Str("task_name", task.Name).
			Str("kind", task.Schedule.Kind).
			Str("file", c.Name()).
			Msg("task due")

		if !s.trigger(ctx, c.Name(), task) {
			continue
		}

		updated, tr := Apply(task, now)
		c.Tasks[i] = updated
		dirty = true

		if tr.Disabled {
			s.metrics.TaskDisabled(tr.Reason)
			s.mu.Lock()
			s.status.Disabled++
			s.mu.Unlock()
			log.Info().
				Str("task_id", task.ID).
				Str("task_name", task.Name).
				Int("run_count", updated.RunCount).
				Str("reason", tr.Reason).
				Msg("task disabled")
		}
	}

	if !dirty {
		return nil
	}
	if err := s.store.Save(context.WithoutCancel(ctx), c); err != nil {
		s.metrics.PersistFailed()
		return fmt.Errorf("save %s: %w", c.Name(), err)
	}
	log.Debug().Str("file", c.Name()).Msg("task file saved")
	return nil
}

// trigger dispatches one task and records the attempt. An issued dispatch is
// not cancelled by shutdown: its outcome must reach the task file.
func (s *Service) trigger(ctx context.Context, collection string, task domain.Task) bool {
	dctx := context.WithoutCancel(ctx)

	started := s.now()
	res, err := s.dispatcher.Dispatch(dctx, task)
	finished := s.now()

	a := history.Attempt{
		Collection: collection,
		TaskID:     task.ID,
		TaskName:   task.Name,
		Kind:       task.Schedule.Kind,
		RequestID:  res.RequestID,
		StartedAt:  started,
		FinishedAt: finished,
		Success:    err == nil,
		StatusCode: res.StatusCode,
	}
	if err != nil {
		a.Error = err.Error()
		var de *dispatch.Error
		if errors.As(err, &de) && de.StatusCode != 0 {
			a.StatusCode = de.StatusCode
		}
	}
	s.record(dctx, a)
	s.metrics.Dispatched(err == nil, finished.Sub(started))

	s.mu.Lock()
	if err != nil {
		s.status.DispatchFailures++
	} else {
		s.status.Dispatched++
	}
	s.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Str("task_name", task.Name).Msg("failed to trigger task")
		return false
	}
	log.Info().
		Str("task_id", task.ID).
		Str("task_name", task.Name).
		Str("request_id", res.RequestID).
		Interface("response", res.Body).
		Msg("task triggered")
	return true
}

func (s *Service) record(ctx context.Context, a history.Attempt) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, a); err != nil {
		log.Warn().Err(err).Str("task_id", a.TaskID).Msg("failed to record dispatch attempt")
	}
}
