package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/internal/metrics"
	"github.com/BatmanBruc/club-subscription-bot/types"
)

// ErrPermanent marks a handler failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent task failure")

type Handler func(ctx context.Context, payload json.RawMessage) error

type Scheduler struct {
	queue    types.TaskQueue
	handlers map[types.TaskKind]Handler
	config   Config
	metrics  *metrics.Metrics
	logger   *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
	taskQueue chan *types.Task
}

type Config struct {
	Workers      int
	PollInterval time.Duration
	MaxAttempts  int
	RetryBase    time.Duration
	TaskTimeout  time.Duration
}

func (c *Config) withDefaults() {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Minute
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 2 * time.Minute
	}
}

func NewScheduler(queue types.TaskQueue, config Config, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	config.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	queueSize := config.Workers * 2
	if queueSize < 10 {
		queueSize = 10
	}

	return &Scheduler{
		queue:     queue,
		handlers:  make(map[types.TaskKind]Handler),
		config:    config,
		metrics:   m,
		logger:    logger.With("component", "scheduler"),
		taskQueue: make(chan *types.Task, queueSize),
	}
}

// Register binds a handler to a task kind. It must be called before Start.
func (s *Scheduler) Register(kind types.TaskKind, h Handler) {
	s.handlers[kind] = h
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("scheduler started", "workers", s.config.Workers)

	s.recoverProcessingTasks()

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.wg.Add(1)
	go s.poll()
}

func (s *Scheduler) recoverProcessingTasks() {
	n, err := s.queue.RequeueStale(s.ctx)
	if err != nil {
		s.logger.Error("requeue stale tasks failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("requeued stale tasks", "count", n)
	}
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping scheduler")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) poll() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	stale := time.NewTicker(time.Minute)
	defer stale.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-stale.C:
			s.recoverProcessingTasks()
		case <-ticker.C:
			free := cap(s.taskQueue) - len(s.taskQueue)
			if free == 0 {
				continue
			}
			tasks, err := s.queue.Claim(s.ctx, free)
			if err != nil {
				if s.ctx.Err() == nil {
					s.logger.Error("claim tasks failed", "error", err)
				}
				continue
			}
			for _, task := range tasks {
				select {
				case s.taskQueue <- task:
				case <-s.ctx.Done():
					// claimed but unstarted tasks come back after the visibility timeout
					return
				}
			}
		}
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("worker started", "worker", id)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("worker stopped", "worker", id)
			return
		case task := <-s.taskQueue:
			s.process(s.ctx, task)
		}
	}
}

// process runs one claimed task and settles it with the queue: ack on
// success or drop, retry with backoff otherwise.
func (s *Scheduler) process(ctx context.Context, task *types.Task) {
	log := s.logger.With("task_id", task.ID, "kind", task.Kind, "attempt", task.Attempt)
	started := time.Now()

	h, ok := s.handlers[task.Kind]
	if !ok {
		log.Error("no handler for task kind, dropping")
		s.metrics.ObserveTask(string(task.Kind), "dropped", time.Since(started))
		s.ack(ctx, task, log)
		return
	}

	err := s.run(ctx, h, task)
	took := time.Since(started)
	if err == nil {
		s.metrics.ObserveTask(string(task.Kind), "ok", took)
		s.ack(ctx, task, log)
		return
	}

	task.Attempt++
	task.LastError = err.Error()
	if errors.Is(err, ErrPermanent) || task.Attempt >= s.config.MaxAttempts {
		log.Error("task failed, dropping", "error", err, "attempts", task.Attempt)
		s.metrics.ObserveTask(string(task.Kind), "dropped", took)
		s.ack(ctx, task, log)
		return
	}

	delay := s.backoff(task.Attempt)
	log.Warn("task failed, retrying", "error", err, "retry_in", delay)
	s.metrics.ObserveTask(string(task.Kind), "retry", took)
	if err := s.queue.Retry(ctx, task, delay); err != nil {
		log.Error("reschedule task failed", "error", err)
	}
}

func (s *Scheduler) run(ctx context.Context, h Handler, task *types.Task) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.TaskTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, task.Payload)
}

func (s *Scheduler) ack(ctx context.Context, task *types.Task, log *slog.Logger) {
	if err := s.queue.Ack(ctx, task.ID); err != nil {
		log.Error("ack task failed", "error", err)
	}
}

// backoff doubles the base delay per failed attempt: 1 -> base, 2 -> 2*base.
func (s *Scheduler) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return s.config.RetryBase << (attempt - 1)
}
