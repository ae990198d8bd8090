// Package workers provides the bounded goroutine pool used to run
// optimization trials and other embarrassingly parallel simulation work.
package workers

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Task represents a unit of work to be processed
type Task interface {
	Execute() error
}

// TaskFunc is a function that can be used as a Task
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// PoolConfig configures the worker pool
type PoolConfig struct {
	Name            string
	NumWorkers      int
	QueueSize       int
	ShutdownTimeout time.Duration
}

// DefaultPoolConfig returns defaults sized for CPU-bound simulation work
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		NumWorkers:      runtime.NumCPU(),
		QueueSize:       4096,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Pool manages a fixed set of worker goroutines. Tasks run to completion;
// there is no mid-task preemption.
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64

	promSubmitted prometheus.Counter
	promCompleted prometheus.Counter
	promFailed    prometheus.Counter
	promDuration  prometheus.Histogram
}

// NewPool creates a worker pool and registers its metrics on the given
// registerer. A nil registerer skips metrics registration.
func NewPool(logger *zap.Logger, config *PoolConfig, reg prometheus.Registerer) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}

	labels := prometheus.Labels{"pool": config.Name}
	p.promSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "worker_pool_tasks_submitted_total", Help: "Tasks submitted to the pool.", ConstLabels: labels,
	})
	p.promCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "worker_pool_tasks_completed_total", Help: "Tasks completed successfully.", ConstLabels: labels,
	})
	p.promFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "worker_pool_tasks_failed_total", Help: "Tasks that returned an error or panicked.", ConstLabels: labels,
	})
	p.promDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "worker_pool_task_duration_seconds", Help: "Task execution time.", ConstLabels: labels,
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})
	if reg != nil {
		reg.MustRegister(p.promSubmitted, p.promCompleted, p.promFailed, p.promDuration)
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "worker_pool_queue_length", Help: "Tasks currently queued.", ConstLabels: labels,
		}, func() float64 { return float64(len(p.taskQueue)) }))
	}

	return p
}

// Start launches the workers
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}

	p.logger.Info("starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers),
	)

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
}

func (p *Pool) workerLoop(id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker", id))

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.execute(logger, task)
		}
	}
}

// execute runs one task with panic recovery
func (p *Pool) execute(logger *zap.Logger, task Task) {
	start := time.Now()
	var err error

	func() {
		defer func() {
			if r := recover(); r != nil {
				p.panics.Add(1)
				logger.Error("worker recovered from panic", zap.Any("panic", r))
				err = &PanicError{Recovered: r}
			}
		}()
		err = task.Execute()
	}()

	p.promDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		p.failed.Add(1)
		p.promFailed.Inc()
		logger.Debug("task failed", zap.Error(err))
		return
	}
	p.completed.Add(1)
	p.promCompleted.Inc()
}

// Submit enqueues a task, failing fast when the queue is full
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}
	select {
	case p.taskQueue <- task:
		p.submitted.Add(1)
		p.promSubmitted.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitFunc submits a function as a task
func (p *Pool) SubmitFunc(fn func() error) error {
	return p.Submit(TaskFunc(fn))
}

// Stop shuts the pool down, waiting up to ShutdownTimeout for in-flight
// tasks
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}

	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped", zap.String("name", p.config.Name))
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out", zap.String("name", p.config.Name))
		return ErrShutdownTimeout
	}
}

// Stats is a snapshot of pool counters
type Stats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
	Queued    int   `json:"queued"`
}

// Stats returns current pool counters
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
		Queued:    len(p.taskQueue),
	}
}

// IsRunning reports whether the pool accepts tasks
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "task queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError represents a pool error
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// PanicError represents a recovered panic
type PanicError struct {
	Recovered interface{}
}

func (e *PanicError) Error() string { return "panic recovered" }
