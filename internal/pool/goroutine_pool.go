// Package pool 提供有界的后台任务池，用于不应阻塞会话主流程的写入
// （反思日志、持久化等）。任务在独立上下文中运行并受 TaskTimeout 约束。
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task 一个后台任务
type Task func(ctx context.Context) error

// Config 任务池配置
type Config struct {
	MaxWorkers  int           `yaml:"max_workers" json:"max_workers"`
	QueueSize   int           `yaml:"queue_size" json:"queue_size"`
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TaskTimeout time.Duration `yaml:"task_timeout" json:"task_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxWorkers:  4,
		QueueSize:   256,
		IdleTimeout: 30 * time.Second,
		TaskTimeout: 10 * time.Second,
	}
}

type job struct {
	name   string
	task   Task
	ctx    context.Context
	result chan error
}

// GoroutinePool 按需启动 worker，空闲超时后回收多余的 worker
type GoroutinePool struct {
	cfg         Config
	queue       chan job
	workerCount atomic.Int32
	activeCount atomic.Int32
	mu          sync.RWMutex
	closed      bool
	wg          sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	logger *zap.Logger
}

// NewGoroutinePool 创建任务池
func NewGoroutinePool(cfg Config, logger *zap.Logger) *GoroutinePool {
	def := DefaultConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoroutinePool{
		cfg:    cfg,
		queue:  make(chan job, cfg.QueueSize),
		logger: logger.With(zap.String("component", "pool")),
	}
}

// Submit 非阻塞提交。队列已满时返回 ErrPoolFull。
// 任务使用脱离调用方取消的上下文，保留其中的值。
func (p *GoroutinePool) Submit(ctx context.Context, name string, task Task) error {
	return p.enqueue(job{name: name, task: task, ctx: context.WithoutCancel(ctx)}, false)
}

// SubmitWait 提交并等待任务完成
func (p *GoroutinePool) SubmitWait(ctx context.Context, name string, task Task) error {
	j := job{name: name, task: task, ctx: ctx, result: make(chan error, 1)}
	if err := p.enqueue(j, true); err != nil {
		return err
	}
	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *GoroutinePool) enqueue(j job, wait bool) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	if wait {
		select {
		case p.queue <- j:
		case <-j.ctx.Done():
			p.rejected.Add(1)
			return j.ctx.Err()
		}
	} else {
		select {
		case p.queue <- j:
		default:
			p.rejected.Add(1)
			p.logger.Warn("task rejected, queue full", zap.String("task", j.name))
			return ErrPoolFull
		}
	}
	p.ensureWorker()
	return nil
}

func (p *GoroutinePool) ensureWorker() {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.cfg.MaxWorkers) {
			return
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return
		}
	}
}

func (p *GoroutinePool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	timer := time.NewTimer(p.cfg.IdleTimeout)
	defer timer.Stop()

	for {
		select {
		case j, ok := <-p.queue:
			if !ok {
				return
			}
			p.activeCount.Add(1)
			err := p.run(j)
			p.activeCount.Add(-1)

			if j.result != nil {
				j.result <- err
			}
			if err != nil {
				p.failed.Add(1)
				p.logger.Warn("task failed", zap.String("task", j.name), zap.Error(err))
			} else {
				p.completed.Add(1)
			}
			timer.Reset(p.cfg.IdleTimeout)

		case <-timer.C:
			// 至少保留一个 worker
			if p.workerCount.Load() > 1 {
				return
			}
			timer.Reset(p.cfg.IdleTimeout)
		}
	}
}

func (p *GoroutinePool) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.String("task", j.name), zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("task %s panicked: %v", j.name, r)
		}
	}()

	ctx := j.ctx
	if p.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
		defer cancel()
	}
	return j.task(ctx)
}

// Close 停止接收任务，执行完队列中剩余任务后返回
func (p *GoroutinePool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	// 队列有剩余任务但所有 worker 已空闲退出时补一个
	if len(p.queue) > 0 && p.workerCount.Load() == 0 {
		p.ensureWorker()
	}
	p.wg.Wait()
}

// Stats 返回统计信息
func (p *GoroutinePool) Stats() Stats {
	return Stats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Stats 任务池统计
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
