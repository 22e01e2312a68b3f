package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"bandshort/backtest"
	"bandshort/lock"
	"bandshort/logger"
	"bandshort/metrics"
)

// DefaultWorkers 默认并发回测数
const DefaultWorkers = 5

// DefaultClaimTTL 标的认领锁的默认有效期
const DefaultClaimTTL = 30 * time.Minute

// ErrClaimed 标的的同一时间窗口正被其他回测占用
var ErrClaimed = errors.New("instrument already claimed")

// ClaimKey 标的加回测时间窗口，同一窗口的并发回测只有一个能认领成功
func ClaimKey(p backtest.Params) string {
	return p.Symbol + ":" + claimTime(p.StartDate) + ":" + claimTime(p.EndDate)
}

func claimTime(t time.Time) string {
	if t.IsZero() {
		return "all"
	}
	return t.UTC().Format("20060102T150405")
}

// Result 单个标的的回测结果
type Result struct {
	Symbol   string           `json:"symbol"`
	Ledger   *backtest.Ledger `json:"ledger,omitempty"`
	Err      error            `json:"-"`
	Error    string           `json:"error,omitempty"`
	Duration time.Duration    `json:"duration"`
}

// OK 是否成功
func (r Result) OK() bool {
	return r.Err == nil && r.Ledger != nil
}

// Option 运行器选项
type Option func(*Runner)

// WithWorkers 设置并发数
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithLock 设置标的认领锁
func WithLock(l lock.DistributedLock, ttl time.Duration) Option {
	return func(r *Runner) {
		if l != nil {
			r.lock = l
		}
		if ttl > 0 {
			r.claimTTL = ttl
		}
	}
}

// WithSink 设置结果写入器
func WithSink(s Sink) Option {
	return func(r *Runner) {
		r.sink = s
	}
}

// WithObserver 设置回测回调，需并发安全
func WithObserver(o backtest.Observer) Option {
	return func(r *Runner) {
		r.observer = o
	}
}

// WithMetrics 记录回放指标
func WithMetrics(pm *metrics.PrometheusMetrics) Option {
	return func(r *Runner) {
		r.metrics = pm
	}
}

// Runner 固定大小的工作池，各标的互不影响
type Runner struct {
	source   Source
	sink     Sink
	lock     lock.DistributedLock
	claimTTL time.Duration
	observer backtest.Observer
	metrics  *metrics.PrometheusMetrics
	workers  int
}

// New 创建运行器
func New(source Source, opts ...Option) *Runner {
	r := &Runner{
		source:   source,
		lock:     lock.NewNopLock(),
		claimTTL: DefaultClaimTTL,
		workers:  DefaultWorkers,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run 并发回放全部标的，每个标的一个结果
func (r *Runner) Run(ctx context.Context, params []backtest.Params) *Report {
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Results:   make(map[string]Result, len(params)),
	}
	logger.Info("🚀 开始回测 run=%s 标的数:%d 并发:%d", report.RunID, len(params), r.workers)

	jobs := make(chan backtest.Params)
	results := make(chan Result)

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				results <- r.runOne(ctx, report.RunID, p)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, p := range params {
			select {
			case jobs <- p:
			case <-ctx.Done():
				// 未开始的标的记为取消
				for _, rest := range params[i:] {
					results <- Result{Symbol: rest.Symbol, Err: ctx.Err(), Error: ctx.Err().Error()}
				}
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		report.add(res)
	}
	report.FinishedAt = time.Now()

	s := report.Summary()
	logger.Info("🏁 回测完成 run=%s 成功:%d 失败:%d 总盈亏:%.2f 耗时:%v",
		report.RunID, s.Succeeded, s.Failed, s.TotalPnL, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	return report
}

// runOne 认领 → 取数 → 回放 → 保存，panic 只影响当前标的
func (r *Runner) runOne(ctx context.Context, runID string, p backtest.Params) (res Result) {
	start := time.Now()
	res.Symbol = p.Symbol
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("❌ [%s] 回测 panic: %v\n%s", p.Symbol, rec, debug.Stack())
			res.Ledger = nil
			res.Err = fmt.Errorf("panic: %v", rec)
		}
		res.Duration = time.Since(start)
		if res.Err != nil {
			res.Error = res.Err.Error()
		}
		if r.metrics != nil {
			r.metrics.RecordReplay(p.Symbol, res.OK(), res.Duration)
			if res.Ledger != nil {
				l := res.Ledger
				r.metrics.RecordLedger(l.Symbol, l.BarsProcessed, l.BarsSkipped, l.FinalCapital, l.Metrics.WinRate)
			}
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	key := ClaimKey(p)
	ok, err := r.lock.TryLock(ctx, key, r.claimTTL)
	if err != nil {
		res.Err = fmt.Errorf("认领标的失败: %w", err)
		return res
	}
	if !ok {
		r.recordClaim("conflict")
		res.Err = fmt.Errorf("%w: %s", ErrClaimed, p.Symbol)
		return res
	}
	r.recordClaim("acquired")
	defer func() {
		if err := r.lock.Unlock(context.Background(), key); err != nil {
			logger.Warn("⚠️ [%s] 释放认领锁失败: %v", p.Symbol, err)
		}
	}()

	bars, err := r.source.Bars(ctx, p)
	if err != nil {
		res.Err = fmt.Errorf("加载数据失败: %w", err)
		return res
	}

	ledger, err := backtest.Replay(p, bars, r.observer)
	if err != nil {
		res.Err = err
		logger.Warn("⚠️ [%s] 回测失败: %v", p.Symbol, err)
		return res
	}
	res.Ledger = ledger

	if r.sink != nil {
		if err := r.sink.Save(ctx, runID, ledger); err != nil {
			// 回测本身有效，保存失败只记录
			logger.Error("❌ [%s] 保存结果失败: %v", p.Symbol, err)
		}
	}
	return res
}

func (r *Runner) recordClaim(status string) {
	if r.metrics != nil {
		r.metrics.RecordClaim(status)
	}
}
