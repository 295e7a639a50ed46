package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/o3willard-AI/alcs-sub001/types"
	"go.uber.org/zap"
)

// RetryPolicy 定义重试策略配置
// Delays double from BaseDelay up to MaxDelay; the whole attempt loop is
// bounded by Ceiling measured on the wall clock, not by an attempt count.
type RetryPolicy struct {
	BaseDelay time.Duration                                     // 初始延迟时间
	MaxDelay  time.Duration                                     // 单次最大延迟
	Ceiling   time.Duration                                     // 总体时间上限
	OnRetry   func(attempt int, err error, delay time.Duration) // 重试回调
}

// DefaultRetryPolicy 返回默认的重试策略
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		BaseDelay: 1 * time.Second,
		MaxDelay:  256 * time.Second,
		Ceiling:   10 * time.Minute,
	}
}

// PolicyWithCeiling returns the default policy bounded by ceiling.
func PolicyWithCeiling(ceiling time.Duration) *RetryPolicy {
	p := DefaultRetryPolicy()
	p.Ceiling = ceiling
	return p
}

// Clock abstracts time so tests can run the schedule without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retryer 重试器接口
// operation names the call in logs and in the final error.
type Retryer interface {
	// Do 执行函数，失败时根据策略重试
	Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error

	// DoWithResult 执行函数并返回结果，失败时根据策略重试
	DoWithResult(ctx context.Context, operation string, fn func(ctx context.Context) (any, error)) (any, error)

	// Policy returns the effective policy.
	Policy() RetryPolicy
}

// ceilingRetryer 基于指数退避与总时长上限的重试器实现
type ceilingRetryer struct {
	policy RetryPolicy
	logger *zap.Logger
	clock  Clock
}

// Option customises a Retryer.
type Option func(*ceilingRetryer)

// WithClock injects a clock.
func WithClock(c Clock) Option {
	return func(r *ceilingRetryer) { r.clock = c }
}

// NewBackoffRetryer 创建指数退避重试器
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger, opts ...Option) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := *policy
	// 参数校验
	if p.BaseDelay <= 0 {
		p.BaseDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 256 * time.Second
	}
	if p.Ceiling <= 0 {
		p.Ceiling = 10 * time.Minute
	}

	r := &ceilingRetryer{
		policy: p,
		logger: logger.With(zap.String("component", "retry")),
		clock:  realClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *ceilingRetryer) Policy() RetryPolicy { return r.policy }

// Do 实现 Retryer.Do
func (r *ceilingRetryer) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	_, err := r.DoWithResult(ctx, operation, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// DoWithResult 实现 Retryer.DoWithResult
// Transient failures never escape: the caller sees a result or an
// ENDPOINT_UNAVAILABLE error.
func (r *ceilingRetryer) DoWithResult(ctx context.Context, operation string, fn func(ctx context.Context) (any, error)) (any, error) {
	start := r.clock.Now()
	var lastErr error
	attempts := 0

	for r.clock.Now().Sub(start) < r.policy.Ceiling {
		attempts++
		result, err := fn(ctx)
		if err == nil {
			if attempts > 1 {
				r.logger.Info("重试成功",
					zap.String("operation", operation),
					zap.Int("attempt", attempts),
				)
			}
			return result, nil
		}
		lastErr = err

		r.logger.Warn("attempt failed",
			zap.String("operation", operation),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)

		delay := r.calculateDelay(attempts)
		elapsed := r.clock.Now().Sub(start)
		// A sleep that ends at or past the ceiling can never be followed by
		// another attempt, so stop now.
		if elapsed+delay >= r.policy.Ceiling {
			break
		}

		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempts, err, delay)
		}

		if err := r.clock.Sleep(ctx, delay); err != nil {
			lastErr = fmt.Errorf("重试被取消: %w", err)
			break
		}
	}

	r.logger.Error("retry ceiling exhausted",
		zap.String("operation", operation),
		zap.Int("attempts", attempts),
		zap.Duration("ceiling", r.policy.Ceiling),
		zap.Error(lastErr),
	)

	return nil, types.NewEndpointUnavailableError(operation, r.policy.Ceiling, lastErr)
}

// calculateDelay 计算延迟时间: min(base * 2^(attempt-1), max)
func (r *ceilingRetryer) calculateDelay(attempt int) time.Duration {
	delay := r.policy.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= r.policy.MaxDelay {
			return r.policy.MaxDelay
		}
	}
	if delay > r.policy.MaxDelay {
		return r.policy.MaxDelay
	}
	return delay
}
