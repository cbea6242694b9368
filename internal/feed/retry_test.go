package feed

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	calls := 0
	sentinel := errors.New("boom")
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return sentinel
	})
	if calls != 3 {
		t.Fatalf("期望 3 次尝试, 实际 %d", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("应返回最后一次错误: %v", err)
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("成功后不应返回错误: %v", err)
	}
	if calls != 2 {
		t.Fatalf("期望 2 次尝试, 实际 %d", calls)
	}
}

func TestRetryHonorsRetryablePredicate(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Retryable:      func(error) bool { return false },
	}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("fatal")
	})
	if err == nil {
		t.Fatal("不可重试错误应立即返回")
	}
	if calls != 1 {
		t.Fatalf("不可重试错误只应尝试 1 次, 实际 %d", calls)
	}
}

func TestRetryZeroValueRunsOnce(t *testing.T) {
	var policy RetryPolicy

	calls := 0
	_ = policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})
	if calls != 1 {
		t.Fatalf("零值策略应只尝试 1 次, 实际 %d", calls)
	}
}

func TestRetryStopsWhenContextCancelled(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	errCh := make(chan error, 1)
	go func() {
		errCh <- policy.Do(ctx, func(ctx context.Context) error {
			calls++
			return errors.New("transient")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("取消后应返回 context 错误: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("retry 未随 context 取消退出")
	}
	if calls == 0 {
		t.Fatal("取消前应至少尝试一次")
	}
}
