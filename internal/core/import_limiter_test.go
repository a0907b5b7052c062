package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestImportLimiter_AcquireRelease(t *testing.T) {
	limiter := NewImportLimiter(2, time.Second)
	ctx := context.Background()

	if got := limiter.Available(); got != 2 {
		t.Errorf("initial Available = %d, want 2", got)
	}

	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if got := limiter.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}
	if got := limiter.Available(); got != 0 {
		t.Errorf("Available = %d, want 0", got)
	}

	limiter.Release()
	limiter.Release()

	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("final ActiveCount = %d, want 0", got)
	}
}

func TestImportLimiter_TimesOutWhenFull(t *testing.T) {
	limiter := NewImportLimiter(1, 80*time.Millisecond)
	ctx := context.Background()

	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer limiter.Release()

	start := time.Now()
	err := limiter.Acquire(ctx)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTooManyImports) {
		t.Errorf("Acquire() error = %v, want ErrTooManyImports", err)
	}
	if elapsed < 70*time.Millisecond {
		t.Errorf("timeout too fast: %v", elapsed)
	}
}

func TestImportLimiter_ContextCancellation(t *testing.T) {
	limiter := NewImportLimiter(1, 5*time.Second)

	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer limiter.Release()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- limiter.Acquire(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Acquire() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Error("Acquire did not return after context cancellation")
	}
}

func TestImportLimiter_NeverExceedsMax(t *testing.T) {
	const maxConcurrent = 3
	limiter := NewImportLimiter(maxConcurrent, time.Second)

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		maxObserved int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := limiter.Do(context.Background(), func() error {
				mu.Lock()
				if n := limiter.ActiveCount(); n > maxObserved {
					maxObserved = n
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				return nil
			})
			if err != nil {
				t.Errorf("Do() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if maxObserved > maxConcurrent {
		t.Errorf("observed %d concurrent imports, max %d", maxObserved, maxConcurrent)
	}
	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("final ActiveCount = %d, want 0", got)
	}
}

func TestImportLimiter_DoPropagatesError(t *testing.T) {
	limiter := NewImportLimiter(1, time.Second)
	want := errors.New("boom")

	if err := limiter.Do(context.Background(), func() error { return want }); !errors.Is(err, want) {
		t.Errorf("Do() error = %v, want %v", err, want)
	}
	if got := limiter.Available(); got != 1 {
		t.Errorf("Available after Do = %d, want 1", got)
	}
}

func TestImportLimiter_TryAcquire(t *testing.T) {
	limiter := NewImportLimiter(1, time.Second)

	if !limiter.TryAcquire() {
		t.Fatal("first TryAcquire should succeed")
	}
	if limiter.TryAcquire() {
		t.Error("second TryAcquire should fail")
		limiter.Release()
	}
	limiter.Release()

	if !limiter.TryAcquire() {
		t.Error("TryAcquire after Release should succeed")
	}
	limiter.Release()
}

func TestImportLimiter_CloseAndDrain(t *testing.T) {
	limiter := NewImportLimiter(2, time.Second)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	limiter.Close()

	if err := limiter.Acquire(context.Background()); !errors.Is(err, ErrLimiterClosed) {
		t.Errorf("Acquire after Close = %v, want ErrLimiterClosed", err)
	}
	if limiter.TryAcquire() {
		t.Error("TryAcquire after Close should fail")
	}
	if !limiter.Status().Closed {
		t.Error("Status().Closed = false, want true")
	}

	drained := make(chan error, 1)
	go func() { drained <- limiter.WaitForDrain(context.Background()) }()

	select {
	case <-drained:
		t.Fatal("WaitForDrain returned with an import in flight")
	case <-time.After(60 * time.Millisecond):
	}

	limiter.Release()

	select {
	case err := <-drained:
		if err != nil {
			t.Errorf("WaitForDrain() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Error("WaitForDrain did not complete after release")
	}
}

func TestImportLimiter_WaitForDrainContextCancelled(t *testing.T) {
	limiter := NewImportLimiter(1, time.Second)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer limiter.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := limiter.WaitForDrain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForDrain() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestImportLimiter_DefaultValues(t *testing.T) {
	limiter := NewImportLimiter(0, 0)

	if got := limiter.MaxConcurrent(); got != DefaultMaxConcurrentImports {
		t.Errorf("MaxConcurrent = %d, want %d", got, DefaultMaxConcurrentImports)
	}
	if limiter.maxWait != DefaultMaxWaitTime {
		t.Errorf("maxWait = %v, want %v", limiter.maxWait, DefaultMaxWaitTime)
	}
}
