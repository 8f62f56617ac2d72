package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDo_Success(t *testing.T) {
	cfg := Config{Attempts: 3, Delay: 10 * time.Millisecond}

	attempts := 0
	result, err := Do(context.Background(), cfg, func(ctx context.Context) (string, error) {
		attempts++
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result != "ok" {
		t.Errorf("expected ok, got %q", result)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestDo_SuccessOnThirdAttempt(t *testing.T) {
	cfg := Config{Attempts: 3, Delay: 10 * time.Millisecond}

	var errorCalls []int
	cfg.OnError = func(err error, attempt int) {
		errorCalls = append(errorCalls, attempt)
	}

	attempts := 0
	result, err := Do(context.Background(), cfg, func(ctx context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("transient failure")
		}
		return 42, nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result != 42 {
		t.Errorf("expected 42, got %d", result)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	// onError fires once per failed attempt, never for the success.
	if len(errorCalls) != 2 {
		t.Errorf("expected onError called twice, got %d", len(errorCalls))
	}
	if len(errorCalls) == 2 && (errorCalls[0] != 1 || errorCalls[1] != 2) {
		t.Errorf("expected attempt numbers [1 2], got %v", errorCalls)
	}
}

func TestDo_Exhausted(t *testing.T) {
	cfg := Config{Attempts: 3, Delay: 5 * time.Millisecond}

	testErr := errors.New("persistent failure")
	attempts := 0
	_, err := Do(context.Background(), cfg, func(ctx context.Context) (string, error) {
		attempts++
		return "", testErr
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *ExhaustedError, got %T", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("expected Attempts=3, got %d", exhausted.Attempts)
	}
	if !errors.Is(err, testErr) {
		t.Error("expected wrapped error to contain last error")
	}
}

func TestDo_PermanentAbortsImmediately(t *testing.T) {
	cfg := Config{Attempts: 5, Delay: 5 * time.Millisecond}

	testErr := errors.New("payload not a list")
	attempts := 0
	_, err := Do(context.Background(), cfg, func(ctx context.Context) (string, error) {
		attempts++
		return "", Permanent(testErr)
	})

	if attempts != 1 {
		t.Errorf("expected 1 attempt for permanent error, got %d", attempts)
	}
	if !errors.Is(err, testErr) {
		t.Errorf("expected original error, got %v", err)
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		t.Error("permanent error must not be wrapped in ExhaustedError")
	}
}

func TestDo_ContextCancelledBetweenAttempts(t *testing.T) {
	cfg := Config{Attempts: 3, Delay: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, cfg, func(ctx context.Context) (string, error) {
			attempts++
			return "", errors.New("fail")
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt before cancel, got %d", attempts)
	}
}

func TestDo_AttemptTimeoutIsRetried(t *testing.T) {
	cfg := Config{Attempts: 3, Delay: 0}

	attempts := 0
	result, err := Do(context.Background(), cfg, func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			// A per-attempt timeout surfaces as a wrapped deadline error
			// while the caller's context stays alive.
			return "", fmt.Errorf("bulk fetch: %w", context.DeadlineExceeded)
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("expected success after retried timeouts, got %v", err)
	}
	if result != "ok" {
		t.Errorf("expected 'ok', got %q", result)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestDo_CallerDeadlineAborts(t *testing.T) {
	cfg := Config{Attempts: 3, Delay: 0}

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	attempts := 0
	_, err := Do(ctx, cfg, func(ctx context.Context) (string, error) {
		attempts++
		return "", fmt.Errorf("bulk fetch: %w", context.DeadlineExceeded)
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt with an expired caller deadline, got %d", attempts)
	}
}

func TestDo_AttemptsFloor(t *testing.T) {
	cfg := Config{Attempts: 0, Delay: time.Millisecond}

	attempts := 0
	_, err := Do(context.Background(), cfg, func(ctx context.Context) (string, error) {
		attempts++
		return "", errors.New("fail")
	})

	if attempts != 1 {
		t.Errorf("expected attempts floor of 1, got %d", attempts)
	}
	if err == nil {
		t.Error("expected error")
	}
}

func TestHTTPError_IsRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{500, true},
		{503, true},
		{429, true},
		{408, true},
		{400, false},
		{404, false},
		{200, false},
	}

	for _, tt := range tests {
		e := &HTTPError{StatusCode: tt.status, Message: "test"}
		if got := e.IsRetryable(); got != tt.want {
			t.Errorf("IsRetryable(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
