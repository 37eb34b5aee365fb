package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPollImmediateTrue(t *testing.T) {
	var calls int
	ok, err := Poll(context.Background(), time.Hour, time.Hour, func(ctx context.Context) (bool, error) {
		calls++
		return true, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected condition to be observed")
	}
	if calls != 1 {
		t.Errorf("expected 1 predicate call, got %d", calls)
	}
}

func TestPollZeroDeadline(t *testing.T) {
	var calls int
	ok, err := Poll(context.Background(), time.Millisecond, 0, func(ctx context.Context) (bool, error) {
		calls++
		return true, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected false with zero deadline")
	}
	if calls != 0 {
		t.Errorf("expected no predicate calls with zero deadline, got %d", calls)
	}
}

func TestPollDeadlineElapses(t *testing.T) {
	ok, err := Poll(context.Background(), 5*time.Millisecond, 30*time.Millisecond, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected deadline to elapse without the condition")
	}
}

func TestPollEventuallyTrue(t *testing.T) {
	var calls int
	ok, err := Poll(context.Background(), 5*time.Millisecond, time.Second, func(ctx context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected condition to eventually be observed")
	}
}

func TestPollPredicateError(t *testing.T) {
	wantErr := errors.New("status fetch failed")
	ok, err := Poll(context.Background(), time.Millisecond, time.Second, func(ctx context.Context) (bool, error) {
		return false, wantErr
	})
	if ok {
		t.Error("expected condition not observed on error")
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("expected predicate error, got: %v", err)
	}
}

func TestPollCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err := Poll(ctx, 5*time.Millisecond, time.Hour, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation did not abort the poll promptly")
	}
}
