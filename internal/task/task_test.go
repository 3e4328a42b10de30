package task

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestStart_ReturnsGenuineError(t *testing.T) {
	boom := errors.New("boom")
	h := Start(context.Background(), func(context.Context) error { return boom })
	if err := h.Wait(); !errors.Is(err, boom) {
		t.Fatalf("Wait got=%v want=%v", err, boom)
	}
	if h.Cancelled() {
		t.Fatalf("finished task must not report cancelled")
	}
}

func TestCancel_IsSilent(t *testing.T) {
	started := make(chan struct{})
	h := Start(context.Background(), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return fmt.Errorf("fetch: %w", ctx.Err())
	})
	<-started
	h.Cancel()
	if err := h.Wait(); err != nil {
		t.Fatalf("cancelled task must not report an error, got %v", err)
	}
	if !h.Cancelled() {
		t.Fatalf("expected Cancelled()")
	}
	select {
	case <-h.Done():
	default:
		t.Fatalf("Done must be closed after Wait")
	}
}

func TestParentCancel_IsSilent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	h := Start(parent, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	cancel()
	if err := h.Wait(); err != nil {
		t.Fatalf("got=%v want nil", err)
	}
}

func TestErr_NonBlocking(t *testing.T) {
	release := make(chan struct{})
	h := Start(context.Background(), func(context.Context) error {
		<-release
		return errors.New("late")
	})
	if err := h.Err(); err != nil {
		t.Fatalf("running task Err got=%v want nil", err)
	}
	close(release)
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatalf("task did not finish")
	}
	if h.Err() == nil {
		t.Fatalf("expected error after completion")
	}
}

func TestNilHandle_Safe(t *testing.T) {
	var h *Handle
	h.Cancel()
	if err := h.Wait(); err != nil {
		t.Fatalf("nil handle Wait got=%v", err)
	}
}

func TestIsCancellation(t *testing.T) {
	if !IsCancellation(fmt.Errorf("x: %w", context.Canceled)) {
		t.Fatalf("wrapped Canceled must be a cancellation")
	}
	if IsCancellation(context.DeadlineExceeded) {
		t.Fatalf("deadline is a failure, not a cancellation")
	}
}
