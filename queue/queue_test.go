package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/waffletower/invokeai-graph/queue"
)

func TestMemQueue_PutGet(t *testing.T) {
	q := queue.NewMemQueue(1)
	ctx := context.Background()

	item := &queue.Item{StateID: "s1", InvocationID: "n1"}
	if err := q.Put(ctx, item); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := q.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.StateID != "s1" || got.InvocationID != "n1" {
		t.Fatalf("Get = %+v, want StateID=s1 InvocationID=n1", got)
	}
}

func TestMemQueue_CloseDrainsPending(t *testing.T) {
	q := queue.NewMemQueue(2)
	ctx := context.Background()

	if err := q.Put(ctx, &queue.Item{StateID: "s1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	q.Close()

	item, err := q.Get(ctx)
	if err != nil {
		t.Fatalf("Get after Close: %v", err)
	}
	if item == nil || item.StateID != "s1" {
		t.Fatalf("Get after Close = %+v, want the pending item", item)
	}

	item, err = q.Get(ctx)
	if err != nil {
		t.Fatalf("Get after drain: %v", err)
	}
	if item != nil {
		t.Fatalf("Get after drain = %+v, want nil", item)
	}
}

func TestMemQueue_PutAfterCloseFails(t *testing.T) {
	q := queue.NewMemQueue(1)
	q.Close()

	err := q.Put(context.Background(), &queue.Item{StateID: "s1"})
	if !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("Put after Close error = %v, want ErrClosed", err)
	}
}

func TestMemQueue_GetRespectsContextCancellation(t *testing.T) {
	q := queue.NewMemQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Get(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Get error = %v, want context.DeadlineExceeded", err)
	}
}

func TestMemQueue_CloseIsIdempotent(t *testing.T) {
	q := queue.NewMemQueue(1)
	q.Close()
	q.Close()
}
