package parallel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_RunsEveryTask(t *testing.T) {
	pool, err := NewWorkerPool(4)
	if err != nil {
		t.Fatal(err)
	}

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Submit(func() { atomic.AddInt64(&counter, 1) })
		}()
	}
	wg.Wait()
	pool.Close()

	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
	if pool.Submit(func() {}) {
		t.Error("Submit after Close should fail")
	}
	pool.Close()
}

func TestWorkerPool_SurvivesPanic(t *testing.T) {
	pool, _ := NewWorkerPool(1)
	var recovered atomic.Value
	pool.SetPanicHandler(func(v any) { recovered.Store(v) })

	var ran atomic.Bool
	pool.Submit(func() { panic("boom") })
	pool.Submit(func() { ran.Store(true) })
	pool.Close()

	if recovered.Load() != "boom" {
		t.Errorf("recovered = %v", recovered.Load())
	}
	if !ran.Load() {
		t.Error("worker died after a panic")
	}
}

func TestNewWorkerPool_Limits(t *testing.T) {
	if _, err := NewWorkerPool(MaxWorkers + 1); !errors.Is(err, ErrTooManyWorkers) {
		t.Errorf("error = %v, want ErrTooManyWorkers", err)
	}
	pool, err := NewWorkerPool(0)
	if err != nil || pool.workers != 1 {
		t.Errorf("zero workers: %v %v", pool, err)
	}
	pool.Close()
}

func TestForEach(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}
	out := make([]int, len(items))
	var inFlight, peak int64

	err := ForEach(context.Background(), 3, items, func(_ context.Context, i int, v int) error {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		out[i] = v * v
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range items {
		if out[i] != v*v {
			t.Errorf("out[%d] = %d", i, out[i])
		}
	}
	if peak > 3 {
		t.Errorf("peak concurrency %d exceeds 3 workers", peak)
	}
}

func TestForEach_Errors(t *testing.T) {
	sentinel := errors.New("bad item")
	err := ForEach(context.Background(), 2, []string{"a", "b", "c"}, func(_ context.Context, _ int, s string) error {
		switch s {
		case "b":
			return sentinel
		case "c":
			panic("c exploded")
		}
		return nil
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("error = %v, want sentinel", err)
	}
	var pe *PanicError
	if !errors.As(err, &pe) || pe.Value != "c exploded" {
		t.Errorf("error = %v, want PanicError", err)
	}

	if err := ForEach[int](context.Background(), 4, nil, nil); err != nil {
		t.Errorf("empty input error = %v", err)
	}
}

func TestForEach_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls int64
	err := ForEach(ctx, 2, []int{1, 2, 3}, func(context.Context, int, int) error {
		atomic.AddInt64(&calls, 1)
		return nil
	})
	if !errors.Is(err, context.Canceled) || calls != 0 {
		t.Errorf("err = %v calls = %d", err, calls)
	}
}
