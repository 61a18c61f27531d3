package parallel

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestRunInParallelCallsEveryItemExactlyOnce(t *testing.T) {
	t.Parallel()
	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}

	var mu sync.Mutex
	seen := make(map[int]bool)

	RunInParallel(items, 8, func(item, index int) {
		if item != index {
			t.Errorf("expected item %d at index %d", item, index)
		}
		mu.Lock()
		seen[index] = true
		mu.Unlock()
	})

	if len(seen) != len(items) {
		t.Fatalf("expected every index to be visited, got %d of %d", len(seen), len(items))
	}
}

func TestRunInParallelPanicsOnZeroBatch(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for a zero batch size")
		}
	}()
	RunInParallel([]int{1}, 0, func(int, int) {})
}

func TestBatchProcessorRunsEveryItemAndReportsWorker(t *testing.T) {
	t.Parallel()
	p := NewBatchProcessor[int](4)
	defer p.Close()

	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	var processed int64
	p.RunInParallel(items, func(item, index, worker int) {
		if item != index {
			t.Errorf("expected item %d at index %d", item, index)
		}
		atomic.AddInt64(&processed, 1)
	})

	if processed != int64(len(items)) {
		t.Fatalf("expected %d items processed, got %d", len(items), processed)
	}
}

func TestBatchProcessorReusesWorkersAcrossCalls(t *testing.T) {
	t.Parallel()
	p := NewBatchProcessor[int](2)
	defer p.Close()

	p.RunInParallel([]int{1, 2, 3}, func(int, int, int) {})
	p.RunInParallel([]int{4, 5}, func(int, int, int) {})
}

func TestPoolGetAllocatesViaNewFunc(t *testing.T) {
	t.Parallel()
	var allocations int
	pool := NewPool(func() *[]byte {
		allocations++
		buf := make([]byte, 16)
		return &buf
	})

	buf := pool.Get()
	pool.Put(buf)
	_ = pool.Get()

	if allocations < 1 {
		t.Fatal("expected at least one allocation")
	}
}
