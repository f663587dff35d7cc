package render

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/davidkant/rpp/internal/sample"
)

// Groups partitions n items, in order, into [start, end) ranges of at most
// size items.
func Groups(n, size int) [][2]int {
	if n <= 0 || size <= 0 {
		return nil
	}
	groups := make([][2]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		groups = append(groups, [2]int{start, min(start+size, n)})
	}
	return groups
}

// BatchRender renders samples batchSize at a time. Every render of a group
// is triggered, then BatchRender waits until all of them have resolved
// before starting the next group. onDone, if set, runs once per resolved
// render from the render's continuation goroutine and may be called
// concurrently.
//
// A send failure stops further launches; renders already triggered in the
// group are waited for and the error is returned with the partial results.
func (o *Orchestrator) BatchRender(ctx context.Context, samples []*sample.Sample, batchSize int, onDone func(index int, res Result)) ([]Result, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	for i, s := range samples {
		if s == nil {
			return nil, fmt.Errorf("batch sample %d is nil", i)
		}
	}

	var mu sync.Mutex
	results := make([]Result, len(samples))
	snapshot := func() []Result {
		mu.Lock()
		defer mu.Unlock()
		return append([]Result(nil), results...)
	}

	for gi, group := range Groups(len(samples), batchSize) {
		var wg sync.WaitGroup
		var launchErr error
		for i := group[0]; i < group[1]; i++ {
			index := i
			wg.Add(1)
			_, err := o.RenderAndDo(ctx, samples[i], func(res Result) {
				defer wg.Done()
				mu.Lock()
				results[index] = res
				mu.Unlock()
				if onDone != nil {
					onDone(index, res)
				}
			})
			if err != nil {
				wg.Done()
				mu.Lock()
				results[index] = Result{RenderID: samples[i].RenderParams.RenderID, Sample: *samples[i], Err: err}
				mu.Unlock()
				launchErr = err
				break
			}
		}

		o.log.Info("waiting for batch group",
			slog.String("batch_id", BatchID(ctx)),
			slog.Int("group", gi),
			slog.Int("start", group[0]),
			slog.Int("end", group[1]),
		)
		if err := waitGroup(ctx, &wg); err != nil {
			return snapshot(), err
		}
		if launchErr != nil {
			return snapshot(), launchErr
		}
	}
	return snapshot(), nil
}

// waitGroup waits on wg unless ctx ends first.
func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
