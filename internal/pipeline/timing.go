package pipeline

import (
	"context"
	"sync"
	"time"
)

type timingKey struct{}

type timingInfo struct {
	stage string
	start time.Time
}

// timingTracker collects stage durations and forwards them to an observer.
type timingTracker struct {
	mu       sync.Mutex
	timings  map[string]time.Duration
	observer func(stage string, d time.Duration)
	now      func() time.Time
}

func newTimingTracker(observer func(stage string, d time.Duration)) *timingTracker {
	return &timingTracker{
		timings:  make(map[string]time.Duration),
		observer: observer,
		now:      time.Now,
	}
}

func (tt *timingTracker) StartTiming(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, timingKey{}, timingInfo{stage: stage, start: tt.now()})
}

func (tt *timingTracker) EndTiming(ctx context.Context) time.Duration {
	info, ok := ctx.Value(timingKey{}).(timingInfo)
	if !ok {
		return 0
	}
	d := tt.now().Sub(info.start)

	tt.mu.Lock()
	tt.timings[info.stage] += d
	tt.mu.Unlock()

	if tt.observer != nil {
		tt.observer(info.stage, d)
	}
	return d
}

func (tt *timingTracker) Timings() map[string]time.Duration {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	out := make(map[string]time.Duration, len(tt.timings))
	for k, v := range tt.timings {
		out[k] = v
	}
	return out
}
