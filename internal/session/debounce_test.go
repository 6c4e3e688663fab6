package session

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
)

func TestDebounceFirstCallRunsImmediately(t *testing.T) {
	mClock := quartz.NewMock(t)
	d := NewDebounceThrottle(mClock, 300*time.Millisecond, 5*time.Second)
	defer d.Stop()

	calls := 0
	d.Debounce(func() { calls++ })

	if calls != 1 {
		t.Fatalf("expected immediate execution, got %d calls", calls)
	}
	if d.Pending() {
		t.Fatalf("expected no trailing execution after a single call")
	}
}

func TestDebounceBurstCoalesces(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	d := NewDebounceThrottle(mClock, 300*time.Millisecond, 5*time.Second)
	defer d.Stop()

	calls := 0
	fn := func() { calls++ }

	// Ten calls 50ms apart. The first runs immediately, the rest land
	// inside the throttle window and collapse into one trailing run.
	for i := 0; i < 10; i++ {
		d.Debounce(fn)
		mClock.Advance(50 * time.Millisecond).MustWait(ctx)
	}

	if calls != 1 {
		t.Fatalf("expected only the leading execution during the burst, got %d", calls)
	}
	if !d.Pending() {
		t.Fatalf("expected a trailing execution to be scheduled")
	}

	// 50ms already elapsed since the last call.
	mClock.Advance(250 * time.Millisecond).MustWait(ctx)

	if calls != 2 {
		t.Fatalf("expected exactly one trailing execution, got %d total calls", calls)
	}
	if d.Pending() {
		t.Fatalf("trailing timer should be cleared after firing")
	}
}

func TestDebounceReschedulesTrailingTimer(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	d := NewDebounceThrottle(mClock, 300*time.Millisecond, 5*time.Second)
	defer d.Stop()

	calls := 0
	fn := func() { calls++ }

	d.Debounce(fn) // immediate
	mClock.Advance(100 * time.Millisecond).MustWait(ctx)
	d.Debounce(fn) // schedules trailing at +300ms
	mClock.Advance(200 * time.Millisecond).MustWait(ctx)
	d.Debounce(fn) // pushes the trailing run back

	mClock.Advance(299 * time.Millisecond).MustWait(ctx)
	if calls != 1 {
		t.Fatalf("trailing run fired early, got %d calls", calls)
	}
	mClock.Advance(time.Millisecond).MustWait(ctx)
	if calls != 2 {
		t.Fatalf("expected trailing run 300ms after the last call, got %d calls", calls)
	}
}

func TestDebounceThrottleWindowReopens(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	d := NewDebounceThrottle(mClock, 300*time.Millisecond, 5*time.Second)
	defer d.Stop()

	calls := 0
	fn := func() { calls++ }

	d.Debounce(fn)
	if calls != 1 {
		t.Fatalf("expected leading execution, got %d", calls)
	}

	mClock.Advance(5 * time.Second).MustWait(ctx)

	d.Debounce(fn)
	if calls != 2 {
		t.Fatalf("expected immediate execution after the throttle window, got %d", calls)
	}
}

func TestDebounceFlushRunsPendingNow(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	d := NewDebounceThrottle(mClock, 300*time.Millisecond, 5*time.Second)
	defer d.Stop()

	calls := 0
	fn := func() { calls++ }

	d.Debounce(fn)
	mClock.Advance(50 * time.Millisecond).MustWait(ctx)
	d.Debounce(fn)

	d.Flush()
	if calls != 2 {
		t.Fatalf("expected flush to run the pending function, got %d calls", calls)
	}

	// The timer was cancelled; nothing else fires.
	mClock.Advance(time.Second).MustWait(ctx)
	if calls != 2 {
		t.Fatalf("expected no further execution after flush, got %d calls", calls)
	}
}

func TestDebounceStopCancelsPending(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	d := NewDebounceThrottle(mClock, 300*time.Millisecond, 5*time.Second)

	calls := 0
	fn := func() { calls++ }

	d.Debounce(fn)
	mClock.Advance(50 * time.Millisecond).MustWait(ctx)
	d.Debounce(fn)

	d.Stop()
	mClock.Advance(time.Second).MustWait(ctx)
	if calls != 1 {
		t.Fatalf("expected stop to drop the pending execution, got %d calls", calls)
	}
}
