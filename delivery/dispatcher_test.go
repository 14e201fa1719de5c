package delivery

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcher_RunsAndWaits(t *testing.T) {
	d := NewDispatcher(context.Background(), quietLogger())

	var ran atomic.Int32
	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		d.Go(func(ctx context.Context) {
			<-release
			ran.Add(1)
		})
	}
	if d.Pending() != 3 {
		t.Errorf("Pending() = %d, want 3", d.Pending())
	}
	close(release)
	d.Wait()
	if ran.Load() != 3 || d.Pending() != 0 {
		t.Errorf("ran=%d pending=%d", ran.Load(), d.Pending())
	}
}

func TestDispatcher_CanceledDropsJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(ctx, quietLogger())
	cancel()

	if d.Go(func(context.Context) { t.Error("job ran after cancel") }) {
		t.Error("Go should report the job was dropped")
	}
	d.Wait()
}

func TestDispatcher_DrainTimeout(t *testing.T) {
	d := NewDispatcher(context.Background(), quietLogger())
	block := make(chan struct{})
	defer close(block)
	d.Go(func(context.Context) { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Drain(ctx); err == nil {
		t.Error("Drain should time out while a job is blocked")
	}
}
