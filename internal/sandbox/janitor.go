package sandbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sergioferragut/data-chat/internal/event"
	"github.com/sergioferragut/data-chat/internal/logging"
)

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned int
	Removed int
	Failed  int
}

// Janitor removes exited sandboxes under a prefix. It never touches running
// handles, so an idle but running orphan survives until a restart.
type Janitor struct {
	runtime     Runtime
	prefix      string
	bus         *event.Bus
	concurrency int

	once sync.Once
	ran  atomic.Bool
}

// NewJanitor creates a janitor. concurrency bounds parallel removals; values
// below 1 mean 4.
func NewJanitor(runtime Runtime, prefix string, concurrency int, bus *event.Bus) *Janitor {
	if concurrency < 1 {
		concurrency = 4
	}
	return &Janitor{
		runtime:     runtime,
		prefix:      prefix,
		bus:         bus,
		concurrency: concurrency,
	}
}

// RunOnce sweeps on the first call and does nothing afterwards. Concurrent
// first callers block until the single sweep finishes.
func (j *Janitor) RunOnce(ctx context.Context) {
	j.once.Do(func() {
		j.Sweep(ctx)
		j.ran.Store(true)
	})
}

// Ran reports whether the startup sweep has completed.
func (j *Janitor) Ran() bool {
	return j.ran.Load()
}

// Sweep lists handles under the prefix and removes the exited and dead ones.
// Errors are logged and never stop the sweep.
func (j *Janitor) Sweep(ctx context.Context) SweepResult {
	var res SweepResult

	handles, err := j.runtime.List(ctx, j.prefix)
	if err != nil {
		logging.Warn().Err(err).Str("prefix", j.prefix).Msg("sandbox sweep: list failed")
		return res
	}
	res.Scanned = len(handles)

	var removed, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(j.concurrency)
	for _, h := range handles {
		if !h.Status.Reclaimable() {
			continue
		}
		g.Go(func() error {
			if err := j.runtime.Remove(ctx, h.Name); err != nil {
				failed.Add(1)
				logging.Warn().Err(err).Str("sandbox", h.Name).Msg("sandbox sweep: remove failed")
				return nil
			}
			removed.Add(1)
			logging.Info().Str("sandbox", h.Name).Str("status", h.Status.String()).Msg("removed exited sandbox")
			j.publish(event.Event{
				Type: event.SandboxRemoved,
				Data: event.SandboxRemovedData{Name: h.Name, Status: h.Status.String()},
			})
			return nil
		})
	}
	_ = g.Wait()

	res.Removed = int(removed.Load())
	res.Failed = int(failed.Load())
	logging.Info().
		Int("scanned", res.Scanned).
		Int("removed", res.Removed).
		Int("failed", res.Failed).
		Msg("sandbox sweep finished")
	j.publish(event.Event{
		Type: event.SandboxSweepDone,
		Data: event.SandboxSweepDoneData{Scanned: res.Scanned, Removed: res.Removed, Failed: res.Failed},
	})
	return res
}

// Run performs the startup sweep and then sweeps every interval until ctx
// ends. A non-positive interval only runs the startup sweep.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	j.RunOnce(ctx)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

func (j *Janitor) publish(e event.Event) {
	if j.bus != nil {
		j.bus.Publish(e)
	}
}
