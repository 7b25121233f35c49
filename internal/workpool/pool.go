// Package workpool runs batches of independent tasks with bounded
// concurrency. A Pool is constructed by the caller for each batch and
// carries no global state.
package workpool

import (
	"context"
	"errors"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultIOWorkers bounds pools whose tasks mostly wait on file I/O.
const DefaultIOWorkers = 32

// DefaultCPUWorkers bounds pools whose tasks are compute bound.
var DefaultCPUWorkers = runtime.NumCPU()

// Outcome is the successful result of a task.
type Outcome int

const (
	// Done means the task produced its output.
	Done Outcome = iota
	// AlreadyDone means the task's output already existed and nothing was
	// recomputed.
	AlreadyDone
)

func (o Outcome) String() string {
	if o == AlreadyDone {
		return "already_done"
	}
	return "done"
}

// Task is one unit of work. ID is used in logs and skip diagnostics.
type Task struct {
	ID  string
	Run func(ctx context.Context) (Outcome, error)
}

// SkipError marks a per-item fault. The pool logs it, records it in the
// report and keeps going.
type SkipError struct {
	Err error
}

func (e *SkipError) Error() string { return e.Err.Error() }

func (e *SkipError) Unwrap() error { return e.Err }

// Skip wraps err as a skip-with-warning fault. Skip(nil) is nil.
func Skip(err error) error {
	if err == nil {
		return nil
	}
	return &SkipError{Err: err}
}

// IsSkip reports whether err (or any error in its chain) is a SkipError.
func IsSkip(err error) bool {
	var se *SkipError
	return errors.As(err, &se)
}

// Report summarises a batch.
type Report struct {
	Total       int
	Done        int
	AlreadyDone int
	// Skipped holds "<task id>: <error>" for each skipped task, sorted.
	Skipped []string
	Elapsed time.Duration
}

// Finished returns the number of tasks that ran to a terminal state.
func (r Report) Finished() int {
	return r.Done + r.AlreadyDone + len(r.Skipped)
}

// Pool executes tasks with at most Capacity running at once.
type Pool struct {
	name     string
	capacity int

	// OnProgress, if set, is called after every finished task with the
	// finished and total counts. Calls are serialised.
	OnProgress func(finished, total int)
}

// New returns a pool named name (used in logs) running at most capacity
// tasks concurrently. A capacity below one is raised to one.
func New(name string, capacity int) *Pool {
	return &Pool{name: name, capacity: max(1, capacity)}
}

// Name returns the pool's name.
func (p *Pool) Name() string { return p.name }

// Capacity returns the concurrency bound.
func (p *Pool) Capacity() int { return p.capacity }

// Run executes tasks and blocks until every started task has returned.
//
// The first task error that is not a SkipError cancels the batch: tasks that
// have not started are never run and the error is returned. Outputs written
// by tasks that already finished are left in place. Cancelling ctx stops
// scheduling in the same way and Run returns the context error.
func (p *Pool) Run(ctx context.Context, tasks []Task) (Report, error) {
	start := time.Now()
	rep := Report{Total: len(tasks)}
	log := zap.L().With(
		zap.String("component", "workpool"),
		zap.String("pool", p.name),
	)
	if len(tasks) == 0 {
		return rep, ctx.Err()
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.capacity)

	var mu sync.Mutex
	finished, nextPct := 0, 10

	for _, t := range tasks {
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gCtx.Err() != nil {
				return nil
			}
			outcome, err := t.Run(gCtx)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && outcome == AlreadyDone:
				rep.AlreadyDone++
			case err == nil:
				rep.Done++
			case IsSkip(err):
				log.Warn("task skipped", zap.String("task", t.ID), zap.Error(err))
				rep.Skipped = append(rep.Skipped, t.ID+": "+err.Error())
			default:
				return eris.Wrapf(err, "workpool %s: task %s", p.name, t.ID)
			}

			finished++
			if pct := finished * 100 / rep.Total; pct >= nextPct {
				log.Info("progress",
					zap.Int("finished", finished),
					zap.Int("total", rep.Total),
					zap.Int("percent", pct),
				)
				nextPct = (pct/10 + 1) * 10
			}
			if p.OnProgress != nil {
				p.OnProgress(finished, rep.Total)
			}
			return nil
		})
	}

	err := g.Wait()
	slices.Sort(rep.Skipped)
	rep.Elapsed = time.Since(start)
	if err != nil {
		return rep, err
	}
	if err := ctx.Err(); err != nil {
		return rep, eris.Wrapf(err, "workpool %s: cancelled after %d of %d tasks", p.name, rep.Finished(), rep.Total)
	}

	log.Info("batch complete",
		zap.Int("done", rep.Done),
		zap.Int("already_done", rep.AlreadyDone),
		zap.Int("skipped", len(rep.Skipped)),
		zap.Duration("elapsed", rep.Elapsed),
	)
	return rep, nil
}
