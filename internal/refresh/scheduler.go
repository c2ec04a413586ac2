package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/interpretive-systems/branchview/internal/gitx"
	"github.com/interpretive-systems/branchview/internal/status"
)

// Source names what triggered a refresh.
type Source string

const (
	SourceStartup      Source = "startup"
	SourceFileWatcher  Source = "file-watcher"
	SourceBranchSwitch Source = "branch-switch"
	SourceMerge        Source = "merge"
	SourceManual       Source = "manual"
)

// Computer produces a status map for a resolved source ref.
type Computer interface {
	Compute(ctx context.Context, sourceRef string) (status.Map, error)
}

// BranchResolver is the slice of the git client the preflight check needs.
type BranchResolver interface {
	BranchLocation(ctx context.Context, name string) (gitx.BranchLocation, error)
}

// BranchNotFoundError reports that the configured source branch exists
// neither locally nor on any remote. No git queries were attempted; the
// caller should offer re-selection or a retry after fetch.
type BranchNotFoundError struct {
	Branch string
}

func (e *BranchNotFoundError) Error() string {
	return fmt.Sprintf("branch %q not found locally or on any remote", e.Branch)
}

// Scheduler collapses overlapping refresh triggers into one in-flight
// computation and owns the published status map. Concurrent callers join
// the running computation and receive its result; sequential calls each
// compute fresh.
type Scheduler struct {
	comp     Computer
	branches BranchResolver
	metrics  *Metrics
	log      *zap.Logger

	mu       sync.Mutex
	inflight *flight
	branch   string
	current  status.Map
	subs     map[int]func(status.Map)
	nextSub  int
}

type flight struct {
	done chan struct{}
	err  error
}

func NewScheduler(comp Computer, branches BranchResolver, branch string, metrics *Metrics, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Scheduler{
		comp:     comp,
		branches: branches,
		metrics:  metrics,
		log:      log,
		branch:   branch,
		subs:     map[int]func(status.Map){},
	}
}

// Refresh recomputes the status map. If a computation is already in
// flight the call joins it: no second computation starts, the dedup
// counter increments, and the caller gets the shared result. The
// in-flight slot clears unconditionally, on failure too, so the next
// call never deduplicates against dead work.
func (s *Scheduler) Refresh(ctx context.Context, src Source) error {
	s.metrics.request(src)

	s.mu.Lock()
	if f := s.inflight; f != nil {
		s.mu.Unlock()
		s.metrics.deduplicated()
		select {
		case <-f.done:
			return f.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	s.inflight = f
	s.mu.Unlock()

	err := s.runOnce(ctx, src)

	s.mu.Lock()
	s.inflight = nil
	s.mu.Unlock()
	f.err = err
	close(f.done)
	return err
}

func (s *Scheduler) runOnce(ctx context.Context, src Source) error {
	branch := s.SourceBranch()

	// Validate the branch before any expensive git work so a missing
	// branch surfaces as a recoverable condition, not a cryptic diff
	// failure.
	loc, err := s.branches.BranchLocation(ctx, branch)
	if err != nil {
		s.log.Error("branch lookup failed", zap.String("source", string(src)),
			zap.String("branch", branch), zap.Error(err))
		return err
	}
	ref := branch
	if !loc.Local {
		if loc.RemoteRef == "" {
			return &BranchNotFoundError{Branch: branch}
		}
		ref = loc.RemoteRef
	}

	start := time.Now()
	m, err := s.comp.Compute(ctx, ref)
	if err != nil {
		// Previous published map stays intact; the UI keeps showing
		// last-known-good state.
		s.log.Error("status computation failed", zap.String("source", string(src)),
			zap.String("ref", ref), zap.Error(err))
		return err
	}
	s.metrics.observe(time.Since(start).Seconds())

	s.mu.Lock()
	s.current = m
	subs := make([]func(status.Map), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	// Exactly one notification per successful refresh. File and
	// directory stages both completed inside Compute; subscribers never
	// see a half-updated cycle.
	for _, fn := range subs {
		fn(m)
	}
	return nil
}

// Current returns the published map. Callers must treat it as read-only.
func (s *Scheduler) Current() status.Map {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe registers fn to run once per successful refresh. The
// returned handle unsubscribes.
func (s *Scheduler) Subscribe(fn func(status.Map)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// SourceBranch returns the configured comparison branch.
func (s *Scheduler) SourceBranch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.branch
}

// SetSourceBranch switches the comparison branch; the caller triggers
// the follow-up refresh.
func (s *Scheduler) SetSourceBranch(name string) {
	s.mu.Lock()
	s.branch = name
	s.mu.Unlock()
}

// Metrics exposes the process-lifetime counters.
func (s *Scheduler) Metrics() Snapshot {
	return s.metrics.Snapshot()
}
