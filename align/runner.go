package align

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/mdobak/go-xerrors"

	"vocalign/marker"
	"vocalign/utils"
	"vocalign/wav"
)

// RunResult is the outcome of one asynchronous alignment run.
type RunResult struct {
	RunID   uuid.UUID
	Offset  SyncOffset
	Aligned wav.PCMAudio
	Err     error
}

// Runner executes alignment runs off the caller's thread. Each run is tagged
// with a fresh run ID; starting a new run cancels the previous one, and a
// result whose run ID is no longer current is dropped instead of delivered.
// Correlation is the dominant cost of the pipeline and must never block an
// interactive thread, which is the whole reason this type exists.
type Runner struct {
	mu      sync.Mutex
	current uuid.UUID
	cancel  context.CancelFunc
	results chan RunResult
}

// NewRunner returns a Runner ready to accept runs.
func NewRunner() *Runner {
	return &Runner{
		results: make(chan RunResult, 1),
	}
}

// Results delivers at most one result per run; superseded runs never emit.
func (r *Runner) Results() <-chan RunResult {
	return r.results
}

// Start begins a new alignment run and supersedes any run still in flight.
// It returns the run ID immediately; the outcome arrives on Results.
func (r *Runner) Start(ctx context.Context, refWithMarker, recorded wav.PCMAudio, spec marker.ChirpSpec, opts Options) uuid.UUID {
	runCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	runID := uuid.New()
	r.current = runID
	r.cancel = cancel
	r.mu.Unlock()

	go r.run(runCtx, runID, refWithMarker, recorded, spec, opts)
	return runID
}

// Stop cancels any in-flight run without starting a new one.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.current = uuid.Nil
}

func (r *Runner) run(ctx context.Context, runID uuid.UUID, refWithMarker, recorded wav.PCMAudio, spec marker.ChirpSpec, opts Options) {
	offset, err := ComputeSync(ctx, refWithMarker, recorded, spec, opts)

	result := RunResult{RunID: runID, Offset: offset, Err: err}
	if err == nil {
		result.Aligned = AlignRecording(recorded, offset)
	} else if !errors.Is(err, context.Canceled) {
		utils.GetLogger().ErrorContext(ctx, "alignment run failed",
			slog.String("runId", runID.String()),
			slog.Any("error", xerrors.New(err)))
	}

	r.mu.Lock()
	stale := r.current != runID
	r.mu.Unlock()
	if stale || ctx.Err() != nil {
		utils.GetLogger().InfoContext(ctx, "discarding superseded alignment result",
			slog.String("runId", runID.String()))
		return
	}

	select {
	case r.results <- result:
	case <-ctx.Done():
	}
}
