package track

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dmoralesc/vigia/internal/model"
	"github.com/dmoralesc/vigia/internal/publish"
	"github.com/dmoralesc/vigia/internal/remote"
	"github.com/dmoralesc/vigia/internal/store"
	"github.com/dmoralesc/vigia/internal/timer"
	"github.com/dmoralesc/vigia/internal/watch"
)

// ErrNotTracking is returned when cancelling a job with no live tracker.
var ErrNotTracking = errors.New("analysis is not being tracked")

// Submitter hands a payload and its client-generated job id to the analyzer.
type Submitter interface {
	Submit(ctx context.Context, jobID, fileName string, payload io.Reader) error
}

// Options carries the engine's tunables.
type Options struct {
	ScoreThreshold  float64
	UploadTimeout   time.Duration
	AnalysisTimeout time.Duration
}

// Engine orchestrates analysis tracking: one tracker and one publish gate per
// job, persistence of every transition, and fan-out of render events.
type Engine struct {
	store     store.Store
	feed      *watch.Broker[model.Snapshot]
	events    *watch.Broker[RenderEvent]
	timers    *timer.Registry
	analyzer  Submitter
	publisher publish.Invoker
	creds     remote.CredentialProvider
	logger    *slog.Logger
	opts      Options

	mu   sync.Mutex
	jobs map[string]*trackedJob
	wg   sync.WaitGroup
}

type trackedJob struct {
	tracker *Tracker
	gate    *publish.Gate
}

// NewEngine creates an engine.
func NewEngine(
	s store.Store,
	feed *watch.Broker[model.Snapshot],
	timers *timer.Registry,
	analyzer Submitter,
	publisher publish.Invoker,
	creds remote.CredentialProvider,
	logger *slog.Logger,
	opts Options,
) *Engine {
	if opts.ScoreThreshold == 0 {
		opts.ScoreThreshold = model.DefaultScoreThreshold
	}
	return &Engine{
		store:     s,
		feed:      feed,
		events:    watch.NewBroker[RenderEvent](),
		timers:    timers,
		analyzer:  analyzer,
		publisher: publisher,
		creds:     creds,
		logger:    logger,
		opts:      opts,
		jobs:      make(map[string]*trackedJob),
	}
}

// Events returns the render-event fan-out for streaming consumers. Each job's
// topic closes after its terminal event.
func (e *Engine) Events() *watch.Broker[RenderEvent] {
	return e.events
}

// Ingest feeds a snapshot into the change feed, as the analyzer backend would.
// Snapshots for unknown jobs are ignored.
func (e *Engine) Ingest(jobID string, snap model.Snapshot) {
	e.feed.Publish(jobID, snap)
}

// Submit creates an analysis record and starts tracking it. It requires a
// current identity; the payload is owned by the engine from here on. The
// remote call runs asynchronously with the configured upload bound; the
// returned analysis is in the submitting state.
func (e *Engine) Submit(ctx context.Context, fileName string, payload []byte) (*model.Analysis, error) {
	identity, ok := e.creds.CurrentIdentity()
	if !ok {
		return nil, remote.ErrNoSession
	}

	a := model.NewAnalysis(identity.UID, fileName)
	if err := e.store.CreateAnalysis(ctx, a); err != nil {
		return nil, fmt.Errorf("create analysis: %w", err)
	}

	j := &trackedJob{
		gate: publish.NewGate(a.ID, e.publisher),
	}
	j.tracker = NewTracker(TrackerConfig{
		JobID: a.ID,
		Submit: func(ctx context.Context) error {
			return e.analyzer.Submit(ctx, a.ID, fileName, bytes.NewReader(payload))
		},
		Feed:            e.feed,
		Timers:          e.timers,
		UploadTimeout:   e.opts.UploadTimeout,
		AnalysisTimeout: e.opts.AnalysisTimeout,
		Render:          func(ev RenderEvent) { e.render(j, ev) },
		OnFinish:        func(status string) { e.finish(a.ID, status) },
		Logger:          e.logger,
	})

	e.mu.Lock()
	e.jobs[a.ID] = j
	e.mu.Unlock()

	e.wg.Add(1)
	// The submission must outlive the request that triggered it; caller
	// cancellation discards the result but never aborts the remote call.
	j.tracker.Start(context.Background())

	e.logger.Info("analysis submitted", "job_id", a.ID, "owner", identity.UID, "file", fileName)
	return a, nil
}

// Cancel tears down a live tracker: unsubscribe and cancel both timers. The
// in-flight submission, if any, completes and its result is discarded.
func (e *Engine) Cancel(jobID string) error {
	e.mu.Lock()
	j, ok := e.jobs[jobID]
	e.mu.Unlock()
	if !ok || j.tracker == nil {
		return ErrNotTracking
	}
	j.tracker.Cancel()
	return nil
}

// Publish invokes the secondary action for a done, qualifying analysis. For
// jobs no longer in memory the gate is restored from the store.
func (e *Engine) Publish(ctx context.Context, jobID string) (string, error) {
	j, err := e.jobFor(ctx, jobID)
	if err != nil {
		return "", err
	}

	return j.gate.Invoke(ctx, func(phase, link string) {
		e.persistPublish(jobID, phase, link)
		ev := RenderEvent{JobID: jobID}
		switch phase {
		case model.PhaseUploading:
			ev.Kind = RenderUploading
		case model.PhaseUploaded:
			ev.Kind = RenderUploaded
			ev.Link = link
		case model.PhaseEligible:
			// Failed upload returned the gate to eligible; no render event,
			// the failure itself is reported to the caller.
			return
		}
		renderEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
		e.events.Publish(jobID, ev)
	})
}

// jobFor finds the in-memory job or restores a gate from persisted state.
func (e *Engine) jobFor(ctx context.Context, jobID string) (*trackedJob, error) {
	e.mu.Lock()
	j, ok := e.jobs[jobID]
	e.mu.Unlock()
	if ok {
		return j, nil
	}

	a, err := e.store.GetAnalysis(ctx, jobID)
	if err != nil {
		return nil, err
	}

	phase := a.PublishPhase
	// An upload interrupted by restart never completed; it may be retried.
	if phase == model.PhaseUploading {
		phase = model.PhaseEligible
	}
	restored := &trackedJob{
		gate: publish.RestoreGate(jobID, e.publisher, phase, a.TargetLink),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if j, ok := e.jobs[jobID]; ok {
		return j, nil
	}
	e.jobs[jobID] = restored
	return restored, nil
}

// Wait blocks until every live tracker has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// render persists and fans out one tracker transition. It always runs on the
// tracker's event loop, so per-job ordering is preserved end to end.
func (e *Engine) render(j *trackedJob, ev RenderEvent) {
	ctx := context.Background()
	var err error

	switch ev.Kind {
	case RenderQueued:
		err = e.store.UpdateStatus(ctx, ev.JobID, model.StatusQueued)
	case RenderProcessing:
		err = e.store.UpdateStatus(ctx, ev.JobID, model.StatusProcessing)
	case RenderDone, RenderIncomplete:
		qualifies := ev.Result.Qualifies(e.opts.ScoreThreshold)
		err = e.store.UpdateResult(ctx, ev.JobID, ev.Result, qualifies)
	case RenderError:
		err = e.store.UpdateFailure(ctx, ev.JobID, model.StatusError, string(ev.Category), ev.Raw)
	case RenderTimeout:
		status := model.StatusTimedOut
		if ev.TimerKind == timer.KindUpload {
			status = model.StatusUploadTimedOut
		}
		err = e.store.UpdateFailure(ctx, ev.JobID, status, string(ev.Category), ev.Raw)
	}
	if err != nil {
		e.logger.Error("persist transition", "job_id", ev.JobID, "kind", ev.Kind, "error", err)
	}

	renderEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	e.events.Publish(ev.JobID, ev)

	// A qualifying done result unlocks the gate; eligibility renders after
	// the done event itself.
	if ev.Kind == RenderDone && publish.Evaluate(ev.Result, e.opts.ScoreThreshold) == model.PhaseEligible {
		if j.gate.Unlock() {
			e.persistPublish(ev.JobID, model.PhaseEligible, "")
			eligible := RenderEvent{JobID: ev.JobID, Kind: RenderEligible}
			renderEventsTotal.WithLabelValues(string(eligible.Kind)).Inc()
			e.events.Publish(ev.JobID, eligible)
		}
	}
}

// finish completes a job's lifecycle: persist caller cancellation (other
// terminal statuses were persisted by their render events), close the
// render-event topic, and release the tracker.
func (e *Engine) finish(jobID, status string) {
	if status == model.StatusCanceled {
		if err := e.store.UpdateStatus(context.Background(), jobID, model.StatusCanceled); err != nil {
			e.logger.Error("persist cancellation", "job_id", jobID, "error", err)
		}
	}

	jobsTerminalTotal.WithLabelValues(status).Inc()
	e.events.Close(jobID)

	e.mu.Lock()
	if j, ok := e.jobs[jobID]; ok {
		// The gate stays resident so a later publish call finds it; only the
		// tracker is released.
		j.tracker = nil
	}
	e.mu.Unlock()

	e.logger.Info("analysis finished", "job_id", jobID, "status", status)
	e.wg.Done()
}

func (e *Engine) persistPublish(jobID, phase, link string) {
	if err := e.store.UpdatePublish(context.Background(), jobID, phase, link); err != nil {
		e.logger.Error("persist publish phase", "job_id", jobID, "phase", phase, "error", err)
	}
}
