package track

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dmoralesc/vigia/internal/classify"
	"github.com/dmoralesc/vigia/internal/model"
	"github.com/dmoralesc/vigia/internal/remote"
	"github.com/dmoralesc/vigia/internal/timer"
	"github.com/dmoralesc/vigia/internal/watch"
)

// harness wires a tracker to controllable fakes: a fake clock, an in-process
// feed, a submit call the test resolves by hand, and a render recorder.
type harness struct {
	clock  *timer.FakeClock
	timers *timer.Registry
	feed   *watch.Broker[model.Snapshot]

	submitResult chan error

	mu       sync.Mutex
	events   []RenderEvent
	finished chan string

	tracker *Tracker
}

func newHarness(t *testing.T, jobID string) *harness {
	t.Helper()
	h := &harness{
		clock:        timer.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		feed:         watch.NewBroker[model.Snapshot](),
		submitResult: make(chan error, 1),
		finished:     make(chan string, 1),
	}
	h.timers = timer.NewRegistry(h.clock)

	h.tracker = NewTracker(TrackerConfig{
		JobID: jobID,
		Submit: func(ctx context.Context) error {
			return <-h.submitResult
		},
		Feed:            h.feed,
		Timers:          h.timers,
		UploadTimeout:   10 * time.Minute,
		AnalysisTimeout: 900 * time.Second,
		Render: func(ev RenderEvent) {
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
		},
		OnFinish: func(status string) { h.finished <- status },
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h
}

func (h *harness) renderKinds() []RenderKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	kinds := make([]RenderKind, len(h.events))
	for i, ev := range h.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func (h *harness) eventAt(i int) RenderEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.events[i]
}

func (h *harness) waitFinished(t *testing.T) string {
	t.Helper()
	select {
	case status := <-h.finished:
		return status
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not finish")
		return ""
	}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func equalKinds(a, b []RenderKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestHappyPath(t *testing.T) {
	h := newHarness(t, "job-1")
	h.tracker.Start(context.Background())

	h.submitResult <- nil
	waitFor(t, "queued state", func() bool { return h.tracker.State() == model.StatusQueued })

	if !h.timers.Live("job-1", timer.KindAnalysis) {
		t.Fatal("analysis timer should be armed after submit success")
	}
	if h.timers.Live("job-1", timer.KindUpload) {
		t.Fatal("upload timer should be cancelled after submit success")
	}

	// t=5s: processing snapshot.
	h.clock.Advance(5 * time.Second)
	h.feed.Publish("job-1", model.Snapshot{Status: model.StatusProcessing})
	waitFor(t, "processing state", func() bool { return h.tracker.State() == model.StatusProcessing })

	// t=40s: done snapshot with a qualifying score.
	h.clock.Advance(35 * time.Second)
	result := &model.Result{Score: 20, Summary: "clean", Findings: []model.Finding{{RuleID: "r1", OK: true}}}
	h.feed.Publish("job-1", model.Snapshot{Status: model.StatusDone, Result: result})

	if status := h.waitFinished(t); status != model.StatusDone {
		t.Fatalf("final status = %q, want done", status)
	}

	want := []RenderKind{RenderQueued, RenderProcessing, RenderDone}
	if got := h.renderKinds(); !equalKinds(got, want) {
		t.Fatalf("render kinds = %v, want %v", got, want)
	}
	if donEv := h.eventAt(2); donEv.Result == nil || donEv.Result.Score != 20 {
		t.Errorf("done event result = %+v, want score 20", donEv.Result)
	}

	// The analysis timer was cancelled; pushing the clock way past its
	// original deadline must produce nothing.
	if h.timers.Live("job-1", timer.KindAnalysis) {
		t.Fatal("analysis timer still live after done")
	}
	h.clock.Advance(2000 * time.Second)
	if got := h.renderKinds(); !equalKinds(got, want) {
		t.Fatalf("render kinds after clock advance = %v, want unchanged %v", got, want)
	}
}

func TestDuplicateSnapshotsRenderOnce(t *testing.T) {
	h := newHarness(t, "job-1")
	h.tracker.Start(context.Background())
	h.submitResult <- nil
	waitFor(t, "queued state", func() bool { return h.tracker.State() == model.StatusQueued })

	// Duplicate queued and processing deliveries.
	h.feed.Publish("job-1", model.Snapshot{Status: model.StatusQueued})
	h.feed.Publish("job-1", model.Snapshot{Status: model.StatusProcessing})
	h.feed.Publish("job-1", model.Snapshot{Status: model.StatusProcessing})
	h.feed.Publish("job-1", model.Snapshot{Status: model.StatusQueued})
	h.feed.Publish("job-1", model.Snapshot{Status: model.StatusDone, Result: &model.Result{Score: 3, Summary: "meh"}})

	h.waitFinished(t)

	want := []RenderKind{RenderQueued, RenderProcessing, RenderDone}
	if got := h.renderKinds(); !equalKinds(got, want) {
		t.Fatalf("render kinds = %v, want %v", got, want)
	}
}

func TestAnalysisTimeout(t *testing.T) {
	h := newHarness(t, "job-1")
	h.tracker.Start(context.Background())
	h.submitResult <- nil
	waitFor(t, "analysis timer armed", func() bool { return h.timers.Live("job-1", timer.KindAnalysis) })

	// No snapshot ever arrives; the analysis timer fires at 900s.
	h.clock.Advance(900 * time.Second)

	if status := h.waitFinished(t); status != model.StatusTimedOut {
		t.Fatalf("final status = %q, want timed_out", status)
	}

	want := []RenderKind{RenderQueued, RenderTimeout}
	if got := h.renderKinds(); !equalKinds(got, want) {
		t.Fatalf("render kinds = %v, want %v", got, want)
	}
	ev := h.eventAt(1)
	if ev.TimerKind != timer.KindAnalysis {
		t.Errorf("timer kind = %q, want analysis", ev.TimerKind)
	}
	if ev.Category != classify.Timeout {
		t.Errorf("category = %q, want timeout", ev.Category)
	}

	// A snapshot arriving at 901s reaches a dead subscription and produces
	// no further callback.
	h.clock.Advance(time.Second)
	h.feed.Publish("job-1", model.Snapshot{Status: model.StatusDone, Result: &model.Result{Score: 20}})
	time.Sleep(20 * time.Millisecond)
	if got := h.renderKinds(); !equalKinds(got, want) {
		t.Fatalf("render kinds after late snapshot = %v, want unchanged %v", got, want)
	}
}

func TestUploadTimeoutBeatsLateSubmitSuccess(t *testing.T) {
	h := newHarness(t, "job-1")
	h.tracker.Start(context.Background())

	// Submission hangs; the upload timer fires first.
	h.clock.Advance(10 * time.Minute)

	if status := h.waitFinished(t); status != model.StatusUploadTimedOut {
		t.Fatalf("final status = %q, want upload_timed_out", status)
	}

	// The submit call finally succeeds; first-writer-wins, the result is
	// dropped.
	h.submitResult <- nil
	time.Sleep(20 * time.Millisecond)

	want := []RenderKind{RenderTimeout}
	if got := h.renderKinds(); !equalKinds(got, want) {
		t.Fatalf("render kinds = %v, want %v", got, want)
	}
	if ev := h.eventAt(0); ev.TimerKind != timer.KindUpload {
		t.Errorf("timer kind = %q, want upload", ev.TimerKind)
	}
	if h.tracker.State() != model.StatusUploadTimedOut {
		t.Errorf("state = %q, want upload_timed_out to stick", h.tracker.State())
	}
}

func TestSubmitFailureClassified(t *testing.T) {
	h := newHarness(t, "job-1")
	h.tracker.Start(context.Background())

	h.submitResult <- &remote.SubmitError{Status: 413, Body: "file exceeds limit"}

	if status := h.waitFinished(t); status != model.StatusError {
		t.Fatalf("final status = %q, want error", status)
	}

	ev := h.eventAt(0)
	if ev.Kind != RenderError {
		t.Fatalf("kind = %q, want error", ev.Kind)
	}
	if ev.Category != classify.PayloadTooLarge {
		t.Errorf("category = %q, want payload_too_large", ev.Category)
	}
	if h.timers.Live("job-1", timer.KindUpload) {
		t.Error("upload timer should be cancelled on terminal entry")
	}
}

func TestSubmitTransportFailureClassified(t *testing.T) {
	h := newHarness(t, "job-1")
	h.tracker.Start(context.Background())

	h.submitResult <- &remote.SubmitError{Transport: true, Err: errors.New("connection refused")}

	h.waitFinished(t)
	if ev := h.eventAt(0); ev.Category != classify.NetworkUnreachable {
		t.Errorf("category = %q, want network_unreachable", ev.Category)
	}
}

func TestSubmitNoSessionClassified(t *testing.T) {
	h := newHarness(t, "job-1")
	h.tracker.Start(context.Background())

	h.submitResult <- remote.ErrNoSession

	h.waitFinished(t)
	if ev := h.eventAt(0); ev.Category != classify.SessionExpired {
		t.Errorf("category = %q, want session_expired", ev.Category)
	}
}

func TestErrorSnapshotClassified(t *testing.T) {
	h := newHarness(t, "job-1")
	h.tracker.Start(context.Background())
	h.submitResult <- nil
	waitFor(t, "queued state", func() bool { return h.tracker.State() == model.StatusQueued })

	h.feed.Publish("job-1", model.Snapshot{Status: model.StatusError, Error: "worker ran out of memory"})

	if status := h.waitFinished(t); status != model.StatusError {
		t.Fatalf("final status = %q, want error", status)
	}
	ev := h.eventAt(1)
	if ev.Category != classify.ResourceExhausted {
		t.Errorf("category = %q, want resource_exhausted", ev.Category)
	}
	if ev.Raw != "worker ran out of memory" {
		t.Errorf("raw = %q", ev.Raw)
	}
}

func TestIncompleteResultIsDoneNotError(t *testing.T) {
	h := newHarness(t, "job-1")
	h.tracker.Start(context.Background())
	h.submitResult <- nil
	waitFor(t, "queued state", func() bool { return h.tracker.State() == model.StatusQueued })

	h.feed.Publish("job-1", model.Snapshot{Status: model.StatusDone, Result: &model.Result{}})

	if status := h.waitFinished(t); status != model.StatusDone {
		t.Fatalf("final status = %q, want done", status)
	}
	if ev := h.eventAt(1); ev.Kind != RenderIncomplete {
		t.Errorf("kind = %q, want incomplete", ev.Kind)
	}
}

func TestChannelErrorRendersConnectionFailure(t *testing.T) {
	h := newHarness(t, "job-1")
	h.tracker.Start(context.Background())
	h.submitResult <- nil
	waitFor(t, "queued state", func() bool { return h.tracker.State() == model.StatusQueued })

	h.feed.Fail("job-1", errors.New("connection lost"))

	if status := h.waitFinished(t); status != model.StatusError {
		t.Fatalf("final status = %q, want error", status)
	}
	ev := h.eventAt(1)
	if ev.Kind != RenderError {
		t.Fatalf("kind = %q, want error", ev.Kind)
	}
	if ev.Category != classify.NetworkUnreachable {
		t.Errorf("category = %q, want network_unreachable", ev.Category)
	}
	if h.timers.Live("job-1", timer.KindAnalysis) {
		t.Error("analysis timer should be cancelled on channel error")
	}
}

func TestCancelTearsDownWithoutRender(t *testing.T) {
	h := newHarness(t, "job-1")
	h.tracker.Start(context.Background())
	h.submitResult <- nil
	waitFor(t, "queued state", func() bool { return h.tracker.State() == model.StatusQueued })

	h.tracker.Cancel()

	if status := h.waitFinished(t); status != model.StatusCanceled {
		t.Fatalf("final status = %q, want canceled", status)
	}

	want := []RenderKind{RenderQueued}
	if got := h.renderKinds(); !equalKinds(got, want) {
		t.Fatalf("render kinds = %v, want %v (cancel renders nothing)", got, want)
	}
	if h.timers.Live("job-1", timer.KindAnalysis) || h.timers.Live("job-1", timer.KindUpload) {
		t.Error("timers should be cancelled on cancel")
	}

	// Late snapshot after cancel is dropped.
	h.feed.Publish("job-1", model.Snapshot{Status: model.StatusDone, Result: &model.Result{Score: 20}})
	time.Sleep(20 * time.Millisecond)
	if got := h.renderKinds(); !equalKinds(got, want) {
		t.Fatalf("render kinds after cancel = %v, want unchanged", got)
	}
}

// Terminal once means terminal forever: after done, every class of late input
// is dropped.
func TestTerminalIsFirstWriterWins(t *testing.T) {
	h := newHarness(t, "job-1")
	h.tracker.Start(context.Background())
	h.submitResult <- nil
	waitFor(t, "queued state", func() bool { return h.tracker.State() == model.StatusQueued })

	h.feed.Publish("job-1", model.Snapshot{Status: model.StatusDone, Result: &model.Result{Score: 20, Summary: "ok"}})
	h.waitFinished(t)

	h.tracker.Cancel()
	h.clock.Advance(time.Hour)
	h.feed.Publish("job-1", model.Snapshot{Status: model.StatusError, Error: "late"})
	time.Sleep(20 * time.Millisecond)

	want := []RenderKind{RenderQueued, RenderDone}
	if got := h.renderKinds(); !equalKinds(got, want) {
		t.Fatalf("render kinds = %v, want %v", got, want)
	}
	if h.tracker.State() != model.StatusDone {
		t.Errorf("state = %q, want done", h.tracker.State())
	}
}
