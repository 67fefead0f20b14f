package track

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmoralesc/vigia/internal/classify"
	"github.com/dmoralesc/vigia/internal/model"
	"github.com/dmoralesc/vigia/internal/remote"
	"github.com/dmoralesc/vigia/internal/timer"
	"github.com/dmoralesc/vigia/internal/watch"
)

// eventBufferSize bounds the tracker inbox. Producers never block: once the
// tracker reaches a terminal state its inbox drains to nowhere.
const eventBufferSize = 16

type eventKind int

const (
	evSubmitResult eventKind = iota
	evSnapshot
	evTimer
	evChannelError
	evCancel
)

type event struct {
	kind      eventKind
	submitErr error
	snap      model.Snapshot
	timerKind timer.Kind
	chanErr   error
}

// TrackerConfig wires one tracker to its collaborators.
type TrackerConfig struct {
	JobID string
	// Submit performs the remote submission. Exactly one call is made, in its
	// own goroutine; its result is fed back into the state machine.
	Submit func(ctx context.Context) error
	Feed   *watch.Broker[model.Snapshot]
	Timers *timer.Registry
	// UploadTimeout bounds the submission phase; AnalysisTimeout bounds the
	// wait for a terminal snapshot after the analyzer accepted the job.
	UploadTimeout   time.Duration
	AnalysisTimeout time.Duration
	// Render receives exactly one event per meaningful transition, always
	// from the tracker's own goroutine.
	Render func(RenderEvent)
	// OnFinish runs once, after the terminal render event (if any), with the
	// final status. Caller-initiated cancellation reaches OnFinish without a
	// render event.
	OnFinish func(status string)
	Logger   *slog.Logger
}

// Tracker drives a single analysis from submission to a terminal state. All
// transition handling runs on one goroutine; inputs arrive as events. Once a
// terminal state is entered no later input mutates the job again.
type Tracker struct {
	cfg    TrackerConfig
	events chan event
	done   chan struct{}

	mu    sync.Mutex
	state string

	// Loop-owned; never touched outside Start and the run goroutine.
	uploadTimer   *timer.Handle
	analysisTimer *timer.Handle
	sub           *watch.Subscription[model.Snapshot]
	lastRendered  string
}

// NewTracker creates a tracker in the submitting state.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{
		cfg:    cfg,
		events: make(chan event, eventBufferSize),
		done:   make(chan struct{}),
		state:  model.StatusSubmitting,
	}
}

// Start arms the upload timer, launches the submission call, and begins
// processing events. The submission uses ctx; cancelling the tracker later
// does not abort an in-flight submission, it only discards the result.
func (t *Tracker) Start(ctx context.Context) {
	t.uploadTimer = t.cfg.Timers.Arm(t.cfg.JobID, timer.KindUpload, t.cfg.UploadTimeout, func() {
		t.post(event{kind: evTimer, timerKind: timer.KindUpload})
	})

	go func() {
		err := t.cfg.Submit(ctx)
		t.post(event{kind: evSubmitResult, submitErr: err})
	}()

	go t.run()
}

// State returns the current tracking status.
func (t *Tracker) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed once the tracker has reached a terminal state and finished
// its teardown.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Cancel requests caller-initiated teardown: unsubscribe and cancel both
// timers, without rendering. A tracker already terminal ignores it.
func (t *Tracker) Cancel() {
	t.post(event{kind: evCancel})
}

// post delivers an event unless the tracker has already torn down.
func (t *Tracker) post(ev event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func (t *Tracker) run() {
	defer close(t.done)
	for ev := range t.events {
		if t.handle(ev) {
			return
		}
	}
}

// handle processes one event and reports whether a terminal state was reached.
func (t *Tracker) handle(ev event) bool {
	switch ev.kind {
	case evSubmitResult:
		return t.onSubmitResult(ev.submitErr)
	case evSnapshot:
		return t.onSnapshot(ev.snap)
	case evTimer:
		return t.onTimer(ev.timerKind)
	case evChannelError:
		return t.onChannelError(ev.chanErr)
	case evCancel:
		t.teardown(model.StatusCanceled, nil)
		return true
	}
	return false
}

func (t *Tracker) onSubmitResult(err error) bool {
	// A late submit callback after the upload timer won the race is dropped;
	// the terminal state was already decided.
	if t.State() != model.StatusSubmitting {
		return false
	}

	if err != nil {
		cat, raw := classifySubmitError(err)
		t.teardown(model.StatusError, &RenderEvent{Kind: RenderError, Category: cat, Raw: raw})
		return true
	}

	t.uploadTimer.Cancel()
	t.setState(model.StatusQueued)
	t.render(RenderEvent{Kind: RenderQueued})
	t.lastRendered = model.StatusQueued

	t.analysisTimer = t.cfg.Timers.Arm(t.cfg.JobID, timer.KindAnalysis, t.cfg.AnalysisTimeout, func() {
		t.post(event{kind: evTimer, timerKind: timer.KindAnalysis})
	})

	t.sub = t.cfg.Feed.Subscribe(t.cfg.JobID)
	go t.pump()

	return false
}

// pump forwards snapshot deliveries into the event loop. It runs until the
// subscription closes or the tracker tears down, and reports a channel-level
// failure at most once.
func (t *Tracker) pump() {
	for {
		select {
		case snap, ok := <-t.sub.C:
			if !ok {
				if err := t.sub.Err(); err != nil {
					t.post(event{kind: evChannelError, chanErr: err})
				}
				return
			}
			t.post(event{kind: evSnapshot, snap: snap})
		case <-t.done:
			return
		}
	}
}

func (t *Tracker) onSnapshot(snap model.Snapshot) bool {
	state := t.State()
	if state != model.StatusQueued && state != model.StatusProcessing {
		return false
	}

	switch snap.Status {
	case model.StatusQueued:
		// Duplicate of the state already shown; nothing to re-render.
		return false

	case model.StatusProcessing:
		if t.lastRendered == model.StatusProcessing {
			return false
		}
		t.setState(model.StatusProcessing)
		t.render(RenderEvent{Kind: RenderProcessing})
		t.lastRendered = model.StatusProcessing
		return false

	case model.StatusDone:
		ev := RenderEvent{Kind: RenderDone, Result: snap.Result}
		if snap.Result.Empty() {
			ev.Kind = RenderIncomplete
		}
		t.teardown(model.StatusDone, &ev)
		return true

	case model.StatusError:
		cat := classify.Classify(classify.Input{RawMessage: snap.Error})
		t.teardown(model.StatusError, &RenderEvent{Kind: RenderError, Category: cat, Raw: snap.Error})
		return true

	default:
		t.cfg.Logger.Warn("ignoring snapshot with unknown status",
			"job_id", t.cfg.JobID, "status", snap.Status)
		return false
	}
}

func (t *Tracker) onTimer(kind timer.Kind) bool {
	state := t.State()

	switch kind {
	case timer.KindUpload:
		if state != model.StatusSubmitting {
			return false
		}
		t.teardown(model.StatusUploadTimedOut, &RenderEvent{
			Kind:      RenderTimeout,
			TimerKind: timer.KindUpload,
			Category:  classify.Timeout,
			Raw:       fmt.Sprintf("no response from analyzer within %s", t.cfg.UploadTimeout),
		})
		return true

	case timer.KindAnalysis:
		if state != model.StatusQueued && state != model.StatusProcessing {
			return false
		}
		t.teardown(model.StatusTimedOut, &RenderEvent{
			Kind:      RenderTimeout,
			TimerKind: timer.KindAnalysis,
			Category:  classify.Timeout,
			Raw:       fmt.Sprintf("analysis produced no terminal status within %s", t.cfg.AnalysisTimeout),
		})
		return true
	}
	return false
}

func (t *Tracker) onChannelError(err error) bool {
	state := t.State()
	if state != model.StatusQueued && state != model.StatusProcessing {
		return false
	}

	cat := classify.Classify(classify.Input{TransportFailure: true, RawMessage: err.Error()})
	t.teardown(model.StatusError, &RenderEvent{Kind: RenderError, Category: cat, Raw: err.Error()})
	return true
}

// teardown enters the terminal state: render the terminal event (if any),
// then cancel both timers, unsubscribe, and notify the owner. The sequence
// runs atomically from the caller's perspective because it executes on the
// event loop.
func (t *Tracker) teardown(final string, ev *RenderEvent) {
	t.setState(final)

	t.uploadTimer.Cancel()
	t.analysisTimer.Cancel()
	if t.sub != nil {
		t.sub.Unsubscribe()
	}

	if ev != nil {
		t.render(*ev)
	}
	if t.cfg.OnFinish != nil {
		t.cfg.OnFinish(final)
	}
}

func (t *Tracker) setState(s string) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Tracker) render(ev RenderEvent) {
	ev.JobID = t.cfg.JobID
	if t.cfg.Render != nil {
		t.cfg.Render(ev)
	}
}

// classifySubmitError maps a submission failure to its category and raw text.
func classifySubmitError(err error) (classify.Category, string) {
	if errors.Is(err, remote.ErrNoSession) {
		return classify.SessionExpired, err.Error()
	}
	if se, ok := remote.AsSubmitError(err); ok {
		in := classify.Input{
			HTTPStatus:       se.Status,
			TransportFailure: se.Transport,
			RawMessage:       se.Body,
		}
		if se.Transport && se.Err != nil {
			in.RawMessage = se.Err.Error()
		}
		return classify.Classify(in), err.Error()
	}
	return classify.Classify(classify.Input{RawMessage: err.Error()}), err.Error()
}
