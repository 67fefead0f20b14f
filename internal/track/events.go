package track

import (
	"github.com/dmoralesc/vigia/internal/classify"
	"github.com/dmoralesc/vigia/internal/model"
	"github.com/dmoralesc/vigia/internal/timer"
)

// RenderKind tags a render event.
type RenderKind string

const (
	RenderQueued     RenderKind = "queued"
	RenderProcessing RenderKind = "processing"
	RenderDone       RenderKind = "done"
	// RenderIncomplete is the done state with an empty result: the analyzer
	// reported success but produced nothing to show. Not an error.
	RenderIncomplete RenderKind = "incomplete"
	RenderError      RenderKind = "error"
	RenderTimeout    RenderKind = "timeout"
	RenderEligible   RenderKind = "eligible"
	RenderUploading  RenderKind = "uploading"
	RenderUploaded   RenderKind = "uploaded"
)

// RenderEvent is the tagged union handed to the UI layer, one per meaningful
// transition. Only the fields relevant to the kind are populated.
type RenderEvent struct {
	JobID     string            `json:"job_id"`
	Kind      RenderKind        `json:"kind"`
	Result    *model.Result     `json:"result,omitempty"`
	Category  classify.Category `json:"category,omitempty"`
	Raw       string            `json:"raw_message,omitempty"`
	TimerKind timer.Kind        `json:"timer,omitempty"`
	Link      string            `json:"target_link,omitempty"`
}

// Hooks holds per-transition callbacks for callers that prefer them over
// consuming RenderEvents directly. Nil hooks are skipped.
type Hooks struct {
	OnQueued     func()
	OnProcessing func()
	OnDone       func(*model.Result)
	OnIncomplete func()
	OnError      func(classify.Category, string)
	OnTimeout    func(timer.Kind)
	OnEligible   func()
	OnUploading  func()
	OnUploaded   func(link string)
}

// Dispatch routes a render event to the matching hook.
func (h Hooks) Dispatch(ev RenderEvent) {
	switch ev.Kind {
	case RenderQueued:
		if h.OnQueued != nil {
			h.OnQueued()
		}
	case RenderProcessing:
		if h.OnProcessing != nil {
			h.OnProcessing()
		}
	case RenderDone:
		if h.OnDone != nil {
			h.OnDone(ev.Result)
		}
	case RenderIncomplete:
		if h.OnIncomplete != nil {
			h.OnIncomplete()
		}
	case RenderError:
		if h.OnError != nil {
			h.OnError(ev.Category, ev.Raw)
		}
	case RenderTimeout:
		if h.OnTimeout != nil {
			h.OnTimeout(ev.TimerKind)
		}
	case RenderEligible:
		if h.OnEligible != nil {
			h.OnEligible()
		}
	case RenderUploading:
		if h.OnUploading != nil {
			h.OnUploading()
		}
	case RenderUploaded:
		if h.OnUploaded != nil {
			h.OnUploaded(ev.Link)
		}
	}
}
